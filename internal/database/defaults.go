package database

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
)

// LocalUserID derives the stable id used for the single local user of the CLI.
func LocalUserID(email string) string {
	key := strings.ToLower(strings.TrimSpace(email))
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("user:"+key)).String()
}

// SeedDefaults ensures the local user row exists and returns its id.
// It is idempotent and safe to run on every startup.
func SeedDefaults(ctx context.Context, db *sql.DB, email, name string) (string, error) {
	id := LocalUserID(email)
	now := Now()
	_, err := db.ExecContext(ctx, `
	INSERT INTO users(id, email, name, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING
	`, id, strings.ToLower(strings.TrimSpace(email)), name, now, now)
	if err != nil {
		return "", err
	}
	return id, nil
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// busyTimeoutMS bounds how long a writer waits on the file lock before the
// driver reports SQLITE_BUSY.
const busyTimeoutMS = 5000

// dsn builds the go-sqlite3 connection string for the order store. Foreign
// keys are enforced so order lineage and jobs cannot point at missing
// merchants or users.
func dsn(path string) string {
	q := url.Values{}
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", fmt.Sprint(busyTimeoutMS))
	return "file:" + path + "?" + q.Encode()
}

// Open returns a handle on the trackable store at path. Writes go through a
// single connection: reconciliation relies on SQLite serializing them.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

// WithTx runs fn in a transaction. The transaction is rolled back when fn
// returns an error and committed otherwise.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Now is the clock used for created_at/updated_at columns: UTC at second
// precision, matching what CURRENT_TIMESTAMP stores.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

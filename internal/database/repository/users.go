package repository

import (
	"context"
	"database/sql"
)

// UserRepo reads user rows.
type UserRepo struct{ db DBTX }

func NewUserRepo(db DBTX) *UserRepo { return &UserRepo{db: db} }

func (r *UserRepo) Get(ctx context.Context, id string) (*User, error) {
	var u User
	var name sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT id, email, name, created_at, updated_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &name, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	u.Name = name.String
	return &u, nil
}

package repository

import (
	"context"
	"database/sql"
	"time"
)

// SourceRepo tracks raw inputs so a message or image is reconciled at most once.
type SourceRepo struct{ db DBTX }

func NewSourceRepo(db DBTX) *SourceRepo { return &SourceRepo{db: db} }

const sourceColumns = `id, user_id, source_type, source_key, email_subject, email_from, email_date,
 image_url, status, processed, order_id, created_at, updated_at`

// Insert adds a source row. It returns false without error when a row for
// (user, type, key) already exists.
func (r *SourceRepo) Insert(ctx context.Context, s Source) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
	INSERT OR IGNORE INTO sources(`+sourceColumns+`)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.UserID, s.SourceType, s.SourceKey, s.EmailSubject, s.EmailFrom, s.EmailDate,
		s.ImageURL, s.Status, boolInt(s.Processed), s.OrderID, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SourceRepo) GetByKey(ctx context.Context, userID string, sourceType SourceType, key string) (*Source, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT `+sourceColumns+` FROM sources WHERE user_id = ? AND source_type = ? AND source_key = ?
	`, userID, sourceType, key)
	var s Source
	err := row.Scan(&s.ID, &s.UserID, &s.SourceType, &s.SourceKey, &s.EmailSubject, &s.EmailFrom, &s.EmailDate,
		&s.ImageURL, &s.Status, &s.Processed, &s.OrderID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// IsProcessed reports whether the keyed source has already produced a result.
func (r *SourceRepo) IsProcessed(ctx context.Context, userID string, sourceType SourceType, key string) (bool, error) {
	var processed bool
	err := r.db.QueryRowContext(ctx, `
	SELECT processed FROM sources WHERE user_id = ? AND source_type = ? AND source_key = ?
	`, userID, sourceType, key).Scan(&processed)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return processed, err
}

// MarkProcessed records the outcome of a source. orderID may be nil.
func (r *SourceRepo) MarkProcessed(ctx context.Context, userID string, sourceType SourceType, key, status string, orderID *string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE sources SET status = ?, processed = 1, order_id = coalesce(?, order_id), updated_at = ?
	WHERE user_id = ? AND source_type = ? AND source_key = ?
	`, status, orderID, now, userID, sourceType, key)
	return err
}

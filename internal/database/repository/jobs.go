package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// JobRepo persists job bookkeeping.
type JobRepo struct{ db DBTX }

func NewJobRepo(db DBTX) *JobRepo { return &JobRepo{db: db} }

func (r *JobRepo) Insert(ctx context.Context, j Job) error {
	in, err := encodeJSON(nonNilMap(j.InputData))
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
	INSERT INTO jobs(id, user_id, job_type, status, input_data, output_data, retry_count, task_name, queued_at, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, '{}', ?, ?, ?, ?, ?)
	`, j.ID, j.UserID, j.JobType, j.Status, in, j.RetryCount, j.TaskName, j.QueuedAt, j.CreatedAt, j.UpdatedAt)
	return err
}

func (r *JobRepo) MarkStarted(ctx context.Context, id string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE jobs SET status = ?, started_at = ?, updated_at = ? WHERE id = ?`, JobStarted, now, now, id)
	return err
}

func (r *JobRepo) MarkCompleted(ctx context.Context, id string, output map[string]any, now time.Time) error {
	out, err := encodeJSON(nonNilMap(output))
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
	UPDATE jobs SET status = ?, output_data = ?, error_message = NULL, completed_at = ?, updated_at = ? WHERE id = ?
	`, JobCompleted, out, now, now, id)
	return err
}

func (r *JobRepo) MarkFailed(ctx context.Context, id, message string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE jobs SET status = ?, error_message = ?, retry_count = retry_count + 1, completed_at = ?, updated_at = ? WHERE id = ?
	`, JobFailed, message, now, now, id)
	return err
}

func (r *JobRepo) Get(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT id, user_id, job_type, status, input_data, output_data, error_message, retry_count, task_name,
	 queued_at, started_at, completed_at, created_at, updated_at
	FROM jobs WHERE id = ?
	`, id)
	var (
		j       Job
		in, out string
	)
	err := row.Scan(&j.ID, &j.UserID, &j.JobType, &j.Status, &in, &out, &j.ErrorMessage, &j.RetryCount, &j.TaskName,
		&j.QueuedAt, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal([]byte(in), &j.InputData); err != nil {
		return nil, fmt.Errorf("decode job input: %w", err)
	}
	if err := json.Unmarshal([]byte(out), &j.OutputData); err != nil {
		return nil, fmt.Errorf("decode job output: %w", err)
	}
	return &j, nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

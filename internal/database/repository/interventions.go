package repository

import (
	"context"
	"time"
)

// InterventionRepo records intervention requests handed to a dispatcher.
type InterventionRepo struct{ db DBTX }

func NewInterventionRepo(db DBTX) *InterventionRepo { return &InterventionRepo{db: db} }

// Insert records iv. It returns false when an intervention for the same
// order, type and window end already exists.
func (r *InterventionRepo) Insert(ctx context.Context, iv Intervention) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
	INSERT OR IGNORE INTO interventions(id, user_id, order_id, intervention_type, priority, status, title,
	 message, window_end, triggered_at, created_at, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, iv.ID, iv.UserID, iv.OrderID, iv.InterventionType, iv.Priority, iv.Status, iv.Title,
		iv.Message, iv.WindowEnd, iv.TriggeredAt, iv.CreatedAt, iv.UpdatedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Exists reports whether an intervention of the given type was recorded for
// the order and window end.
func (r *InterventionRepo) Exists(ctx context.Context, orderID, interventionType string, windowEnd time.Time) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
	SELECT COUNT(*) FROM interventions WHERE order_id = ? AND intervention_type = ? AND window_end = ?
	`, orderID, interventionType, windowEnd).Scan(&n)
	return n > 0, err
}

func (r *InterventionRepo) ListForOrder(ctx context.Context, orderID string) ([]Intervention, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT id, user_id, order_id, intervention_type, priority, status, title, message, window_end,
	 triggered_at, created_at, updated_at
	FROM interventions WHERE order_id = ? ORDER BY triggered_at ASC, id ASC
	`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Intervention
	for rows.Next() {
		var iv Intervention
		if err := rows.Scan(&iv.ID, &iv.UserID, &iv.OrderID, &iv.InterventionType, &iv.Priority, &iv.Status,
			&iv.Title, &iv.Message, &iv.WindowEnd, &iv.TriggeredAt, &iv.CreatedAt, &iv.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// LatestFilter narrows a latest-per-lineage listing. Zero values mean no filter.
type LatestFilter struct {
	Status        OrderStatus
	MerchantID    string
	From          time.Time
	To            time.Time
	MonitoredOnly bool
	Limit         int
	Offset        int
}

// DefaultListLimit applies when LatestFilter.Limit is not positive.
const DefaultListLimit = 50

// OrderRepo handles order rows. Each row is one status of a lineage.
type OrderRepo struct{ db DBTX }

func NewOrderRepo(db DBTX) *OrderRepo { return &OrderRepo{db: db} }

const orderColumns = `id, user_id, merchant_id, order_number, order_date, status, country_code, items,
 subtotal, tax, shipping_cost, total, return_window_start, return_window_end, return_window_days,
 exchange_window_end, is_monitored, source_type, source_id, last_source_type, last_source_id,
 source_trail, confidence_score, needs_clarification, clarification_questions, order_url,
 receipt_url, refund_initiated, refund_amount, refund_completed_at, notes, last_intervention_at,
 created_at, updated_at`

var orderRank = statusRankSQL("status")

func (r *OrderRepo) Insert(ctx context.Context, o Order) error {
	args, err := orderArgs(o)
	if err != nil {
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ")
	_, err = r.db.ExecContext(ctx, `INSERT INTO orders(`+orderColumns+`) VALUES(`+placeholders+`)`, args...)
	return err
}

// Update rewrites every mutable column of the row identified by o.ID. The
// lineage key and creation provenance are left alone.
func (r *OrderRepo) Update(ctx context.Context, o Order) error {
	enc, err := encodeOrder(o)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
	UPDATE orders SET
	 order_date = ?, country_code = ?, items = ?, subtotal = ?, tax = ?, shipping_cost = ?, total = ?,
	 return_window_start = ?, return_window_end = ?, return_window_days = ?, exchange_window_end = ?,
	 is_monitored = ?, last_source_type = ?, last_source_id = ?, source_trail = ?, confidence_score = ?,
	 needs_clarification = ?, clarification_questions = ?, order_url = ?, receipt_url = ?,
	 refund_initiated = ?, refund_amount = ?, refund_completed_at = ?, notes = ?, updated_at = ?
	WHERE id = ?
	`,
		o.OrderDate, o.CountryCode, enc.items, enc.subtotal, enc.tax, enc.shipping, enc.total,
		o.ReturnWindowStart, o.ReturnWindowEnd, o.ReturnWindowDays, o.ExchangeWindowEnd,
		boolInt(o.IsMonitored), o.LastSourceType, o.LastSourceID, enc.trail, o.ConfidenceScore,
		boolInt(o.NeedsClarification), enc.questions, o.OrderURL, o.ReceiptURL,
		boolInt(o.RefundInitiated), enc.refund, o.RefundCompletedAt, enc.notes, o.UpdatedAt,
		o.ID)
	return err
}

func (r *OrderRepo) Get(ctx context.Context, id string) (*Order, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	return scanOneOrder(row)
}

// GetByKey returns the row at exactly (user, merchant, order number, status).
func (r *OrderRepo) GetByKey(ctx context.Context, userID, merchantID, orderNumber string, status OrderStatus) (*Order, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT `+orderColumns+` FROM orders
	WHERE user_id = ? AND merchant_id = ? AND order_number = ? AND status = ?
	`, userID, merchantID, orderNumber, status)
	return scanOneOrder(row)
}

// Lineage returns every row for (user, merchant, order number) in progression order.
func (r *OrderRepo) Lineage(ctx context.Context, userID, merchantID, orderNumber string) ([]Order, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT `+orderColumns+` FROM orders
	WHERE user_id = ? AND merchant_id = ? AND order_number = ?
	ORDER BY `+orderRank+` ASC, created_at ASC, id ASC
	`, userID, merchantID, orderNumber)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

// Latest returns the highest-ranked row of a lineage, newest first on ties.
func (r *OrderRepo) Latest(ctx context.Context, userID, merchantID, orderNumber string) (*Order, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT `+orderColumns+` FROM orders
	WHERE user_id = ? AND merchant_id = ? AND order_number = ?
	ORDER BY `+orderRank+` DESC, created_at DESC, id DESC LIMIT 1
	`, userID, merchantID, orderNumber)
	return scanOneOrder(row)
}

// ListLatest returns the latest row of each of the user's lineages.
func (r *OrderRepo) ListLatest(ctx context.Context, userID string, f LatestFilter) ([]Order, error) {
	where, args := latestWhere(f)
	limit := f.Limit
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	q := latestCTE + `SELECT ` + orderColumns + ` FROM ranked WHERE ` + where + `
	ORDER BY coalesce(order_date, created_at) DESC, id ASC LIMIT ? OFFSET ?`
	args = append([]any{userID}, args...)
	args = append(args, limit, offset)
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

// CountLatest counts the lineages ListLatest would page through.
func (r *OrderRepo) CountLatest(ctx context.Context, userID string, f LatestFilter) (int, error) {
	where, args := latestWhere(f)
	args = append([]any{userID}, args...)
	var n int
	err := r.db.QueryRowContext(ctx, latestCTE+`SELECT COUNT(*) FROM ranked WHERE `+where, args...).Scan(&n)
	return n, err
}

var latestCTE = `
	WITH ranked AS (
	 SELECT ` + orderColumns + `,
	  ROW_NUMBER() OVER (
	   PARTITION BY merchant_id, order_number
	   ORDER BY ` + orderRank + ` DESC, created_at DESC, id DESC) AS rn
	 FROM orders WHERE user_id = ?
	)
	`

func latestWhere(f LatestFilter) (string, []any) {
	where := []string{"rn = 1"}
	var args []any
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, f.Status)
	}
	if f.MerchantID != "" {
		where = append(where, "merchant_id = ?")
		args = append(args, f.MerchantID)
	}
	if !f.From.IsZero() {
		where = append(where, "coalesce(order_date, created_at) >= ?")
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		where = append(where, "coalesce(order_date, created_at) < ?")
		args = append(args, f.To.UTC())
	}
	if f.MonitoredOnly {
		where = append(where, "is_monitored = 1")
	}
	return strings.Join(where, " AND "), args
}

// FillWindows sets the return and exchange windows on columns that are still
// NULL. Established windows are never overwritten.
func (r *OrderRepo) FillWindows(ctx context.Context, id string, start, end *time.Time, days *int, exchangeEnd *time.Time, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
	UPDATE orders SET
	 return_window_start = coalesce(return_window_start, ?),
	 return_window_end = coalesce(return_window_end, ?),
	 return_window_days = coalesce(return_window_days, ?),
	 exchange_window_end = coalesce(exchange_window_end, ?),
	 updated_at = ?
	WHERE id = ?
	`, start, end, days, exchangeEnd, now, id)
	return err
}

// SetMonitored switches deadline monitoring for every row of a lineage and
// reports how many rows it touched.
func (r *OrderRepo) SetMonitored(ctx context.Context, userID, merchantID, orderNumber string, monitored bool, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
	UPDATE orders SET is_monitored = ?, updated_at = ?
	WHERE user_id = ? AND merchant_id = ? AND order_number = ?
	`, boolInt(monitored), now, userID, merchantID, orderNumber)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// AddNote appends note to the row unless the row already carries that exact
// text. It reports whether the note was added.
func (r *OrderRepo) AddNote(ctx context.Context, id, note string, now time.Time) (bool, error) {
	o, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if o == nil {
		return false, ErrNotFound
	}
	for _, n := range o.Notes {
		if n == note {
			return false, nil
		}
	}
	notes, err := encodeStrings(append(o.Notes, note))
	if err != nil {
		return false, err
	}
	_, err = r.db.ExecContext(ctx, `UPDATE orders SET notes = ?, updated_at = ? WHERE id = ?`, notes, now, id)
	return err == nil, err
}

// Search returns the latest row of each lineage whose order number, merchant
// name or any item name contains query, case-insensitively. Newest first.
func (r *OrderRepo) Search(ctx context.Context, userID, query string, limit int) ([]Order, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	pattern := "%" + likeEscaper.Replace(query) + "%"
	rows, err := r.db.QueryContext(ctx, latestCTE+`
	SELECT `+prefixed("ranked", orderColumns)+` FROM ranked
	JOIN merchants m ON m.id = ranked.merchant_id
	WHERE ranked.rn = 1 AND (
	 ranked.order_number LIKE ? ESCAPE '\'
	 OR m.name LIKE ? ESCAPE '\'
	 OR EXISTS (
	  SELECT 1 FROM orders o, json_each(o.items) it
	  WHERE o.user_id = ranked.user_id AND o.merchant_id = ranked.merchant_id
	   AND o.order_number = ranked.order_number
	   AND json_extract(it.value, '$.name') LIKE ? ESCAPE '\'))
	ORDER BY ranked.created_at DESC, ranked.id ASC LIMIT ?
	`, userID, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	return collectOrders(rows)
}

// DefaultSearchLimit applies when Search is given no positive limit.
const DefaultSearchLimit = 20

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (r *OrderRepo) SetLastInterventionAt(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE orders SET last_intervention_at = ?, updated_at = ? WHERE id = ?`, at, at, id)
	return err
}

type encodedOrder struct {
	items, trail, questions, notes         string
	subtotal, tax, shipping, total, refund *string
}

func encodeOrder(o Order) (encodedOrder, error) {
	var (
		enc encodedOrder
		err error
	)
	if enc.items, err = encodeJSON(nonNilItems(o.Items)); err != nil {
		return enc, err
	}
	if enc.trail, err = encodeStrings(o.SourceTrail); err != nil {
		return enc, err
	}
	if enc.questions, err = encodeStrings(o.ClarificationQuestions); err != nil {
		return enc, err
	}
	if enc.notes, err = encodeStrings(o.Notes); err != nil {
		return enc, err
	}
	for _, pair := range []struct {
		src *Money
		dst **string
	}{{o.Subtotal, &enc.subtotal}, {o.Tax, &enc.tax}, {o.ShippingCost, &enc.shipping}, {o.Total, &enc.total}, {o.RefundAmount, &enc.refund}} {
		if *pair.dst, err = encodeMoney(pair.src); err != nil {
			return enc, err
		}
	}
	return enc, nil
}

func orderArgs(o Order) ([]any, error) {
	enc, err := encodeOrder(o)
	if err != nil {
		return nil, err
	}
	return []any{
		o.ID, o.UserID, o.MerchantID, o.OrderNumber, o.OrderDate, o.Status, o.CountryCode, enc.items,
		enc.subtotal, enc.tax, enc.shipping, enc.total, o.ReturnWindowStart, o.ReturnWindowEnd, o.ReturnWindowDays,
		o.ExchangeWindowEnd, boolInt(o.IsMonitored), o.SourceType, o.SourceID, o.LastSourceType, o.LastSourceID,
		enc.trail, o.ConfidenceScore, boolInt(o.NeedsClarification), enc.questions, o.OrderURL,
		o.ReceiptURL, boolInt(o.RefundInitiated), enc.refund, o.RefundCompletedAt, enc.notes, o.LastInterventionAt,
		o.CreatedAt, o.UpdatedAt,
	}, nil
}

func nonNilItems(items []Item) []Item {
	if items == nil {
		return []Item{}
	}
	return items
}

func scanOneOrder(row *sql.Row) (*Order, error) {
	o, err := scanOrder(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

func collectOrders(rows *sql.Rows) ([]Order, error) {
	defer rows.Close()
	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func scanOrder(s scanner) (Order, error) {
	var (
		o                                        Order
		items, trail, questions, notes           string
		subtotal, tax, shipping, total, refundAm sql.NullString
	)
	err := s.Scan(
		&o.ID, &o.UserID, &o.MerchantID, &o.OrderNumber, &o.OrderDate, &o.Status, &o.CountryCode, &items,
		&subtotal, &tax, &shipping, &total, &o.ReturnWindowStart, &o.ReturnWindowEnd, &o.ReturnWindowDays,
		&o.ExchangeWindowEnd, &o.IsMonitored, &o.SourceType, &o.SourceID, &o.LastSourceType, &o.LastSourceID,
		&trail, &o.ConfidenceScore, &o.NeedsClarification, &questions, &o.OrderURL,
		&o.ReceiptURL, &o.RefundInitiated, &refundAm, &o.RefundCompletedAt, &notes, &o.LastInterventionAt,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}
	if err := jsonDecodeItems(items, &o.Items); err != nil {
		return o, err
	}
	if o.SourceTrail, err = decodeStrings(trail); err != nil {
		return o, err
	}
	if o.ClarificationQuestions, err = decodeStrings(questions); err != nil {
		return o, err
	}
	if o.Notes, err = decodeStrings(notes); err != nil {
		return o, err
	}
	for _, pair := range []struct {
		src sql.NullString
		dst **Money
	}{{subtotal, &o.Subtotal}, {tax, &o.Tax}, {shipping, &o.ShippingCost}, {total, &o.Total}, {refundAm, &o.RefundAmount}} {
		if *pair.dst, err = decodeMoney(pair.src); err != nil {
			return o, err
		}
	}
	return o, nil
}

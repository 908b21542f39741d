package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jask/trackable/internal/database"
	"github.com/jask/trackable/internal/database/repository"
	"github.com/jask/trackable/internal/logging"
)

// Action reports what Reconcile did to the order row.
type Action string

const (
	ActionCreated Action = "created"
	ActionMerged  Action = "merged"
)

// Reconciler upserts evidence into the row at (user, merchant, order number,
// status). Each status of an order lives in its own row.
type Reconciler struct {
	DB     *sql.DB
	Logger *zap.Logger
	Now    func() time.Time
}

// Reconcile creates the row for the evidence status or merges into it. A
// create that loses a uniqueness race is retried once as a merge.
func (r *Reconciler) Reconcile(ctx context.Context, ev Evidence, userID, merchantID string) (repository.Order, Action, error) {
	ev.OrderNumber = strings.TrimSpace(ev.OrderNumber)
	if ev.OrderNumber == "" {
		return repository.Order{}, "", fmt.Errorf("%w: order number missing", ErrIncompleteEvidence)
	}
	status, err := ev.OrderStatus()
	if err != nil {
		return repository.Order{}, "", err
	}
	log := logging.OrNop(r.Logger).With(
		zap.String("merchant_id", merchantID),
		zap.String("order_number", ev.OrderNumber),
		zap.String("status", string(status)),
	)

	order, action, err := r.upsert(ctx, ev, status, userID, merchantID)
	if err != nil && repository.IsUniqueViolation(err) {
		log.Warn("order insert raced, retrying as merge")
		order, action, err = r.upsert(ctx, ev, status, userID, merchantID)
		if err != nil && repository.IsUniqueViolation(err) {
			return repository.Order{}, "", fmt.Errorf("%w: %s/%s", ErrConcurrentWrite, ev.OrderNumber, status)
		}
	}
	if err != nil {
		return repository.Order{}, "", fmt.Errorf("reconcile order %s: %w", ev.OrderNumber, err)
	}
	log.Debug("order reconciled", zap.String("order_id", order.ID), zap.String("action", string(action)))
	return order, action, nil
}

func (r *Reconciler) upsert(ctx context.Context, ev Evidence, status repository.OrderStatus, userID, merchantID string) (repository.Order, Action, error) {
	var (
		out    repository.Order
		action Action
	)
	now := r.now()
	err := database.WithTx(ctx, r.DB, func(tx *sql.Tx) error {
		orders := repository.NewOrderRepo(tx)
		existing, err := orders.GetByKey(ctx, userID, merchantID, ev.OrderNumber, status)
		if err != nil {
			return err
		}
		if existing == nil {
			out = newOrder(ev, status, userID, merchantID, now)
			// a new status row keeps the lineage's monitoring choice
			latest, err := orders.Latest(ctx, userID, merchantID, ev.OrderNumber)
			if err != nil {
				return err
			}
			if latest != nil {
				out.IsMonitored = latest.IsMonitored
			}
			action = ActionCreated
			return orders.Insert(ctx, out)
		}
		out = mergeOrder(*existing, ev, now)
		action = ActionMerged
		return orders.Update(ctx, out)
	})
	if err != nil {
		return repository.Order{}, "", err
	}
	return out, action, nil
}

func (r *Reconciler) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return database.Now()
}

// newOrder copies the evidence verbatim into a fresh row.
func newOrder(ev Evidence, status repository.OrderStatus, userID, merchantID string, now time.Time) repository.Order {
	st := ev.sourceType()
	conf := ev.confidence()
	o := repository.Order{
		ID:                     uuid.NewString(),
		UserID:                 userID,
		MerchantID:             merchantID,
		OrderNumber:            ev.OrderNumber,
		OrderDate:              utc(ev.OrderDate),
		Status:                 status,
		CountryCode:            countryPtr(ev.CountryCode),
		Items:                  ev.Items,
		Subtotal:               ev.Subtotal,
		Tax:                    ev.Tax,
		ShippingCost:           ev.ShippingCost,
		Total:                  ev.Total,
		ReturnWindowStart:      utc(ev.ReturnWindowStart),
		ReturnWindowEnd:        utc(ev.ReturnWindowEnd),
		ReturnWindowDays:       ev.ReturnWindowDays,
		ExchangeWindowEnd:      utc(ev.ExchangeWindowEnd),
		IsMonitored:            true,
		SourceType:             st,
		SourceID:               strPtr(ev.SourceID),
		LastSourceType:         &st,
		LastSourceID:           strPtr(ev.SourceID),
		SourceTrail:            []string{ev.sourceRef()},
		ConfidenceScore:        &conf,
		NeedsClarification:     ev.NeedsClarification,
		ClarificationQuestions: union(nil, ev.ClarificationQuestions),
		OrderURL:               ev.OrderURL,
		ReceiptURL:             ev.ReceiptURL,
		RefundInitiated:        ev.RefundInitiated,
		RefundAmount:           ev.RefundAmount,
		RefundCompletedAt:      utc(ev.RefundCompletedAt),
		Notes:                  union(nil, ev.Notes),
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if o.Items == nil {
		o.Items = []repository.Item{}
	}
	return o
}

// mergeRule applies one field's policy when evidence lands on an existing row.
type mergeRule struct {
	field string
	apply func(o *repository.Order, ev Evidence)
}

// mergeRules is the per-field merge policy. Windows and order facts are
// first-write-wins; links, money and refund facts take any non-null value;
// lists are unioned; items are replaced when the evidence has items.
var mergeRules = []mergeRule{
	{"items", func(o *repository.Order, ev Evidence) {
		if len(ev.Items) > 0 {
			o.Items = ev.Items
		}
	}},
	{"notes", func(o *repository.Order, ev Evidence) { o.Notes = union(o.Notes, ev.Notes) }},
	{"clarification_questions", func(o *repository.Order, ev Evidence) {
		o.ClarificationQuestions = union(o.ClarificationQuestions, ev.ClarificationQuestions)
	}},
	{"confidence_score", func(o *repository.Order, ev Evidence) {
		c := ev.confidence()
		if o.ConfidenceScore == nil || c > *o.ConfidenceScore {
			o.ConfidenceScore = &c
		}
	}},
	{"order_date", func(o *repository.Order, ev Evidence) { fillTime(&o.OrderDate, ev.OrderDate) }},
	{"country_code", func(o *repository.Order, ev Evidence) {
		if o.CountryCode == nil {
			o.CountryCode = countryPtr(ev.CountryCode)
		}
	}},
	{"return_window_start", func(o *repository.Order, ev Evidence) { fillTime(&o.ReturnWindowStart, ev.ReturnWindowStart) }},
	{"return_window_end", func(o *repository.Order, ev Evidence) { fillTime(&o.ReturnWindowEnd, ev.ReturnWindowEnd) }},
	{"return_window_days", func(o *repository.Order, ev Evidence) {
		if o.ReturnWindowDays == nil {
			o.ReturnWindowDays = ev.ReturnWindowDays
		}
	}},
	{"exchange_window_end", func(o *repository.Order, ev Evidence) { fillTime(&o.ExchangeWindowEnd, ev.ExchangeWindowEnd) }},
	{"subtotal", func(o *repository.Order, ev Evidence) { overwriteMoney(&o.Subtotal, ev.Subtotal) }},
	{"tax", func(o *repository.Order, ev Evidence) { overwriteMoney(&o.Tax, ev.Tax) }},
	{"shipping_cost", func(o *repository.Order, ev Evidence) { overwriteMoney(&o.ShippingCost, ev.ShippingCost) }},
	{"total", func(o *repository.Order, ev Evidence) { overwriteMoney(&o.Total, ev.Total) }},
	{"order_url", func(o *repository.Order, ev Evidence) { overwriteString(&o.OrderURL, ev.OrderURL) }},
	{"receipt_url", func(o *repository.Order, ev Evidence) { overwriteString(&o.ReceiptURL, ev.ReceiptURL) }},
	{"refund_initiated", func(o *repository.Order, ev Evidence) { o.RefundInitiated = o.RefundInitiated || ev.RefundInitiated }},
	{"refund_amount", func(o *repository.Order, ev Evidence) { overwriteMoney(&o.RefundAmount, ev.RefundAmount) }},
	{"refund_completed_at", func(o *repository.Order, ev Evidence) {
		if ev.RefundCompletedAt != nil {
			o.RefundCompletedAt = utc(ev.RefundCompletedAt)
		}
	}},
	{"needs_clarification", func(o *repository.Order, ev Evidence) {
		o.NeedsClarification = o.NeedsClarification || ev.NeedsClarification
	}},
	{"provenance", func(o *repository.Order, ev Evidence) {
		st := ev.sourceType()
		o.LastSourceType = &st
		o.LastSourceID = strPtr(ev.SourceID)
		o.SourceTrail = union(o.SourceTrail, []string{ev.sourceRef()})
	}},
}

// mergeOrder folds evidence into an existing row. The lineage key and the
// creating source are never touched.
func mergeOrder(existing repository.Order, ev Evidence, now time.Time) repository.Order {
	o := existing
	for _, rule := range mergeRules {
		rule.apply(&o, ev)
	}
	o.UpdatedAt = now
	return o
}

// union appends the values of add missing from base, keeping first-seen order.
func union(base, add []string) []string {
	out := make([]string, 0, len(base)+len(add))
	seen := make(map[string]struct{}, len(base)+len(add))
	for _, list := range [][]string{base, add} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func fillTime(dst **time.Time, v *time.Time) {
	if *dst == nil && v != nil {
		*dst = utc(v)
	}
}

func overwriteMoney(dst **repository.Money, v *repository.Money) {
	if v != nil {
		*dst = v
	}
}

func overwriteString(dst **string, v *string) {
	if v != nil && *v != "" {
		*dst = v
	}
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func countryPtr(code string) *string {
	return strPtr(strings.ToUpper(strings.TrimSpace(code)))
}

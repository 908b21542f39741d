package service

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/jask/trackable/internal/database/repository"
)

func TestReconcileIdempotent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := testContext(t)

	m, err := env.svc.Merchants.Resolve(ctx, "Nike", "nike.com")
	require.NoError(t, err)

	ev := Evidence{
		OrderNumber:            "N-1",
		Status:                 "confirmed",
		Items:                  usbCable(),
		Notes:                  []string{"gift", "gift", "wrap it"},
		ClarificationQuestions: []string{"Which size?"},
		Confidence:             0.7,
		SourceType:             repository.SourceEmail,
		SourceID:               "m-1",
	}
	first, action, err := env.svc.Reconciler.Reconcile(ctx, ev, env.userID, m.ID)
	require.NoError(t, err)
	require.Equal(t, ActionCreated, action)
	require.Equal(t, []string{"gift", "wrap it"}, first.Notes)

	second, action, err := env.svc.Reconciler.Reconcile(ctx, ev, env.userID, m.ID)
	require.NoError(t, err)
	require.Equal(t, ActionMerged, action)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.Notes, second.Notes)
	require.Equal(t, first.ClarificationQuestions, second.ClarificationQuestions)
	require.Equal(t, first.SourceTrail, second.SourceTrail)
	require.Len(t, second.Items, 1)

	stored, err := env.svc.History.Latest(ctx, env.userID, m.ID, "N-1")
	require.NoError(t, err)
	require.Equal(t, []string{"gift", "wrap it"}, stored.Notes)
	require.Equal(t, []string{"email:m-1"}, stored.SourceTrail)
	require.Len(t, stored.Items, 1)
}

func TestReconcileMergeRules(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := testContext(t)

	m, err := env.svc.Merchants.Resolve(ctx, "Target", "target.com")
	require.NoError(t, err)

	windowEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	orderURL := "https://target.com/orders/T-9"
	created, _, err := env.svc.Reconciler.Reconcile(ctx, Evidence{
		OrderNumber:     "T-9",
		Status:          "delivered",
		CountryCode:     "us",
		Items:           usbCable(),
		ReturnWindowEnd: &windowEnd,
		OrderURL:        &orderURL,
		Total:           usd("9.99"),
		Confidence:      0.9,
		SourceType:      repository.SourceEmail,
		SourceID:        "m-1",
	}, env.userID, m.ID)
	require.NoError(t, err)
	require.Equal(t, "US", *created.CountryCode)

	otherEnd := windowEnd.AddDate(0, 0, 30)
	refundedAt := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	merged, action, err := env.svc.Reconciler.Reconcile(ctx, Evidence{
		OrderNumber:       "T-9",
		Status:            "delivered",
		CountryCode:       "CA",
		Items:             []repository.Item{{Name: "HDMI Cable", Quantity: 2}},
		ReturnWindowEnd:   &otherEnd,
		RefundInitiated:   true,
		RefundAmount:      usd("9.99"),
		RefundCompletedAt: &refundedAt,
		Notes:             []string{"refund issued"},
		Confidence:        0.4,
		SourceType:        repository.SourceScreenshot,
		SourceID:          "img-1",
	}, env.userID, m.ID)
	require.NoError(t, err)
	require.Equal(t, ActionMerged, action)

	// windows and order facts keep the first value
	require.True(t, merged.ReturnWindowEnd.Equal(windowEnd))
	require.Equal(t, "US", *merged.CountryCode)
	// items replaced wholesale
	require.Equal(t, []repository.Item{{Name: "HDMI Cable", Quantity: 2}}, merged.Items)
	// refund facts and links overwritten, confidence is the max
	require.True(t, merged.RefundInitiated)
	require.True(t, merged.RefundAmount.Amount.Equal(usd("9.99").Amount))
	require.True(t, merged.RefundCompletedAt.Equal(refundedAt))
	require.Equal(t, orderURL, *merged.OrderURL)
	require.InDelta(t, 0.9, *merged.ConfidenceScore, 1e-9)
	// provenance keeps the creator and records the latest source
	require.Equal(t, repository.SourceEmail, merged.SourceType)
	require.Equal(t, "m-1", *merged.SourceID)
	require.Equal(t, repository.SourceScreenshot, *merged.LastSourceType)
	require.Equal(t, "img-1", *merged.LastSourceID)
	require.Equal(t, []string{"email:m-1", "screenshot:img-1"}, merged.SourceTrail)

	// a merge without a window or items leaves both alone
	again, _, err := env.svc.Reconciler.Reconcile(ctx, Evidence{OrderNumber: "T-9", Status: "delivered"}, env.userID, m.ID)
	require.NoError(t, err)
	require.True(t, again.ReturnWindowEnd.Equal(windowEnd))
	require.Len(t, again.Items, 1)
	require.True(t, again.RefundInitiated)

	stored, err := env.svc.History.Latest(ctx, env.userID, m.ID, "T-9")
	require.NoError(t, err)
	require.True(t, stored.ReturnWindowEnd.Equal(windowEnd))
	require.Equal(t, "HDMI Cable", stored.Items[0].Name)
	require.Equal(t, []string{"refund issued"}, stored.Notes)
	require.Equal(t, created.CreatedAt.Unix(), stored.CreatedAt.Unix())
}

func TestReconcileWindowNeverRegresses(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := testContext(t)

	m, err := env.svc.Merchants.Resolve(ctx, "Zara", "")
	require.NoError(t, err)

	_, _, err = env.svc.Reconciler.Reconcile(ctx, Evidence{OrderNumber: "Z-1", Status: "delivered"}, env.userID, m.ID)
	require.NoError(t, err)

	first := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	candidates := []*time.Time{&first, nil, ptrTime(first.AddDate(0, 0, -10)), ptrTime(first.AddDate(1, 0, 0)), nil}
	for _, c := range candidates {
		o, _, err := env.svc.Reconciler.Reconcile(ctx, Evidence{
			OrderNumber:       "Z-1",
			Status:            "delivered",
			ReturnWindowEnd:   c,
			ExchangeWindowEnd: c,
			Confidence:        1,
		}, env.userID, m.ID)
		require.NoError(t, err)
		require.NotNil(t, o.ReturnWindowEnd)
		require.True(t, o.ReturnWindowEnd.Equal(first))
		require.True(t, o.ExchangeWindowEnd.Equal(first))
	}
}

func ptrTime(t time.Time) *time.Time { return &t }

var errUnique = sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}

// winningRow is the row another writer committed between our lookup and insert.
func winningRow(created time.Time) *sqlmock.Rows {
	cols := []string{
		"id", "user_id", "merchant_id", "order_number", "order_date", "status", "country_code", "items",
		"subtotal", "tax", "shipping_cost", "total", "return_window_start", "return_window_end", "return_window_days",
		"exchange_window_end", "is_monitored", "source_type", "source_id", "last_source_type", "last_source_id",
		"source_trail", "confidence_score", "needs_clarification", "clarification_questions", "order_url",
		"receipt_url", "refund_initiated", "refund_amount", "refund_completed_at", "notes", "last_intervention_at",
		"created_at", "updated_at",
	}
	return sqlmock.NewRows(cols).AddRow(
		"o-winner", "u", "m", "X-1", nil, "detected", nil, "[]",
		nil, nil, nil, nil, nil, nil, nil,
		nil, true, "email", "msg-1", nil, nil,
		`["msg-1"]`, 0.5, false, "[]", nil,
		nil, false, nil, nil, `["from the first writer"]`, nil,
		created, created,
	)
}

func TestReconcileRetriesRaceAsMerge(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM orders").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT .+ FROM orders").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO orders").WillReturnError(errUnique)
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM orders").WillReturnRows(winningRow(created))
	mock.ExpectExec("UPDATE orders SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	r := &Reconciler{DB: db, Now: func() time.Time { return created.Add(time.Minute) }}
	ev := Evidence{OrderNumber: "X-1", Notes: []string{"from the second writer"}, Confidence: 0.9, SourceType: repository.SourceEmail, SourceID: "msg-2"}
	order, action, err := r.Reconcile(testContext(t), ev, "u", "m")
	require.NoError(t, err)
	require.Equal(t, ActionMerged, action)
	require.Equal(t, "o-winner", order.ID)
	require.Equal(t, []string{"from the first writer", "from the second writer"}, order.Notes)
	require.Equal(t, "msg-1", *order.SourceID)
	require.Equal(t, "msg-2", *order.LastSourceID)
	require.InDelta(t, 0.9, *order.ConfidenceScore, 1e-9)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileRetryCreatesWhenRaceLeftNoRow(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM orders").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT .+ FROM orders").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO orders").WillReturnError(errUnique)
	mock.ExpectRollback()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM orders").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery("SELECT .+ FROM orders").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO orders").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	r := &Reconciler{DB: db}
	_, action, err := r.Reconcile(testContext(t), Evidence{OrderNumber: "X-1"}, "u", "m")
	require.NoError(t, err)
	require.Equal(t, ActionCreated, action)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcileSecondConflictIsConcurrentWrite(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT .+ FROM orders").WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectQuery("SELECT .+ FROM orders").WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectExec("INSERT INTO orders").WillReturnError(errUnique)
		mock.ExpectRollback()
	}

	r := &Reconciler{DB: db}
	_, _, err = r.Reconcile(testContext(t), Evidence{OrderNumber: "X-1"}, "u", "m")
	require.ErrorIs(t, err, ErrConcurrentWrite)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReconcilePropagatesStorageErrors(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	diskErr := errors.New("disk I/O error")
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT .+ FROM orders").WillReturnError(diskErr)
	mock.ExpectRollback()

	r := &Reconciler{DB: db}
	_, _, err = r.Reconcile(testContext(t), Evidence{OrderNumber: "X-1"}, "u", "m")
	require.ErrorIs(t, err, diskErr)
	require.NotErrorIs(t, err, ErrConcurrentWrite)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeRulesCoverMutableColumns(t *testing.T) {
	t.Parallel()

	seen := map[string]bool{}
	for _, r := range mergeRules {
		require.False(t, seen[r.field], "duplicate rule %s", r.field)
		seen[r.field] = true
	}
	for _, f := range []string{
		"items", "notes", "confidence_score", "return_window_start", "return_window_end",
		"exchange_window_end", "order_url", "receipt_url", "refund_initiated", "refund_amount",
		"refund_completed_at", "provenance",
	} {
		require.True(t, seen[f], "missing rule for %s", f)
	}
}

package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jask/trackable/internal/database/repository"
)

func amazonEvidence(status string) Evidence {
	return Evidence{
		MerchantName:   "AMAZON.COM",
		MerchantDomain: "amazon.com",
		OrderNumber:    "112-555",
		Status:         status,
		Items:          usbCable(),
		Confidence:     0.8,
		SourceType:     repository.SourceEmail,
		SourceID:       "msg-" + status,
	}
}

func TestEngineOrderLifecycle(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := testContext(t)

	// first sighting creates merchant and order
	a, err := env.svc.Engine.Reconcile(ctx, env.userID, amazonEvidence("detected"))
	require.NoError(t, err)
	require.Equal(t, ActionCreated, a.Action)
	require.True(t, a.IsNewOrder)
	require.Equal(t, "Amazon", a.Merchant.Name)
	require.NotNil(t, a.Merchant.Domain)
	require.Equal(t, "amazon.com", *a.Merchant.Domain)
	require.Equal(t, repository.StatusDetected, a.Order.Status)
	require.Len(t, a.Order.Items, 1)
	require.Equal(t, "USB Cable", a.Order.Items[0].Name)
	require.InDelta(t, 0.8, *a.Order.ConfidenceScore, 1e-9)

	// same status merges in place
	evB := amazonEvidence("detected")
	evB.Notes = []string{"dup check"}
	evB.Confidence = 0.95
	b, err := env.svc.Engine.Reconcile(ctx, env.userID, evB)
	require.NoError(t, err)
	require.Equal(t, ActionMerged, b.Action)
	require.False(t, b.IsNewOrder)
	require.Equal(t, a.Order.ID, b.Order.ID)
	require.InDelta(t, 0.95, *b.Order.ConfidenceScore, 1e-9)
	require.Equal(t, []string{"dup check"}, b.Order.Notes)
	require.Len(t, b.Order.Items, 1)
	require.Equal(t, "USB Cable", b.Order.Items[0].Name)
	require.True(t, b.Order.Items[0].UnitPrice.Amount.Equal(usd("9.99").Amount))

	stored, err := env.svc.History.Latest(ctx, env.userID, a.Merchant.ID, "112-555")
	require.NoError(t, err)
	require.Equal(t, []string{"dup check"}, stored.Notes)
	require.InDelta(t, 0.95, *stored.ConfidenceScore, 1e-9)

	// new status is a new row of the same lineage
	c, err := env.svc.Engine.Reconcile(ctx, env.userID, amazonEvidence("shipped"))
	require.NoError(t, err)
	require.Equal(t, ActionCreated, c.Action)
	require.False(t, c.IsNewOrder)
	require.NotEqual(t, a.Order.ID, c.Order.ID)

	latest, err := env.svc.History.Latest(ctx, env.userID, a.Merchant.ID, "112-555")
	require.NoError(t, err)
	require.Equal(t, c.Order.ID, latest.ID)
	require.Equal(t, repository.StatusShipped, latest.Status)

	timeline, err := env.svc.History.Timeline(ctx, env.userID, a.Merchant.ID, "112-555")
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	require.Equal(t, repository.StatusDetected, timeline[0].Status)
	require.Equal(t, repository.StatusShipped, timeline[1].Status)

	// bare name resolves to the same merchant
	d, err := env.svc.Engine.Reconcile(ctx, env.userID, Evidence{MerchantName: "amazon", OrderNumber: "112-777"})
	require.NoError(t, err)
	require.Equal(t, a.Merchant.ID, d.Merchant.ID)
	require.Equal(t, 1, countRows(t, env.db, "merchants"))
}

func TestEngineRejectsMissingOrderNumber(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := testContext(t)

	ev := amazonEvidence("detected")
	ev.OrderNumber = "   "
	_, err := env.svc.Engine.Reconcile(ctx, env.userID, ev)
	require.ErrorIs(t, err, ErrIncompleteEvidence)
	require.Equal(t, 0, countRows(t, env.db, "orders"))
	require.Equal(t, 0, countRows(t, env.db, "merchants"))

	_, _, err = env.svc.Reconciler.Reconcile(ctx, ev, env.userID, "any-merchant")
	require.ErrorIs(t, err, ErrIncompleteEvidence)
	require.Equal(t, 0, countRows(t, env.db, "orders"))
}

func TestEngineRejectsUnknownStatus(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := testContext(t)

	_, err := env.svc.Engine.Reconcile(ctx, env.userID, amazonEvidence("lost_in_space"))
	require.ErrorIs(t, err, ErrUnknownStatus)
	require.Equal(t, 0, countRows(t, env.db, "orders"))
}

func TestEngineStatusRegressionCreatesOwnRow(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := testContext(t)

	delivered, err := env.svc.Engine.Reconcile(ctx, env.userID, amazonEvidence("delivered"))
	require.NoError(t, err)
	stray, err := env.svc.Engine.Reconcile(ctx, env.userID, amazonEvidence("detected"))
	require.NoError(t, err)
	require.Equal(t, ActionCreated, stray.Action)
	require.False(t, stray.IsNewOrder)

	latest, err := env.svc.History.Latest(ctx, env.userID, delivered.Merchant.ID, "112-555")
	require.NoError(t, err)
	require.Equal(t, repository.StatusDelivered, latest.Status)

	timeline, err := env.svc.History.Timeline(ctx, env.userID, delivered.Merchant.ID, "112-555")
	require.NoError(t, err)
	require.Equal(t, []repository.OrderStatus{repository.StatusDetected, repository.StatusDelivered},
		[]repository.OrderStatus{timeline[0].Status, timeline[1].Status})
}

func TestEngineConcurrentDuplicateDeliveries(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := testContext(t)

	const n = 8
	results := make([]Result, n)
	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			res, err := env.svc.Engine.Reconcile(ctx, env.userID, amazonEvidence("confirmed"))
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())

	created := 0
	for _, r := range results {
		if r.Action == ActionCreated {
			created++
		}
		require.Equal(t, results[0].Order.ID, r.Order.ID)
	}
	require.Equal(t, 1, created)
	require.Equal(t, 1, countRows(t, env.db, "orders"))
	require.Equal(t, 1, countRows(t, env.db, "merchants"))
}

func TestEngineHistoryAppendOnly(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := testContext(t)

	sequence := []string{"confirmed", "shipped", "detected", "shipped", "delivered", "in_transit", "delivered", "refunded", "returned"}
	var merchantID string
	prev := 0
	for _, status := range sequence {
		res, err := env.svc.Engine.Reconcile(ctx, env.userID, amazonEvidence(status))
		require.NoError(t, err)
		merchantID = res.Merchant.ID

		timeline, err := env.svc.History.Timeline(ctx, env.userID, merchantID, "112-555")
		require.NoError(t, err)
		require.GreaterOrEqual(t, len(timeline), prev)
		prev = len(timeline)

		seen := map[repository.OrderStatus]bool{}
		for i, o := range timeline {
			require.False(t, seen[o.Status], "status %s repeated", o.Status)
			seen[o.Status] = true
			if i > 0 {
				require.Less(t, timeline[i-1].Status.Rank(), o.Status.Rank())
			}
		}

		latest, err := env.svc.History.Latest(ctx, env.userID, merchantID, "112-555")
		require.NoError(t, err)
		require.Equal(t, timeline[len(timeline)-1].ID, latest.ID)
	}
	require.Equal(t, 7, prev)

	latest, err := env.svc.History.Latest(ctx, env.userID, merchantID, "112-555")
	require.NoError(t, err)
	require.Equal(t, repository.StatusRefunded, latest.Status)
	require.True(t, latest.CreatedAt.Before(time.Now().Add(time.Minute)))
}

package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jask/trackable/internal/database/repository"
)

func intPtr(n int) *int { return &n }

func TestEvaluateDerivesWindowFromPolicy(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := testContext(t)

	res, err := env.svc.Engine.Reconcile(ctx, env.userID, Evidence{
		MerchantName: "Zara",
		OrderNumber:  "Z-900",
		Status:       "delivered",
		CountryCode:  "ca",
	})
	require.NoError(t, err)

	// only a US policy exists; the CA order falls back to it
	_, err = env.svc.Policies.Set(ctx, PolicyInput{
		MerchantID:         res.Merchant.ID,
		MerchantName:       res.Merchant.Name,
		CountryCode:        "us",
		ReturnWindowDays:   intPtr(30),
		ExchangeWindowDays: intPtr(45),
	})
	require.NoError(t, err)

	delivered := res.Order.CreatedAt
	ev, err := env.svc.Evaluator.Evaluate(ctx, res.Order, delivered)
	require.NoError(t, err)
	require.NotNil(t, ev.WindowUpdate)
	require.Equal(t, 30, ev.WindowUpdate.ReturnWindowDays)
	require.True(t, ev.WindowUpdate.ReturnWindowStart.Equal(delivered))
	require.True(t, ev.WindowUpdate.ReturnWindowEnd.Equal(delivered.AddDate(0, 0, 30)))
	require.NotNil(t, ev.WindowUpdate.ExchangeWindowEnd)
	require.True(t, ev.WindowUpdate.ExchangeWindowEnd.Equal(delivered.AddDate(0, 0, 45)))
	require.Len(t, ev.Candidates, 1)
	require.Equal(t, InterventionDeliveryConfirmation, ev.Candidates[0].Type)
	require.Equal(t, 30, ev.Candidates[0].DaysRemaining)

	n, err := env.svc.Evaluator.Apply(ctx, env.userID, res.Order, ev)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	stored, err := env.svc.History.Latest(ctx, env.userID, res.Merchant.ID, "Z-900")
	require.NoError(t, err)
	require.NotNil(t, stored.ReturnWindowEnd)
	require.True(t, stored.ReturnWindowEnd.Equal(delivered.AddDate(0, 0, 30)))
	require.Equal(t, 30, *stored.ReturnWindowDays)
	require.NotNil(t, stored.LastInterventionAt)

	again, err := env.svc.Evaluator.Evaluate(ctx, stored, delivered)
	require.NoError(t, err)
	require.Nil(t, again.WindowUpdate)
	require.Empty(t, again.Candidates)
}

func TestEvaluateDeadlines(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := testContext(t)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	returnEnd := now.Add(2 * 24 * time.Hour)
	exchangeEnd := now.Add(6 * 24 * time.Hour)

	res, err := env.svc.Engine.Reconcile(ctx, env.userID, Evidence{
		MerchantName:      "Nordstrom",
		OrderNumber:       "NS-1",
		Status:            "delivered",
		ReturnWindowEnd:   &returnEnd,
		ExchangeWindowEnd: &exchangeEnd,
	})
	require.NoError(t, err)

	ev, err := env.svc.Evaluator.Evaluate(ctx, res.Order, now)
	require.NoError(t, err)
	require.Nil(t, ev.WindowUpdate)
	require.Len(t, ev.Candidates, 2)

	ret, ex := ev.Candidates[0], ev.Candidates[1]
	require.Equal(t, InterventionReturnDeadline, ret.Type)
	require.Equal(t, PriorityUrgent, ret.Priority)
	require.Equal(t, 2, ret.DaysRemaining)
	require.Contains(t, ret.Message, "2 days")
	require.Equal(t, InterventionExchangeDeadline, ex.Type)
	require.Equal(t, PriorityNormal, ex.Priority)
	require.Equal(t, 6, ex.DaysRemaining)

	n, err := env.svc.Evaluator.Apply(ctx, env.userID, res.Order, ev)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	// replaying the same evaluation records nothing new
	n, err = env.svc.Evaluator.Apply(ctx, env.userID, res.Order, ev)
	require.NoError(t, err)
	require.Zero(t, n)

	later, err := env.svc.Evaluator.Evaluate(ctx, res.Order, now.Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, later.Candidates)

	ivs, err := repository.NewInterventionRepo(env.db).ListForOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	require.Len(t, ivs, 2)
	for _, iv := range ivs {
		require.Equal(t, "pending", iv.Status)
	}
}

func TestEvaluateIgnoresClosedAndDistantWindows(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := testContext(t)
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	closed := now.Add(-time.Hour)
	distant := now.AddDate(0, 0, 8)

	res, err := env.svc.Engine.Reconcile(ctx, env.userID, Evidence{
		MerchantName:      "Sephora",
		OrderNumber:       "S-5",
		Status:            "delivered",
		ReturnWindowEnd:   &closed,
		ExchangeWindowEnd: &distant,
	})
	require.NoError(t, err)

	ev, err := env.svc.Evaluator.Evaluate(ctx, res.Order, now)
	require.NoError(t, err)
	require.Empty(t, ev.Candidates)
	require.Nil(t, ev.WindowUpdate)
}

func TestEvaluateWithoutPolicy(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := testContext(t)

	res, err := env.svc.Engine.Reconcile(ctx, env.userID, Evidence{MerchantName: "Gap", OrderNumber: "G-1", Status: "delivered"})
	require.NoError(t, err)

	ev, err := env.svc.Evaluator.Evaluate(ctx, res.Order, res.Order.CreatedAt)
	require.NoError(t, err)
	require.Nil(t, ev.WindowUpdate)
	require.Empty(t, ev.Candidates)

	n, err := env.svc.Evaluator.Apply(ctx, env.userID, res.Order, ev)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestSweep(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := testContext(t)
	now := time.Now().UTC().Truncate(time.Second)
	tomorrow := now.Add(24 * time.Hour)

	zara, err := env.svc.Engine.Reconcile(ctx, env.userID, Evidence{MerchantName: "Zara", OrderNumber: "Z-1", Status: "delivered"})
	require.NoError(t, err)
	_, err = env.svc.Policies.Set(ctx, PolicyInput{MerchantID: zara.Merchant.ID, CountryCode: "US", ReturnWindowDays: intPtr(30)})
	require.NoError(t, err)
	_, err = env.svc.Engine.Reconcile(ctx, env.userID, Evidence{MerchantName: "Nike", OrderNumber: "N-1", Status: "delivered", ReturnWindowEnd: &tomorrow})
	require.NoError(t, err)
	_, err = env.svc.Engine.Reconcile(ctx, env.userID, Evidence{MerchantName: "Etsy", OrderNumber: "E-1", Status: "shipped"})
	require.NoError(t, err)

	sum, err := env.svc.Evaluator.Sweep(ctx, env.userID, now)
	require.NoError(t, err)
	require.Equal(t, 3, sum.Evaluated)
	require.Equal(t, 1, sum.Windows)
	require.Equal(t, 2, sum.Recorded)

	sum, err = env.svc.Evaluator.Sweep(ctx, env.userID, now)
	require.NoError(t, err)
	require.Equal(t, 3, sum.Evaluated)
	require.Zero(t, sum.Windows)
	require.Zero(t, sum.Recorded)
	require.Equal(t, 2, countRows(t, env.db, "interventions"))
}

func TestSweepSkipsUnmonitoredOrders(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	ctx := testContext(t)
	now := time.Now().UTC().Truncate(time.Second)
	tomorrow := now.Add(24 * time.Hour)

	_, err := env.svc.Engine.Reconcile(ctx, env.userID, Evidence{MerchantName: "Nike", OrderNumber: "N-1", Status: "delivered", ReturnWindowEnd: &tomorrow})
	require.NoError(t, err)
	etsy, err := env.svc.Engine.Reconcile(ctx, env.userID, Evidence{MerchantName: "Etsy", OrderNumber: "E-1", Status: "delivered", ReturnWindowEnd: &tomorrow})
	require.NoError(t, err)
	require.NoError(t, env.svc.History.SetMonitored(ctx, env.userID, etsy.Merchant.ID, "E-1", false))

	sum, err := env.svc.Evaluator.Sweep(ctx, env.userID, now)
	require.NoError(t, err)
	require.Equal(t, 1, sum.Evaluated)
	require.Equal(t, 1, sum.Recorded)

	ivs, err := repository.NewInterventionRepo(env.db).ListForOrder(ctx, etsy.Order.ID)
	require.NoError(t, err)
	require.Empty(t, ivs)
}

package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jask/trackable/internal/database"
	"github.com/jask/trackable/internal/database/repository"
	"github.com/jask/trackable/internal/logging"
)

// InterventionType classifies an intervention request.
type InterventionType string

const (
	InterventionDeliveryConfirmation InterventionType = "delivery_confirmation"
	InterventionReturnDeadline       InterventionType = "return_deadline"
	InterventionExchangeDeadline     InterventionType = "exchange_deadline"
)

// Priority of an intervention request.
type Priority string

const (
	PriorityUrgent Priority = "urgent"
	PriorityNormal Priority = "normal"
)

// Candidate is a typed intervention request for a dispatcher. The evaluator
// never delivers anything itself.
type Candidate struct {
	Type          InterventionType
	Priority      Priority
	OrderID       string
	WindowEnd     time.Time
	DaysRemaining int
	Title         string
	Message       string
}

// WindowUpdate carries windows derived from merchant policy for an order that
// has none yet.
type WindowUpdate struct {
	ReturnWindowStart time.Time
	ReturnWindowEnd   time.Time
	ReturnWindowDays  int
	ExchangeWindowEnd *time.Time
	PolicyID          string
}

// Evaluation is the result of evaluating one order.
type Evaluation struct {
	Candidates   []Candidate
	WindowUpdate *WindowUpdate
}

// Evaluator derives deadline windows from policy and produces intervention
// candidates for windows closing inside the lookahead horizon.
type Evaluator struct {
	DB             *sql.DB
	Orders         *repository.OrderRepo
	Policies       *repository.PolicyRepo
	Interventions  *repository.InterventionRepo
	LookaheadDays  int
	UrgentDays     int
	DefaultCountry string
	Logger         *zap.Logger
}

// Evaluate inspects order as of now. Nothing is written; see Apply.
func (e *Evaluator) Evaluate(ctx context.Context, order repository.Order, now time.Time) (Evaluation, error) {
	now = now.UTC()
	var ev Evaluation
	o := order

	if o.Status == repository.StatusDelivered && o.ReturnWindowEnd == nil {
		wu, err := e.deriveWindows(ctx, o)
		if err != nil {
			return Evaluation{}, err
		}
		if wu != nil {
			ev.WindowUpdate = wu
			start, end, days := wu.ReturnWindowStart, wu.ReturnWindowEnd, wu.ReturnWindowDays
			o.ReturnWindowStart, o.ReturnWindowEnd, o.ReturnWindowDays = &start, &end, &days
			if o.ExchangeWindowEnd == nil {
				o.ExchangeWindowEnd = wu.ExchangeWindowEnd
			}
			ev.Candidates = append(ev.Candidates, Candidate{
				Type:          InterventionDeliveryConfirmation,
				Priority:      PriorityNormal,
				OrderID:       o.ID,
				WindowEnd:     end,
				DaysRemaining: daysUntil(now, end),
				Title:         "Order delivered",
				Message:       fmt.Sprintf("Order %s was delivered. Returns are open until %s.", o.OrderNumber, end.Format("Jan 2, 2006")),
			})
		}
	}

	for _, w := range []struct {
		typ  InterventionType
		end  *time.Time
		noun string
	}{
		{InterventionReturnDeadline, o.ReturnWindowEnd, "Return"},
		{InterventionExchangeDeadline, o.ExchangeWindowEnd, "Exchange"},
	} {
		if w.end == nil || !e.withinHorizon(now, *w.end) {
			continue
		}
		seen, err := e.Interventions.Exists(ctx, o.ID, string(w.typ), w.end.UTC())
		if err != nil {
			return Evaluation{}, fmt.Errorf("check intervention: %w", err)
		}
		if seen {
			continue
		}
		days := daysUntil(now, *w.end)
		ev.Candidates = append(ev.Candidates, Candidate{
			Type:          w.typ,
			Priority:      e.priority(now, *w.end),
			OrderID:       o.ID,
			WindowEnd:     w.end.UTC(),
			DaysRemaining: days,
			Title:         fmt.Sprintf("%s window closing", w.noun),
			Message:       fmt.Sprintf("%s window for order %s closes in %s.", w.noun, o.OrderNumber, pluralDays(days)),
		})
	}
	return ev, nil
}

// Apply persists a window update onto still-empty window columns and records
// candidates as pending interventions. It returns how many were recorded.
func (e *Evaluator) Apply(ctx context.Context, userID string, order repository.Order, ev Evaluation) (int, error) {
	if ev.WindowUpdate == nil && len(ev.Candidates) == 0 {
		return 0, nil
	}
	log := logging.OrNop(e.Logger)
	now := database.Now()
	recorded := 0
	err := database.WithTx(ctx, e.DB, func(tx *sql.Tx) error {
		orders := repository.NewOrderRepo(tx)
		ivs := repository.NewInterventionRepo(tx)
		if wu := ev.WindowUpdate; wu != nil {
			start, end, days := wu.ReturnWindowStart, wu.ReturnWindowEnd, wu.ReturnWindowDays
			if err := orders.FillWindows(ctx, order.ID, &start, &end, &days, wu.ExchangeWindowEnd, now); err != nil {
				return err
			}
		}
		for _, c := range ev.Candidates {
			ok, err := ivs.Insert(ctx, repository.Intervention{
				ID:               uuid.NewString(),
				UserID:           userID,
				OrderID:          order.ID,
				InterventionType: string(c.Type),
				Priority:         string(c.Priority),
				Status:           "pending",
				Title:            c.Title,
				Message:          c.Message,
				WindowEnd:        c.WindowEnd,
				TriggeredAt:      now,
				CreatedAt:        now,
				UpdatedAt:        now,
			})
			if err != nil {
				return err
			}
			if !ok {
				continue
			}
			recorded++
			log.Info("intervention recorded",
				zap.String("order_id", order.ID),
				zap.String("type", string(c.Type)),
				zap.String("priority", string(c.Priority)),
				zap.Time("window_end", c.WindowEnd))
		}
		if recorded > 0 {
			return orders.SetLastInterventionAt(ctx, order.ID, now)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("apply evaluation for order %s: %w", order.ID, err)
	}
	return recorded, nil
}

// SweepResult summarizes a Sweep.
type SweepResult struct {
	Evaluated int
	Recorded  int
	Windows   int
}

// Sweep evaluates the latest row of every monitored order of the user.
func (e *Evaluator) Sweep(ctx context.Context, userID string, now time.Time) (SweepResult, error) {
	const page = 200
	var res SweepResult
	for offset := 0; ; offset += page {
		orders, err := e.Orders.ListLatest(ctx, userID, repository.LatestFilter{MonitoredOnly: true, Limit: page, Offset: offset})
		if err != nil {
			return res, err
		}
		for _, o := range orders {
			ev, err := e.Evaluate(ctx, o, now)
			if err != nil {
				return res, err
			}
			n, err := e.Apply(ctx, userID, o, ev)
			if err != nil {
				return res, err
			}
			res.Evaluated++
			res.Recorded += n
			if ev.WindowUpdate != nil {
				res.Windows++
			}
		}
		if len(orders) < page {
			return res, nil
		}
	}
}

func (e *Evaluator) deriveWindows(ctx context.Context, o repository.Order) (*WindowUpdate, error) {
	ret, err := e.findPolicy(ctx, o, repository.PolicyReturn)
	if err != nil {
		return nil, err
	}
	if ret == nil || ret.ReturnWindowDays == nil {
		return nil, nil
	}
	start := deliveredAt(o)
	days := *ret.ReturnWindowDays
	wu := &WindowUpdate{
		ReturnWindowStart: start,
		ReturnWindowEnd:   start.AddDate(0, 0, days),
		ReturnWindowDays:  days,
		PolicyID:          ret.ID,
	}
	if o.ExchangeWindowEnd == nil {
		exDays := ret.ExchangeWindowDays
		ex, err := e.findPolicy(ctx, o, repository.PolicyExchange)
		if err != nil {
			return nil, err
		}
		if ex != nil && ex.ExchangeWindowDays != nil {
			exDays = ex.ExchangeWindowDays
		}
		if exDays != nil {
			end := start.AddDate(0, 0, *exDays)
			wu.ExchangeWindowEnd = &end
		}
	}
	return wu, nil
}

// findPolicy looks up the order's country first, then the default country.
func (e *Evaluator) findPolicy(ctx context.Context, o repository.Order, policyType string) (*repository.Policy, error) {
	country := e.DefaultCountry
	if o.CountryCode != nil && *o.CountryCode != "" {
		country = *o.CountryCode
	}
	p, err := e.Policies.Find(ctx, o.MerchantID, policyType, country)
	if err != nil || p != nil || country == e.DefaultCountry || e.DefaultCountry == "" {
		return p, err
	}
	return e.Policies.Find(ctx, o.MerchantID, policyType, e.DefaultCountry)
}

// deliveredAt is the existing window start when present, otherwise when the
// delivered row was created.
func deliveredAt(o repository.Order) time.Time {
	if o.ReturnWindowStart != nil {
		return o.ReturnWindowStart.UTC()
	}
	return o.CreatedAt.UTC()
}

func (e *Evaluator) withinHorizon(now, end time.Time) bool {
	horizon := now.AddDate(0, 0, e.LookaheadDays)
	return !end.Before(now) && !end.After(horizon)
}

func (e *Evaluator) priority(now, end time.Time) Priority {
	if end.Sub(now) <= time.Duration(e.UrgentDays)*24*time.Hour {
		return PriorityUrgent
	}
	return PriorityNormal
}

func daysUntil(now, end time.Time) int {
	d := end.Sub(now)
	if d <= 0 {
		return 0
	}
	return int((d + 24*time.Hour - 1) / (24 * time.Hour))
}

func pluralDays(n int) string {
	if n == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", n)
}

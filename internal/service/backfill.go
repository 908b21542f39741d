package service

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jask/trackable/internal/logging"
)

// Outcome is the per-record result of a backfill.
type Outcome struct {
	Index   int
	OrderID string
	Action  Action
	IsNew   bool
	Err     error
}

// BackfillSummary counts backfill outcomes.
type BackfillSummary struct {
	Created  int
	Merged   int
	Rejected int
	Failed   int
	Outcomes []Outcome
}

// Backfill reconciles a batch of evidence with bounded parallelism. One bad
// record does not stop the batch; only cancellation does.
type Backfill struct {
	Engine      *Engine
	Concurrency int
	Logger      *zap.Logger
}

func (b *Backfill) Run(ctx context.Context, userID string, batch []Evidence) (BackfillSummary, error) {
	log := logging.OrNop(b.Logger)
	outcomes := make([]Outcome, len(batch))

	g, gctx := errgroup.WithContext(ctx)
	limit := b.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i := range batch {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := b.Engine.Reconcile(gctx, userID, batch[i])
			outcomes[i] = Outcome{Index: i, Err: err}
			if err != nil {
				log.Warn("backfill record failed", zap.Int("index", i), zap.Error(err))
				return nil
			}
			outcomes[i].OrderID = res.Order.ID
			outcomes[i].Action = res.Action
			outcomes[i].IsNew = res.IsNewOrder
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BackfillSummary{}, err
	}

	sum := BackfillSummary{Outcomes: outcomes}
	for _, o := range outcomes {
		switch {
		case o.Err == nil && o.Action == ActionCreated:
			sum.Created++
		case o.Err == nil:
			sum.Merged++
		case errorsIsAny(o.Err, ErrIncompleteEvidence, ErrUnknownStatus):
			sum.Rejected++
		default:
			sum.Failed++
		}
	}
	log.Info("backfill finished",
		zap.Int("records", len(batch)),
		zap.Int("created", sum.Created),
		zap.Int("merged", sum.Merged),
		zap.Int("rejected", sum.Rejected),
		zap.Int("failed", sum.Failed))
	return sum, nil
}

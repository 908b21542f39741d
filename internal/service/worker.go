package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jask/trackable/internal/database"
	"github.com/jask/trackable/internal/database/repository"
	"github.com/jask/trackable/internal/logging"
)

// JobRequest asks the worker to reconcile one piece of evidence.
type JobRequest struct {
	UserID   string
	Evidence Evidence
	TaskName string
}

// Job outcome statuses reported in JobResult and the job's output data.
const (
	OutcomeSuccess      = "success"
	OutcomeDuplicate    = "duplicate"
	OutcomeNoOrderFound = "no_order_found"
	OutcomeFailed       = "failed"
)

// JobResult is what the worker reports back for one job.
type JobResult struct {
	JobID         string
	Outcome       string
	Result        *Result
	Interventions int
}

// Worker wraps the engine with job and source bookkeeping. Retries are the
// caller's business: a failed job is marked failed and its error returned.
type Worker struct {
	Engine    *Engine
	Evaluator *Evaluator
	Dedup     *Deduplicator
	Jobs      *repository.JobRepo
	Sources   *repository.SourceRepo
	Logger    *zap.Logger
	Now       func() time.Time
}

func (w *Worker) Process(ctx context.Context, req JobRequest) (JobResult, error) {
	ev := req.Evidence
	st := ev.sourceType()
	log := logging.OrNop(w.Logger).With(zap.String("source", ev.sourceRef()))

	now := w.now()
	job := repository.Job{
		ID:      uuid.NewString(),
		UserID:  strPtr(req.UserID),
		JobType: "reconcile_order",
		Status:  repository.JobQueued,
		InputData: map[string]any{
			"source_type":  string(st),
			"source_id":    ev.SourceID,
			"order_number": ev.OrderNumber,
			"merchant":     ev.MerchantName,
		},
		TaskName:  strPtr(req.TaskName),
		QueuedAt:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := w.Jobs.Insert(ctx, job); err != nil {
		return JobResult{}, fmt.Errorf("queue job: %w", err)
	}
	res := JobResult{JobID: job.ID}
	if err := w.Jobs.MarkStarted(ctx, job.ID, w.now()); err != nil {
		return res, fmt.Errorf("start job: %w", err)
	}

	dup, err := w.Dedup.IsSourceDuplicate(ctx, req.UserID, st, ev.SourceID)
	if err != nil {
		return w.fail(ctx, log, res, err)
	}
	if dup {
		res.Outcome = OutcomeDuplicate
		return res, w.Jobs.MarkCompleted(ctx, job.ID, map[string]any{"status": OutcomeDuplicate}, w.now())
	}
	if ev.SourceID != "" {
		if _, err := w.Sources.Insert(ctx, repository.Source{
			ID:         uuid.NewString(),
			UserID:     req.UserID,
			SourceType: st,
			SourceKey:  ev.SourceID,
			Status:     repository.SourcePending,
			CreatedAt:  now,
			UpdatedAt:  now,
		}); err != nil {
			return w.fail(ctx, log, res, err)
		}
	}

	out, err := w.Engine.Reconcile(ctx, req.UserID, ev)
	if errors.Is(err, ErrIncompleteEvidence) {
		log.Info("evidence has no order", zap.Error(err))
		if ev.SourceID != "" {
			if err := w.Sources.MarkProcessed(ctx, req.UserID, st, ev.SourceID, repository.SourceNoOrderFound, nil, w.now()); err != nil {
				return w.fail(ctx, log, res, err)
			}
		}
		res.Outcome = OutcomeNoOrderFound
		return res, w.Jobs.MarkCompleted(ctx, job.ID, map[string]any{"status": OutcomeNoOrderFound, "reason": err.Error()}, w.now())
	}
	if err != nil {
		return w.fail(ctx, log, res, err)
	}
	res.Result = &out

	if ev.SourceID != "" {
		if err := w.Sources.MarkProcessed(ctx, req.UserID, st, ev.SourceID, repository.SourceProcessed, &out.Order.ID, w.now()); err != nil {
			return w.fail(ctx, log, res, err)
		}
	}

	if w.Evaluator != nil && out.Order.IsMonitored {
		evaluation, err := w.Evaluator.Evaluate(ctx, out.Order, w.now())
		if err != nil {
			return w.fail(ctx, log, res, err)
		}
		if res.Interventions, err = w.Evaluator.Apply(ctx, req.UserID, out.Order, evaluation); err != nil {
			return w.fail(ctx, log, res, err)
		}
	}

	res.Outcome = OutcomeSuccess
	output := map[string]any{
		"status":        OutcomeSuccess,
		"order_id":      out.Order.ID,
		"merchant_id":   out.Merchant.ID,
		"action":        string(out.Action),
		"is_new_order":  out.IsNewOrder,
		"interventions": res.Interventions,
	}
	if err := w.Jobs.MarkCompleted(ctx, job.ID, output, w.now()); err != nil {
		return res, fmt.Errorf("complete job: %w", err)
	}
	return res, nil
}

func (w *Worker) fail(ctx context.Context, log *zap.Logger, res JobResult, cause error) (JobResult, error) {
	res.Outcome = OutcomeFailed
	log.Error("job failed", zap.String("job_id", res.JobID), zap.Error(cause))
	if err := w.Jobs.MarkFailed(ctx, res.JobID, cause.Error(), w.now()); err != nil {
		return res, errors.Join(cause, fmt.Errorf("mark job failed: %w", err))
	}
	return res, cause
}

func (w *Worker) now() time.Time {
	if w.Now != nil {
		return w.Now().UTC()
	}
	return database.Now()
}

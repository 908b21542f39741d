package service

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/jask/trackable/internal/config"
	"github.com/jask/trackable/internal/database/repository"
	"github.com/jask/trackable/internal/llm"
	"github.com/jask/trackable/internal/logging"
)

// Services bundles the wired services used by the CLI and the TUI.
type Services struct {
	Merchants   *MerchantResolver
	Dedup       *Deduplicator
	Reconciler  *Reconciler
	History     *History
	Evaluator   *Evaluator
	Engine      *Engine
	Worker      *Worker
	Backfill    *Backfill
	Intake      *SourceIntake
	Policies    *PolicyService
	Maintenance *MaintenanceService
}

// New wires every service against db.
func New(db *sql.DB, cfg config.Config, logger *zap.Logger) *Services {
	log := logging.OrNop(logger)
	orders := repository.NewOrderRepo(db)
	sources := repository.NewSourceRepo(db)

	s := &Services{
		Merchants: &MerchantResolver{
			DB:             db,
			Logger:         log.Named("merchant"),
			FuzzyThreshold: cfg.Merchant.FuzzyThreshold,
			FuzzyMinLength: cfg.Merchant.FuzzyMinLength,
		},
		Dedup:      &Deduplicator{Orders: orders, Sources: sources},
		Reconciler: &Reconciler{DB: db, Logger: log.Named("reconciler")},
		History:    &History{Orders: orders, DB: db},
		Evaluator: &Evaluator{
			DB:             db,
			Orders:         orders,
			Policies:       repository.NewPolicyRepo(db),
			Interventions:  repository.NewInterventionRepo(db),
			LookaheadDays:  cfg.Deadline.LookaheadDays,
			UrgentDays:     cfg.Deadline.UrgentDays,
			DefaultCountry: cfg.Deadline.DefaultCountry,
			Logger:         log.Named("evaluator"),
		},
		Intake: &SourceIntake{Sources: sources},
		Policies: &PolicyService{
			Policies:    repository.NewPolicyRepo(db),
			Interpreter: llm.NewHeuristicInterpreter(),
			Logger:      log.Named("policy"),
		},
		Maintenance: &MaintenanceService{DB: db},
	}
	s.Engine = &Engine{Merchants: s.Merchants, Dedup: s.Dedup, Reconciler: s.Reconciler, Logger: log.Named("engine")}
	s.Worker = &Worker{
		Engine:    s.Engine,
		Evaluator: s.Evaluator,
		Dedup:     s.Dedup,
		Jobs:      repository.NewJobRepo(db),
		Sources:   sources,
		Logger:    log.Named("worker"),
	}
	s.Backfill = &Backfill{Engine: s.Engine, Concurrency: cfg.Worker.Concurrency, Logger: log.Named("backfill")}
	return s
}

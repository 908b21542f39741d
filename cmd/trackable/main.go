package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jask/trackable/internal/config"
	"github.com/jask/trackable/internal/database"
	"github.com/jask/trackable/internal/database/repository"
	"github.com/jask/trackable/internal/logging"
	"github.com/jask/trackable/internal/service"
)

// app is what every subcommand runs against.
type app struct {
	cfg    config.Config
	log    *zap.Logger
	db     *sql.DB
	svc    *service.Services
	userID string
}

func main() {
	var a app
	root := &cobra.Command{
		Use:           "trackable",
		Short:         "Order resolution and reconciliation for purchase evidence",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd.Context())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	root.AddCommand(
		reconcileCmd(&a),
		backfillCmd(&a),
		ordersCmd(&a),
		timelineCmd(&a),
		searchCmd(&a),
		noteCmd(&a),
		monitorCmd(&a),
		evaluateCmd(&a),
		policyCmd(&a),
		sourceCmd(&a),
		seedCmd(&a),
		resetCmd(&a),
		browseCmd(&a),
		configCmd(&a),
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		a.close()
		os.Exit(1)
	}
}

func (a *app) open(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	a.cfg = cfg

	if a.log, err = logging.New(cfg.Log); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return fmt.Errorf("mkdir db dir: %w", err)
	}
	if err := database.RunMigrations(cfg.Database.Path); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if a.db, err = database.Open(cfg.Database.Path); err != nil {
		return fmt.Errorf("open db: %w", err)
	}

	userID, err := database.SeedDefaults(ctx, a.db, cfg.User.Email, cfg.User.Name)
	if err != nil {
		return fmt.Errorf("seed defaults: %w", err)
	}
	a.userID = userID
	if cfg.User.ID != "" {
		u, err := repository.NewUserRepo(a.db).Get(ctx, cfg.User.ID)
		if err != nil {
			return err
		}
		if u == nil {
			return fmt.Errorf("configured user %s does not exist", cfg.User.ID)
		}
		a.userID = u.ID
	}

	a.svc = service.New(a.db, cfg, a.log)
	a.log.Debug("store ready", zap.String("path", cfg.Database.Path), zap.String("user_id", a.userID))
	return nil
}

func (a *app) close() {
	if a.db != nil {
		_ = a.db.Close()
		a.db = nil
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}

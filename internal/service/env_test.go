package service

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jask/trackable/internal/config"
	"github.com/jask/trackable/internal/database"
	"github.com/jask/trackable/internal/database/repository"
)

type testEnv struct {
	db     *sql.DB
	svc    *Services
	userID string
}

func testConfig() config.Config {
	return config.Config{
		Merchant: config.MerchantConfig{FuzzyThreshold: 0.15, FuzzyMinLength: 5},
		Deadline: config.DeadlineConfig{LookaheadDays: 7, UrgentDays: 3, DefaultCountry: "US"},
		Worker:   config.WorkerConfig{Concurrency: 4},
	}
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, database.RunMigrations(dbPath))

	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	userID, err := database.SeedDefaults(context.Background(), db, "tester@example.com", "Tester")
	require.NoError(t, err)

	return testEnv{db: db, svc: New(db, testConfig(), zap.NewNop()), userID: userID}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func usd(amount string) *repository.Money {
	return &repository.Money{Amount: decimal.RequireFromString(amount), Currency: "USD"}
}

func usbCable() []repository.Item {
	return []repository.Item{{Name: "USB Cable", Quantity: 1, UnitPrice: usd("9.99")}}
}

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/saldo/internal/database"
	"github.com/jask/saldo/internal/database/repository"
	"github.com/jask/saldo/internal/reconcile"
)

type testEnv struct {
	store       *repository.Store
	categorizer *CategorizerService
	balances    *BalanceService
	ingest      *IngestService
	analytics   *AnalyticsService
	maintenance *MaintenanceService
}

func setupTest(t *testing.T) (*testEnv, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	dbPath := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, database.RunMigrations(dbPath))
	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.SeedDefaults(ctx, db))

	st := repository.NewStore(db)
	log := zerolog.Nop()
	bal := &BalanceService{Store: st, Thresholds: reconcile.DefaultThresholds(), Default: decimal.Zero, Log: log}
	env := &testEnv{
		store:       st,
		categorizer: &CategorizerService{Store: st, Fallback: database.DefaultCategoryName, Log: log},
		balances:    bal,
		ingest:      &IngestService{Store: st, Balances: bal, Log: log},
		analytics:   &AnalyticsService{Store: st},
		maintenance: &MaintenanceService{Store: st, Balances: bal, Fallback: database.DefaultCategoryName, Log: log},
	}
	return env, ctx
}

func (e *testEnv) category(t *testing.T, ctx context.Context, name string) repository.Category {
	t.Helper()
	cats, err := e.store.Categories.List(ctx)
	require.NoError(t, err)
	for _, c := range cats {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("category %q not found", name)
	return repository.Category{}
}

func (e *testEnv) addTx(t *testing.T, ctx context.Context, date, amount, desc string) repository.Transaction {
	t.Helper()
	d, err := time.Parse(repository.DateLayout, date)
	require.NoError(t, err)
	amt := decimal.RequireFromString(amount)
	typ := repository.TypeIncome
	if amt.IsNegative() {
		typ = repository.TypeExpense
	}
	id, err := e.store.Transactions.Insert(ctx, repository.Transaction{Date: d, Amount: amt.Abs(), Type: typ, Description: desc})
	require.NoError(t, err)
	tx, err := e.store.Transactions.Get(ctx, id)
	require.NoError(t, err)
	return tx
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func day(t *testing.T, s string) *time.Time {
	t.Helper()
	d, err := time.Parse(repository.DateLayout, s)
	require.NoError(t, err)
	return &d
}

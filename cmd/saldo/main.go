package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/jask/saldo/internal/config"
	"github.com/jask/saldo/internal/database"
	"github.com/jask/saldo/internal/database/repository"
	"github.com/jask/saldo/internal/llm"
	"github.com/jask/saldo/internal/logger"
	"github.com/jask/saldo/internal/metrics"
	"github.com/jask/saldo/internal/ratelimit"
	"github.com/jask/saldo/internal/reconcile"
	"github.com/jask/saldo/internal/secrets"
	"github.com/jask/saldo/internal/service"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "saldo",
		Short:         "Personal finance dashboard with rule categorization and balance reconciliation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newTUICmd(),
		newStatusCmd(),
		newImportCmd(),
		newRecategorizeCmd(),
		newBalanceCmd(),
		newBackupCmd(),
		newRestoreCmd(),
		newWipeCmd(),
		newDemoCmd(),
		newKeyCmd(),
		newHashPasswordCmd(),
	)
	return root
}

// app is the wired service graph shared by the commands.
type app struct {
	cfg     config.Config
	log     zerolog.Logger
	db      *sql.DB
	metrics *metrics.Metrics

	categorizer *service.CategorizerService
	balances    *service.BalanceService
	ingest      *service.IngestService
	analytics   *service.AnalyticsService
	insights    *service.InsightService
	maintenance *service.MaintenanceService
}

// openApp loads config, migrates and opens the database and builds the
// services. The LLM chain is only built when withLLM is set.
func openApp(ctx context.Context, withLLM bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := logger.NewWithConfig(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	if err := database.RunMigrations(cfg.Database.Path); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := database.SeedDefaults(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed defaults: %w", err)
	}

	th, def, err := balanceSettings(cfg.Balance)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	st := repository.NewStore(db)
	m := metrics.New()
	a := &app{cfg: cfg, log: log, db: db, metrics: m}
	a.categorizer = &service.CategorizerService{
		Store:    st,
		Fallback: cfg.Categorize.FallbackCategory,
		Log:      log.With().Str("component", "categorizer").Logger(),
		Metrics:  m,
	}
	a.balances = &service.BalanceService{
		Store:      st,
		Thresholds: th,
		Default:    def,
		Log:        log.With().Str("component", "balance").Logger(),
		Metrics:    m,
	}
	a.ingest = &service.IngestService{
		Store:    st,
		Balances: a.balances,
		Log:      log.With().Str("component", "ingest").Logger(),
		Metrics:  m,
	}
	a.analytics = &service.AnalyticsService{Store: st, RecentLimit: 10}
	a.maintenance = &service.MaintenanceService{
		Store:    st,
		Balances: a.balances,
		Fallback: cfg.Categorize.FallbackCategory,
		Log:      log.With().Str("component", "maintenance").Logger(),
	}

	if err := a.categorizer.EnsureFallback(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("fallback category: %w", err)
	}

	if withLLM {
		chain, err := a.insightChain()
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		a.insights = &service.InsightService{
			Analytics: a.analytics,
			Balances:  a.balances,
			LLM:       chain,
			Limiter:   ratelimit.New(cfg.RateLimit.InsightsPerMinute, cfg.RateLimit.Burst),
			Currency:  cfg.UI.CurrencySymbol,
			Log:       log.With().Str("component", "insights").Logger(),
		}
	}
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

func (a *app) insightChain() (*llm.Chain, error) {
	store, err := secrets.NewStore("")
	if err != nil {
		a.log.Warn().Err(err).Msg("key store unavailable; using env and config keys only")
		store = nil
	}
	resolver := secrets.Resolver{
		Store: store,
		EnvVars: map[string]string{
			"gemini": a.cfg.LLM.GeminiAPIKeyEnv,
			"openai": a.cfg.LLM.OpenAIAPIKeyEnv,
		},
		Config: map[string]string{
			"gemini": a.cfg.LLM.GeminiAPIKey,
			"openai": a.cfg.LLM.OpenAIAPIKey,
		},
	}
	providers, err := llm.FromCandidates(a.cfg.LLM.Candidates, resolver.Key, a.cfg.LLM.Timeout, a.log)
	if err != nil {
		return nil, err
	}
	chain := llm.NewChain(a.log.With().Str("component", "llm").Logger(), providers...)
	chain.Observe = a.metrics.Insight
	return chain, nil
}

func balanceSettings(c config.BalanceConfig) (reconcile.Thresholds, decimal.Decimal, error) {
	th := reconcile.DefaultThresholds()
	var err error
	if c.AlertThreshold != "" {
		if th.Alert, err = decimal.NewFromString(c.AlertThreshold); err != nil {
			return th, decimal.Zero, fmt.Errorf("config: balance.alert_threshold: %w", err)
		}
	}
	if c.HighThreshold != "" {
		if th.High, err = decimal.NewFromString(c.HighThreshold); err != nil {
			return th, decimal.Zero, fmt.Errorf("config: balance.high_threshold: %w", err)
		}
	}
	if th.Alert.IsNegative() || th.High.LessThan(th.Alert) {
		return th, decimal.Zero, fmt.Errorf("config: balance thresholds must satisfy 0 <= alert <= high")
	}
	def := decimal.Zero
	if c.Default != "" {
		if def, err = decimal.NewFromString(c.Default); err != nil {
			return th, decimal.Zero, fmt.Errorf("config: balance.default: %w", err)
		}
	}
	return th, def, nil
}

// location resolves the configured display timezone.
func (a *app) location() *time.Location {
	loc, err := time.LoadLocation(a.cfg.UI.Timezone)
	if err != nil {
		a.log.Warn().Err(err).Str("timezone", a.cfg.UI.Timezone).Msg("using local timezone")
		return time.Local
	}
	return loc
}

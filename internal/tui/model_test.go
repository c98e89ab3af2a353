package tui

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/saldo/internal/database"
	"github.com/jask/saldo/internal/database/repository"
	"github.com/jask/saldo/internal/reconcile"
	"github.com/jask/saldo/internal/service"
)

func newTestModel(t *testing.T) (Model, *repository.Store) {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "tui.db")
	require.NoError(t, database.RunMigrations(dbPath))
	db, err := database.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.SeedDefaults(ctx, db))

	st := repository.NewStore(db)
	log := zerolog.Nop()
	svc := Services{
		Analytics:   &service.AnalyticsService{Store: st},
		Balances:    &service.BalanceService{Store: st, Thresholds: reconcile.DefaultThresholds(), Log: log},
		Categorizer: &service.CategorizerService{Store: st, Fallback: database.DefaultCategoryName, Log: log},
	}
	return New(ctx, svc, Options{Currency: "$", DateFormat: "02/01"}), st
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestDashboardLoadsAndRenders(t *testing.T) {
	m, st := newTestModel(t)
	ctx := context.Background()
	d, _ := time.Parse(repository.DateLayout, "2026-02-03")
	_, err := st.Transactions.Insert(ctx, repository.Transaction{Date: d, Amount: decimal.RequireFromString("12.34"), Type: repository.TypeExpense, Description: "CORNER SHOP"})
	require.NoError(t, err)

	msg := m.Init()()
	data, ok := msg.(dataMsg)
	require.True(t, ok, "%T", msg)
	require.Equal(t, 1, data.snap.summary.Count)

	next, _ := m.Update(data)
	m = next.(Model)
	next, _ = m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	m = next.(Model)

	view := m.View()
	require.Contains(t, view, "Live balance")
	require.Contains(t, view, "No statement baseline selected")
	require.Contains(t, view, "Uncategorised")
	require.Contains(t, view, "CORNER SHOP")
	require.Contains(t, view, "-$12.34")
}

func TestKeysTriggerCommands(t *testing.T) {
	m, _ := newTestModel(t)
	next, _ := m.Update(m.Init()())
	m = next.(Model)

	_, cmd := m.Update(keyMsg("q"))
	require.NotNil(t, cmd)
	require.IsType(t, tea.QuitMsg{}, cmd())

	next, cmd = m.Update(keyMsg("r"))
	m = next.(Model)
	require.True(t, m.busy)
	rec, ok := cmd().(recategorizedMsg)
	require.True(t, ok)
	require.Zero(t, rec.rep.Total)

	// busy ignores further work
	_, cmd = m.Update(keyMsg("R"))
	require.Nil(t, cmd)

	next, cmd = m.Update(rec)
	m = next.(Model)
	require.Contains(t, m.status, "Recategorized")
	next, _ = m.Update(cmd())
	m = next.(Model)
	require.False(t, m.busy)

	next, _ = m.Update(keyMsg("tab"))
	m = next.(Model)
	require.Equal(t, tabTransactions, m.tab)
	require.Contains(t, m.View(), "No transactions.")
	next, _ = m.Update(keyMsg("tab"))
	m = next.(Model)
	require.Contains(t, m.View(), "No balance changes recorded.")
}

func TestErrorShowsInStatus(t *testing.T) {
	m, _ := newTestModel(t)
	next, _ := m.Update(errMsg{errors.New("disk on fire")})
	m = next.(Model)
	require.Contains(t, m.View(), "disk on fire")
}

func TestRenderHelpers(t *testing.T) {
	require.Equal(t, "-$5.50", money("$", decimal.RequireFromString("-5.5")))
	require.Equal(t, "ab…", truncate("abcdef", 3))
	require.Equal(t, "ab  ", padRight("ab", 4))
	require.Equal(t, "  ab", padLeft("ab", 4))

	rep := reconcile.Report{HasBaseline: true, Severity: reconcile.SeverityHigh, Validated: true}
	require.Contains(t, renderBanner(rep, repository.AccountBalance{IsManual: true}, "$", 60), "HIGH discrepancy")
}

package service

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/jask/saldo/internal/database/repository"
	"github.com/jask/saldo/internal/metrics"
	"github.com/jask/saldo/internal/reconcile"
)

func TestFirstFileBalanceBecomesBaseline(t *testing.T) {
	t.Parallel()
	env, ctx := setupTest(t)

	first, err := env.balances.AddFileBalance(ctx, FileBalanceInput{Balance: dec("1000"), FileName: "march.csv", StatementDate: day(t, "2026-03-01")})
	require.NoError(t, err)
	require.True(t, first.IsSelected)

	second, err := env.balances.AddFileBalance(ctx, FileBalanceInput{Balance: dec("1200"), FileName: "april.csv"})
	require.NoError(t, err)
	require.False(t, second.IsSelected)

	audit, err := env.balances.AuditLog(ctx, 0)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	require.Equal(t, repository.ReasonInitialSetup, audit[0].Reason)
	require.True(t, audit[0].OldValue.IsZero())
	require.True(t, audit[0].NewValue.Equal(dec("1000")))

	cur, err := env.balances.Current(ctx)
	require.NoError(t, err)
	require.True(t, cur.Balance.Equal(dec("1000")))
	require.False(t, cur.IsManual)

	_, err = env.balances.AddFileBalance(ctx, FileBalanceInput{Balance: dec("1"), FileName: "  "})
	require.ErrorIs(t, err, ErrValidation)
}

func TestEveryMutationAppendsOneAuditEntry(t *testing.T) {
	t.Parallel()
	env, ctx := setupTest(t)

	entry, err := env.balances.SetManualBalance(ctx, dec("250.75"), " counted cash ")
	require.NoError(t, err)
	require.Equal(t, repository.ReasonManualOverride, entry.Reason)
	require.Equal(t, "counted cash", entry.Note)
	require.True(t, entry.OldValue.IsZero())
	require.True(t, entry.NewValue.Equal(dec("250.75")))

	cur, err := env.balances.Current(ctx)
	require.NoError(t, err)
	require.True(t, cur.IsManual)

	fb, err := env.balances.AddFileBalance(ctx, FileBalanceInput{Balance: dec("900"), FileName: "jan.csv"})
	require.NoError(t, err)
	// the manual entry did not select a baseline, so the file becomes one
	require.True(t, fb.IsSelected)

	other, err := env.balances.AddFileBalance(ctx, FileBalanceInput{Balance: dec("111"), FileName: "feb.csv"})
	require.NoError(t, err)
	entry, err = env.balances.SelectFileBalance(ctx, other.ID, "switch")
	require.NoError(t, err)
	require.Equal(t, repository.ReasonFileSelection, entry.Reason)
	require.True(t, entry.OldValue.Equal(dec("900")))
	require.True(t, entry.NewValue.Equal(dec("111")))

	audit, err := env.balances.AuditLog(ctx, 0)
	require.NoError(t, err)
	require.Len(t, audit, 3)
	// newest first, each old value chains to the previous new value
	require.True(t, audit[0].OldValue.Equal(audit[1].NewValue))
	require.True(t, audit[1].OldValue.Equal(audit[2].NewValue))

	files, err := env.balances.FileBalances(ctx)
	require.NoError(t, err)
	selected := 0
	for _, f := range files {
		if f.IsSelected {
			selected++
			require.Equal(t, other.ID, f.ID)
		}
	}
	require.Equal(t, 1, selected)
}

func TestBalanceMutationValidation(t *testing.T) {
	t.Parallel()
	env, ctx := setupTest(t)

	_, err := env.balances.SetManualBalance(ctx, dec("1000000000000.01"), "")
	require.ErrorIs(t, err, ErrValidation)
	_, err = env.balances.SetManualBalance(ctx, dec("-1000000000000.01"), "")
	require.ErrorIs(t, err, ErrValidation)
	_, err = env.balances.SelectFileBalance(ctx, 77, "")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = env.balances.SelectFileBalance(ctx, 0, "")
	require.ErrorIs(t, err, ErrValidation)

	n, err := env.store.Audit.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestResetClearsHistory(t *testing.T) {
	t.Parallel()
	env, ctx := setupTest(t)
	env.balances.Default = dec("10")

	_, err := env.balances.AddFileBalance(ctx, FileBalanceInput{Balance: dec("500"), FileName: "a.csv"})
	require.NoError(t, err)
	_, err = env.balances.SetManualBalance(ctx, dec("450"), "")
	require.NoError(t, err)

	entry, err := env.balances.Reset(ctx)
	require.NoError(t, err)
	require.Equal(t, repository.ReasonReset, entry.Reason)
	require.True(t, entry.OldValue.Equal(dec("450")))

	files, err := env.balances.FileBalances(ctx)
	require.NoError(t, err)
	require.Empty(t, files)
	audit, err := env.balances.AuditLog(ctx, 0)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	require.Equal(t, repository.ReasonReset, audit[0].Reason)

	cur, err := env.balances.Current(ctx)
	require.NoError(t, err)
	require.True(t, cur.Balance.Equal(dec("10")))

	rep, err := env.balances.Status(ctx)
	require.NoError(t, err)
	require.False(t, rep.HasBaseline)
	require.False(t, rep.Validated)
	require.Equal(t, reconcile.SeverityNone, rep.Severity)
}

func TestFailedAuditRollsBackBalance(t *testing.T) {
	t.Parallel()
	env, ctx := setupTest(t)
	require.NoError(t, env.store.Exec(ctx, `CREATE TRIGGER fail_audit BEFORE INSERT ON balance_audit_log BEGIN SELECT RAISE(ABORT, 'audit unavailable'); END;`))

	_, err := env.balances.SetManualBalance(ctx, dec("999"), "")
	require.Error(t, err)
	_, err = env.balances.AddFileBalance(ctx, FileBalanceInput{Balance: dec("5"), FileName: "x.csv"})
	require.Error(t, err)

	cur, err := env.balances.Current(ctx)
	require.NoError(t, err)
	require.True(t, cur.Balance.IsZero())
	files, err := env.balances.FileBalances(ctx)
	require.NoError(t, err)
	require.Empty(t, files)
}

func TestStatusGradesDiscrepancy(t *testing.T) {
	t.Parallel()
	env, ctx := setupTest(t)

	_, err := env.balances.AddFileBalance(ctx, FileBalanceInput{Balance: dec("1000"), FileName: "s.csv", StatementDate: day(t, "2026-03-01")})
	require.NoError(t, err)
	env.addTx(t, ctx, "2026-02-20", "-400", "BEFORE BASELINE")
	env.addTx(t, ctx, "2026-03-05", "-50", "GROCER")
	env.addTx(t, ctx, "2026-03-06", "20", "REFUND")

	rep, err := env.balances.Status(ctx)
	require.NoError(t, err)
	require.True(t, rep.HasBaseline)
	require.Equal(t, 2, rep.TransactionCount)
	require.True(t, rep.CalculatedBalance.Equal(dec("970")))
	require.True(t, rep.Difference.Equal(dec("-30")))
	require.True(t, rep.IsWithinThreshold)
	require.Equal(t, reconcile.SeverityNone, rep.Severity)

	_, err = env.balances.SetManualBalance(ctx, dec("1100"), "")
	require.NoError(t, err)
	rep, err = env.balances.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, reconcile.SeverityMedium, rep.Severity)
	require.True(t, rep.Alert())

	_, err = env.balances.SetManualBalance(ctx, dec("1170.01"), "")
	require.NoError(t, err)
	rep, err = env.balances.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, reconcile.SeverityHigh, rep.Severity)
}

func TestStatusPublishesCurrentSeverity(t *testing.T) {
	t.Parallel()
	env, ctx := setupTest(t)
	m := metrics.New()
	env.balances.Metrics = m

	_, err := env.balances.AddFileBalance(ctx, FileBalanceInput{Balance: dec("1000"), FileName: "s.csv"})
	require.NoError(t, err)
	for range 3 {
		_, err = env.balances.Status(ctx)
		require.NoError(t, err)
	}
	require.Equal(t, 1, testutil.CollectAndCount(m.BalanceSeverity))
	require.Equal(t, 1.0, testutil.ToFloat64(m.BalanceSeverity.WithLabelValues(string(reconcile.SeverityNone))))

	_, err = env.balances.SetManualBalance(ctx, dec("2000"), "")
	require.NoError(t, err)
	_, err = env.balances.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, testutil.CollectAndCount(m.BalanceSeverity))
	require.Equal(t, 1.0, testutil.ToFloat64(m.BalanceSeverity.WithLabelValues(string(reconcile.SeverityHigh))))
}

func TestNestedMutationAnnouncedAfterCommit(t *testing.T) {
	t.Parallel()
	env, ctx := setupTest(t)
	m := metrics.New()
	env.balances.Metrics = m

	boom := errors.New("boom")
	var changes []repository.AuditEntry
	err := env.store.Atomic(ctx, func(st *repository.Store) error {
		if _, err := env.balances.withStore(st, &changes).SetManualBalance(ctx, dec("40"), "nested"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Len(t, changes, 1)
	require.Equal(t, 0, testutil.CollectAndCount(m.BalanceChanges))
	cur, err := env.balances.Current(ctx)
	require.NoError(t, err)
	require.True(t, cur.Balance.IsZero())

	bal := dec("500")
	_, err = env.ingest.ImportRows(ctx, []RowInput{
		{Date: "2026-04-02", Amount: dec("-10"), Description: "KIOSK"},
	}, ImportOptions{FileName: "april.json", StatementBalance: &bal})
	require.NoError(t, err)
	require.Equal(t, 1, testutil.CollectAndCount(m.BalanceChanges))
	require.Equal(t, 1.0, testutil.ToFloat64(m.BalanceChanges.WithLabelValues(string(repository.ReasonInitialSetup))))
}

func TestRecomputeRunningBalances(t *testing.T) {
	t.Parallel()
	env, ctx := setupTest(t)
	_, err := env.balances.AddFileBalance(ctx, FileBalanceInput{Balance: dec("100"), FileName: "s.csv", StatementDate: day(t, "2026-01-10")})
	require.NoError(t, err)
	early := env.addTx(t, ctx, "2026-01-01", "-5", "EARLY")
	a := env.addTx(t, ctx, "2026-01-11", "-30", "A")
	b := env.addTx(t, ctx, "2026-01-12", "12.5", "B")

	n, err := env.balances.RecomputeRunningBalances(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got, err := env.store.Transactions.Get(ctx, early.ID)
	require.NoError(t, err)
	require.Nil(t, got.RunningBalance)
	got, err = env.store.Transactions.Get(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, got.RunningBalance.Equal(dec("70")))
	got, err = env.store.Transactions.Get(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, got.RunningBalance.Equal(dec("82.5")))
}

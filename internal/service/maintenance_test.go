package service

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jask/saldo/internal/database"
	"github.com/jask/saldo/internal/database/repository"
)

func TestBackupRestoreRoundTrip(t *testing.T) {
	t.Parallel()
	env, ctx := setupTest(t)
	health := env.category(t, ctx, "Health")
	_, err := env.categorizer.CreateRule(ctx, RuleInput{CategoryID: health.ID, Pattern: "chemist", Priority: 7})
	require.NoError(t, err)
	_, err = env.ingest.ImportCSV(ctx, strings.NewReader("2026-01-02,-9.95,CHEMIST WAREHOUSE\n2026-01-03,40,GIFT\n"), ImportOptions{FileName: "jan.csv"})
	require.NoError(t, err)
	_, err = env.balances.AddFileBalance(ctx, FileBalanceInput{Balance: dec("321.09"), FileName: "jan.csv", StatementDate: day(t, "2026-01-01")})
	require.NoError(t, err)
	_, err = env.balances.SetManualBalance(ctx, dec("350"), "")
	require.NoError(t, err)

	var buf bytes.Buffer
	before, err := env.maintenance.WriteBackup(ctx, &buf)
	require.NoError(t, err)
	require.NotEmpty(t, before.ID)
	require.Len(t, before.Transactions, 2)
	require.Len(t, before.Audit, 2)

	require.NoError(t, env.maintenance.WipeAll(ctx))
	n, err := env.store.Transactions.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	restored, err := env.maintenance.Restore(ctx, &buf)
	require.NoError(t, err)
	require.Equal(t, before.ID, restored.ID)

	after, err := env.maintenance.Export(ctx)
	require.NoError(t, err)
	require.Equal(t, before.Categories, after.Categories)
	require.Len(t, after.Rules, 1)
	require.Equal(t, before.Rules[0].Pattern, after.Rules[0].Pattern)
	require.Len(t, after.Transactions, 2)
	for i := range before.Transactions {
		b, a := before.Transactions[i], after.Transactions[i]
		require.Equal(t, b.ID, a.ID)
		require.Equal(t, b.Description, a.Description)
		require.True(t, b.Amount.Equal(a.Amount))
		require.Equal(t, b.CategoryID, a.CategoryID)
		require.Nil(t, a.ImportID)
	}
	require.Len(t, after.FileBalances, 1)
	require.True(t, after.FileBalances[0].IsSelected)
	require.True(t, after.Balance.Balance.Equal(dec("350")))
	require.True(t, after.Balance.IsManual)

	require.Len(t, after.Audit, 3)
	require.Equal(t, repository.ReasonOther, after.Audit[0].Reason)
	require.Equal(t, "restore", after.Audit[0].Note)
	require.Equal(t, repository.ReasonManualOverride, after.Audit[1].Reason)
	require.Equal(t, repository.ReasonInitialSetup, after.Audit[2].Reason)
}

func TestRestoreRejectsBadDocuments(t *testing.T) {
	t.Parallel()
	env, ctx := setupTest(t)

	_, err := env.maintenance.Restore(ctx, strings.NewReader("{not json"))
	require.ErrorIs(t, err, ErrValidation)
	_, err = env.maintenance.Restore(ctx, strings.NewReader(`{"version": 9}`))
	require.ErrorIs(t, err, ErrValidation)
	_, err = env.maintenance.Restore(ctx, strings.NewReader(`{"version": 1, "categories": [{"id": 1, "name": "A", "type": "both", "color": "#000000"}]}`))
	require.ErrorIs(t, err, ErrValidation)

	_, err = env.maintenance.Restore(ctx, strings.NewReader(`{"version": 1,
		"categories": [{"id": 1, "name": "A", "type": "both", "color": "#000000", "is_default": true}],
		"rules": [{"id": 4, "category_id": 1, "pattern": "(bad[", "match_type": "regex", "priority": 1, "enabled": true}]}`))
	require.ErrorIs(t, err, ErrValidation)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "rules[0].pattern", verr.Field)

	cats, err := env.store.Categories.List(ctx)
	require.NoError(t, err)
	require.Len(t, cats, len(database.DefaultCategories))
}

func TestWipeAllReseeds(t *testing.T) {
	t.Parallel()
	env, ctx := setupTest(t)
	env.balances.Default = dec("5")
	env.maintenance.Fallback = "Misc"
	_, err := env.categorizer.CreateCategory(ctx, CategoryInput{Name: "Pets"})
	require.NoError(t, err)
	env.addTx(t, ctx, "2026-01-01", "-1", "X")
	_, err = env.balances.SetManualBalance(ctx, dec("77"), "")
	require.NoError(t, err)

	require.NoError(t, env.maintenance.WipeAll(ctx))

	cats, err := env.store.Categories.List(ctx)
	require.NoError(t, err)
	require.Len(t, cats, len(database.DefaultCategories))
	def, err := env.store.Categories.Default(ctx)
	require.NoError(t, err)
	require.Equal(t, "Misc", def.Name)

	audit, err := env.balances.AuditLog(ctx, 0)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	require.Equal(t, repository.ReasonReset, audit[0].Reason)
	cur, err := env.balances.Current(ctx)
	require.NoError(t, err)
	require.True(t, cur.Balance.Equal(dec("5")))
}

func TestWriteBackupFile(t *testing.T) {
	t.Parallel()
	env, ctx := setupTest(t)
	path := filepath.Join(t.TempDir(), "nested", "saldo.json")
	b, err := env.maintenance.WriteBackupFile(ctx, path)
	require.NoError(t, err)
	require.Equal(t, 1, b.Version)
	require.FileExists(t, path)
	require.NoFileExists(t, path+".tmp")
}

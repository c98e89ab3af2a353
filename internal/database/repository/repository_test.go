package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/jask/saldo/internal/database"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	require.NoError(t, database.RunMigrations(path))
	db, err := database.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.SeedDefaults(context.Background(), db))
	return NewStore(db)
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(DateLayout, s)
	require.NoError(t, err)
	return d
}

func TestCategoryCreateDuplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.Categories.Create(ctx, Category{Name: "Pets", Type: CategoryExpense, Color: "#ffffff"})
	require.NoError(t, err)
	require.NotZero(t, id)

	_, err = s.Categories.Create(ctx, Category{Name: "Pets", Type: CategoryExpense, Color: "#000000"})
	require.ErrorIs(t, err, ErrDuplicate)

	def, err := s.Categories.Default(ctx)
	require.NoError(t, err)
	require.Equal(t, database.DefaultCategoryName, def.Name)

	require.ErrorIs(t, s.Categories.Delete(ctx, 99999), ErrNotFound)
}

func TestRulesOrderedByPriorityThenID(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	def, err := s.Categories.Default(ctx)
	require.NoError(t, err)

	low, err := s.Rules.Create(ctx, CategoryRule{CategoryID: def.ID, Pattern: "a", MatchType: "contains", Priority: 1, Enabled: true})
	require.NoError(t, err)
	highA, err := s.Rules.Create(ctx, CategoryRule{CategoryID: def.ID, Pattern: "b", MatchType: "contains", Priority: 10, Enabled: true})
	require.NoError(t, err)
	highB, err := s.Rules.Create(ctx, CategoryRule{CategoryID: def.ID, Pattern: "c", MatchType: "contains", Priority: 10, Enabled: false})
	require.NoError(t, err)

	rules, err := s.Rules.List(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	require.Equal(t, []int64{highA, highB, low}, []int64{rules[0].ID, rules[1].ID, rules[2].ID})
	require.Equal(t, database.DefaultCategoryName, rules[0].CategoryName)
	require.False(t, rules[1].Enabled)
}

func TestTransactionInsertAndFilters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	cats, err := s.Categories.List(ctx)
	require.NoError(t, err)
	groceries := cats[1].ID
	dining := cats[2].ID

	hash := "h1"
	id, err := s.Transactions.Insert(ctx, Transaction{
		Date: mustDate(t, "2026-01-05"), Amount: decimal.RequireFromString("45.60"), Type: TypeExpense,
		Description: "WOOLWORTHS 123", CategoryID: &groceries, SourceHash: &hash,
	})
	require.NoError(t, err)
	_, err = s.Transactions.Insert(ctx, Transaction{
		Date: mustDate(t, "2026-01-06"), Amount: decimal.RequireFromString("45.60"), Type: TypeExpense,
		Description: "dupe", SourceHash: &hash,
	})
	require.ErrorIs(t, err, ErrDuplicate)

	_, err = s.Transactions.Insert(ctx, Transaction{
		Date: mustDate(t, "2026-01-07"), Amount: decimal.NewFromInt(1000), Type: TypeIncome, Description: "SALARY",
	})
	require.NoError(t, err)

	got, err := s.Transactions.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, got.Amount.Equal(decimal.RequireFromString("45.6")))
	require.True(t, got.Signed().Equal(decimal.RequireFromString("-45.6")))
	require.Equal(t, "2026-01-05", got.Date.Format(DateLayout))
	require.Equal(t, groceries, *got.CategoryID)

	// manual override moves the effective category
	require.NoError(t, s.Transactions.SetManualCategory(ctx, id, dining))
	list, err := s.Transactions.List(ctx, TransactionFilters{CategoryID: dining})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.True(t, list[0].IsManualOverride)

	list, err = s.Transactions.List(ctx, TransactionFilters{Type: TypeIncome})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "SALARY", list[0].Description)

	list, err = s.Transactions.List(ctx, TransactionFilters{From: mustDate(t, "2026-01-06"), Ascending: true})
	require.NoError(t, err)
	require.Len(t, list, 1)

	near, err := s.Transactions.Near(ctx, mustDate(t, "2026-01-07"), decimal.RequireFromString("45.6"), TypeExpense, 3)
	require.NoError(t, err)
	require.Len(t, near, 1)

	_, err = s.Transactions.Get(ctx, 424242)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFileBalanceSelectIsExclusive(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	sel, err := s.FileBalances.Selected(ctx)
	require.NoError(t, err)
	require.Nil(t, sel)

	d := mustDate(t, "2026-02-01")
	a, err := s.FileBalances.Insert(ctx, FileBalance{Balance: decimal.NewFromInt(100), FileName: "jan.csv", StatementDate: &d})
	require.NoError(t, err)
	b, err := s.FileBalances.Insert(ctx, FileBalance{Balance: decimal.NewFromInt(200), FileName: "feb.csv"})
	require.NoError(t, err)

	require.NoError(t, s.FileBalances.Select(ctx, a))
	require.NoError(t, s.FileBalances.Select(ctx, b))
	require.ErrorIs(t, s.FileBalances.Select(ctx, 999), ErrNotFound)

	sel, err = s.FileBalances.Selected(ctx)
	require.NoError(t, err)
	require.NotNil(t, sel)
	require.Equal(t, b, sel.ID)
	require.Nil(t, sel.StatementDate)

	first, err := s.FileBalances.Get(ctx, a)
	require.NoError(t, err)
	require.False(t, first.IsSelected)
	require.Equal(t, "2026-02-01", first.StatementDate.Format(DateLayout))
}

func TestAtomicRollsBackBalanceAndAudit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.Exec(ctx, `CREATE TRIGGER fail_audit BEFORE INSERT ON balance_audit_log BEGIN SELECT RAISE(ABORT, 'boom'); END;`))

	err := s.Atomic(ctx, func(tx *Store) error {
		if err := tx.Balance.Set(ctx, decimal.NewFromInt(500), true, database.Now()); err != nil {
			return err
		}
		_, err := tx.Audit.Append(ctx, AuditEntry{NewValue: decimal.NewFromInt(500), Reason: ReasonManualOverride})
		return err
	})
	require.Error(t, err)

	bal, err := s.Balance.Get(ctx)
	require.NoError(t, err)
	require.True(t, bal.Balance.IsZero())
	n, err := s.Audit.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestAuditListNewestFirst(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	old := decimal.NewFromInt(1)
	_, err := s.Audit.Append(ctx, AuditEntry{NewValue: decimal.NewFromInt(1), Reason: ReasonInitialSetup})
	require.NoError(t, err)
	_, err = s.Audit.Append(ctx, AuditEntry{OldValue: &old, NewValue: decimal.RequireFromString("2.50"), Reason: ReasonManualOverride, Note: "fix"})
	require.NoError(t, err)

	entries, err := s.Audit.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, ReasonManualOverride, entries[0].Reason)
	require.True(t, entries[0].OldValue.Equal(old))
	require.Nil(t, entries[1].OldValue)

	entries, err = s.Audit.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestNestedAtomicJoinsOuterTx(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	err := s.Atomic(ctx, func(tx *Store) error {
		return tx.Atomic(ctx, func(inner *Store) error {
			_, err := inner.Imports.Insert(ctx, "a.csv")
			return err
		})
	})
	require.NoError(t, err)
	imports, err := s.Imports.List(ctx)
	require.NoError(t, err)
	require.Len(t, imports, 1)
	require.Equal(t, "a.csv", imports[0].Filename)
}

var _ DBTX = (*sql.DB)(nil)
var _ DBTX = (*sql.Tx)(nil)

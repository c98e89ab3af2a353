package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jask/saldo/internal/categorize"
	"github.com/jask/saldo/internal/database/repository"
)

func TestManualOverrideWinsOverRules(t *testing.T) {
	t.Parallel()
	env, ctx := setupTest(t)
	groceries := env.category(t, ctx, "Groceries")
	dining := env.category(t, ctx, "Dining & Drinks")

	_, err := env.categorizer.CreateRule(ctx, RuleInput{CategoryID: groceries.ID, Pattern: "woolworths", Priority: 1000})
	require.NoError(t, err)
	tx := env.addTx(t, ctx, "2026-01-10", "-12.50", "WOOLWORTHS METRO")

	pinned, err := env.categorizer.SetManualCategory(ctx, tx.ID, dining.ID)
	require.NoError(t, err)
	require.True(t, pinned.IsManualOverride)

	rep, err := env.categorizer.Recategorize(ctx, RecategorizeOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, rep.Total)
	require.Equal(t, 1, rep.Overridden)
	require.Zero(t, rep.Updated)

	got, err := env.store.Transactions.Get(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, dining.ID, *EffectiveCategoryID(got))

	cleared, err := env.categorizer.ClearManualCategory(ctx, tx.ID)
	require.NoError(t, err)
	require.False(t, cleared.IsManualOverride)
	require.Equal(t, groceries.ID, *EffectiveCategoryID(cleared))
}

func TestRecategorizeWithMalformedRule(t *testing.T) {
	t.Parallel()
	env, ctx := setupTest(t)
	groceries := env.category(t, ctx, "Groceries")
	transport := env.category(t, ctx, "Transport")

	// written through the repository to bypass validation
	badID, err := env.store.Rules.Create(ctx, repository.CategoryRule{
		CategoryID: transport.ID, Pattern: "([unclosed", MatchType: categorize.MatchRegex, Priority: 50, Enabled: true,
	})
	require.NoError(t, err)
	_, err = env.categorizer.CreateRule(ctx, RuleInput{CategoryID: groceries.ID, Pattern: "coles"})
	require.NoError(t, err)
	_, err = env.categorizer.CreateRule(ctx, RuleInput{CategoryID: transport.ID, Pattern: "^myki", MatchType: "regex"})
	require.NoError(t, err)

	env.addTx(t, ctx, "2026-01-01", "-10", "COLES 1")
	env.addTx(t, ctx, "2026-01-02", "-20", "coles express")
	env.addTx(t, ctx, "2026-01-03", "-30", "MYKI TOPUP")
	orphan := env.addTx(t, ctx, "2026-01-04", "-40", "UNKNOWN MERCHANT")

	rep, err := env.categorizer.Recategorize(ctx, RecategorizeOptions{})
	require.NoError(t, err)
	require.Equal(t, 4, rep.Total)
	require.Equal(t, 3, rep.Updated)
	require.Equal(t, 1, rep.Failed)
	require.Equal(t, rep.Total, rep.Updated+rep.Unchanged+rep.Overridden+rep.Failed)
	require.Len(t, rep.RuleErrors, 1)
	require.Len(t, rep.Failures, 1)
	require.Equal(t, orphan.ID, rep.Failures[0].TransactionID)
	require.Equal(t, []int64{badID}, rep.Failures[0].RuleIDs)

	got, err := env.store.Transactions.Get(ctx, orphan.ID)
	require.NoError(t, err)
	require.Nil(t, got.CategoryID)

	// second run only reports
	rep, err = env.categorizer.Recategorize(ctx, RecategorizeOptions{})
	require.NoError(t, err)
	require.Equal(t, 3, rep.Unchanged)
	require.Equal(t, 1, rep.Failed)
}

func TestClearOverrideWithMalformedRuleKeepsRuleCategory(t *testing.T) {
	t.Parallel()
	env, ctx := setupTest(t)
	income := env.category(t, ctx, "Income")
	transport := env.category(t, ctx, "Transport")

	_, err := env.store.Rules.Create(ctx, repository.CategoryRule{
		CategoryID: transport.ID, Pattern: "([unclosed", MatchType: categorize.MatchRegex, Priority: 50, Enabled: true,
	})
	require.NoError(t, err)
	tx := env.addTx(t, ctx, "2026-03-01", "-8", "MYSTERY")

	pinned, err := env.categorizer.SetManualCategory(ctx, tx.ID, income.ID)
	require.NoError(t, err)
	require.Equal(t, income.ID, *EffectiveCategoryID(pinned))
	require.Nil(t, pinned.CategoryID)

	cleared, err := env.categorizer.ClearManualCategory(ctx, tx.ID)
	require.NoError(t, err)
	require.False(t, cleared.IsManualOverride)
	require.Nil(t, cleared.CategoryID)
	require.Nil(t, EffectiveCategoryID(cleared))

	got, err := env.store.Transactions.Get(ctx, tx.ID)
	require.NoError(t, err)
	require.Nil(t, got.CategoryID)
	require.Nil(t, got.ManualCategoryID)

	list, err := env.store.Transactions.List(ctx, repository.TransactionFilters{CategoryID: income.ID})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestRecategorizeDryRunAndFallback(t *testing.T) {
	t.Parallel()
	env, ctx := setupTest(t)
	fallback := env.category(t, ctx, "Uncategorised")
	tx := env.addTx(t, ctx, "2026-02-01", "-5", "SOMETHING")

	rep, err := env.categorizer.Recategorize(ctx, RecategorizeOptions{DryRun: true})
	require.NoError(t, err)
	require.True(t, rep.DryRun)
	require.Equal(t, 1, rep.Updated)
	require.Len(t, rep.Changes, 1)
	require.Equal(t, "Uncategorised", rep.Changes[0].To)

	got, err := env.store.Transactions.Get(ctx, tx.ID)
	require.NoError(t, err)
	require.Nil(t, got.CategoryID)

	rep, err = env.categorizer.Recategorize(ctx, RecategorizeOptions{IDs: []int64{tx.ID}})
	require.NoError(t, err)
	require.Equal(t, 1, rep.Updated)
	got, err = env.store.Transactions.Get(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, fallback.ID, *got.CategoryID)

	_, err = env.categorizer.Recategorize(ctx, RecategorizeOptions{IDs: []int64{tx.ID, 9999}})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBulkOperationsAreAtomic(t *testing.T) {
	t.Parallel()
	env, ctx := setupTest(t)
	health := env.category(t, ctx, "Health")
	a := env.addTx(t, ctx, "2026-01-01", "-10", "CHEMIST")
	b := env.addTx(t, ctx, "2026-01-02", "-11", "DOCTOR")

	_, err := env.categorizer.BulkSetCategory(ctx, []int64{a.ID, 4242}, health.ID)
	require.ErrorIs(t, err, ErrNotFound)
	got, err := env.store.Transactions.Get(ctx, a.ID)
	require.NoError(t, err)
	require.False(t, got.IsManualOverride)

	n, err := env.categorizer.BulkSetCategory(ctx, []int64{a.ID, b.ID}, health.ID)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	n, err = env.categorizer.BulkClearOverride(ctx, []int64{a.ID})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = env.categorizer.BulkDelete(ctx, []int64{a.ID, 4242})
	require.ErrorIs(t, err, ErrNotFound)
	count, err := env.store.Transactions.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	_, err = env.categorizer.BulkDelete(ctx, nil)
	require.ErrorIs(t, err, ErrValidation)
	n, err = env.categorizer.BulkDelete(ctx, []int64{a.ID, b.ID})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestCategoryAndRuleValidation(t *testing.T) {
	t.Parallel()
	env, ctx := setupTest(t)

	_, err := env.categorizer.CreateCategory(ctx, CategoryInput{Name: "Pets", Color: "red"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "color", verr.Field)

	_, err = env.categorizer.CreateCategory(ctx, CategoryInput{Name: "Pets", Type: "sometimes"})
	require.ErrorIs(t, err, ErrValidation)

	pets, err := env.categorizer.CreateCategory(ctx, CategoryInput{Name: " Pets ", Type: "expense", Color: "#112233"})
	require.NoError(t, err)
	require.Equal(t, "Pets", pets.Name)

	_, err = env.categorizer.CreateCategory(ctx, CategoryInput{Name: "Pets"})
	require.ErrorIs(t, err, ErrValidation)

	_, err = env.categorizer.CreateRule(ctx, RuleInput{CategoryID: pets.ID, Pattern: "(", MatchType: "regex"})
	require.ErrorIs(t, err, ErrValidation)
	_, err = env.categorizer.CreateRule(ctx, RuleInput{CategoryID: pets.ID, Pattern: "vet", Priority: 1001})
	require.ErrorIs(t, err, ErrValidation)
	_, err = env.categorizer.CreateRule(ctx, RuleInput{CategoryID: 9999, Pattern: "vet"})
	require.ErrorIs(t, err, ErrValidation)

	rule, err := env.categorizer.CreateRule(ctx, RuleInput{CategoryID: pets.ID, Pattern: "vet", MatchType: "prefix"})
	require.NoError(t, err)
	require.True(t, rule.Enabled)
	require.Equal(t, "Pets", rule.CategoryName)

	off := false
	rule, err = env.categorizer.UpdateRule(ctx, rule.ID, RuleInput{CategoryID: pets.ID, Pattern: "vet", MatchType: "prefix", Enabled: &off})
	require.NoError(t, err)
	require.False(t, rule.Enabled)
	rule, err = env.categorizer.UpdateRule(ctx, rule.ID, RuleInput{CategoryID: pets.ID, Pattern: "petbarn", Priority: 3})
	require.NoError(t, err)
	require.False(t, rule.Enabled)
	require.Equal(t, 3, rule.Priority)

	_, err = env.categorizer.UpdateRule(ctx, 9999, RuleInput{CategoryID: pets.ID, Pattern: "x"})
	require.ErrorIs(t, err, ErrNotFound)

	fallback := env.category(t, ctx, "Uncategorised")
	require.ErrorIs(t, env.categorizer.DeleteCategory(ctx, fallback.ID), ErrValidation)
	require.NoError(t, env.categorizer.DeleteCategory(ctx, pets.ID))
	rules, err := env.categorizer.ListRules(ctx)
	require.NoError(t, err)
	require.Empty(t, rules)
	require.ErrorIs(t, env.categorizer.DeleteCategory(ctx, pets.ID), ErrNotFound)
}

func TestEnsureFallbackRenames(t *testing.T) {
	t.Parallel()
	env, ctx := setupTest(t)
	svc := &CategorizerService{Store: env.store, Fallback: "Other"}
	require.NoError(t, svc.EnsureFallback(ctx))
	def, err := env.store.Categories.Default(ctx)
	require.NoError(t, err)
	require.Equal(t, "Other", def.Name)

	res, err := svc.Preview(ctx, "anything")
	require.NoError(t, err)
	require.False(t, res.Matched)
	require.Equal(t, "Other", res.CategoryName)
	require.Equal(t, def.ID, res.CategoryID)
}

package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/jask/saldo/internal/categorize"
	"github.com/jask/saldo/internal/database/repository"
	"github.com/jask/saldo/internal/metrics"
)

const (
	minPriority = -1000
	maxPriority = 1000
	// maxChanges bounds the per-transaction change list in a report.
	maxChanges = 100
)

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// CategorizerService applies categorization precedence: a manual override
// always wins, then the first matching rule, then the fallback category.
type CategorizerService struct {
	Store *repository.Store
	// Fallback is the configured name of the default category.
	Fallback string
	Log      zerolog.Logger
	Metrics  *metrics.Metrics
}

// EffectiveCategoryID returns the category a transaction is reported under.
func EffectiveCategoryID(t repository.Transaction) *int64 {
	if t.IsManualOverride {
		return t.ManualCategoryID
	}
	return t.CategoryID
}

// EnsureFallback renames the default category to the configured name.
func (s *CategorizerService) EnsureFallback(ctx context.Context) error {
	name := strings.TrimSpace(s.Fallback)
	if name == "" {
		return nil
	}
	def, err := s.Store.Categories.Default(ctx)
	if err != nil {
		return err
	}
	if def.Name == name {
		return nil
	}
	def.Name = name
	if err := s.Store.Categories.Update(ctx, def); err != nil {
		return fmt.Errorf("rename fallback category: %w", err)
	}
	return nil
}

func loadMatcher(ctx context.Context, st *repository.Store) (*categorize.Matcher, repository.Category, error) {
	def, err := st.Categories.Default(ctx)
	if err != nil {
		return nil, repository.Category{}, err
	}
	rows, err := st.Rules.List(ctx)
	if err != nil {
		return nil, repository.Category{}, fmt.Errorf("load rules: %w", err)
	}
	rules := make([]categorize.Rule, 0, len(rows))
	for _, r := range rows {
		rules = append(rules, categorize.Rule{
			ID:           r.ID,
			CategoryID:   r.CategoryID,
			CategoryName: r.CategoryName,
			Pattern:      r.Pattern,
			MatchType:    r.MatchType,
			Priority:     r.Priority,
			Enabled:      r.Enabled,
		})
	}
	return categorize.NewMatcher(rules, def.Name), def, nil
}

// target resolves the category id a rule evaluation assigns.
func target(res categorize.Result, def repository.Category) int64 {
	if res.Matched {
		return res.CategoryID
	}
	return def.ID
}

// failedEvaluation reports whether a malformed rule may have hidden the real match.
func failedEvaluation(res categorize.Result) bool {
	return !res.Matched && len(res.Skipped) > 0
}

func evaluationFailure(t repository.Transaction, res categorize.Result) RecategorizeFailure {
	f := RecategorizeFailure{TransactionID: t.ID, Description: t.Description}
	msgs := make([]string, 0, len(res.Skipped))
	for _, sk := range res.Skipped {
		f.RuleIDs = append(f.RuleIDs, sk.RuleID)
		msgs = append(msgs, sk.Error())
	}
	f.Error = strings.Join(msgs, "; ")
	return f
}

// Preview evaluates description against the current rules without writing.
func (s *CategorizerService) Preview(ctx context.Context, description string) (categorize.Result, error) {
	m, def, err := loadMatcher(ctx, s.Store)
	if err != nil {
		return categorize.Result{}, err
	}
	res := m.Categorize(description)
	if !res.Matched {
		res.CategoryID = def.ID
	}
	return res, nil
}

// RecategorizeOptions scopes a bulk run. Empty IDs means every transaction.
type RecategorizeOptions struct {
	IDs    []int64
	DryRun bool
}

type RecategorizeFailure struct {
	TransactionID int64   `json:"transaction_id"`
	Description   string  `json:"description"`
	RuleIDs       []int64 `json:"rule_ids"`
	Error         string  `json:"error"`
}

type CategoryChange struct {
	TransactionID int64  `json:"transaction_id"`
	Description   string `json:"description"`
	From          string `json:"from"`
	To            string `json:"to"`
	RuleID        int64  `json:"rule_id,omitempty"`
}

// RecategorizeReport accounts for every scoped transaction exactly once:
// Updated+Unchanged+Overridden+Failed == Total.
type RecategorizeReport struct {
	DryRun           bool                   `json:"dry_run"`
	Total            int                    `json:"total"`
	Updated          int                    `json:"updated"`
	Unchanged        int                    `json:"unchanged"`
	Overridden       int                    `json:"overridden"`
	Failed           int                    `json:"failed"`
	Failures         []RecategorizeFailure  `json:"failures,omitempty"`
	RuleErrors       []categorize.RuleError `json:"rule_errors,omitempty"`
	Changes          []CategoryChange       `json:"changes,omitempty"`
	ChangesTruncated bool                   `json:"changes_truncated,omitempty"`
}

// Recategorize re-runs the rules over transactions in one database
// transaction. Manual overrides are left alone. A transaction whose
// evaluation hit a malformed rule without finding a valid match is left
// unchanged and reported as failed. Any persistence error rolls back the
// whole batch.
func (s *CategorizerService) Recategorize(ctx context.Context, opts RecategorizeOptions) (RecategorizeReport, error) {
	rep := RecategorizeReport{DryRun: opts.DryRun}
	err := s.Store.Atomic(ctx, func(st *repository.Store) error {
		m, def, err := loadMatcher(ctx, st)
		if err != nil {
			return err
		}
		rep.RuleErrors = m.Errors()
		names, err := categoryNames(ctx, st)
		if err != nil {
			return err
		}

		var txs []repository.Transaction
		if len(opts.IDs) == 0 {
			txs, err = st.Transactions.List(ctx, repository.TransactionFilters{Ascending: true})
			if err != nil {
				return fmt.Errorf("list transactions: %w", err)
			}
		} else {
			for _, id := range opts.IDs {
				t, err := st.Transactions.Get(ctx, id)
				if err != nil {
					return err
				}
				txs = append(txs, t)
			}
		}

		for _, t := range txs {
			rep.Total++
			if t.IsManualOverride {
				rep.Overridden++
				continue
			}
			res := m.Categorize(t.Description)
			if failedEvaluation(res) {
				rep.Failed++
				rep.Failures = append(rep.Failures, evaluationFailure(t, res))
				continue
			}
			to := target(res, def)
			if t.CategoryID != nil && *t.CategoryID == to {
				rep.Unchanged++
				continue
			}
			rep.Updated++
			if len(rep.Changes) < maxChanges {
				rep.Changes = append(rep.Changes, CategoryChange{
					TransactionID: t.ID,
					Description:   t.Description,
					From:          nameOf(t.CategoryID, names),
					To:            names[to],
					RuleID:        res.RuleID,
				})
			} else {
				rep.ChangesTruncated = true
			}
			if opts.DryRun {
				continue
			}
			if err := st.Transactions.UpdateCategory(ctx, t.ID, &to); err != nil {
				return fmt.Errorf("update transaction %d: %w", t.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return RecategorizeReport{}, err
	}
	if !opts.DryRun {
		s.Metrics.AddRecategorized(rep.Updated, rep.Unchanged, rep.Overridden, rep.Failed)
	}
	s.Log.Info().
		Bool("dry_run", rep.DryRun).
		Int("total", rep.Total).
		Int("updated", rep.Updated).
		Int("unchanged", rep.Unchanged).
		Int("overridden", rep.Overridden).
		Int("failed", rep.Failed).
		Int("rule_errors", len(rep.RuleErrors)).
		Msg("recategorize")
	return rep, nil
}

// SetManualCategory pins categoryID on a transaction.
func (s *CategorizerService) SetManualCategory(ctx context.Context, txID, categoryID int64) (repository.Transaction, error) {
	var out repository.Transaction
	err := s.Store.Atomic(ctx, func(st *repository.Store) error {
		if _, err := st.Categories.Get(ctx, categoryID); err != nil {
			return err
		}
		if err := st.Transactions.SetManualCategory(ctx, txID, categoryID); err != nil {
			return err
		}
		var err error
		out, err = st.Transactions.Get(ctx, txID)
		return err
	})
	return out, err
}

// ClearManualCategory drops the pin and re-applies the rules.
func (s *CategorizerService) ClearManualCategory(ctx context.Context, txID int64) (repository.Transaction, error) {
	var out repository.Transaction
	err := s.Store.Atomic(ctx, func(st *repository.Store) error {
		m, def, err := loadMatcher(ctx, st)
		if err != nil {
			return err
		}
		out, err = clearOverride(ctx, st, m, def, txID)
		return err
	})
	return out, err
}

func clearOverride(ctx context.Context, st *repository.Store, m *categorize.Matcher, def repository.Category, txID int64) (repository.Transaction, error) {
	if err := st.Transactions.ClearManualCategory(ctx, txID); err != nil {
		return repository.Transaction{}, err
	}
	t, err := st.Transactions.Get(ctx, txID)
	if err != nil {
		return repository.Transaction{}, err
	}
	res := m.Categorize(t.Description)
	if failedEvaluation(res) {
		// the rule-assigned category from before the pin stays in place
		return t, nil
	}
	to := target(res, def)
	if err := st.Transactions.UpdateCategory(ctx, txID, &to); err != nil {
		return repository.Transaction{}, err
	}
	t.CategoryID = &to
	return t, nil
}

// BulkSetCategory pins categoryID on every id, or on none if any is missing.
func (s *CategorizerService) BulkSetCategory(ctx context.Context, ids []int64, categoryID int64) (int, error) {
	if len(ids) == 0 {
		return 0, invalid("ids", "at least one transaction id is required")
	}
	err := s.Store.Atomic(ctx, func(st *repository.Store) error {
		if _, err := st.Categories.Get(ctx, categoryID); err != nil {
			return err
		}
		for _, id := range ids {
			if err := st.Transactions.SetManualCategory(ctx, id, categoryID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// BulkClearOverride clears the pin on every id and re-applies the rules.
func (s *CategorizerService) BulkClearOverride(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, invalid("ids", "at least one transaction id is required")
	}
	err := s.Store.Atomic(ctx, func(st *repository.Store) error {
		m, def, err := loadMatcher(ctx, st)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if _, err := clearOverride(ctx, st, m, def, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// BulkDelete removes every id, or none if any is missing.
func (s *CategorizerService) BulkDelete(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, invalid("ids", "at least one transaction id is required")
	}
	err := s.Store.Atomic(ctx, func(st *repository.Store) error {
		for _, id := range ids {
			if err := st.Transactions.Delete(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.Log.Info().Int("count", len(ids)).Msg("transactions deleted")
	return len(ids), nil
}

// CategoryInput is the writable part of a category.
type CategoryInput struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	Color     string `json:"color"`
	SortOrder int    `json:"sort_order"`
}

func (in CategoryInput) normalize() (repository.Category, error) {
	c := repository.Category{
		Name:      strings.TrimSpace(in.Name),
		Type:      strings.ToLower(strings.TrimSpace(in.Type)),
		Color:     strings.TrimSpace(in.Color),
		SortOrder: in.SortOrder,
	}
	if c.Name == "" {
		return c, invalid("name", "is required")
	}
	if len(c.Name) > 64 {
		return c, invalid("name", "must be at most 64 characters")
	}
	switch c.Type {
	case "":
		c.Type = repository.CategoryBoth
	case repository.CategoryIncome, repository.CategoryExpense, repository.CategoryBoth:
	default:
		return c, invalid("type", "must be income, expense or both")
	}
	if c.Color == "" {
		c.Color = "#7f849c"
	}
	if !hexColor.MatchString(c.Color) {
		return c, invalid("color", "must look like #rrggbb")
	}
	return c, nil
}

func (s *CategorizerService) ListCategories(ctx context.Context) ([]repository.Category, error) {
	return s.Store.Categories.List(ctx)
}

func (s *CategorizerService) CreateCategory(ctx context.Context, in CategoryInput) (repository.Category, error) {
	c, err := in.normalize()
	if err != nil {
		return repository.Category{}, err
	}
	id, err := s.Store.Categories.Create(ctx, c)
	if err != nil {
		return repository.Category{}, duplicateAsInvalid(err, "name")
	}
	return s.Store.Categories.Get(ctx, id)
}

func (s *CategorizerService) UpdateCategory(ctx context.Context, id int64, in CategoryInput) (repository.Category, error) {
	c, err := in.normalize()
	if err != nil {
		return repository.Category{}, err
	}
	c.ID = id
	if err := s.Store.Categories.Update(ctx, c); err != nil {
		return repository.Category{}, duplicateAsInvalid(err, "name")
	}
	return s.Store.Categories.Get(ctx, id)
}

// DeleteCategory removes a category and its rules. The fallback category
// cannot be deleted.
func (s *CategorizerService) DeleteCategory(ctx context.Context, id int64) error {
	return s.Store.Atomic(ctx, func(st *repository.Store) error {
		c, err := st.Categories.Get(ctx, id)
		if err != nil {
			return err
		}
		if c.IsDefault {
			return invalid("id", "the fallback category cannot be deleted")
		}
		return st.Categories.Delete(ctx, id)
	})
}

// RuleInput is the writable part of a rule. A nil Enabled keeps the current
// value on update and defaults to true on create.
type RuleInput struct {
	CategoryID int64  `json:"category_id"`
	Pattern    string `json:"pattern"`
	MatchType  string `json:"match_type"`
	Priority   int    `json:"priority"`
	Enabled    *bool  `json:"enabled,omitempty"`
}

func validateRule(ctx context.Context, st *repository.Store, in RuleInput) (repository.CategoryRule, error) {
	r := repository.CategoryRule{
		CategoryID: in.CategoryID,
		Pattern:    strings.TrimSpace(in.Pattern),
		MatchType:  strings.ToLower(strings.TrimSpace(in.MatchType)),
		Priority:   in.Priority,
		Enabled:    true,
	}
	if in.Enabled != nil {
		r.Enabled = *in.Enabled
	}
	if r.MatchType == "" {
		r.MatchType = categorize.MatchContains
	}
	if !categorize.ValidMatchType(r.MatchType) {
		return r, invalid("match_type", "must be one of %s", strings.Join(categorize.MatchTypes, ", "))
	}
	if r.Pattern == "" {
		return r, invalid("pattern", "is required")
	}
	if err := categorize.ValidatePattern(r.Pattern, r.MatchType); err != nil {
		return r, invalid("pattern", "%v", err)
	}
	if r.Priority < minPriority || r.Priority > maxPriority {
		return r, invalid("priority", "must be between %d and %d", minPriority, maxPriority)
	}
	if r.CategoryID <= 0 {
		return r, invalid("category_id", "is required")
	}
	if _, err := st.Categories.Get(ctx, r.CategoryID); err != nil {
		return r, invalid("category_id", "unknown category %d", r.CategoryID)
	}
	return r, nil
}

func (s *CategorizerService) ListRules(ctx context.Context) ([]repository.CategoryRule, error) {
	return s.Store.Rules.List(ctx)
}

func (s *CategorizerService) CreateRule(ctx context.Context, in RuleInput) (repository.CategoryRule, error) {
	var out repository.CategoryRule
	err := s.Store.Atomic(ctx, func(st *repository.Store) error {
		r, err := validateRule(ctx, st, in)
		if err != nil {
			return err
		}
		id, err := st.Rules.Create(ctx, r)
		if err != nil {
			return err
		}
		out, err = st.Rules.Get(ctx, id)
		return err
	})
	return out, err
}

func (s *CategorizerService) UpdateRule(ctx context.Context, id int64, in RuleInput) (repository.CategoryRule, error) {
	var out repository.CategoryRule
	err := s.Store.Atomic(ctx, func(st *repository.Store) error {
		cur, err := st.Rules.Get(ctx, id)
		if err != nil {
			return err
		}
		if in.Enabled == nil {
			enabled := cur.Enabled
			in.Enabled = &enabled
		}
		r, err := validateRule(ctx, st, in)
		if err != nil {
			return err
		}
		r.ID = id
		if err := st.Rules.Update(ctx, r); err != nil {
			return err
		}
		out, err = st.Rules.Get(ctx, id)
		return err
	})
	return out, err
}

func (s *CategorizerService) DeleteRule(ctx context.Context, id int64) error {
	return s.Store.Rules.Delete(ctx, id)
}

func categoryNames(ctx context.Context, st *repository.Store) (map[int64]string, error) {
	cats, err := st.Categories.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	out := make(map[int64]string, len(cats))
	for _, c := range cats {
		out[c.ID] = c.Name
	}
	return out, nil
}

func nameOf(id *int64, names map[int64]string) string {
	if id == nil {
		return ""
	}
	return names[*id]
}

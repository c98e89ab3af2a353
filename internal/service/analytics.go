package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jask/saldo/internal/database"
	"github.com/jask/saldo/internal/database/repository"
)

// AnalyticsService serves read-only views for charts and listings.
type AnalyticsService struct {
	Store *repository.Store
	// RecentLimit bounds the recent transaction list in a summary.
	RecentLimit int
}

// TransactionView is a transaction with its effective category resolved.
type TransactionView struct {
	repository.Transaction
	EffectiveCategoryID *int64 `json:"effective_category_id,omitempty"`
	CategoryName        string `json:"category_name"`
	CategoryColor       string `json:"category_color,omitempty"`
}

type CategoryBreakdown struct {
	CategoryID *int64          `json:"category_id,omitempty"`
	Name       string          `json:"name"`
	Color      string          `json:"color,omitempty"`
	Income     decimal.Decimal `json:"income"`
	Expense    decimal.Decimal `json:"expense"`
	Net        decimal.Decimal `json:"net"`
	Count      int             `json:"count"`
}

type MonthTotal struct {
	Month   string          `json:"month"`
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
	Net     decimal.Decimal `json:"net"`
}

type Summary struct {
	From       *time.Time          `json:"from,omitempty"`
	To         *time.Time          `json:"to,omitempty"`
	Income     decimal.Decimal     `json:"income"`
	Expense    decimal.Decimal     `json:"expense"`
	Net        decimal.Decimal     `json:"net"`
	Count      int                 `json:"count"`
	Categories []CategoryBreakdown `json:"categories"`
	Monthly    []MonthTotal        `json:"monthly"`
	Recent     []TransactionView   `json:"recent"`
}

// ListTransactions returns transactions with effective categories resolved.
func (s *AnalyticsService) ListTransactions(ctx context.Context, f repository.TransactionFilters) ([]TransactionView, error) {
	cats, err := s.categoryIndex(ctx)
	if err != nil {
		return nil, err
	}
	txs, err := s.Store.Transactions.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	out := make([]TransactionView, 0, len(txs))
	for _, t := range txs {
		out = append(out, view(t, cats))
	}
	return out, nil
}

// Summary aggregates transactions between from and to (inclusive, zero means
// unbounded) by effective category and by month.
func (s *AnalyticsService) Summary(ctx context.Context, from, to time.Time) (Summary, error) {
	cats, err := s.categoryIndex(ctx)
	if err != nil {
		return Summary{}, err
	}
	txs, err := s.Store.Transactions.List(ctx, repository.TransactionFilters{From: from, To: to})
	if err != nil {
		return Summary{}, fmt.Errorf("list transactions: %w", err)
	}

	sum := Summary{Income: decimal.Zero, Expense: decimal.Zero, Net: decimal.Zero}
	if !from.IsZero() {
		sum.From = &from
	}
	if !to.IsZero() {
		sum.To = &to
	}
	byCat := map[int64]*CategoryBreakdown{}
	var uncategorised *CategoryBreakdown
	byMonth := map[string]*MonthTotal{}

	limit := s.RecentLimit
	if limit <= 0 {
		limit = 10
	}
	for _, t := range txs {
		v := view(t, cats)
		sum.Count++
		if len(sum.Recent) < limit {
			sum.Recent = append(sum.Recent, v)
		}

		var b *CategoryBreakdown
		if v.EffectiveCategoryID == nil {
			if uncategorised == nil {
				uncategorised = newBreakdown(nil, v.CategoryName, "")
			}
			b = uncategorised
		} else {
			b = byCat[*v.EffectiveCategoryID]
			if b == nil {
				b = newBreakdown(v.EffectiveCategoryID, v.CategoryName, v.CategoryColor)
				byCat[*v.EffectiveCategoryID] = b
			}
		}
		month := t.Date.Format("2006-01")
		mt := byMonth[month]
		if mt == nil {
			mt = &MonthTotal{Month: month, Income: decimal.Zero, Expense: decimal.Zero, Net: decimal.Zero}
			byMonth[month] = mt
		}

		b.Count++
		if t.Type == repository.TypeExpense {
			sum.Expense = sum.Expense.Add(t.Amount)
			b.Expense = b.Expense.Add(t.Amount)
			mt.Expense = mt.Expense.Add(t.Amount)
		} else {
			sum.Income = sum.Income.Add(t.Amount)
			b.Income = b.Income.Add(t.Amount)
			mt.Income = mt.Income.Add(t.Amount)
		}
		b.Net = b.Net.Add(t.Signed())
		mt.Net = mt.Net.Add(t.Signed())
	}
	sum.Net = sum.Income.Sub(sum.Expense)

	for _, b := range byCat {
		sum.Categories = append(sum.Categories, *b)
	}
	if uncategorised != nil {
		sum.Categories = append(sum.Categories, *uncategorised)
	}
	sort.SliceStable(sum.Categories, func(i, j int) bool {
		ei, ej := sum.Categories[i].Expense, sum.Categories[j].Expense
		if !ei.Equal(ej) {
			return ei.GreaterThan(ej)
		}
		return sum.Categories[i].Name < sum.Categories[j].Name
	})
	for _, mt := range byMonth {
		sum.Monthly = append(sum.Monthly, *mt)
	}
	sort.Slice(sum.Monthly, func(i, j int) bool { return sum.Monthly[i].Month < sum.Monthly[j].Month })
	return sum, nil
}

func newBreakdown(id *int64, name, color string) *CategoryBreakdown {
	return &CategoryBreakdown{CategoryID: id, Name: name, Color: color, Income: decimal.Zero, Expense: decimal.Zero, Net: decimal.Zero}
}

func (s *AnalyticsService) categoryIndex(ctx context.Context) (map[int64]repository.Category, error) {
	cats, err := s.Store.Categories.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	out := make(map[int64]repository.Category, len(cats))
	for _, c := range cats {
		out[c.ID] = c
	}
	return out, nil
}

func view(t repository.Transaction, cats map[int64]repository.Category) TransactionView {
	v := TransactionView{Transaction: t, EffectiveCategoryID: EffectiveCategoryID(t), CategoryName: database.DefaultCategoryName}
	if v.EffectiveCategoryID != nil {
		if c, ok := cats[*v.EffectiveCategoryID]; ok {
			v.CategoryName = c.Name
			v.CategoryColor = c.Color
		}
	}
	return v
}

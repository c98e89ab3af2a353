package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// LocalProvider answers offline with keyword heuristics. It never fails on
// well-formed input, so it is a sensible last candidate in a chain.
type LocalProvider struct{}

func NewLocalProvider() *LocalProvider { return &LocalProvider{} }

func (LocalProvider) Name() string  { return "local" }
func (LocalProvider) Model() string { return "heuristic" }

func (LocalProvider) Insight(ctx context.Context, req InsightRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cur := req.Currency
	var lines []string

	lines = append(lines, fmt.Sprintf("Income %s, spending %s, net %s.",
		money(cur, req.Income), money(cur, req.Expense), money(cur, req.Net)))

	cats := append([]CategoryTotal(nil), req.Categories...)
	sort.SliceStable(cats, func(i, j int) bool { return cats[i].Total.Abs().GreaterThan(cats[j].Total.Abs()) })
	var top []string
	for _, c := range cats {
		if len(top) == 3 {
			break
		}
		if c.Total.IsZero() {
			continue
		}
		top = append(top, fmt.Sprintf("%s %s (%s)", c.Name, money(cur, c.Total.Abs()), pluralize(c.Count, "transaction")))
	}
	if len(top) > 0 {
		lines = append(lines, "Largest categories: "+strings.Join(top, ", ")+".")
	}
	if req.Expense.IsPositive() && req.Income.IsPositive() && req.Expense.GreaterThan(req.Income) {
		lines = append(lines, "Spending is ahead of income for this period.")
	}

	if hint := fallbackHint(req); hint != "" {
		lines = append(lines, hint)
	}

	if b := req.Balance; b != nil && b.Severity != "" && b.Severity != "none" {
		lines = append(lines, fmt.Sprintf("The tracked balance is %s off the calculated balance (%s severity); check for missing or duplicate transactions.",
			money(cur, b.Difference.Abs()), b.Severity))
	}
	return strings.Join(lines, " "), nil
}

// fallbackHint suggests a category for the first uncategorised description
// that scores well against a known category name.
func fallbackHint(req InsightRequest) string {
	if req.Fallback == "" {
		return ""
	}
	uncategorised := 0
	bestDesc, bestCat, bestScore := "", "", 0.0
	for _, t := range req.Recent {
		if t.Category != req.Fallback {
			continue
		}
		uncategorised++
		desc := strings.ToLower(t.Description)
		for _, cat := range req.KnownCategories {
			if cat == req.Fallback {
				continue
			}
			if score := keywordScore(desc, cat); score > bestScore {
				bestDesc, bestCat, bestScore = t.Description, cat, score
			}
		}
	}
	if uncategorised == 0 {
		return ""
	}
	msg := fmt.Sprintf("%s recently landed in %s.", pluralize(uncategorised, "transaction"), req.Fallback)
	if bestScore >= 0.5 {
		msg += fmt.Sprintf(" A rule for %q could file %s under %s.", merchantOf(bestDesc), bestDesc, bestCat)
	}
	return msg
}

func money(symbol string, d decimal.Decimal) string {
	if d.IsNegative() {
		return "-" + symbol + d.Neg().StringFixed(2)
	}
	return symbol + d.StringFixed(2)
}

func keywordScore(desc, cat string) float64 {
	catLower := strings.ToLower(cat)
	if strings.Contains(desc, catLower) {
		return 0.9
	}
	switch {
	case strings.Contains(desc, "uber") || strings.Contains(desc, "lyft") || strings.Contains(desc, "myki"):
		if strings.Contains(catLower, "transport") {
			return 0.85
		}
	case strings.Contains(desc, "woolworth") || strings.Contains(desc, "aldi") || strings.Contains(desc, "coles"):
		if strings.Contains(catLower, "grocer") || strings.Contains(catLower, "food") {
			return 0.85
		}
	case strings.Contains(desc, "amazon") || strings.Contains(desc, "ebay"):
		if strings.Contains(catLower, "shopping") {
			return 0.8
		}
	case strings.Contains(desc, "spotify") || strings.Contains(desc, "netflix"):
		if strings.Contains(catLower, "entertainment") || strings.Contains(catLower, "subscription") {
			return 0.8
		}
	case strings.Contains(desc, "cafe") || strings.Contains(desc, "restaurant") || strings.Contains(desc, "bar "):
		if strings.Contains(catLower, "dining") {
			return 0.8
		}
	}
	return textSimilarity(desc, catLower)
}

// textSimilarity is a simple token overlap ratio in [0,1].
func textSimilarity(a, b string) float64 {
	aTokens := tokens(a)
	bTokens := tokens(b)
	if len(aTokens) == 0 || len(bTokens) == 0 {
		return 0
	}
	intersect := 0
	for t := range aTokens {
		if _, ok := bTokens[t]; ok {
			intersect++
		}
	}
	union := len(aTokens) + len(bTokens) - intersect
	return float64(intersect) / float64(union)
}

func tokens(s string) map[string]struct{} {
	parts := strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '-' || r == '_' || r == '/' || r == '*' || r == '&' })
	out := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out[p] = struct{}{}
	}
	return out
}

func pluralize(n int, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return fmt.Sprintf("%d %ss", n, word)
}

// merchantOf takes the first word of a description as the merchant token.
func merchantOf(desc string) string {
	parts := strings.Fields(desc)
	if len(parts) == 0 {
		return desc
	}
	return strings.ToUpper(parts[0])
}

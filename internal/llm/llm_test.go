package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	name  string
	calls int
	fn    func(ctx context.Context, req InsightRequest) (string, error)
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Model() string { return "test" }
func (f *fakeProvider) Insight(ctx context.Context, req InsightRequest) (string, error) {
	f.calls++
	return f.fn(ctx, req)
}

func failing(name string) *fakeProvider {
	return &fakeProvider{name: name, fn: func(context.Context, InsightRequest) (string, error) {
		return "", errors.New("quota exceeded")
	}}
}

func TestChainFallsBack(t *testing.T) {
	t.Parallel()
	first := failing("gemini")
	second := &fakeProvider{name: "openai", fn: func(context.Context, InsightRequest) (string, error) { return "ok", nil }}
	third := failing("never")

	var observed []string
	c := NewChain(zerolog.Nop(), first, second, third)
	c.Observe = func(p, r string) { observed = append(observed, p+"="+r) }

	resp, err := c.Insight(context.Background(), InsightRequest{})
	require.NoError(t, err)
	require.Equal(t, "openai", resp.Provider)
	require.Equal(t, "ok", resp.Text)
	require.Zero(t, third.calls)
	require.Equal(t, []string{"gemini=error", "openai=ok"}, observed)
}

func TestChainAllFail(t *testing.T) {
	t.Parallel()
	c := NewChain(zerolog.Nop(), failing("a"), failing("b"))
	_, err := c.Insight(context.Background(), InsightRequest{})
	require.ErrorIs(t, err, ErrUnavailable)
	require.Contains(t, err.Error(), "quota exceeded")

	_, err = NewChain(zerolog.Nop()).Insight(context.Background(), InsightRequest{})
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestChainStopsOnCancelledContext(t *testing.T) {
	t.Parallel()
	p := failing("a")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewChain(zerolog.Nop(), p).Insight(ctx, InsightRequest{})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, p.calls)
}

func TestFromCandidates(t *testing.T) {
	t.Parallel()
	keys := map[string]string{"openai": "sk-test"}
	ps, err := FromCandidates([]string{"gemini:gemini-2.5-flash", "openai:gpt-4o-mini", "local:heuristic"},
		func(p string) string { return keys[p] }, 0, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, ps, 2)
	require.Equal(t, "openai", ps[0].Name())
	require.Equal(t, "gpt-4o-mini", ps[0].Model())
	require.Equal(t, "local", ps[1].Name())

	_, err = FromCandidates([]string{"claude:x"}, func(string) string { return "" }, 0, zerolog.Nop())
	require.Error(t, err)
}

func TestHostedProvidersRequireKey(t *testing.T) {
	t.Parallel()
	_, err := NewGeminiProvider("", "", 0).Insight(context.Background(), InsightRequest{})
	require.ErrorIs(t, err, ErrNoAPIKey)
	_, err = NewOpenAIProvider(" ", "", 0).Insight(context.Background(), InsightRequest{})
	require.ErrorIs(t, err, ErrNoAPIKey)
}

func TestLocalInsight(t *testing.T) {
	t.Parallel()
	req := InsightRequest{
		Currency: "$",
		Income:   decimal.NewFromInt(1000),
		Expense:  decimal.RequireFromString("1250.5"),
		Net:      decimal.RequireFromString("-250.5"),
		Categories: []CategoryTotal{
			{Name: "Groceries", Total: decimal.NewFromInt(-400), Count: 6},
			{Name: "Transport", Total: decimal.NewFromInt(-50), Count: 1},
		},
		Recent: []TransactionInput{
			{Date: "2026-01-02", Description: "UBER *TRIP 123", Amount: decimal.NewFromInt(-20), Category: "Uncategorised"},
		},
		Balance:         &BalanceInput{Difference: decimal.NewFromInt(75), Severity: "medium"},
		Fallback:        "Uncategorised",
		KnownCategories: []string{"Groceries", "Transport", "Uncategorised"},
	}
	text, err := NewLocalProvider().Insight(context.Background(), req)
	require.NoError(t, err)
	require.Contains(t, text, "net -$250.50")
	require.Contains(t, text, "Groceries $400.00 (6 transactions)")
	require.Contains(t, text, "Spending is ahead of income")
	require.Contains(t, text, `A rule for "UBER"`)
	require.Contains(t, text, "Transport")
	require.Contains(t, text, "medium severity")
}

func TestCleanText(t *testing.T) {
	t.Parallel()
	require.Equal(t, "hello", cleanText("```text\nhello\n```"))
	require.Equal(t, "plain", cleanText("  plain "))
}

func TestTextSimilarity(t *testing.T) {
	t.Parallel()
	require.InDelta(t, 1.0, textSimilarity("a b", "b a"), 1e-9)
	require.InDelta(t, 0.0, textSimilarity("", "x"), 1e-9)
	require.InDelta(t, 1.0/3.0, textSimilarity("a b", "b c"), 1e-9)
}

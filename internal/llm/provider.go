package llm

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrNoAPIKey is returned by hosted providers without credentials.
var ErrNoAPIKey = errors.New("llm: api key not configured")

// ErrUnavailable is returned when every candidate in a chain failed.
var ErrUnavailable = errors.New("llm: all providers failed")

// Provider generates free-text insights from a financial summary.
type Provider interface {
	Name() string
	Model() string
	Insight(ctx context.Context, req InsightRequest) (string, error)
}

// InsightRequest is the financial context handed to a provider.
type InsightRequest struct {
	Question   string             `json:"question,omitempty"`
	Currency   string             `json:"currency"`
	From       string             `json:"from,omitempty"`
	To         string             `json:"to,omitempty"`
	Income     decimal.Decimal    `json:"income"`
	Expense    decimal.Decimal    `json:"expense"`
	Net        decimal.Decimal    `json:"net"`
	Categories []CategoryTotal    `json:"categories"`
	Recent     []TransactionInput `json:"recent_transactions"`
	Balance    *BalanceInput      `json:"balance,omitempty"`
	// Fallback is the name of the catch-all category.
	Fallback        string   `json:"fallback_category"`
	KnownCategories []string `json:"known_categories,omitempty"`
}

type CategoryTotal struct {
	Name  string          `json:"name"`
	Total decimal.Decimal `json:"total"`
	Count int             `json:"count"`
}

// TransactionInput carries a signed amount.
type TransactionInput struct {
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
}

type BalanceInput struct {
	Calculated decimal.Decimal `json:"calculated"`
	Live       decimal.Decimal `json:"live"`
	Difference decimal.Decimal `json:"difference"`
	Severity   string          `json:"severity"`
}

// InsightResponse is what a chain returns to callers.
type InsightResponse struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Text     string `json:"text"`
}

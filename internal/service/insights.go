package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/jask/saldo/internal/llm"
	"github.com/jask/saldo/internal/ratelimit"
)

const maxQuestionLen = 500

// InsightGenerator is satisfied by *llm.Chain.
type InsightGenerator interface {
	Insight(ctx context.Context, req llm.InsightRequest) (llm.InsightResponse, error)
}

// InsightService builds a financial summary and asks the LLM chain about it.
type InsightService struct {
	Analytics *AnalyticsService
	Balances  *BalanceService
	LLM       InsightGenerator
	Limiter   *ratelimit.Limiter
	Currency  string
	Log       zerolog.Logger
}

type InsightQuery struct {
	Question string    `json:"question"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
	// Session keys the rate limiter.
	Session string `json:"-"`
}

// Generate returns free text from the first LLM candidate that answers.
func (s *InsightService) Generate(ctx context.Context, q InsightQuery) (llm.InsightResponse, error) {
	q.Question = strings.TrimSpace(q.Question)
	if len(q.Question) > maxQuestionLen {
		return llm.InsightResponse{}, invalid("question", "must be at most %d characters", maxQuestionLen)
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return llm.InsightResponse{}, invalid("to", "must not be before from")
	}
	if s.Limiter != nil && !s.Limiter.Allow(q.Session) {
		return llm.InsightResponse{}, ErrRateLimited
	}

	req, err := s.buildRequest(ctx, q)
	if err != nil {
		return llm.InsightResponse{}, err
	}
	resp, err := s.LLM.Insight(ctx, req)
	if err != nil {
		if errors.Is(err, llm.ErrUnavailable) {
			s.Log.Error().Err(err).Msg("insight generation failed")
			return llm.InsightResponse{}, ErrServiceUnavailable
		}
		return llm.InsightResponse{}, err
	}
	s.Log.Info().Str("provider", resp.Provider).Str("model", resp.Model).Msg("insight generated")
	return resp, nil
}

func (s *InsightService) buildRequest(ctx context.Context, q InsightQuery) (llm.InsightRequest, error) {
	sum, err := s.Analytics.Summary(ctx, q.From, q.To)
	if err != nil {
		return llm.InsightRequest{}, fmt.Errorf("summary: %w", err)
	}
	cats, err := s.Analytics.Store.Categories.List(ctx)
	if err != nil {
		return llm.InsightRequest{}, fmt.Errorf("list categories: %w", err)
	}
	req := llm.InsightRequest{
		Question: q.Question,
		Currency: s.Currency,
		Income:   sum.Income,
		Expense:  sum.Expense,
		Net:      sum.Net,
	}
	if !q.From.IsZero() {
		req.From = q.From.Format("2006-01-02")
	}
	if !q.To.IsZero() {
		req.To = q.To.Format("2006-01-02")
	}
	for _, c := range cats {
		req.KnownCategories = append(req.KnownCategories, c.Name)
		if c.IsDefault {
			req.Fallback = c.Name
		}
	}
	for _, b := range sum.Categories {
		req.Categories = append(req.Categories, llm.CategoryTotal{Name: b.Name, Total: b.Net, Count: b.Count})
	}
	for _, t := range sum.Recent {
		req.Recent = append(req.Recent, llm.TransactionInput{
			Date:        t.Date.Format("2006-01-02"),
			Description: t.Description,
			Amount:      t.Signed(),
			Category:    t.CategoryName,
		})
	}
	if s.Balances != nil {
		rep, err := s.Balances.Status(ctx)
		if err != nil {
			return llm.InsightRequest{}, fmt.Errorf("balance status: %w", err)
		}
		if rep.HasBaseline {
			req.Balance = &llm.BalanceInput{
				Calculated: rep.CalculatedBalance,
				Live:       rep.LiveBalance,
				Difference: rep.Difference,
				Severity:   string(rep.Severity),
			}
		}
	}
	return req, nil
}

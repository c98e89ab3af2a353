package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Chain tries providers in order and returns the first successful answer.
type Chain struct {
	providers []Provider
	log       zerolog.Logger
	// Observe is called once per attempt with the provider name and "ok" or "error".
	Observe func(provider, result string)
}

func NewChain(log zerolog.Logger, providers ...Provider) *Chain {
	return &Chain{providers: providers, log: log}
}

// Providers returns the candidates in order.
func (c *Chain) Providers() []Provider { return c.providers }

// Insight walks the candidates. Individual failures are logged; only a
// cancelled context or total failure is returned.
func (c *Chain) Insight(ctx context.Context, req InsightRequest) (InsightResponse, error) {
	var errs []error
	for _, p := range c.providers {
		if err := ctx.Err(); err != nil {
			return InsightResponse{}, err
		}
		text, err := p.Insight(ctx, req)
		if err != nil {
			c.observe(p.Name(), "error")
			c.log.Warn().Err(err).Str("provider", p.Name()).Str("model", p.Model()).Msg("insight candidate failed")
			errs = append(errs, fmt.Errorf("%s:%s: %w", p.Name(), p.Model(), err))
			continue
		}
		c.observe(p.Name(), "ok")
		return InsightResponse{Provider: p.Name(), Model: p.Model(), Text: text}, nil
	}
	if len(errs) == 0 {
		return InsightResponse{}, fmt.Errorf("%w: no providers configured", ErrUnavailable)
	}
	return InsightResponse{}, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(errs...))
}

func (c *Chain) observe(provider, result string) {
	if c.Observe != nil {
		c.Observe(provider, result)
	}
}

// KeyFunc resolves the API key for a provider name.
type KeyFunc func(provider string) string

// FromCandidates builds providers from "provider:model" specs. Hosted
// providers without a key are skipped with a warning.
func FromCandidates(specs []string, keyFor KeyFunc, timeout time.Duration, log zerolog.Logger) ([]Provider, error) {
	var out []Provider
	for _, spec := range specs {
		name, model, ok := strings.Cut(strings.TrimSpace(spec), ":")
		if !ok {
			return nil, fmt.Errorf("llm candidate %q: want provider:model", spec)
		}
		switch strings.ToLower(name) {
		case "gemini":
			key := keyFor("gemini")
			if key == "" {
				log.Warn().Str("candidate", spec).Msg("skipping llm candidate without api key")
				continue
			}
			out = append(out, NewGeminiProvider(key, model, timeout))
		case "openai":
			key := keyFor("openai")
			if key == "" {
				log.Warn().Str("candidate", spec).Msg("skipping llm candidate without api key")
				continue
			}
			out = append(out, NewOpenAIProvider(key, model, timeout))
		case "local":
			out = append(out, NewLocalProvider())
		default:
			return nil, fmt.Errorf("llm candidate %q: unknown provider %q", spec, name)
		}
	}
	return out, nil
}

package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider uses the official openai-go client (Chat Completions).
type OpenAIProvider struct {
	apiKey  string
	model   string
	timeout time.Duration
	opts    []option.RequestOption
}

func NewOpenAIProvider(apiKey, model string, timeout time.Duration, opts ...option.RequestOption) *OpenAIProvider {
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &OpenAIProvider{apiKey: strings.TrimSpace(apiKey), model: strings.TrimSpace(model), timeout: timeout, opts: opts}
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) Insight(ctx context.Context, req InsightRequest) (string, error) {
	if p.apiKey == "" {
		return "", ErrNoAPIKey
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	opts := append([]option.RequestOption{option.WithAPIKey(p.apiKey), option.WithMaxRetries(1)}, p.opts...)
	client := openai.NewClient(opts...)
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(insightSystemPrompt),
			openai.UserMessage(insightPrompt(req)),
		},
		MaxCompletionTokens: openai.Int(600),
	})
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty response")
	}
	text := cleanText(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("openai: empty response")
	}
	return text, nil
}

// Package anthropic adapts Anthropic Claude models to the reason.Provider
// interface.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/schedflow/sched"
	"github.com/dshills/schedflow/sched/reason"
)

// defaultMaxTokens bounds the response when the request does not.
const defaultMaxTokens = 4096

// Provider calls Anthropic's messages API. Claude has no native JSON mode;
// the system prompt demands JSON-only output and the gateway strips any
// markdown fences before parsing.
//
// Safe for concurrent use.
type Provider struct {
	client *anthropic.Client
	model  string
}

var _ reason.Provider = (*Provider)(nil)

// New creates an Anthropic provider.
//
// Parameters:
//   - apiKey: Anthropic API key from https://console.anthropic.com/
//   - model: model name, e.g. "claude-sonnet-4-5"
func New(apiKey, model string) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("API key cannot be empty")
	}
	if model == "" {
		return nil, errors.New("model cannot be empty")
	}

	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Provider{client: &client, model: model}, nil
}

// Name returns "anthropic".
func (p *Provider) Name() string {
	return "anthropic"
}

// Complete performs one messages call.
func (p *Provider) Complete(ctx context.Context, req reason.Request) (reason.Response, error) {
	if err := ctx.Err(); err != nil {
		return reason.Response{}, err
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: req.System},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
		Temperature: anthropic.Float(req.Temperature),
	}

	message, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return reason.Response{}, err
	}

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return reason.Response{}, errors.New("empty response from Anthropic API")
	}

	return reason.Response{
		Content: sb.String(),
		Usage: sched.TokenUsage{
			Input:  message.Usage.InputTokens,
			Output: message.Usage.OutputTokens,
			Total:  message.Usage.InputTokens + message.Usage.OutputTokens,
		},
	}, nil
}

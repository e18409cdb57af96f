// Package openai adapts OpenAI chat models to the reason.Provider
// interface.
package openai

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/schedflow/sched"
	"github.com/dshills/schedflow/sched/reason"
)

// Provider calls OpenAI's chat completions API with JSON mode enabled, so
// responses are guaranteed to be syntactically valid JSON objects.
//
// Safe for concurrent use; the underlying client handles thread safety.
type Provider struct {
	client *openai.Client
	model  string
}

var _ reason.Provider = (*Provider)(nil)

// New creates an OpenAI provider.
//
// Parameters:
//   - apiKey: OpenAI API key
//   - model: model name, e.g. "gpt-4o-mini" or "gpt-4o"
func New(apiKey, model string) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("API key cannot be empty")
	}
	if model == "" {
		return nil, errors.New("model cannot be empty")
	}

	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &Provider{client: &client, model: model}, nil
}

// Name returns "openai".
func (p *Provider) Name() string {
	return "openai"
}

// Complete performs one JSON-mode chat completion.
func (p *Provider) Complete(ctx context.Context, req reason.Request) (reason.Response, error) {
	if err := ctx.Err(); err != nil {
		return reason.Response{}, err
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{
						OfString: openai.String(req.System),
					},
				},
			},
			{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{
						OfString: openai.String(req.Prompt),
					},
				},
			},
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: openai.Ptr(shared.NewResponseFormatJSONObjectParam()),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return reason.Response{}, err
	}
	if len(completion.Choices) == 0 {
		return reason.Response{}, errors.New("empty response from OpenAI API")
	}

	return reason.Response{
		Content: completion.Choices[0].Message.Content,
		Usage: sched.TokenUsage{
			Input:  completion.Usage.PromptTokens,
			Output: completion.Usage.CompletionTokens,
			Total:  completion.Usage.TotalTokens,
		},
	}, nil
}

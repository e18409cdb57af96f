// Package google adapts Google Gemini models to the reason.Provider
// interface.
package google

import (
	"context"
	"errors"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/schedflow/sched"
	"github.com/dshills/schedflow/sched/reason"
)

// Provider calls the Gemini API with a JSON response MIME type, so
// responses are guaranteed to be syntactically valid JSON.
//
// Safe for concurrent use. Callers own the lifecycle: Close releases the
// underlying gRPC connection.
type Provider struct {
	client *genai.Client
	model  string
}

var _ reason.Provider = (*Provider)(nil)

// New creates a Gemini provider.
//
// Parameters:
//   - ctx: used for client construction only
//   - apiKey: Google AI API key
//   - model: model name, e.g. "gemini-1.5-flash"
func New(ctx context.Context, apiKey, model string) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("API key cannot be empty")
	}
	if model == "" {
		return nil, errors.New("model cannot be empty")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	return &Provider{client: client, model: model}, nil
}

// Name returns "google".
func (p *Provider) Name() string {
	return "google"
}

// Close releases the underlying client connection.
func (p *Provider) Close() error {
	return p.client.Close()
}

// Complete performs one generate-content call.
func (p *Provider) Complete(ctx context.Context, req reason.Request) (reason.Response, error) {
	if err := ctx.Err(); err != nil {
		return reason.Response{}, err
	}

	model := p.client.GenerativeModel(p.model)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.System != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.System)},
		}
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return reason.Response{}, err
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return reason.Response{}, errors.New("empty response from Google API")
	}

	var content string
	candidate := resp.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				content += string(text)
			}
		}
	}
	if content == "" {
		return reason.Response{}, errors.New("empty response from Google API")
	}

	var usage sched.TokenUsage
	if resp.UsageMetadata != nil {
		usage.Input = int64(resp.UsageMetadata.PromptTokenCount)
		usage.Output = int64(resp.UsageMetadata.CandidatesTokenCount)
		usage.Total = int64(resp.UsageMetadata.TotalTokenCount)
	}

	return reason.Response{Content: content, Usage: usage}, nil
}

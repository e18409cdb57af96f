// Package reason implements the reasoner gateway: the layer between the
// scheduling engine and a large-language-model provider.
//
// The gateway builds prompts from a job's context, asks the provider for
// structured JSON output, validates the response against the plan and
// schedule schemas plus semantic rules, and attempts a single low
// temperature repair when a response is malformed.
//
// Provider adapters live in the subpackages openai, anthropic, and google;
// MockProvider serves tests.
package reason

import (
	"context"

	"github.com/dshills/schedflow/sched"
)

// Request is one structured-output completion request.
type Request struct {
	// System is the system prompt framing the task and the output schema.
	System string

	// Prompt is the user-turn content: job context plus instructions.
	Prompt string

	// Temperature in [0,1]. Repair calls pin this to 0.
	Temperature float64

	// MaxTokens caps the response length. Zero lets the adapter choose.
	MaxTokens int
}

// Response is the provider's raw output plus token accounting.
type Response struct {
	Content string
	Usage   sched.TokenUsage
}

// Provider abstracts an LLM vendor. Implementations must request JSON-only
// output (native JSON mode where the vendor supports it), be safe for
// concurrent use, and respect context cancellation.
type Provider interface {
	// Complete performs one completion call.
	Complete(ctx context.Context, req Request) (Response, error)

	// Name identifies the vendor: "openai", "anthropic", "google", "mock".
	Name() string
}

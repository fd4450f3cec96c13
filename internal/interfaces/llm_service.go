package interfaces

import (
	"context"
)

// LLMService defines the interface for language model collection calls.
// Implementations wrap a specific provider API (Anthropic Claude, Google
// Gemini) behind a single prompt-in, document-out call so the collector
// pipeline stays provider-agnostic.
type LLMService interface {
	// Collect sends a collection prompt and returns the raw model response.
	// The response may be wrapped in markdown fences; callers are expected
	// to clean and parse it.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout control
	//   - prompt: Fully rendered collection prompt
	//
	// Returns:
	//   - string: Raw model output
	//   - error: Error if the provider call fails
	Collect(ctx context.Context, prompt string) (string, error)

	// Name returns the provider name ("claude" or "gemini") for logging
	// and change attribution.
	Name() string

	// HealthCheck verifies the provider is reachable and the API key is
	// accepted.
	HealthCheck(ctx context.Context) error

	// Close releases provider resources.
	Close() error
}

package llm

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/praedium/internal/common"
	"github.com/ternarybob/praedium/internal/interfaces"
	"golang.org/x/time/rate"
)

// collectionSystemPrompt is the fixed system instruction both providers
// send with every collection call. It pins the response contract the
// collector pipeline parses against.
const collectionSystemPrompt = `You are a real-estate data collection agent. ` +
	`You research residential communities, home builders, and property listings ` +
	`and report findings as structured data. Respond with a single JSON document ` +
	`that matches the schema requested in the prompt. Do not include prose, ` +
	`explanations, or markdown outside the JSON document. Use null or omit fields ` +
	`you cannot verify; never invent addresses, prices, or contact details.`

// NewLLMService creates the configured provider and wraps it in the
// shared throttle. All collection traffic flows through one rate limiter
// and one concurrency gate regardless of which workers originate it.
func NewLLMService(cfg *common.Config, logger arbor.ILogger) (interfaces.LLMService, error) {
	var (
		provider interfaces.LLMService
		err      error
	)

	switch cfg.LLM.DefaultProvider {
	case common.LLMProviderClaude:
		provider, err = NewClaudeService(&cfg.Claude, logger)
	case common.LLMProviderGemini:
		provider, err = NewGeminiService(&cfg.Gemini, logger)
	default:
		return nil, fmt.Errorf("unsupported LLM provider %q: must be %q or %q",
			cfg.LLM.DefaultProvider, common.LLMProviderClaude, common.LLMProviderGemini)
	}
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("provider", provider.Name()).
		Int("concurrency", cfg.LLM.Concurrency).
		Float64("requests_per_second", cfg.LLM.RequestsPerSecond).
		Msg("LLM provider initialized")

	return newThrottledService(provider, cfg.LLM.RequestsPerSecond, cfg.LLM.Concurrency), nil
}

// throttledService decorates a provider with a token-bucket rate limit
// and a concurrency semaphore. Both gates respect context cancellation
// so a cancelled job never queues a pointless provider call.
type throttledService struct {
	inner   interfaces.LLMService
	limiter *rate.Limiter
	slots   chan struct{}
}

func newThrottledService(inner interfaces.LLMService, requestsPerSecond float64, concurrency int) interfaces.LLMService {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2.0
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &throttledService{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
		slots:   make(chan struct{}, concurrency),
	}
}

func (t *throttledService) Collect(ctx context.Context, prompt string) (string, error) {
	select {
	case t.slots <- struct{}{}:
		defer func() { <-t.slots }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return "", err
	}

	return t.inner.Collect(ctx, prompt)
}

func (t *throttledService) Name() string {
	return t.inner.Name()
}

func (t *throttledService) HealthCheck(ctx context.Context) error {
	return t.inner.HealthCheck(ctx)
}

func (t *throttledService) Close() error {
	return t.inner.Close()
}

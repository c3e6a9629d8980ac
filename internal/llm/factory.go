package llm

import (
	"context"
	"fmt"
	"strings"
)

// NewClient creates an LLM client for the configured provider, wrapped in a
// rate limiter when one is configured.
func NewClient(cfg Config) (Client, error) {
	var client Client
	var err error

	switch strings.ToLower(cfg.Provider) {
	case "openai":
		client, err = newOpenAIClient(cfg)
	case "anthropic":
		client, err = newAnthropicClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RateLimit > 0 {
		client = &rateLimitedClient{inner: client, limiter: NewRateLimiter(cfg.RateLimit)}
	}
	return client, nil
}

// rateLimitedClient gates calls through a token bucket.
type rateLimitedClient struct {
	inner   Client
	limiter *RateLimiter
}

func (c *rateLimitedClient) CallFunction(ctx context.Context, req FunctionCallRequest) (FunctionCallResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return FunctionCallResponse{}, err
	}
	return c.inner.CallFunction(ctx, req)
}

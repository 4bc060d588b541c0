package resilience

import "context"

// Policy combines retries with a circuit breaker. Each attempt passes
// through the breaker; once it opens, ErrCircuitOpen ends the retry loop
// because it is not transient.
type Policy struct {
	Retry   RetryConfig
	Breaker *CircuitBreaker
}

// NewPolicy builds a Policy with its own breaker.
func NewPolicy(name string, retry RetryConfig, breaker CircuitBreakerConfig) *Policy {
	return &Policy{Retry: retry, Breaker: NewCircuitBreaker(name, breaker)}
}

// Call runs fn under p. A nil Policy calls fn once.
func Call[T any](ctx context.Context, p *Policy, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	if p == nil {
		return fn(ctx)
	}
	cfg := p.Retry
	if cfg.OnRetry == nil {
		cfg.OnRetry = RetryLogger(operation)
	}
	return DoVal(ctx, cfg, func(ctx context.Context) (T, error) {
		if p.Breaker == nil {
			return fn(ctx)
		}
		return ExecuteVal(ctx, p.Breaker, fn)
	})
}

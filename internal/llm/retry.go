package llm

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/ashureev/growthdesk/internal/config"
)

// Policy bounds retries of rate-limited calls.
type Policy struct {
	MaxRetries   int           // retries after the first attempt
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // cap for any delay, including server hints
	Multiplier   float64       // exponential backoff factor
	Jitter       bool          // add up to 20% random delay
}

// DefaultPolicy returns the policy used when none is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 2 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// PolicyFromConfig converts configuration into a Policy.
func PolicyFromConfig(cfg config.RetryConfig) Policy {
	p := Policy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   cfg.Multiplier,
		Jitter:       cfg.Jitter,
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	return p
}

// Delay returns the wait before retry number attempt (0-based). A server
// hint carried by err takes precedence and is capped at MaxDelay.
func (p Policy) Delay(attempt int, err error) time.Duration {
	if hint := RetryAfterFrom(err); hint > 0 {
		return min(hint, p.MaxDelay)
	}

	delay := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter {
		delay += rand.Float64() * 0.2 * delay
	}
	return time.Duration(delay)
}

// Retry runs fn, retrying only rate-limited failures within the policy.
// Any other failure is returned at once.
func Retry[T any](
	ctx context.Context,
	policy Policy,
	fn func(ctx context.Context) (T, error),
	onRetry func(attempt int, delay time.Duration, err error),
) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if !IsRateLimited(err) {
			return zero, err
		}
		if attempt >= policy.MaxRetries {
			return zero, &RetryExhaustedError{Err: err, Attempts: attempt + 1}
		}

		delay := policy.Delay(attempt, err)
		if onRetry != nil {
			onRetry(attempt+1, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

// retryingClient decorates a Client with rate-limit retries.
type retryingClient struct {
	next   Client
	policy Policy
	logger *slog.Logger
}

// WithRetry wraps next so rate-limited calls are retried transparently.
func WithRetry(next Client, policy Policy, logger *slog.Logger) Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &retryingClient{next: next, policy: policy, logger: logger}
}

func (c *retryingClient) Name() string { return c.next.Name() }

func (c *retryingClient) onRetry(op string) func(int, time.Duration, error) {
	return func(attempt int, delay time.Duration, err error) {
		c.logger.Warn("Generator rate limited, retrying",
			"provider", c.next.Name(),
			"op", op,
			"attempt", attempt,
			"max_retries", c.policy.MaxRetries,
			"delay", delay,
			"error", err)
	}
}

func (c *retryingClient) Complete(ctx context.Context, req Request) (string, error) {
	return Retry(ctx, c.policy, func(ctx context.Context) (string, error) {
		return c.next.Complete(ctx, req)
	}, c.onRetry("complete"))
}

// Stream restarts the underlying stream from scratch after a rate-limit
// failure. Consumers see the accumulated text start over.
func (c *retryingClient) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		notify := c.onRetry("stream")
		for attempt := 0; ; attempt++ {
			var failure error
			for text, err := range c.next.Stream(ctx, req) {
				if err != nil {
					failure = err
					break
				}
				if !yield(text, nil) {
					return
				}
			}
			if failure == nil {
				return
			}
			if !IsRateLimited(failure) {
				yield("", failure)
				return
			}
			if attempt >= c.policy.MaxRetries {
				yield("", &RetryExhaustedError{Err: failure, Attempts: attempt + 1})
				return
			}
			delay := c.policy.Delay(attempt, failure)
			notify(attempt+1, delay, failure)
			if err := sleep(ctx, delay); err != nil {
				yield("", err)
				return
			}
		}
	}
}

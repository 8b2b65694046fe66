package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// ErrRateLimited marks a rate-limit rejection distinct from other transient
// failures, so the policy can apply its longer multi-stage backoff.
var ErrRateLimited = errors.New("rate limited")

// IsRateLimit reports whether err is a rate-limit rejection, either our own
// sentinel or an HTTP 429 surfaced by the API client.
func IsRateLimit(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == 429
	}
	return false
}

// RetryPolicy is an explicit retry schedule applied at call sites that need
// one. Rate limits get their own longer sub-loop before consuming an attempt
// from the generic budget; everything else retries with linear backoff.
type RetryPolicy struct {
	MaxAttempts          int
	Delay                time.Duration
	RateLimitMaxAttempts int
	RateLimitDelay       time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:          5,
		Delay:                30 * time.Second,
		RateLimitMaxAttempts: 10,
		RateLimitDelay:       60 * time.Second,
	}
}

// Do runs fn until it succeeds or the policy is exhausted.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	if logger == nil {
		logger = slog.Default()
	}

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		if IsRateLimit(err) {
			err = p.waitOutRateLimit(ctx, logger, op, fn)
			if err == nil {
				return nil
			}
		}

		lastErr = err
		if attempt == p.MaxAttempts-1 {
			break
		}

		wait := p.Delay * time.Duration(attempt+1)
		logger.Warn("request failed, retrying",
			"operation", op,
			"attempt", attempt+1,
			"max_attempts", p.MaxAttempts,
			"backoff", wait,
			"error", err)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return fmt.Errorf("%s: max retries exceeded: %w", op, lastErr)
}

// waitOutRateLimit runs the dedicated rate-limit sub-loop with escalating
// waits. Returns nil on success, the last error once the sub-loop is spent
// or a non-rate-limit error appears.
func (p RetryPolicy) waitOutRateLimit(ctx context.Context, logger *slog.Logger, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < p.RateLimitMaxAttempts; attempt++ {
		wait := p.RateLimitDelay * time.Duration(attempt+1)
		logger.Warn("rate limited, waiting",
			"operation", op,
			"attempt", attempt+1,
			"max_attempts", p.RateLimitMaxAttempts,
			"wait", wait)

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}

		err := fn()
		if err == nil {
			return nil
		}
		if !IsRateLimit(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%s: rate limit retries exhausted: %w", op, lastErr)
}

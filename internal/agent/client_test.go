package agent

import (
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestNewClientDefaults(t *testing.T) {
	c := NewClient("test-key")

	if c.api == nil {
		t.Fatal("expected api client to be constructed")
	}
	if c.embeddingModel == "" {
		t.Error("expected a default embedding model")
	}
	if c.limiter == nil {
		t.Error("expected a default rate limiter")
	}
	if c.retry.MaxAttempts != DefaultRetryPolicy().MaxAttempts {
		t.Errorf("retry attempts = %d, want default %d", c.retry.MaxAttempts, DefaultRetryPolicy().MaxAttempts)
	}
}

func TestNewClientOptions(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Delay: time.Second, RateLimitMaxAttempts: 4, RateLimitDelay: 2 * time.Second}

	c := NewClient("test-key",
		WithBaseURL("http://localhost:9999/v1"),
		WithTimeout(30*time.Second),
		WithEmbeddingModel("text-embedding-3-large"),
		WithRateLimit(120, 10),
		WithRetryPolicy(policy),
	)

	if c.embeddingModel != "text-embedding-3-large" {
		t.Errorf("embeddingModel = %q, want text-embedding-3-large", c.embeddingModel)
	}
	if got, want := c.limiter.Limit(), rate.Limit(2.0); got != want {
		t.Errorf("limiter rate = %v, want %v", got, want)
	}
	if c.limiter.Burst() != 10 {
		t.Errorf("limiter burst = %d, want 10", c.limiter.Burst())
	}
	if c.retry != policy {
		t.Errorf("retry policy = %+v, want %+v", c.retry, policy)
	}
}

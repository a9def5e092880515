package worker

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_New(t *testing.T) {
	limiter := NewLimiter(10, 5)
	if limiter.defaultBurst != 5 {
		t.Errorf("expected burst 5, got %d", limiter.defaultBurst)
	}

	l2 := NewLimiter(10, -1)
	if l2.defaultBurst != 5 {
		t.Errorf("expected default burst 5 for negative input, got %d", l2.defaultBurst)
	}
}

func TestLimiter_Wait(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "ollama"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
	if err := limiter.WaitURL(ctx, "http://example.com/feed"); err != nil {
		t.Errorf("wait failed: %v", err)
	}
	if err := limiter.WaitURL(ctx, "::invalid"); err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestLimiter_WaitWithDelay(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx := context.Background()

	start := time.Now()
	err := limiter.WaitWithDelay(ctx, "example.com", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitWithDelay failed: %v", err)
	}

	duration := time.Since(start)
	if duration < 50*time.Millisecond {
		t.Errorf("expected delay >= 50ms, got %v", duration)
	}
}

func TestLimiter_WaitWithDelay_Canceled(t *testing.T) {
	limiter := NewLimiter(100, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := limiter.WaitWithDelay(ctx, "example.com", time.Second); err == nil {
		t.Error("expected canceled context error")
	}
}

func TestLimiter_RateLimit(t *testing.T) {
	limiter := NewLimiter(1, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "openai"); err != nil {
		t.Errorf("first wait failed: %v", err)
	}

	// burst 1 is consumed
	if limiter.Allow("openai") {
		t.Errorf("expected allow to fail (exhausted tokens)")
	}

	// Different key has its own bucket
	if !limiter.Allow("anthropic") {
		t.Errorf("expected allow for other key")
	}
}

func TestLimiter_Unlimited(t *testing.T) {
	limiter := NewLimiter(0, 1)
	for i := 0; i < 100; i++ {
		if !limiter.Allow("local") {
			t.Fatalf("request %d should pass with unlimited rate", i)
		}
	}
}

func TestLimiter_SetRate(t *testing.T) {
	limiter := NewLimiter(10, 10)
	limiter.SetRate("slow.com", 0.1, 1)

	if !limiter.Allow("slow.com") {
		t.Errorf("first request should pass")
	}
	if limiter.Allow("slow.com") {
		t.Errorf("second request should fail")
	}
	if !limiter.Allow("fast.com") {
		t.Errorf("other key should pass")
	}
}

func TestExtractDomain(t *testing.T) {
	domain, err := extractDomain("http://example.com/foo")
	if err != nil {
		t.Fatalf("extractDomain failed: %v", err)
	}
	if domain != "example.com" {
		t.Errorf("expected example.com, got %s", domain)
	}

	_, err = extractDomain("::invalid")
	if err == nil {
		t.Errorf("expected error for invalid URL")
	}
}

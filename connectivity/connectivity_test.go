package connectivity

import (
	"context"
	"errors"
	"testing"
	"time"
)

// Grounded on the teacher's own connectivity/router_test.go circuit breaker
// cases (TestCircuitBreaker_OpensAndRecovers, TestCircuitBreaker_HalfOpenFailureReopens):
// same fake-clock injection via WithBreakerClock, same state-transition assertions.

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	cb := NewCircuitBreaker(
		WithBreakerThreshold(3),
		WithBreakerResetTimeout(100*time.Millisecond),
		WithBreakerHalfOpenMax(2),
		WithBreakerClock(clock),
	)

	if cb.State() != BreakerClosed {
		t.Fatal("expected closed initially")
	}

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	if cb.State() != BreakerOpen {
		t.Fatal("expected open after threshold failures")
	}
	if cb.Allow() {
		t.Fatal("should not allow calls while open")
	}

	now = now.Add(200 * time.Millisecond)
	if cb.State() != BreakerHalfOpen {
		t.Fatal("expected half-open after reset timeout elapses")
	}
	if !cb.Allow() {
		t.Fatal("should allow a probe call in half-open")
	}

	cb.RecordSuccess()
	if cb.State() != BreakerHalfOpen {
		t.Fatal("expected to stay half-open before halfOpenMax successes")
	}
	cb.RecordSuccess()
	if cb.State() != BreakerClosed {
		t.Fatal("expected closed after halfOpenMax consecutive successes")
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	cb := NewCircuitBreaker(
		WithBreakerThreshold(1),
		WithBreakerResetTimeout(50*time.Millisecond),
		WithBreakerClock(clock),
	)

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatal("expected open after one failure at threshold 1")
	}

	now = now.Add(100 * time.Millisecond)
	if cb.State() != BreakerHalfOpen {
		t.Fatal("expected half-open after reset timeout")
	}

	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatal("expected a half-open failure to reopen the breaker")
	}
}

func TestCircuitBreaker_Guard(t *testing.T) {
	cb := NewCircuitBreaker(WithBreakerThreshold(1), WithBreakerResetTimeout(time.Hour))

	boom := errors.New("boom")
	if err := cb.Guard("svc", func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("Guard should pass through the wrapped error, got %v", err)
	}
	if cb.State() != BreakerOpen {
		t.Fatal("expected breaker open after Guard recorded the failure")
	}

	var circuitErr *ErrCircuitOpen
	err := cb.Guard("svc", func() error { t.Fatal("fn must not run while open"); return nil })
	if !errors.As(err, &circuitErr) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if circuitErr.Service != "svc" {
		t.Fatalf("Service = %q, want %q", circuitErr.Service, "svc")
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb := NewCircuitBreaker(WithBreakerThreshold(1))
	cb.RecordFailure()
	if cb.State() != BreakerOpen {
		t.Fatal("expected open")
	}
	cb.Reset()
	if cb.State() != BreakerClosed {
		t.Fatal("expected closed after Reset")
	}
}

// TestBackoffConfig_DelayBounds checks Delay(attempt) against the spec's
// exact parameters: base 1s, exponent 2, +/-0.5s jitter, 0.1s floor.
func TestBackoffConfig_DelayBounds(t *testing.T) {
	cfg := BackoffConfig{}
	cfg.defaults()

	cases := []struct {
		attempt  int
		min, max time.Duration
	}{
		{0, 500 * time.Millisecond, 1500 * time.Millisecond},
		{1, 1500 * time.Millisecond, 2500 * time.Millisecond},
		{2, 3500 * time.Millisecond, 4500 * time.Millisecond},
	}
	for _, c := range cases {
		for i := 0; i < 20; i++ {
			d := cfg.Delay(c.attempt)
			if d < c.min || d > c.max {
				t.Fatalf("Delay(%d) = %v, want within [%v, %v]", c.attempt, d, c.min, c.max)
			}
		}
	}
}

func TestBackoffConfig_DelayFloor(t *testing.T) {
	cfg := BackoffConfig{Base: time.Millisecond, Exponent: 1, Jitter: 0, MinDelay: 100 * time.Millisecond}
	for i := 0; i < 20; i++ {
		if d := cfg.Delay(0); d < 100*time.Millisecond {
			t.Fatalf("Delay floored result = %v, want >= 100ms", d)
		}
	}
}

func TestBackoffConfig_DefaultsAppliedOnZeroValue(t *testing.T) {
	var cfg BackoffConfig
	cfg.defaults()
	if cfg.MaxAttempts != 5 {
		t.Fatalf("MaxAttempts = %d, want 5", cfg.MaxAttempts)
	}
	if cfg.Base != time.Second {
		t.Fatalf("Base = %v, want 1s", cfg.Base)
	}
	if cfg.Exponent != 2 {
		t.Fatalf("Exponent = %v, want 2", cfg.Exponent)
	}
	if cfg.Jitter != 500*time.Millisecond {
		t.Fatalf("Jitter = %v, want 500ms", cfg.Jitter)
	}
	if cfg.MinDelay != 100*time.Millisecond {
		t.Fatalf("MinDelay = %v, want 100ms", cfg.MinDelay)
	}
}

func TestReconnectWithBackoff_RetriesThenSucceeds(t *testing.T) {
	cfg := BackoffConfig{MaxAttempts: 5, Base: time.Millisecond, Exponent: 1, Jitter: 0, MinDelay: time.Millisecond}

	var calls int
	err := ReconnectWithBackoff(context.Background(), cfg, func(ctx context.Context, n int) error {
		calls++
		if n < 2 {
			return errors.New("not yet")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ReconnectWithBackoff: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3 (attempts 0,1,2)", calls)
	}
}

func TestReconnectWithBackoff_GivesUpAfterMaxAttempts(t *testing.T) {
	cfg := BackoffConfig{MaxAttempts: 3, Base: time.Millisecond, Exponent: 1, Jitter: 0, MinDelay: time.Millisecond}

	want := errors.New("still down")
	var calls int
	err := ReconnectWithBackoff(context.Background(), cfg, func(ctx context.Context, n int) error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want %v", err, want)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want exactly MaxAttempts=3", calls)
	}
}

func TestReconnectWithBackoff_CancelledContextStopsRetrying(t *testing.T) {
	cfg := BackoffConfig{MaxAttempts: 5, Base: 50 * time.Millisecond, Exponent: 1, Jitter: 0, MinDelay: 50 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := ReconnectWithBackoff(ctx, cfg, func(ctx context.Context, n int) error {
		calls++
		return errors.New("down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls >= cfg.MaxAttempts {
		t.Fatalf("calls = %d, expected cancellation to cut retries short of MaxAttempts", calls)
	}
}

package connectivity

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// BackoffConfig tunes ReconnectWithBackoff.
type BackoffConfig struct {
	MaxAttempts int           // default 5
	Base        time.Duration // default 1s
	Exponent    float64       // default 2
	Jitter      time.Duration // max +/- jitter applied to each delay, default 500ms
	MinDelay    time.Duration // floor applied after jitter, default 100ms
}

func (c *BackoffConfig) defaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Base <= 0 {
		c.Base = time.Second
	}
	if c.Exponent <= 0 {
		c.Exponent = 2
	}
	if c.Jitter <= 0 {
		c.Jitter = 500 * time.Millisecond
	}
	if c.MinDelay <= 0 {
		c.MinDelay = 100 * time.Millisecond
	}
}

// Delay returns the backoff delay before attempt n (0-indexed), with
// +/- jitter applied and floored at MinDelay.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	base := float64(c.Base) * math.Pow(c.Exponent, float64(attempt))
	jitter := (rand.Float64()*2 - 1) * float64(c.Jitter)
	d := time.Duration(base + jitter)
	if d < c.MinDelay {
		d = c.MinDelay
	}
	return d
}

// ReconnectWithBackoff calls attempt up to cfg.MaxAttempts times, sleeping
// between attempts per the backoff schedule, and returns on the first nil
// error. If ctx is cancelled mid-sleep it returns ctx.Err(). If every
// attempt fails it returns the last error.
func ReconnectWithBackoff(ctx context.Context, cfg BackoffConfig, attempt func(ctx context.Context, n int) error) error {
	cfg.defaults()

	var lastErr error
	for n := 0; n < cfg.MaxAttempts; n++ {
		if n > 0 {
			d := cfg.Delay(n - 1)
			t := time.NewTimer(d)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
		if err := attempt(ctx, n); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// Package pace spaces outbound provider calls so traffic does not look like
// a burst-firing bot. It owns the minimum-spacing rule and the named
// human-like delays injected at submission and polling checkpoints.
package pace

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/WatchBeam/clock"
)

// DelayRange is a uniform random delay window. Zero ranges disable the delay,
// which is how tests keep the controller deterministic.
type DelayRange struct {
	Min time.Duration
	Max time.Duration
}

func (r DelayRange) pick(rng *rand.Rand) time.Duration {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + time.Duration(rng.Int63n(int64(r.Max-r.Min)))
}

type Config struct {
	// BaseSpacing is the nominal gap between provider calls; the enforced
	// gap is BaseSpacing scaled by uniform(0.7, 1.3).
	BaseSpacing time.Duration

	Typing   DelayRange
	Reading  DelayRange
	Thinking DelayRange

	Clock clock.Clock
	Seed  int64
}

// Controller tracks the last outbound call and suspends callers long enough
// to honor the jittered spacing.
type Controller struct {
	clk  clock.Clock
	base time.Duration

	typing   DelayRange
	reading  DelayRange
	thinking DelayRange

	mu         sync.Mutex
	rng        *rand.Rand
	lastCallAt time.Time
}

func New(cfg Config) *Controller {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.C
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Controller{
		clk:      clk,
		base:     cfg.BaseSpacing,
		typing:   cfg.Typing,
		reading:  cfg.Reading,
		thinking: cfg.Thinking,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Wait suspends until the jittered minimum spacing since the previous call
// has elapsed, then records the call time. It returns early only on context
// cancellation.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	now := c.clk.Now()
	var remaining time.Duration
	if !c.lastCallAt.IsZero() && c.base > 0 {
		factor := 0.7 + c.rng.Float64()*0.6
		required := time.Duration(float64(c.base) * factor)
		elapsed := now.Sub(c.lastCallAt)
		if elapsed < required {
			remaining = required - elapsed
		}
	}
	c.lastCallAt = now.Add(remaining)
	c.mu.Unlock()

	return sleep(ctx, remaining)
}

// Typing simulates composing a request before the first submission.
func (c *Controller) Typing(ctx context.Context) error {
	return c.named(ctx, c.typing)
}

// Reading simulates scanning the feed between polls.
func (c *Controller) Reading(ctx context.Context) error {
	return c.named(ctx, c.reading)
}

// Thinking simulates hesitation before retrying after a setback.
func (c *Controller) Thinking(ctx context.Context) error {
	return c.named(ctx, c.thinking)
}

func (c *Controller) named(ctx context.Context, r DelayRange) error {
	c.mu.Lock()
	d := r.pick(c.rng)
	c.mu.Unlock()
	return sleep(ctx, d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

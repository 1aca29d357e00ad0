package pace

import (
	"context"
	"testing"
	"time"

	"github.com/WatchBeam/clock"
)

func TestWaitFirstCallDoesNotBlock(t *testing.T) {
	c := New(Config{BaseSpacing: time.Hour, Clock: clock.NewMockClock(), Seed: 1})

	done := make(chan error, 1)
	go func() {
		done <- c.Wait(context.Background())
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("first Wait returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("first Wait blocked despite no previous call")
	}
}

func TestWaitEnforcesSpacingAfterElapsedTime(t *testing.T) {
	mock := clock.NewMockClock()
	c := New(Config{BaseSpacing: 10 * time.Second, Clock: mock, Seed: 7})

	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	// Advance past the widest possible jittered spacing (1.3 × base); the
	// second call must then return without sleeping.
	mock.AddTime(14 * time.Second)

	done := make(chan error, 1)
	go func() {
		done <- c.Wait(context.Background())
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("second Wait: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait slept even though spacing had already elapsed")
	}
}

func TestWaitCancellable(t *testing.T) {
	mock := clock.NewMockClock()
	c := New(Config{BaseSpacing: time.Hour, Clock: mock, Seed: 3})
	if err := c.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- c.Wait(ctx)
	}()
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("cancelled Wait returned nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled Wait did not return")
	}
}

func TestNamedDelaysZeroRangeReturnImmediately(t *testing.T) {
	c := New(Config{Clock: clock.NewMockClock(), Seed: 5})
	ctx := context.Background()

	for name, fn := range map[string]func(context.Context) error{
		"typing":   c.Typing,
		"reading":  c.Reading,
		"thinking": c.Thinking,
	} {
		done := make(chan error, 1)
		go func(fn func(context.Context) error) {
			done <- fn(ctx)
		}(fn)
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("%s delay returned error: %v", name, err)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s delay blocked with a zero range", name)
		}
	}
}

func TestNamedDelayWithinRange(t *testing.T) {
	r := DelayRange{Min: 5 * time.Millisecond, Max: 20 * time.Millisecond}
	c := New(Config{Reading: r, Clock: clock.NewMockClock(), Seed: 11})

	start := time.Now()
	if err := c.Reading(context.Background()); err != nil {
		t.Fatalf("Reading: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < r.Min {
		t.Fatalf("reading delay %v shorter than min %v", elapsed, r.Min)
	}
	if elapsed > time.Second {
		t.Fatalf("reading delay %v far exceeds max %v", elapsed, r.Max)
	}
}

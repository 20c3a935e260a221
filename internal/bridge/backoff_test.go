package bridge

import (
	"testing"
	"time"
)

func TestBackoff_MonotonicUntilCap(t *testing.T) {
	b := newBackoff(60 * time.Second)

	var last time.Duration
	unjittered := time.Second
	for i := 0; i < 10; i++ {
		d := b.NextDelay()
		if d <= 0 {
			t.Fatalf("delay must be positive, got %v", d)
		}
		if d > 60*time.Second+12*time.Second {
			t.Fatalf("delay exceeded cap + jitter: %v", d)
		}
		// Jitter is ±20%: below the cap each step doubles, so its floor
		// (0.8x) lies above the previous step's ceiling (1.2x of half), and
		// the jittered delays must strictly increase.
		if unjittered < 60*time.Second && d <= last {
			t.Fatalf("delay %v did not increase over previous %v before reaching the cap", d, last)
		}
		last = d
		unjittered *= 2
	}
}

func TestBackoff_ResetAfterStableOpen(t *testing.T) {
	b := newBackoff(60 * time.Second)
	for i := 0; i < 5; i++ {
		b.NextDelay()
	}

	opened := time.Now().Add(-11 * time.Second)
	b.MarkOpened(opened)
	b.MaybeReset(time.Now())

	d := b.NextDelay()
	if d > 1200*time.Millisecond {
		t.Fatalf("expected reset-to-base delay (~1s), got %v", d)
	}
}

func TestBackoff_NoResetAfterShortOpen(t *testing.T) {
	b := newBackoff(60 * time.Second)
	for i := 0; i < 5; i++ {
		b.NextDelay()
	}

	opened := time.Now().Add(-2 * time.Second)
	b.MarkOpened(opened)
	b.MaybeReset(time.Now())

	d := b.NextDelay()
	if d < 10*time.Second {
		t.Fatalf("expected schedule to stay elevated, got %v", d)
	}
}

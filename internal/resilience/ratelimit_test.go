package resilience

import (
	"testing"
	"time"
)

func TestSlidingWindowDeniesOverCap(t *testing.T) {
	t.Parallel()

	sw := NewSlidingWindow(2, time.Minute)
	if !sw.Allow() || !sw.Allow() {
		t.Fatal("first two requests should be admitted")
	}
	if sw.Allow() {
		t.Fatal("third immediate request should be denied")
	}
}

func TestSlidingWindowRecoversAfterWindow(t *testing.T) {
	t.Parallel()

	sw := NewSlidingWindow(2, time.Minute)
	now := time.Now()
	sw.now = func() time.Time { return now }

	sw.Allow()
	sw.Allow()
	if sw.Allow() {
		t.Fatal("expected denial at cap")
	}

	now = now.Add(time.Minute + time.Second)
	if !sw.Allow() {
		t.Fatal("expected admission after window elapsed")
	}
}

func TestSlidingWindowWaitTime(t *testing.T) {
	t.Parallel()

	sw := NewSlidingWindow(1, time.Minute)
	now := time.Now()
	sw.now = func() time.Time { return now }

	if sw.WaitTime() != 0 {
		t.Fatal("wait time should be zero under the cap")
	}
	sw.Allow()

	wait := sw.WaitTime()
	if wait <= 0 || wait > time.Minute {
		t.Fatalf("unexpected wait time %v", wait)
	}

	now = now.Add(30 * time.Second)
	wait = sw.WaitTime()
	if wait <= 0 || wait > 30*time.Second {
		t.Fatalf("wait time should shrink with elapsed time, got %v", wait)
	}
}

package shutdown

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestTrackReleaseAndDrain(t *testing.T) {
	t.Parallel()

	c := NewCoordinator()
	release, ok := c.Track()
	if !ok {
		t.Fatal("Track() refused before shutdown")
	}

	var finished atomic.Bool
	go func() {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		release()
	}()

	c.Shutdown(time.Second)
	if !finished.Load() {
		t.Error("Shutdown returned before in-flight work finished")
	}
}

func TestTrackRefusedDuringShutdown(t *testing.T) {
	t.Parallel()

	c := NewCoordinator()
	c.Shutdown(time.Second)

	if _, ok := c.Track(); ok {
		t.Error("Track() accepted work after shutdown started")
	}
	if !c.ShuttingDown() {
		t.Error("ShuttingDown() = false after Shutdown")
	}
	select {
	case <-c.Context().Done():
	default:
		t.Error("Context not cancelled after Shutdown")
	}
}

func TestCleanupsReverseOrder(t *testing.T) {
	t.Parallel()

	c := NewCoordinator()
	var order []string
	c.RegisterCleanup("first", func() error {
		order = append(order, "first")
		return nil
	})
	c.RegisterCleanup("second", func() error {
		order = append(order, "second")
		return nil
	})

	c.Shutdown(time.Second)
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Errorf("cleanup order = %v, want [second first]", order)
	}
}

func TestDrainTimeout(t *testing.T) {
	t.Parallel()

	c := NewCoordinator()
	// Tracked but never released.
	if _, ok := c.Track(); !ok {
		t.Fatal("Track() refused")
	}

	var cleaned atomic.Bool
	c.RegisterCleanup("db", func() error {
		cleaned.Store(true)
		return nil
	})

	start := time.Now()
	c.Shutdown(50 * time.Millisecond)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Shutdown blocked %v despite drain timeout", elapsed)
	}
	if !cleaned.Load() {
		t.Error("cleanups did not run after drain timeout")
	}
}

func TestShutdownIdempotent(t *testing.T) {
	t.Parallel()

	c := NewCoordinator()
	var runs atomic.Int32
	c.RegisterCleanup("once", func() error {
		runs.Add(1)
		return nil
	})

	c.Shutdown(time.Second)
	c.Shutdown(time.Second)
	if got := runs.Load(); got != 1 {
		t.Errorf("cleanup ran %d times, want 1", got)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	t.Parallel()

	c := NewCoordinator()
	release, ok := c.Track()
	if !ok {
		t.Fatal("Track() refused")
	}
	release()
	release()

	done := make(chan struct{})
	go func() {
		c.Shutdown(time.Second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown hung after double release")
	}
}

package resilience

import (
	"sync"
	"time"
)

// SlidingWindow admits at most maxRequests calls in any trailing window,
// tracked via a queue of call timestamps. The mutex makes it safe to share
// across goroutines and synchronous callers alike.
type SlidingWindow struct {
	maxRequests int
	window      time.Duration

	mu         sync.Mutex
	timestamps []time.Time

	now func() time.Time
}

// NewSlidingWindow creates a limiter allowing maxRequests per window.
func NewSlidingWindow(maxRequests int, window time.Duration) *SlidingWindow {
	if maxRequests <= 0 {
		maxRequests = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &SlidingWindow{
		maxRequests: maxRequests,
		window:      window,
		now:         time.Now,
	}
}

// prune drops timestamps that have left the window. Caller holds the lock.
func (sw *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-sw.window)
	i := 0
	for i < len(sw.timestamps) && sw.timestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		sw.timestamps = append(sw.timestamps[:0], sw.timestamps[i:]...)
	}
}

// Allow reports whether a request is admitted right now, recording it if so.
func (sw *SlidingWindow) Allow() bool {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	sw.prune(now)
	if len(sw.timestamps) >= sw.maxRequests {
		return false
	}
	sw.timestamps = append(sw.timestamps, now)
	return true
}

// WaitTime returns how long a caller should sleep before the next request can
// be admitted. Zero whenever the limiter is under its cap.
func (sw *SlidingWindow) WaitTime() time.Duration {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.now()
	sw.prune(now)
	if len(sw.timestamps) < sw.maxRequests {
		return 0
	}
	wait := sw.timestamps[0].Add(sw.window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

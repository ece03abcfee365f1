// Package shutdown coordinates graceful termination across concurrent tasks.
// Tasks register in-flight work so shutdown can drain before cleanups run.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

// Cleanup is a named teardown step run after in-flight work drains.
type Cleanup struct {
	Name string
	Fn   func() error
}

// Coordinator tracks in-flight tasks and runs registered cleanups on
// shutdown. A single Coordinator is shared across the program.
type Coordinator struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inFlight sync.WaitGroup
	cleanups []Cleanup
	done     bool
}

// NewCoordinator creates a coordinator whose context is cancelled when
// Shutdown is called.
func NewCoordinator() *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{ctx: ctx, cancel: cancel}
}

// Context is cancelled once shutdown begins. Long-running operations
// should select on it.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// ShuttingDown reports whether shutdown has started.
func (c *Coordinator) ShuttingDown() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

// Track registers one unit of in-flight work and returns its release
// func. Returns false when shutdown has already started, in which case
// the work must not begin.
func (c *Coordinator) Track() (release func(), ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ShuttingDown() {
		return nil, false
	}
	c.inFlight.Add(1)
	var once sync.Once
	return func() { once.Do(c.inFlight.Done) }, true
}

// RegisterCleanup adds a teardown step. Cleanups run in reverse
// registration order, so dependencies registered first close last.
func (c *Coordinator) RegisterCleanup(name string, fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanups = append(c.cleanups, Cleanup{Name: name, Fn: fn})
}

// Shutdown cancels the context, waits up to drainTimeout for in-flight
// work, then runs cleanups in reverse order. Safe to call more than
// once; subsequent calls are no-ops.
func (c *Coordinator) Shutdown(drainTimeout time.Duration) {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return
	}
	c.done = true
	c.mu.Unlock()

	c.cancel()
	log.Info().Msg("Shutdown started, draining in-flight work")

	drained := make(chan struct{})
	go func() {
		c.inFlight.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		log.Info().Msg("All in-flight work drained")
	case <-time.After(drainTimeout):
		log.Warn().
			Dur("drain_timeout", drainTimeout).
			Msg("Drain timeout exceeded, running cleanups anyway")
	}

	c.mu.Lock()
	cleanups := make([]Cleanup, len(c.cleanups))
	copy(cleanups, c.cleanups)
	c.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i].Fn(); err != nil {
			log.Error().
				Err(err).
				Str("cleanup", cleanups[i].Name).
				Msg("Cleanup failed")
		} else {
			log.Debug().
				Str("cleanup", cleanups[i].Name).
				Msg("Cleanup complete")
		}
	}
}

// HandleSignals starts shutdown when SIGINT or SIGTERM arrives. The
// returned stop func detaches the handler.
func (c *Coordinator) HandleSignals(drainTimeout time.Duration) (stop func()) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig, ok := <-sigs
		if !ok {
			return
		}
		log.Info().
			Str("signal", sig.String()).
			Msg("Received signal, shutting down")
		c.Shutdown(drainTimeout)
	}()
	return func() {
		signal.Stop(sigs)
		close(sigs)
	}
}

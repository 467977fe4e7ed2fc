// Package server guards the single MessageServer instance behind an
// exclusive-access handle shared by every request goroutine.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/Tyrowin/msgrelay/internal/metrics"
)

// SharedState gives concurrent request handlers serialized access to one
// MessageServer. At most one callback runs at a time. A panic while holding
// access poisons the state: the panicking call and every later call return
// ErrLockPoisoned.
type SharedState struct {
	sem      *semaphore.Weighted
	server   *MessageServer
	poisoned atomic.Bool
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// NewSharedState wraps srv for shared use.
func NewSharedState(srv *MessageServer, logger *slog.Logger, collector *metrics.Collector) *SharedState {
	return &SharedState{
		sem:     semaphore.NewWeighted(1),
		server:  srv,
		logger:  logger,
		metrics: collector,
	}
}

// Do acquires exclusive access, runs f and releases access on every exit
// path. Acquisition gives up with ErrLockTimeout once ctx is done.
func (s *SharedState) Do(ctx context.Context, f func(*MessageServer) error) error {
	if s.poisoned.Load() {
		s.metrics.RecordLockError("poisoned")
		return ErrLockPoisoned
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.metrics.RecordLockError("timeout")
		return fmt.Errorf("%w: %w", ErrLockTimeout, err)
	}
	defer s.sem.Release(1)

	// A holder may have panicked while we were waiting.
	if s.poisoned.Load() {
		s.metrics.RecordLockError("poisoned")
		return ErrLockPoisoned
	}

	return s.run(f)
}

func (s *SharedState) run(f func(*MessageServer) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.poisoned.Store(true)
			s.metrics.RecordLockError("poisoned")
			s.logger.Error("panic while holding exclusive access; shared server state is now poisoned",
				"panic", r,
			)
			err = fmt.Errorf("%w: panic: %v", ErrLockPoisoned, r)
		}
	}()

	return f(s.server)
}

// Poisoned reports whether a previous holder panicked.
func (s *SharedState) Poisoned() bool {
	return s.poisoned.Load()
}

// WithExclusiveAccess runs f under st's exclusive access and returns its
// result. Lock failures are ErrLockPoisoned or ErrLockTimeout.
func WithExclusiveAccess[R any](ctx context.Context, st *SharedState, f func(*MessageServer) R) (R, error) {
	var result R
	err := st.Do(ctx, func(srv *MessageServer) error {
		result = f(srv)
		return nil
	})
	return result, err
}

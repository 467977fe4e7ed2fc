// Package server keeps the ordered observer registry that every accepted
// message passes through before delivery.
package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Tyrowin/msgrelay/internal/metrics"
)

// Observer inspects a message for side effects. It cannot reject or alter
// the message; a returned error is logged and the dispatch carries on.
type Observer interface {
	Observe(ctx context.Context, msg *Message) error
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(ctx context.Context, msg *Message) error

// Observe calls f(ctx, msg).
func (f ObserverFunc) Observe(ctx context.Context, msg *Message) error {
	return f(ctx, msg)
}

// ObserverError wraps the failure of a single observer invocation.
type ObserverError struct {
	Observer string
	Err      error
}

func (e *ObserverError) Error() string {
	return fmt.Sprintf("observer %q: %v", e.Observer, e.Err)
}

func (e *ObserverError) Unwrap() error {
	return e.Err
}

type registration struct {
	name     string
	observer Observer
}

// HandlerRegistry is the ordered list of observers. It is not safe for
// concurrent use on its own; MessageServer is only reached through
// SharedState, which serializes access.
type HandlerRegistry struct {
	observers []registration
	logger    *slog.Logger
	metrics   *metrics.Collector
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry(logger *slog.Logger, collector *metrics.Collector) *HandlerRegistry {
	return &HandlerRegistry{
		logger:  logger,
		metrics: collector,
	}
}

// Register appends an observer. Names are labels for logs and metrics and
// need not be unique.
func (r *HandlerRegistry) Register(name string, obs Observer) {
	r.observers = append(r.observers, registration{name: name, observer: obs})
}

// Len returns the number of registered observers.
func (r *HandlerRegistry) Len() int {
	return len(r.observers)
}

// Notify runs every observer in registration order. A failing or panicking
// observer never stops the ones after it; its error is collected.
func (r *HandlerRegistry) Notify(ctx context.Context, msg *Message) []error {
	var errs []error
	for _, reg := range r.observers {
		if err := r.invoke(ctx, reg, msg); err != nil {
			r.logger.Warn("observer failed",
				"observer", reg.name,
				"message_id", msg.ID,
				"error", err,
			)
			r.metrics.RecordObserverFailure(reg.name)
			errs = append(errs, err)
		}
	}
	return errs
}

func (r *HandlerRegistry) invoke(ctx context.Context, reg registration, msg *Message) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &ObserverError{Observer: reg.name, Err: fmt.Errorf("panic: %v", rec)}
		}
	}()

	if obsErr := reg.observer.Observe(ctx, msg); obsErr != nil {
		return &ObserverError{Observer: reg.name, Err: obsErr}
	}
	return nil
}

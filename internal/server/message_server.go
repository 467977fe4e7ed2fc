// Package server holds the MessageServer, which runs observers over each
// accepted message and forwards it onto the delivery channel.
package server

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Tyrowin/msgrelay/internal/metrics"
)

const tracerName = "github.com/Tyrowin/msgrelay/internal/server"

// MessageServer owns the observer registry and the sending side of the
// delivery channel. Exactly one instance backs the HTTP service and it is
// only reached through SharedState.
type MessageServer struct {
	registry *HandlerRegistry
	delivery *DeliveryChannel
	logger   *slog.Logger
	metrics  *metrics.Collector
	tracer   trace.Tracer

	sendTimeout time.Duration
}

// NewMessageServer creates a server sending into delivery. sendTimeout bounds
// the wait for room in the queue; zero waits until ctx ends.
func NewMessageServer(delivery *DeliveryChannel, sendTimeout time.Duration, logger *slog.Logger, collector *metrics.Collector) *MessageServer {
	return &MessageServer{
		registry:    NewHandlerRegistry(logger, collector),
		delivery:    delivery,
		sendTimeout: sendTimeout,
		logger:   logger,
		metrics:  collector,
		tracer:   otel.Tracer(tracerName),
	}
}

// Register appends an observer to the dispatch sequence.
func (s *MessageServer) Register(name string, obs Observer) {
	s.registry.Register(name, obs)
}

// Observers returns the number of registered observers.
func (s *MessageServer) Observers() int {
	return s.registry.Len()
}

// Delivery returns the channel this server sends into.
func (s *MessageServer) Delivery() *DeliveryChannel {
	return s.delivery
}

// Dispatch runs every observer in order and then sends msg on the delivery
// channel. The send is the only point where Dispatch may block, and the send
// timeout starts only once the observers have returned. A failed send is
// reported once and never retried.
func (s *MessageServer) Dispatch(ctx context.Context, msg Message) (DispatchOutcome, error) {
	start := time.Now()

	ctx, span := s.tracer.Start(ctx, "relay.dispatch",
		trace.WithAttributes(
			attribute.String("message.id", msg.ID),
			attribute.Int("message.size", len(msg.Content)),
		),
	)
	defer span.End()

	// Observers get a copy so nothing they do reaches the delivered message.
	observed := msg
	if errs := s.registry.Notify(ctx, &observed); len(errs) > 0 {
		span.SetAttributes(attribute.Int("observer.failures", len(errs)))
	}

	sendCtx, cancel := withOptionalTimeout(ctx, s.sendTimeout)
	defer cancel()

	outcome := Delivered
	err := s.delivery.Send(sendCtx, msg)
	switch {
	case err == nil:
	case errors.Is(err, ErrChannelClosed):
		outcome = ChannelClosed
	default:
		outcome = SendTimedOut
	}

	span.SetAttributes(attribute.String("dispatch.outcome", outcome.String()))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.logger.Warn("dispatch failed",
			"message_id", msg.ID,
			"outcome", outcome.String(),
			"error", err,
		)
	} else {
		s.logger.Debug("message dispatched", "message_id", msg.ID)
	}

	s.metrics.RecordDispatch(outcome.String(), time.Since(start))
	s.metrics.SetQueueDepth(s.delivery.Len())

	return outcome, err
}

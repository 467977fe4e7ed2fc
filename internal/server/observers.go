package server

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// LoggingObserver logs every accepted message.
func LoggingObserver(logger *slog.Logger) Observer {
	return ObserverFunc(func(ctx context.Context, msg *Message) error {
		logger.InfoContext(ctx, "message accepted",
			"message_id", msg.ID,
			"bytes", len(msg.Content),
			"timestamp", msg.Timestamp,
		)
		return nil
	})
}

// CountingObserver counts observed messages.
type CountingObserver struct {
	count atomic.Int64
}

// Observe increments the counter.
func (c *CountingObserver) Observe(context.Context, *Message) error {
	c.count.Add(1)
	return nil
}

// Count returns the number of messages observed so far.
func (c *CountingObserver) Count() int64 {
	return c.count.Load()
}

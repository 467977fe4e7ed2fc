// Package server implements the bounded FIFO hand-off between the message
// server and whatever consumes accepted messages.
package server

import (
	"context"
	"fmt"
	"sync"
)

// DeliveryChannel is a bounded FIFO queue of messages. The sending side is
// owned by MessageServer; the receiving side reads Messages() until it calls
// Drop. The underlying Go channel is never closed, so a Send racing a Drop
// never panics. Such a Send may still enqueue and return nil when the queue
// had room at the moment Drop ran; that message is never read.
type DeliveryChannel struct {
	messages chan Message
	dropped  chan struct{}
	dropOnce sync.Once
}

// NewDeliveryChannel creates a channel holding up to capacity messages.
// A capacity of zero makes every send wait for a receiver.
func NewDeliveryChannel(capacity int) *DeliveryChannel {
	if capacity < 0 {
		capacity = 0
	}
	return &DeliveryChannel{
		messages: make(chan Message, capacity),
		dropped:  make(chan struct{}),
	}
}

// Send enqueues msg, waiting while the queue is full. It returns
// ErrChannelClosed if the receiver is gone and wraps ErrSendTimeout when ctx
// ends before space frees up.
func (d *DeliveryChannel) Send(ctx context.Context, msg Message) error {
	select {
	case <-d.dropped:
		return ErrChannelClosed
	default:
	}

	// Room in the queue wins over an expired ctx.
	select {
	case d.messages <- msg:
		return nil
	default:
	}

	select {
	case d.messages <- msg:
		return nil
	case <-d.dropped:
		return ErrChannelClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrSendTimeout, ctx.Err())
	}
}

// Messages returns the receiving side.
func (d *DeliveryChannel) Messages() <-chan Message {
	return d.messages
}

// Done is closed once the receiver has been dropped.
func (d *DeliveryChannel) Done() <-chan struct{} {
	return d.dropped
}

// Drop marks the receiving side as gone. Pending and future sends fail with
// ErrChannelClosed. Safe to call more than once.
func (d *DeliveryChannel) Drop() {
	d.dropOnce.Do(func() {
		close(d.dropped)
	})
}

// Dropped reports whether Drop has been called.
func (d *DeliveryChannel) Dropped() bool {
	select {
	case <-d.dropped:
		return true
	default:
		return false
	}
}

// Len returns the number of queued messages.
func (d *DeliveryChannel) Len() int {
	return len(d.messages)
}

// Cap returns the queue capacity.
func (d *DeliveryChannel) Cap() int {
	return cap(d.messages)
}

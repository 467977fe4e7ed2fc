// Package server defines the message value type, dispatch outcomes, and the
// fixed response vocabulary shared by the relay components.
package server

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is an accepted payload. It is created once at intake and never
// mutated afterwards; observers receive a pointer they must treat as
// read-only.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage stamps content with the current wall-clock time and a fresh id.
func NewMessage(content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Content:   content,
		Timestamp: time.Now(),
	}
}

// DispatchOutcome is the result of handing a message to the delivery channel.
type DispatchOutcome int

const (
	// Delivered means the message was enqueued.
	Delivered DispatchOutcome = iota
	// ChannelClosed means the receiving side was gone.
	ChannelClosed
	// SendTimedOut means the channel stayed full past the send deadline.
	SendTimedOut
)

func (o DispatchOutcome) String() string {
	switch o {
	case Delivered:
		return "delivered"
	case ChannelClosed:
		return "channel_closed"
	case SendTimedOut:
		return "send_timeout"
	default:
		return "unknown"
	}
}

// Response bodies returned by the message endpoint.
const (
	ResponseReceived    = "Message received"
	ResponseDispatchErr = "Error processing message"
	ResponseServerErr   = "Server Error"
)

var (
	// ErrChannelClosed is returned when the delivery consumer has been dropped.
	ErrChannelClosed = errors.New("delivery channel closed")
	// ErrSendTimeout is returned when a send outlives its context.
	ErrSendTimeout = errors.New("delivery channel send timed out")
	// ErrLockPoisoned is returned once a holder of the shared server panicked.
	ErrLockPoisoned = errors.New("shared server state poisoned")
	// ErrLockTimeout is returned when exclusive access is not granted in time.
	ErrLockTimeout = errors.New("timed out waiting for exclusive access")
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}

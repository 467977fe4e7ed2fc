package server

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/Tyrowin/msgrelay/internal/logging"
)

func newTestMessageServer(capacity int) (*MessageServer, *DeliveryChannel) {
	return newTestMessageServerWithTimeout(capacity, 0)
}

func newTestMessageServerWithTimeout(capacity int, sendTimeout time.Duration) (*MessageServer, *DeliveryChannel) {
	d := NewDeliveryChannel(capacity)
	return NewMessageServer(d, sendTimeout, logging.Discard(), nil), d
}

func TestDispatchRunsObserversBeforeSend(t *testing.T) {
	srv, d := newTestMessageServer(4)

	var calls []string
	var queuedDuringObserve []int
	for _, name := range []string{"h1", "h2", "h3"} {
		name := name
		srv.Register(name, ObserverFunc(func(context.Context, *Message) error {
			calls = append(calls, name)
			queuedDuringObserve = append(queuedDuringObserve, d.Len())
			return nil
		}))
	}

	outcome, err := srv.Dispatch(context.Background(), NewMessage("m"))
	if err != nil || outcome != Delivered {
		t.Fatalf("Dispatch = (%v, %v), want (Delivered, nil)", outcome, err)
	}

	if want := []string{"h1", "h2", "h3"}; !reflect.DeepEqual(calls, want) {
		t.Errorf("observer calls = %v, want %v", calls, want)
	}
	if want := []int{0, 0, 0}; !reflect.DeepEqual(queuedDuringObserve, want) {
		t.Errorf("queue length seen by observers = %v, want %v", queuedDuringObserve, want)
	}
	if d.Len() != 1 {
		t.Errorf("queue length after dispatch = %d, want 1", d.Len())
	}
}

func TestDispatchRoundTripIdentity(t *testing.T) {
	srv, d := newTestMessageServer(1)

	msg := NewMessage("payload with ünïcödé")
	if outcome, err := srv.Dispatch(context.Background(), msg); outcome != Delivered || err != nil {
		t.Fatalf("Dispatch = (%v, %v), want (Delivered, nil)", outcome, err)
	}

	got := <-d.Messages()
	if got.ID != msg.ID || got.Content != msg.Content || !got.Timestamp.Equal(msg.Timestamp) {
		t.Errorf("received %+v, want %+v", got, msg)
	}
}

func TestDispatchObserverCannotAlterDeliveredMessage(t *testing.T) {
	srv, d := newTestMessageServer(1)
	srv.Register("vandal", ObserverFunc(func(_ context.Context, m *Message) error {
		m.Content = "tampered"
		return nil
	}))

	msg := NewMessage("original")
	if _, err := srv.Dispatch(context.Background(), msg); err != nil {
		t.Fatalf("Dispatch error = %v", err)
	}

	if got := <-d.Messages(); got.Content != "original" {
		t.Errorf("delivered content = %q, want original", got.Content)
	}
}

func TestDispatchChannelClosed(t *testing.T) {
	srv, d := newTestMessageServer(1)
	counter := &CountingObserver{}
	srv.Register("count", counter)
	d.Drop()

	outcome, err := srv.Dispatch(context.Background(), NewMessage("x"))
	if outcome != ChannelClosed {
		t.Errorf("outcome = %v, want ChannelClosed", outcome)
	}
	if !errors.Is(err, ErrChannelClosed) {
		t.Errorf("err = %v, want ErrChannelClosed", err)
	}
	if counter.Count() != 1 {
		t.Errorf("observers ran %d times, want 1 even when delivery fails", counter.Count())
	}
}

func TestDispatchSendTimeout(t *testing.T) {
	srv, _ := newTestMessageServer(0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	outcome, err := srv.Dispatch(ctx, NewMessage("nobody reading"))
	if outcome != SendTimedOut {
		t.Errorf("outcome = %v, want SendTimedOut", outcome)
	}
	if !errors.Is(err, ErrSendTimeout) {
		t.Errorf("err = %v, want ErrSendTimeout", err)
	}
}

func TestDispatchSendTimeoutExcludesObservers(t *testing.T) {
	srv, d := newTestMessageServerWithTimeout(8, 20*time.Millisecond)
	srv.Register("slow", ObserverFunc(func(context.Context, *Message) error {
		time.Sleep(40 * time.Millisecond)
		return nil
	}))

	outcome, err := srv.Dispatch(context.Background(), NewMessage("plenty of room"))
	if outcome != Delivered || err != nil {
		t.Fatalf("Dispatch = (%v, %v), want (Delivered, nil)", outcome, err)
	}
	if d.Len() != 1 {
		t.Errorf("queue length = %d, want 1", d.Len())
	}
}

func TestDispatchSendTimeoutBoundsFullQueue(t *testing.T) {
	srv, _ := newTestMessageServerWithTimeout(0, 20*time.Millisecond)

	outcome, err := srv.Dispatch(context.Background(), NewMessage("nobody reading"))
	if outcome != SendTimedOut {
		t.Errorf("outcome = %v, want SendTimedOut", outcome)
	}
	if !errors.Is(err, ErrSendTimeout) {
		t.Errorf("err = %v, want ErrSendTimeout", err)
	}
}

func TestDispatchOutcomeString(t *testing.T) {
	tests := map[DispatchOutcome]string{
		Delivered:           "delivered",
		ChannelClosed:       "channel_closed",
		SendTimedOut:        "send_timeout",
		DispatchOutcome(42): "unknown",
	}
	for outcome, want := range tests {
		if got := outcome.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", int(outcome), got, want)
		}
	}
}

func TestNewMessage(t *testing.T) {
	before := time.Now()
	msg := NewMessage("hello")
	after := time.Now()

	if msg.Content != "hello" {
		t.Errorf("Content = %q, want hello", msg.Content)
	}
	if msg.ID == "" {
		t.Error("ID is empty")
	}
	if msg.Timestamp.Before(before) || msg.Timestamp.After(after) {
		t.Errorf("Timestamp %v not within [%v, %v]", msg.Timestamp, before, after)
	}
	if other := NewMessage("hello"); other.ID == msg.ID {
		t.Error("two messages share an ID")
	}
}

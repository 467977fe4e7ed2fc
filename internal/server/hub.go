// Package server coordinates subscriber registration and fans delivered
// messages out to WebSocket subscribers via the Hub type. The hub is the
// consumer of the delivery channel.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/msgrelay/internal/metrics"
)

// Hub drains the delivery channel and broadcasts each message to every
// connected subscriber. When Run returns, the receiving side of the delivery
// channel is dropped so later dispatches report ChannelClosed.
type Hub struct {
	subscribers map[*Subscriber]bool
	delivery    *DeliveryChannel
	register    chan *Subscriber
	unregister  chan *Subscriber
	mutex       sync.RWMutex
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	logger      *slog.Logger
	metrics     *metrics.Collector
	forwarded   atomic.Uint64
	started     atomic.Bool
}

// NewHub creates a hub consuming delivery. Call Start (or Run in its own
// goroutine) before registering subscribers.
func NewHub(delivery *DeliveryChannel, logger *slog.Logger, collector *metrics.Collector) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		subscribers: make(map[*Subscriber]bool),
		delivery:    delivery,
		register:    make(chan *Subscriber),
		unregister:  make(chan *Subscriber),
		ctx:         ctx,
		cancel:      cancel,
		done:        make(chan struct{}),
		logger:      logger,
		metrics:     collector,
	}
}

// Register hands a subscriber to the hub. It returns false if the hub was
// never started or has stopped.
func (h *Hub) Register(s *Subscriber) bool {
	if !h.started.Load() {
		return false
	}
	select {
	case h.register <- s:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterSubscriber(s *Subscriber) {
	select {
	case h.unregister <- s:
	case <-h.done:
	}
}

// SubscriberCount returns the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.subscribers)
}

func (h *Hub) safeSend(s *Subscriber, payload []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("recovered from panic in safeSend", "panic", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent racing a close.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.subscribers[s]
	if !exists || s.closed {
		return false
	}

	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// Start runs the event loop in a new goroutine. It returns false if the hub
// was already started or shut down.
func (h *Hub) Start(ctx context.Context) bool {
	if !h.started.CompareAndSwap(false, true) {
		return false
	}
	go h.run(ctx)
	return true
}

// Run is the hub's event loop. It blocks until Shutdown is called or ctx is
// cancelled, and returns at once if the hub was already started.
func (h *Hub) Run(ctx context.Context) {
	if !h.started.CompareAndSwap(false, true) {
		return
	}
	h.run(ctx)
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	defer h.delivery.Drop()

	for {
		select {
		case <-ctx.Done():
			h.shutdownSubscribers()
			return

		case <-h.ctx.Done():
			h.shutdownSubscribers()
			return

		case s := <-h.register:
			h.addSubscriber(s)

		case s := <-h.unregister:
			h.removeSubscriber(s)

		case msg := <-h.delivery.Messages():
			h.metrics.SetQueueDepth(h.delivery.Len())
			h.handleBroadcast(msg)
		}
	}
}

func (h *Hub) addSubscriber(s *Subscriber) {
	if s == nil {
		h.logger.Warn("received nil subscriber registration; skipping")
		return
	}

	h.mutex.Lock()
	s.closed = false
	h.subscribers[s] = true
	count := len(h.subscribers)
	h.mutex.Unlock()

	h.metrics.SetSubscribers(count)
	h.logger.Info("subscriber registered", "addr", s.addr, "subscribers", count)

	if s.conn == nil {
		return
	}

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		s.writePump()
	}()
	go func() {
		defer h.wg.Done()
		s.readPump()
	}()
}

func (h *Hub) removeSubscriber(s *Subscriber) {
	h.mutex.Lock()
	if _, ok := h.subscribers[s]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.subscribers, s)
	s.closed = true
	count := len(h.subscribers)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(s.send)
	h.metrics.SetSubscribers(count)
	h.logger.Info("subscriber unregistered", "addr", s.addr, "subscribers", count)
}

// handleBroadcast encodes msg once and sends it to every subscriber,
// evicting those whose buffers are full.
func (h *Hub) handleBroadcast(msg Message) {
	h.forwarded.Add(1)

	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode message for subscribers", "message_id", msg.ID, "error", err)
		return
	}

	subscribers := h.getSubscriberSnapshot()
	h.logger.Debug("broadcasting message", "message_id", msg.ID, "subscribers", len(subscribers))

	var failed []*Subscriber
	for _, s := range subscribers {
		if !h.safeSend(s, payload) {
			failed = append(failed, s)
		}
	}
	h.removeFailedSubscribers(failed)
}

func (h *Hub) getSubscriberSnapshot() []*Subscriber {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	subscribers := make([]*Subscriber, 0, len(h.subscribers))
	for s := range h.subscribers {
		subscribers = append(subscribers, s)
	}
	return subscribers
}

func (h *Hub) removeFailedSubscribers(failed []*Subscriber) {
	if len(failed) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, s := range failed {
		if _, exists := h.subscribers[s]; exists {
			delete(h.subscribers, s)
			s.closed = true
			channelsToClose = append(channelsToClose, s.send)
			h.logger.Warn("subscriber removed due to full send buffer", "addr", s.addr)
		}
	}
	count := len(h.subscribers)
	h.mutex.Unlock()

	for _, ch := range channelsToClose {
		close(ch)
	}
	h.metrics.SetSubscribers(count)
}

func (h *Hub) shutdownSubscribers() {
	h.mutex.Lock()
	subscribers := make([]*Subscriber, 0, len(h.subscribers))
	for s := range h.subscribers {
		subscribers = append(subscribers, s)
		delete(h.subscribers, s)
		s.closed = true
	}
	h.mutex.Unlock()

	for _, s := range subscribers {
		close(s.send)
		if s.conn == nil {
			continue
		}
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			h.logger.Warn("error closing subscriber connection", "addr", s.addr, "error", err)
		}
	}

	h.metrics.SetSubscribers(0)
	h.logger.Info("closed subscriber connections", "count", len(subscribers))
}

// Forwarded returns how many messages the hub has drained so far.
func (h *Hub) Forwarded() uint64 {
	return h.forwarded.Load()
}

// Done is closed when Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Shutdown stops Run and waits for subscriber goroutines to finish or for
// timeout to pass. On a hub that was never started it drops the delivery
// channel and marks the hub stopped.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	h.cancel()
	if h.started.CompareAndSwap(false, true) {
		h.delivery.Drop()
		close(h.done)
		h.logger.Info("hub was never started; delivery channel dropped")
		return nil
	}
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

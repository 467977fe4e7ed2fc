// Package server exposes HTTP handlers: message intake, subscriber WebSocket
// upgrades, the greeting probe and the health report.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Greeting is the body served by the root probe.
const Greeting = "Hello, World!"

// MessageHandler accepts a text payload, dispatches it through the shared
// message server and answers with one of the fixed response strings.
func (rl *Relay) MessageHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method not allowed. Message endpoint only accepts POST requests.", http.StatusMethodNotAllowed)
		return
	}

	if !rl.limiter.allow(clientKey(r), time.Now()) {
		rl.metrics.RecordRateLimited()
		rl.logger.Warn("rate limit exceeded", "remote_addr", r.RemoteAddr)
		http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, rl.config.MaxMessageSize))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			rl.logger.Info("message exceeded maximum size",
				"remote_addr", r.RemoteAddr,
				"limit", maxErr.Limit,
			)
			http.Error(w, http.StatusText(http.StatusRequestEntityTooLarge), http.StatusRequestEntityTooLarge)
			return
		}
		rl.logger.Warn("failed to read message body", "remote_addr", r.RemoteAddr, "error", err)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	// The body is in; a dispatch waiting on the lock or the queue must not be
	// cancelled by the server's read deadline.
	_ = http.NewResponseController(w).SetReadDeadline(time.Time{})

	msg := NewMessage(string(body))
	status, text := rl.submit(r.Context(), msg)
	writeText(w, status, text)
}

// WebSocketHandler upgrades a GET request and registers the connection as a
// subscriber of delivered messages.
func (rl *Relay) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := rl.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rl.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	sub := NewSubscriber(conn, rl.hub, r.RemoteAddr)
	if !rl.hub.Register(sub) {
		rl.logger.Warn("hub not running; closing subscriber", "remote_addr", r.RemoteAddr)
		_ = conn.Close()
	}
}

// HealthHandler answers the root probe with a fixed greeting.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	writeText(w, http.StatusOK, Greeting)
}

// HealthReport is the JSON body of /healthz.
type HealthReport struct {
	Status      string `json:"status"`
	QueueLen    int    `json:"queue_len"`
	QueueCap    int    `json:"queue_cap"`
	Subscribers int    `json:"subscribers"`
	Poisoned    bool   `json:"poisoned"`
	Dropped     bool   `json:"delivery_dropped"`
}

// HealthzHandler reports queue, subscriber and lock state. It answers 503
// when messages can no longer be delivered.
func (rl *Relay) HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	report := HealthReport{
		Status:      "ok",
		QueueLen:    rl.delivery.Len(),
		QueueCap:    rl.delivery.Cap(),
		Subscribers: rl.hub.SubscriberCount(),
		Poisoned:    rl.state.Poisoned(),
		Dropped:     rl.delivery.Dropped(),
	}

	status := http.StatusOK
	if report.Poisoned || report.Dropped {
		report.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(report); err != nil {
		rl.logger.Warn("error writing health report", "error", err)
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(status)
	_, _ = fmt.Fprint(w, body)
}

// clientKey identifies the caller for rate limiting.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Package server wires HTTP handlers into a ServeMux for the relay via
// routing helpers.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with all relay routes:
// the greeting probe, message intake, subscriber WebSocket, health report
// and, when enabled, Prometheus metrics.
func SetupRoutes(rl *Relay) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", HealthHandler)
	mux.HandleFunc("/message", rl.MessageHandler)
	mux.HandleFunc("/ws", rl.WebSocketHandler)
	mux.HandleFunc("/healthz", rl.HealthzHandler)
	if rl.config.Metrics.Enabled && rl.metrics != nil {
		mux.Handle(rl.config.Metrics.Path, rl.metrics.Handler())
	}
	return mux
}

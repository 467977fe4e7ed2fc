// Package server wires the message server, its shared-access wrapper, the
// delivery channel and the subscriber hub into one Relay.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/msgrelay/internal/metrics"
)

// Relay is the assembled service. Build it with New, register observers,
// then call Run (or StartHub and serve Handler yourself).
type Relay struct {
	config   *Config
	logger   *slog.Logger
	metrics  *metrics.Collector
	delivery *DeliveryChannel
	server   *MessageServer
	state    *SharedState
	hub      *Hub
	limiter  *rateLimiter
	upgrader websocket.Upgrader
}

// New builds a relay from cfg. collector may be nil to disable metrics.
func New(cfg *Config, logger *slog.Logger, collector *metrics.Collector) *Relay {
	delivery := NewDeliveryChannel(cfg.QueueCapacity)
	srv := NewMessageServer(delivery, cfg.SendTimeout, logger, collector)
	origins := newOriginPolicy(cfg.AllowedOrigins, logger)

	return &Relay{
		config:   cfg,
		logger:   logger,
		metrics:  collector,
		delivery: delivery,
		server:   srv,
		state:    NewSharedState(srv, logger, collector),
		hub:      NewHub(delivery, logger, collector),
		limiter:  newRateLimiter(cfg.RateLimit),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.checkOrigin,
		},
	}
}

// Register adds an observer. Call before the relay starts serving requests.
func (rl *Relay) Register(name string, obs Observer) {
	rl.server.Register(name, obs)
}

// State returns the shared handle to the message server.
func (rl *Relay) State() *SharedState {
	return rl.state
}

// Hub returns the subscriber hub consuming the delivery channel.
func (rl *Relay) Hub() *Hub {
	return rl.hub
}

// Delivery returns the delivery channel.
func (rl *Relay) Delivery() *DeliveryChannel {
	return rl.delivery
}

// Handler returns the routed HTTP handler.
func (rl *Relay) Handler() http.Handler {
	return SetupRoutes(rl)
}

// StartHub runs the hub until ctx is cancelled or Shutdown is called.
// Until it is called, /ws upgrades are closed right away.
func (rl *Relay) StartHub(ctx context.Context) {
	if !rl.hub.Start(ctx) {
		rl.logger.Warn("hub already started or stopped")
		return
	}
	rl.logger.Info("hub started and consuming the delivery channel",
		"queue_capacity", rl.delivery.Cap(),
	)
}

// Run starts the hub and the HTTP server and blocks until ctx is cancelled
// or the server fails. On cancellation it shuts the HTTP server down first,
// then the hub.
func (rl *Relay) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	rl.StartHub(context.Background())

	httpServer := CreateServer(rl.config.ListenAddress, rl.Handler(), rl.config.EffectiveWriteTimeout())

	errCh := make(chan error, 1)
	go func() {
		errCh <- StartServer(httpServer, rl.logger)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownErr := ShutdownServer(httpServer, shutdownTimeout, rl.logger)
	hubErr := rl.hub.Shutdown(shutdownTimeout)

	return errors.Join(serveErr, shutdownErr, hubErr)
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// submit runs msg through the shared message server and maps the result to
// an HTTP status and the fixed response vocabulary.
func (rl *Relay) submit(ctx context.Context, msg Message) (int, string) {
	lockCtx, cancelLock := withOptionalTimeout(ctx, rl.config.LockTimeout)
	defer cancelLock()

	var outcome DispatchOutcome
	err := rl.state.Do(lockCtx, func(srv *MessageServer) error {
		outcome, _ = srv.Dispatch(ctx, msg)
		return nil
	})

	if err != nil {
		if errors.Is(err, ErrLockPoisoned) {
			rl.logger.Error("rejecting message: shared server state is poisoned",
				"message_id", msg.ID,
				"error", err,
			)
			return rl.status(http.StatusInternalServerError), ResponseServerErr
		}
		rl.logger.Warn("rejecting message: exclusive access not granted",
			"message_id", msg.ID,
			"error", err,
		)
		return rl.status(http.StatusServiceUnavailable), ResponseServerErr
	}

	if outcome == Delivered {
		return http.StatusOK, ResponseReceived
	}
	return rl.status(http.StatusServiceUnavailable), ResponseDispatchErr
}

// status returns code when strict status codes are on, 200 otherwise.
func (rl *Relay) status(code int) int {
	if rl.config.StrictStatusCodes {
		return code
	}
	return http.StatusOK
}

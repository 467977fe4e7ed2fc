// Package server manages individual WebSocket subscribers, handling the
// read/write pumps and lifecycle of each connection.
package server

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
)

const (
	subscriberSendBuffer = 256
	pongWait             = 60 * time.Second
	pingPeriod           = 54 * time.Second
	writeWait            = 10 * time.Second
	subscriberReadLimit  = 512
)

// Subscriber is a WebSocket connection receiving delivered messages. It is
// read-only from the relay's point of view: inbound data frames are
// discarded, only control frames matter.
type Subscriber struct {
	conn   *websocket.Conn
	send   chan []byte
	hub    *Hub
	addr   string
	closed bool
	logger *slog.Logger
}

// NewSubscriber creates a Subscriber for conn. The send channel is buffered
// so one slow write does not stall the hub.
func NewSubscriber(conn *websocket.Conn, hub *Hub, addr string) *Subscriber {
	if conn != nil {
		conn.SetReadLimit(subscriberReadLimit)
	}

	return &Subscriber{
		conn:   conn,
		send:   make(chan []byte, subscriberSendBuffer),
		hub:    hub,
		addr:   addr,
		logger: hub.logger.With("subscriber", addr),
	}
}

// GetSendChan returns the subscriber's outgoing message channel.
func (s *Subscriber) GetSendChan() <-chan []byte {
	return s.send
}

func (s *Subscriber) setupReadConnection() {
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.logger.Warn("error setting initial read deadline", "error", err)
	}
	s.conn.SetPongHandler(func(string) error {
		if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			s.logger.Warn("error setting read deadline in pong handler", "error", err)
		}
		return nil
	})
}

// handleReadError logs the read failure at an appropriate level.
func (s *Subscriber) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.logger.Info("subscriber frame exceeded read limit", "limit", subscriberReadLimit)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		s.logger.Info("subscriber disconnected", "error", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		s.logger.Info("subscriber connection closed", "error", err)
	default:
		s.logger.Warn("subscriber read error", "error", err)
	}
}

func (s *Subscriber) readPump() {
	defer func() {
		s.hub.unregisterSubscriber(s)
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.logger.Warn("error closing connection in readPump", "error", err)
		}
	}()

	s.setupReadConnection()

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			s.handleReadError(err)
			return
		}
		s.logger.Debug("discarding inbound frame from read-only subscriber")
	}
}

func (s *Subscriber) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.logger.Warn("error closing connection in writePump", "error", err)
		}
	}()

	for s.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop.
func (s *Subscriber) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-s.send:
		return s.handleMessage(message, ok)
	case <-ticker.C:
		return s.handlePing()
	}
}

func (s *Subscriber) handleMessage(message []byte, ok bool) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.logger.Warn("error setting write deadline", "error", err)
		return false
	}

	if !ok {
		if err := s.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
			s.logger.Warn("error writing close message", "error", err)
		}
		return false
	}

	// One frame per message so subscribers can decode each frame as JSON.
	if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		s.logger.Warn("error writing message", "error", err)
		return false
	}
	return true
}

func (s *Subscriber) handlePing() bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.logger.Warn("error setting write deadline for ping", "error", err)
		return false
	}
	if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		s.logger.Warn("error writing ping", "error", err)
		return false
	}
	return true
}

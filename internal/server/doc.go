// Package server implements the message relay: HTTP intake, the observer
// registry, the exclusive-access wrapper around the single MessageServer,
// the bounded delivery channel and the WebSocket hub that consumes it.
//
// The implementation is organized into specialized files for configuration,
// dispatch, shared state, delivery, the hub, subscribers, routing and HTTP
// handlers.
//
// Every dispatch runs under exclusive access, so at most one message is
// being observed and enqueued at any time. When the delivery channel is full
// the dispatch blocks while holding access and later requests wait behind
// it; Config.LockTimeout and Config.SendTimeout bound that stall.
package server

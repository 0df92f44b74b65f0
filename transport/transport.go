// Package transport provides the single bidirectional real-time connection
// shared by every open conversation.
//
// The connection is a plain state machine (Disconnected -> Connecting ->
// Ready -> Disconnected on any failure) with typed-frame send and a
// subscription registry for inbound dispatch. Reconnection is caller
// driven: the transport holds no memory of joined conversation topics, so
// after a reconnect callers re-join explicitly.
//
// Inbound dispatch is sequential: handlers run one at a time, in arrival
// order, on the reader goroutine. Handlers must not block; long-running
// work belongs on the caller's side of the handler.
package transport

import (
	"context"
	"errors"
)

// State is the connection state exposed to callers. There is no degraded
// intermediate state: any transport-level failure goes straight back to
// Disconnected.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// ErrTransportUnavailable is returned by Send while the connection is not
// Ready. Sends are never silently dropped; callers decide whether to queue
// or surface the failure.
var ErrTransportUnavailable = errors.New("transport: not connected")

// Predicate selects which inbound frames a subscription receives.
type Predicate func(Frame) bool

// Handler consumes one inbound frame. Handlers run sequentially on the
// dispatch goroutine.
type Handler func(Frame)

// Transport is the connection abstraction shared by the whole session.
type Transport interface {
	// Connect establishes the connection. Calling while already connected
	// or connecting is a no-op success.
	Connect(ctx context.Context, authToken string) error

	// Disconnect tears the connection down. Subscriptions survive a
	// disconnect; only the wire goes away.
	Disconnect() error

	// Send transmits one typed frame. Returns ErrTransportUnavailable when
	// the connection is not Ready.
	Send(kind Kind, payload any) error

	// Subscribe registers a handler for frames matching the predicate and
	// returns a cancelable handle.
	Subscribe(pred Predicate, h Handler) *Subscription

	// IsReady reports whether the connection is Ready.
	IsReady() bool
}

// KindIs returns a predicate matching frames of any of the given kinds.
func KindIs(kinds ...Kind) Predicate {
	return func(f Frame) bool {
		for _, k := range kinds {
			if f.Kind == k {
				return true
			}
		}
		return false
	}
}

package transport

import (
	"context"
	"sync"
	"sync/atomic"
)

// Pipe is an in-memory Transport used by tests and local simulation. Sent
// frames are recorded for inspection and inbound frames are injected with
// Inject, which dispatches synchronously on the caller's goroutine the way
// the websocket reader does.
type Pipe struct {
	registry *Registry
	state    atomic.Int32

	mu   sync.Mutex
	sent []Frame
}

// NewPipe creates a disconnected in-memory transport.
func NewPipe() *Pipe {
	return &Pipe{registry: NewRegistry()}
}

// Connect transitions straight to Ready.
func (p *Pipe) Connect(_ context.Context, _ string) error {
	p.state.Store(int32(StateReady))
	return nil
}

// Disconnect transitions to Disconnected.
func (p *Pipe) Disconnect() error {
	p.state.Store(int32(StateDisconnected))
	return nil
}

// Send records the frame.
func (p *Pipe) Send(kind Kind, payload any) error {
	if !p.IsReady() {
		return ErrTransportUnavailable
	}

	frame, err := NewFrame(kind, payload)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.sent = append(p.sent, frame)
	p.mu.Unlock()
	return nil
}

// Subscribe registers a handler in the shared registry.
func (p *Pipe) Subscribe(pred Predicate, h Handler) *Subscription {
	return p.registry.Add(pred, h)
}

// IsReady reports whether Connect has been called without a Disconnect.
func (p *Pipe) IsReady() bool {
	return State(p.state.Load()) == StateReady
}

// Inject delivers an inbound frame to all matching subscriptions.
func (p *Pipe) Inject(kind Kind, payload any) error {
	frame, err := NewFrame(kind, payload)
	if err != nil {
		return err
	}
	p.registry.Dispatch(frame)
	return nil
}

// Sent returns a copy of every frame sent so far.
func (p *Pipe) Sent() []Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Frame, len(p.sent))
	copy(out, p.sent)
	return out
}

// SentOfKind returns the sent frames with the given kind.
func (p *Pipe) SentOfKind(kind Kind) []Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Frame
	for _, f := range p.sent {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// Reset clears the sent-frame record.
func (p *Pipe) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = nil
}

package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultDialTimeout bounds the websocket dial.
	DefaultDialTimeout = 15 * time.Second
	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 10 * time.Second
)

// WebSocket is the production Transport: one websocket connection carrying
// JSON frames both ways.
type WebSocket struct {
	url      string
	deviceID string
	registry *Registry

	dialTimeout  time.Duration
	writeTimeout time.Duration

	state atomic.Int32

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
}

// NewWebSocket creates a disconnected websocket transport. deviceID is sent
// on every connect so the server can route per-device envelopes.
func NewWebSocket(url, deviceID string) *WebSocket {
	return &WebSocket{
		url:          url,
		deviceID:     deviceID,
		registry:     NewRegistry(),
		dialTimeout:  DefaultDialTimeout,
		writeTimeout: DefaultWriteTimeout,
	}
}

// Connect dials the server. Calling while already connected or connecting
// is a no-op success.
func (w *WebSocket) Connect(ctx context.Context, authToken string) error {
	if !w.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		return nil
	}

	dialCtx, cancel := context.WithTimeout(ctx, w.dialTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+authToken)
	header.Set("X-Device-ID", w.deviceID)

	conn, _, err := websocket.Dial(dialCtx, w.url, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		w.state.Store(int32(StateDisconnected))
		return fmt.Errorf("transport: dial failed: %w", err)
	}

	readCtx, readCancel := context.WithCancel(context.Background())

	w.mu.Lock()
	w.conn = conn
	w.cancel = readCancel
	w.mu.Unlock()

	w.state.Store(int32(StateReady))

	logrus.WithFields(logrus.Fields{
		"function":  "Connect",
		"package":   "transport",
		"device_id": w.deviceID,
	}).Info("Transport connected")

	go w.readLoop(readCtx, conn)
	return nil
}

// Disconnect closes the connection. Subscriptions stay registered.
func (w *WebSocket) Disconnect() error {
	w.teardown(websocket.StatusNormalClosure, "client disconnect")
	return nil
}

// Send transmits one typed frame while Ready.
func (w *WebSocket) Send(kind Kind, payload any) error {
	if !w.IsReady() {
		return ErrTransportUnavailable
	}

	frame, err := NewFrame(kind, payload)
	if err != nil {
		return fmt.Errorf("transport: encode frame: %w", err)
	}

	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return ErrTransportUnavailable
	}

	ctx, cancel := context.WithTimeout(context.Background(), w.writeTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, conn, frame); err != nil {
		w.teardown(websocket.StatusInternalError, "write failed")
		return fmt.Errorf("transport: write failed: %w", err)
	}
	return nil
}

// Subscribe registers a handler in the shared registry.
func (w *WebSocket) Subscribe(pred Predicate, h Handler) *Subscription {
	return w.registry.Add(pred, h)
}

// IsReady reports whether the connection is Ready.
func (w *WebSocket) IsReady() bool {
	return State(w.state.Load()) == StateReady
}

// readLoop reads frames until the connection dies and dispatches them
// sequentially, preserving arrival order.
func (w *WebSocket) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var frame Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			if ctx.Err() == nil {
				logrus.WithFields(logrus.Fields{
					"function": "readLoop",
					"package":  "transport",
					"error":    err.Error(),
				}).Warn("Transport read failed, disconnecting")
			}
			w.teardown(websocket.StatusInternalError, "read failed")
			return
		}
		w.registry.Dispatch(frame)
	}
}

// teardown transitions to Disconnected and closes the wire exactly once
// per connection.
func (w *WebSocket) teardown(code websocket.StatusCode, reason string) {
	w.mu.Lock()
	conn := w.conn
	cancel := w.cancel
	w.conn = nil
	w.cancel = nil
	w.mu.Unlock()

	w.state.Store(int32(StateDisconnected))

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(code, reason)
	}
}

// Package typing debounces the local user's typing signals for one
// conversation.
//
// The first keystroke of a burst emits a typing frame and arms a
// single-shot idle timer; every further keystroke re-arms the timer
// without emitting again. When the timer fires the coordinator emits
// stop_typing exactly once. Switching away from the conversation emits
// stop_typing immediately instead of waiting for the timer.
package typing

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/sealchat/transport"
)

// DefaultIdleDelay is how long after the last keystroke the stop_typing
// signal fires.
const DefaultIdleDelay = 1600 * time.Millisecond

// Coordinator debounces typing signals for a single conversation. At most
// one idle timer is pending at any time.
type Coordinator struct {
	tr      transport.Transport
	chatID  string
	userID  string
	idle    time.Duration
	enabled bool

	mu     sync.Mutex
	timer  *time.Timer
	active bool
	gen    uint64
}

// NewCoordinator creates a coordinator for one conversation. When enabled
// is false every call is a no-op: typing indicators are a user preference.
func NewCoordinator(tr transport.Transport, chatID, userID string, enabled bool) *Coordinator {
	return &Coordinator{
		tr:      tr,
		chatID:  chatID,
		userID:  userID,
		idle:    DefaultIdleDelay,
		enabled: enabled,
	}
}

// SetIdleDelay overrides the idle delay. Intended for tests and callers
// with server-mandated timing.
func (c *Coordinator) SetIdleDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.idle = d
}

// Touch records one local keystroke. The first keystroke of a burst emits
// typing; every keystroke re-arms the idle timer.
func (c *Coordinator) Touch() {
	if !c.enabled {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		c.active = true
		c.emit(transport.KindTyping)
	}

	// Stop cannot cancel a timer that has already fired; the generation
	// counter makes the in-flight expire a no-op instead.
	if c.timer != nil {
		c.timer.Stop()
	}
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(c.idle, func() { c.expire(gen) })
}

// Stop cancels any pending timer and, if a typing burst is active, emits
// stop_typing immediately. Call on conversation switch or teardown.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.gen++
	if c.active {
		c.active = false
		c.emit(transport.KindStopTyping)
	}
}

// expire fires when the idle timer elapses without another keystroke. A
// keystroke or Stop racing the timer bumps the generation, so a stale
// expire that lost the race for the mutex returns without emitting.
func (c *Coordinator) expire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.gen || !c.active {
		return
	}
	c.active = false
	c.timer = nil
	c.emit(transport.KindStopTyping)
}

// emit sends a typing frame. Typing signals are best-effort: a send
// failure is logged and forgotten.
func (c *Coordinator) emit(kind transport.Kind) {
	err := c.tr.Send(kind, transport.TypingEvent{ChatID: c.chatID, UserID: c.userID})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "emit",
			"package":  "typing",
			"chat_id":  c.chatID,
			"kind":     string(kind),
			"error":    err.Error(),
		}).Debug("Typing signal dropped")
	}
}

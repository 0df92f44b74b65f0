package transport

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Subscription is a handle to one registered handler. Cancel is idempotent
// and safe to call from inside a handler during dispatch.
type Subscription struct {
	id       uint64
	registry *Registry
}

// Cancel removes the subscription from its registry.
func (s *Subscription) Cancel() {
	if s == nil || s.registry == nil {
		return
	}
	s.registry.remove(s.id)
}

type subscription struct {
	id      uint64
	pred    Predicate
	handler Handler
}

// Registry is the subscription arena: a table of active subscriptions
// keyed by id, removed on cancel. Dispatch snapshots the table so a
// handler may cancel itself or register new subscriptions re-entrantly.
type Registry struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]*subscription
}

// NewRegistry creates an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[uint64]*subscription)}
}

// Add registers a handler and returns its handle.
func (r *Registry) Add(pred Predicate, h Handler) *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	id := r.nextID
	r.subs[id] = &subscription{id: id, pred: pred, handler: h}

	return &Subscription{id: id, registry: r}
}

func (r *Registry) remove(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

// Len returns the number of active subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Dispatch delivers one frame to every matching subscription, in
// registration order. Handlers run sequentially on the caller's goroutine.
func (r *Registry) Dispatch(frame Frame) {
	r.mu.Lock()
	snapshot := make([]*subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		snapshot = append(snapshot, sub)
	}
	r.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].id < snapshot[j].id })

	matched := 0
	for _, sub := range snapshot {
		// Re-check liveness: an earlier handler may have canceled this one.
		r.mu.Lock()
		_, alive := r.subs[sub.id]
		r.mu.Unlock()
		if !alive {
			continue
		}

		if sub.pred != nil && !sub.pred(frame) {
			continue
		}
		sub.handler(frame)
		matched++
	}

	if matched == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Dispatch",
			"package":  "transport",
			"kind":     string(frame.Kind),
		}).Debug("Frame matched no subscriptions")
	}
}

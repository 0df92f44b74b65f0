package timeline

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// StatusUpdate is one inbound delivery/seen transition for a message.
// Receipt is non-nil only on seen transitions that identify the viewer.
type StatusUpdate struct {
	MessageID string
	Status    Status
	Receipt   *SeenReceipt
}

// Store owns one conversation's message set plus its pagination
// bookkeeping. Each conversation controller exclusively owns its Store;
// the mutex only guards the dispatch goroutine against direct reads from
// the UI layer.
type Store struct {
	mu       sync.Mutex
	messages []Message
	cursor   string
	hasMore  bool
}

// NewStore creates an empty store that assumes more history exists until a
// page says otherwise.
func NewStore() *Store {
	return &Store{hasMore: true}
}

// Seed replaces the store's contents, typically from a local cache or the
// first history page.
func (s *Store) Seed(msgs []Message, cursor string, hasMore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = Merge(nil, msgs, Replace)
	s.cursor = cursor
	s.hasMore = hasMore
}

// ApplyLive merges a single live message into the timeline.
func (s *Store) ApplyLive(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = Merge(s.messages, []Message{msg}, Prepend)
}

// ApplyPage merges one history page and advances the pagination cursor.
// Applying the same page twice is harmless: the merge law deduplicates and
// the cursor lands on the same value.
func (s *Store) ApplyPage(msgs []Message, nextCursor string, hasMore bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = Merge(s.messages, msgs, Prepend)
	s.cursor = nextCursor
	s.hasMore = hasMore

	logrus.WithFields(logrus.Fields{
		"function": "ApplyPage",
		"package":  "timeline",
		"batch":    len(msgs),
		"total":    len(s.messages),
		"has_more": hasMore,
	}).Debug("Merged history page")
}

// ApplyStatus applies one delivery/seen transition. Status is a high-water
// mark: an out-of-order "delivered" arriving after "seen" is ignored. A
// viewer's receipt accretes onto the message's SeenBy list, keeping the
// latest timestamp per viewer.
func (s *Store) ApplyStatus(update StatusUpdate) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.messages {
		if s.messages[i].ID != update.MessageID {
			continue
		}

		if update.Status > s.messages[i].Status {
			s.messages[i].Status = update.Status
		}

		if update.Receipt != nil {
			s.messages[i].SeenBy = accrete(s.messages[i].SeenBy, *update.Receipt)
		}
		return true
	}

	logrus.WithFields(logrus.Fields{
		"function":   "ApplyStatus",
		"package":    "timeline",
		"message_id": update.MessageID,
	}).Debug("Status update for unknown message, dropped")
	return false
}

// accrete folds a receipt into a SeenBy list, keeping one entry per viewer
// with the latest SeenAt.
func accrete(seenBy []SeenReceipt, r SeenReceipt) []SeenReceipt {
	for i := range seenBy {
		if seenBy[i].ViewerUserID != r.ViewerUserID {
			continue
		}
		if r.SeenAt.After(seenBy[i].SeenAt) {
			seenBy[i] = r
		}
		return seenBy
	}
	return append(seenBy, r)
}

// Get returns the message with the given id, if present.
func (s *Store) Get(id string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.messages {
		if m.ID == id {
			return m, true
		}
	}
	return Message{}, false
}

// Messages returns a copy of the ordered timeline.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Len returns the number of messages held.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// Cursor returns the opaque pagination cursor for the next loadOlder call.
func (s *Store) Cursor() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// HasMore reports whether older history remains to be fetched.
func (s *Store) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasMore
}

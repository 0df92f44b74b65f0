package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSeedAndLive(t *testing.T) {
	s := NewStore()
	s.Seed([]Message{msg("2", time.Minute), msg("1", 0)}, "cur-1", true)

	assert.Equal(t, []string{"1", "2"}, ids(s.Messages()))
	assert.Equal(t, "cur-1", s.Cursor())
	assert.True(t, s.HasMore())

	s.ApplyLive(msg("3", 2*time.Minute))
	assert.Equal(t, []string{"1", "2", "3"}, ids(s.Messages()))

	// The same live event delivered again (history echo) changes nothing.
	s.ApplyLive(msg("3", 2*time.Minute))
	assert.Equal(t, []string{"1", "2", "3"}, ids(s.Messages()))
}

func TestStoreApplyPageTwiceSameCursor(t *testing.T) {
	s := NewStore()
	s.Seed([]Message{msg("5", 5*time.Minute)}, "cur-a", true)

	page := []Message{msg("3", 3*time.Minute), msg("4", 4*time.Minute)}

	s.ApplyPage(page, "cur-b", true)
	once := s.Messages()

	s.ApplyPage(page, "cur-b", true)
	twice := s.Messages()

	assert.Equal(t, once, twice, "re-applying the same page must be a no-op")
	assert.Equal(t, "cur-b", s.Cursor())
}

func TestStoreSlowPageArrivesLate(t *testing.T) {
	s := NewStore()
	s.Seed([]Message{msg("9", 9*time.Minute)}, "", true)

	// The older page lands after the newer one; chronology must still hold.
	s.ApplyPage([]Message{msg("1", time.Minute)}, "cur-old", false)
	s.ApplyPage([]Message{msg("5", 5*time.Minute)}, "cur-mid", true)

	assert.Equal(t, []string{"1", "5", "9"}, ids(s.Messages()))
}

func TestStoreStatusHighWaterMark(t *testing.T) {
	s := NewStore()
	s.Seed([]Message{msg("1", 0)}, "", false)

	// Seen arrives before Delivered; the later Delivered must not regress it.
	require.True(t, s.ApplyStatus(StatusUpdate{MessageID: "1", Status: StatusSeen}))
	require.True(t, s.ApplyStatus(StatusUpdate{MessageID: "1", Status: StatusDelivered}))

	assert.Equal(t, StatusSeen, s.Messages()[0].Status)
}

func TestStoreStatusUnknownMessage(t *testing.T) {
	s := NewStore()
	s.Seed([]Message{msg("1", 0)}, "", false)

	assert.False(t, s.ApplyStatus(StatusUpdate{MessageID: "ghost", Status: StatusSeen}))
	assert.Equal(t, StatusSent, s.Messages()[0].Status, "unrelated messages untouched")
}

func TestStoreSeenByAccretion(t *testing.T) {
	s := NewStore()
	s.Seed([]Message{msg("1", 0)}, "", false)

	early := &SeenReceipt{ViewerUserID: "bob", SeenAt: base.Add(time.Minute)}
	late := &SeenReceipt{ViewerUserID: "bob", SeenAt: base.Add(2 * time.Minute)}
	other := &SeenReceipt{ViewerUserID: "carol", SeenAt: base.Add(time.Minute)}

	s.ApplyStatus(StatusUpdate{MessageID: "1", Status: StatusSeen, Receipt: early})
	s.ApplyStatus(StatusUpdate{MessageID: "1", Status: StatusSeen, Receipt: late})
	s.ApplyStatus(StatusUpdate{MessageID: "1", Status: StatusSeen, Receipt: other})

	seenBy := s.Messages()[0].SeenBy
	require.Len(t, seenBy, 2, "one entry per viewer")

	for _, r := range seenBy {
		if r.ViewerUserID == "bob" {
			assert.Equal(t, late.SeenAt, r.SeenAt, "latest receipt per viewer wins")
		}
	}
}

func TestStoreSeenByStaleReceiptIgnored(t *testing.T) {
	s := NewStore()
	s.Seed([]Message{msg("1", 0)}, "", false)

	late := &SeenReceipt{ViewerUserID: "bob", SeenAt: base.Add(2 * time.Minute)}
	early := &SeenReceipt{ViewerUserID: "bob", SeenAt: base.Add(time.Minute)}

	s.ApplyStatus(StatusUpdate{MessageID: "1", Status: StatusSeen, Receipt: late})
	s.ApplyStatus(StatusUpdate{MessageID: "1", Status: StatusSeen, Receipt: early})

	seenBy := s.Messages()[0].SeenBy
	require.Len(t, seenBy, 1)
	assert.Equal(t, late.SeenAt, seenBy[0].SeenAt)
}

func TestStoreMessagesReturnsCopy(t *testing.T) {
	s := NewStore()
	s.Seed([]Message{msg("1", 0)}, "", false)

	snapshot := s.Messages()
	snapshot[0].Content = "mutated"

	assert.Equal(t, "body-1", s.Messages()[0].Content)
}

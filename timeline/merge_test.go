package timeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, offset time.Duration) Message {
	return Message{
		ID:        id,
		ChatID:    "chat-1",
		SenderID:  "alice",
		Content:   "body-" + id,
		CreatedAt: base.Add(offset),
	}
}

func ids(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestMergeOrdersChronologically(t *testing.T) {
	incoming := []Message{msg("c", 2*time.Minute), msg("a", 0), msg("b", time.Minute)}

	merged := Merge(nil, incoming, Replace)

	assert.Equal(t, []string{"a", "b", "c"}, ids(merged))
}

func TestMergeIdempotent(t *testing.T) {
	a := []Message{msg("1", 0), msg("2", time.Minute)}
	b := []Message{msg("2", time.Minute), msg("3", 2*time.Minute)}

	once := Merge(a, b, Prepend)
	twice := Merge(once, b, Prepend)

	assert.Equal(t, once, twice, "merging the same batch twice must equal merging it once")
}

func TestMergeDeduplicatesByID(t *testing.T) {
	existing := []Message{msg("1", 0)}
	updated := msg("1", 0)
	updated.Content = "edited"

	merged := Merge(existing, []Message{updated}, Prepend)

	require.Len(t, merged, 1)
	assert.Equal(t, "edited", merged[0].Content, "incoming copy wins on id collision")
}

func TestMergeTieBreakByID(t *testing.T) {
	// Same CreatedAt: order must be id-ascending, deterministically.
	a := msg("aaa", time.Minute)
	b := msg("zzz", time.Minute)
	c := msg("mmm", time.Minute)

	for i := 0; i < 10; i++ {
		merged := Merge(nil, []Message{b, a, c}, Replace)
		assert.Equal(t, []string{"aaa", "mmm", "zzz"}, ids(merged))
	}
}

func TestMergePageOrderCommutative(t *testing.T) {
	pageNew := []Message{msg("5", 5*time.Minute), msg("6", 6*time.Minute)}
	pageMid := []Message{msg("3", 3*time.Minute), msg("4", 4*time.Minute)}
	pageOld := []Message{msg("1", time.Minute), msg("2", 2*time.Minute)}

	pages := [][]Message{pageNew, pageMid, pageOld}
	want := []string{"1", "2", "3", "4", "5", "6"}

	// Every arrival order of the three pages converges on the same timeline.
	perms := [][]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	for _, perm := range perms {
		var timeline []Message
		for _, idx := range perm {
			timeline = Merge(timeline, pages[idx], Prepend)
		}
		assert.Equal(t, want, ids(timeline), "arrival order %v", perm)
	}
}

func TestMergePreservesStatusHighWaterMark(t *testing.T) {
	seen := msg("1", 0)
	seen.Status = StatusSeen

	stale := msg("1", 0)
	stale.Status = StatusSent

	merged := Merge([]Message{seen}, []Message{stale}, Prepend)

	require.Len(t, merged, 1)
	assert.Equal(t, StatusSeen, merged[0].Status, "a stale refetch must not regress status")
}

func TestMergeReplaceDiscardsExisting(t *testing.T) {
	existing := []Message{msg("old", 0)}
	incoming := []Message{msg("new", time.Minute)}

	merged := Merge(existing, incoming, Replace)

	assert.Equal(t, []string{"new"}, ids(merged))
}

func TestParseStatus(t *testing.T) {
	assert.Equal(t, StatusSent, ParseStatus("sent"))
	assert.Equal(t, StatusDelivered, ParseStatus("delivered"))
	assert.Equal(t, StatusSeen, ParseStatus("seen"))
	assert.Equal(t, StatusSent, ParseStatus("garbage"), "unknown status must under-report")
}

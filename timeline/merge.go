package timeline

import "sort"

// InsertMode tags the caller's intent when merging a batch.
type InsertMode int

const (
	// Prepend folds the incoming batch into the existing set: history
	// backfill and live events.
	Prepend InsertMode = iota
	// Replace discards the existing set and rebuilds from the incoming
	// batch alone: initial load and full refresh.
	Replace
)

// Merge combines two message batches into one canonical ordered timeline.
//
// The law: build a map keyed by message id from the union of existing and
// incoming (incoming overwrites existing on id collision), then sort
// ascending by CreatedAt with id as the tie-break. Ordering never depends
// on the mode or on batch arrival order, which makes the merge idempotent
// and page-order commutative: a slow early page landing after a newer one
// still settles into correct chronological position.
//
// On id collision the incoming copy wins wholesale except for Status,
// which keeps the high-water mark: a history refetch carrying a stale
// "sent" cannot regress a message the live path already marked "seen".
func Merge(existing, incoming []Message, mode InsertMode) []Message {
	if mode == Replace {
		existing = nil
	}

	byID := make(map[string]Message, len(existing)+len(incoming))
	for _, m := range existing {
		byID[m.ID] = m
	}
	for _, m := range incoming {
		if prev, ok := byID[m.ID]; ok && prev.Status > m.Status {
			m.Status = prev.Status
		}
		byID[m.ID] = m
	}

	merged := make([]Message, 0, len(byID))
	for _, m := range byID {
		merged = append(merged, m)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Before(merged[j]) })

	return merged
}

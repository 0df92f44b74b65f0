package timeline

import "sort"

// PlaceReceipts computes, for display purposes, which message should show
// which viewers' seen markers.
//
// For each viewer other than self, only the receipt with the latest SeenAt
// survives, ties broken by preferring the chronologically later message. A
// viewer who has seen both an older and a newer message therefore appears
// only on the newer one; stale avatars never accumulate.
//
// The projection is pure and holds no incremental state: callers recompute
// it from scratch at every mutation point (new message, status event) with
// the store's ordered message list as input.
func PlaceReceipts(msgs []Message, selfUserID string) map[string][]SeenReceipt {
	type placement struct {
		receipt   SeenReceipt
		messageID string
	}
	latest := make(map[string]placement)

	// msgs is chronologically ordered, so on an equal SeenAt the later
	// message in the scan wins the tie.
	for _, msg := range msgs {
		for _, r := range msg.SeenBy {
			if r.ViewerUserID == selfUserID {
				continue
			}
			best, ok := latest[r.ViewerUserID]
			if !ok || !r.SeenAt.Before(best.receipt.SeenAt) {
				latest[r.ViewerUserID] = placement{receipt: r, messageID: msg.ID}
			}
		}
	}

	placed := make(map[string][]SeenReceipt)
	for _, p := range latest {
		placed[p.messageID] = append(placed[p.messageID], p.receipt)
	}

	// Deterministic order within a message's display list.
	for id := range placed {
		sort.Slice(placed[id], func(i, j int) bool {
			return placed[id][i].ViewerUserID < placed[id][j].ViewerUserID
		})
	}

	return placed
}

// Package timeline maintains the per-conversation ordered message set.
//
// A conversation's timeline is fed by two paths at once: paginated history
// fetches walking backward in time and live transport events arriving in
// real time. Both paths funnel through one merge law (Merge) keyed by
// message id, so duplicate or out-of-order delivery can never corrupt the
// visible order. Per-message delivery status is a high-water mark that
// never regresses, and per-viewer seen receipts are projected onto the
// timeline by a pure recomputation (PlaceReceipts).
package timeline

import "time"

// Status is a message's delivery state. The values are ordered so the
// high-water-mark comparison is a numeric max.
type Status int

const (
	StatusSent Status = iota
	StatusDelivered
	StatusSeen
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusSeen:
		return "seen"
	default:
		return "sent"
	}
}

// ParseStatus maps a wire status name to a Status. Unknown names parse as
// StatusSent so a malformed event can only under-report, never invent a
// higher state.
func ParseStatus(s string) Status {
	switch s {
	case "delivered":
		return StatusDelivered
	case "seen":
		return StatusSeen
	default:
		return StatusSent
	}
}

// SeenReceipt records that a specific viewer observed a specific message
// at a specific time.
type SeenReceipt struct {
	ViewerUserID    string    `json:"viewerId"`
	ViewerDisplay   string    `json:"viewerDisplay,omitempty"`
	ViewerAvatarRef string    `json:"viewerAvatarRef,omitempty"`
	SeenAt          time.Time `json:"seenAt"`
}

// AttachmentRef points at an uploaded attachment by id.
type AttachmentRef struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Message is one timeline entry. Identity is ID: two messages with the
// same id are the same logical event regardless of which transport path
// delivered them.
type Message struct {
	ID            string          `json:"id"`
	ChatID        string          `json:"chatId"`
	SenderID      string          `json:"senderId"`
	SenderDisplay string          `json:"senderDisplay,omitempty"`
	Content       string          `json:"content"`
	CreatedAt     time.Time       `json:"createdAt"`
	IsMine        bool            `json:"isMine"`
	IsDeleted     bool            `json:"isDeleted"`
	Attachments   []AttachmentRef `json:"attachments,omitempty"`
	Status        Status          `json:"status"`
	SeenBy        []SeenReceipt   `json:"seenBy,omitempty"`
}

// Before reports whether m sorts ahead of other: ascending CreatedAt, ties
// broken by id ascending. The tie-break is a deliberate, testable policy
// so repeated runs produce identical orderings.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

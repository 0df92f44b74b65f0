package transport

import (
	"encoding/json"
	"time"

	"github.com/opd-ai/sealchat/envelope"
)

// Kind discriminates the typed frames carried over the connection.
type Kind string

const (
	// KindChatMessage is the outbound encrypted send.
	KindChatMessage Kind = "chat_message"
	// KindMessageEnvelope is an inbound message from a peer.
	KindMessageEnvelope Kind = "message_envelope"
	// KindMessageEnvelopeSent is the server echo of this client's own send.
	KindMessageEnvelopeSent Kind = "message_envelope_sent"
	// KindMessageStatus carries delivery/seen transitions for one message.
	KindMessageStatus Kind = "message_status"
	// KindMessageSeen is the outbound acknowledgment that the local viewer
	// has seen a message.
	KindMessageSeen Kind = "message_seen"
	// KindTyping and KindStopTyping are the bidirectional typing signals.
	KindTyping     Kind = "typing"
	KindStopTyping Kind = "stop_typing"
	// KindJoinChat and KindLeaveChat scope the connection into and out of a
	// conversation's live-event topic.
	KindJoinChat  Kind = "join_chat"
	KindLeaveChat Kind = "leave_chat"
)

// Frame is the unit carried on the wire: a kind tag plus a kind-specific
// JSON body.
type Frame struct {
	Kind Kind            `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals a typed payload into a Frame.
func NewFrame(kind Kind, payload any) (Frame, error) {
	if payload == nil {
		return Frame{Kind: kind}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: kind, Data: data}, nil
}

// Decode unmarshals the frame body into a typed payload.
func (f Frame) Decode(v any) error {
	return json.Unmarshal(f.Data, v)
}

// ChatMessagePayload is the body of an outbound chat_message frame.
type ChatMessagePayload struct {
	MessageID      string              `json:"messageId"`
	ChatID         string              `json:"chatId"`
	SenderDeviceID string              `json:"senderDeviceId"`
	Envelopes      []envelope.Envelope `json:"envelopes"`
	AttachmentIDs  []string            `json:"attachmentIds,omitempty"`
	Preview        string              `json:"preview,omitempty"`
}

// EnvelopeEvent is the body of inbound message_envelope and
// message_envelope_sent frames.
type EnvelopeEvent struct {
	MessageID      string              `json:"messageId"`
	ChatID         string              `json:"chatId"`
	SenderID       string              `json:"senderId"`
	SenderDisplay  string              `json:"senderDisplay,omitempty"`
	SenderDeviceID string              `json:"senderDeviceId"`
	Envelopes      []envelope.Envelope `json:"envelopes"`
	AttachmentIDs  []string            `json:"attachmentIds,omitempty"`
	IsDeleted      bool                `json:"isDeleted,omitempty"`
	CreatedAt      time.Time           `json:"createdAt"`
}

// StatusEvent is the body of an inbound message_status frame. Viewer fields
// are present only on seen transitions.
type StatusEvent struct {
	MessageID       string    `json:"messageId"`
	ChatID          string    `json:"chatId"`
	Status          string    `json:"status"`
	ViewerUserID    string    `json:"viewerId,omitempty"`
	ViewerDisplay   string    `json:"viewerDisplay,omitempty"`
	ViewerAvatarRef string    `json:"viewerAvatarRef,omitempty"`
	SeenAt          time.Time `json:"seenAt,omitempty"`
}

// SeenAck is the body of the outbound message_seen frame.
type SeenAck struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// TypingEvent is the body of typing and stop_typing frames.
type TypingEvent struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// JoinPayload is the body of join_chat and leave_chat frames.
type JoinPayload struct {
	ChatID string `json:"chatId"`
}

package sealchat

import "context"

// Chat is read-only conversation metadata supplied by the external
// chat-metadata collaborator.
type Chat struct {
	ChatID       string
	IsGroup      bool
	DisplayName  string
	Participants []Participant
}

// Participant is one member of a chat.
type Participant struct {
	UserID    string
	Display   string
	AvatarRef string
}

// ChatDirectory resolves chat metadata. Implemented by an external
// collaborator; read-only to this core.
type ChatDirectory interface {
	Chat(ctx context.Context, chatID string) (*Chat, error)
}

// PendingAttachment exists between user selection and successful upload
// acknowledgment. UploadedID is set once the upload completes; the
// attachment is promoted into the send's attachment id list and the
// pending record discarded.
type PendingAttachment struct {
	LocalRef   string
	UploadedID string
}

// promoted returns the uploaded ids of the attachments that completed.
func promoted(pending []PendingAttachment) []string {
	var out []string
	for _, p := range pending {
		if p.UploadedID != "" {
			out = append(out, p.UploadedID)
		}
	}
	return out
}

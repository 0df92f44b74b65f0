package sealchat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/sealchat/envelope"
	"github.com/opd-ai/sealchat/history"
	"github.com/opd-ai/sealchat/timeline"
	"github.com/opd-ai/sealchat/transport"
	"github.com/opd-ai/sealchat/typing"
)

// ErrConversationClosed is returned when an operation completes after the
// conversation has been left; its result has been discarded.
var ErrConversationClosed = errors.New("sealchat: conversation closed")

// previewLimit bounds the plaintext preview attached to outbound sends.
const previewLimit = 80

// TimelineCallback receives the full ordered timeline and the receipt
// placement after every mutation.
type TimelineCallback func(msgs []timeline.Message, receipts map[string][]timeline.SeenReceipt)

// PeerTypingCallback receives peer typing transitions.
type PeerTypingCallback func(userID string, isTyping bool)

// SendFailedCallback receives the optimistic message id of a send that
// could not reach the server.
type SendFailedCallback func(messageID string, err error)

// Conversation is the controller for one open chat. It exclusively owns
// its timeline store and typing coordinator; timeline mutations happen on
// the transport dispatch goroutine or under the conversation's own
// methods, never from outside.
type Conversation struct {
	session *Session
	chat    *Chat
	store   *timeline.Store
	typing  *typing.Coordinator

	// ctx is the liveness guard: canceled by Leave, checked before any
	// mutation driven by an asynchronous completion.
	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	subs         []*transport.Subscription
	loading      bool
	left         bool
	onTimeline   TimelineCallback
	onPeerTyping PeerTypingCallback
	onSendFailed SendFailedCallback
}

func newConversation(s *Session, chat *Chat) *Conversation {
	ctx, cancel := context.WithCancel(context.Background())

	coord := typing.NewCoordinator(s.tr, chat.ChatID, s.opts.LocalUserID, s.opts.TypingEnabled)
	if s.opts.TypingIdleDelay > 0 {
		coord.SetIdleDelay(s.opts.TypingIdleDelay)
	}

	return &Conversation{
		session: s,
		chat:    chat,
		store:   timeline.NewStore(),
		typing:  coord,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// attach registers transport subscriptions, joins the server-side topic
// and seeds the timeline from the local cache.
func (c *Conversation) attach() {
	tr := c.session.tr

	c.mu.Lock()
	c.subs = append(c.subs,
		tr.Subscribe(transport.KindIs(transport.KindMessageEnvelope, transport.KindMessageEnvelopeSent), c.handleEnvelope),
		tr.Subscribe(transport.KindIs(transport.KindMessageStatus), c.handleStatus),
		tr.Subscribe(transport.KindIs(transport.KindTyping, transport.KindStopTyping), c.handleTyping),
	)
	c.mu.Unlock()

	c.sendJoin()

	if c.session.cache != nil {
		if seed := c.session.cache.Recent(c.chat.ChatID, c.session.opts.CacheSeedLimit); len(seed) > 0 {
			c.store.Seed(seed, "", true)
			c.notifyTimeline()
		}
	}
}

// ChatID returns the conversation's chat id.
func (c *Conversation) ChatID() string {
	return c.chat.ChatID
}

// OnTimelineChanged registers the timeline callback.
func (c *Conversation) OnTimelineChanged(cb TimelineCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTimeline = cb
}

// OnPeerTyping registers the peer typing callback.
func (c *Conversation) OnPeerTyping(cb PeerTypingCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onPeerTyping = cb
}

// OnSendFailed registers the send failure callback.
func (c *Conversation) OnSendFailed(cb SendFailedCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSendFailed = cb
}

// Messages returns the current ordered timeline.
func (c *Conversation) Messages() []timeline.Message {
	return c.store.Messages()
}

// Receipts returns the current receipt placement.
func (c *Conversation) Receipts() map[string][]timeline.SeenReceipt {
	return timeline.PlaceReceipts(c.store.Messages(), c.session.opts.LocalUserID)
}

// HasMoreHistory reports whether older pages remain.
func (c *Conversation) HasMoreHistory() bool {
	return c.store.HasMore()
}

// Typing returns the conversation's typing coordinator. Call Touch on
// every local keystroke.
func (c *Conversation) Typing() *typing.Coordinator {
	return c.typing
}

// Send encrypts plaintext for every participant device and transmits it.
// An optimistic copy lands on the timeline immediately with the returned
// message id. On failure the optimistic copy is retained as pending and
// the error surfaces to the caller: sends are never silently dropped.
func (c *Conversation) Send(ctx context.Context, plaintext string, attachments []PendingAttachment) (string, error) {
	msgID := uuid.NewString()
	attIDs := promoted(attachments)

	refs := make([]timeline.AttachmentRef, 0, len(attIDs))
	for _, id := range attIDs {
		refs = append(refs, timeline.AttachmentRef{ID: id})
	}

	optimistic := timeline.Message{
		ID:          msgID,
		ChatID:      c.chat.ChatID,
		SenderID:    c.session.opts.LocalUserID,
		Content:     plaintext,
		CreatedAt:   time.Now().UTC(),
		IsMine:      true,
		Attachments: refs,
		Status:      timeline.StatusSent,
	}
	c.store.ApplyLive(optimistic)
	c.notifyTimeline()

	// Fan out to every participant user, the local user included: their
	// other devices need a copy too. The codec skips this device itself.
	recipients := make([]string, 0, len(c.chat.Participants))
	for _, p := range c.chat.Participants {
		recipients = append(recipients, p.UserID)
	}

	result, err := c.session.codec.Encode(ctx, c.chat.ChatID, plaintext, recipients)
	if err != nil {
		c.reportSendFailure(msgID, err)
		return msgID, err
	}
	if len(result.Failures) > 0 {
		// Partial delivery: the send proceeds for everyone we could seal to.
		logrus.WithFields(logrus.Fields{
			"function":   "Send",
			"package":    "sealchat",
			"chat_id":    c.chat.ChatID,
			"message_id": msgID,
			"failures":   len(result.Failures),
		}).Warn("Send degraded to partial envelope fan-out")
	}

	payload := transport.ChatMessagePayload{
		MessageID:      msgID,
		ChatID:         c.chat.ChatID,
		SenderDeviceID: result.SenderDeviceID,
		Envelopes:      result.Envelopes,
		AttachmentIDs:  attIDs,
		Preview:        preview(plaintext),
	}
	if err := c.session.tr.Send(transport.KindChatMessage, payload); err != nil {
		c.reportSendFailure(msgID, err)
		return msgID, err
	}

	if c.session.cache != nil {
		c.session.cache.Put([]timeline.Message{optimistic})
	}
	return msgID, nil
}

// MarkSeen acknowledges that the local viewer has seen a message.
func (c *Conversation) MarkSeen(messageID string) error {
	return c.session.tr.Send(transport.KindMessageSeen, transport.SeenAck{
		ChatID:    c.chat.ChatID,
		MessageID: messageID,
	})
}

// LoadOlder fetches and merges the next history page. Concurrent calls
// collapse: only one fetch is in flight per conversation. A failed fetch
// leaves the store exactly as it was.
func (c *Conversation) LoadOlder(ctx context.Context) error {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return nil
	}
	c.loading = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.loading = false
		c.mu.Unlock()
	}()

	page, err := c.session.deps.History.Fetch(ctx, c.chat.ChatID, c.store.Cursor(), c.session.opts.HistoryPageSize)
	if err != nil {
		return err
	}

	// Decode the batch concurrently; completion order is arbitrary and
	// irrelevant, the merge re-sorts.
	msgs := make([]timeline.Message, len(page.Messages))
	var wg sync.WaitGroup
	for i := range page.Messages {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msgs[i] = c.messageFromRaw(page.Messages[i])
		}(i)
	}
	wg.Wait()

	// Liveness check: the view may have been torn down while we fetched.
	if c.ctx.Err() != nil {
		return ErrConversationClosed
	}

	c.store.ApplyPage(msgs, page.NextCursor, page.HasMore)
	if c.session.cache != nil {
		c.session.cache.Put(msgs)
	}
	c.notifyTimeline()
	return nil
}

// Leave tears the conversation down: stops typing immediately, leaves the
// server-side topic, cancels subscriptions and arms stale-update
// suppression. Idempotent.
func (c *Conversation) Leave() {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return
	}
	c.left = true
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	c.typing.Stop()

	if err := c.session.tr.Send(transport.KindLeaveChat, transport.JoinPayload{ChatID: c.chat.ChatID}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Leave",
			"package":  "sealchat",
			"chat_id":  c.chat.ChatID,
			"error":    err.Error(),
		}).Debug("Leave notification dropped")
	}

	for _, sub := range subs {
		sub.Cancel()
	}
	c.cancel()
	c.session.forget(c.chat.ChatID)
}

// sendJoin announces the conversation's topic to the server. Called on
// attach and replayed by the session after every reconnect.
func (c *Conversation) sendJoin() {
	if err := c.session.tr.Send(transport.KindJoinChat, transport.JoinPayload{ChatID: c.chat.ChatID}); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "sendJoin",
			"package":  "sealchat",
			"chat_id":  c.chat.ChatID,
			"error":    err.Error(),
		}).Debug("Join deferred until transport is ready")
	}
}

func (c *Conversation) handleEnvelope(f transport.Frame) {
	if c.ctx.Err() != nil {
		return
	}

	var ev transport.EnvelopeEvent
	if err := f.Decode(&ev); err != nil || ev.ChatID != c.chat.ChatID {
		return
	}

	msg := c.messageFromEnvelope(ev)
	c.store.ApplyLive(msg)
	if c.session.cache != nil {
		c.session.cache.Put([]timeline.Message{msg})
	}
	c.notifyTimeline()
}

func (c *Conversation) handleStatus(f transport.Frame) {
	if c.ctx.Err() != nil {
		return
	}

	var ev transport.StatusEvent
	if err := f.Decode(&ev); err != nil || ev.ChatID != c.chat.ChatID {
		return
	}

	update := timeline.StatusUpdate{
		MessageID: ev.MessageID,
		Status:    timeline.ParseStatus(ev.Status),
	}
	if ev.ViewerUserID != "" && !ev.SeenAt.IsZero() {
		update.Receipt = &timeline.SeenReceipt{
			ViewerUserID:    ev.ViewerUserID,
			ViewerDisplay:   ev.ViewerDisplay,
			ViewerAvatarRef: ev.ViewerAvatarRef,
			SeenAt:          ev.SeenAt,
		}
	}

	if c.store.ApplyStatus(update) {
		c.notifyTimeline()
	}
}

func (c *Conversation) handleTyping(f transport.Frame) {
	if c.ctx.Err() != nil {
		return
	}

	var ev transport.TypingEvent
	if err := f.Decode(&ev); err != nil || ev.ChatID != c.chat.ChatID {
		return
	}
	if ev.UserID == c.session.opts.LocalUserID {
		return
	}

	c.mu.Lock()
	cb := c.onPeerTyping
	c.mu.Unlock()
	if cb != nil {
		cb(ev.UserID, f.Kind == transport.KindTyping)
	}
}

// messageFromEnvelope decodes one live envelope event into a timeline
// message. Decode failure degrades to the placeholder; it never blocks
// the rest of the timeline.
func (c *Conversation) messageFromEnvelope(ev transport.EnvelopeEvent) timeline.Message {
	isMine := ev.SenderID == c.session.opts.LocalUserID

	refs := make([]timeline.AttachmentRef, 0, len(ev.AttachmentIDs))
	for _, id := range ev.AttachmentIDs {
		refs = append(refs, timeline.AttachmentRef{ID: id})
	}

	msg := timeline.Message{
		ID:            ev.MessageID,
		ChatID:        ev.ChatID,
		SenderID:      ev.SenderID,
		SenderDisplay: ev.SenderDisplay,
		CreatedAt:     ev.CreatedAt,
		IsMine:        isMine,
		IsDeleted:     ev.IsDeleted,
		Attachments:   refs,
		Status:        timeline.StatusSent,
	}

	msg.Content = c.resolveContent(ev.MessageID, ev.SenderID, ev.IsDeleted, true, "", ev.Envelopes, isMine)
	return msg
}

// messageFromRaw decodes one history entry into a timeline message.
func (c *Conversation) messageFromRaw(raw history.RawMessage) timeline.Message {
	isMine := raw.SenderID == c.session.opts.LocalUserID

	return timeline.Message{
		ID:            raw.ID,
		ChatID:        raw.ChatID,
		SenderID:      raw.SenderID,
		SenderDisplay: raw.SenderDisplay,
		Content:       c.resolveContent(raw.ID, raw.SenderID, raw.IsDeleted, raw.IsEncrypted, raw.Content, raw.Envelopes, isMine),
		CreatedAt:     raw.CreatedAt,
		IsMine:        isMine,
		IsDeleted:     raw.IsDeleted,
		Attachments:   raw.Attachments,
		Status:        timeline.ParseStatus(raw.Status),
		SeenBy:        raw.SeenBy,
	}
}

// resolveContent applies the content rules in order: tombstone for deleted
// messages, plaintext passthrough for unencrypted ones, then envelope
// decode. The sender's own echo carries no envelope for this device, so a
// failed decode of our own message falls back to the optimistic copy
// already on the timeline before degrading to the placeholder.
func (c *Conversation) resolveContent(messageID, senderID string, isDeleted, isEncrypted bool, plaintext string, envs []envelope.Envelope, isMine bool) string {
	if isDeleted {
		return envelope.TombstoneText
	}
	if !isEncrypted {
		return plaintext
	}

	if decoded, ok := c.session.codec.Decode(envs, senderID); ok {
		return string(decoded)
	}
	if isMine {
		if existing, ok := c.store.Get(messageID); ok {
			return existing.Content
		}
	}
	return envelope.PlaceholderText
}

func (c *Conversation) reportSendFailure(msgID string, err error) {
	logrus.WithFields(logrus.Fields{
		"function":   "Send",
		"package":    "sealchat",
		"chat_id":    c.chat.ChatID,
		"message_id": msgID,
		"error":      err.Error(),
	}).Warn("Send failed, optimistic message retained as pending")

	c.mu.Lock()
	cb := c.onSendFailed
	c.mu.Unlock()
	if cb != nil {
		cb(msgID, err)
	}
}

func (c *Conversation) notifyTimeline() {
	c.mu.Lock()
	cb := c.onTimeline
	c.mu.Unlock()
	if cb == nil {
		return
	}

	msgs := c.store.Messages()
	cb(msgs, timeline.PlaceReceipts(msgs, c.session.opts.LocalUserID))
}

// preview truncates plaintext locally for the outbound notification hint.
func preview(s string) string {
	runes := []rune(s)
	if len(runes) <= previewLimit {
		return s
	}
	return string(runes[:previewLimit])
}

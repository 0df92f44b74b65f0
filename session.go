package sealchat

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/sealchat/cache"
	"github.com/opd-ai/sealchat/envelope"
	"github.com/opd-ai/sealchat/history"
	"github.com/opd-ai/sealchat/identity"
	"github.com/opd-ai/sealchat/transport"
)

// HistoryFetcher is the paginated history contract consumed by
// conversations. *history.Client satisfies it.
type HistoryFetcher interface {
	Fetch(ctx context.Context, chatID, beforeCursor string, limit int) (*history.Page, error)
}

// Deps are the injected collaborators a Session needs. KeyDirectory,
// Chats and Token are required; Transport and History have production
// defaults built from Options.
type Deps struct {
	KeyDirectory envelope.KeyDirectory
	Chats        ChatDirectory
	Token        history.TokenSource
	Transport    transport.Transport
	History      HistoryFetcher
}

// Session owns one authenticated login's worth of messaging state. It is
// explicitly constructed and disposed (create on login, Close on logout);
// nothing in this package lives as ambient global state.
type Session struct {
	opts  *Options
	deps  Deps
	local *identity.Identity
	codec *envelope.Codec
	tr    transport.Transport
	cache *cache.Store

	mu     sync.Mutex
	convs  map[string]*Conversation
	closed bool
}

// New constructs a Session: loads (or creates) the device identity, builds
// the codec and transport, and opens the local cache.
func New(opts *Options, deps Deps) (*Session, error) {
	if opts == nil {
		return nil, errors.New("sealchat: nil options")
	}
	if opts.LocalUserID == "" {
		return nil, errors.New("sealchat: LocalUserID is required")
	}
	if deps.KeyDirectory == nil {
		return nil, errors.New("sealchat: KeyDirectory is required")
	}
	if deps.Chats == nil {
		return nil, errors.New("sealchat: Chats is required")
	}
	if deps.Token == nil {
		return nil, errors.New("sealchat: Token is required")
	}

	local, err := identity.Load(opts.DataDir, opts.Passphrase)
	if err != nil {
		return nil, fmt.Errorf("sealchat: load identity: %w", err)
	}

	s := &Session{
		opts:  opts,
		deps:  deps,
		local: local,
		codec: envelope.NewCodec(local, deps.KeyDirectory),
		convs: make(map[string]*Conversation),
	}

	s.tr = deps.Transport
	if s.tr == nil {
		s.tr = transport.NewWebSocket(opts.TransportURL, local.DeviceID)
	}

	if deps.History == nil {
		s.deps.History = history.NewClient(opts.HistoryURL, deps.Token)
	}

	if opts.CacheEnabled {
		store, err := cache.Open(opts.DataDir)
		if err != nil {
			// The cache is advisory; a broken cache must not block login.
			logrus.WithFields(logrus.Fields{
				"function": "New",
				"package":  "sealchat",
				"error":    err.Error(),
			}).Warn("Message cache unavailable, continuing without it")
		} else {
			s.cache = store
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":  "New",
		"package":   "sealchat",
		"device_id": local.DeviceID,
		"user_id":   opts.LocalUserID,
	}).Info("Session created")

	return s, nil
}

// DeviceID returns the stable per-installation device identifier.
func (s *Session) DeviceID() string {
	return s.local.DeviceID
}

// Transport exposes the shared connection, mainly for readiness checks.
func (s *Session) Transport() transport.Transport {
	return s.tr
}

// Connect establishes (or re-establishes) the real-time connection and
// re-joins the topic of every open conversation. The transport itself
// remembers nothing about joins, so the session replays them: all open
// conversations come back live, not just the most recent one.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.tr.Connect(ctx, s.deps.Token()); err != nil {
		return err
	}

	s.mu.Lock()
	convs := make([]*Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		convs = append(convs, c)
	}
	s.mu.Unlock()

	for _, c := range convs {
		c.sendJoin()
	}
	return nil
}

// Open joins a conversation and returns its controller. Opening an
// already-open chat returns the existing controller.
func (s *Session) Open(ctx context.Context, chatID string) (*Conversation, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.New("sealchat: session closed")
	}
	if existing, ok := s.convs[chatID]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.mu.Unlock()

	chat, err := s.deps.Chats.Chat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("sealchat: resolve chat %s: %w", chatID, err)
	}
	if chat == nil {
		return nil, fmt.Errorf("sealchat: unknown chat %s", chatID)
	}

	conv := newConversation(s, chat)

	s.mu.Lock()
	s.convs[chatID] = conv
	s.mu.Unlock()

	conv.attach()
	return conv, nil
}

// forget removes a conversation from the session's live set.
func (s *Session) forget(chatID string) {
	s.mu.Lock()
	delete(s.convs, chatID)
	s.mu.Unlock()
}

// Close leaves every open conversation, disconnects the transport and
// releases the cache. The session is unusable afterward.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	convs := make([]*Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		convs = append(convs, c)
	}
	s.mu.Unlock()

	for _, c := range convs {
		c.Leave()
	}

	err := s.tr.Disconnect()
	if s.cache != nil {
		s.cache.Close()
	}

	logrus.WithFields(logrus.Fields{
		"function": "Close",
		"package":  "sealchat",
	}).Info("Session closed")

	return err
}

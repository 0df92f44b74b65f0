package sealchat

import (
	"time"

	"github.com/opd-ai/sealchat/typing"
)

// Options contains configuration for creating a Session.
type Options struct {
	// DataDir is where the device identity and message cache live.
	DataDir string
	// Passphrase protects the identity blob at rest. Typically sourced
	// from the platform keyring.
	Passphrase []byte
	// LocalUserID is the authenticated user this session belongs to.
	LocalUserID string
	// TransportURL is the websocket endpoint. Ignored when Deps.Transport
	// is supplied.
	TransportURL string
	// HistoryURL is the REST history base URL. Ignored when Deps.History
	// is supplied.
	HistoryURL string
	// TypingEnabled turns outbound typing indicators on.
	TypingEnabled bool
	// TypingIdleDelay is the debounce window before stop_typing fires.
	TypingIdleDelay time.Duration
	// HistoryPageSize is the page size for loadOlder fetches.
	HistoryPageSize int
	// CacheEnabled turns the local SQLite message cache on.
	CacheEnabled bool
	// CacheSeedLimit is how many cached messages seed a reopened timeline.
	CacheSeedLimit int
}

// NewOptions returns Options with defaults.
func NewOptions() *Options {
	return &Options{
		TypingEnabled:   true,
		TypingIdleDelay: typing.DefaultIdleDelay,
		HistoryPageSize: 50,
		CacheEnabled:    true,
		CacheSeedLimit:  50,
	}
}

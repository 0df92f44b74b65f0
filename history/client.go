// Package history fetches paginated message history from the REST
// collaborator.
//
// Pages walk backward in time behind an opaque cursor. A failed fetch is
// surfaced to the caller as a FetchError and applies nothing: retry
// decisions belong to the caller, and a failed loadOlder leaves the
// timeline exactly as it was.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/sealchat/envelope"
	"github.com/opd-ai/sealchat/timeline"
)

// DefaultPageSize is the number of messages requested per page.
const DefaultPageSize = 50

// RawMessage is one history entry as the server stores it: still
// encrypted, carrying everything needed for decode and merge.
type RawMessage struct {
	ID            string                   `json:"id"`
	ChatID        string                   `json:"chatId"`
	SenderID      string                   `json:"senderId"`
	SenderDisplay string                   `json:"senderDisplay,omitempty"`
	CreatedAt     time.Time                `json:"createdAt"`
	IsEncrypted   bool                     `json:"isEncrypted"`
	Envelopes     []envelope.Envelope      `json:"envelopes,omitempty"`
	Content       string                   `json:"content,omitempty"`
	IsDeleted     bool                     `json:"isDeleted"`
	Attachments   []timeline.AttachmentRef `json:"attachments,omitempty"`
	Status        string                   `json:"status"`
	SeenBy        []timeline.SeenReceipt   `json:"seenBy,omitempty"`
}

// Page is one history fetch result.
type Page struct {
	Messages   []RawMessage `json:"messages"`
	HasMore    bool         `json:"hasMore"`
	NextCursor string       `json:"nextCursor"`
}

// FetchError is a failed history fetch. Retryable is true for transient
// failures (network errors, 5xx, 429).
type FetchError struct {
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("history fetch failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("history fetch failed: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the caller may usefully retry.
func (e *FetchError) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// TokenSource supplies the current auth token on every request; tokens
// rotate, so the client never caches one.
type TokenSource func() string

// Client fetches history pages over HTTP.
type Client struct {
	baseURL string
	httpc   *http.Client
	token   TokenSource
}

// NewClient creates a history client rooted at baseURL.
func NewClient(baseURL string, token TokenSource) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: 30 * time.Second},
		token:   token,
	}
}

// Fetch retrieves one page of history for a chat. beforeCursor is empty
// for the newest page; limit <= 0 uses DefaultPageSize.
func (c *Client) Fetch(ctx context.Context, chatID, beforeCursor string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	endpoint := fmt.Sprintf("%s/chats/%s/messages", c.baseURL, url.PathEscape(chatID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &FetchError{Err: err}
	}

	q := req.URL.Query()
	q.Set("limit", strconv.Itoa(limit))
	if beforeCursor != "" {
		q.Set("before", beforeCursor)
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Authorization", "Bearer "+c.token())

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logrus.WithFields(logrus.Fields{
			"function": "Fetch",
			"package":  "history",
			"chat_id":  chatID,
			"status":   resp.StatusCode,
		}).Warn("History fetch returned non-OK status")
		return nil, &FetchError{StatusCode: resp.StatusCode}
	}

	var page Page
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, &FetchError{Err: fmt.Errorf("decode response: %w", err)}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Fetch",
		"package":  "history",
		"chat_id":  chatID,
		"messages": len(page.Messages),
		"has_more": page.HasMore,
	}).Debug("Fetched history page")

	return &page, nil
}

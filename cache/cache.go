// Package cache keeps a best-effort local copy of decoded messages in
// SQLite so a reopened conversation can paint its timeline before the
// first history page returns.
//
// The cache is strictly advisory: every error is logged and swallowed,
// nothing in timeline state ever depends on a cache operation succeeding,
// and cached rows are overwritten wholesale whenever the merge path
// produces a fresher copy.
package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/sealchat/timeline"
)

// DefaultDBFileName is the SQLite filename under the data dir.
const DefaultDBFileName = "messages.db"

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS messages (
  message_id     TEXT PRIMARY KEY,
  chat_id        TEXT NOT NULL,
  sender_id      TEXT NOT NULL,
  sender_display TEXT NOT NULL DEFAULT '',
  content        TEXT NOT NULL,
  created_at     INTEGER NOT NULL,
  is_mine        INTEGER NOT NULL DEFAULT 0,
  is_deleted     INTEGER NOT NULL DEFAULT 0,
  status         INTEGER NOT NULL DEFAULT 0,
  attachments    TEXT NOT NULL DEFAULT '[]',
  seen_by        TEXT NOT NULL DEFAULT '[]'
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_messages_chat_created
  ON messages (chat_id, created_at);
`,
}

// Store is a SQLite-backed message cache.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the cache database under dataDir.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, DefaultDBFileName)

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	for i, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply cache migration %d: %w", i, err)
		}
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put upserts decoded messages. Errors are logged and swallowed; the cache
// never blocks the timeline path.
func (s *Store) Put(msgs []timeline.Message) {
	for _, m := range msgs {
		if m.ID == "" {
			continue
		}

		attachments, _ := json.Marshal(m.Attachments)
		seenBy, _ := json.Marshal(m.SeenBy)

		_, err := s.db.Exec(
			`INSERT INTO messages (
				message_id, chat_id, sender_id, sender_display, content,
				created_at, is_mine, is_deleted, status, attachments, seen_by
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(message_id) DO UPDATE SET
				content = excluded.content,
				is_deleted = excluded.is_deleted,
				status = MAX(status, excluded.status),
				attachments = excluded.attachments,
				seen_by = excluded.seen_by`,
			m.ID, m.ChatID, m.SenderID, m.SenderDisplay, m.Content,
			m.CreatedAt.UnixMilli(), boolInt(m.IsMine), boolInt(m.IsDeleted),
			int(m.Status), string(attachments), string(seenBy),
		)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":   "Put",
				"package":    "cache",
				"message_id": m.ID,
				"error":      err.Error(),
			}).Warn("Failed to cache message")
		}
	}
}

// Recent returns up to limit of the newest cached messages for a chat in
// chronological order. A cache failure returns nil: callers treat the
// cache as empty.
func (s *Store) Recent(chatID string, limit int) []timeline.Message {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT message_id, chat_id, sender_id, sender_display, content,
		        created_at, is_mine, is_deleted, status, attachments, seen_by
		 FROM messages
		 WHERE chat_id = ?
		 ORDER BY created_at DESC, message_id DESC
		 LIMIT ?`,
		chatID, limit,
	)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Recent",
			"package":  "cache",
			"chat_id":  chatID,
			"error":    err.Error(),
		}).Warn("Failed to read message cache")
		return nil
	}
	defer rows.Close()

	var out []timeline.Message
	for rows.Next() {
		var (
			m                   timeline.Message
			createdAt           int64
			isMine, isDeleted   int
			status              int
			attachments, seenBy string
		)
		if err := rows.Scan(
			&m.ID, &m.ChatID, &m.SenderID, &m.SenderDisplay, &m.Content,
			&createdAt, &isMine, &isDeleted, &status, &attachments, &seenBy,
		); err != nil {
			return nil
		}

		m.CreatedAt = time.UnixMilli(createdAt).UTC()
		m.IsMine = isMine != 0
		m.IsDeleted = isDeleted != 0
		m.Status = timeline.Status(status)
		json.Unmarshal([]byte(attachments), &m.Attachments)
		json.Unmarshal([]byte(seenBy), &m.SeenBy)

		out = append(out, m)
	}
	if rows.Err() != nil {
		return nil
	}

	// Rows came back newest-first; flip to chronological.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Prune removes cached messages older than the given time.
func (s *Store) Prune(before time.Time) {
	_, err := s.db.Exec(`DELETE FROM messages WHERE created_at < ?`, before.UnixMilli())
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Prune",
			"package":  "cache",
			"error":    err.Error(),
		}).Warn("Failed to prune message cache")
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

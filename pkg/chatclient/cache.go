package chatclient

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/4xmen/goftegu/pkg/protocol"
)

// Cache is the durable on-device copy of received records. It holds records
// exactly as the server sent them, ciphertext included, and never plaintext.
type Cache interface {
	Put(ctx context.Context, key ConversationKey, m *protocol.Message) error
	Delete(ctx context.Context, id string) error
	// List returns the cached records of one conversation, oldest first.
	List(ctx context.Context, key ConversationKey) ([]protocol.Message, error)
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS cached_messages (
	id TEXT PRIMARY KEY,
	conversation TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	record TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cached_messages_conversation ON cached_messages(conversation, created_at);
`

type SQLiteCache struct {
	conn *sql.DB
}

// OpenCache opens or creates a cache database at path.
func OpenCache(path string) (*SQLiteCache, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec(cacheSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create cache schema: %w", err)
	}
	return &SQLiteCache{conn: conn}, nil
}

func (c *SQLiteCache) Put(ctx context.Context, key ConversationKey, m *protocol.Message) error {
	record, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode message %s: %w", m.ID, err)
	}
	_, err = c.conn.ExecContext(ctx, `
		INSERT INTO cached_messages (id, conversation, created_at, record) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET conversation = excluded.conversation, created_at = excluded.created_at, record = excluded.record`,
		m.ID, key.String(), m.CreatedAt.UnixNano(), string(record),
	)
	if err != nil {
		return fmt.Errorf("failed to cache message %s: %w", m.ID, err)
	}
	return nil
}

func (c *SQLiteCache) Delete(ctx context.Context, id string) error {
	if _, err := c.conn.ExecContext(ctx, "DELETE FROM cached_messages WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to evict message %s: %w", id, err)
	}
	return nil
}

func (c *SQLiteCache) List(ctx context.Context, key ConversationKey) ([]protocol.Message, error) {
	rows, err := c.conn.QueryContext(ctx,
		"SELECT record FROM cached_messages WHERE conversation = ? ORDER BY created_at, id",
		key.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query cache: %w", err)
	}
	defer rows.Close()

	var out []protocol.Message
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan cached message: %w", err)
		}
		var m protocol.Message
		if err := json.Unmarshal([]byte(record), &m); err != nil {
			return nil, fmt.Errorf("failed to decode cached message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (c *SQLiteCache) Close() error {
	return c.conn.Close()
}

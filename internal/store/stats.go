package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Stats is a point-in-time summary of the durable store.
type Stats struct {
	Users             int64      `json:"users"`
	OnlineUsers       int64      `json:"online_users"`
	UsersWithKeys     int64      `json:"users_with_keys"`
	Rooms             int64      `json:"rooms"`
	DirectMessages    int64      `json:"direct_messages"`
	EncryptedMessages int64      `json:"encrypted_messages"`
	UnreadMessages    int64      `json:"unread_messages"`
	GroupMessages     int64      `json:"group_messages"`
	Reactions         int64      `json:"reactions"`
	MessagesLast24h   int64      `json:"messages_last_24h"`
	LatestMessageAt   *time.Time `json:"latest_message_at,omitempty"`
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats
	since := s.now().Add(-24 * time.Hour)

	counts := []struct {
		dst   *int64
		query string
		args  []any
	}{
		{&st.Users, "SELECT COUNT(*) FROM users", nil},
		{&st.OnlineUsers, "SELECT COUNT(*) FROM users WHERE is_online = ?", []any{true}},
		{&st.UsersWithKeys, "SELECT COUNT(*) FROM users WHERE public_key IS NOT NULL AND public_key <> ''", nil},
		{&st.Rooms, "SELECT COUNT(*) FROM rooms", nil},
		{&st.DirectMessages, "SELECT COUNT(*) FROM direct_messages", nil},
		{&st.EncryptedMessages, "SELECT COUNT(*) FROM direct_messages WHERE nonce IS NOT NULL", nil},
		{&st.UnreadMessages, "SELECT COUNT(*) FROM direct_messages WHERE is_read = ?", []any{false}},
		{&st.GroupMessages, "SELECT COUNT(*) FROM group_messages", nil},
		{&st.Reactions, "SELECT COUNT(*) FROM reactions", nil},
	}
	for _, c := range counts {
		if err := s.conn.QueryRowContext(ctx, s.q(c.query), c.args...).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to run %q: %w", c.query, err)
		}
	}

	for _, table := range []string{"direct_messages", "group_messages"} {
		var n int64
		err := s.conn.QueryRowContext(ctx, s.q("SELECT COUNT(*) FROM "+table+" WHERE created_at >= ?"), since).Scan(&n)
		if err != nil {
			return nil, fmt.Errorf("failed to count recent %s: %w", table, err)
		}
		st.MessagesLast24h += n

		// Ordering keeps the column's declared type, so sqlite hands back a
		// time rather than the text MAX() would produce.
		var latest sql.NullTime
		err = s.conn.QueryRowContext(ctx, "SELECT created_at FROM "+table+" ORDER BY created_at DESC LIMIT 1").Scan(&latest)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to read latest %s: %w", table, err)
		}
		if latest.Valid && (st.LatestMessageAt == nil || latest.Time.After(*st.LatestMessageAt)) {
			t := latest.Time.UTC()
			st.LatestMessageAt = &t
		}
	}

	return &st, nil
}

const missingSenderKeys = `
	FROM direct_messages
	WHERE nonce IS NOT NULL
	  AND sender_public_key IS NULL
	  AND EXISTS (
		SELECT 1 FROM users u
		WHERE u.id = direct_messages.sender_id
		  AND u.public_key IS NOT NULL AND u.public_key <> ''
	  )`

// BackfillSenderKeys stamps encrypted direct messages that predate the
// sender_public_key column with the sender's current key. Rows whose sender
// has no key are left alone. With dryRun the count is reported and nothing
// is written.
func (s *Store) BackfillSenderKeys(ctx context.Context, dryRun bool) (int64, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, s.q("SELECT COUNT(*)"+missingSenderKeys)).Scan(&n); err != nil {
			return fmt.Errorf("failed to count messages without sender key: %w", err)
		}
		if dryRun || n == 0 {
			return nil
		}
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE direct_messages
			SET sender_public_key = (SELECT u.public_key FROM users u WHERE u.id = direct_messages.sender_id)
			WHERE id IN (SELECT id`+missingSenderKeys+`)`))
		if err != nil {
			return fmt.Errorf("failed to backfill sender keys: %w", err)
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

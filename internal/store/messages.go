package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/4xmen/goftegu/pkg/protocol"
)

// SaveDirect persists a direct message whose id and timestamp were assigned
// by the caller.
func (s *Store) SaveDirect(ctx context.Context, m *protocol.Message) error {
	_, err := s.conn.ExecContext(ctx,
		s.q("INSERT INTO direct_messages (id, sender_id, recipient_id, content, nonce, sender_public_key, is_read, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)"),
		m.ID,
		m.SenderID,
		m.RecipientID,
		m.Content,
		nullString(m.Nonce),
		nullString(m.SenderPublicKey),
		m.IsRead,
		m.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("message %s: %w", m.ID, ErrConflict)
		}
		return fmt.Errorf("failed to insert direct message: %w", err)
	}
	return nil
}

func (s *Store) SaveGroup(ctx context.Context, m *protocol.Message) error {
	_, err := s.conn.ExecContext(ctx,
		s.q("INSERT INTO group_messages (id, sender_id, room_id, content, created_at) VALUES (?, ?, ?, ?, ?)"),
		m.ID,
		m.SenderID,
		m.RoomID,
		m.Content,
		m.CreatedAt.UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("message %s: %w", m.ID, ErrConflict)
		}
		return fmt.Errorf("failed to insert group message: %w", err)
	}
	return nil
}

const (
	directSelect = `
		SELECT m.id, m.sender_id, m.recipient_id, m.content, m.nonce, m.sender_public_key, m.is_read, m.created_at,
		       u.username, u.display_name, u.avatar_url
		FROM direct_messages m
		JOIN users u ON u.id = m.sender_id`
	groupSelect = `
		SELECT m.id, m.sender_id, m.room_id, m.content, m.created_at,
		       u.username, u.display_name, u.avatar_url
		FROM group_messages m
		JOIN users u ON u.id = m.sender_id`
)

func scanDirect(row rowScanner) (*protocol.Message, error) {
	var (
		m           protocol.Message
		nonce       sql.NullString
		senderKey   sql.NullString
		sender      protocol.UserSummary
		displayName sql.NullString
		avatarURL   sql.NullString
	)
	if err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &nonce, &senderKey, &m.IsRead, &m.CreatedAt,
		&sender.Username, &displayName, &avatarURL); err != nil {
		return nil, err
	}
	m.Nonce = nonce.String
	m.SenderPublicKey = senderKey.String
	m.CreatedAt = m.CreatedAt.UTC()
	sender.ID = m.SenderID
	sender.DisplayName = displayName.String
	sender.AvatarURL = avatarURL.String
	m.Sender = &sender
	m.Reactions = []protocol.Reaction{}
	return &m, nil
}

func scanGroup(row rowScanner) (*protocol.Message, error) {
	var (
		m           protocol.Message
		sender      protocol.UserSummary
		displayName sql.NullString
		avatarURL   sql.NullString
	)
	if err := row.Scan(&m.ID, &m.SenderID, &m.RoomID, &m.Content, &m.CreatedAt,
		&sender.Username, &displayName, &avatarURL); err != nil {
		return nil, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	sender.ID = m.SenderID
	sender.DisplayName = displayName.String
	sender.AvatarURL = avatarURL.String
	m.Sender = &sender
	m.Reactions = []protocol.Reaction{}
	return &m, nil
}

// Message loads one record of the given kind (protocol.KindDirect or
// protocol.KindGroup) with its reactions.
func (s *Store) Message(ctx context.Context, kind, id string) (*protocol.Message, error) {
	var (
		m   *protocol.Message
		err error
	)
	switch kind {
	case protocol.KindDirect:
		m, err = scanDirect(s.conn.QueryRowContext(ctx, s.q(directSelect+" WHERE m.id = ?"), id))
	case protocol.KindGroup:
		m, err = scanGroup(s.conn.QueryRowContext(ctx, s.q(groupSelect+" WHERE m.id = ?"), id))
	default:
		return nil, fmt.Errorf("unknown message kind %q", kind)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	if err := s.attachReactions(ctx, kind, []*protocol.Message{m}); err != nil {
		return nil, err
	}
	return m, nil
}

// DeleteMessage removes a record and every reaction on it.
func (s *Store) DeleteMessage(ctx context.Context, kind, id string) error {
	table, column, err := kindTables(kind)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, s.q("DELETE FROM reactions WHERE "+column+" = ?"), id); err != nil {
			return fmt.Errorf("failed to delete reactions: %w", err)
		}
		res, err := tx.ExecContext(ctx, s.q("DELETE FROM "+table+" WHERE id = ?"), id)
		if err != nil {
			return fmt.Errorf("failed to delete message: %w", err)
		}
		return requireRow(res)
	})
}

func kindTables(kind string) (table, reactionColumn string, err error) {
	switch kind {
	case protocol.KindDirect:
		return "direct_messages", "direct_message_id", nil
	case protocol.KindGroup:
		return "group_messages", "group_message_id", nil
	}
	return "", "", fmt.Errorf("unknown message kind %q", kind)
}

// DirectHistory returns one page of the conversation between a and b, newest
// first.
func (s *Store) DirectHistory(ctx context.Context, a, b, skip, take int) ([]protocol.Message, error) {
	rows, err := s.conn.QueryContext(ctx, s.q(directSelect+`
		WHERE (m.sender_id = ? AND m.recipient_id = ?) OR (m.sender_id = ? AND m.recipient_id = ?)
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ? OFFSET ?`),
		a, b, b, a, take, skip,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return s.collect(ctx, protocol.KindDirect, rows, scanDirect)
}

// RoomHistory returns one page of a room, newest first.
func (s *Store) RoomHistory(ctx context.Context, roomID, skip, take int) ([]protocol.Message, error) {
	rows, err := s.conn.QueryContext(ctx, s.q(groupSelect+`
		WHERE m.room_id = ?
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT ? OFFSET ?`),
		roomID, take, skip,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return s.collect(ctx, protocol.KindGroup, rows, scanGroup)
}

func (s *Store) collect(ctx context.Context, kind string, rows *sql.Rows, scan func(rowScanner) (*protocol.Message, error)) ([]protocol.Message, error) {
	var page []*protocol.Message
	for rows.Next() {
		m, err := scan(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		page = append(page, m)
	}
	err := rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read messages: %w", err)
	}

	if err := s.attachReactions(ctx, kind, page); err != nil {
		return nil, err
	}

	out := make([]protocol.Message, 0, len(page))
	for _, m := range page {
		out = append(out, *m)
	}
	return out, nil
}

// MarkRead flags every unread message from senderID to recipientID as read
// and returns how many changed.
func (s *Store) MarkRead(ctx context.Context, senderID, recipientID int) (int64, error) {
	res, err := s.conn.ExecContext(ctx,
		s.q("UPDATE direct_messages SET is_read = ? WHERE sender_id = ? AND recipient_id = ? AND is_read = ?"),
		true, senderID, recipientID, false,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to mark messages read: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n, nil
}

// Conversations returns one preview per direct-message partner of userID,
// ordered by the latest message in each conversation.
func (s *Store) Conversations(ctx context.Context, userID int) ([]protocol.ConversationPreview, error) {
	rows, err := s.conn.QueryContext(ctx, s.q(`
		SELECT u.id, u.username, u.display_name, u.avatar_url, u.public_key, u.is_online, u.last_seen,
		       m.content, m.nonce, m.created_at,
		       (SELECT COUNT(*) FROM direct_messages x
		        WHERE x.sender_id = u.id AND x.recipient_id = ? AND x.is_read = ?) AS unseen
		FROM direct_messages m
		JOIN users u ON u.id = CASE WHEN m.sender_id = ? THEN m.recipient_id ELSE m.sender_id END
		WHERE (m.sender_id = ? OR m.recipient_id = ?)
		  AND m.id = (
			SELECT y.id FROM direct_messages y
			WHERE (y.sender_id = m.sender_id AND y.recipient_id = m.recipient_id)
			   OR (y.sender_id = m.recipient_id AND y.recipient_id = m.sender_id)
			ORDER BY y.created_at DESC, y.id DESC
			LIMIT 1
		  )
		ORDER BY m.created_at DESC, m.id DESC
	`), userID, false, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversations: %w", err)
	}
	defer rows.Close()

	previews := []protocol.ConversationPreview{}
	for rows.Next() {
		var (
			p           protocol.ConversationPreview
			displayName sql.NullString
			avatarURL   sql.NullString
			publicKey   sql.NullString
			lastSeen    sql.NullTime
			nonce       sql.NullString
			at          sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.Username, &displayName, &avatarURL, &publicKey, &p.IsOnline, &lastSeen,
			&p.LastMessage, &nonce, &at, &p.UnseenCount); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		p.DisplayName = displayName.String
		p.AvatarURL = avatarURL.String
		p.PublicKey = publicKey.String
		p.LastSeen = timePtr(lastSeen)
		p.LastMessageNonce = nonce.String
		p.LastMessageTimestamp = timePtr(at)
		previews = append(previews, p)
	}
	return previews, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/4xmen/goftegu/pkg/protocol"
)

// ToggleReaction removes the reaction r.UserID already has with r.Emoji on the
// target message, or creates one. Exactly one of r.DirectMessageID and
// r.GroupMessageID must be set. The returned reaction is the stored row.
func (s *Store) ToggleReaction(ctx context.Context, r protocol.Reaction) (string, protocol.Reaction, error) {
	if (r.DirectMessageID == "") == (r.GroupMessageID == "") {
		return "", r, errors.New("reaction needs exactly one target message")
	}
	column, target := "direct_message_id", r.DirectMessageID
	if r.GroupMessageID != "" {
		column, target = "group_message_id", r.GroupMessageID
	}

	var action string
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var existing protocol.Reaction
		err := tx.QueryRowContext(ctx,
			s.q("SELECT id, created_at FROM reactions WHERE user_id = ? AND emoji = ? AND "+column+" = ?"),
			r.UserID, r.Emoji, target,
		).Scan(&existing.ID, &existing.CreatedAt)

		switch {
		case err == nil:
			if _, err := tx.ExecContext(ctx, s.q("DELETE FROM reactions WHERE id = ?"), existing.ID); err != nil {
				return fmt.Errorf("failed to delete reaction: %w", err)
			}
			r.ID = existing.ID
			r.CreatedAt = existing.CreatedAt.UTC()
			action = protocol.ReactionRemoved
			return nil
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to query reaction: %w", err)
		}

		r.ID = s.newID()
		r.CreatedAt = s.now()
		_, err = tx.ExecContext(ctx,
			s.q("INSERT INTO reactions (id, emoji, user_id, direct_message_id, group_message_id, created_at) VALUES (?, ?, ?, ?, ?, ?)"),
			r.ID, r.Emoji, r.UserID, nullString(r.DirectMessageID), nullString(r.GroupMessageID), r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert reaction: %w", err)
		}
		action = protocol.ReactionAdded
		return nil
	})
	if err != nil {
		return "", r, err
	}
	return action, r, nil
}

// attachReactions loads the reactions of msgs in one query.
func (s *Store) attachReactions(ctx context.Context, kind string, msgs []*protocol.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	_, column, err := kindTables(kind)
	if err != nil {
		return err
	}

	byID := make(map[string]*protocol.Message, len(msgs))
	args := make([]any, 0, len(msgs))
	for _, m := range msgs {
		byID[m.ID] = m
		args = append(args, m.ID)
	}

	rows, err := s.conn.QueryContext(ctx, s.q(`
		SELECT r.id, r.emoji, r.user_id, r.`+column+`, r.created_at, u.username, u.display_name, u.avatar_url
		FROM reactions r
		JOIN users u ON u.id = r.user_id
		WHERE r.`+column+` IN (`+placeholders(len(args))+`)
		ORDER BY r.created_at, r.id`), args...)
	if err != nil {
		return fmt.Errorf("failed to query reactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r           protocol.Reaction
			target      string
			user        protocol.UserSummary
			displayName sql.NullString
			avatarURL   sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Emoji, &r.UserID, &target, &r.CreatedAt, &user.Username, &displayName, &avatarURL); err != nil {
			return fmt.Errorf("failed to scan reaction: %w", err)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		user.ID = r.UserID
		user.DisplayName = displayName.String
		user.AvatarURL = avatarURL.String
		r.User = &user
		if kind == protocol.KindDirect {
			r.DirectMessageID = target
		} else {
			r.GroupMessageID = target
		}
		if m, ok := byID[target]; ok {
			m.Reactions = append(m.Reactions, r)
		}
	}
	return rows.Err()
}

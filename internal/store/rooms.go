package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/4xmen/goftegu/internal/models"
	"github.com/4xmen/goftegu/pkg/protocol"
)

func (s *Store) CreateRoom(ctx context.Context, name string, createdBy int) (int, error) {
	var id int
	err := s.conn.QueryRowContext(ctx,
		s.q("INSERT INTO rooms (name, created_by, created_at) VALUES (?, ?, ?) RETURNING id"),
		name, createdBy, s.now(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert room: %w", err)
	}
	return id, nil
}

// AddMember is idempotent.
func (s *Store) AddMember(ctx context.Context, roomID, userID int) error {
	_, err := s.conn.ExecContext(ctx,
		s.q("INSERT INTO room_members (room_id, user_id, joined_at) VALUES (?, ?, ?) ON CONFLICT (room_id, user_id) DO NOTHING"),
		roomID, userID, s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to add room member: %w", err)
	}
	return nil
}

func (s *Store) RoomByID(ctx context.Context, id int) (*models.Room, error) {
	var (
		r         models.Room
		createdBy sql.NullInt64
	)
	err := s.conn.QueryRowContext(ctx, s.q("SELECT id, name, created_by, created_at FROM rooms WHERE id = ?"), id).
		Scan(&r.ID, &r.Name, &createdBy, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query room: %w", err)
	}
	r.CreatedBy = int(createdBy.Int64)
	return &r, nil
}

func (s *Store) IsMember(ctx context.Context, roomID, userID int) (bool, error) {
	var ok bool
	err := s.conn.QueryRowContext(ctx,
		s.q("SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id = ? AND user_id = ?)"),
		roomID, userID,
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check room membership: %w", err)
	}
	return ok, nil
}

// RoomIDs lists the rooms userID belongs to, ascending.
func (s *Store) RoomIDs(ctx context.Context, userID int) ([]int, error) {
	rows, err := s.conn.QueryContext(ctx, s.q("SELECT room_id FROM room_members WHERE user_id = ? ORDER BY room_id"), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer rows.Close()

	ids := []int{}
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// RoomPreviews lists userID's rooms with their latest message, most recently
// active first.
func (s *Store) RoomPreviews(ctx context.Context, userID int) ([]protocol.RoomPreview, error) {
	rows, err := s.conn.QueryContext(ctx, s.q(`
		SELECT r.id, r.name, g.content, g.created_at
		FROM room_members rm
		JOIN rooms r ON r.id = rm.room_id
		LEFT JOIN group_messages g ON g.id = (
			SELECT x.id FROM group_messages x
			WHERE x.room_id = r.id
			ORDER BY x.created_at DESC, x.id DESC
			LIMIT 1
		)
		WHERE rm.user_id = ?
		ORDER BY COALESCE(g.created_at, r.created_at) DESC, r.id
	`), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rooms: %w", err)
	}
	defer rows.Close()

	previews := []protocol.RoomPreview{}
	for rows.Next() {
		var (
			p       protocol.RoomPreview
			content sql.NullString
			at      sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.Name, &content, &at); err != nil {
			return nil, fmt.Errorf("failed to scan room: %w", err)
		}
		p.LastMessage = content.String
		p.LastMessageTimestamp = timePtr(at)
		previews = append(previews, p)
	}
	return previews, rows.Err()
}

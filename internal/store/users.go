package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/4xmen/goftegu/internal/models"
)

const userColumns = "id, username, password_hash, display_name, avatar_url, public_key, is_online, last_seen, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u           models.User
		displayName sql.NullString
		avatarURL   sql.NullString
		publicKey   sql.NullString
		lastSeen    sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &displayName, &avatarURL, &publicKey, &u.IsOnline, &lastSeen, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.DisplayName = strPtr(displayName)
	u.AvatarURL = strPtr(avatarURL)
	u.PublicKey = strPtr(publicKey)
	u.LastSeen = timePtr(lastSeen)
	u.CreatedAt = u.CreatedAt.UTC()
	return &u, nil
}

// CreateUser inserts u and returns its id. A taken username is ErrConflict.
func (s *Store) CreateUser(ctx context.Context, u *models.User) (int, error) {
	var id int
	err := s.conn.QueryRowContext(ctx,
		s.q("INSERT INTO users (username, password_hash, display_name, avatar_url, public_key, created_at) VALUES (?, ?, ?, ?, ?, ?) RETURNING id"),
		u.Username,
		u.PasswordHash,
		u.DisplayName,
		u.AvatarURL,
		u.PublicKey,
		s.now(),
	).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("username %q: %w", u.Username, ErrConflict)
		}
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}
	return id, nil
}

func (s *Store) UserByID(ctx context.Context, id int) (*models.User, error) {
	u, err := scanUser(s.conn.QueryRowContext(ctx, s.q("SELECT "+userColumns+" FROM users WHERE id = ?"), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

func (s *Store) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	u, err := scanUser(s.conn.QueryRowContext(ctx, s.q("SELECT "+userColumns+" FROM users WHERE username = ?"), username))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

func (s *Store) UserExists(ctx context.Context, id int) (bool, error) {
	var exists bool
	err := s.conn.QueryRowContext(ctx, s.q("SELECT EXISTS(SELECT 1 FROM users WHERE id = ?)"), id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query user: %w", err)
	}
	return exists, nil
}

// PublicKey returns the user's current public key, or "" when none is set.
func (s *Store) PublicKey(ctx context.Context, userID int) (string, error) {
	var key sql.NullString
	err := s.conn.QueryRowContext(ctx, s.q("SELECT public_key FROM users WHERE id = ?"), userID).Scan(&key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to query public key: %w", err)
	}
	return key.String, nil
}

func (s *Store) SetPublicKey(ctx context.Context, userID int, publicKey string) error {
	res, err := s.conn.ExecContext(ctx, s.q("UPDATE users SET public_key = ? WHERE id = ?"), nullString(publicKey), userID)
	if err != nil {
		return fmt.Errorf("failed to update public key: %w", err)
	}
	return requireRow(res)
}

// SetPresence records online state. Going offline stamps last_seen; coming
// online leaves the previous last_seen in place.
func (s *Store) SetPresence(ctx context.Context, userID int, online bool, at time.Time) error {
	var (
		res sql.Result
		err error
	)
	if online {
		res, err = s.conn.ExecContext(ctx, s.q("UPDATE users SET is_online = ? WHERE id = ?"), true, userID)
	} else {
		res, err = s.conn.ExecContext(ctx, s.q("UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?"), false, at.UTC(), userID)
	}
	if err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

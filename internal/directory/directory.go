// Package directory resolves user ids to profiles and E2EE public keys, and
// answers room membership questions for the session layer.
package directory

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/4xmen/goftegu/internal/models"
	"github.com/4xmen/goftegu/internal/store"
	"github.com/4xmen/goftegu/pkg/e2ee"
	"github.com/4xmen/goftegu/pkg/protocol"
)

var ErrInvalidKey = errors.New("invalid public key")

type Store interface {
	UserByID(ctx context.Context, id int) (*models.User, error)
	SetPublicKey(ctx context.Context, userID int, publicKey string) error
	RoomIDs(ctx context.Context, userID int) ([]int, error)
	IsMember(ctx context.Context, roomID, userID int) (bool, error)
}

type Directory struct {
	store Store
}

func New(s Store) *Directory {
	return &Directory{store: s}
}

// Lookup returns the public profile of id. Unknown ids are store.ErrNotFound.
func (d *Directory) Lookup(ctx context.Context, id int) (*protocol.UserStatus, error) {
	if id <= 0 {
		return nil, store.ErrNotFound
	}
	u, err := d.store.UserByID(ctx, id)
	if err != nil {
		return nil, err
	}
	status := u.Status()
	return &status, nil
}

func (d *Directory) PublicKey(ctx context.Context, id int) (string, error) {
	u, err := d.Lookup(ctx, id)
	if err != nil {
		return "", err
	}
	return u.PublicKey, nil
}

// UpdateKey replaces the user's public key after checking it is a box key.
func (d *Directory) UpdateKey(ctx context.Context, userID int, publicKey string) (*protocol.UserStatus, error) {
	if _, err := e2ee.ParsePublicKey(publicKey); err != nil {
		return nil, ErrInvalidKey
	}
	if err := d.store.SetPublicKey(ctx, userID, publicKey); err != nil {
		return nil, fmt.Errorf("failed to update key: %w", err)
	}
	return d.Lookup(ctx, userID)
}

// VerifyKey reports whether publicKey is the key the directory holds for
// userID. Clients use it to detect a local key that no longer matches.
func (d *Directory) VerifyKey(ctx context.Context, userID int, publicKey string) (bool, error) {
	stored, err := d.PublicKey(ctx, userID)
	if err != nil {
		return false, err
	}
	if stored == "" || publicKey == "" {
		return false, nil
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(publicKey)) == 1, nil
}

func (d *Directory) Rooms(ctx context.Context, userID int) ([]int, error) {
	return d.store.RoomIDs(ctx, userID)
}

func (d *Directory) IsMember(ctx context.Context, roomID, userID int) (bool, error) {
	if roomID <= 0 || userID <= 0 {
		return false, nil
	}
	return d.store.IsMember(ctx, roomID, userID)
}

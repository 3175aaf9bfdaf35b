package models

import (
	"time"

	"github.com/4xmen/goftegu/pkg/protocol"
)

type User struct {
	ID           int        `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	DisplayName  *string    `json:"display_name,omitempty"`
	AvatarURL    *string    `json:"avatar_url,omitempty"`
	PublicKey    *string    `json:"public_key,omitempty"`
	IsOnline     bool       `json:"is_online"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (u *User) Summary() protocol.UserSummary {
	return protocol.UserSummary{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: deref(u.DisplayName),
		AvatarURL:   deref(u.AvatarURL),
	}
}

// Status is the profile as other users see it, public key included.
func (u *User) Status() protocol.UserStatus {
	return protocol.UserStatus{
		UserSummary: u.Summary(),
		PublicKey:   deref(u.PublicKey),
		IsOnline:    u.IsOnline,
		LastSeen:    u.LastSeen,
	}
}

type Room struct {
	ID        int       `json:"id"`
	Name      string    `json:"name"`
	CreatedBy int       `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

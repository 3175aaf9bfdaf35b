package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/goftegu/internal/directory"
	"github.com/4xmen/goftegu/internal/store"
	"github.com/4xmen/goftegu/pkg/protocol"
)

// Directory is the identity and key lookup the key routes use.
type Directory interface {
	Lookup(ctx context.Context, id int) (*protocol.UserStatus, error)
	UpdateKey(ctx context.Context, userID int, publicKey string) (*protocol.UserStatus, error)
	VerifyKey(ctx context.Context, userID int, publicKey string) (bool, error)
}

type KeyHandler struct {
	dir Directory
}

func NewKeyHandler(dir Directory) *KeyHandler {
	return &KeyHandler{dir: dir}
}

type publicKeyRequest struct {
	PublicKey string `json:"publicKey"`
}

// UpdateKey replaces the caller's public key after a key reset. Messages
// sent earlier keep the sender key snapshot they were sent with.
func (h *KeyHandler) UpdateKey(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req publicKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request")
		return
	}
	if req.PublicKey == "" {
		respondError(c, http.StatusBadRequest, "public key required")
		return
	}

	profile, err := h.dir.UpdateKey(c.Request.Context(), userID, req.PublicKey)
	switch {
	case errors.Is(err, directory.ErrInvalidKey):
		respondError(c, http.StatusBadRequest, "invalid public key")
		return
	case errors.Is(err, store.ErrNotFound):
		respondError(c, http.StatusNotFound, "user not found")
		return
	case err != nil:
		serverError(c, err, "failed to update key")
		return
	}

	c.JSON(http.StatusOK, profile)
}

// VerifyKey lets a client check that the key pair restored from a backup
// matches what the server hands out to its peers.
func (h *KeyHandler) VerifyKey(c *gin.Context) {
	userID, ok := requireUser(c)
	if !ok {
		return
	}

	var req publicKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PublicKey == "" {
		respondError(c, http.StatusBadRequest, "public key required")
		return
	}

	match, err := h.dir.VerifyKey(c.Request.Context(), userID, req.PublicKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(c, http.StatusNotFound, "user not found")
			return
		}
		serverError(c, err, "failed to fetch user")
		return
	}
	if !match {
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": localized(c, "key mismatch")})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// GetUser returns a profile with its public key and presence.
func (h *KeyHandler) GetUser(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid user id")
		return
	}

	profile, err := h.dir.Lookup(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(c, http.StatusNotFound, "user not found")
			return
		}
		serverError(c, err, "failed to fetch user")
		return
	}

	c.JSON(http.StatusOK, profile)
}

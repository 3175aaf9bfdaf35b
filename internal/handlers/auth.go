package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/4xmen/goftegu/internal/auth"
	"github.com/4xmen/goftegu/pkg/log"
)

type AuthHandler struct {
	authSvc *auth.Service
}

func NewAuthHandler(authSvc *auth.Service) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

type RegisterRequest struct {
	Username    string `json:"username" binding:"required"`
	Password    string `json:"password" binding:"required"`
	DisplayName string `json:"displayName"`
	PublicKey   string `json:"publicKey"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type AuthResponse struct {
	Token    string `json:"token"`
	UserID   int    `json:"userId"`
	Username string `json:"username"`
}

// Register creates an account, optionally with the E2EE public key the
// client generated, and returns a session token.
func (h *AuthHandler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request")
		return
	}

	user, err := h.authSvc.Register(c.Request.Context(), auth.Registration{
		Username:    req.Username,
		Password:    req.Password,
		DisplayName: req.DisplayName,
		PublicKey:   req.PublicKey,
	})
	if err != nil {
		var verr auth.ValidationError
		switch {
		case errors.As(err, &verr), errors.Is(err, auth.ErrUsernameTaken), errors.Is(err, auth.ErrInvalidPublicKey):
			respondError(c, http.StatusBadRequest, err.Error())
		default:
			serverError(c, err, "failed to register user")
		}
		return
	}

	token, err := h.authSvc.GenerateToken(user.ID, user.Username)
	if err != nil {
		serverError(c, err, "failed to generate token")
		return
	}

	c.JSON(http.StatusCreated, AuthResponse{
		Token:    token,
		UserID:   user.ID,
		Username: user.Username,
	})
}

// Login authenticates a user and returns a token
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid request")
		return
	}

	user, token, err := h.authSvc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respondError(c, http.StatusUnauthorized, err.Error())
			return
		}
		serverError(c, err, "failed to generate token")
		return
	}

	c.JSON(http.StatusOK, AuthResponse{
		Token:    token,
		UserID:   user.ID,
		Username: user.Username,
	})
}

// AuthMiddleware validates the JWT from the Authorization header or, for
// websocket upgrades, the token query parameter.
func (h *AuthHandler) AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if header := c.GetHeader("Authorization"); header != "" {
			if rest, ok := strings.CutPrefix(header, "Bearer "); ok {
				token = strings.TrimSpace(rest)
			}
		}
		if token == "" {
			token = c.Query("token")
		}

		if token == "" {
			abortError(c, http.StatusUnauthorized, "missing authorization token")
			return
		}

		claims, err := h.authSvc.ValidateToken(token)
		if err != nil {
			abortError(c, http.StatusUnauthorized, "invalid token")
			return
		}

		exists, err := h.authSvc.UserExists(c.Request.Context(), claims.UserID)
		if err != nil {
			serverError(c, err, "failed to validate user")
			c.Abort()
			return
		}
		if !exists {
			abortError(c, http.StatusUnauthorized, "user not found")
			return
		}

		c.Set(log.FieldUserID, claims.UserID)
		c.Set(log.FieldUsername, claims.Username)
		c.Next()
	}
}

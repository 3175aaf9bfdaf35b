package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/4xmen/goftegu/internal/models"
	"github.com/4xmen/goftegu/internal/store"
	"github.com/4xmen/goftegu/pkg/e2ee"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidPublicKey   = errors.New("invalid public key")
)

// ValidationError is registration input the client has to correct.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// Users is the slice of the store the auth service needs.
type Users interface {
	CreateUser(ctx context.Context, u *models.User) (int, error)
	UserByUsername(ctx context.Context, username string) (*models.User, error)
	UserExists(ctx context.Context, id int) (bool, error)
}

type Service struct {
	users     Users
	jwtSecret string
	tokenTTL  time.Duration
}

type Claims struct {
	UserID   int    `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func New(users Users, jwtSecret string) *Service {
	return NewWithTokenTTL(users, jwtSecret, 24*time.Hour)
}

func NewWithTokenTTL(users Users, jwtSecret string, tokenTTL time.Duration) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}

	return &Service{
		users:     users,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
	}
}

type Registration struct {
	Username    string
	Password    string
	DisplayName string
	PublicKey   string
}

func (s *Service) Register(ctx context.Context, reg Registration) (*models.User, error) {
	username := strings.TrimSpace(reg.Username)
	if len(username) < 3 || len(username) > 32 {
		return nil, ValidationError("username must be between 3 and 32 characters")
	}
	if !usernamePattern.MatchString(username) {
		return nil, ValidationError("username can only contain letters, numbers, and underscores")
	}
	if len(reg.Password) < 6 {
		return nil, ValidationError("password must be at least 6 characters")
	}

	u := &models.User{Username: username}
	if name := strings.TrimSpace(reg.DisplayName); name != "" {
		u.DisplayName = &name
	}
	if reg.PublicKey != "" {
		if _, err := e2ee.ParsePublicKey(reg.PublicKey); err != nil {
			return nil, ErrInvalidPublicKey
		}
		key := reg.PublicKey
		u.PublicKey = &key
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	u.PasswordHash = string(hash)

	id, err := s.users.CreateUser(ctx, u)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to register user: %w", err)
	}
	u.ID = id

	return u, nil
}

// Login checks the password and returns the user with a fresh token.
func (s *Service) Login(ctx context.Context, username, password string) (*models.User, string, error) {
	u, err := s.users.UserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", fmt.Errorf("failed to query user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.GenerateToken(u.ID, u.Username)
	if err != nil {
		return nil, "", err
	}

	return u, token, nil
}

func (s *Service) GenerateToken(userID int, username string) (string, error) {
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.jwtSecret))
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.jwtSecret), nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	return claims, nil
}

// UserExists checks if a user with the given ID exists
func (s *Service) UserExists(ctx context.Context, userID int) (bool, error) {
	return s.users.UserExists(ctx, userID)
}

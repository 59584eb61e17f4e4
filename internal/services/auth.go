package services

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/mediaforge/studio/internal/config"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned by Login for a wrong password
var ErrInvalidCredentials = errors.New("invalid credentials")

// LoginRequest represents a login request
type LoginRequest struct {
	Password string `json:"password" binding:"required"`
}

// AuthResponse represents authentication response
type AuthResponse struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"`
}

// AuthService guards the dashboard with a single operator password
type AuthService struct {
	cfg config.AuthConfig
}

// NewAuthService creates a new auth service
func NewAuthService(cfg config.AuthConfig) *AuthService {
	return &AuthService{cfg: cfg}
}

// Enabled reports whether a password is configured
func (s *AuthService) Enabled() bool {
	return s.cfg.Enabled()
}

// Login checks password against the configured bcrypt hash
func (s *AuthService) Login(req LoginRequest) error {
	if !s.Enabled() {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.PasswordHash), []byte(req.Password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// CheckAPIKey compares key with the configured one in constant time
func (s *AuthService) CheckAPIKey(key string) bool {
	return s.cfg.APIKey != "" && subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.APIKey)) == 1
}

// HashPassword produces the value stored in auth.password_hash
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", fmt.Errorf("password must be at least 8 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mediaforge/studio/internal/middleware"
	"github.com/mediaforge/studio/internal/services"
)

// AuthHandler handles dashboard login
type AuthHandler struct {
	authService *services.AuthService
	jwtConfig   middleware.JWTConfig
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(authService *services.AuthService, jwtConfig middleware.JWTConfig) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		jwtConfig:   jwtConfig,
	}
}

// Login checks the dashboard password and issues a token
func (h *AuthHandler) Login(c *gin.Context) {
	if !h.authService.Enabled() {
		c.JSON(http.StatusOK, gin.H{"auth": "disabled"})
		return
	}

	var req services.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.authService.Login(req); err != nil {
		if errors.Is(err, services.ErrInvalidCredentials) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	token, err := middleware.GenerateToken("operator", h.jwtConfig)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, services.AuthResponse{
		Token:     token,
		ExpiresIn: int(h.jwtConfig.Expiration.Seconds()),
	})
}

// Status tells the dashboard whether it has to show the login form
func (h *AuthHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"enabled": h.authService.Enabled()})
}

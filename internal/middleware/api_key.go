package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// APIKeyHeader carries the static key used by scripts
const APIKeyHeader = "X-API-Key"

// APIKeyMiddleware admits requests whose X-API-Key passes check
func APIKeyMiddleware(check func(key string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(APIKeyHeader)
		if apiKey == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
			c.Abort()
			return
		}

		if !check(apiKey) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			c.Abort()
			return
		}

		c.Set("subject", "api-key")
		c.Next()
	}
}

// RequireAuth protects dashboard routes. With auth disabled every request
// passes; otherwise a valid X-API-Key or a bearer JWT is required.
func RequireAuth(enabled bool, secret string, checkKey func(key string) bool) gin.HandlerFunc {
	if !enabled {
		return func(c *gin.Context) { c.Next() }
	}
	keyAuth := APIKeyMiddleware(checkKey)
	jwtAuth := JWTMiddleware(secret)
	return func(c *gin.Context) {
		if c.GetHeader(APIKeyHeader) != "" {
			keyAuth(c)
			return
		}
		jwtAuth(c)
	}
}

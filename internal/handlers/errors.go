package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mediaforge/studio/internal/catalog"
	"github.com/mediaforge/studio/internal/services"
	"github.com/mediaforge/studio/internal/storage"
)

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, catalog.ErrUnknownModel),
		errors.Is(err, catalog.ErrInvalidParam),
		errors.Is(err, services.ErrEmptyPrompt):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrRecordNotFound),
		errors.Is(err, services.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrJobFinished):
		return http.StatusConflict
	case errors.Is(err, services.ErrShuttingDown):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func abortWithError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

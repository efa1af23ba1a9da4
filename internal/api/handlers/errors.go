package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codyseavey/tcg-portfolio/internal/services"
)

// retryAfterSeconds is sent while the singles dataset is still loading
const retryAfterSeconds = "5"

// respondError maps service errors to status codes. Retryable failures carry
// "retry": true so clients can keep their input and try again.
func respondError(c *gin.Context, err error) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "validation failed", "fields": verr.Fields})
	case errors.Is(err, services.ErrIdentity):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrConflictOnCommit):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "retry": true})
	case errors.Is(err, services.ErrNotInitialized):
		c.Header("Retry-After", retryAfterSeconds)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "retry": true})
	case services.IsRetryable(err):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "retry": true})
	default:
		log.Printf("API: %s %s failed: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// badRequest reports malformed input that never reached a service
func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

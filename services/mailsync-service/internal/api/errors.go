package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stoik/mailvault/internal/models"
)

var errNoQuery = errors.New("no search query provided")

// statusFor maps an error to its HTTP status and a short machine-readable code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errNoQuery):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, models.ErrSourceOverloaded), errors.Is(err, models.ErrSourceUnavailable):
		return http.StatusBadGateway, "source_unavailable"
	case errors.Is(err, models.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// respondError is the single place where errors become HTTP responses.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"message": err.Error(),
		"error":   code,
	})
}

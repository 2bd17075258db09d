package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	accesskeydomain "github.com/LoohanZinho/enemaccess/internal/accesskey/domain"
	webhookdomain "github.com/LoohanZinho/enemaccess/internal/webhook/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, webhookdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "invalid_signature",
			Message: "webhook signature verification failed",
		}
	case errors.Is(err, webhookdomain.ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, webhookdomain.ErrInvalidPayload),
		errors.Is(err, accesskeydomain.ErrInvalidPayment),
		errors.Is(err, accesskeydomain.ErrInvalidOwner),
		errors.Is(err, accesskeydomain.ErrInvalidMethod):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, accesskeydomain.ErrNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

// classifyErrorForLog feeds the request logger a stable (type, code)
// pair without the response writer machinery.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	switch {
	case status >= http.StatusInternalServerError:
		return "internal", payload.Type
	case status == http.StatusUnauthorized:
		return "auth", payload.Type
	case status == http.StatusTooManyRequests:
		return "throttle", payload.Type
	default:
		return "client", payload.Type
	}
}

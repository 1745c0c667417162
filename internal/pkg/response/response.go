// internal/pkg/response/response.go
package response

import (
	"errors"
	"net/http"

	xerrors "defiers-auth/internal/pkg/errors"

	"github.com/gin-gonic/gin"
)

// Response defines the standard API response format.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Success sends a successful response with a message and optional data.
func Success(c *gin.Context, status int, message string, data interface{}) {
	if status == 0 {
		status = http.StatusOK
	}

	c.JSON(status, Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Error sends a standardized error response. 401 responses carry a Bearer challenge.
func Error(c *gin.Context, code int, message string, err error, data ...interface{}) {
	// abort before writing so later handlers never run
	c.Abort()

	if code == http.StatusUnauthorized {
		c.Header("WWW-Authenticate", "Bearer")
	}

	response := Response{
		Success: false,
		Message: message,
	}

	if err != nil {
		response.Error = err.Error()
	}

	if len(data) > 0 {
		response.Data = data[0]
	}

	c.JSON(code, response)
}

// FromError answers with the status the error maps to. Internal failures are
// reported with a generic message so backend details do not leak.
func FromError(c *gin.Context, err error) {
	code := xerrors.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		if errors.Is(err, xerrors.ErrBackendUnavailable) || errors.Is(err, xerrors.ErrUnavailable) {
			Error(c, code, "service temporarily unavailable", nil)
			return
		}
		Error(c, code, "internal server error", nil)
		return
	}
	Error(c, code, messageFor(err), err)
}

func messageFor(err error) string {
	switch {
	case errors.Is(err, xerrors.ErrMissingCredential):
		return "missing authorization header"
	case errors.Is(err, xerrors.ErrExpiredCredential), errors.Is(err, xerrors.ErrInvalidCredential):
		return "invalid or expired token"
	case errors.Is(err, xerrors.ErrSessionInactive):
		return "session expired or invalid"
	case errors.Is(err, xerrors.ErrNoActiveSessions):
		return "no active sessions found"
	case errors.Is(err, xerrors.ErrSessionNotFound):
		return "session not found"
	case errors.Is(err, xerrors.ErrOwnershipMismatch):
		return "cannot revoke another user's session"
	default:
		return xerrors.MessageOrDefault(err, "request failed")
	}
}

// ValidationError sends a 400 Bad Request response for invalid input.
func ValidationError(c *gin.Context, message string, err error) {
	Error(c, http.StatusBadRequest, message, err)
}

// Unauthorized sends a 401 Unauthorized response.
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, message, nil)
}

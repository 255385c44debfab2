package helper

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orchidlake/llmstudio/common/random"
)

// RequestIdKey is the context key and response header name that carries the
// per-request id assigned by the request-id middleware.
const RequestIdKey = "X-Llmstudio-Request-Id"

// GenRequestID produces a sortable request id: a timestamp prefix followed by
// random UUID tail, unique enough for log correlation.
func GenRequestID() string {
	return GetTimeString() + random.GetRandomString(8)
}

// MessageWithRequestId appends the request id to a user-facing message so
// support can correlate reports with server logs.
func MessageWithRequestId(message string, id string) string {
	return fmt.Sprintf("%s (request id: %s)", message, id)
}

// RespondError writes the standard failure envelope. Handlers should return
// immediately after calling it.
func RespondError(c *gin.Context, err error) {
	c.JSON(http.StatusOK, gin.H{
		"success": false,
		"message": MessageWithRequestId(err.Error(), c.GetString(RequestIdKey)),
	})
}

// String returns a pointer to the given string value.
func String(s string) *string {
	return &s
}

// AssignOrDefault returns value when non-empty, otherwise defaultValue.
func AssignOrDefault(value string, defaultValue string) string {
	if len(value) != 0 {
		return value
	}
	return defaultValue
}

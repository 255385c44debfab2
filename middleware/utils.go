package middleware

import (
	"net/http"

	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/orchidlake/llmstudio/common/helper"
	llmmodel "github.com/orchidlake/llmstudio/llm/model"
)

// AbortWithError aborts the request with an error message
func AbortWithError(c *gin.Context, statusCode int, err error) {
	logger := gmw.GetLogger(c)
	if statusCode >= http.StatusInternalServerError {
		logger.Error("server abort",
			zap.Int("status_code", statusCode),
			zap.Error(err))
	} else {
		logger.Warn("server abort",
			zap.Int("status_code", statusCode),
			zap.Error(err))
	}

	c.JSON(statusCode, gin.H{
		"success": false,
		"message": helper.MessageWithRequestId(publicMessage(err), c.GetString(helper.RequestIdKey)),
	})
	c.Abort()
}

// publicMessage strips technical detail from provider errors before they
// reach a response body. Other errors pass through as-is; they originate
// from request validation and are already safe to show.
func publicMessage(err error) string {
	if perr, ok := llmmodel.AsProviderError(err); ok {
		return perr.Message
	}
	return err.Error()
}

// StatusFromError maps an error onto the HTTP status controllers respond
// with. Provider error codes translate per taxonomy; everything else is a
// bad request since controllers validate their own input first.
func StatusFromError(err error) int {
	perr, ok := llmmodel.AsProviderError(err)
	if !ok {
		return http.StatusBadRequest
	}
	switch perr.Code {
	case llmmodel.ErrRateLimited:
		return http.StatusTooManyRequests
	case llmmodel.ErrAuthFailed:
		return http.StatusBadGateway
	case llmmodel.ErrInvalidRequest:
		return http.StatusBadRequest
	case llmmodel.ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

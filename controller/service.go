// Package controller holds the thin HTTP handlers. All conversation logic
// lives in the service layer; handlers bind and validate request bodies,
// translate service results into the response envelope, and nothing else.
package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orchidlake/llmstudio/service"
)

// chatService is the shared, stateless service instance. It owns the
// provider cache, so admin handlers reach through it for invalidation.
var chatService = service.NewChatService()

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "",
		"data":    data,
	})
}

func respondMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, gin.H{
		"success": false,
		"message": message,
	})
}

package router

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"

	"github.com/Laisky/zap"
	"github.com/gin-contrib/static"
	"github.com/gin-gonic/gin"

	"github.com/orchidlake/llmstudio/common/logger"
	"github.com/orchidlake/llmstudio/middleware"
)

// SetWebRouter serves the embedded web shell. Unknown non-API paths fall
// back to index.html so client-side routing keeps working.
func SetWebRouter(server *gin.Engine, buildFS embed.FS) {
	sub, err := fs.Sub(buildFS, "web/build")
	if err != nil {
		logger.Logger.Fatal("embedded web build missing", zap.Error(err))
	}

	index, err := fs.ReadFile(sub, "index.html")
	if err != nil {
		logger.Logger.Fatal("embedded index.html missing", zap.Error(err))
	}

	embedded, err := static.EmbedFolder(buildFS, "web/build")
	if err != nil {
		logger.Logger.Fatal("embedded web build not servable", zap.Error(err))
	}

	server.Use(middleware.GlobalWebRateLimit())
	server.Use(static.Serve("/", embedded))
	server.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.RequestURI, "/api") || strings.HasPrefix(c.Request.RequestURI, "/metrics") {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "not found",
			})
			return
		}
		c.Header("Cache-Control", "no-cache")
		c.Data(http.StatusOK, "text/html; charset=utf-8", index)
	})
}

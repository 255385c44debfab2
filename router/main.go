package router

import (
	"embed"

	"github.com/gin-gonic/gin"
)

// SetRouter wires the API surface and the embedded web shell onto the
// server.
func SetRouter(server *gin.Engine, buildFS embed.FS) {
	SetApiRouter(server)
	SetWebRouter(server, buildFS)
}

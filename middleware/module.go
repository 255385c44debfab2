package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orchidlake/llmstudio/common/ctxkey"
	"github.com/orchidlake/llmstudio/registry"
)

// ModuleResolver validates the :name route parameter against the module
// registry before the handler runs, so controllers can assume the module
// exists. The resolved name is set on the context for logging and metrics.
func ModuleResolver() func(c *gin.Context) {
	return func(c *gin.Context) {
		name := c.Param("name")
		if _, err := registry.ModuleByName(name); err != nil {
			c.JSON(http.StatusNotFound, gin.H{
				"success": false,
				"message": "unknown module: " + name,
			})
			c.Abort()
			return
		}
		c.Set(ctxkey.ModuleName, name)
		c.Next()
	}
}

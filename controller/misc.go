package controller

import (
	"net/http"

	gmw "github.com/Laisky/gin-middlewares/v6"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/orchidlake/llmstudio/common"
	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/middleware"
	"github.com/orchidlake/llmstudio/registry"
)

// Status is the public health/identity endpoint.
func Status(c *gin.Context) {
	respondOK(c, gin.H{
		"system_name":      config.SystemName,
		"version":          common.Version,
		"start_time":       common.StartTime,
		"register_enabled": config.RegisterEnabled,
	})
}

// ListModels returns the model catalog with capabilities, so clients can
// offer only models that fit the task (streaming, tools, image input).
func ListModels(c *gin.Context) {
	respondOK(c, registry.Models())
}

// ReloadRegistry re-reads the module/model catalog and invalidates the
// provider cache so new configuration takes effect without a restart.
func ReloadRegistry(c *gin.Context) {
	if err := registry.Load(); err != nil {
		gmw.GetLogger(c).Error("registry reload failed", zap.Error(err))
		middleware.AbortWithError(c, http.StatusInternalServerError, err)
		return
	}
	chatService.Providers().Invalidate()
	gmw.GetLogger(c).Info("registry reloaded, provider cache invalidated")
	respondOK(c, gin.H{
		"models":  len(registry.Models()),
		"modules": len(registry.Modules()),
	})
}

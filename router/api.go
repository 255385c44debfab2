package router

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/orchidlake/llmstudio/controller"
	"github.com/orchidlake/llmstudio/middleware"
)

func SetApiRouter(server *gin.Engine) {
	api := server.Group("/api")
	api.Use(middleware.GlobalAPIRateLimit())
	{
		api.GET("/status", controller.Status)

		auth := api.Group("/auth")
		{
			auth.POST("/register", middleware.CriticalRateLimit(), controller.Register)
			auth.POST("/login", middleware.CriticalRateLimit(), controller.Login)
			auth.GET("/logout", controller.Logout)
			auth.GET("/me", middleware.UserAuth(), controller.Me)
			auth.POST("/token", middleware.UserAuth(), middleware.CriticalRateLimit(), controller.CreateToken)
			auth.PUT("/password", middleware.UserAuth(), middleware.CriticalRateLimit(), controller.UpdateSelfPassword)
		}

		// Catalog reads compress well and never stream.
		catalog := api.Group("", middleware.UserAuth(), gzip.Gzip(gzip.DefaultCompression))
		{
			catalog.GET("/modules", controller.ListModules)
			catalog.GET("/models", controller.ListModels)
			catalog.GET("/sessions", controller.ListSessions)
		}

		// No gzip here: chat responses may be SSE streams and the draw
		// payload is base64 PNG that does not compress.
		mod := api.Group("/module/:name", middleware.UserAuth(), middleware.ModuleResolver())
		{
			mod.POST("/chat", controller.Chat)
			mod.GET("/ws", controller.ChatWS)
			mod.POST("/image", controller.Draw)
			mod.GET("/session", controller.GetSession)
			mod.DELETE("/session", controller.ResetSession)
			mod.PUT("/session/model", controller.SetSessionModel)
		}

		usage := api.Group("/usage", middleware.UserAuth())
		{
			usage.GET("", controller.GetUsageLogs)
			usage.GET("/stats", controller.GetUsageStats)
		}

		admin := api.Group("/admin", middleware.AdminAuth())
		{
			admin.GET("/users", controller.GetAllUsers)
			admin.GET("/users/:id", controller.GetUser)
			admin.POST("/users/manage", controller.ManageUser)
			admin.POST("/registry/reload", controller.ReloadRegistry)
		}
	}
}

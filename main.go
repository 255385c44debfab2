package main

import (
	"context"
	"embed"
	"encoding/base64"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	gmw "github.com/Laisky/gin-middlewares/v6"
	glog "github.com/Laisky/go-utils/v5/log"
	"github.com/Laisky/zap"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/orchidlake/llmstudio/common"
	"github.com/orchidlake/llmstudio/common/client"
	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/common/graceful"
	"github.com/orchidlake/llmstudio/common/logger"
	"github.com/orchidlake/llmstudio/llm"
	llmmodel "github.com/orchidlake/llmstudio/llm/model"
	"github.com/orchidlake/llmstudio/llm/tool"
	"github.com/orchidlake/llmstudio/llm/tool/builtin"
	"github.com/orchidlake/llmstudio/middleware"
	"github.com/orchidlake/llmstudio/model"
	"github.com/orchidlake/llmstudio/monitor"
	"github.com/orchidlake/llmstudio/registry"
	"github.com/orchidlake/llmstudio/router"
)

//go:embed web/build/*
var buildFS embed.FS

func main() {
	ctx := context.Background()

	common.Init()
	logger.SetupLogger()
	logger.SetupEnhancedLogger(ctx)

	logger.Logger.Info("LLM Studio started", zap.String("version", common.Version))

	if config.GinMode != "" {
		gin.SetMode(config.GinMode)
	} else if os.Getenv("GIN_MODE") != gin.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := registry.Load(); err != nil {
		logger.Logger.Fatal("failed to load module/model registry", zap.Error(err))
	}
	logger.Logger.Info("registry loaded",
		zap.Int("models", len(registry.Models())),
		zap.Int("modules", len(registry.Modules())))

	model.InitDB()
	if err := model.CreateRootAccountIfNeed(); err != nil {
		logger.Logger.Fatal("database init error", zap.Error(err))
	}
	defer func() {
		if err := model.CloseDB(); err != nil {
			logger.Logger.Error("failed to close database", zap.Error(err))
		}
	}()

	if err := common.InitRedisClient(); err != nil {
		logger.Logger.Fatal("failed to initialize Redis", zap.Error(err))
	}

	client.Init()
	setupTools(ctx)

	if config.EnablePrometheusMetrics {
		startTime := time.Unix(common.StartTime, 0)
		if err := monitor.InitPrometheusMonitoring(common.Version, runtime.Version(), startTime); err != nil {
			logger.Logger.Fatal("failed to initialize Prometheus monitoring", zap.Error(err))
		}
		logger.Logger.Info("Prometheus monitoring initialized")
	}

	if config.LogRetentionDays > 0 {
		logger.StartLogRetentionCleaner(ctx, config.LogRetentionDays, logger.LogDir)
	}

	logLevel := glog.LevelInfo
	if config.DebugEnabled {
		logLevel = glog.LevelDebug
	}

	server := gin.New()
	server.RedirectTrailingSlash = false
	server.Use(
		middleware.PanicRecover(),
		gmw.NewLoggerMiddleware(
			gmw.WithLoggerMwColored(),
			gmw.WithLevel(logLevel.String()),
			gmw.WithLogger(logger.Logger.Named("gin")),
		),
	)
	// No server-wide gzip: it breaks SSE. The router enables it on the
	// non-streaming groups only.
	server.Use(middleware.CORS())
	server.Use(middleware.RequestId())
	server.Use(trackInFlight())
	if config.EnablePrometheusMetrics {
		server.Use(middleware.PrometheusMiddleware())
	}

	sessionSecret, err := base64.StdEncoding.DecodeString(config.SessionSecret)
	var sessionStore cookie.Store
	if err != nil {
		logger.Logger.Info("session secret is not base64 encoded, using raw value instead")
		sessionStore = cookie.NewStore([]byte(config.SessionSecret))
	} else {
		sessionStore = cookie.NewStore(sessionSecret, sessionSecret)
	}
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   config.CookieMaxAgeHours * 3600,
		SameSite: http.SameSiteLaxMode,
		Secure:   config.EnableCookieSecure,
		HttpOnly: true,
	})
	server.Use(sessions.Sessions("session", sessionStore))

	if config.EnablePrometheusMetrics {
		server.GET("/metrics", middleware.AdminAuth(), gin.WrapH(promhttp.Handler()))
	}

	router.SetRouter(server, buildFS)

	port := config.ServerPort
	if port == "" {
		port = strconv.Itoa(*common.Port)
	}
	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: server,
	}

	go func() {
		logger.Logger.Info("server started", zap.String("address", "http://localhost:"+port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Logger.Info("shutdown signal received, draining")

	graceful.SetDraining()
	shutdownCtx, cancel := context.WithTimeout(ctx, time.Duration(config.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error("http server shutdown", zap.Error(err))
	}
	if err := graceful.Drain(shutdownCtx); err != nil {
		logger.Logger.Error("drain incomplete", zap.Error(err))
	}
	logger.Logger.Info("server stopped")
}

// trackInFlight counts running requests so shutdown can wait for them.
func trackInFlight() gin.HandlerFunc {
	return func(c *gin.Context) {
		done := graceful.BeginRequest()
		defer done()
		c.Next()
	}
}

// setupTools initializes the tool registry with the builtin handlers, wires
// the draw module's image model into the generate_image tool, and merges
// tools from any configured MCP servers.
func setupTools(ctx context.Context) {
	tool.Init(builtin.Builders())

	if drawMod, err := registry.ModuleByName("draw"); err == nil && drawMod.DefaultModel != "" {
		if entry, err := registry.ModelById(drawMod.DefaultModel); err == nil {
			adaptor, aerr := llm.NewImageAdaptor(entry.Vendor, entry.Id)
			if aerr != nil {
				logger.Logger.Warn("image generation tool unavailable", zap.Error(aerr))
			} else {
				params, _ := drawMod.ImageParams()
				builtin.SetImageGenerator(func(ctx context.Context, prompt string) (*llmmodel.ImageRef, error) {
					return adaptor.GenerateImage(ctx, prompt, params)
				})
			}
		}
	}

	if config.MCPServers != "" {
		servers := strings.Split(config.MCPServers, ",")
		tool.RegisterMCPServers(ctx, tool.Default(), servers)
	}
}

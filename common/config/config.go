package config

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/orchidlake/llmstudio/common/env"
)

var (
	// MaxInlineImageSizeMB limits the size (MB) of images that can be inlined as base64 to prevent oversized payloads from overwhelming upstream providers.
	MaxInlineImageSizeMB = func() int {
		v := env.Int("MAX_INLINE_IMAGE_SIZE_MB", 30)
		if v < 0 {
			panic("MAX_INLINE_IMAGE_SIZE_MB must not be negative")
		}
		return v
	}()

	// SessionSecretEnvValue keeps the raw SESSION_SECRET input so other packages can warn about placeholder values.
	SessionSecretEnvValue = strings.TrimSpace(env.String("SESSION_SECRET", ""))
	// SessionSecret stores the effective session secret. When the provided secret is absent or has an unsupported length it is replaced or hashed to a 32-byte base64 token in init().
	SessionSecret = SessionSecretEnvValue

	// CookieMaxAgeHours controls how long session cookies stay valid. The value is interpreted in hours by the session store.
	CookieMaxAgeHours = env.Int("COOKIE_MAXAGE_HOURS", 168)
	// EnableCookieSecure forces the browser to send session cookies only over HTTPS when set to true.
	EnableCookieSecure = env.Bool("ENABLE_COOKIE_SECURE", false)

	// ServerPort overrides the --port flag when running inside container or PaaS environments.
	ServerPort = strings.TrimSpace(env.String("PORT", ""))
	// GinMode allows forcing Gin into release mode (or other modes) without recompiling.
	GinMode = strings.TrimSpace(env.String("GIN_MODE", ""))

	// DebugEnabled toggles verbose structured logging when DEBUG=true.
	DebugEnabled = env.Bool("DEBUG", false)
	// DebugSQLEnabled toggles per-query SQL logging when DEBUG_SQL=true.
	DebugSQLEnabled = env.Bool("DEBUG_SQL", false)
	// MemoryCacheEnabled forces the in-process provider cache to stay enabled even without Redis.
	MemoryCacheEnabled = env.Bool("MEMORY_CACHE_ENABLED", true)

	// SQLDSN provides the primary database DSN; empty means SQLite.
	SQLDSN = strings.TrimSpace(env.String("SQL_DSN", ""))
	// SQLitePath specifies the SQLite database file path when SQL_DSN is absent.
	SQLitePath = env.String("SQLITE_PATH", "llmstudio.db")
	// SQLiteBusyTimeout configures the SQLite busy timeout in milliseconds to mitigate locking errors.
	SQLiteBusyTimeout = env.Int("SQLITE_BUSY_TIMEOUT", 3000)
	// SQLMaxIdleConns controls the primary database pool's idle connection count.
	SQLMaxIdleConns = env.Int("SQL_MAX_IDLE_CONNS", 100)
	// SQLMaxOpenConns controls the primary database pool's maximum open connections.
	SQLMaxOpenConns = env.Int("SQL_MAX_OPEN_CONNS", 1000)
	// SQLMaxLifetimeSeconds sets how long database connections live before being recycled (seconds).
	SQLMaxLifetimeSeconds = env.Int("SQL_MAX_LIFETIME", 300)

	// RedisConnString defines the Redis connection string; leaving it empty disables Redis features.
	RedisConnString = strings.TrimSpace(env.String("REDIS_CONN_STRING", ""))
	// RedisMasterName enables Redis sentinel discovery when provided.
	RedisMasterName = strings.TrimSpace(env.String("REDIS_MASTER_NAME", ""))
	// RedisPassword supplies the Redis authentication password when required.
	RedisPassword = env.String("REDIS_PASSWORD", "")

	// AwsRegion selects the AWS region used for Bedrock model invocations.
	AwsRegion = env.String("AWS_REGION", "us-east-1")
	// AwsAccessKey supplies static AWS credentials for Bedrock; empty falls back to the default credential chain.
	AwsAccessKey = strings.TrimSpace(env.String("AWS_ACCESS_KEY_ID", ""))
	// AwsSecretKey supplies the AWS secret paired with AwsAccessKey.
	AwsSecretKey = strings.TrimSpace(env.String("AWS_SECRET_ACCESS_KEY", ""))

	// GeminiAPIKey authenticates Gemini requests issued through the genai SDK.
	GeminiAPIKey = strings.TrimSpace(env.String("GEMINI_API_KEY", ""))
	// OpenAIAPIKey authenticates OpenAI chat completion requests.
	OpenAIAPIKey = strings.TrimSpace(env.String("OPENAI_API_KEY", ""))
	// OpenAIBaseURL overrides the OpenAI endpoint for compatible gateways.
	OpenAIBaseURL = strings.TrimSpace(env.String("OPENAI_BASE_URL", ""))

	// ProviderTimeout bounds each upstream model call (seconds).
	ProviderTimeout = env.Int("PROVIDER_TIMEOUT", 60)
	// ToolTimeout bounds each tool handler invocation (seconds).
	ToolTimeout = env.Int("TOOL_TIMEOUT", 15)
	// MaxToolRounds caps the model to tool to model loop per conversation turn.
	MaxToolRounds = env.Int("MAX_TOOL_ROUNDS", 5)
	// HistoryWindowMessages caps how many trailing history messages are sent upstream per turn.
	HistoryWindowMessages = env.Int("HISTORY_WINDOW_MESSAGES", 24)
	// HistoryWindowTokens caps the token budget of the trailing history window (0 disables the token bound).
	HistoryWindowTokens = env.Int("HISTORY_WINDOW_TOKENS", 0)
	// ProviderCacheTTLMinutes controls how long default-parameter provider clients stay cached.
	ProviderCacheTTLMinutes = env.Int("PROVIDER_CACHE_TTL_MINUTES", 60)

	// DefaultMaxToken enforces a global max token value when module configs omit one.
	DefaultMaxToken = env.Int("DEFAULT_MAX_TOKEN", 2048)
	// FallbackModel is used when neither the session nor the module configuration names a model.
	FallbackModel = env.String("FALLBACK_MODEL", "anthropic.claude-3-5-sonnet-20240620-v1:0")

	// RegistryPath points to an external module/model registry YAML; empty uses the embedded registry.
	RegistryPath = strings.TrimSpace(env.String("REGISTRY_PATH", ""))

	// MCPServers lists comma separated MCP server URLs whose tools are merged into the tool registry.
	MCPServers = strings.TrimSpace(env.String("MCP_SERVERS", ""))

	// SearchEndpoint overrides the web_search tool backend.
	SearchEndpoint = strings.TrimSpace(env.String("SEARCH_ENDPOINT", ""))
	// WeatherEndpoint overrides the get_weather tool backend.
	WeatherEndpoint = strings.TrimSpace(env.String("WEATHER_ENDPOINT", ""))
	// UserContentRequestProxy provides an HTTP proxy when tools fetch user supplied URLs.
	UserContentRequestProxy = env.String("USER_CONTENT_REQUEST_PROXY", "")
	// UserContentRequestTimeout limits fetch time (seconds) for user supplied assets.
	UserContentRequestTimeout = env.Int("USER_CONTENT_REQUEST_TIMEOUT", 15)

	// JWTSecret signs API access tokens; when empty a random per-process secret is generated.
	JWTSecret = strings.TrimSpace(env.String("JWT_SECRET", ""))
	// JWTExpireHours controls API token lifetime.
	JWTExpireHours = env.Int("JWT_EXPIRE_HOURS", 720)

	// GlobalApiRateLimitNum bounds the number of API requests per client within GlobalApiRateLimitDuration.
	GlobalApiRateLimitNum = env.Int("GLOBAL_API_RATE_LIMIT", 480)
	// GlobalApiRateLimitDuration sets the duration (seconds) of the API rate limit window.
	GlobalApiRateLimitDuration int64 = 3 * 60
	// GlobalWebRateLimitNum bounds web UI requests per client within GlobalWebRateLimitDuration.
	GlobalWebRateLimitNum = env.Int("GLOBAL_WEB_RATE_LIMIT", 240)
	// GlobalWebRateLimitDuration sets the duration (seconds) of the web rate limit window.
	GlobalWebRateLimitDuration int64 = 3 * 60
	// CriticalRateLimitNum defines the burst control for login and registration endpoints.
	CriticalRateLimitNum = env.Int("CRITICAL_RATE_LIMIT", 20)
	// CriticalRateLimitDuration sets the window (seconds) for critical rate limiting.
	CriticalRateLimitDuration int64 = 20 * 60

	// EnablePrometheusMetrics exposes the /metrics endpoint for Prometheus scrapers when true.
	EnablePrometheusMetrics = env.Bool("ENABLE_PROMETHEUS_METRICS", true)

	// HealthWindowSize is the number of recent provider calls per model used for success-rate tracking (0 disables it).
	HealthWindowSize = env.Int("HEALTH_WINDOW_SIZE", 30)
	// HealthSuccessRateThreshold logs a warning when a model's windowed success rate drops below it.
	HealthSuccessRateThreshold = env.Float64("HEALTH_SUCCESS_RATE_THRESHOLD", 0.8)

	// ShutdownTimeoutSec specifies the graceful shutdown timeout (seconds) for the HTTP server and background workers.
	ShutdownTimeoutSec = env.Int("SHUTDOWN_TIMEOUT", 120)

	// RegisterEnabled disables new user registration when set to false.
	RegisterEnabled = env.Bool("REGISTER_ENABLED", true)

	// InitialRootPassword seeds the root account password on first boot.
	InitialRootPassword = env.String("INITIAL_ROOT_PASSWORD", "")

	// AdminAllowedSubnets restricts admin endpoints to comma separated CIDRs when set.
	AdminAllowedSubnets = strings.TrimSpace(env.String("ADMIN_ALLOWED_SUBNETS", ""))

	// OnlyOneLogFile merges all rotated logs into a single file when true.
	OnlyOneLogFile = env.Bool("ONLY_ONE_LOG_FILE", false)
	// LogRetentionDays deletes rotated log files older than this many days (0 disables cleanup).
	LogRetentionDays = env.Int("LOG_RETENTION_DAYS", 0)

	// LogPushAPI posts error-level logs to an external alert endpoint when set.
	LogPushAPI = strings.TrimSpace(env.String("LOG_PUSH_API", ""))
	// LogPushType labels pushed alerts for the receiving service.
	LogPushType = strings.TrimSpace(env.String("LOG_PUSH_TYPE", ""))
	// LogPushToken authenticates against LogPushAPI.
	LogPushToken = strings.TrimSpace(env.String("LOG_PUSH_TOKEN", ""))
)

// RateLimitKeyExpirationDuration controls how long Redis keys for rate limiting remain valid.
var RateLimitKeyExpirationDuration = 20 * time.Minute

// SystemName is displayed in status responses and the web shell header.
var SystemName = "LLM Studio"

func init() {
	if SessionSecretEnvValue == "" {
		fmt.Println("SESSION_SECRET not set, using random secret")
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(fmt.Sprintf("failed to generate random session secret: %v", err))
		}
		SessionSecret = base64.StdEncoding.EncodeToString(key)
	} else if !slices.Contains([]int{16, 24, 32}, len(SessionSecretEnvValue)) {
		hashed := sha256.Sum256([]byte(SessionSecretEnvValue))
		SessionSecret = base64.StdEncoding.EncodeToString(hashed[:])
	}

	if JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			panic(fmt.Sprintf("failed to generate random jwt secret: %v", err))
		}
		JWTSecret = base64.StdEncoding.EncodeToString(key)
	}
}

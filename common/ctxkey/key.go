package ctxkey

import "github.com/gin-gonic/gin"

const (
	// Id is the authenticated user id for the current request.
	// Set in: middleware/auth (session or token auth).
	// Read widely by controllers for ownership checks and session scoping.
	Id = "id"

	// RequestId is a per-request unique identifier (also used for logging/metrics).
	// Set in: middleware/request-id for every request.
	// Note: the literal value is "X-Llmstudio-Request-Id" for consistency with header naming.
	RequestId = "X-Llmstudio-Request-Id"

	// Username is the authenticated username.
	// Set in: middleware/auth (session branch).
	// Read in: controllers for logging and metrics labeling.
	Username = "username"

	// Role is the authenticated user role (common/admin/root).
	// Set in: middleware/auth (session branch).
	// Read in: user and admin controllers for permission checks.
	Role = "role"

	// Status is reserved for user status if ever stored on context.
	// Currently not set via middleware (status is checked internally in auth middleware).
	Status = "status"

	// TokenId is the id of the API token used for this request (if TokenAuth).
	// Set in: middleware/auth.TokenAuth.
	// Read in: logs.
	TokenId = "token_id"

	// TokenName is the name/label of the API token used for this request.
	// Set in: middleware/auth.TokenAuth.
	// Read in: logs and metrics.
	TokenName = "token_name"

	// ModuleName is the task module handling the current request (chat, summarize, ...).
	// Set in: middleware.ModuleResolver after validating the :name route param.
	// Read in: controllers dispatching to the service layer, metrics labeling.
	ModuleName = "module_name"

	// SessionId is the chat session id resolved for the current request.
	// Set in: controller/module and controller/session after ownership checks.
	// Read in: service layer for history loading and persistence.
	SessionId = "session_id"

	// RequestModel is the model id as requested by the client or resolved from the session.
	// Set in: controller/module after model resolution.
	// Invariant: never mutate this value; it must always reflect the resolved input.
	RequestModel = "request_model"

	// KeyRequestBody caches the raw request body bytes for reuse (avoid double read).
	// Set in: common/gin.go GetRequestBody and UnmarshalBodyReusable.
	KeyRequestBody = gin.BodyBytesKey
)

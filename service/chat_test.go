package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/orchidlake/llmstudio/common"
	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/common/graceful"
	"github.com/orchidlake/llmstudio/llm/adaptor"
	llmmodel "github.com/orchidlake/llmstudio/llm/model"
	"github.com/orchidlake/llmstudio/model"
	"github.com/orchidlake/llmstudio/registry"
)

// setupMockDB swaps the shared gorm handle for a sqlmock-backed one.
// Queries are matched loosely by regexp so the expectations survive gorm
// statement-builder changes.
func setupMockDB(t *testing.T) sqlmock.Sqlmock {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.MatchExpectationsInOrder(false)

	dialector := mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	})

	gdb, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)

	originalDB := model.DB
	model.DB = gdb

	originalMySQL := common.UsingMySQL
	originalSQLite := common.UsingSQLite
	originalPostgres := common.UsingPostgreSQL
	common.UsingMySQL = true
	common.UsingSQLite = false
	common.UsingPostgreSQL = false

	t.Cleanup(func() {
		model.DB = originalDB
		common.UsingMySQL = originalMySQL
		common.UsingSQLite = originalSQLite
		common.UsingPostgreSQL = originalPostgres
		_ = sqlDB.Close()
	})

	return mock
}

func sessionColumns() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "user_id", "module_name", "model_id", "context", "history", "archived", "created_at", "updated_at",
	})
}

func expectSessionRow(mock sqlmock.Sqlmock, id, userId int, module, modelId, context, history string) {
	mock.ExpectQuery("SELECT \\* FROM `chat_sessions`").
		WillReturnRows(sessionColumns().AddRow(id, userId, module, modelId, context, history, false, 0, 0))
}

// expectTurnPersisted queues the session save and the usage insert of one
// completed turn.
func expectTurnPersisted(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `chat_sessions`").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `usage_logs`").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
}

// drainCritical waits for deferred usage accounting before the mock is
// checked.
func drainCritical(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, graceful.Drain(ctx))
}

type buildRecord struct {
	vendor  string
	modelId string
	params  *llmmodel.InferenceParams
	tools   []string
	builds  int
}

func serviceWithStub(stub *stubAdaptor) (*ChatService, *buildRecord) {
	svc := NewChatService()
	rec := &buildRecord{}
	svc.providers.buildText = func(vendor, modelId string, params *llmmodel.InferenceParams, tools []string) (adaptor.Adaptor, error) {
		rec.builds++
		rec.vendor, rec.modelId, rec.params, rec.tools = vendor, modelId, params, tools
		return stub, nil
	}
	return svc, rec
}

func collectDeltas(deltas chan string) string {
	var sb strings.Builder
	for len(deltas) > 0 {
		sb.WriteString(<-deltas)
	}
	return sb.String()
}

func TestChatCompletesTurnAndPersists(t *testing.T) {
	mock := setupMockDB(t)
	expectSessionRow(mock, 7, 1, "chat", "", `{"system_prompt":"be helpful"}`, `[]`)
	expectTurnPersisted(mock)

	stub := &stubAdaptor{result: &adaptor.ConverseResult{
		Message:    llmmodel.NewAssistantText("all good"),
		Usage:      &llmmodel.Usage{PromptTokens: 5, CompletionTokens: 3, TotalTokens: 8},
		StopReason: llmmodel.StopEndTurn,
	}}
	svc, rec := serviceWithStub(stub)

	res, err := svc.Chat(context.Background(), &ChatRequest{
		UserId:  1,
		Module:  "chat",
		Content: llmmodel.UnifiedContent{Text: "hi"},
	})
	require.NoError(t, err)
	require.False(t, res.Degraded)
	require.Equal(t, "all good", res.Text)
	require.Equal(t, 7, res.SessionId)
	require.Equal(t, "anthropic.claude-3-5-sonnet-20240620-v1:0", res.ModelId)
	require.Equal(t, 8, res.Usage.TotalTokens)
	require.Equal(t, llmmodel.StopEndTurn, res.StopReason)
	require.Equal(t, 1, res.Rounds)

	require.Equal(t, "BEDROCK", rec.vendor)
	require.Contains(t, rec.tools, "web_search")
	require.NotNil(t, rec.params)
	require.Equal(t, 2048, rec.params.MaxTokens)

	require.Len(t, stub.requests, 1)
	sent := stub.requests[0]
	require.Equal(t, "be helpful", sent.System)
	require.Len(t, sent.Messages, 1)
	require.Equal(t, llmmodel.RoleUser, sent.Messages[0].Role)
	require.Equal(t, "hi", sent.Messages[0].TextContent())
	require.NotEmpty(t, sent.Messages[0].Context["timestamp"])

	drainCritical(t)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChatReplaysWindowedHistory(t *testing.T) {
	mock := setupMockDB(t)
	history := `[{"role":"user","text":"earlier question","created_at":1},` +
		`{"role":"assistant","text":"earlier answer","created_at":2}]`
	expectSessionRow(mock, 3, 1, "chat", "", `{"system_prompt":"be helpful"}`, history)
	expectTurnPersisted(mock)

	stub := &stubAdaptor{}
	svc, _ := serviceWithStub(stub)

	_, err := svc.Chat(context.Background(), &ChatRequest{
		UserId:  1,
		Module:  "chat",
		Content: llmmodel.UnifiedContent{Text: "and now?"},
	})
	require.NoError(t, err)

	require.Len(t, stub.requests, 1)
	sent := stub.requests[0]
	require.Len(t, sent.Messages, 3)
	require.Equal(t, "earlier question", sent.Messages[0].TextContent())
	require.Equal(t, llmmodel.RoleAssistant, sent.Messages[1].Role)
	require.Equal(t, "and now?", sent.Messages[2].TextContent())

	drainCritical(t)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChatSeedsSystemPromptOnFreshSession(t *testing.T) {
	mock := setupMockDB(t)
	mock.ExpectQuery("SELECT \\* FROM `chat_sessions`").WillReturnRows(sessionColumns())
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `chat_sessions`").WillReturnResult(sqlmock.NewResult(9, 1))
	mock.ExpectCommit()
	expectTurnPersisted(mock)

	stub := &stubAdaptor{}
	svc, _ := serviceWithStub(stub)

	res, err := svc.Chat(context.Background(), &ChatRequest{
		UserId:  4,
		Module:  "chat",
		Content: llmmodel.UnifiedContent{Text: "hello"},
	})
	require.NoError(t, err)
	require.Equal(t, 9, res.SessionId)

	require.Len(t, stub.requests, 1)
	require.Contains(t, stub.requests[0].System, "helpful assistant")

	drainCritical(t)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChatDegradedTurnIsNotPersisted(t *testing.T) {
	mock := setupMockDB(t)
	expectSessionRow(mock, 7, 1, "chat", "", `{}`, `[]`)

	stub := &stubAdaptor{err: llmmodel.NewProviderError(llmmodel.ErrRateLimited, "throttled", "429 from vendor")}
	svc, _ := serviceWithStub(stub)

	res, err := svc.Chat(context.Background(), &ChatRequest{
		UserId:  1,
		Module:  "chat",
		Content: llmmodel.UnifiedContent{Text: "hi"},
	})
	require.NoError(t, err)
	require.True(t, res.Degraded)
	require.Contains(t, res.Text, "too many requests")

	drainCritical(t)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChatRejectsUnknownModule(t *testing.T) {
	svc := NewChatService()

	_, err := svc.Chat(context.Background(), &ChatRequest{
		UserId:  1,
		Module:  "no-such-module",
		Content: llmmodel.UnifiedContent{Text: "hi"},
	})
	perr, ok := llmmodel.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, llmmodel.ErrInvalidRequest, perr.Code)
}

func TestChatRejectsUnknownRequestModel(t *testing.T) {
	mock := setupMockDB(t)
	expectSessionRow(mock, 7, 1, "chat", "", `{}`, `[]`)

	svc, _ := serviceWithStub(&stubAdaptor{})

	_, err := svc.Chat(context.Background(), &ChatRequest{
		UserId:  1,
		Module:  "chat",
		Model:   "qwen-max",
		Content: llmmodel.UnifiedContent{Text: "hi"},
	})
	perr, ok := llmmodel.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, llmmodel.ErrInvalidRequest, perr.Code)
	require.Contains(t, perr.Message, "unknown model")
}

func TestChatHonorsSessionModelOverride(t *testing.T) {
	mock := setupMockDB(t)
	expectSessionRow(mock, 7, 1, "chat", "gemini-1.5-pro", `{"system_prompt":"x"}`, `[]`)
	expectTurnPersisted(mock)

	stub := &stubAdaptor{}
	svc, rec := serviceWithStub(stub)

	res, err := svc.Chat(context.Background(), &ChatRequest{
		UserId:  1,
		Module:  "chat",
		Content: llmmodel.UnifiedContent{Text: "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, "gemini-1.5-pro", res.ModelId)
	require.Equal(t, "GEMINI", rec.vendor)
	require.Equal(t, "gemini-1.5-pro", rec.modelId)

	drainCritical(t)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChatStaleSessionOverrideFallsBack(t *testing.T) {
	mock := setupMockDB(t)
	expectSessionRow(mock, 7, 1, "chat", "decommissioned-model", `{"system_prompt":"x"}`, `[]`)
	expectTurnPersisted(mock)

	stub := &stubAdaptor{}
	svc, rec := serviceWithStub(stub)

	res, err := svc.Chat(context.Background(), &ChatRequest{
		UserId:  1,
		Module:  "chat",
		Content: llmmodel.UnifiedContent{Text: "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, "anthropic.claude-3-5-sonnet-20240620-v1:0", res.ModelId)
	require.Equal(t, "BEDROCK", rec.vendor)

	drainCritical(t)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChatRejectsImageModelForConversation(t *testing.T) {
	mock := setupMockDB(t)
	expectSessionRow(mock, 7, 1, "chat", "", `{}`, `[]`)

	svc, _ := serviceWithStub(&stubAdaptor{})

	_, err := svc.Chat(context.Background(), &ChatRequest{
		UserId:  1,
		Module:  "chat",
		Model:   "stability.stable-diffusion-xl-v1",
		Content: llmmodel.UnifiedContent{Text: "hi"},
	})
	perr, ok := llmmodel.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, llmmodel.ErrInvalidRequest, perr.Code)
	require.Contains(t, perr.Detail, "draw")
}

func TestChatCustomParamsBypassAdapterCache(t *testing.T) {
	mock := setupMockDB(t)
	for range 3 {
		expectSessionRow(mock, 7, 1, "chat", "", `{"system_prompt":"x"}`, `[]`)
		expectTurnPersisted(mock)
	}

	stub := &stubAdaptor{}
	svc, rec := serviceWithStub(stub)
	ctx := context.Background()

	_, err := svc.Chat(ctx, &ChatRequest{UserId: 1, Module: "chat", Content: llmmodel.UnifiedContent{Text: "a"}})
	require.NoError(t, err)
	_, err = svc.Chat(ctx, &ChatRequest{UserId: 1, Module: "chat", Content: llmmodel.UnifiedContent{Text: "b"}})
	require.NoError(t, err)
	require.Equal(t, 1, rec.builds)

	temp := 0.55
	_, err = svc.Chat(ctx, &ChatRequest{
		UserId:  1,
		Module:  "chat",
		Content: llmmodel.UnifiedContent{Text: "c"},
		Params:  &llmmodel.InferenceParams{Temperature: &temp},
	})
	require.NoError(t, err)
	require.Equal(t, 2, rec.builds)
	require.NotNil(t, rec.params.Temperature)
	require.Equal(t, 0.55, *rec.params.Temperature)
	// Unset fields fall back to the module defaults.
	require.Equal(t, 2048, rec.params.MaxTokens)

	drainCritical(t)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChatRejectsInvalidParamOverrides(t *testing.T) {
	mock := setupMockDB(t)
	expectSessionRow(mock, 7, 1, "chat", "", `{}`, `[]`)

	svc, _ := serviceWithStub(&stubAdaptor{})

	temp := 3.5
	_, err := svc.Chat(context.Background(), &ChatRequest{
		UserId:  1,
		Module:  "chat",
		Content: llmmodel.UnifiedContent{Text: "hi"},
		Params:  &llmmodel.InferenceParams{Temperature: &temp},
	})
	perr, ok := llmmodel.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, llmmodel.ErrInvalidRequest, perr.Code)
}

func TestChatStreamForwardsDeltas(t *testing.T) {
	mock := setupMockDB(t)
	expectSessionRow(mock, 7, 1, "chat", "", `{"system_prompt":"x"}`, `[]`)
	expectTurnPersisted(mock)

	stub := &stubAdaptor{
		chunks: []string{"Hel", "lo"},
		result: &adaptor.ConverseResult{
			Message:    llmmodel.NewAssistantText("Hello"),
			Usage:      &llmmodel.Usage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6},
			StopReason: llmmodel.StopEndTurn,
		},
	}
	svc, _ := serviceWithStub(stub)

	deltas := make(chan string, 16)
	res, err := svc.ChatStream(context.Background(), &ChatRequest{
		UserId:  1,
		Module:  "chat",
		Content: llmmodel.UnifiedContent{Text: "hi"},
	}, deltas)
	require.NoError(t, err)
	require.False(t, res.Degraded)
	require.Equal(t, "Hello", res.Text)
	require.Equal(t, "Hello", collectDeltas(deltas))

	drainCritical(t)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChatStreamSeparatesThinking(t *testing.T) {
	mock := setupMockDB(t)
	expectSessionRow(mock, 11, 1, "codegen", "", `{"system_prompt":"x"}`, `[]`)
	expectTurnPersisted(mock)

	raw := "<thinking>plan carefully</thinking>Answer: use locks"
	stub := &stubAdaptor{
		chunks: []string{"<thin", "king>plan carefully</think", "ing>Answer: use locks"},
		result: &adaptor.ConverseResult{
			Message:    llmmodel.NewAssistantText(raw),
			Usage:      &llmmodel.Usage{TotalTokens: 9},
			StopReason: llmmodel.StopEndTurn,
		},
	}
	svc, rec := serviceWithStub(stub)

	deltas := make(chan string, 16)
	res, err := svc.ChatStream(context.Background(), &ChatRequest{
		UserId:  1,
		Module:  "codegen",
		Content: llmmodel.UnifiedContent{Text: "how do I sync?"},
	}, deltas)
	require.NoError(t, err)
	require.Equal(t, "OPENAI", rec.vendor)
	require.Equal(t, "Answer: use locks", collectDeltas(deltas))
	require.Equal(t, "Answer: use locks", res.Text)
	require.Equal(t, "plan carefully", res.Thinking)

	drainCritical(t)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestChatStreamDegradedSendsNotice(t *testing.T) {
	mock := setupMockDB(t)
	expectSessionRow(mock, 7, 1, "chat", "", `{}`, `[]`)

	stub := &stubAdaptor{err: llmmodel.NewProviderError(llmmodel.ErrTimeout, "deadline", "upstream stalled")}
	svc, _ := serviceWithStub(stub)

	deltas := make(chan string, 4)
	res, err := svc.ChatStream(context.Background(), &ChatRequest{
		UserId:  1,
		Module:  "chat",
		Content: llmmodel.UnifiedContent{Text: "hi"},
	}, deltas)
	require.NoError(t, err)
	require.True(t, res.Degraded)
	require.Contains(t, res.Text, "too long")
	require.Equal(t, res.Text, collectDeltas(deltas))

	drainCritical(t)
	require.NoError(t, mock.ExpectationsWereMet())
}

const nonStreamingCatalog = `
models:
  - id: plain-model
    vendor: OPENAI
    category: chat
    capabilities:
      input_modality: [text]
      output_modality: [text]
      streaming: false
      tool_use: false
modules:
  - name: notes
    default_model: plain-model
`

func TestChatStreamFallsBackForNonStreamingModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	require.NoError(t, os.WriteFile(path, []byte(nonStreamingCatalog), 0o644))

	prevPath := config.RegistryPath
	config.RegistryPath = path
	require.NoError(t, registry.Load())
	t.Cleanup(func() {
		config.RegistryPath = prevPath
		require.NoError(t, registry.Load())
	})

	mock := setupMockDB(t)
	expectSessionRow(mock, 7, 1, "notes", "", `{}`, `[]`)
	expectTurnPersisted(mock)

	stub := &stubAdaptor{result: &adaptor.ConverseResult{
		Message:    llmmodel.NewAssistantText("whole answer"),
		Usage:      &llmmodel.Usage{TotalTokens: 5},
		StopReason: llmmodel.StopEndTurn,
	}}
	svc, _ := serviceWithStub(stub)

	deltas := make(chan string, 4)
	res, err := svc.ChatStream(context.Background(), &ChatRequest{
		UserId:  1,
		Module:  "notes",
		Content: llmmodel.UnifiedContent{Text: "hi"},
	}, deltas)
	require.NoError(t, err)
	require.Equal(t, "whole answer", res.Text)
	require.Len(t, deltas, 1)
	require.Equal(t, "whole answer", collectDeltas(deltas))

	drainCritical(t)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserFacingMessagePerCode(t *testing.T) {
	cases := []struct {
		code llmmodel.ErrorCode
		want string
	}{
		{llmmodel.ErrRateLimited, "too many requests"},
		{llmmodel.ErrAuthFailed, "authenticate"},
		{llmmodel.ErrTimeout, "too long"},
		{llmmodel.ErrInvalidRequest, "rejected"},
		{llmmodel.ErrUnknown, "something went wrong"},
	}
	for _, tc := range cases {
		msg := userFacingMessage(llmmodel.NewProviderError(tc.code, "x", "y"))
		require.Contains(t, msg, tc.want, "code %s", tc.code)
	}

	require.Contains(t, userFacingMessage(os.ErrClosed), "something went wrong")
}

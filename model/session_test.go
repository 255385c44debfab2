package model

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/orchidlake/llmstudio/common"
)

// setupMockDB swaps the package DB for a sqlmock-backed gorm handle.
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

	originalDB := DB
	DB = gdb

	originalMySQL := common.UsingMySQL
	originalSQLite := common.UsingSQLite
	originalPostgres := common.UsingPostgreSQL
	common.UsingMySQL = true
	common.UsingSQLite = false
	common.UsingPostgreSQL = false

	t.Cleanup(func() {
		DB = originalDB
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

func TestGetOrCreateSessionCreatesOnFirstAccess(t *testing.T) {
	mock := setupMockDB(t)

	mock.ExpectQuery("SELECT \\* FROM `chat_sessions`").
		WillReturnRows(sessionColumns())
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `chat_sessions`").
		WillReturnResult(sqlmock.NewResult(7, 1))
	mock.ExpectCommit()

	session, err := GetOrCreateSession(42, "chat")
	require.NoError(t, err)
	require.Equal(t, 7, session.Id)
	require.Equal(t, 42, session.UserId)
	require.Equal(t, "chat", session.ModuleName)
	require.Equal(t, "{}", session.Context)
	require.Equal(t, "[]", session.History)
	require.False(t, session.Archived)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateSessionReturnsExisting(t *testing.T) {
	mock := setupMockDB(t)

	mock.ExpectQuery("SELECT \\* FROM `chat_sessions`").
		WillReturnRows(sessionColumns().
			AddRow(3, 42, "chat", "gpt-4o", `{"system_prompt":"be nice"}`, `[{"role":"user","text":"hi","created_at":1}]`, false, 1, 1))

	session, err := GetOrCreateSession(42, "chat")
	require.NoError(t, err)
	require.Equal(t, 3, session.Id)
	require.Equal(t, "gpt-4o", session.ModelId)
	require.Equal(t, "be nice", session.SystemPrompt())

	history, err := session.LoadHistory()
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, "hi", history[0].Text)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetOrCreateSessionValidatesInput(t *testing.T) {
	_, err := GetOrCreateSession(0, "chat")
	require.Error(t, err)
	_, err = GetOrCreateSession(1, "")
	require.Error(t, err)
}

func TestListSessions(t *testing.T) {
	mock := setupMockDB(t)

	mock.ExpectQuery("SELECT \\* FROM `chat_sessions`").
		WillReturnRows(sessionColumns().
			AddRow(2, 42, "chat", "", "{}", "[]", false, 1, 9).
			AddRow(1, 42, "translate", "", "{}", "[]", false, 1, 5))

	sessions, err := ListSessions(42, "")
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.Equal(t, "chat", sessions[0].ModuleName)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendInteractionRoundtrip(t *testing.T) {
	session := &ChatSession{Id: 1, History: "[]"}

	require.NoError(t, session.AppendInteraction(
		StoredMessage{Role: "user", Text: "what's the weather?"},
		StoredMessage{Role: "assistant", Text: "sunny, 18 degrees"},
	))
	require.NoError(t, session.AppendInteraction(
		StoredMessage{Role: "user", Text: "and tomorrow?"},
	))

	history, err := session.LoadHistory()
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, "user", history[0].Role)
	require.Equal(t, "what's the weather?", history[0].Text)
	require.Equal(t, "and tomorrow?", history[2].Text)
	for _, msg := range history {
		require.NotZero(t, msg.CreatedAt)
	}
}

func TestLoadHistoryRejectsCorruptedRow(t *testing.T) {
	session := &ChatSession{Id: 1, History: "{not json"}
	_, err := session.LoadHistory()
	require.Error(t, err)
}

func TestSessionSave(t *testing.T) {
	mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `chat_sessions` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	session := &ChatSession{Id: 5, UserId: 42, ModuleName: "chat", Context: "{}", History: "[]"}
	require.NoError(t, session.Save(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionSaveRequiresPersistedRow(t *testing.T) {
	session := &ChatSession{}
	require.Error(t, session.Save(context.Background()))
}

func TestArchive(t *testing.T) {
	mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `chat_sessions` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	session := &ChatSession{Id: 5}
	require.NoError(t, session.Archive(context.Background()))
	require.True(t, session.Archived)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetModelOverride(t *testing.T) {
	mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `chat_sessions` SET").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	session := &ChatSession{Id: 5}
	require.NoError(t, session.SetModelOverride(context.Background(), "gemini-1.5-pro"))
	require.Equal(t, "gemini-1.5-pro", session.ModelId)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionContextValues(t *testing.T) {
	session := &ChatSession{Id: 1, Context: "{}"}
	require.NoError(t, session.SetContextValue("system_prompt", "answer briefly"))
	require.NoError(t, session.SetContextValue("mood", "calm"))

	ctx, err := session.GetContext()
	require.NoError(t, err)
	require.Equal(t, "answer briefly", ctx["system_prompt"])
	require.Equal(t, "calm", ctx["mood"])
	require.Equal(t, "answer briefly", session.SystemPrompt())
}

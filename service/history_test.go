package service

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orchidlake/llmstudio/common/config"
	llmmodel "github.com/orchidlake/llmstudio/llm/model"
	"github.com/orchidlake/llmstudio/model"
)

func setWindowConfig(t *testing.T, messages, tokens int) {
	t.Helper()
	prevMessages := config.HistoryWindowMessages
	prevTokens := config.HistoryWindowTokens
	config.HistoryWindowMessages = messages
	config.HistoryWindowTokens = tokens
	t.Cleanup(func() {
		config.HistoryWindowMessages = prevMessages
		config.HistoryWindowTokens = prevTokens
	})
}

func storedRows(n int) []model.StoredMessage {
	rows := make([]model.StoredMessage, n)
	for i := range rows {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		rows[i] = model.StoredMessage{Role: role, Text: fmt.Sprintf("m%d", i)}
	}
	return rows
}

func TestWindowHistoryKeepsTrailingMessages(t *testing.T) {
	setWindowConfig(t, 4, 0)

	got := windowHistory(storedRows(10))
	require.Len(t, got, 4)
	require.Equal(t, "m6", got[0].Text)
	require.Equal(t, "m9", got[3].Text)
}

func TestWindowHistoryZeroDisablesCap(t *testing.T) {
	setWindowConfig(t, 0, 0)

	got := windowHistory(storedRows(30))
	require.Len(t, got, 30)
}

func TestWindowByTokensDropsOldestFirst(t *testing.T) {
	weigh := func(m *model.StoredMessage) int { return len(m.Text) }
	rows := []model.StoredMessage{
		{Text: "aaaa"},
		{Text: "bb"},
		{Text: "cccc"},
	}

	got := windowByTokens(rows, 7, weigh)
	require.Len(t, got, 2)
	require.Equal(t, "bb", got[0].Text)
}

func TestWindowByTokensKeepsLatestOverBudget(t *testing.T) {
	weigh := func(m *model.StoredMessage) int { return len(m.Text) }
	rows := []model.StoredMessage{
		{Text: "aaaa"},
		{Text: "bb"},
		{Text: "cccc"},
	}

	got := windowByTokens(rows, 3, weigh)
	require.Len(t, got, 1)
	require.Equal(t, "cccc", got[0].Text)
}

func TestHistoryMessagesMapsRoles(t *testing.T) {
	stored := []model.StoredMessage{
		{Role: "user", Text: "hi"},
		{Role: "assistant", Text: "hello"},
		{Role: "tool", Text: "ignored"},
		{Role: "system", Text: "ignored"},
	}

	got := historyMessages(stored, false)
	require.Len(t, got, 2)
	require.Equal(t, llmmodel.RoleUser, got[0].Role)
	require.Equal(t, "hi", got[0].TextContent())
	require.Equal(t, llmmodel.RoleAssistant, got[1].Role)
	require.Equal(t, "hello", got[1].TextContent())
}

func TestHistoryMessagesInlinesDataURLAttachments(t *testing.T) {
	stored := []model.StoredMessage{
		{Role: "user", Text: "look at this", Files: []string{"data:image/jpeg;base64,QUJD"}},
	}

	got := historyMessages(stored, true)
	require.Len(t, got, 1)
	require.Len(t, got[0].Parts, 2)
	img := got[0].Parts[1].Image
	require.NotNil(t, img)
	require.Equal(t, "image/jpeg", img.MIME)
	require.Equal(t, "QUJD", img.Data)
}

func TestHistoryMessagesDropsFilesForTextOnlyModels(t *testing.T) {
	stored := []model.StoredMessage{
		{Role: "user", Text: "caption this", Files: []string{"data:image/png;base64,QUJD"}},
		{Role: "user", Files: []string{"data:image/png;base64,QUJD"}},
	}

	got := historyMessages(stored, false)
	// The file-only row has nothing left to send and is skipped entirely.
	require.Len(t, got, 1)
	require.Len(t, got[0].Parts, 1)
	require.Equal(t, "caption this", got[0].TextContent())
}

func TestHistoryMessagesDropsUnreadableAttachment(t *testing.T) {
	stored := []model.StoredMessage{
		{Role: "user", Text: "old upload", Files: []string{"data:text/plain;base64,bm90IGFuIGltYWdl"}},
	}

	got := historyMessages(stored, true)
	require.Len(t, got, 1)
	require.Len(t, got[0].Parts, 1)
	require.Equal(t, "old upload", got[0].TextContent())
}

func TestInlineImageRefFetchesRemoteURL(t *testing.T) {
	payload := []byte("png-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	ref, err := inlineImageRef(srv.URL)
	require.NoError(t, err)
	require.Equal(t, "image/png", ref.MIME)
	require.Equal(t, base64.StdEncoding.EncodeToString(payload), ref.Data)
}

func TestInlineImageRefRejectsFailingURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, err := inlineImageRef(srv.URL)
	require.Error(t, err)
}

func TestInlineMessageImagesConvertsURLOnlyParts(t *testing.T) {
	msg := llmmodel.Message{
		Role: llmmodel.RoleUser,
		Parts: []llmmodel.Part{
			{Text: "see attachment"},
			{Image: &llmmodel.ImageRef{URL: "data:image/webp;base64,ZGF0YQ=="}},
			{Image: &llmmodel.ImageRef{MIME: "image/png", Data: "QUJD"}},
		},
	}

	require.NoError(t, inlineMessageImages(&msg))
	require.Equal(t, "image/webp", msg.Parts[1].Image.MIME)
	require.Equal(t, "ZGF0YQ==", msg.Parts[1].Image.Data)
	// Already-inlined parts stay untouched.
	require.Equal(t, "QUJD", msg.Parts[2].Image.Data)
}

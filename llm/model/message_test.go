package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageValidate(t *testing.T) {
	t.Run("user message with text", func(t *testing.T) {
		msg := NewUserText("hello")
		require.NoError(t, msg.Validate())
	})

	t.Run("user message without content", func(t *testing.T) {
		msg := Message{Role: RoleUser}
		require.Error(t, msg.Validate())
	})

	t.Run("assistant placeholder is allowed", func(t *testing.T) {
		// streaming fills assistant content in after the turn completes
		msg := Message{Role: RoleAssistant}
		require.NoError(t, msg.Validate())
	})

	t.Run("tool turn requires results", func(t *testing.T) {
		msg := Message{Role: RoleTool}
		require.Error(t, msg.Validate())

		msg.ToolResults = []ToolResult{{CallId: "call_1", Payload: "ok"}}
		require.NoError(t, msg.Validate())
	})

	t.Run("unknown role", func(t *testing.T) {
		msg := Message{Role: Role("system"), Parts: []Part{{Text: "x"}}}
		require.Error(t, msg.Validate())
	})

	t.Run("user message with image only", func(t *testing.T) {
		msg := Message{
			Role:  RoleUser,
			Parts: []Part{{Image: &ImageRef{MIME: "image/png", Data: "aGk="}}},
		}
		require.NoError(t, msg.Validate())
	})
}

func TestTextContent(t *testing.T) {
	msg := Message{
		Role: RoleAssistant,
		Parts: []Part{
			{Text: "first"},
			{Image: &ImageRef{URL: "https://example.com/a.png"}},
			{Text: "second"},
		},
	}
	require.Equal(t, "first\nsecond", msg.TextContent())
	require.True(t, msg.HasImages())

	empty := Message{Role: RoleAssistant}
	require.Equal(t, "", empty.TextContent())
	require.False(t, empty.HasImages())
}

func TestContextPrefix(t *testing.T) {
	msg := NewUserText("translate this")
	msg.Context = map[string]string{
		"target_language": "French",
		"formality":       "formal",
	}

	// keys render sorted so the rendered prompt is stable across calls
	require.Equal(t, "formality: formal\ntarget_language: French\n", msg.ContextPrefix())

	plain := NewUserText("plain")
	require.Equal(t, "", plain.ContextPrefix())
}

func TestIsToolTurn(t *testing.T) {
	msg := Message{Role: RoleTool, ToolResults: []ToolResult{{CallId: "c1", Payload: 42}}}
	require.True(t, msg.IsToolTurn())

	user := NewUserText("hi")
	require.False(t, user.IsToolTurn())
}

package openai

import (
	"context"
	"testing"

	"github.com/Laisky/errors/v2"
	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/orchidlake/llmstudio/llm/adaptor"
	"github.com/orchidlake/llmstudio/llm/model"
	"github.com/orchidlake/llmstudio/llm/tool"
)

func TestConvertMessages(t *testing.T) {
	messages := []model.Message{
		{
			Role:    model.RoleUser,
			Parts:   []model.Part{{Text: "what's the weather in Oslo?"}},
			Context: map[string]string{"timestamp": "2024-06-01T10:00:00Z"},
		},
		{
			Role:      model.RoleAssistant,
			ToolCalls: []model.ToolCall{{Id: "call_1", Name: "get_weather", Input: map[string]any{"location": "Oslo"}}},
		},
		{
			Role:        model.RoleTool,
			ToolResults: []model.ToolResult{{CallId: "call_1", Payload: map[string]any{"temperature": "3.5°C"}}},
		},
	}

	out, err := convertMessages("be brief", messages)
	require.NoError(t, err)
	require.Len(t, out, 4)

	require.Equal(t, goopenai.ChatMessageRoleSystem, out[0].Role)
	require.Equal(t, "be brief", out[0].Content)

	require.Equal(t, goopenai.ChatMessageRoleUser, out[1].Role)
	require.Equal(t, "timestamp: 2024-06-01T10:00:00Z\nwhat's the weather in Oslo?", out[1].Content)

	require.Equal(t, goopenai.ChatMessageRoleAssistant, out[2].Role)
	require.Len(t, out[2].ToolCalls, 1)
	require.Equal(t, "call_1", out[2].ToolCalls[0].ID)
	require.Equal(t, goopenai.ToolTypeFunction, out[2].ToolCalls[0].Type)
	require.JSONEq(t, `{"location":"Oslo"}`, out[2].ToolCalls[0].Function.Arguments)

	require.Equal(t, goopenai.ChatMessageRoleTool, out[3].Role)
	require.Equal(t, "call_1", out[3].ToolCallID)
	require.JSONEq(t, `{"temperature":"3.5°C"}`, out[3].Content)
}

func TestConvertMessagesSkipsEmptyAssistant(t *testing.T) {
	out, err := convertMessages("", []model.Message{
		{Role: model.RoleUser, Parts: []model.Part{{Text: "hi"}}},
		{Role: model.RoleAssistant},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestConvertMessagesRejectsUnknownRole(t *testing.T) {
	_, err := convertMessages("", []model.Message{{Role: "system"}})
	require.Error(t, err)
	perr, ok := model.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, model.ErrInvalidRequest, perr.Code)
}

func TestUserMessageMultimodal(t *testing.T) {
	msg := model.Message{
		Role: model.RoleUser,
		Parts: []model.Part{
			{Text: "what is in this picture?"},
			{Image: &model.ImageRef{MIME: "image/jpeg", Data: "aGVsbG8="}},
		},
		Context: map[string]string{"user": "alice"},
	}

	out, err := userMessage(&msg)
	require.NoError(t, err)
	require.Empty(t, out.Content)
	require.Len(t, out.MultiContent, 2)

	require.Equal(t, goopenai.ChatMessagePartTypeText, out.MultiContent[0].Type)
	require.Equal(t, "user: alice\nwhat is in this picture?", out.MultiContent[0].Text)

	require.Equal(t, goopenai.ChatMessagePartTypeImageURL, out.MultiContent[1].Type)
	require.Equal(t, "data:image/jpeg;base64,aGVsbG8=", out.MultiContent[1].ImageURL.URL)
}

func TestImageURL(t *testing.T) {
	url, err := imageURL(&model.ImageRef{URL: "https://example.com/cat.png"})
	require.NoError(t, err)
	require.Equal(t, "https://example.com/cat.png", url)

	url, err = imageURL(&model.ImageRef{Data: "aGVsbG8="})
	require.NoError(t, err)
	require.Equal(t, "data:image/png;base64,aGVsbG8=", url)

	_, err = imageURL(&model.ImageRef{})
	require.Error(t, err)
}

func TestToolDefinitions(t *testing.T) {
	require.Nil(t, toolDefinitions(nil))

	defs := toolDefinitions([]*tool.Spec{
		tool.NewSpec("get_weather", "current weather", map[string]any{"type": "object"}, nil),
	})
	require.Len(t, defs, 1)
	require.Equal(t, goopenai.ToolTypeFunction, defs[0].Type)
	require.Equal(t, "get_weather", defs[0].Function.Name)
	require.Equal(t, "current weather", defs[0].Function.Description)
}

func TestNeutralToolCall(t *testing.T) {
	call := neutralToolCall(goopenai.ToolCall{
		ID:       "call_9",
		Function: goopenai.FunctionCall{Name: "get_weather", Arguments: `{"location":"Oslo"}`},
	}, 0)
	require.Equal(t, "call_9", call.Id)
	require.Equal(t, "get_weather", call.Name)
	require.Equal(t, "Oslo", call.Input["location"])

	t.Run("missing id is synthesized", func(t *testing.T) {
		call := neutralToolCall(goopenai.ToolCall{
			Function: goopenai.FunctionCall{Name: "web_search"},
		}, 3)
		require.Equal(t, "web_search-3", call.Id)
	})

	t.Run("malformed arguments become empty input", func(t *testing.T) {
		call := neutralToolCall(goopenai.ToolCall{
			ID:       "call_x",
			Function: goopenai.FunctionCall{Name: "get_weather", Arguments: `{"location":`},
		}, 0)
		require.NotNil(t, call.Input)
		require.Empty(t, call.Input)
	})
}

func TestPendingCallAssembly(t *testing.T) {
	p := &pendingCall{}
	p.id = "call_7"
	p.name = "get_weather"
	p.args.WriteString(`{"loca`)
	p.args.WriteString(`tion":"Oslo"}`)

	call := p.finalize(0)
	require.Equal(t, "call_7", call.Id)
	require.Equal(t, "get_weather", call.Name)
	require.Equal(t, "Oslo", call.Input["location"])
}

func TestBuildRequest(t *testing.T) {
	temp := 0.2
	topP := 0.9
	a := &Adaptor{
		modelID: "gpt-4o-mini",
		params: &model.InferenceParams{
			MaxTokens:     512,
			Temperature:   &temp,
			TopP:          &topP,
			StopSequences: []string{"END"},
		},
		tools: []*tool.Spec{tool.NewSpec("get_weather", "current weather", map[string]any{"type": "object"}, nil)},
	}

	req := adaptor.ConverseRequest{
		System:   "be brief",
		Messages: []model.Message{model.NewUserText("hi")},
	}
	wireReq, err := a.buildRequest(&req)
	require.NoError(t, err)

	require.Equal(t, "gpt-4o-mini", wireReq.Model)
	require.Equal(t, 512, wireReq.MaxTokens)
	require.InDelta(t, 0.2, wireReq.Temperature, 1e-6)
	require.InDelta(t, 0.9, wireReq.TopP, 1e-6)
	require.Equal(t, []string{"END"}, wireReq.Stop)
	require.Len(t, wireReq.Tools, 1)
	require.Len(t, wireReq.Messages, 2)
}

func TestConvertFinishReason(t *testing.T) {
	cases := []struct {
		in   goopenai.FinishReason
		want model.StopReason
	}{
		{goopenai.FinishReasonStop, model.StopEndTurn},
		{goopenai.FinishReasonLength, model.StopLength},
		{goopenai.FinishReasonToolCalls, model.StopToolUse},
		{goopenai.FinishReasonFunctionCall, model.StopToolUse},
		{goopenai.FinishReasonContentFilter, model.StopContentFilter},
		{goopenai.FinishReasonNull, model.StopEndTurn},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, convertFinishReason(tc.in), "finish reason %q", tc.in)
	}
}

func TestClassifyError(t *testing.T) {
	t.Run("api error status maps onto taxonomy", func(t *testing.T) {
		err := classifyError(&goopenai.APIError{HTTPStatusCode: 429, Message: "rate limit"}, "chat completion")
		perr, ok := model.AsProviderError(err)
		require.True(t, ok)
		require.Equal(t, model.ErrRateLimited, perr.Code)
		require.True(t, perr.Retryable())
	})

	t.Run("request error status maps onto taxonomy", func(t *testing.T) {
		err := classifyError(&goopenai.RequestError{HTTPStatusCode: 401, Err: errors.New("unauthorized")}, "chat completion")
		perr, ok := model.AsProviderError(err)
		require.True(t, ok)
		require.Equal(t, model.ErrAuthFailed, perr.Code)
	})

	t.Run("deadline becomes timeout", func(t *testing.T) {
		err := classifyError(errors.Wrap(context.DeadlineExceeded, "do request"), "chat completion stream")
		perr, ok := model.AsProviderError(err)
		require.True(t, ok)
		require.Equal(t, model.ErrTimeout, perr.Code)
	})

	t.Run("anything else is unknown", func(t *testing.T) {
		err := classifyError(errors.New("connection reset"), "chat completion")
		perr, ok := model.AsProviderError(err)
		require.True(t, ok)
		require.Equal(t, model.ErrUnknown, perr.Code)
	})

	t.Run("already classified errors pass through", func(t *testing.T) {
		orig := model.NewProviderError(model.ErrInvalidRequest, "bad request", "")
		err := classifyError(errors.Wrap(orig, "build request"), "chat completion")
		perr, ok := model.AsProviderError(err)
		require.True(t, ok)
		require.Same(t, orig, perr)
	})
}

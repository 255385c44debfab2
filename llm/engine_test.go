package llm

import (
	"context"
	"testing"

	"github.com/Laisky/errors/v2"
	"github.com/stretchr/testify/require"

	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/llm/adaptor"
	"github.com/orchidlake/llmstudio/llm/model"
	"github.com/orchidlake/llmstudio/llm/tool"
)

// scriptedAdaptor replays a fixed sequence of rounds and records every
// request it receives.
type scriptedAdaptor struct {
	rounds   []scriptedRound
	requests []adaptor.ConverseRequest
}

type scriptedRound struct {
	events []model.StreamEvent
	result *adaptor.ConverseResult
	err    error
}

func (s *scriptedAdaptor) next(req *adaptor.ConverseRequest) scriptedRound {
	s.requests = append(s.requests, adaptor.ConverseRequest{
		System:   req.System,
		Messages: append([]model.Message(nil), req.Messages...),
	})
	if len(s.rounds) == 0 {
		return scriptedRound{err: errors.New("scripted adaptor exhausted")}
	}
	round := s.rounds[0]
	s.rounds = s.rounds[1:]
	return round
}

func (s *scriptedAdaptor) Converse(_ context.Context, req *adaptor.ConverseRequest) (*adaptor.ConverseResult, error) {
	round := s.next(req)
	return round.result, round.err
}

func (s *scriptedAdaptor) ConverseStream(ctx context.Context, req *adaptor.ConverseRequest, events chan<- model.StreamEvent) (*adaptor.ConverseResult, error) {
	round := s.next(req)
	for _, event := range round.events {
		if err := adaptor.EmitEvent(ctx, events, event); err != nil {
			return nil, err
		}
	}
	return round.result, round.err
}

// loopingAdaptor requests the same tool forever.
type loopingAdaptor struct {
	calls int
}

func (l *loopingAdaptor) result() *adaptor.ConverseResult {
	return &adaptor.ConverseResult{
		Message: model.Message{
			Role:      model.RoleAssistant,
			Parts:     []model.Part{{Text: "still working on it"}},
			ToolCalls: []model.ToolCall{{Id: "c", Name: "echo", Input: map[string]any{}}},
		},
		StopReason: model.StopToolUse,
		Usage:      &model.Usage{PromptTokens: 1, CompletionTokens: 1, TotalTokens: 2},
	}
}

func (l *loopingAdaptor) Converse(context.Context, *adaptor.ConverseRequest) (*adaptor.ConverseResult, error) {
	l.calls++
	return l.result(), nil
}

func (l *loopingAdaptor) ConverseStream(context.Context, *adaptor.ConverseRequest, chan<- model.StreamEvent) (*adaptor.ConverseResult, error) {
	l.calls++
	return l.result(), nil
}

func testRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	return tool.NewRegistry(map[string]tool.Builder{
		"echo": func() (*tool.Spec, error) {
			return tool.NewSpec("echo", "echoes input", map[string]any{"type": "object"},
				func(_ context.Context, input map[string]any) (map[string]any, error) {
					return map[string]any{"echo": input["value"]}, nil
				}), nil
		},
		"broken": func() (*tool.Spec, error) {
			return tool.NewSpec("broken", "always fails", map[string]any{"type": "object"},
				func(context.Context, map[string]any) (map[string]any, error) {
					return nil, errors.New("upstream unreachable")
				}), nil
		},
	})
}

func TestGenerateSingleRound(t *testing.T) {
	fake := &scriptedAdaptor{rounds: []scriptedRound{{
		result: &adaptor.ConverseResult{
			Message:    model.NewAssistantText("hello there"),
			StopReason: model.StopEndTurn,
			Usage:      &model.Usage{PromptTokens: 5, CompletionTokens: 3, TotalTokens: 8},
		},
	}}}
	engine := NewEngineWithRegistry(fake, testRegistry(t))

	req := adaptor.ConverseRequest{Messages: []model.Message{model.NewUserText("hi")}}
	resp, err := engine.Generate(context.Background(), &req)
	require.NoError(t, err)
	require.Equal(t, "hello there", resp.Message.TextContent())
	require.Equal(t, model.StopEndTurn, resp.StopReason)
	require.Equal(t, 1, resp.Rounds)
	require.Equal(t, 8, resp.Usage.TotalTokens)
	require.Len(t, fake.requests, 1)
}

func TestGenerateToolLoopPairsResults(t *testing.T) {
	fake := &scriptedAdaptor{rounds: []scriptedRound{
		{
			result: &adaptor.ConverseResult{
				Message: model.Message{
					Role: model.RoleAssistant,
					ToolCalls: []model.ToolCall{
						{Id: "call-1", Name: "echo", Input: map[string]any{"value": "ping"}},
						{Id: "call-2", Name: "broken", Input: map[string]any{}},
					},
				},
				StopReason: model.StopToolUse,
				Usage:      &model.Usage{TotalTokens: 10},
			},
		},
		{
			result: &adaptor.ConverseResult{
				Message:    model.NewAssistantText("echo says ping, the other tool failed"),
				StopReason: model.StopEndTurn,
				Usage:      &model.Usage{TotalTokens: 7},
			},
		},
	}}
	engine := NewEngineWithRegistry(fake, testRegistry(t))

	req := adaptor.ConverseRequest{Messages: []model.Message{model.NewUserText("run the tools")}}
	resp, err := engine.Generate(context.Background(), &req)
	require.NoError(t, err)
	require.Equal(t, 2, resp.Rounds)
	require.Equal(t, 17, resp.Usage.TotalTokens)
	require.Equal(t, "echo says ping, the other tool failed", resp.Message.TextContent())

	// the second request carries the assistant turn plus a tool turn
	// answering both calls, in call order
	require.Len(t, fake.requests, 2)
	second := fake.requests[1].Messages
	require.Len(t, second, 3)
	require.Equal(t, model.RoleAssistant, second[1].Role)
	require.True(t, second[2].IsToolTurn())

	results := second[2].ToolResults
	require.Len(t, results, 2)
	require.Equal(t, "call-1", results[0].CallId)
	require.False(t, results[0].IsError)
	payload, ok := results[0].Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "ping", payload["echo"])

	require.Equal(t, "call-2", results[1].CallId)
	require.True(t, results[1].IsError)
	failure, ok := results[1].Payload.(map[string]any)
	require.True(t, ok)
	require.Contains(t, failure["error"], "upstream unreachable")
}

func TestGenerateRoundCap(t *testing.T) {
	restore := config.MaxToolRounds
	config.MaxToolRounds = 3
	defer func() { config.MaxToolRounds = restore }()

	fake := &loopingAdaptor{}
	engine := NewEngineWithRegistry(fake, testRegistry(t))

	req := adaptor.ConverseRequest{Messages: []model.Message{model.NewUserText("loop forever")}}
	resp, err := engine.Generate(context.Background(), &req)
	require.NoError(t, err)
	require.Equal(t, 3, fake.calls)
	require.Equal(t, 3, resp.Rounds)
	// the cap returns the last text obtained instead of erroring
	require.Equal(t, "still working on it", resp.Message.TextContent())
	require.Equal(t, model.StopToolUse, resp.StopReason)
	require.Equal(t, 6, resp.Usage.TotalTokens)
}

func TestGenerateStreamOrdering(t *testing.T) {
	fake := &scriptedAdaptor{rounds: []scriptedRound{
		{
			events: []model.StreamEvent{
				model.NewTextEvent("let me "),
				model.NewTextEvent("check"),
				model.NewToolUseEvent(model.ToolCall{Id: "call-1", Name: "echo", Input: map[string]any{"value": "x"}}),
			},
			result: &adaptor.ConverseResult{
				Message: model.Message{
					Role:      model.RoleAssistant,
					Parts:     []model.Part{{Text: "let me check"}},
					ToolCalls: []model.ToolCall{{Id: "call-1", Name: "echo", Input: map[string]any{"value": "x"}}},
				},
				StopReason: model.StopToolUse,
			},
		},
		{
			events: []model.StreamEvent{
				model.NewTextEvent("the answer "),
				model.NewTextEvent("is x"),
			},
			result: &adaptor.ConverseResult{
				Message:    model.NewAssistantText("the answer is x"),
				StopReason: model.StopEndTurn,
				Usage:      &model.Usage{TotalTokens: 4},
			},
		},
	}}
	engine := NewEngineWithRegistry(fake, testRegistry(t))

	events := make(chan model.StreamEvent, 32)
	req := adaptor.ConverseRequest{Messages: []model.Message{model.NewUserText("stream it")}}
	resp, err := engine.GenerateStream(context.Background(), &req, events)
	require.NoError(t, err)
	close(events)

	var collected []model.StreamEvent
	for event := range events {
		collected = append(collected, event)
	}
	require.Len(t, collected, 7)

	// round one: two text deltas, the tool use, then metadata
	require.Equal(t, "let me ", collected[0].Content.Text)
	require.Equal(t, "check", collected[1].Content.Text)
	require.NotNil(t, collected[2].Content.ToolUse)
	require.NotNil(t, collected[3].Metadata)
	require.Equal(t, model.StopToolUse, collected[3].Metadata.StopReason)
	require.NotNil(t, collected[3].Metadata.Metrics)

	// round two follows completely after round one
	require.Equal(t, "the answer ", collected[4].Content.Text)
	require.Equal(t, "is x", collected[5].Content.Text)
	require.NotNil(t, collected[6].Metadata)
	require.Equal(t, model.StopEndTurn, collected[6].Metadata.StopReason)

	// deltas of the final round concatenate to the terminal message
	require.Equal(t, "the answer is x", collected[4].Content.Text+collected[5].Content.Text)
	require.Equal(t, "the answer is x", resp.Message.TextContent())
	require.Equal(t, 2, resp.Rounds)
}

func TestGenerateStreamConsumerGone(t *testing.T) {
	fake := &scriptedAdaptor{rounds: []scriptedRound{{
		events: []model.StreamEvent{model.NewTextEvent("never delivered")},
		result: &adaptor.ConverseResult{Message: model.NewAssistantText("never delivered"), StopReason: model.StopEndTurn},
	}}}
	engine := NewEngineWithRegistry(fake, testRegistry(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	events := make(chan model.StreamEvent) // nobody reads
	req := adaptor.ConverseRequest{Messages: []model.Message{model.NewUserText("hi")}}
	_, err := engine.GenerateStream(ctx, &req, events)
	require.Error(t, err)
	perr, ok := model.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, model.ErrTimeout, perr.Code)
}

func TestGenerateStopToolUseWithoutCallsIsTerminal(t *testing.T) {
	fake := &scriptedAdaptor{rounds: []scriptedRound{{
		result: &adaptor.ConverseResult{
			Message:    model.NewAssistantText("odd vendor behavior"),
			StopReason: model.StopToolUse,
		},
	}}}
	engine := NewEngineWithRegistry(fake, testRegistry(t))

	req := adaptor.ConverseRequest{Messages: []model.Message{model.NewUserText("hi")}}
	resp, err := engine.Generate(context.Background(), &req)
	require.NoError(t, err)
	require.Equal(t, 1, resp.Rounds)
	require.Equal(t, "odd vendor behavior", resp.Message.TextContent())
}

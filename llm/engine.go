package llm

import (
	"context"
	"time"

	"github.com/Laisky/zap"
	"golang.org/x/sync/errgroup"

	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/common/logger"
	"github.com/orchidlake/llmstudio/llm/adaptor"
	"github.com/orchidlake/llmstudio/llm/model"
	"github.com/orchidlake/llmstudio/llm/tool"
)

// Engine drives the bounded send → tool → resend loop over one adapter. It
// owns everything adapters must not: tool execution, round accounting, the
// per-round metadata events, and the round cap. Adapters stay single-round
// and stateless underneath it.
type Engine struct {
	adaptor   adaptor.Adaptor
	registry  *tool.Registry
	maxRounds int
}

// Response is the terminal outcome of one conversation turn, after the
// tool-use loop settles.
type Response struct {
	// Message is the final assistant turn. When the round cap interrupts a
	// loop that still wants tools, this carries the last text obtained.
	Message model.Message
	// Usage accumulates across every round of the turn.
	Usage model.Usage
	// StopReason is the last round's stop reason. StopToolUse here means
	// the round cap cut the loop short.
	StopReason model.StopReason
	// Rounds is the number of vendor calls made.
	Rounds int
}

// NewEngine wires an adapter to the default tool registry.
func NewEngine(a adaptor.Adaptor) *Engine {
	return NewEngineWithRegistry(a, tool.Default())
}

// NewEngineWithRegistry builds an engine on a scoped registry. The round cap
// comes from MAX_TOOL_ROUNDS, floored at one round.
func NewEngineWithRegistry(a adaptor.Adaptor, registry *tool.Registry) *Engine {
	rounds := config.MaxToolRounds
	if rounds < 1 {
		rounds = 1
	}
	if registry == nil {
		registry = tool.Default()
	}
	return &Engine{adaptor: a, registry: registry, maxRounds: rounds}
}

// Generate runs the conversation to a terminal response without streaming.
func (e *Engine) Generate(ctx context.Context, req *adaptor.ConverseRequest) (*Response, error) {
	return e.run(ctx, req, nil)
}

// GenerateStream mirrors Generate while forwarding content deltas to events
// as they arrive. Each round terminates with one metadata event; on tool-use
// rounds the next round's deltas follow it. Events of round k are fully
// delivered before round k+1 begins.
func (e *Engine) GenerateStream(ctx context.Context, req *adaptor.ConverseRequest, events chan<- model.StreamEvent) (*Response, error) {
	return e.run(ctx, req, events)
}

func (e *Engine) run(ctx context.Context, req *adaptor.ConverseRequest, events chan<- model.StreamEvent) (*Response, error) {
	messages := append([]model.Message(nil), req.Messages...)
	resp := &Response{}
	var lastText string

	for round := 1; round <= e.maxRounds; round++ {
		roundReq := &adaptor.ConverseRequest{System: req.System, Messages: messages}

		var result *adaptor.ConverseResult
		var err error
		if events == nil {
			result, err = e.adaptor.Converse(ctx, roundReq)
		} else {
			var metrics *model.Metrics
			result, metrics, err = e.streamRound(ctx, roundReq, events)
			if err == nil {
				err = adaptor.EmitEvent(ctx, events, model.NewMetadataEvent(result.Usage, result.StopReason, metrics))
			}
		}
		if err != nil {
			return nil, err
		}

		resp.Rounds = round
		resp.StopReason = result.StopReason
		if result.Usage != nil {
			resp.Usage.Add(*result.Usage)
		}
		if text := result.Message.TextContent(); text != "" {
			lastText = text
		}

		if result.StopReason != model.StopToolUse || len(result.Message.ToolCalls) == 0 {
			resp.Message = result.Message
			return resp, nil
		}

		logger.Logger.Debug("running tool round",
			zap.Int("round", round),
			zap.Int("calls", len(result.Message.ToolCalls)))
		messages = append(messages, result.Message, e.runTools(ctx, result.Message.ToolCalls))
	}

	// The model still wanted tools when the cap hit. Settle for the best
	// text obtained instead of erroring out.
	logger.Logger.Warn("tool-use loop hit the round cap",
		zap.Int("max_rounds", e.maxRounds))
	resp.Message = model.Message{Role: model.RoleAssistant}
	if lastText != "" {
		resp.Message.Parts = []model.Part{{Text: lastText}}
	}
	return resp, nil
}

// streamRound relays one round's events so the engine can stamp latency
// metrics without the adapter's involvement. Relay is sequential, so every
// content event reaches the caller before the round's metadata event.
func (e *Engine) streamRound(ctx context.Context, req *adaptor.ConverseRequest, events chan<- model.StreamEvent) (*adaptor.ConverseResult, *model.Metrics, error) {
	start := time.Now()
	metrics := &model.Metrics{}

	relay := make(chan model.StreamEvent)
	forwardDone := make(chan error, 1)
	go func() {
		var forwardErr error
		for event := range relay {
			if forwardErr != nil {
				continue // keep draining so the adapter never blocks
			}
			if metrics.FirstByteMs == 0 {
				metrics.FirstByteMs = time.Since(start).Milliseconds()
			}
			forwardErr = adaptor.EmitEvent(ctx, events, event)
		}
		forwardDone <- forwardErr
	}()

	result, err := e.adaptor.ConverseStream(ctx, req, relay)
	close(relay)
	forwardErr := <-forwardDone
	metrics.TotalMs = time.Since(start).Milliseconds()

	if err != nil {
		return nil, nil, err
	}
	if forwardErr != nil {
		return nil, nil, forwardErr
	}
	return result, metrics, nil
}

// runTools executes every call of one round and builds the answering tool
// turn. Calls run concurrently; results keep call order so each ToolCall id
// pairs with exactly one ToolResult. Execution never fails the round, the
// registry folds handler failures into error payloads.
func (e *Engine) runTools(ctx context.Context, calls []model.ToolCall) model.Message {
	results := make([]model.ToolResult, len(calls))
	var g errgroup.Group
	for i, call := range calls {
		i, call := i, call
		g.Go(func() error {
			payload := e.registry.Execute(ctx, call.Name, call.Input)
			_, failed := payload["error"]
			results[i] = model.ToolResult{
				CallId:  call.Id,
				IsError: failed,
				Payload: payload,
			}
			return nil
		})
	}
	_ = g.Wait()
	return model.Message{Role: model.RoleTool, ToolResults: results}
}

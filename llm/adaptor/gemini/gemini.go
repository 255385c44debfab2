// Package gemini adapts Google Gemini (AI Studio) to the neutral
// conversation model. The SDK is chat-session oriented, so each call
// rebuilds the session from scratch: all but the final turn become history,
// the final turn is sent as the new message.
package gemini

import (
	"context"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/llm/adaptor"
	"github.com/orchidlake/llmstudio/llm/model"
	"github.com/orchidlake/llmstudio/llm/tool"
)

// Vendor is the catalog name routing models to this adapter.
const Vendor = "GEMINI"

var (
	clientOnce   sync.Once
	sharedClient *genai.Client
	clientErr    error
)

// Client returns the process-wide Gemini client, created on first use from
// GEMINI_API_KEY.
func Client(ctx context.Context) (*genai.Client, error) {
	clientOnce.Do(func() {
		if config.GeminiAPIKey == "" {
			clientErr = model.NewProviderError(model.ErrAuthFailed,
				"gemini api key is not configured", "set GEMINI_API_KEY")
			return
		}
		sharedClient, clientErr = genai.NewClient(ctx, option.WithAPIKey(config.GeminiAPIKey))
	})
	return sharedClient, clientErr
}

var _ adaptor.Adaptor = (*Adaptor)(nil)

// Adaptor speaks the Gemini GenerateContent API for one model id.
type Adaptor struct {
	modelID string
	params  *model.InferenceParams
	tools   []*tool.Spec
	client  *genai.Client
}

// New builds a Gemini adapter for the configured model.
func New(cfg adaptor.Config) (*Adaptor, error) {
	if err := adaptor.ValidateConfig(cfg, Vendor); err != nil {
		return nil, err
	}
	client, err := Client(context.Background())
	if err != nil {
		if perr, ok := model.AsProviderError(err); ok {
			return nil, perr
		}
		return nil, model.WrapProviderError(err, model.ErrAuthFailed, "cannot reach gemini")
	}
	return &Adaptor{
		modelID: cfg.ModelID,
		params:  cfg.Params,
		tools:   cfg.Tools,
		client:  client,
	}, nil
}

// buildModel configures a generative model handle with the adapter's
// parameters, the round's system prompt and the tool declarations.
func (a *Adaptor) buildModel(system string) *genai.GenerativeModel {
	gm := a.client.GenerativeModel(a.modelID)

	maxTokens := int32(config.DefaultMaxToken)
	if a.params != nil {
		if a.params.MaxTokens > 0 {
			maxTokens = int32(a.params.MaxTokens)
		}
		if a.params.Temperature != nil {
			gm.SetTemperature(float32(*a.params.Temperature))
		}
		if a.params.TopP != nil {
			gm.SetTopP(float32(*a.params.TopP))
		}
		if a.params.TopK != nil {
			gm.SetTopK(int32(*a.params.TopK))
		}
		if len(a.params.StopSequences) > 0 {
			gm.StopSequences = a.params.StopSequences
		}
	}
	gm.SetMaxOutputTokens(maxTokens)

	if system != "" {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	if len(a.tools) > 0 {
		gm.Tools = []*genai.Tool{{FunctionDeclarations: functionDeclarations(a.tools)}}
	}
	return gm
}

// prepareChat splits the conversation into session history plus the parts of
// the final turn, which the SDK takes as the new message.
func (a *Adaptor) prepareChat(req *adaptor.ConverseRequest) (*genai.ChatSession, []genai.Part, error) {
	if len(req.Messages) == 0 {
		return nil, nil, model.NewProviderError(model.ErrInvalidRequest,
			"conversation is empty", "at least one message is required")
	}

	names := toolNamesByCallId(req.Messages)

	history, err := convertHistory(req.Messages[:len(req.Messages)-1], names)
	if err != nil {
		return nil, nil, err
	}

	last := req.Messages[len(req.Messages)-1]
	parts, err := messageParts(&last, names)
	if err != nil {
		return nil, nil, err
	}
	if len(parts) == 0 {
		return nil, nil, model.NewProviderError(model.ErrInvalidRequest,
			"final message has no sendable content", "")
	}

	cs := a.buildModel(req.System).StartChat()
	cs.History = history
	return cs, parts, nil
}

// Converse runs one blocking round.
func (a *Adaptor) Converse(ctx context.Context, req *adaptor.ConverseRequest) (*adaptor.ConverseResult, error) {
	cs, parts, err := a.prepareChat(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := adaptor.CallContext(ctx)
	defer cancel()

	resp, err := cs.SendMessage(ctx, parts...)
	if err != nil {
		return nil, classifyError(err, "generate")
	}
	return parseResponse(resp), nil
}

// ConverseStream runs one round pushing text deltas and completed tool calls
// onto events as chunks arrive.
func (a *Adaptor) ConverseStream(ctx context.Context, req *adaptor.ConverseRequest, events chan<- model.StreamEvent) (*adaptor.ConverseResult, error) {
	cs, parts, err := a.prepareChat(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := adaptor.CallContext(ctx)
	defer cancel()

	iter := cs.SendMessageStream(ctx, parts...)

	result := &adaptor.ConverseResult{
		Message:    model.Message{Role: model.RoleAssistant},
		StopReason: model.StopEndTurn,
	}
	var text strings.Builder
	finish := genai.FinishReasonUnspecified
	seq := 0

	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, classifyError(err, "stream")
		}

		// chunks carry cumulative usage, the last one wins
		if resp.UsageMetadata != nil {
			result.Usage = convertUsage(resp.UsageMetadata)
		}
		if len(resp.Candidates) == 0 {
			continue
		}
		cand := resp.Candidates[0]
		if cand.FinishReason != genai.FinishReasonUnspecified {
			finish = cand.FinishReason
		}
		if cand.Content == nil {
			continue
		}

		for _, part := range cand.Content.Parts {
			switch p := part.(type) {
			case genai.Text:
				if p == "" {
					continue
				}
				text.WriteString(string(p))
				if err := adaptor.EmitEvent(ctx, events, model.NewTextEvent(string(p))); err != nil {
					return nil, err
				}
			case genai.FunctionCall:
				call := toolCallFromFunction(p, seq)
				seq++
				result.Message.ToolCalls = append(result.Message.ToolCalls, call)
				if err := adaptor.EmitEvent(ctx, events, model.NewToolUseEvent(call)); err != nil {
					return nil, err
				}
			}
		}
	}

	if text.Len() > 0 {
		result.Message.Parts = []model.Part{{Text: text.String()}}
	}
	result.StopReason = convertFinishReason(finish)
	if len(result.Message.ToolCalls) > 0 {
		result.StopReason = model.StopToolUse
	}
	return result, nil
}

// parseResponse flattens the first candidate into a neutral result.
func parseResponse(resp *genai.GenerateContentResponse) *adaptor.ConverseResult {
	result := &adaptor.ConverseResult{
		Message:    model.Message{Role: model.RoleAssistant},
		StopReason: model.StopEndTurn,
		Usage:      convertUsage(resp.UsageMetadata),
	}

	if len(resp.Candidates) == 0 {
		return result
	}
	cand := resp.Candidates[0]
	result.StopReason = convertFinishReason(cand.FinishReason)
	if cand.Content == nil {
		return result
	}

	var text strings.Builder
	seq := 0
	for _, part := range cand.Content.Parts {
		switch p := part.(type) {
		case genai.Text:
			text.WriteString(string(p))
		case genai.FunctionCall:
			result.Message.ToolCalls = append(result.Message.ToolCalls, toolCallFromFunction(p, seq))
			seq++
		}
	}
	if text.Len() > 0 {
		result.Message.Parts = []model.Part{{Text: text.String()}}
	}
	if len(result.Message.ToolCalls) > 0 {
		result.StopReason = model.StopToolUse
	}
	return result
}

// Package openai adapts the OpenAI chat completions API to the neutral
// conversation model. OPENAI_BASE_URL points the same adapter at any
// compatible backend.
package openai

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/Laisky/errors/v2"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/orchidlake/llmstudio/common/client"
	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/llm/adaptor"
	"github.com/orchidlake/llmstudio/llm/model"
	"github.com/orchidlake/llmstudio/llm/tool"
)

// Vendor is the catalog name routing models to this adapter.
const Vendor = "OPENAI"

var (
	clientOnce   sync.Once
	sharedClient *goopenai.Client
	clientErr    error
)

// Client returns the process-wide OpenAI client, created on first use from
// OPENAI_API_KEY and OPENAI_BASE_URL.
func Client() (*goopenai.Client, error) {
	clientOnce.Do(func() {
		if config.OpenAIAPIKey == "" {
			clientErr = model.NewProviderError(model.ErrAuthFailed,
				"openai api key is not configured", "set OPENAI_API_KEY")
			return
		}
		apiCfg := goopenai.DefaultConfig(config.OpenAIAPIKey)
		if config.OpenAIBaseURL != "" {
			apiCfg.BaseURL = config.OpenAIBaseURL
		}
		apiCfg.HTTPClient = client.HTTPClient
		sharedClient = goopenai.NewClientWithConfig(apiCfg)
	})
	return sharedClient, clientErr
}

var _ adaptor.Adaptor = (*Adaptor)(nil)

// Adaptor speaks chat completions for one model id.
type Adaptor struct {
	modelID string
	params  *model.InferenceParams
	tools   []*tool.Spec
	client  *goopenai.Client
}

// New builds an OpenAI adapter for the configured model.
func New(cfg adaptor.Config) (*Adaptor, error) {
	if err := adaptor.ValidateConfig(cfg, Vendor); err != nil {
		return nil, err
	}
	c, err := Client()
	if err != nil {
		return nil, err
	}
	return &Adaptor{
		modelID: cfg.ModelID,
		params:  cfg.Params,
		tools:   cfg.Tools,
		client:  c,
	}, nil
}

// buildRequest assembles one round's wire request.
func (a *Adaptor) buildRequest(req *adaptor.ConverseRequest) (goopenai.ChatCompletionRequest, error) {
	messages, err := convertMessages(req.System, req.Messages)
	if err != nil {
		return goopenai.ChatCompletionRequest{}, err
	}

	out := goopenai.ChatCompletionRequest{
		Model:     a.modelID,
		Messages:  messages,
		MaxTokens: config.DefaultMaxToken,
	}
	if a.params != nil {
		if a.params.MaxTokens > 0 {
			out.MaxTokens = a.params.MaxTokens
		}
		if a.params.Temperature != nil {
			out.Temperature = float32(*a.params.Temperature)
		}
		if a.params.TopP != nil {
			out.TopP = float32(*a.params.TopP)
		}
		// top_k has no chat completions equivalent
		out.Stop = a.params.StopSequences
	}
	out.Tools = toolDefinitions(a.tools)
	return out, nil
}

// Converse runs one blocking round.
func (a *Adaptor) Converse(ctx context.Context, req *adaptor.ConverseRequest) (*adaptor.ConverseResult, error) {
	wireReq, err := a.buildRequest(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := adaptor.CallContext(ctx)
	defer cancel()

	resp, err := a.client.CreateChatCompletion(ctx, wireReq)
	if err != nil {
		return nil, classifyError(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return nil, model.NewProviderError(model.ErrUnknown,
			"openai returned no choices", "model "+a.modelID)
	}

	choice := resp.Choices[0]
	result := &adaptor.ConverseResult{
		Message:    model.Message{Role: model.RoleAssistant},
		StopReason: convertFinishReason(choice.FinishReason),
		Usage: &model.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if choice.Message.Content != "" {
		result.Message.Parts = []model.Part{{Text: choice.Message.Content}}
	}
	for i, call := range choice.Message.ToolCalls {
		result.Message.ToolCalls = append(result.Message.ToolCalls, neutralToolCall(call, i))
	}
	if len(result.Message.ToolCalls) > 0 {
		result.StopReason = model.StopToolUse
	}
	return result, nil
}

// ConverseStream runs one round pushing text deltas as they arrive. Tool
// call arguments stream as fragments keyed by index; completed calls are
// assembled and emitted once the stream closes.
func (a *Adaptor) ConverseStream(ctx context.Context, req *adaptor.ConverseRequest, events chan<- model.StreamEvent) (*adaptor.ConverseResult, error) {
	wireReq, err := a.buildRequest(req)
	if err != nil {
		return nil, err
	}
	wireReq.Stream = true
	wireReq.StreamOptions = &goopenai.StreamOptions{IncludeUsage: true}

	ctx, cancel := adaptor.CallContext(ctx)
	defer cancel()

	stream, err := a.client.CreateChatCompletionStream(ctx, wireReq)
	if err != nil {
		return nil, classifyError(err, "chat completion stream")
	}
	defer stream.Close()

	result := &adaptor.ConverseResult{
		Message:    model.Message{Role: model.RoleAssistant},
		StopReason: model.StopEndTurn,
	}
	var text strings.Builder
	pending := map[int]*pendingCall{}
	var order []int
	finish := goopenai.FinishReasonNull

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, classifyError(err, "chat completion stream")
		}

		// the final usage chunk has no choices
		if resp.Usage != nil {
			result.Usage = &model.Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		if choice.FinishReason != "" && choice.FinishReason != goopenai.FinishReasonNull {
			finish = choice.FinishReason
		}

		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
			if err := adaptor.EmitEvent(ctx, events, model.NewTextEvent(choice.Delta.Content)); err != nil {
				return nil, err
			}
		}
		for _, frag := range choice.Delta.ToolCalls {
			idx := 0
			if frag.Index != nil {
				idx = *frag.Index
			}
			p, ok := pending[idx]
			if !ok {
				p = &pendingCall{}
				pending[idx] = p
				order = append(order, idx)
			}
			if frag.ID != "" {
				p.id = frag.ID
			}
			if frag.Function.Name != "" {
				p.name = frag.Function.Name
			}
			p.args.WriteString(frag.Function.Arguments)
		}
	}

	for _, idx := range order {
		call := pending[idx].finalize(idx)
		result.Message.ToolCalls = append(result.Message.ToolCalls, call)
		if err := adaptor.EmitEvent(ctx, events, model.NewToolUseEvent(call)); err != nil {
			return nil, err
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

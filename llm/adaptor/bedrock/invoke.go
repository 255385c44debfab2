package bedrock

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/llm/adaptor"
	"github.com/orchidlake/llmstudio/llm/model"
	"github.com/orchidlake/llmstudio/llm/tool"
)

// VendorInvoke is the catalog name for Claude models driven through
// InvokeModel with the native Anthropic messages payload.
const VendorInvoke = "BEDROCK_INVOKE"

const anthropicVersion = "bedrock-2023-05-31"

var _ adaptor.Adaptor = new(InvokeAdaptor)

// InvokeAdaptor speaks the Anthropic messages format over Bedrock
// InvokeModel and InvokeModelWithResponseStream.
type InvokeAdaptor struct {
	modelID string
	params  *model.InferenceParams
	tools   []*tool.Spec
	client  *bedrockruntime.Client
}

func NewInvoke(cfg adaptor.Config) (*InvokeAdaptor, error) {
	if err := adaptor.ValidateConfig(cfg, VendorInvoke); err != nil {
		return nil, err
	}
	client, err := Client(context.Background())
	if err != nil {
		return nil, model.WrapProviderError(err, model.ErrAuthFailed, "aws client initialization failed")
	}
	return &InvokeAdaptor{
		modelID: cfg.ModelID,
		params:  cfg.Params,
		tools:   cfg.Tools,
		client:  client,
	}, nil
}

// Anthropic messages wire format.

type claudeContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// tool_use
	Id    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	ToolUseId string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// image
	Source *claudeImageSource `json:"source,omitempty"`
}

type claudeImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type claudeMessage struct {
	Role    string               `json:"role"`
	Content []claudeContentBlock `json:"content"`
}

type claudeTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type claudeRequest struct {
	AnthropicVersion string          `json:"anthropic_version"`
	MaxTokens        int             `json:"max_tokens"`
	System           string          `json:"system,omitempty"`
	Messages         []claudeMessage `json:"messages"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	TopK             *int            `json:"top_k,omitempty"`
	StopSequences    []string        `json:"stop_sequences,omitempty"`
	Tools            []claudeTool    `json:"tools,omitempty"`
}

type claudeUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type claudeResponse struct {
	Content    []claudeContentBlock `json:"content"`
	StopReason string               `json:"stop_reason"`
	Usage      claudeUsage          `json:"usage"`
}

// streamed chunk payloads, one JSON document per event

type claudeStreamChunk struct {
	Type  string `json:"type"`
	Index int    `json:"index"`

	Message *struct {
		Usage claudeUsage `json:"usage"`
	} `json:"message,omitempty"`

	ContentBlock *claudeContentBlock `json:"content_block,omitempty"`

	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`

	Usage *claudeUsage `json:"usage,omitempty"`
}

func (a *InvokeAdaptor) buildBody(req *adaptor.ConverseRequest) ([]byte, error) {
	messages, err := convertClaudeMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	body := claudeRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        config.DefaultMaxToken,
		System:           req.System,
		Messages:         messages,
	}
	if a.params != nil {
		if a.params.MaxTokens > 0 {
			body.MaxTokens = a.params.MaxTokens
		}
		body.Temperature = a.params.Temperature
		body.TopP = a.params.TopP
		body.TopK = a.params.TopK
		body.StopSequences = a.params.StopSequences
	}
	for _, t := range a.tools {
		body.Tools = append(body.Tools, claudeTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, model.WrapProviderError(err, model.ErrInvalidRequest, "request is not serializable")
	}
	return data, nil
}

func convertClaudeMessages(messages []model.Message) ([]claudeMessage, error) {
	out := make([]claudeMessage, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleUser, model.RoleAssistant:
			blocks := make([]claudeContentBlock, 0, len(msg.Parts)+len(msg.ToolCalls))
			prefix := msg.ContextPrefix()
			for _, part := range msg.Parts {
				if part.Text != "" {
					text := part.Text
					if prefix != "" {
						text = prefix + text
						prefix = ""
					}
					blocks = append(blocks, claudeContentBlock{Type: "text", Text: text})
					continue
				}
				if part.Image != nil {
					if part.Image.Data == "" {
						return nil, model.NewProviderError(model.ErrInvalidRequest, "image attachment has no data",
							"claude invoke requires inline image bytes")
					}
					blocks = append(blocks, claudeContentBlock{
						Type: "image",
						Source: &claudeImageSource{
							Type:      "base64",
							MediaType: part.Image.MIME,
							Data:      part.Image.Data,
						},
					})
				}
			}
			if prefix != "" {
				blocks = append([]claudeContentBlock{{Type: "text", Text: prefix}}, blocks...)
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, claudeContentBlock{
					Type:  "tool_use",
					Id:    call.Id,
					Name:  call.Name,
					Input: call.Input,
				})
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, claudeMessage{Role: string(msg.Role), Content: blocks})

		case model.RoleTool:
			blocks := make([]claudeContentBlock, 0, len(msg.ToolResults))
			for _, result := range msg.ToolResults {
				payload, err := json.Marshal(result.Payload)
				if err != nil {
					return nil, model.WrapProviderError(err, model.ErrInvalidRequest, "tool result is not serializable")
				}
				blocks = append(blocks, claudeContentBlock{
					Type:      "tool_result",
					ToolUseId: result.CallId,
					Content:   string(payload),
					IsError:   result.IsError,
				})
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, claudeMessage{Role: "user", Content: blocks})

		default:
			return nil, model.NewProviderError(model.ErrInvalidRequest, "unsupported message role",
				"role "+string(msg.Role)+" cannot be sent to claude")
		}
	}

	return out, nil
}

func (a *InvokeAdaptor) Converse(ctx context.Context, req *adaptor.ConverseRequest) (*adaptor.ConverseResult, error) {
	body, err := a.buildBody(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := adaptor.CallContext(ctx)
	defer cancel()

	output, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(a.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, classifyError(err, "invoke")
	}

	var resp claudeResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, model.WrapProviderError(err, model.ErrUnknown, "claude returned an unreadable response")
	}

	message := model.Message{Role: model.RoleAssistant}
	var text strings.Builder
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			input := block.Input
			if input == nil {
				input = map[string]any{}
			}
			message.ToolCalls = append(message.ToolCalls, model.ToolCall{
				Id:    block.Id,
				Name:  block.Name,
				Input: input,
			})
		}
	}
	if text.Len() > 0 {
		message.Parts = append(message.Parts, model.Part{Text: text.String()})
	}

	return &adaptor.ConverseResult{
		Message: message,
		Usage: &model.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		StopReason: convertStopReason(resp.StopReason),
	}, nil
}

func (a *InvokeAdaptor) ConverseStream(ctx context.Context, req *adaptor.ConverseRequest, events chan<- model.StreamEvent) (*adaptor.ConverseResult, error) {
	body, err := a.buildBody(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := adaptor.CallContext(ctx)
	defer cancel()

	output, err := a.client.InvokeModelWithResponseStream(ctx, &bedrockruntime.InvokeModelWithResponseStreamInput{
		ModelId:     aws.String(a.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, classifyError(err, "invoke stream")
	}
	stream := output.GetStream()
	defer stream.Close()

	type pendingTool struct {
		id   string
		name string
		args strings.Builder
	}
	pending := make(map[int]*pendingTool)

	result := &adaptor.ConverseResult{
		Message:    model.Message{Role: model.RoleAssistant},
		StopReason: model.StopEndTurn,
	}
	usage := &model.Usage{}
	var text strings.Builder

	for event := range stream.Events() {
		chunkEvent, ok := event.(*types.ResponseStreamMemberChunk)
		if !ok {
			continue
		}

		var chunk claudeStreamChunk
		if err := json.Unmarshal(chunkEvent.Value.Bytes, &chunk); err != nil {
			return nil, model.WrapProviderError(err, model.ErrUnknown, "claude streamed an unreadable chunk")
		}

		switch chunk.Type {
		case "message_start":
			if chunk.Message != nil {
				usage.PromptTokens = chunk.Message.Usage.InputTokens
			}

		case "content_block_start":
			if chunk.ContentBlock != nil && chunk.ContentBlock.Type == "tool_use" {
				pending[chunk.Index] = &pendingTool{
					id:   chunk.ContentBlock.Id,
					name: chunk.ContentBlock.Name,
				}
			}

		case "content_block_delta":
			if chunk.Delta == nil {
				continue
			}
			switch chunk.Delta.Type {
			case "text_delta":
				if chunk.Delta.Text == "" {
					continue
				}
				text.WriteString(chunk.Delta.Text)
				if err := adaptor.EmitEvent(ctx, events, model.NewTextEvent(chunk.Delta.Text)); err != nil {
					return nil, err
				}
			case "input_json_delta":
				if p, ok := pending[chunk.Index]; ok {
					p.args.WriteString(chunk.Delta.PartialJSON)
				}
			}

		case "content_block_stop":
			p, ok := pending[chunk.Index]
			if !ok {
				continue
			}
			delete(pending, chunk.Index)

			call := model.ToolCall{Id: p.id, Name: p.name, Input: map[string]any{}}
			if raw := p.args.String(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &call.Input); err != nil {
					return nil, model.WrapProviderError(err, model.ErrUnknown, "claude streamed malformed tool arguments")
				}
			}
			result.Message.ToolCalls = append(result.Message.ToolCalls, call)
			if err := adaptor.EmitEvent(ctx, events, model.NewToolUseEvent(call)); err != nil {
				return nil, err
			}

		case "message_delta":
			if chunk.Delta != nil && chunk.Delta.StopReason != "" {
				result.StopReason = convertStopReason(chunk.Delta.StopReason)
			}
			if chunk.Usage != nil {
				usage.CompletionTokens = chunk.Usage.OutputTokens
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classifyError(err, "invoke stream")
	}

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	result.Usage = usage
	if text.Len() > 0 {
		result.Message.Parts = append(result.Message.Parts, model.Part{Text: text.String()})
	}
	return result, nil
}

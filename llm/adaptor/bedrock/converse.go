package bedrock

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/orchidlake/llmstudio/llm/adaptor"
	"github.com/orchidlake/llmstudio/llm/model"
	"github.com/orchidlake/llmstudio/llm/tool"
)

// Vendor is the catalog name for models served through the Converse API.
const Vendor = "BEDROCK"

var _ adaptor.Adaptor = new(Adaptor)

// Adaptor runs single rounds against the Bedrock Converse API.
type Adaptor struct {
	modelID string
	params  *model.InferenceParams
	tools   []*tool.Spec
	client  *bedrockruntime.Client
}

// New validates the construction contract and binds the shared client.
func New(cfg adaptor.Config) (*Adaptor, error) {
	if err := adaptor.ValidateConfig(cfg, Vendor); err != nil {
		return nil, err
	}
	client, err := Client(context.Background())
	if err != nil {
		return nil, model.WrapProviderError(err, model.ErrAuthFailed, "aws client initialization failed")
	}
	return &Adaptor{
		modelID: cfg.ModelID,
		params:  cfg.Params,
		tools:   cfg.Tools,
		client:  client,
	}, nil
}

func (a *Adaptor) buildInput(req *adaptor.ConverseRequest) (*bedrockruntime.ConverseInput, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(a.modelID),
		Messages:        messages,
		InferenceConfig: inferenceConfig(a.params),
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}
	if cfg := toolConfig(a.tools); cfg != nil {
		input.ToolConfig = cfg
	}
	return input, nil
}

func (a *Adaptor) Converse(ctx context.Context, req *adaptor.ConverseRequest) (*adaptor.ConverseResult, error) {
	input, err := a.buildInput(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := adaptor.CallContext(ctx)
	defer cancel()

	output, err := a.client.Converse(ctx, input)
	if err != nil {
		return nil, classifyError(err, "converse")
	}

	message := model.Message{Role: model.RoleAssistant}
	if output.Output != nil {
		if msg, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
			var text strings.Builder
			for _, block := range msg.Value.Content {
				switch value := block.(type) {
				case *types.ContentBlockMemberText:
					text.WriteString(value.Value)
				case *types.ContentBlockMemberToolUse:
					call, err := toolCallFromBlock(value.Value)
					if err != nil {
						return nil, model.WrapProviderError(err, model.ErrUnknown, "bedrock returned an unreadable tool call")
					}
					message.ToolCalls = append(message.ToolCalls, call)
				}
			}
			if text.Len() > 0 {
				message.Parts = append(message.Parts, model.Part{Text: text.String()})
			}
		}
	}

	return &adaptor.ConverseResult{
		Message:    message,
		Usage:      convertUsage(output.Usage),
		StopReason: convertStopReason(string(output.StopReason)),
	}, nil
}

func (a *Adaptor) ConverseStream(ctx context.Context, req *adaptor.ConverseRequest, events chan<- model.StreamEvent) (*adaptor.ConverseResult, error) {
	input, err := a.buildInput(req)
	if err != nil {
		return nil, err
	}
	streamInput := &bedrockruntime.ConverseStreamInput{
		ModelId:         input.ModelId,
		Messages:        input.Messages,
		System:          input.System,
		InferenceConfig: input.InferenceConfig,
		ToolConfig:      input.ToolConfig,
	}

	ctx, cancel := adaptor.CallContext(ctx)
	defer cancel()

	output, err := a.client.ConverseStream(ctx, streamInput)
	if err != nil {
		return nil, classifyError(err, "converse stream")
	}
	stream := output.GetStream()
	defer stream.Close()

	// tool-use argument fragments accumulate per content block index until
	// the block stops
	type pendingTool struct {
		id   string
		name string
		args strings.Builder
	}
	pending := make(map[int32]*pendingTool)

	result := &adaptor.ConverseResult{
		Message:    model.Message{Role: model.RoleAssistant},
		StopReason: model.StopEndTurn,
	}
	var text strings.Builder

	for event := range stream.Events() {
		switch v := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockStart:
			start, ok := v.Value.Start.(*types.ContentBlockStartMemberToolUse)
			if !ok || v.Value.ContentBlockIndex == nil {
				continue
			}
			toolUse := start.Value
			if toolUse.ToolUseId != nil && toolUse.Name != nil {
				pending[*v.Value.ContentBlockIndex] = &pendingTool{
					id:   *toolUse.ToolUseId,
					name: *toolUse.Name,
				}
			}

		case *types.ConverseStreamOutputMemberContentBlockDelta:
			if v.Value.Delta == nil {
				continue
			}
			switch delta := v.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				if delta.Value == "" {
					continue
				}
				text.WriteString(delta.Value)
				if err := adaptor.EmitEvent(ctx, events, model.NewTextEvent(delta.Value)); err != nil {
					return nil, err
				}
			case *types.ContentBlockDeltaMemberToolUse:
				if v.Value.ContentBlockIndex == nil || delta.Value.Input == nil {
					continue
				}
				if p, ok := pending[*v.Value.ContentBlockIndex]; ok {
					p.args.WriteString(*delta.Value.Input)
				}
			}

		case *types.ConverseStreamOutputMemberContentBlockStop:
			if v.Value.ContentBlockIndex == nil {
				continue
			}
			p, ok := pending[*v.Value.ContentBlockIndex]
			if !ok {
				continue
			}
			delete(pending, *v.Value.ContentBlockIndex)

			call := model.ToolCall{Id: p.id, Name: p.name, Input: map[string]any{}}
			if raw := p.args.String(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &call.Input); err != nil {
					return nil, model.WrapProviderError(err, model.ErrUnknown, "bedrock streamed malformed tool arguments")
				}
			}
			result.Message.ToolCalls = append(result.Message.ToolCalls, call)
			if err := adaptor.EmitEvent(ctx, events, model.NewToolUseEvent(call)); err != nil {
				return nil, err
			}

		case *types.ConverseStreamOutputMemberMessageStop:
			result.StopReason = convertStopReason(string(v.Value.StopReason))

		case *types.ConverseStreamOutputMemberMetadata:
			result.Usage = convertUsage(v.Value.Usage)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, classifyError(err, "converse stream")
	}

	if text.Len() > 0 {
		result.Message.Parts = append(result.Message.Parts, model.Part{Text: text.String()})
	}
	return result, nil
}

func toolCallFromBlock(block types.ToolUseBlock) (model.ToolCall, error) {
	call := model.ToolCall{}
	if block.ToolUseId != nil {
		call.Id = *block.ToolUseId
	}
	if block.Name != nil {
		call.Name = *block.Name
	}
	input, err := documentToMap(block.Input)
	if err != nil {
		return call, err
	}
	call.Input = input
	return call, nil
}

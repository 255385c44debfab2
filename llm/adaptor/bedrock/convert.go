package bedrock

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/llm/model"
	"github.com/orchidlake/llmstudio/llm/tool"
)

// convertMessages translates neutral history into Converse API messages.
// Tool turns become user-role messages carrying tool result blocks, the
// shape Bedrock requires for the send half of a tool round.
func convertMessages(messages []model.Message) ([]types.Message, error) {
	converseMessages := make([]types.Message, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case model.RoleUser:
			blocks, err := contentBlocks(msg)
			if err != nil {
				return nil, err
			}
			if len(blocks) == 0 {
				continue
			}
			converseMessages = append(converseMessages, types.Message{
				Role:    types.ConversationRoleUser,
				Content: blocks,
			})

		case model.RoleAssistant:
			blocks, err := contentBlocks(msg)
			if err != nil {
				return nil, err
			}
			for _, call := range msg.ToolCalls {
				blocks = append(blocks, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(call.Id),
						Name:      aws.String(call.Name),
						Input:     document.NewLazyDocument(call.Input),
					},
				})
			}
			if len(blocks) == 0 {
				continue
			}
			converseMessages = append(converseMessages, types.Message{
				Role:    types.ConversationRoleAssistant,
				Content: blocks,
			})

		case model.RoleTool:
			blocks := make([]types.ContentBlock, 0, len(msg.ToolResults))
			for _, result := range msg.ToolResults {
				payload, err := json.Marshal(result.Payload)
				if err != nil {
					return nil, model.WrapProviderError(err, model.ErrInvalidRequest, "tool result is not serializable")
				}
				status := types.ToolResultStatusSuccess
				if result.IsError {
					status = types.ToolResultStatusError
				}
				blocks = append(blocks, &types.ContentBlockMemberToolResult{
					Value: types.ToolResultBlock{
						ToolUseId: aws.String(result.CallId),
						Content: []types.ToolResultContentBlock{
							&types.ToolResultContentBlockMemberText{Value: string(payload)},
						},
						Status: status,
					},
				})
			}
			if len(blocks) == 0 {
				continue
			}
			converseMessages = append(converseMessages, types.Message{
				Role:    types.ConversationRoleUser,
				Content: blocks,
			})

		default:
			return nil, model.NewProviderError(model.ErrInvalidRequest, "unsupported message role",
				"role "+string(msg.Role)+" cannot be sent to bedrock")
		}
	}

	return converseMessages, nil
}

func contentBlocks(msg model.Message) ([]types.ContentBlock, error) {
	blocks := make([]types.ContentBlock, 0, len(msg.Parts))
	prefix := msg.ContextPrefix()

	for _, part := range msg.Parts {
		if part.Text != "" {
			text := part.Text
			if prefix != "" {
				text = prefix + text
				prefix = ""
			}
			blocks = append(blocks, &types.ContentBlockMemberText{Value: text})
			continue
		}
		if part.Image != nil {
			block, err := imageBlock(part.Image)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, block)
		}
	}

	// context with no text part still has to reach the model
	if prefix != "" {
		blocks = append([]types.ContentBlock{&types.ContentBlockMemberText{Value: prefix}}, blocks...)
	}
	return blocks, nil
}

func imageBlock(ref *model.ImageRef) (types.ContentBlock, error) {
	if ref.Data == "" {
		return nil, model.NewProviderError(model.ErrInvalidRequest, "image attachment has no data",
			"bedrock requires inline image bytes, url "+ref.URL+" was not fetched")
	}
	raw, err := base64.StdEncoding.DecodeString(ref.Data)
	if err != nil {
		return nil, model.WrapProviderError(err, model.ErrInvalidRequest, "image attachment is not valid base64")
	}

	format := strings.TrimPrefix(ref.MIME, "image/")
	switch format {
	case "jpg":
		format = "jpeg"
	case "jpeg", "png", "gif", "webp":
	default:
		return nil, model.NewProviderError(model.ErrInvalidRequest, "unsupported image type",
			"bedrock does not accept "+ref.MIME)
	}

	return &types.ContentBlockMemberImage{
		Value: types.ImageBlock{
			Format: types.ImageFormat(format),
			Source: &types.ImageSourceMemberBytes{Value: raw},
		},
	}, nil
}

func inferenceConfig(params *model.InferenceParams) *types.InferenceConfiguration {
	cfg := &types.InferenceConfiguration{
		MaxTokens: aws.Int32(int32(config.DefaultMaxToken)),
	}
	if params == nil {
		return cfg
	}

	if params.MaxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(params.MaxTokens))
	}
	if params.Temperature != nil {
		cfg.Temperature = aws.Float32(float32(*params.Temperature))
	}
	if params.TopP != nil {
		cfg.TopP = aws.Float32(float32(*params.TopP))
	}
	if len(params.StopSequences) > 0 {
		stopSequences := make([]string, len(params.StopSequences))
		copy(stopSequences, params.StopSequences)
		cfg.StopSequences = stopSequences
	}
	return cfg
}

func toolConfig(tools []*tool.Spec) *types.ToolConfiguration {
	if len(tools) == 0 {
		return nil
	}

	awsTools := make([]types.Tool, 0, len(tools))
	for _, t := range tools {
		awsTools = append(awsTools, &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(t.Name),
				Description: aws.String(t.Description),
				InputSchema: &types.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(t.InputSchema),
				},
			},
		})
	}

	return &types.ToolConfiguration{
		Tools:      awsTools,
		ToolChoice: &types.ToolChoiceMemberAuto{},
	}
}

func convertStopReason(awsReason string) model.StopReason {
	switch awsReason {
	case "max_tokens":
		return model.StopLength
	case "end_turn", "stop_sequence", "":
		return model.StopEndTurn
	case "content_filtered", "guardrail_intervened":
		return model.StopContentFilter
	case "tool_use":
		return model.StopToolUse
	default:
		return model.StopReason(awsReason)
	}
}

func convertUsage(usage *types.TokenUsage) *model.Usage {
	if usage == nil {
		return nil
	}
	out := &model.Usage{}
	if usage.InputTokens != nil {
		out.PromptTokens = int(*usage.InputTokens)
	}
	if usage.OutputTokens != nil {
		out.CompletionTokens = int(*usage.OutputTokens)
	}
	if usage.TotalTokens != nil {
		out.TotalTokens = int(*usage.TotalTokens)
	} else {
		out.TotalTokens = out.PromptTokens + out.CompletionTokens
	}
	return out
}

// documentToMap decodes a tool-use input document back into the neutral
// argument map.
func documentToMap(doc document.Interface) (map[string]any, error) {
	if doc == nil {
		return map[string]any{}, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "marshal tool input")
	}
	input := map[string]any{}
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, errors.Wrap(err, "unmarshal tool input")
	}
	return input, nil
}

// classifyError maps AWS SDK failures onto the shared taxonomy.
func classifyError(err error, op string) error {
	if err == nil {
		return nil
	}

	var throttled *types.ThrottlingException
	var quota *types.ServiceQuotaExceededException
	var denied *types.AccessDeniedException
	var invalid *types.ValidationException
	var notFound *types.ResourceNotFoundException
	var modelTimeout *types.ModelTimeoutException
	var notReady *types.ModelNotReadyException

	switch {
	case errors.As(err, &throttled), errors.As(err, &quota):
		return model.WrapProviderError(err, model.ErrRateLimited, "the model is receiving too many requests, please retry shortly")
	case errors.As(err, &denied):
		return model.WrapProviderError(err, model.ErrAuthFailed, "bedrock rejected the configured credentials")
	case errors.As(err, &invalid), errors.As(err, &notFound):
		return model.WrapProviderError(err, model.ErrInvalidRequest, "bedrock rejected the request")
	case errors.As(err, &modelTimeout), errors.As(err, &notReady):
		return model.WrapProviderError(err, model.ErrTimeout, "the model took too long to respond")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return model.WrapProviderError(err, model.CodeFromContextErr(err), "the request was cut short")
	default:
		return model.WrapProviderError(err, model.ErrUnknown, "bedrock "+op+" failed")
	}
}

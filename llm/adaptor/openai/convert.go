package openai

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Laisky/errors/v2"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/orchidlake/llmstudio/llm/model"
	"github.com/orchidlake/llmstudio/llm/tool"
)

// convertMessages maps the neutral conversation onto chat completion
// messages. The system prompt leads, tool turns expand to one tool-role
// message per result.
func convertMessages(system string, messages []model.Message) ([]goopenai.ChatCompletionMessage, error) {
	out := make([]goopenai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	for i := range messages {
		msg := &messages[i]
		switch msg.Role {
		case model.RoleUser:
			converted, err := userMessage(msg)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)

		case model.RoleAssistant:
			converted := goopenai.ChatCompletionMessage{
				Role:    goopenai.ChatMessageRoleAssistant,
				Content: msg.TextContent(),
			}
			for _, call := range msg.ToolCalls {
				args, err := json.Marshal(call.Input)
				if err != nil {
					return nil, model.WrapProviderError(err, model.ErrInvalidRequest, "tool call input is not serializable")
				}
				converted.ToolCalls = append(converted.ToolCalls, goopenai.ToolCall{
					ID:   call.Id,
					Type: goopenai.ToolTypeFunction,
					Function: goopenai.FunctionCall{
						Name:      call.Name,
						Arguments: string(args),
					},
				})
			}
			if converted.Content == "" && len(converted.ToolCalls) == 0 {
				continue
			}
			out = append(out, converted)

		case model.RoleTool:
			for _, result := range msg.ToolResults {
				payload, err := json.Marshal(result.Payload)
				if err != nil {
					return nil, model.WrapProviderError(err, model.ErrInvalidRequest, "tool result is not serializable")
				}
				out = append(out, goopenai.ChatCompletionMessage{
					Role:       goopenai.ChatMessageRoleTool,
					ToolCallID: result.CallId,
					Content:    string(payload),
				})
			}

		default:
			return nil, model.NewProviderError(model.ErrInvalidRequest,
				"unsupported message role", string(msg.Role))
		}
	}
	return out, nil
}

// userMessage renders a user turn. Plain text rides in Content, multimodal
// turns switch to MultiContent parts.
func userMessage(msg *model.Message) (goopenai.ChatCompletionMessage, error) {
	out := goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser}
	prefix := msg.ContextPrefix()

	if !msg.HasImages() {
		out.Content = prefix + msg.TextContent()
		return out, nil
	}

	for _, part := range msg.Parts {
		switch {
		case part.Text != "":
			out.MultiContent = append(out.MultiContent, goopenai.ChatMessagePart{
				Type: goopenai.ChatMessagePartTypeText,
				Text: prefix + part.Text,
			})
			prefix = ""
		case part.Image != nil:
			url, err := imageURL(part.Image)
			if err != nil {
				return goopenai.ChatCompletionMessage{}, err
			}
			out.MultiContent = append(out.MultiContent, goopenai.ChatMessagePart{
				Type:     goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{URL: url},
			})
		}
	}
	if prefix != "" {
		out.MultiContent = append([]goopenai.ChatMessagePart{{
			Type: goopenai.ChatMessagePartTypeText,
			Text: prefix,
		}}, out.MultiContent...)
	}
	return out, nil
}

// imageURL passes URLs through and folds inline payloads into a data URL.
func imageURL(img *model.ImageRef) (string, error) {
	if img.URL != "" {
		return img.URL, nil
	}
	if img.Data == "" {
		return "", model.NewProviderError(model.ErrInvalidRequest,
			"image content requires a url or inline data", "")
	}
	mime := img.MIME
	if mime == "" {
		mime = "image/png"
	}
	return "data:" + mime + ";base64," + img.Data, nil
}

func toolDefinitions(specs []*tool.Spec) []goopenai.Tool {
	if len(specs) == 0 {
		return nil
	}
	out := make([]goopenai.Tool, 0, len(specs))
	for _, spec := range specs {
		out = append(out, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        spec.Name,
				Description: spec.Description,
				Parameters:  spec.InputSchema,
			},
		})
	}
	return out
}

// neutralToolCall parses one wire tool call. Arguments that fail to parse
// become an empty input rather than a failed round; the tool itself reports
// the missing arguments.
func neutralToolCall(call goopenai.ToolCall, seq int) model.ToolCall {
	id := call.ID
	if id == "" {
		id = call.Function.Name + "-" + strconv.Itoa(seq)
	}
	input := map[string]any{}
	if raw := strings.TrimSpace(call.Function.Arguments); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input); err != nil {
			input = map[string]any{}
		}
	}
	return model.ToolCall{Id: id, Name: call.Function.Name, Input: input}
}

// pendingCall accumulates streamed tool call fragments for one index.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func (p *pendingCall) finalize(idx int) model.ToolCall {
	return neutralToolCall(goopenai.ToolCall{
		ID: p.id,
		Function: goopenai.FunctionCall{
			Name:      p.name,
			Arguments: p.args.String(),
		},
	}, idx)
}

func convertFinishReason(reason goopenai.FinishReason) model.StopReason {
	switch reason {
	case goopenai.FinishReasonLength:
		return model.StopLength
	case goopenai.FinishReasonToolCalls, goopenai.FinishReasonFunctionCall:
		return model.StopToolUse
	case goopenai.FinishReasonContentFilter:
		return model.StopContentFilter
	default:
		return model.StopEndTurn
	}
}

// classifyError maps SDK failures onto the neutral taxonomy. The SDK wraps
// HTTP failures in *APIError (parsed body) or *RequestError (transport).
func classifyError(err error, op string) error {
	if err == nil {
		return nil
	}
	if perr, ok := model.AsProviderError(err); ok {
		return perr
	}

	var apiErr *goopenai.APIError
	var reqErr *goopenai.RequestError
	switch {
	case errors.As(err, &apiErr):
		return model.WrapProviderError(err, model.CodeFromHTTPStatus(apiErr.HTTPStatusCode), "openai "+op+" failed")
	case errors.As(err, &reqErr):
		return model.WrapProviderError(err, model.CodeFromHTTPStatus(reqErr.HTTPStatusCode), "openai "+op+" failed")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return model.WrapProviderError(err, model.CodeFromContextErr(err), "the request was cut short")
	default:
		return model.WrapProviderError(err, model.ErrUnknown, "openai "+op+" failed")
	}
}

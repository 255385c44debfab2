package gemini

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"

	"github.com/Laisky/errors/v2"
	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"

	"github.com/orchidlake/llmstudio/llm/model"
	"github.com/orchidlake/llmstudio/llm/tool"
)

// toolNamesByCallId indexes assistant tool calls so later tool results can
// recover the function name the wire format pairs responses by.
func toolNamesByCallId(messages []model.Message) map[string]string {
	names := make(map[string]string)
	for i := range messages {
		for _, call := range messages[i].ToolCalls {
			names[call.Id] = call.Name
		}
	}
	return names
}

// convertHistory maps all but the final turn onto chat history entries.
// Turns that convert to nothing sendable are skipped.
func convertHistory(messages []model.Message, names map[string]string) ([]*genai.Content, error) {
	history := make([]*genai.Content, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		role, err := geminiRole(msg.Role)
		if err != nil {
			return nil, err
		}
		parts, err := messageParts(msg, names)
		if err != nil {
			return nil, err
		}
		if len(parts) == 0 {
			continue
		}
		history = append(history, &genai.Content{Role: role, Parts: parts})
	}
	return history, nil
}

func geminiRole(role model.Role) (string, error) {
	switch role {
	case model.RoleUser:
		return "user", nil
	case model.RoleAssistant:
		return "model", nil
	case model.RoleTool:
		return "function", nil
	default:
		return "", model.NewProviderError(model.ErrInvalidRequest,
			"unsupported message role", string(role))
	}
}

// messageParts converts one neutral turn into SDK parts. The context prefix
// rides on the first text part, or becomes its own part for image-only turns.
func messageParts(msg *model.Message, names map[string]string) ([]genai.Part, error) {
	var parts []genai.Part
	prefix := msg.ContextPrefix()

	for _, part := range msg.Parts {
		switch {
		case part.Text != "":
			parts = append(parts, genai.Text(prefix+part.Text))
			prefix = ""
		case part.Image != nil:
			blob, err := imageBlob(part.Image)
			if err != nil {
				return nil, err
			}
			parts = append(parts, blob)
		}
	}
	if prefix != "" {
		parts = append([]genai.Part{genai.Text(prefix)}, parts...)
	}

	for _, call := range msg.ToolCalls {
		args := call.Input
		if args == nil {
			args = map[string]any{}
		}
		parts = append(parts, genai.FunctionCall{Name: call.Name, Args: args})
	}
	for _, result := range msg.ToolResults {
		parts = append(parts, functionResponse(result, names))
	}
	return parts, nil
}

func functionResponse(result model.ToolResult, names map[string]string) genai.FunctionResponse {
	name := names[result.CallId]
	if name == "" {
		name = result.CallId
	}
	return genai.FunctionResponse{Name: name, Response: responsePayload(result)}
}

// responsePayload boxes non-dict payloads since the wire format requires an
// object.
func responsePayload(result model.ToolResult) map[string]any {
	out := map[string]any{}
	switch v := result.Payload.(type) {
	case nil:
	case map[string]any:
		for k, val := range v {
			out[k] = val
		}
	case string:
		out["content"] = v
	default:
		out["content"] = fmt.Sprintf("%v", v)
	}
	if result.IsError {
		out["is_error"] = true
	}
	return out
}

// imageBlob converts an inline image reference. The API takes raw bytes, so
// URL-only references are rejected.
func imageBlob(img *model.ImageRef) (genai.Part, error) {
	if img.Data == "" {
		return nil, model.NewProviderError(model.ErrInvalidRequest,
			"image content requires inline data", "gemini needs base64 image bytes, not a bare URL")
	}
	raw, err := base64.StdEncoding.DecodeString(img.Data)
	if err != nil {
		return nil, model.WrapProviderError(err, model.ErrInvalidRequest, "image data is not valid base64")
	}
	mime := img.MIME
	if mime == "" {
		mime = "image/png"
	}
	return genai.Blob{MIMEType: mime, Data: raw}, nil
}

// toolCallFromFunction synthesizes a call id from the function name and its
// position in the round, since the wire format carries none.
func toolCallFromFunction(fc genai.FunctionCall, seq int) model.ToolCall {
	args := fc.Args
	if args == nil {
		args = map[string]any{}
	}
	return model.ToolCall{
		Id:    fc.Name + "-" + strconv.Itoa(seq),
		Name:  fc.Name,
		Input: args,
	}
}

func functionDeclarations(specs []*tool.Spec) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  schemaFromMap(spec.InputSchema),
		})
	}
	return decls
}

// schemaFromMap converts the JSON schema dialect tool specs carry into the
// typed schema the SDK requires. Keywords the API does not know are dropped.
func schemaFromMap(m map[string]any) *genai.Schema {
	if len(m) == 0 {
		return &genai.Schema{Type: genai.TypeObject}
	}

	schema := &genai.Schema{Type: schemaType(m["type"])}
	if desc, ok := m["description"].(string); ok {
		schema.Description = desc
	}
	if format, ok := m["format"].(string); ok {
		schema.Format = format
	}
	if props, ok := m["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]any); ok {
				schema.Properties[name] = schemaFromMap(sub)
			}
		}
	}
	if items, ok := m["items"].(map[string]any); ok {
		schema.Items = schemaFromMap(items)
	}
	schema.Required = stringSlice(m["required"])
	schema.Enum = stringSlice(m["enum"])
	return schema
}

func schemaType(v any) genai.Type {
	t, _ := v.(string)
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object", "":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func stringSlice(v any) []string {
	if direct, ok := v.([]string); ok {
		return direct
	}
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func convertFinishReason(reason genai.FinishReason) model.StopReason {
	switch reason {
	case genai.FinishReasonMaxTokens:
		return model.StopLength
	case genai.FinishReasonSafety, genai.FinishReasonRecitation:
		return model.StopContentFilter
	default:
		return model.StopEndTurn
	}
}

func convertUsage(meta *genai.UsageMetadata) *model.Usage {
	if meta == nil {
		return nil
	}
	return &model.Usage{
		PromptTokens:     int(meta.PromptTokenCount),
		CompletionTokens: int(meta.CandidatesTokenCount),
		TotalTokens:      int(meta.TotalTokenCount),
	}
}

// classifyError maps SDK failures onto the neutral taxonomy. HTTP failures
// surface as *googleapi.Error carrying the status code.
func classifyError(err error, op string) error {
	if err == nil {
		return nil
	}
	if perr, ok := model.AsProviderError(err); ok {
		return perr
	}

	var gerr *googleapi.Error
	switch {
	case errors.As(err, &gerr):
		return model.WrapProviderError(err, model.CodeFromHTTPStatus(gerr.Code), "gemini "+op+" failed")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return model.WrapProviderError(err, model.CodeFromContextErr(err), "the request was cut short")
	default:
		return model.WrapProviderError(err, model.ErrUnknown, "gemini "+op+" failed")
	}
}

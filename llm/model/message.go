package model

import (
	"sort"
	"strings"

	"github.com/Laisky/errors/v2"
)

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	// RoleTool carries tool results back to the model between tool-use
	// rounds. Tool turns are transient: they are built by the conversation
	// engine and never written to session history.
	RoleTool Role = "tool"
)

// Part is one piece of message content: text, or an image reference.
// Exactly one field is set.
type Part struct {
	Text  string    `json:"text,omitempty"`
	Image *ImageRef `json:"image,omitempty"`
}

// ImageRef points at image content either by URL (http(s) or data URL) or by
// inline base64 payload with its mime type.
type ImageRef struct {
	URL  string `json:"url,omitempty"`
	MIME string `json:"mime,omitempty"`
	// Data holds base64 payload when the image is inlined.
	Data string `json:"data,omitempty"`
}

// Message is one vendor-neutral conversation turn.
type Message struct {
	Role  Role   `json:"role"`
	Parts []Part `json:"parts,omitempty"`

	// Context carries auxiliary key/value pairs (timestamp, user name, ...)
	// rendered by adapters as a prefix text block. Never persisted as model
	// output.
	Context map[string]string `json:"context,omitempty"`

	// ToolCalls is set on assistant turns that request tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolResults is set on tool turns answering previous ToolCalls.
	ToolResults []ToolResult `json:"tool_results,omitempty"`
}

// ToolCall is a model's request to run one tool. The Id correlates the
// eventual result back to this call in the vendor wire protocol.
type ToolCall struct {
	Id    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input,omitempty"`
}

// ToolResult answers exactly one ToolCall. Payload is a JSON-serializable
// dict or plain string.
type ToolResult struct {
	CallId  string `json:"call_id"`
	IsError bool   `json:"is_error,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// NewUserText builds a plain-text user message.
func NewUserText(text string) Message {
	return Message{Role: RoleUser, Parts: []Part{{Text: text}}}
}

// NewAssistantText builds a plain-text assistant message.
func NewAssistantText(text string) Message {
	return Message{Role: RoleAssistant, Parts: []Part{{Text: text}}}
}

// TextContent concatenates all text parts of the message.
func (m *Message) TextContent() string {
	var sb strings.Builder
	for _, p := range m.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// HasImages reports whether any part carries image content.
func (m *Message) HasImages() bool {
	for _, p := range m.Parts {
		if p.Image != nil {
			return true
		}
	}
	return false
}

// IsToolTurn reports whether the message only carries tool results.
func (m *Message) IsToolTurn() bool {
	return m.Role == RoleTool && len(m.ToolResults) > 0
}

// ContextPrefix renders the auxiliary context map as a deterministic text
// block ("key: value" lines), suitable for prefixing the first text part.
// Returns "" when no context is attached.
func (m *Message) ContextPrefix() string {
	if len(m.Context) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m.Context))
	for k := range m.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(m.Context[k])
		sb.WriteString("\n")
	}
	return sb.String()
}

// Validate enforces the content invariants: user messages must carry at
// least one non-empty part; assistant messages may be empty (streaming
// placeholders); tool turns must answer at least one call.
func (m *Message) Validate() error {
	switch m.Role {
	case RoleUser:
		if !m.hasContent() {
			return errors.New("user message must contain text or image content")
		}
	case RoleAssistant:
		// empty allowed as streaming placeholder
	case RoleTool:
		if len(m.ToolResults) == 0 {
			return errors.New("tool message must contain at least one tool result")
		}
	default:
		return errors.Errorf("unknown message role: %s", m.Role)
	}
	return nil
}

func (m *Message) hasContent() bool {
	for _, p := range m.Parts {
		if strings.TrimSpace(p.Text) != "" {
			return true
		}
		if p.Image != nil && (p.Image.URL != "" || p.Image.Data != "") {
			return true
		}
	}
	return false
}

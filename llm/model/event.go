package model

// StopReason is the normalized reason a generation round ended.
type StopReason string

const (
	StopEndTurn       StopReason = "stop"
	StopLength        StopReason = "length"
	StopToolUse       StopReason = "tool_use"
	StopContentFilter StopReason = "content_filter"
)

// Usage is the normalized token accounting for one vendor call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

// Add accumulates usage across tool-use rounds.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// Metrics carries per-round latency measurements.
type Metrics struct {
	FirstByteMs int64 `json:"first_byte_ms,omitempty"`
	TotalMs     int64 `json:"total_ms,omitempty"`
}

// ContentEvent is a streamed content fragment: a text delta, an image, or a
// completed tool-use request. Exactly one field is set.
type ContentEvent struct {
	Text    string    `json:"text,omitempty"`
	Image   *ImageRef `json:"image,omitempty"`
	ToolUse *ToolCall `json:"tool_use,omitempty"`
}

// MetadataEvent terminates one logical round of a stream.
type MetadataEvent struct {
	Usage      *Usage     `json:"usage,omitempty"`
	StopReason StopReason `json:"stop_reason,omitempty"`
	Metrics    *Metrics   `json:"metrics,omitempty"`
}

// StreamEvent is the neutral unit every provider adapter emits while
// streaming: zero or more content events followed by exactly one terminal
// metadata event per logical round. Exactly one field is set.
type StreamEvent struct {
	Content  *ContentEvent  `json:"content,omitempty"`
	Metadata *MetadataEvent `json:"metadata,omitempty"`
}

// NewTextEvent wraps a text delta.
func NewTextEvent(text string) StreamEvent {
	return StreamEvent{Content: &ContentEvent{Text: text}}
}

// NewToolUseEvent wraps a completed tool call request.
func NewToolUseEvent(call ToolCall) StreamEvent {
	return StreamEvent{Content: &ContentEvent{ToolUse: &call}}
}

// NewMetadataEvent wraps a terminal round event.
func NewMetadataEvent(usage *Usage, stop StopReason, metrics *Metrics) StreamEvent {
	return StreamEvent{Metadata: &MetadataEvent{Usage: usage, StopReason: stop, Metrics: metrics}}
}

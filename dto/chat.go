// Package dto holds the request and response bodies of the HTTP API.
// Validation tags are enforced by the shared validator instance; anything
// beyond shape checks (model existence, parameter ranges) belongs to the
// service layer.
package dto

import (
	llmmodel "github.com/orchidlake/llmstudio/llm/model"
)

// ChatRequest is the body of POST /api/module/:name/chat.
type ChatRequest struct {
	Text string `json:"text" validate:"max=65536"`
	// Files lists image attachments as http(s) URLs or data URLs.
	Files []string `json:"files,omitempty" validate:"max=8,dive,min=1"`
	// Model pins a catalog model for this turn only, bypassing the session
	// override and module default.
	Model string `json:"model,omitempty" validate:"max=128"`
	// Params are per-request sampling overrides merged over module defaults.
	Params *llmmodel.InferenceParams `json:"params,omitempty"`
	// Stream selects SSE delta delivery instead of a single JSON body.
	Stream bool `json:"stream,omitempty"`
}

// DrawRequest is the body of POST /api/module/draw/image.
type DrawRequest struct {
	Prompt string                `json:"prompt" validate:"required,max=4096"`
	Model  string                `json:"model,omitempty" validate:"max=128"`
	Params *llmmodel.ImageParams `json:"params,omitempty"`
}

// SetSessionModelRequest is the body of PUT /api/module/:name/session/model.
// An empty model id clears the override.
type SetSessionModelRequest struct {
	Model string `json:"model" validate:"max=128"`
}

// StreamChunk is one SSE data frame of a streaming chat response.
type StreamChunk struct {
	Text string `json:"text"`
}

// WSClientMessage is one inbound websocket frame: a user turn.
type WSClientMessage struct {
	Text   string                    `json:"text"`
	Files  []string                  `json:"files,omitempty"`
	Model  string                    `json:"model,omitempty"`
	Params *llmmodel.InferenceParams `json:"params,omitempty"`
}

// WSServerMessage is one outbound websocket frame. Type is "delta" while
// text is streaming and "done" for the terminal frame carrying the result.
type WSServerMessage struct {
	Type   string `json:"type"`
	Text   string `json:"text,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

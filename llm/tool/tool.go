// Package tool is the shared tool registry. Handlers are registered at
// process start from a static name to builder map and loaded lazily on
// first lookup; specs are immutable after load. Tool failures never
// propagate to the conversation loop, they come back as error payloads.
package tool

import (
	"context"
)

// Handler executes one tool call. The input map carries the arguments the
// model produced for the call. Handlers must bound their own latency
// (network handlers derive a deadline from config.ToolTimeout) and return
// a JSON-serializable payload.
type Handler func(ctx context.Context, input map[string]any) (map[string]any, error)

// Spec describes a callable tool the way vendors expect it: a unique name,
// a human description the model reads, and a JSON schema for the input.
type Spec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`

	handler Handler
}

// NewSpec builds a Spec with its handler attached.
func NewSpec(name, description string, schema map[string]any, handler Handler) *Spec {
	return &Spec{Name: name, Description: description, InputSchema: schema, handler: handler}
}

// Builder lazily constructs a tool spec. Returning an error marks the tool
// unavailable; the registry logs it and treats the name as unknown.
type Builder func() (*Spec, error)

// Package adaptor defines the vendor adapter contract. An adapter
// translates the neutral message model into one vendor's wire protocol and
// runs exactly one conversational round per call; the bounded tool-use
// loop lives in the conversation engine, never inside an adapter.
package adaptor

import (
	"context"
	"time"

	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/llm/model"
	"github.com/orchidlake/llmstudio/llm/tool"
)

// Config is the construction contract shared by every vendor adapter.
// Vendor is the catalog's vendor name for the model; constructors fail fast
// when it does not match their own identity so a miswired catalog entry
// cannot silently hit the wrong backend.
type Config struct {
	ModelID string
	Vendor  string
	Params  *model.InferenceParams
	Tools   []*tool.Spec
}

// ConverseRequest carries one round's input. Messages may contain tool
// turns appended by the engine between rounds.
type ConverseRequest struct {
	System   string
	Messages []model.Message
}

// ConverseResult is one round's complete output. Message is the assistant
// turn including any tool calls; StopReason tells the engine whether to run
// tools and go another round.
type ConverseResult struct {
	Message    model.Message
	Usage      *model.Usage
	StopReason model.StopReason
}

// Adaptor is implemented by every text vendor adapter. Both calls run a
// single round and map vendor failures onto *model.ProviderError.
// ConverseStream additionally pushes content deltas onto events as they
// arrive; it never emits metadata events, the engine derives those from the
// returned result. Adapters hold no per-call state, a single instance is
// shared across concurrent requests.
type Adaptor interface {
	Converse(ctx context.Context, req *ConverseRequest) (*ConverseResult, error)
	ConverseStream(ctx context.Context, req *ConverseRequest, events chan<- model.StreamEvent) (*ConverseResult, error)
}

// ImageAdaptor is implemented by image generation vendors. Single shot, no
// conversation loop.
type ImageAdaptor interface {
	GenerateImage(ctx context.Context, prompt string, params *model.ImageParams) (*model.ImageRef, error)
}

// CallContext derives the per-round deadline from PROVIDER_TIMEOUT. A zero
// timeout disables the deadline for slow self-hosted backends.
func CallContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if config.ProviderTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, time.Duration(config.ProviderTimeout)*time.Second)
}

// ValidateConfig applies the checks every constructor runs before touching
// vendor SDKs.
func ValidateConfig(cfg Config, vendorName string) error {
	if cfg.ModelID == "" {
		return model.NewProviderError(model.ErrInvalidRequest, "model id is empty", "adapter constructed without a model id")
	}
	if cfg.Vendor != "" && cfg.Vendor != vendorName {
		return model.NewProviderError(model.ErrInvalidRequest, "vendor mismatch",
			"model "+cfg.ModelID+" is configured for vendor "+cfg.Vendor+", not "+vendorName)
	}
	return nil
}

// EmitEvent pushes one event honoring caller cancellation, so an abandoned
// stream aborts the vendor call instead of blocking on a dead channel.
func EmitEvent(ctx context.Context, events chan<- model.StreamEvent, event model.StreamEvent) error {
	select {
	case events <- event:
		return nil
	case <-ctx.Done():
		return model.WrapProviderError(ctx.Err(), model.CodeFromContextErr(ctx.Err()), "stream consumer gone")
	}
}

// Package service orchestrates conversation turns. It resolves module,
// session, model and parameters for one authenticated user turn, drives the
// tool-use engine against the chosen vendor adapter, and owns persistence of
// completed turns. Controllers stay thin on top of it.
package service

import (
	"context"
	"time"

	"github.com/Laisky/zap"

	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/common/graceful"
	"github.com/orchidlake/llmstudio/common/helper"
	"github.com/orchidlake/llmstudio/common/logger"
	"github.com/orchidlake/llmstudio/llm"
	"github.com/orchidlake/llmstudio/llm/adaptor"
	llmmodel "github.com/orchidlake/llmstudio/llm/model"
	"github.com/orchidlake/llmstudio/llm/scanner"
	"github.com/orchidlake/llmstudio/model"
	"github.com/orchidlake/llmstudio/monitor"
	"github.com/orchidlake/llmstudio/registry"
)

// ChatService runs conversation turns for every text module. A single
// instance is shared across requests; all per-turn state lives on the stack.
type ChatService struct {
	providers *ProviderCache
}

func NewChatService() *ChatService {
	return &ChatService{providers: NewProviderCache()}
}

// Providers exposes the adapter cache for admin-triggered invalidation.
func (s *ChatService) Providers() *ProviderCache { return s.providers }

// ChatRequest is one user turn against a module.
type ChatRequest struct {
	UserId  int
	Module  string
	Content llmmodel.UnifiedContent
	// Model optionally pins a catalog model for this turn only. Unknown ids
	// are rejected rather than silently substituted.
	Model string
	// Params are per-request sampling overrides, merged over the module
	// defaults. Any override disqualifies the turn from the adapter cache.
	Params    *llmmodel.InferenceParams
	RequestId string
}

// ChatResult is the outcome of one completed turn. Degraded marks turns
// where the provider failed: Text then carries a user-facing notice and
// nothing was persisted.
type ChatResult struct {
	SessionId  int                 `json:"session_id"`
	ModelId    string              `json:"model_id"`
	Text       string              `json:"text"`
	Thinking   string              `json:"thinking,omitempty"`
	Usage      llmmodel.Usage      `json:"usage"`
	StopReason llmmodel.StopReason `json:"stop_reason,omitempty"`
	Rounds     int                 `json:"rounds,omitempty"`
	Degraded   bool                `json:"degraded,omitempty"`
}

// turn carries everything prepareTurn resolved for one request.
type turn struct {
	req       *ChatRequest
	module    *registry.Module
	session   *model.ChatSession
	entry     *registry.Model
	params    *llmmodel.InferenceParams
	tools     []string
	cacheable bool
	system    string
	messages  []llmmodel.Message
	userMsg   llmmodel.Message
}

// Chat runs one turn to completion without streaming.
func (s *ChatService) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	t, err := s.prepareTurn(req)
	if err != nil {
		return nil, err
	}

	a, err := s.providers.Adaptor(t.entry.Vendor, t.entry.Id, t.params, t.tools, t.cacheable)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	engine := llm.NewEngine(a)
	resp, err := engine.Generate(ctx, &adaptor.ConverseRequest{System: t.system, Messages: t.messages})
	if err != nil {
		return s.failedTurn(t, err, time.Since(start)), nil
	}
	return s.completeTurn(t, resp, time.Since(start), false), nil
}

// ChatStream runs one turn while forwarding answer text deltas to deltas as
// they arrive. The channel stays open afterwards; the caller owns it. Models
// without streaming support run the turn whole and deliver it as one delta,
// so callers get uniform behavior regardless of the chosen model.
func (s *ChatService) ChatStream(ctx context.Context, req *ChatRequest, deltas chan<- string) (*ChatResult, error) {
	t, err := s.prepareTurn(req)
	if err != nil {
		return nil, err
	}

	a, err := s.providers.Adaptor(t.entry.Vendor, t.entry.Id, t.params, t.tools, t.cacheable)
	if err != nil {
		return nil, err
	}

	engine := llm.NewEngine(a)
	convReq := &adaptor.ConverseRequest{System: t.system, Messages: t.messages}
	start := time.Now()

	if !t.entry.SupportsStreaming() {
		resp, err := engine.Generate(ctx, convReq)
		if err != nil {
			res := s.failedTurn(t, err, time.Since(start))
			sendDelta(ctx, deltas, res.Text)
			return res, nil
		}
		res := s.completeTurn(t, resp, time.Since(start), true)
		sendDelta(ctx, deltas, res.Text)
		return res, nil
	}

	events := make(chan llmmodel.StreamEvent, 32)
	var resp *llm.Response
	var genErr error
	go func() {
		resp, genErr = engine.GenerateStream(ctx, convReq, events)
		close(events)
	}()

	var sc *scanner.Scanner
	if t.module.SeparateThinking {
		sc = scanner.New()
	}

	// Keep draining after the consumer goes away so the engine's relay is
	// never left blocked on a full channel.
	consumerGone := false
	for ev := range events {
		if consumerGone || ev.Content == nil || ev.Content.Text == "" {
			continue
		}
		if sc == nil {
			consumerGone = !sendDelta(ctx, deltas, ev.Content.Text)
			continue
		}
		for _, seg := range sc.Feed(ev.Content.Text) {
			if seg.Thinking {
				continue
			}
			if !sendDelta(ctx, deltas, seg.Text) {
				consumerGone = true
				break
			}
		}
	}
	if sc != nil && !consumerGone {
		for _, seg := range sc.Flush() {
			if seg.Thinking {
				continue
			}
			if !sendDelta(ctx, deltas, seg.Text) {
				break
			}
		}
	}

	if genErr != nil {
		res := s.failedTurn(t, genErr, time.Since(start))
		sendDelta(ctx, deltas, res.Text)
		return res, nil
	}
	return s.completeTurn(t, resp, time.Since(start), true), nil
}

func sendDelta(ctx context.Context, deltas chan<- string, text string) bool {
	if text == "" {
		return true
	}
	select {
	case deltas <- text:
		return true
	case <-ctx.Done():
		return false
	}
}

// prepareTurn resolves everything a turn needs up front. Errors here are
// caller or configuration problems and surface to the controller as-is; only
// failures past this point get the degraded-turn treatment.
func (s *ChatService) prepareTurn(req *ChatRequest) (*turn, error) {
	mod, err := registry.ModuleByName(req.Module)
	if err != nil {
		return nil, err
	}

	session, err := model.GetOrCreateSession(req.UserId, mod.Name)
	if err != nil {
		return nil, err
	}
	if session.SystemPrompt() == "" && mod.SystemPrompt != "" {
		if err := session.SetContextValue("system_prompt", mod.SystemPrompt); err != nil {
			return nil, err
		}
	}

	entry, err := resolveModelEntry(req.Model, session, mod)
	if err != nil {
		return nil, err
	}
	if entry.EmitsImages() {
		return nil, llmmodel.NewProviderError(llmmodel.ErrInvalidRequest,
			"this model generates images and cannot hold a conversation",
			"model "+entry.Id+" outputs image content, use the draw module")
	}

	params, cacheable, err := resolveParams(req.Params, mod)
	if err != nil {
		return nil, err
	}

	tools := mod.Tools
	if len(tools) > 0 && !entry.SupportsTools() {
		logger.Logger.Debug("model does not support tool use, disabling module tools",
			zap.String("model", entry.Id), zap.String("module", mod.Name))
		tools = nil
	}

	userMsg, err := llmmodel.NormalizeContent(req.Content, entry.AcceptsImages())
	if err != nil {
		return nil, err
	}
	if err := inlineMessageImages(&userMsg); err != nil {
		return nil, llmmodel.WrapProviderError(err, llmmodel.ErrInvalidRequest,
			"attachment could not be loaded")
	}
	userMsg.Context = map[string]string{"timestamp": time.Now().UTC().Format(time.RFC3339)}

	stored, err := session.LoadHistory()
	if err != nil {
		return nil, err
	}
	messages := historyMessages(windowHistory(stored), entry.AcceptsImages())
	messages = append(messages, userMsg)

	system := session.SystemPrompt()
	if system == "" {
		system = mod.SystemPrompt
	}

	return &turn{
		req:       req,
		module:    mod,
		session:   session,
		entry:     entry,
		params:    params,
		tools:     tools,
		cacheable: cacheable,
		system:    system,
		messages:  messages,
		userMsg:   userMsg,
	}, nil
}

// resolveModelEntry picks the model for this turn: explicit request choice,
// else session override, else module default, else the configured fallback.
// An explicit request for an unknown id is an error; a stale session
// override logs a warning and falls through, so catalog changes cannot brick
// an existing session.
func resolveModelEntry(requested string, session *model.ChatSession, mod *registry.Module) (*registry.Model, error) {
	if requested != "" {
		return registry.ModelById(requested)
	}
	if session.ModelId != "" {
		entry, err := registry.ModelById(session.ModelId)
		if err == nil {
			return entry, nil
		}
		logger.Logger.Warn("session model override no longer in catalog, falling back",
			zap.String("model", session.ModelId), zap.Int("session_id", session.Id))
	}
	if mod.DefaultModel != "" {
		entry, err := registry.ModelById(mod.DefaultModel)
		if err == nil {
			return entry, nil
		}
		logger.Logger.Warn("module default model missing from catalog, falling back",
			zap.String("model", mod.DefaultModel), zap.String("module", mod.Name))
	}
	return registry.ModelById(config.FallbackModel)
}

// resolveParams merges request overrides over module defaults. The returned
// flag reports whether the result is pure module defaults and therefore
// eligible for the adapter cache.
func resolveParams(overrides *llmmodel.InferenceParams, mod *registry.Module) (*llmmodel.InferenceParams, bool, error) {
	defaults, err := mod.Params()
	if err != nil {
		return nil, false, err
	}
	if overrides == nil {
		return defaults, true, nil
	}

	p, err := overrides.Clone()
	if err != nil {
		return nil, false, err
	}
	p.MergeDefaults(defaults)
	if err := p.Validate(); err != nil {
		return nil, false, llmmodel.WrapProviderError(err, llmmodel.ErrInvalidRequest,
			"invalid inference parameters")
	}
	return p, false, nil
}

// failedTurn converts a provider failure into a degraded result. Nothing is
// persisted: a partial or garbled assistant turn must not enter history.
func (s *ChatService) failedTurn(t *turn, err error, elapsed time.Duration) *ChatResult {
	logger.Logger.Error("provider turn failed",
		zap.String("module", t.module.Name),
		zap.String("model", t.entry.Id),
		zap.Int("session_id", t.session.Id),
		zap.Error(err))
	outcome := string(llmmodel.ErrUnknown)
	if perr, ok := llmmodel.AsProviderError(err); ok {
		outcome = string(perr.Code)
	}
	monitor.RecordProviderTurn(t.entry.Vendor, t.entry.Id, outcome, elapsed)
	return &ChatResult{
		SessionId: t.session.Id,
		ModelId:   t.entry.Id,
		Text:      userFacingMessage(err),
		Degraded:  true,
	}
}

// completeTurn persists the finished turn and queues usage accounting. The
// session save runs synchronously so a fast follow-up turn reads its own
// write; accounting is deferred to a tracked goroutine.
func (s *ChatService) completeTurn(t *turn, resp *llm.Response, elapsed time.Duration, stream bool) *ChatResult {
	monitor.RecordProviderTurn(t.entry.Vendor, t.entry.Id, "ok", elapsed)
	monitor.RecordTokens(t.entry.Id, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	raw := resp.Message.TextContent()
	answer, thinking := raw, ""
	if t.module.SeparateThinking {
		thinking, answer = scanner.Split(raw)
	}

	userStored := model.StoredMessage{
		Role:    string(llmmodel.RoleUser),
		Text:    t.req.Content.Text,
		Files:   t.req.Content.Files,
		Context: t.userMsg.Context,
	}
	assistantStored := model.StoredMessage{
		Role: string(llmmodel.RoleAssistant),
		Text: answer,
	}
	if err := t.session.AppendInteraction(userStored, assistantStored); err != nil {
		logger.Logger.Error("failed to append interaction",
			zap.Int("session_id", t.session.Id), zap.Error(err))
	} else if err := t.session.Save(context.Background()); err != nil {
		logger.Logger.Error("failed to persist session",
			zap.Int("session_id", t.session.Id), zap.Error(err))
	}

	usage := &model.UsageLog{
		UserId:           t.req.UserId,
		ModuleName:       t.module.Name,
		ModelId:          t.entry.Id,
		SessionId:        t.session.Id,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
		Rounds:           resp.Rounds,
		ElapsedTimeMs:    helper.ElapsedMs(elapsed),
		IsStream:         stream,
		RequestId:        t.req.RequestId,
	}
	graceful.GoCritical(context.Background(), "record usage", func(ctx context.Context) {
		model.RecordUsage(ctx, usage)
	})

	return &ChatResult{
		SessionId:  t.session.Id,
		ModelId:    t.entry.Id,
		Text:       answer,
		Thinking:   thinking,
		Usage:      resp.Usage,
		StopReason: resp.StopReason,
		Rounds:     resp.Rounds,
	}
}

// userFacingMessage maps a provider failure onto the sentence shown in the
// transcript. Technical detail goes to the log, never to the user.
func userFacingMessage(err error) string {
	perr, ok := llmmodel.AsProviderError(err)
	if !ok {
		return "Sorry, something went wrong while generating a response. Please try again."
	}
	switch perr.Code {
	case llmmodel.ErrRateLimited:
		return "The model is handling too many requests right now. Please try again in a moment."
	case llmmodel.ErrAuthFailed:
		return "The server could not authenticate with the model provider. Please contact the administrator."
	case llmmodel.ErrTimeout:
		return "The model took too long to respond. Please try again."
	case llmmodel.ErrInvalidRequest:
		return "The model provider rejected this request. Try rephrasing it or removing attachments."
	default:
		return "Sorry, something went wrong while generating a response. Please try again."
	}
}

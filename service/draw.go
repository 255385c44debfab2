package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Laisky/zap"

	"github.com/orchidlake/llmstudio/common/graceful"
	"github.com/orchidlake/llmstudio/common/helper"
	"github.com/orchidlake/llmstudio/common/image"
	"github.com/orchidlake/llmstudio/common/logger"
	llmmodel "github.com/orchidlake/llmstudio/llm/model"
	"github.com/orchidlake/llmstudio/model"
	"github.com/orchidlake/llmstudio/monitor"
	"github.com/orchidlake/llmstudio/registry"
)

// DrawRequest is one image generation turn.
type DrawRequest struct {
	UserId int
	Module string
	Prompt string
	// Model optionally pins a catalog model for this turn only.
	Model string
	// Params are per-request overrides merged over the module defaults.
	Params    *llmmodel.ImageParams
	RequestId string
}

// DrawResult carries the generated image inline.
type DrawResult struct {
	SessionId int    `json:"session_id"`
	ModelId   string `json:"model_id"`
	MIME      string `json:"mime"`
	Data      string `json:"data"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

// Draw generates one image. Unlike chat turns, provider failures surface as
// errors: there is no transcript to degrade gracefully into, the caller maps
// the error code onto an HTTP status instead.
func (s *ChatService) Draw(ctx context.Context, req *DrawRequest) (*DrawResult, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return nil, llmmodel.NewProviderError(llmmodel.ErrInvalidRequest,
			"image prompt is empty", "")
	}

	mod, err := registry.ModuleByName(req.Module)
	if err != nil {
		return nil, err
	}

	session, err := model.GetOrCreateSession(req.UserId, mod.Name)
	if err != nil {
		return nil, err
	}

	entry, err := resolveModelEntry(req.Model, session, mod)
	if err != nil {
		return nil, err
	}
	if !entry.EmitsImages() {
		return nil, llmmodel.NewProviderError(llmmodel.ErrInvalidRequest,
			"this model does not generate images",
			"model "+entry.Id+" has no image output modality")
	}

	params, err := resolveImageParams(req.Params, mod)
	if err != nil {
		return nil, err
	}

	a, err := s.providers.ImageAdaptor(entry.Vendor, entry.Id)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ref, err := a.GenerateImage(ctx, prompt, params)
	if err != nil {
		logger.Logger.Error("image generation failed",
			zap.String("module", mod.Name),
			zap.String("model", entry.Id),
			zap.Int("session_id", session.Id),
			zap.Error(err))
		outcome := string(llmmodel.ErrUnknown)
		if perr, ok := llmmodel.AsProviderError(err); ok {
			outcome = string(perr.Code)
		}
		monitor.RecordProviderTurn(entry.Vendor, entry.Id, outcome, time.Since(start))
		return nil, err
	}
	elapsed := time.Since(start)
	monitor.RecordProviderTurn(entry.Vendor, entry.Id, "ok", elapsed)

	width, height := imageDimensions(ref, params)

	// Persist a compact record of the exchange. The image bytes stay out of
	// the history column; a multi-megabyte base64 blob per turn would bloat
	// every later window load.
	userStored := model.StoredMessage{Role: string(llmmodel.RoleUser), Text: prompt}
	assistantStored := model.StoredMessage{
		Role: string(llmmodel.RoleAssistant),
		Text: fmt.Sprintf("Generated a %dx%d image.", width, height),
	}
	if err := session.AppendInteraction(userStored, assistantStored); err != nil {
		logger.Logger.Error("failed to append draw interaction",
			zap.Int("session_id", session.Id), zap.Error(err))
	} else if err := session.Save(context.Background()); err != nil {
		logger.Logger.Error("failed to persist draw session",
			zap.Int("session_id", session.Id), zap.Error(err))
	}

	usage := &model.UsageLog{
		UserId:        req.UserId,
		ModuleName:    mod.Name,
		ModelId:       entry.Id,
		SessionId:     session.Id,
		Rounds:        1,
		ElapsedTimeMs: helper.ElapsedMs(elapsed),
		RequestId:     req.RequestId,
	}
	graceful.GoCritical(context.Background(), "record draw usage", func(ctx context.Context) {
		model.RecordUsage(ctx, usage)
	})

	mime := ref.MIME
	if mime == "" {
		mime = "image/png"
	}
	return &DrawResult{
		SessionId: session.Id,
		ModelId:   entry.Id,
		MIME:      mime,
		Data:      ref.Data,
		Width:     width,
		Height:    height,
	}, nil
}

func resolveImageParams(overrides *llmmodel.ImageParams, mod *registry.Module) (*llmmodel.ImageParams, error) {
	defaults, err := mod.ImageParams()
	if err != nil {
		return nil, err
	}
	if overrides == nil {
		return defaults, nil
	}

	p, err := overrides.Clone()
	if err != nil {
		return nil, err
	}
	p.MergeDefaults(defaults)
	return p, nil
}

// imageDimensions reads the real size out of the returned bytes, falling
// back to the requested dimensions when the payload cannot be decoded.
func imageDimensions(ref *llmmodel.ImageRef, params *llmmodel.ImageParams) (int, int) {
	if ref.Data != "" {
		if w, h, err := image.GetImageSizeFromBase64(ref.Data); err == nil {
			return w, h
		}
		logger.Logger.Warn("generated image payload is not decodable, reporting requested size")
	}
	if params != nil {
		return params.Width, params.Height
	}
	return 0, 0
}

// Package stability adapts Stability image models on Bedrock to the neutral
// image contract. Two wire formats exist: the SDXL generation API
// (text_prompts/artifacts) and the newer stable-image family
// (prompt/images); the model id picks the format.
package stability

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Laisky/errors/v2"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/orchidlake/llmstudio/llm/adaptor"
	"github.com/orchidlake/llmstudio/llm/adaptor/bedrock"
	"github.com/orchidlake/llmstudio/llm/model"
)

// Vendor is the catalog name routing models to this adapter.
const Vendor = "STABILITY"

var _ adaptor.ImageAdaptor = (*Adaptor)(nil)

// Adaptor generates images through Bedrock InvokeModel. Generation
// parameters arrive per call, so one instance per model id serves every
// request.
type Adaptor struct {
	modelID string
	client  *bedrockruntime.Client
}

// New builds a Stability adapter for the configured model.
func New(modelID string) (*Adaptor, error) {
	if modelID == "" {
		return nil, model.NewProviderError(model.ErrInvalidRequest,
			"model id is empty", "adapter constructed without a model id")
	}
	client, err := bedrock.Client(context.Background())
	if err != nil {
		return nil, model.WrapProviderError(err, model.ErrAuthFailed, "cannot reach bedrock")
	}
	return &Adaptor{modelID: modelID, client: client}, nil
}

// GenerateImage runs one text-to-image call and returns the inline result.
func (a *Adaptor) GenerateImage(ctx context.Context, prompt string, params *model.ImageParams) (*model.ImageRef, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, model.NewProviderError(model.ErrInvalidRequest, "image prompt is empty", "")
	}

	var (
		body []byte
		err  error
	)
	if isSDXL(a.modelID) {
		body, err = buildSDXLBody(prompt, params)
	} else {
		body, err = buildStableImageBody(prompt, params)
	}
	if err != nil {
		return nil, err
	}

	ctx, cancel := adaptor.CallContext(ctx)
	defer cancel()

	output, err := a.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(a.modelID),
		Body:        body,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, classifyError(err)
	}

	if isSDXL(a.modelID) {
		return parseSDXLResponse(output.Body)
	}
	return parseStableImageResponse(output.Body, params)
}

// isSDXL reports whether the model speaks the legacy SDXL generation API.
func isSDXL(modelID string) bool {
	return strings.Contains(modelID, "stable-diffusion")
}

type sdxlTextPrompt struct {
	Text   string  `json:"text"`
	Weight float64 `json:"weight,omitempty"`
}

type sdxlRequest struct {
	TextPrompts []sdxlTextPrompt `json:"text_prompts"`
	CfgScale    *float64         `json:"cfg_scale,omitempty"`
	Steps       *int             `json:"steps,omitempty"`
	Width       int              `json:"width,omitempty"`
	Height      int              `json:"height,omitempty"`
	Seed        *int64           `json:"seed,omitempty"`
	StylePreset string           `json:"style_preset,omitempty"`
}

type sdxlArtifact struct {
	Base64       string `json:"base64"`
	Seed         int64  `json:"seed"`
	FinishReason string `json:"finishReason"`
}

type sdxlResponse struct {
	Result    string         `json:"result"`
	Artifacts []sdxlArtifact `json:"artifacts"`
}

func buildSDXLBody(prompt string, params *model.ImageParams) ([]byte, error) {
	req := sdxlRequest{
		TextPrompts: []sdxlTextPrompt{{Text: prompt, Weight: 1}},
	}
	if params != nil {
		req.CfgScale = params.CfgScale
		req.Steps = params.Steps
		req.Width = params.Width
		req.Height = params.Height
		req.Seed = params.Seed
		req.StylePreset = params.StylePreset
		if params.NegativePrompt != "" {
			req.TextPrompts = append(req.TextPrompts, sdxlTextPrompt{Text: params.NegativePrompt, Weight: -1})
		}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, model.WrapProviderError(err, model.ErrInvalidRequest, "image request is not serializable")
	}
	return body, nil
}

func parseSDXLResponse(body []byte) (*model.ImageRef, error) {
	var resp sdxlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, model.WrapProviderError(err, model.ErrUnknown, "stability returned an unreadable response")
	}
	if len(resp.Artifacts) == 0 {
		return nil, model.NewProviderError(model.ErrUnknown, "stability returned no image", "result "+resp.Result)
	}
	artifact := resp.Artifacts[0]
	if artifact.FinishReason == "CONTENT_FILTERED" {
		return nil, model.NewProviderError(model.ErrInvalidRequest,
			"the prompt was rejected by the content filter", "finish reason "+artifact.FinishReason)
	}
	if artifact.Base64 == "" {
		return nil, model.NewProviderError(model.ErrUnknown, "stability returned an empty image",
			"finish reason "+artifact.FinishReason)
	}
	return &model.ImageRef{MIME: "image/png", Data: artifact.Base64}, nil
}

type stableImageRequest struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	AspectRatio    string `json:"aspect_ratio,omitempty"`
	OutputFormat   string `json:"output_format,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
	Mode           string `json:"mode,omitempty"`
}

type stableImageResponse struct {
	Images        []string `json:"images"`
	FinishReasons []string `json:"finish_reasons"`
}

func buildStableImageBody(prompt string, params *model.ImageParams) ([]byte, error) {
	req := stableImageRequest{
		Prompt:       prompt,
		OutputFormat: "png",
		Mode:         "text-to-image",
	}
	if params != nil {
		req.NegativePrompt = params.NegativePrompt
		req.AspectRatio = params.AspectRatio
		req.Seed = params.Seed
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, model.WrapProviderError(err, model.ErrInvalidRequest, "image request is not serializable")
	}
	return body, nil
}

func parseStableImageResponse(body []byte, params *model.ImageParams) (*model.ImageRef, error) {
	var resp stableImageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, model.WrapProviderError(err, model.ErrUnknown, "stability returned an unreadable response")
	}
	// finish_reasons holds null for success, a filter message otherwise
	for _, reason := range resp.FinishReasons {
		if reason != "" {
			return nil, model.NewProviderError(model.ErrInvalidRequest,
				"the prompt was rejected by the content filter", reason)
		}
	}
	if len(resp.Images) == 0 || resp.Images[0] == "" {
		return nil, model.NewProviderError(model.ErrUnknown, "stability returned no image", "")
	}
	return &model.ImageRef{MIME: "image/png", Data: resp.Images[0]}, nil
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}

	var throttled *types.ThrottlingException
	var denied *types.AccessDeniedException
	var invalid *types.ValidationException

	switch {
	case errors.As(err, &throttled):
		return model.WrapProviderError(err, model.ErrRateLimited, "the model is receiving too many requests, please retry shortly")
	case errors.As(err, &denied):
		return model.WrapProviderError(err, model.ErrAuthFailed, "bedrock rejected the configured credentials")
	case errors.As(err, &invalid):
		return model.WrapProviderError(err, model.ErrInvalidRequest, "bedrock rejected the request")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return model.WrapProviderError(err, model.CodeFromContextErr(err), "the request was cut short")
	default:
		return model.WrapProviderError(err, model.ErrUnknown, "stability image generation failed")
	}
}

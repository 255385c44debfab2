package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/Laisky/errors/v2"
	"github.com/jinzhu/copier"
)

// InferenceParams are the vendor-neutral text generation controls. Pointer
// fields distinguish "caller did not set" from explicit zero values so module
// defaults can fill the gaps without clobbering intent.
type InferenceParams struct {
	MaxTokens     int      `json:"max_tokens,omitempty"     yaml:"max_tokens"`
	Temperature   *float64 `json:"temperature,omitempty"    yaml:"temperature"`
	TopP          *float64 `json:"top_p,omitempty"          yaml:"top_p"`
	TopK          *int     `json:"top_k,omitempty"          yaml:"top_k"`
	StopSequences []string `json:"stop_sequences,omitempty" yaml:"stop_sequences"`
}

// ImageParams are the image-generation parameter variant. A provider call
// site uses exactly one of InferenceParams or ImageParams.
type ImageParams struct {
	Width          int      `json:"width,omitempty"           yaml:"width"`
	Height         int      `json:"height,omitempty"          yaml:"height"`
	CfgScale       *float64 `json:"cfg_scale,omitempty"       yaml:"cfg_scale"`
	Steps          *int     `json:"steps,omitempty"           yaml:"steps"`
	AspectRatio    string   `json:"aspect_ratio,omitempty"    yaml:"aspect_ratio"`
	StylePreset    string   `json:"style_preset,omitempty"    yaml:"style_preset"`
	NegativePrompt string   `json:"negative_prompt,omitempty" yaml:"negative_prompt"`
	Seed           *int64   `json:"seed,omitempty"            yaml:"seed"`
}

// Validate enforces the documented parameter ranges. Callers merge module
// defaults first (MergeDefaults treats zero MaxTokens as unset), so an
// unresolved zero here is a configuration error.
func (p *InferenceParams) Validate() error {
	if p.MaxTokens <= 0 {
		return errors.New("max_tokens must be positive")
	}
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 1) {
		return errors.Errorf("temperature must be within [0,1], got %v", *p.Temperature)
	}
	if p.TopP != nil && (*p.TopP < 0 || *p.TopP > 1) {
		return errors.Errorf("top_p must be within [0,1], got %v", *p.TopP)
	}
	if p.TopK != nil && *p.TopK < 0 {
		return errors.Errorf("top_k must not be negative, got %d", *p.TopK)
	}
	return nil
}

// Clone returns a deep copy so callers can override fields without mutating
// shared module defaults.
func (p *InferenceParams) Clone() (*InferenceParams, error) {
	if p == nil {
		return nil, nil
	}
	out := new(InferenceParams)
	if err := copier.CopyWithOption(out, p, copier.Option{DeepCopy: true}); err != nil {
		return nil, errors.Wrap(err, "clone inference params")
	}
	return out, nil
}

// MergeDefaults fills unset fields from defaults. Explicit caller values win.
func (p *InferenceParams) MergeDefaults(defaults *InferenceParams) {
	if defaults == nil {
		return
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = defaults.MaxTokens
	}
	if p.Temperature == nil {
		p.Temperature = defaults.Temperature
	}
	if p.TopP == nil {
		p.TopP = defaults.TopP
	}
	if p.TopK == nil {
		p.TopK = defaults.TopK
	}
	if len(p.StopSequences) == 0 {
		p.StopSequences = defaults.StopSequences
	}
}

// Hash returns a stable digest of the parameter values, used as part of the
// provider cache key so custom parameters never collide with defaults.
func (p *InferenceParams) Hash() string {
	if p == nil {
		return "default"
	}
	// json.Marshal on a struct is deterministic (fields in declaration order)
	raw, err := json.Marshal(p)
	if err != nil {
		return "unhashable"
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}

// MergeDefaults fills unset image fields from defaults. Explicit caller
// values win.
func (p *ImageParams) MergeDefaults(defaults *ImageParams) {
	if defaults == nil {
		return
	}
	if p.Width == 0 {
		p.Width = defaults.Width
	}
	if p.Height == 0 {
		p.Height = defaults.Height
	}
	if p.CfgScale == nil {
		p.CfgScale = defaults.CfgScale
	}
	if p.Steps == nil {
		p.Steps = defaults.Steps
	}
	if p.AspectRatio == "" {
		p.AspectRatio = defaults.AspectRatio
	}
	if p.StylePreset == "" {
		p.StylePreset = defaults.StylePreset
	}
	if p.NegativePrompt == "" {
		p.NegativePrompt = defaults.NegativePrompt
	}
	if p.Seed == nil {
		p.Seed = defaults.Seed
	}
}

// Clone returns a deep copy of the image parameters.
func (p *ImageParams) Clone() (*ImageParams, error) {
	if p == nil {
		return nil, nil
	}
	out := new(ImageParams)
	if err := copier.CopyWithOption(out, p, copier.Option{DeepCopy: true}); err != nil {
		return nil, errors.Wrap(err, "clone image params")
	}
	return out, nil
}

// Hash returns a stable digest of the image parameter values.
func (p *ImageParams) Hash() string {
	if p == nil {
		return "default"
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return "unhashable"
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:8])
}

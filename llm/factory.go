package llm

import (
	"github.com/orchidlake/llmstudio/llm/adaptor"
	"github.com/orchidlake/llmstudio/llm/adaptor/bedrock"
	"github.com/orchidlake/llmstudio/llm/adaptor/gemini"
	"github.com/orchidlake/llmstudio/llm/adaptor/openai"
	"github.com/orchidlake/llmstudio/llm/adaptor/stability"
	"github.com/orchidlake/llmstudio/llm/model"
	"github.com/orchidlake/llmstudio/llm/tool"
)

// NewAdaptor constructs the conversational adapter for one catalog entry.
// Tool names resolve through the default registry, which logs and skips the
// ones it cannot build rather than failing construction.
func NewAdaptor(vendorName, modelID string, params *model.InferenceParams, toolNames []string) (adaptor.Adaptor, error) {
	vendor, err := VendorFromName(vendorName)
	if err != nil {
		return nil, err
	}

	cfg := adaptor.Config{
		ModelID: modelID,
		Vendor:  string(vendor),
		Params:  params,
		Tools:   tool.Default().Specs(toolNames),
	}
	switch vendor {
	case VendorBedrock:
		return bedrock.New(cfg)
	case VendorBedrockInvoke:
		return bedrock.NewInvoke(cfg)
	case VendorGemini:
		return gemini.New(cfg)
	case VendorOpenAI:
		return openai.New(cfg)
	default:
		return nil, model.NewProviderError(model.ErrInvalidRequest,
			"vendor does not serve conversations", string(vendor)+" is an image backend")
	}
}

// NewImageAdaptor constructs the image adapter for one catalog entry.
func NewImageAdaptor(vendorName, modelID string) (adaptor.ImageAdaptor, error) {
	vendor, err := VendorFromName(vendorName)
	if err != nil {
		return nil, err
	}
	if !vendor.GeneratesImages() {
		return nil, model.NewProviderError(model.ErrInvalidRequest,
			"vendor does not generate images", string(vendor))
	}
	return stability.New(modelID)
}

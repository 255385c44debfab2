// Package llm ties the neutral conversation model to concrete vendor
// backends: a vendor enum, the adapter factory, and the conversation engine
// that drives the bounded tool-use loop.
package llm

import (
	"strings"

	"github.com/orchidlake/llmstudio/llm/model"
)

// Vendor identifies one provider backend.
type Vendor string

const (
	VendorBedrock       Vendor = "BEDROCK"
	VendorBedrockInvoke Vendor = "BEDROCK_INVOKE"
	VendorGemini        Vendor = "GEMINI"
	VendorOpenAI        Vendor = "OPENAI"
	VendorStability     Vendor = "STABILITY"
)

// Vendors lists every known backend.
func Vendors() []Vendor {
	return []Vendor{VendorBedrock, VendorBedrockInvoke, VendorGemini, VendorOpenAI, VendorStability}
}

// VendorFromName normalizes a catalog vendor name. Unknown names fail here,
// at configuration time, not on first call.
func VendorFromName(name string) (Vendor, error) {
	vendor := Vendor(strings.ToUpper(strings.TrimSpace(name)))
	switch vendor {
	case VendorBedrock, VendorBedrockInvoke, VendorGemini, VendorOpenAI, VendorStability:
		return vendor, nil
	default:
		return "", model.NewProviderError(model.ErrInvalidRequest, "unknown vendor", name)
	}
}

// GeneratesImages reports whether the vendor serves the image contract
// instead of the conversational one.
func (v Vendor) GeneratesImages() bool {
	return v == VendorStability
}

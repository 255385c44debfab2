// Package builtin ships the tool handlers available out of the box:
// weather lookup, web search, web page fetch and image generation.
package builtin

import (
	"github.com/orchidlake/llmstudio/llm/tool"
)

// Builders returns the static name to builder map the registry is
// initialized with at process start.
func Builders() map[string]tool.Builder {
	return map[string]tool.Builder{
		"get_weather":    buildWeather,
		"web_search":     buildWebSearch,
		"web_fetch":      buildWebFetch,
		"generate_image": buildGenerateImage,
	}
}

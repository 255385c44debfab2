package builtin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Laisky/errors/v2"

	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/llm/model"
	"github.com/orchidlake/llmstudio/llm/tool"
)

// ImageGenerator turns a prompt into an image. The concrete generator is
// injected at startup from the image adapter so this package never depends
// on vendor SDKs.
type ImageGenerator func(ctx context.Context, prompt string) (*model.ImageRef, error)

var (
	imageGeneratorMu sync.RWMutex
	imageGenerator   ImageGenerator
)

// SetImageGenerator installs the generator backing the generate_image tool.
func SetImageGenerator(g ImageGenerator) {
	imageGeneratorMu.Lock()
	defer imageGeneratorMu.Unlock()
	imageGenerator = g
}

func buildGenerateImage() (*tool.Spec, error) {
	imageGeneratorMu.RLock()
	installed := imageGenerator != nil
	imageGeneratorMu.RUnlock()
	if !installed {
		return nil, errors.New("no image generator installed")
	}

	return tool.NewSpec(
		"generate_image",
		"Generate an image from a text prompt. The image is delivered to the user directly; tell them it is ready instead of describing pixels.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"prompt": map[string]any{
					"type":        "string",
					"description": "Description of the image to generate",
				},
			},
			"required": []string{"prompt"},
		},
		generateImageHandler,
	), nil
}

func generateImageHandler(ctx context.Context, input map[string]any) (map[string]any, error) {
	prompt, _ := input["prompt"].(string)
	if prompt == "" {
		return nil, errors.New("prompt is required")
	}

	imageGeneratorMu.RLock()
	generate := imageGenerator
	imageGeneratorMu.RUnlock()
	if generate == nil {
		return nil, errors.New("no image generator installed")
	}

	// image models are slower than text tools, allow a double budget
	ctx, cancel := context.WithTimeout(ctx, 2*time.Duration(config.ToolTimeout)*time.Second)
	defer cancel()

	image, err := generate(ctx, prompt)
	if err != nil {
		return nil, errors.Wrap(err, "generate image")
	}

	return map[string]any{
		"status": "generated",
		"mime":   image.MIME,
		"image":  fmt.Sprintf("data:%s;base64,%s", image.MIME, image.Data),
	}, nil
}

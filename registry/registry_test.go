package registry

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orchidlake/llmstudio/llm/model"
)

func TestParseEmbeddedCatalog(t *testing.T) {
	r, err := Parse(defaultYAML)
	require.NoError(t, err)
	require.NotEmpty(t, r.modelList)
	require.NotEmpty(t, r.moduleList)

	for _, mod := range r.moduleList {
		_, ok := r.models[mod.DefaultModel]
		require.Truef(t, ok, "module %s default model missing from catalog", mod.Name)
	}
}

func TestParseValidatesVendor(t *testing.T) {
	_, err := Parse([]byte(`
models:
  - id: some-model
    vendor: MIDJOURNEY
    category: chat
modules:
  - name: chat
    default_model: some-model
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown vendor")
}

func TestParseRejectsDanglingDefaultModel(t *testing.T) {
	_, err := Parse([]byte(`
models:
  - id: some-model
    vendor: OPENAI
    category: chat
modules:
  - name: chat
    default_model: other-model
`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "not in the catalog")
}

func TestParseRejectsBadParams(t *testing.T) {
	_, err := Parse([]byte(`
models:
  - id: some-model
    vendor: OPENAI
    category: chat
modules:
  - name: chat
    default_model: some-model
    params:
      max_tokens: 100
      temperature: 3.5
`))
	require.Error(t, err)
}

func TestModuleParamsAreCopies(t *testing.T) {
	chat, err := ModuleByName("chat")
	require.NoError(t, err)

	first, err := chat.Params()
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, 2048, first.MaxTokens)

	first.MaxTokens = 1
	*first.Temperature = 0

	second, err := chat.Params()
	require.NoError(t, err)
	require.Equal(t, 2048, second.MaxTokens)
	require.InDelta(t, 0.7, *second.Temperature, 1e-9)
}

func TestModelCapabilities(t *testing.T) {
	sonnet, err := ModelById("anthropic.claude-3-5-sonnet-20240620-v1:0")
	require.NoError(t, err)
	require.True(t, sonnet.AcceptsImages())
	require.False(t, sonnet.EmitsImages())
	require.True(t, sonnet.SupportsStreaming())
	require.True(t, sonnet.SupportsTools())

	sdxl, err := ModelById("stability.stable-diffusion-xl-v1")
	require.NoError(t, err)
	require.True(t, sdxl.EmitsImages())
	require.False(t, sdxl.SupportsTools())
}

func TestModelByIdUnknown(t *testing.T) {
	_, err := ModelById("no-such-model")
	require.Error(t, err)
	perr, ok := model.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, model.ErrInvalidRequest, perr.Code)
}

func TestModuleByNameUnknown(t *testing.T) {
	_, err := ModuleByName("no-such-module")
	require.Error(t, err)
	perr, ok := model.AsProviderError(err)
	require.True(t, ok)
	require.Equal(t, model.ErrInvalidRequest, perr.Code)
}

func TestDrawModuleImageParams(t *testing.T) {
	draw, err := ModuleByName("draw")
	require.NoError(t, err)

	params, err := draw.ImageParams()
	require.NoError(t, err)
	require.NotNil(t, params)
	require.Equal(t, 1024, params.Width)
	require.Equal(t, 1024, params.Height)
	require.NotNil(t, params.CfgScale)

	textParams, err := draw.Params()
	require.NoError(t, err)
	require.Nil(t, textParams)
}

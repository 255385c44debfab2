// Package registry holds the process-wide model catalog and module
// configuration. The catalog ships embedded; REGISTRY_PATH swaps in an
// external YAML file at startup. After Load the registry is read-only.
package registry

import (
	_ "embed"
	"os"
	"sync"

	"github.com/Laisky/errors/v2"
	"gopkg.in/yaml.v3"

	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/llm"
	"github.com/orchidlake/llmstudio/llm/model"
)

//go:embed default.yaml
var defaultYAML []byte

// Model is one catalog entry: a model id, the vendor that serves it, and
// what the model can consume and produce.
type Model struct {
	Id           string       `yaml:"id" json:"id"`
	Vendor       string       `yaml:"vendor" json:"vendor"`
	Category     string       `yaml:"category" json:"category"`
	Capabilities Capabilities `yaml:"capabilities" json:"capabilities"`
}

type Capabilities struct {
	InputModality  []string `yaml:"input_modality" json:"input_modality"`
	OutputModality []string `yaml:"output_modality" json:"output_modality"`
	Streaming      bool     `yaml:"streaming" json:"streaming"`
	ToolUse        bool     `yaml:"tool_use" json:"tool_use"`
}

func (m *Model) AcceptsImages() bool {
	return hasModality(m.Capabilities.InputModality, "image")
}

func (m *Model) EmitsImages() bool {
	return hasModality(m.Capabilities.OutputModality, "image")
}

func (m *Model) SupportsStreaming() bool { return m.Capabilities.Streaming }

func (m *Model) SupportsTools() bool { return m.Capabilities.ToolUse }

func hasModality(modalities []string, want string) bool {
	for _, m := range modalities {
		if m == want {
			return true
		}
	}
	return false
}

// Module is one task area: its default model, prompt, parameter defaults
// and enabled tools.
type Module struct {
	Name             string   `json:"name"`
	DefaultModel     string   `json:"default_model"`
	SystemPrompt     string   `json:"system_prompt"`
	Tools            []string `json:"tools"`
	SeparateThinking bool     `json:"separate_thinking"`

	params      *model.InferenceParams
	imageParams *model.ImageParams
}

// Params returns a copy of the module's inference defaults so callers can
// merge per-request overrides without touching the shared registry. Nil
// when the module configures none.
func (m *Module) Params() (*model.InferenceParams, error) {
	if m.params == nil {
		return nil, nil
	}
	p, err := m.params.Clone()
	if err != nil {
		return nil, errors.Wrapf(err, "clone params of module %s", m.Name)
	}
	return p, nil
}

// ImageParams returns a copy of the module's image generation defaults.
func (m *Module) ImageParams() (*model.ImageParams, error) {
	if m.imageParams == nil {
		return nil, nil
	}
	p, err := m.imageParams.Clone()
	if err != nil {
		return nil, errors.Wrapf(err, "clone image params of module %s", m.Name)
	}
	return p, nil
}

// Registry is a parsed, validated catalog snapshot.
type Registry struct {
	models     map[string]*Model
	modelList  []*Model
	modules    map[string]*Module
	moduleList []*Module
}

type catalogYAML struct {
	Models  []*Model     `yaml:"models"`
	Modules []moduleYAML `yaml:"modules"`
}

type moduleYAML struct {
	Name             string                 `yaml:"name"`
	DefaultModel     string                 `yaml:"default_model"`
	SystemPrompt     string                 `yaml:"system_prompt"`
	Params           *model.InferenceParams `yaml:"params"`
	ImageParams      *model.ImageParams     `yaml:"image_params"`
	Tools            []string               `yaml:"tools"`
	SeparateThinking bool                   `yaml:"separate_thinking"`
}

// Parse decodes and validates one catalog document.
func Parse(data []byte) (*Registry, error) {
	var doc catalogYAML
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode registry yaml")
	}
	if len(doc.Models) == 0 {
		return nil, errors.New("registry defines no models")
	}
	if len(doc.Modules) == 0 {
		return nil, errors.New("registry defines no modules")
	}

	r := &Registry{
		models:  make(map[string]*Model, len(doc.Models)),
		modules: make(map[string]*Module, len(doc.Modules)),
	}

	for _, entry := range doc.Models {
		if entry.Id == "" {
			return nil, errors.New("model entry without an id")
		}
		if _, dup := r.models[entry.Id]; dup {
			return nil, errors.Errorf("duplicate model id %q", entry.Id)
		}
		if _, err := llm.VendorFromName(entry.Vendor); err != nil {
			return nil, errors.Wrapf(err, "model %q", entry.Id)
		}
		r.models[entry.Id] = entry
		r.modelList = append(r.modelList, entry)
	}

	for _, m := range doc.Modules {
		if m.Name == "" {
			return nil, errors.New("module entry without a name")
		}
		if _, dup := r.modules[m.Name]; dup {
			return nil, errors.Errorf("duplicate module name %q", m.Name)
		}
		def, ok := r.models[m.DefaultModel]
		if !ok {
			return nil, errors.Errorf("module %q: default model %q is not in the catalog", m.Name, m.DefaultModel)
		}

		entry := &Module{
			Name:             m.Name,
			DefaultModel:     m.DefaultModel,
			SystemPrompt:     m.SystemPrompt,
			Tools:            m.Tools,
			SeparateThinking: m.SeparateThinking,
		}
		if m.Params != nil {
			if err := m.Params.Validate(); err != nil {
				return nil, errors.Wrapf(err, "module %q params", m.Name)
			}
			entry.params = m.Params
		}
		if m.ImageParams != nil {
			if !def.EmitsImages() {
				return nil, errors.Errorf("module %q configures image params but model %q does not emit images", m.Name, m.DefaultModel)
			}
			entry.imageParams = m.ImageParams
		}
		r.modules[entry.Name] = entry
		r.moduleList = append(r.moduleList, entry)
	}

	return r, nil
}

var (
	mu  sync.RWMutex
	std *Registry
)

// Load installs the process catalog from REGISTRY_PATH when set, the
// embedded default otherwise. Called once from main before serving.
func Load() error {
	data := defaultYAML
	if config.RegistryPath != "" {
		external, err := os.ReadFile(config.RegistryPath)
		if err != nil {
			return errors.Wrapf(err, "read registry file %s", config.RegistryPath)
		}
		data = external
	}
	r, err := Parse(data)
	if err != nil {
		return err
	}
	mu.Lock()
	std = r
	mu.Unlock()
	return nil
}

func active() *Registry {
	mu.RLock()
	r := std
	mu.RUnlock()
	if r != nil {
		return r
	}
	// callers running before Load, tests mostly, get the embedded catalog
	r, err := Parse(defaultYAML)
	if err != nil {
		panic("embedded registry is invalid: " + err.Error())
	}
	mu.Lock()
	std = r
	mu.Unlock()
	return r
}

// Models lists the catalog in file order.
func Models() []*Model { return active().modelList }

// ModelById resolves a model id. Unknown ids are a configuration error.
func ModelById(id string) (*Model, error) {
	if m, ok := active().models[id]; ok {
		return m, nil
	}
	return nil, model.NewProviderError(model.ErrInvalidRequest, "unknown model",
		"model "+id+" is not in the catalog")
}

// Modules lists configured modules in file order.
func Modules() []*Module { return active().moduleList }

// ModuleByName resolves a module name. Unknown names are a caller error.
func ModuleByName(name string) (*Module, error) {
	if m, ok := active().modules[name]; ok {
		return m, nil
	}
	return nil, model.NewProviderError(model.ErrInvalidRequest, "unknown module",
		"module "+name+" is not configured")
}

package tool

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/Laisky/zap"

	"github.com/orchidlake/llmstudio/common/logger"
	"github.com/orchidlake/llmstudio/monitor"
)

// Registry maps tool names to specs. Builders run at most once, on the
// first lookup of their name; a failed build is cached as unavailable so a
// broken tool cannot stall every conversation that references it.
type Registry struct {
	mu       sync.Mutex
	builders map[string]Builder
	specs    map[string]*Spec
	failed   map[string]bool
}

func NewRegistry(builders map[string]Builder) *Registry {
	if builders == nil {
		builders = map[string]Builder{}
	}
	return &Registry{
		builders: builders,
		specs:    make(map[string]*Spec),
		failed:   make(map[string]bool),
	}
}

// Add registers one more builder. Used by the MCP source after the static
// map is installed; names already taken are kept, not overwritten.
func (r *Registry) Add(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.builders[name]; ok {
		logger.Logger.Warn("tool name already registered, keeping existing", zap.String("tool", name))
		return
	}
	r.builders[name] = builder
}

// GetSpec resolves a name to its spec, loading it on first use. Unknown
// names and failed builds return nil after a log line, never an error.
func (r *Registry) GetSpec(name string) *Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getSpecLocked(name)
}

func (r *Registry) getSpecLocked(name string) *Spec {
	if spec, ok := r.specs[name]; ok {
		return spec
	}
	if r.failed[name] {
		return nil
	}

	builder, ok := r.builders[name]
	if !ok {
		logger.Logger.Warn("unknown tool requested", zap.String("tool", name))
		return nil
	}

	spec, err := builder()
	if err != nil || spec == nil {
		r.failed[name] = true
		logger.Logger.Warn("tool failed to load, skipping",
			zap.String("tool", name),
			zap.Error(err))
		return nil
	}
	r.specs[name] = spec
	return spec
}

// Specs resolves a list of enabled tool names, silently skipping the ones
// that are unknown or failed to load.
func (r *Registry) Specs(names []string) []*Spec {
	r.mu.Lock()
	defer r.mu.Unlock()
	specs := make([]*Spec, 0, len(names))
	for _, name := range names {
		if spec := r.getSpecLocked(name); spec != nil {
			specs = append(specs, spec)
		}
	}
	return specs
}

// Names lists every registered tool name, loaded or not.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	return names
}

// Execute runs a tool call and always returns a payload. Handler errors
// and panics come back as {"error": ...} so a misbehaving tool turns into
// model-visible feedback instead of a crashed conversation. The registry
// imposes no deadline of its own; handlers bound their own latency.
func (r *Registry) Execute(ctx context.Context, name string, input map[string]any) (result map[string]any) {
	defer func() {
		if p := recover(); p != nil {
			logger.Logger.Error("tool handler panicked",
				zap.String("tool", name),
				zap.Any("panic", p),
				zap.String("stacktrace", string(debug.Stack())))
			result = map[string]any{"error": fmt.Sprintf("tool %s panicked: %v", name, p)}
		}
	}()

	spec := r.GetSpec(name)
	if spec == nil {
		return map[string]any{"error": fmt.Sprintf("tool %s is not available", name)}
	}
	if spec.handler == nil {
		return map[string]any{"error": fmt.Sprintf("tool %s has no handler", name)}
	}

	start := time.Now()
	payload, err := spec.handler(ctx, input)
	if err != nil {
		logger.Logger.Warn("tool handler failed",
			zap.String("tool", name),
			zap.Error(err))
		monitor.RecordToolExecution(name, false, time.Since(start))
		return map[string]any{"error": err.Error()}
	}
	monitor.RecordToolExecution(name, true, time.Since(start))
	if payload == nil {
		payload = map[string]any{}
	}
	return payload
}

var (
	defaultRegistry   *Registry
	defaultRegistryMu sync.RWMutex
)

// Init installs the process-wide registry. Called once from main with the
// builtin builder map before any conversation starts.
func Init(builders map[string]Builder) {
	defaultRegistryMu.Lock()
	defer defaultRegistryMu.Unlock()
	defaultRegistry = NewRegistry(builders)
}

// Default returns the process-wide registry, creating an empty one when
// Init has not run (tests exercise packages in isolation).
func Default() *Registry {
	defaultRegistryMu.RLock()
	r := defaultRegistry
	defaultRegistryMu.RUnlock()
	if r != nil {
		return r
	}

	defaultRegistryMu.Lock()
	defer defaultRegistryMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry(nil)
	}
	return defaultRegistry
}

// GetSpec resolves a name against the default registry.
func GetSpec(name string) *Spec {
	return Default().GetSpec(name)
}

// Execute runs a tool call against the default registry.
func Execute(ctx context.Context, name string, input map[string]any) map[string]any {
	return Default().Execute(ctx, name, input)
}

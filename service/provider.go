package service

import (
	"strings"
	"time"

	"github.com/Laisky/zap"
	gocache "github.com/patrickmn/go-cache"

	"github.com/orchidlake/llmstudio/common/config"
	"github.com/orchidlake/llmstudio/common/logger"
	"github.com/orchidlake/llmstudio/llm"
	"github.com/orchidlake/llmstudio/llm/adaptor"
	llmmodel "github.com/orchidlake/llmstudio/llm/model"
)

// ProviderCache hands out vendor adapters. Adapters are stateless but not
// free to build (AWS credential resolution, API client setup), so instances
// configured with module defaults are shared until the TTL lapses. A request
// carrying its own parameter overrides always gets a fresh adapter and is
// never written back, so a custom call cannot poison later default calls.
type ProviderCache struct {
	cache *gocache.Cache

	buildText  func(vendor, modelId string, params *llmmodel.InferenceParams, tools []string) (adaptor.Adaptor, error)
	buildImage func(vendor, modelId string) (adaptor.ImageAdaptor, error)
}

func NewProviderCache() *ProviderCache {
	ttl := time.Duration(config.ProviderCacheTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ProviderCache{
		cache:      gocache.New(ttl, 10*time.Minute),
		buildText:  llm.NewAdaptor,
		buildImage: llm.NewImageAdaptor,
	}
}

func adaptorKey(modelId string, tools []string, params *llmmodel.InferenceParams) string {
	return modelId + "|" + strings.Join(tools, ",") + "|" + params.Hash()
}

// Adaptor returns a conversing adapter for the model. cacheable marks calls
// whose parameters are the module defaults; override calls bypass the cache
// in both directions.
func (pc *ProviderCache) Adaptor(vendor, modelId string, params *llmmodel.InferenceParams, tools []string, cacheable bool) (adaptor.Adaptor, error) {
	key := adaptorKey(modelId, tools, params)
	if cacheable {
		if hit, ok := pc.cache.Get(key); ok {
			return hit.(adaptor.Adaptor), nil
		}
	}

	a, err := pc.buildText(vendor, modelId, params, tools)
	if err != nil {
		return nil, err
	}
	if cacheable {
		pc.cache.Set(key, a, gocache.DefaultExpiration)
		logger.Logger.Debug("cached provider adapter",
			zap.String("vendor", vendor), zap.String("model", modelId))
	}
	return a, nil
}

// ImageAdaptor returns an image generation adapter. Image parameters travel
// per call rather than per client, so instances are keyed by model id alone.
func (pc *ProviderCache) ImageAdaptor(vendor, modelId string) (adaptor.ImageAdaptor, error) {
	key := "image|" + modelId
	if hit, ok := pc.cache.Get(key); ok {
		return hit.(adaptor.ImageAdaptor), nil
	}

	a, err := pc.buildImage(vendor, modelId)
	if err != nil {
		return nil, err
	}
	pc.cache.Set(key, a, gocache.DefaultExpiration)
	return a, nil
}

// Invalidate drops every cached adapter so clients built on stale
// credentials or a replaced registry do not outlive the configuration that
// produced them.
func (pc *ProviderCache) Invalidate() {
	pc.cache.Flush()
	logger.Logger.Info("provider adapter cache flushed")
}

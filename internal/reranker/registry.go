// Package reranker owns the process-wide cross-encoder cache, mirroring
// the embedding registry: keyed by model id, lazy init, no eviction,
// teardown at process shutdown.
package reranker

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/alexban14/ai.dok/internal/domain"
)

// Factory constructs a reranker for a model id.
type Factory func(modelID string) (domain.Reranker, error)

// Registry is the typed handle to the cross-encoder cache.
type Registry struct {
	mu      sync.Mutex
	factory Factory
	models  map[string]domain.Reranker
	logger  *zap.Logger
}

// NewRegistry creates an empty registry backed by the factory.
func NewRegistry(factory Factory, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{factory: factory, models: map[string]domain.Reranker{}, logger: logger}
}

// Get returns the cached reranker for modelID, constructing it on first use.
func (r *Registry) Get(modelID string) (domain.Reranker, error) {
	if modelID == "" {
		return nil, fmt.Errorf("%w: reranker model id is required", domain.ErrConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.models[modelID]; ok {
		return m, nil
	}

	m, err := r.factory(modelID)
	if err != nil {
		return nil, fmt.Errorf("load reranker model %s: %w", modelID, err)
	}
	r.logger.Info("Reranker model loaded", zap.String("model", modelID))
	r.models[modelID] = m
	return m, nil
}

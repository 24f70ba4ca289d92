// Package embedding owns the process-wide bi-encoder cache and the
// vector cache decorator. Model instances are large; they are created
// lazily, shared across all workers, and torn down at process shutdown.
package embedding

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/alexban14/ai.dok/internal/domain"
)

// Factory constructs an embedder for a model id.
type Factory func(modelID string) (domain.Embedder, error)

// Registry is the typed handle to the model cache: keyed by model id,
// lazy init, no eviction.
type Registry struct {
	mu      sync.Mutex
	factory Factory
	models  map[string]domain.Embedder
	logger  *zap.Logger
}

// NewRegistry creates an empty registry backed by the factory.
func NewRegistry(factory Factory, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{factory: factory, models: map[string]domain.Embedder{}, logger: logger}
}

// Get returns the cached embedder for modelID, constructing it on first
// use. Subsequent calls for the same id reuse the instance.
func (r *Registry) Get(modelID string) (domain.Embedder, error) {
	if modelID == "" {
		return nil, fmt.Errorf("%w: embedding model id is required", domain.ErrConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.models[modelID]; ok {
		return m, nil
	}

	m, err := r.factory(modelID)
	if err != nil {
		return nil, fmt.Errorf("load embedding model %s: %w", modelID, err)
	}
	r.logger.Info("Embedding model loaded",
		zap.String("model", modelID),
		zap.Int("dimensions", m.Dimensions()),
	)
	r.models[modelID] = m
	return m, nil
}

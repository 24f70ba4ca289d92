// Package collections resolves collection bindings and owns the sparse
// index lifecycle: one BM25 index per collection, loaded from disk on
// first use and shared between the query and indexing paths.
package collections

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/alexban14/ai.dok/internal/bm25"
	"github.com/alexban14/ai.dok/internal/domain"
)

// Manager maps collection names to their bindings and sparse indexes.
type Manager struct {
	dataDir string
	bm25Cfg bm25.Config
	logger  *zap.Logger

	mu     sync.Mutex
	cfgs   map[string]domain.Collection
	sparse map[string]*bm25.Index
}

// NewManager creates a manager over the configured collections.
func NewManager(dataDir string, bm25Cfg bm25.Config, colls []domain.Collection, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfgs := make(map[string]domain.Collection, len(colls))
	for _, c := range colls {
		cfgs[c.Name] = c
	}
	return &Manager{
		dataDir: dataDir,
		bm25Cfg: bm25Cfg,
		logger:  logger,
		cfgs:    cfgs,
		sparse:  map[string]*bm25.Index{},
	}
}

// Get resolves a collection binding.
func (m *Manager) Get(name string) (domain.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cfgs[name]
	if !ok {
		return domain.Collection{}, fmt.Errorf("%w: collection %s", domain.ErrNotFound, name)
	}
	return c, nil
}

// List returns all configured collections.
func (m *Manager) List() []domain.Collection {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Collection, 0, len(m.cfgs))
	for _, c := range m.cfgs {
		out = append(out, c)
	}
	return out
}

// IndexPath returns the on-disk location of a collection's BM25 file.
func (m *Manager) IndexPath(name string) string {
	return bm25.IndexPath(m.dataDir, name)
}

// Sparse returns the collection's BM25 index for querying. A missing or
// corrupt persisted file is a rebuild requirement and surfaces as its
// distinct error kind.
func (m *Manager) Sparse(name string) (*bm25.Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cfgs[name]; !ok {
		return nil, fmt.Errorf("%w: collection %s", domain.ErrNotFound, name)
	}
	if idx, ok := m.sparse[name]; ok {
		return idx, nil
	}

	idx, err := bm25.Load(m.IndexPath(name))
	if err != nil {
		return nil, err
	}
	m.sparse[name] = idx
	return idx, nil
}

// SparseForRebuild returns the collection's BM25 index for indexing,
// starting empty when the persisted file is absent or corrupt.
func (m *Manager) SparseForRebuild(name string) (*bm25.Index, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cfgs[name]; !ok {
		return nil, fmt.Errorf("%w: collection %s", domain.ErrNotFound, name)
	}
	if idx, ok := m.sparse[name]; ok {
		return idx, nil
	}

	idx, err := bm25.Load(m.IndexPath(name))
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound):
		idx = bm25.New(m.bm25Cfg)
	case errors.Is(err, domain.ErrIndexCorrupt):
		m.logger.Warn("BM25 index corrupt, rebuilding from empty",
			zap.String("collection", name), zap.Error(err))
		idx = bm25.New(m.bm25Cfg)
	default:
		return nil, err
	}
	m.sparse[name] = idx
	return idx, nil
}

// SaveSparse persists the collection's BM25 index atomically.
func (m *Manager) SaveSparse(name string) error {
	m.mu.Lock()
	idx, ok := m.sparse[name]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: sparse index for collection %s not open", domain.ErrNotFound, name)
	}
	return idx.Save(m.IndexPath(name))
}

// Drop forgets the collection's in-memory sparse index and deletes its
// persisted file. The vector side is deleted by the caller.
func (m *Manager) Drop(name string) error {
	m.mu.Lock()
	delete(m.sparse, name)
	m.mu.Unlock()

	if err := os.Remove(m.IndexPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove bm25 index: %w", err)
	}
	return nil
}

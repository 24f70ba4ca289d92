// Package memory is a brute-force in-process vecstore.Store used by tests
// and small corpora. Similarity is exact cosine over the stored vectors.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/alexban14/ai.dok/internal/domain"
	"github.com/alexban14/ai.dok/internal/vecstore"
)

var _ vecstore.Store = (*Store)(nil)

type collection struct {
	dim     int
	records map[string]vecstore.Record
	order   []string // insertion order for stable iteration
	sources map[string]bool
}

// Store keeps collections in process memory.
type Store struct {
	mu    sync.RWMutex
	colls map[string]*collection
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{colls: map[string]*collection{}}
}

func (s *Store) Close() {}

func (s *Store) EnsureCollection(_ context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: vector dimension must be positive", domain.ErrConfig)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.colls[name]; ok {
		if c.dim != dim {
			return fmt.Errorf("%w: collection %s has dimension %d, embedding model produces %d",
				domain.ErrConfig, name, c.dim, dim)
		}
		return nil
	}
	s.colls[name] = &collection{
		dim:     dim,
		records: map[string]vecstore.Record{},
		sources: map[string]bool{},
	}
	return nil
}

func (s *Store) get(name string) (*collection, error) {
	c, ok := s.colls[name]
	if !ok {
		return nil, fmt.Errorf("%w: collection %s", domain.ErrNotFound, name)
	}
	return c, nil
}

func (s *Store) Upsert(_ context.Context, name string, recs []vecstore.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(name)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if len(r.Vector) != c.dim {
			return fmt.Errorf("%w: vector for %s has dimension %d, collection expects %d",
				domain.ErrConfig, r.Chunk.ID, len(r.Vector), c.dim)
		}
		if _, seen := c.records[r.Chunk.ID]; !seen {
			c.order = append(c.order, r.Chunk.ID)
		}
		c.records[r.Chunk.ID] = r
	}
	return nil
}

func (s *Store) Query(_ context.Context, name string, vector []float32, topK int) ([]vecstore.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get(name)
	if err != nil {
		return nil, err
	}
	if len(vector) != c.dim || topK <= 0 {
		return nil, nil
	}

	hits := make([]vecstore.Hit, 0, len(c.order))
	for _, id := range c.order {
		r := c.records[id]
		hits = append(hits, vecstore.Hit{Chunk: r.Chunk, Similarity: cosine(vector, r.Vector)})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (s *Store) Exists(_ context.Context, name, chunkID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get(name)
	if err != nil {
		return false, err
	}
	_, ok := c.records[chunkID]
	return ok, nil
}

func (s *Store) Fetch(_ context.Context, name string, chunkIDs []string) ([]domain.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get(name)
	if err != nil {
		return nil, err
	}
	chunks := make([]domain.Chunk, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		if r, ok := c.records[id]; ok {
			chunks = append(chunks, r.Chunk)
		}
	}
	return chunks, nil
}

func (s *Store) MarkSource(_ context.Context, name, sourceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.get(name)
	if err != nil {
		return err
	}
	c.sources[sourceID] = true
	return nil
}

func (s *Store) HasSource(_ context.Context, name, sourceID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, err := s.get(name)
	if err != nil {
		return false, err
	}
	return c.sources[sourceID], nil
}

func (s *Store) ListCollections(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.colls))
	for name := range s.colls {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.colls[name]; !ok {
		return fmt.Errorf("%w: collection %s", domain.ErrNotFound, name)
	}
	delete(s.colls, name)
	return nil
}

// ChunkIDs returns the stored ids in insertion order (test helper).
func (s *Store) ChunkIDs(name string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.colls[name]
	if !ok {
		return nil
	}
	return append([]string(nil), c.order...)
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

package retriever

import (
	"context"

	"github.com/alexban14/ai.dok/internal/bm25"
	"github.com/alexban14/ai.dok/internal/domain"
	"github.com/alexban14/ai.dok/internal/vecstore"
)

// CollectionReader resolves collection bindings.
type CollectionReader interface {
	Get(name string) (domain.Collection, error)
}

// SparseIndex answers lexical queries for one collection.
type SparseIndex interface {
	Query(tokens []string, topK int) []bm25.Scored
}

// SparseReader opens a collection's sparse index. A missing or corrupt
// persisted index surfaces as its distinct error kind.
type SparseReader interface {
	Sparse(name string) (SparseIndex, error)
}

// DenseReader answers vector queries and is the authoritative source of
// chunk text at rerank time.
type DenseReader interface {
	Query(ctx context.Context, collection string, vector []float32, topK int) ([]vecstore.Hit, error)
	Fetch(ctx context.Context, collection string, chunkIDs []string) ([]domain.Chunk, error)
}

// EmbedderSource resolves bi-encoders from the process-wide model cache.
type EmbedderSource interface {
	Get(modelID string) (domain.Embedder, error)
}

// RerankerSource resolves cross-encoders from the process-wide model cache.
type RerankerSource interface {
	Get(modelID string) (domain.Reranker, error)
}

// Package vecstore defines the dense index contract. The external
// ANN store is addressed per collection, keyed by deterministic chunk ids,
// and is the authoritative holder of chunk text and metadata at rerank
// time.
package vecstore

import (
	"context"
	"errors"

	"github.com/alexban14/ai.dok/internal/domain"
)

// ErrKeyNotFound signals an absent key in the store's KV side.
var ErrKeyNotFound = errors.New("vecstore: key not found")

// Record is one chunk plus its embedding, as upserted into a collection.
// Vectors are expected L2-normalized; similarity is cosine.
type Record struct {
	Chunk  domain.Chunk
	Vector []float32
}

// Hit is one KNN result with the stored chunk payload.
type Hit struct {
	Chunk      domain.Chunk
	Similarity float64
}

// Store is the consumed vector-index collaborator.
type Store interface {
	// EnsureCollection opens or creates a collection and validates that its
	// embedding dimension matches dim; a mismatch is a fatal configuration
	// error.
	EnsureCollection(ctx context.Context, name string, dim int) error

	// Upsert writes records in batches of the configured size.
	Upsert(ctx context.Context, collection string, recs []Record) error

	// Query returns the topK nearest chunks by cosine similarity.
	Query(ctx context.Context, collection string, vector []float32, topK int) ([]Hit, error)

	// Exists reports chunk-id key presence.
	Exists(ctx context.Context, collection, chunkID string) (bool, error)

	// Fetch loads the stored chunks for the given ids, preserving input
	// order; ids without a stored chunk are skipped.
	Fetch(ctx context.Context, collection string, chunkIDs []string) ([]domain.Chunk, error)

	// MarkSource records that every chunk of a source document has been
	// flushed; HasSource is the resume-safety check of the bulk indexer.
	MarkSource(ctx context.Context, collection, sourceID string) error
	HasSource(ctx context.Context, collection, sourceID string) (bool, error)

	ListCollections(ctx context.Context) ([]string, error)
	DeleteCollection(ctx context.Context, name string) error

	Close()
}

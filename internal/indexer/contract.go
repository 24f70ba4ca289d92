package indexer

import (
	"github.com/alexban14/ai.dok/internal/bm25"
	"github.com/alexban14/ai.dok/internal/domain"
)

// CollectionManager resolves bindings and owns the sparse index lifecycle.
type CollectionManager interface {
	Get(name string) (domain.Collection, error)
	SparseForRebuild(name string) (*bm25.Index, error)
	SaveSparse(name string) error
}

// EmbedderSource resolves bi-encoders from the process-wide model cache.
type EmbedderSource interface {
	Get(modelID string) (domain.Embedder, error)
}

// Report summarizes a bulk run.
type Report struct {
	Total       int
	ProcessedOK int
	Skipped     int
	Failed      int
	Chunks      int
	FailedItems []domain.FailedItem
}

// PerFileReport summarizes a single processed document.
type PerFileReport struct {
	SourceID string
	Sections int
	Chunks   int
	Method   domain.ChunkingMethod
}

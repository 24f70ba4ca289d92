package domain

import "context"

// Embedder is the shared text vectorization contract between layers.
// Encode is deterministic for a given model and input, up to numerical
// tolerance; with normalize=true every vector has unit L2 norm.
type Embedder interface {
	Encode(ctx context.Context, texts []string, normalize bool) ([][]float32, error)
	ModelID() string
	Dimensions() int
}

// RerankCandidate is one (chunk, text) pair offered to the cross-encoder.
type RerankCandidate struct {
	ChunkID       string
	Text          string
	SourceID      string
	SectionNumber string
	SectionTitle  string
}

// RerankedChunk carries the cross-encoder score for a candidate.
// Scores are model-dependent; only the ordering is meaningful, except for
// NormalizedScore which is mapped into [0,1] for low-confidence checks.
type RerankedChunk struct {
	RerankCandidate
	Score           float64
	NormalizedScore float64
}

// Reranker jointly scores (query, candidate) pairs with a cross-encoder.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []RerankCandidate, topK int) ([]RerankedChunk, error)
	ModelID() string
}

// ObjectStore lists and fetches source documents. SourceIDs are opaque byte
// strings unique within the corpus. Consumed collaborator.
type ObjectStore interface {
	List(ctx context.Context) ([]string, error)
	Get(ctx context.Context, sourceID string) ([]byte, error)
}

// Extractor converts raw document bytes into text. May internally use OCR;
// latency unbounded. Consumed collaborator.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

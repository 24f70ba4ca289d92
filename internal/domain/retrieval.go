package domain

import "fmt"

// Strategy selects how candidates are gathered before reranking.
type Strategy string

const (
	// StrategyDense ranks by embedding similarity only.
	StrategyDense Strategy = "dense"
	// StrategySparse ranks by BM25 only.
	StrategySparse Strategy = "sparse"
	// StrategyHybrid fuses dense and sparse rankings via RRF.
	StrategyHybrid Strategy = "hybrid"
)

// ParseStrategy validates a strategy string.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyDense, StrategySparse, StrategyHybrid:
		return Strategy(s), nil
	default:
		return "", fmt.Errorf("%w: unknown retrieval strategy %q", ErrConfig, s)
	}
}

// RetrievedChunk is one ranked passage returned to the caller.
type RetrievedChunk struct {
	ChunkID        string
	Text           string
	SourceID       string
	SectionNumber  string
	SectionTitle   string
	RelevanceScore float64
}

// RetrievalResult is the full answer of a retrieve call.
// LowConfidence is a normal result signal, never an error.
type RetrievalResult struct {
	Results       []RetrievedChunk
	Strategy      Strategy
	LowConfidence bool
}

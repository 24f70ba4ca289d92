package domain

import "fmt"

// Collection binds a named BM25 corpus and vector collection to the models
// that produced them. A query targets exactly one collection; two may
// coexist during a zero-downtime model migration.
type Collection struct {
	Name             string
	EmbeddingModelID string
	RerankerModelID  string
	VectorDim        int

	// LowConfidenceThreshold is the normalized rerank score below which a
	// result set is tagged low_confidence. Collection-tunable.
	LowConfidenceThreshold float64
}

// Validate checks the binding is complete enough to index or query.
func (c Collection) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: collection name is required", ErrConfig)
	}
	if c.EmbeddingModelID == "" {
		return fmt.Errorf("%w: collection %s has no embedding model bound", ErrConfig, c.Name)
	}
	if c.VectorDim <= 0 {
		return fmt.Errorf("%w: collection %s has non-positive vector dimension", ErrConfig, c.Name)
	}
	return nil
}

// Package retriever executes the retrieval strategies and fuses their
// rankings. Fusion mode is RRF; the hybrid_alpha setting is accepted for
// compatibility and ignored, it only applies under score-based fusion.
package retriever

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/alexban14/ai.dok/internal/domain"
	"github.com/alexban14/ai.dok/internal/metrics"
	"github.com/alexban14/ai.dok/internal/rcp"
)

// Options holds the retrieval defaults, overridable per request.
type Options struct {
	DefaultStrategy domain.Strategy
	RetrievalTopK   int           // pre-rerank pool per sub-retrieval, default 20
	RerankerTopK    int           // final result count, default 5
	QueryTimeout    time.Duration // wall clock per query, 0 = none
	HybridAlpha     float64       // reserved for score fusion, unused under RRF
}

// Request is one retrieval call. Zero values fall back to the defaults;
// Rerank must be set explicitly by the caller (the exposed API defaults
// it to true).
type Request struct {
	Query         string
	Collection    string
	Strategy      domain.Strategy
	RetrievalTopK int
	RerankerTopK  int
	Rerank        bool
}

// Service is the hybrid retriever.
type Service struct {
	colls     CollectionReader
	sparse    SparseReader
	dense     DenseReader
	embedders EmbedderSource
	rerankers RerankerSource
	opts      Options
	logger    *zap.Logger
}

// New creates a retriever service.
func New(
	colls CollectionReader,
	sparse SparseReader,
	dense DenseReader,
	embedders EmbedderSource,
	rerankers RerankerSource,
	opts Options,
	logger *zap.Logger,
) *Service {
	if opts.DefaultStrategy == "" {
		opts.DefaultStrategy = domain.StrategyHybrid
	}
	if opts.RetrievalTopK <= 0 {
		opts.RetrievalTopK = 20
	}
	if opts.RerankerTopK <= 0 {
		opts.RerankerTopK = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		colls:     colls,
		sparse:    sparse,
		dense:     dense,
		embedders: embedders,
		rerankers: rerankers,
		opts:      opts,
		logger:    logger,
	}
}

// candidate is one pre-rerank entry. Sparse hits arrive without payload;
// their text is loaded from the vector store before reranking.
type candidate struct {
	chunk   domain.Chunk
	score   float64
	hasText bool
}

// Retrieve runs the requested strategy and returns the top passages.
// A timed-out query returns the timeout error, never partial results.
func (s *Service) Retrieve(ctx context.Context, req Request) (domain.RetrievalResult, error) {
	strategy := req.Strategy
	if strategy == "" {
		strategy = s.opts.DefaultStrategy
	}
	retrievalTopK := req.RetrievalTopK
	if retrievalTopK <= 0 {
		retrievalTopK = s.opts.RetrievalTopK
	}
	rerankerTopK := req.RerankerTopK
	if rerankerTopK <= 0 {
		rerankerTopK = s.opts.RerankerTopK
	}

	result := domain.RetrievalResult{Strategy: strategy}

	col, err := s.colls.Get(req.Collection)
	if err != nil {
		return result, err
	}
	if err := col.Validate(); err != nil {
		return result, err
	}

	if s.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.QueryTimeout)
		defer cancel()
	}

	start := time.Now()

	var cands []candidate
	var maxDense float64
	switch strategy {
	case domain.StrategyDense:
		cands, maxDense, err = s.denseCandidates(ctx, col, req.Query, retrievalTopK)
	case domain.StrategySparse:
		cands, err = s.sparseCandidates(col, req.Query, retrievalTopK)
	case domain.StrategyHybrid:
		cands, maxDense, err = s.hybridCandidates(ctx, col, req.Query, retrievalTopK)
	default:
		return result, fmt.Errorf("%w: unsupported strategy %q", domain.ErrConfig, strategy)
	}
	if err != nil {
		return result, s.mapErr(ctx, err)
	}

	cands, err = s.loadTexts(ctx, col.Name, cands)
	if err != nil {
		return result, s.mapErr(ctx, err)
	}

	maxNormalized := -1.0
	if req.Rerank && len(cands) > 0 {
		reranked, rerr := s.rerank(ctx, col, req.Query, cands, rerankerTopK)
		if rerr != nil {
			return result, s.mapErr(ctx, rerr)
		}
		for _, r := range reranked {
			if r.NormalizedScore > maxNormalized {
				maxNormalized = r.NormalizedScore
			}
			result.Results = append(result.Results, domain.RetrievedChunk{
				ChunkID:        r.ChunkID,
				Text:           r.Text,
				SourceID:       r.SourceID,
				SectionNumber:  r.SectionNumber,
				SectionTitle:   r.SectionTitle,
				RelevanceScore: r.Score,
			})
		}
	} else {
		if len(cands) > rerankerTopK {
			cands = cands[:rerankerTopK]
		}
		for _, c := range cands {
			result.Results = append(result.Results, domain.RetrievedChunk{
				ChunkID:        c.chunk.ID,
				Text:           c.chunk.Text,
				SourceID:       c.chunk.SourceID,
				SectionNumber:  c.chunk.SectionNumber,
				SectionTitle:   c.chunk.SectionTitle,
				RelevanceScore: c.score,
			})
		}
	}

	result.LowConfidence = s.lowConfidence(col, strategy, req.Rerank, result.Results, maxNormalized, maxDense)
	if result.LowConfidence {
		metrics.RetrievalLowConfidenceTotal.Inc()
	}
	metrics.RetrievalDuration.WithLabelValues(string(strategy)).Observe(time.Since(start).Seconds())

	return result, nil
}

func (s *Service) denseCandidates(
	ctx context.Context, col domain.Collection, query string, topK int,
) ([]candidate, float64, error) {
	emb, err := s.embedders.Get(col.EmbeddingModelID)
	if err != nil {
		return nil, 0, err
	}
	vecs, err := emb.Encode(ctx, []string{query}, true)
	if err != nil {
		return nil, 0, fmt.Errorf("encode query: %w", err)
	}
	if len(vecs) != 1 {
		return nil, 0, fmt.Errorf("%w: encoder returned %d vectors for one query", domain.ErrInternal, len(vecs))
	}

	hits, err := s.dense.Query(ctx, col.Name, vecs[0], topK)
	if err != nil {
		return nil, 0, fmt.Errorf("dense query: %w", err)
	}

	cands := make([]candidate, 0, len(hits))
	maxSim := 0.0
	for _, h := range hits {
		if h.Similarity > maxSim {
			maxSim = h.Similarity
		}
		cands = append(cands, candidate{chunk: h.Chunk, score: h.Similarity, hasText: true})
	}
	return cands, maxSim, nil
}

func (s *Service) sparseCandidates(col domain.Collection, query string, topK int) ([]candidate, error) {
	idx, err := s.sparse.Sparse(col.Name)
	if err != nil {
		return nil, err
	}
	hits := idx.Query(rcp.Tokenize(query), topK)
	cands := make([]candidate, 0, len(hits))
	for _, h := range hits {
		cands = append(cands, candidate{chunk: domain.Chunk{ID: h.ChunkID}, score: h.Score})
	}
	return cands, nil
}

// hybridCandidates runs both sub-retrievals concurrently and fuses them.
// When one side yields nothing the fusion degenerates to the other's
// ranking; when both are empty the result is empty and the caller tags it
// low confidence.
func (s *Service) hybridCandidates(
	ctx context.Context, col domain.Collection, query string, topK int,
) ([]candidate, float64, error) {
	var (
		dense    []candidate
		maxDense float64
		denseErr error
		sparse   []candidate
		spErr    error
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		dense, maxDense, denseErr = s.denseCandidates(ctx, col, query, topK)
	}()
	sparse, spErr = s.sparseCandidates(col, query, topK)
	<-done

	if denseErr != nil {
		return nil, 0, denseErr
	}
	if spErr != nil {
		return nil, 0, spErr
	}

	return fuseRRF(dense, sparse), maxDense, nil
}

// loadTexts fills candidates that arrived without payload from the vector
// store, the authoritative chunk text holder. Ids unknown to the store are
// dropped.
func (s *Service) loadTexts(ctx context.Context, collection string, cands []candidate) ([]candidate, error) {
	var missing []string
	for _, c := range cands {
		if !c.hasText {
			missing = append(missing, c.chunk.ID)
		}
	}
	if len(missing) == 0 {
		return cands, nil
	}

	chunks, err := s.dense.Fetch(ctx, collection, missing)
	if err != nil {
		return nil, fmt.Errorf("load chunk texts: %w", err)
	}
	byID := make(map[string]domain.Chunk, len(chunks))
	for _, ch := range chunks {
		byID[ch.ID] = ch
	}

	out := cands[:0]
	for _, c := range cands {
		if !c.hasText {
			ch, ok := byID[c.chunk.ID]
			if !ok {
				s.logger.Warn("Chunk missing from vector store, dropping candidate",
					zap.String("collection", collection), zap.String("chunk_id", c.chunk.ID))
				continue
			}
			c.chunk = ch
			c.hasText = true
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Service) rerank(
	ctx context.Context, col domain.Collection, query string, cands []candidate, topK int,
) ([]domain.RerankedChunk, error) {
	rr, err := s.rerankers.Get(col.RerankerModelID)
	if err != nil {
		return nil, err
	}

	rcands := make([]domain.RerankCandidate, len(cands))
	for i, c := range cands {
		rcands[i] = domain.RerankCandidate{
			ChunkID:       c.chunk.ID,
			Text:          c.chunk.Text,
			SourceID:      c.chunk.SourceID,
			SectionNumber: c.chunk.SectionNumber,
			SectionTitle:  c.chunk.SectionTitle,
		}
	}
	reranked, err := rr.Rerank(ctx, query, rcands, topK)
	if err != nil {
		return nil, fmt.Errorf("rerank: %w", err)
	}
	return reranked, nil
}

// lowConfidence decides the flag: an empty result set is always low
// confidence; with reranking the max normalized cross-encoder score is
// compared against the collection threshold; without reranking the dense
// similarity stands in where available.
func (s *Service) lowConfidence(
	col domain.Collection, strategy domain.Strategy, reranked bool,
	results []domain.RetrievedChunk, maxNormalized, maxDense float64,
) bool {
	if len(results) == 0 {
		return true
	}
	thr := col.LowConfidenceThreshold
	if thr <= 0 {
		return false
	}
	if reranked {
		return maxNormalized >= 0 && maxNormalized < thr
	}
	if strategy != domain.StrategySparse {
		return maxDense < thr
	}
	return false
}

// mapErr normalizes deadline and cancellation outcomes to their error
// kinds, looking at the context when a transport already wrapped the
// cause.
func (s *Service) mapErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrTimeout) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: retrieval deadline exceeded", domain.ErrTimeout)
	case errors.Is(err, domain.ErrCancelled) || errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%w: retrieval", domain.ErrCancelled)
	default:
		return err
	}
}

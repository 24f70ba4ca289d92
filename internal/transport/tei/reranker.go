// Package tei provides the cross-encoder client for a
// text-embeddings-inference compatible /rerank endpoint.
package tei

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/alexban14/ai.dok/internal/domain"
	"github.com/alexban14/ai.dok/internal/metrics"
)

// Compile-time check: Reranker implements domain.Reranker.
var _ domain.Reranker = (*Reranker)(nil)

// Config holds the reranker provider settings.
type Config struct {
	BaseURL   string
	Model     string
	APIKey    string
	BatchSize int           // candidate pairs per API call, default 16
	Timeout   time.Duration // per-request timeout, default 30s
	Logger    *zap.Logger
}

// Reranker scores (query, candidate) pairs with a remote cross-encoder.
type Reranker struct {
	baseURL   string
	model     string
	apiKey    string
	batchSize int
	client    *http.Client
	logger    *zap.Logger
}

// NewReranker creates the client.
func NewReranker(cfg *Config) *Reranker {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 16
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reranker{
		baseURL:   cfg.BaseURL,
		model:     cfg.Model,
		apiKey:    cfg.APIKey,
		batchSize: batch,
		client:    &http.Client{Timeout: timeout},
		logger:    logger,
	}
}

// ModelID returns the bound cross-encoder id.
func (r *Reranker) ModelID() string { return r.model }

type rerankRequest struct {
	Query     string   `json:"query"`
	Texts     []string `json:"texts"`
	RawScores bool     `json:"raw_scores"`
}

type rerankEntry struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Rerank scores candidates in bounded batches, merges the batches, and
// returns the topK sorted by descending score. Raw scores carry only
// ordering; NormalizedScore maps the logit into [0,1] for confidence
// checks.
func (r *Reranker) Rerank(
	ctx context.Context, query string, candidates []domain.RerankCandidate, topK int,
) ([]domain.RerankedChunk, error) {
	if len(candidates) == 0 || topK <= 0 {
		return nil, nil
	}

	scored := make([]domain.RerankedChunk, 0, len(candidates))
	for start := 0; start < len(candidates); start += r.batchSize {
		end := min(start+r.batchSize, len(candidates))
		batch := candidates[start:end]

		scores, err := r.scoreBatch(ctx, query, batch)
		if err != nil {
			metrics.RerankRequestsTotal.WithLabelValues(r.model, "error").Inc()
			return nil, err
		}
		metrics.RerankRequestsTotal.WithLabelValues(r.model, "success").Inc()

		for i, c := range batch {
			scored = append(scored, domain.RerankedChunk{
				RerankCandidate: c,
				Score:           scores[i],
				NormalizedScore: sigmoid(scores[i]),
			})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}

func (r *Reranker) scoreBatch(ctx context.Context, query string, batch []domain.RerankCandidate) ([]float64, error) {
	texts := make([]string, len(batch))
	for i, c := range batch {
		texts[i] = c.Text
	}

	body, err := json.Marshal(rerankRequest{Query: query, Texts: texts, RawScores: true})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal rerank request: %v", domain.ErrInternal, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build rerank request: %v", domain.ErrInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, fmt.Errorf("%w: rerank request", domain.ErrCancelled)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: rerank request", domain.ErrTimeout)
		}
		return nil, fmt.Errorf("%w: rerank request: %v", domain.ErrExternalUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: rerank API status %d: %s",
			domain.ErrExternalUnavailable, resp.StatusCode, bytes.TrimSpace(msg))
	}

	var entries []rerankEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("%w: decode rerank response: %v", domain.ErrExternalUnavailable, err)
	}

	scores := make([]float64, len(batch))
	seen := make([]bool, len(batch))
	for _, e := range entries {
		if e.Index < 0 || e.Index >= len(batch) {
			return nil, fmt.Errorf("%w: rerank response index %d out of range", domain.ErrExternalUnavailable, e.Index)
		}
		scores[e.Index] = e.Score
		seen[e.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("%w: rerank response missing score for candidate %d", domain.ErrExternalUnavailable, i)
		}
	}
	return scores, nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

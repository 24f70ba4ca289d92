// Package openai provides the bi-encoder client for any OpenAI-compatible
// embeddings API (local inference servers included).
package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/alexban14/ai.dok/internal/domain"
	"github.com/alexban14/ai.dok/internal/metrics"
)

// Compile-time check: Embedder implements domain.Embedder.
var _ domain.Embedder = (*Embedder)(nil)

// Config holds the embedding provider settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	BatchSize  int // texts per API call, default 32
	Logger     *zap.Logger
}

// Embedder encodes text batches with a remote bi-encoder.
type Embedder struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	dims      int
	batchSize int
	logger    *zap.Logger
}

// NewEmbedder creates an OpenAI-compatible embedding client.
func NewEmbedder(cfg *Config) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 32
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Embedder{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     openai.EmbeddingModel(cfg.Model),
		dims:      cfg.Dimensions,
		batchSize: batch,
		logger:    logger,
	}
}

// ModelID returns the bound bi-encoder id.
func (e *Embedder) ModelID() string { return string(e.model) }

// Dimensions returns the embedding dimension of the bound model.
func (e *Embedder) Dimensions() int { return e.dims }

// Encode embeds texts in bounded batches. With normalize=true every output
// vector is scaled to unit L2 norm before being returned.
func (e *Embedder) Encode(ctx context.Context, texts []string, normalize bool) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		vecs, err := e.encodeBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}

	if normalize {
		for _, v := range out {
			normalizeL2(v)
		}
	}
	return out, nil
}

func (e *Embedder) encodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          e.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if e.dims > 0 {
		req.Dimensions = e.dims
	}

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, req)
	duration := time.Since(start)

	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(string(e.model), "error").Inc()
		return nil, parseAPIError(err)
	}
	if len(resp.Data) != len(texts) {
		metrics.EmbeddingRequestsTotal.WithLabelValues(string(e.model), "error").Inc()
		return nil, fmt.Errorf("%w: embedding response has %d vectors for %d inputs",
			domain.ErrExternalUnavailable, len(resp.Data), len(texts))
	}

	metrics.EmbeddingRequestsTotal.WithLabelValues(string(e.model), "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(string(e.model)).Observe(duration.Seconds())

	vecs := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if e.dims > 0 && len(d.Embedding) != e.dims {
			return nil, fmt.Errorf("%w: model %s returned dimension %d, configured %d",
				domain.ErrConfig, e.model, len(d.Embedding), e.dims)
		}
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

// HealthCheck verifies API availability via ListModels.
func (e *Embedder) HealthCheck(ctx context.Context) error {
	if _, err := e.client.ListModels(ctx); err != nil {
		return fmt.Errorf("%w: list models: %v", domain.ErrExternalUnavailable, err)
	}
	return nil
}

// normalizeL2 scales v to unit length in place.
func normalizeL2(v []float32) {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}

// parseAPIError extracts a readable message and wraps the external-failure
// kind for mechanical mapping.
func parseAPIError(err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: embedding request", domain.ErrCancelled)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: embedding request", domain.ErrTimeout)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%w: embedding API error %d: %s",
			domain.ErrExternalUnavailable, reqErr.HTTPStatusCode, string(reqErr.Body))
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%w: embedding API error %d: %s",
			domain.ErrExternalUnavailable, apiErr.HTTPStatusCode, apiErr.Message)
	}
	return fmt.Errorf("%w: embedding request failed: %v", domain.ErrExternalUnavailable, err)
}

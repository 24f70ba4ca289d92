package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/alexban14/ai.dok/internal/domain"
	"github.com/alexban14/ai.dok/internal/vecstore"
)

const cacheKeyPrefix = "aidok:emb_cache:"

// kv is the consumer interface for the vector cache.
type kv interface {
	CacheGet(ctx context.Context, key string) ([]byte, error)
	CacheSet(ctx context.Context, key string, value []byte) error
}

// CachedEncoder caches encoded vectors in a key-value store, keyed by
// model id, normalization flag, and text. Cache failures degrade to the
// inner encoder, they never fail the request.
type CachedEncoder struct {
	inner      domain.Embedder
	store      kv
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

var _ domain.Embedder = (*CachedEncoder)(nil)

// NewCachedEncoder creates the caching decorator. cacheTotal is a counter
// vec with label "result" ("hit"/"miss"), passed explicitly.
func NewCachedEncoder(inner domain.Embedder, store kv, cacheTotal *prometheus.CounterVec, logger *zap.Logger) *CachedEncoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEncoder{inner: inner, store: store, cacheTotal: cacheTotal, logger: logger}
}

func (c *CachedEncoder) ModelID() string { return c.inner.ModelID() }

func (c *CachedEncoder) Dimensions() int { return c.inner.Dimensions() }

// Encode serves each text from cache where possible and encodes only the
// misses with the inner embedder.
func (c *CachedEncoder) Encode(ctx context.Context, texts []string, normalize bool) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missTexts []string
	var missIdx []int

	for i, text := range texts {
		if vec, ok := c.getFromCache(ctx, c.cacheKey(text, normalize)); ok {
			c.incCache("hit")
			out[i] = vec
			continue
		}
		c.incCache("miss")
		missTexts = append(missTexts, text)
		missIdx = append(missIdx, i)
	}

	if len(missTexts) > 0 {
		vecs, err := c.inner.Encode(ctx, missTexts, normalize)
		if err != nil {
			return nil, fmt.Errorf("encode: %w", err)
		}
		for j, vec := range vecs {
			out[missIdx[j]] = vec
			c.putToCache(ctx, c.cacheKey(missTexts[j], normalize), vec)
		}
	}
	return out, nil
}

func (c *CachedEncoder) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func (c *CachedEncoder) cacheKey(text string, normalize bool) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%t|%s", c.inner.ModelID(), normalize, text)))
	return cacheKeyPrefix + hex.EncodeToString(h[:])
}

func (c *CachedEncoder) getFromCache(ctx context.Context, key string) ([]float32, bool) {
	data, err := c.store.CacheGet(ctx, key)
	if err != nil {
		if !errors.Is(err, vecstore.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached embedding", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	if len(data) == 0 || len(data)%4 != 0 {
		return nil, false
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, true
}

func (c *CachedEncoder) putToCache(ctx context.Context, key string, vec []float32) {
	data := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(f))
	}
	if err := c.store.CacheSet(ctx, key, data); err != nil {
		c.logger.Warn("Failed to cache embedding", zap.String("key", key), zap.Error(err))
	}
}

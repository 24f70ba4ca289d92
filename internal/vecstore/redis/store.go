// Package redis implements vecstore.Store on Redis 8+ vector search via
// rueidis: chunks live in hashes under a per-collection prefix, with an
// HNSW FT index over the embedding field.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/rueidis"

	"github.com/alexban14/ai.dok/internal/domain"
	"github.com/alexban14/ai.dok/internal/vecstore"
)

// Compile-time check: Store implements vecstore.Store.
var _ vecstore.Store = (*Store)(nil)

const keyPrefix = "aidok:"

// Config holds connection and batching parameters.
type Config struct {
	Addrs     []string
	Username  string
	Password  string
	DB        int
	BatchSize int // upsert batch size, default 500

	// HNSW build parameters
	HNSWM           int
	HNSWEFConstruct int
}

// Store implements vecstore.Store for Redis.
type Store struct {
	client rueidis.Client
	cfg    Config
}

// NewStore connects to Redis.
func NewStore(cfg Config) (*Store, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("%w: vector store addrs required", domain.ErrConfig)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:      cfg.Addrs,
		Username:         cfg.Username,
		Password:         cfg.Password,
		SelectDB:         cfg.DB,
		DisableCache:     true,
		AlwaysRESP2:      true, // FT.SEARCH result parsing expects RESP2 array format
		BlockingPoolSize: 100,  // headroom above the indexer's max_concurrent
	})
	if err != nil {
		return nil, fmt.Errorf("%w: create redis client: %v", domain.ErrExternalUnavailable, err)
	}
	return &Store{client: client, cfg: cfg}, nil
}

// Close shuts down the client.
func (s *Store) Close() {
	s.client.Close()
}

// WaitForReady polls PING until the store responds or timeout expires.
func (s *Store) WaitForReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: vector store not ready: %v", domain.ErrExternalUnavailable, ctx.Err())
		case <-ticker.C:
			cmd := s.client.B().Ping().Build()
			if s.client.Do(ctx, cmd).Error() == nil {
				return nil
			}
		}
	}
}

func chunkKey(collection, chunkID string) string {
	return keyPrefix + collection + ":chunk:" + chunkID
}

func sourceKey(collection, sourceID string) string {
	return keyPrefix + collection + ":src:" + sourceID
}

func metaKey(collection string) string {
	return keyPrefix + collection + ":meta"
}

func indexName(collection string) string {
	return keyPrefix + collection + ":idx"
}

// EnsureCollection creates the collection metadata and FT index if absent
// and validates the stored embedding dimension against dim.
func (s *Store) EnsureCollection(ctx context.Context, name string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("%w: vector dimension must be positive", domain.ErrConfig)
	}

	meta, err := s.client.Do(ctx, s.client.B().Hgetall().Key(metaKey(name)).Build()).AsStrMap()
	if err != nil {
		return fmt.Errorf("%w: read collection meta: %v", domain.ErrExternalUnavailable, err)
	}
	if stored, ok := meta["dim"]; ok {
		d, convErr := strconv.Atoi(stored)
		if convErr != nil || d != dim {
			return fmt.Errorf("%w: collection %s has dimension %s, embedding model produces %d",
				domain.ErrConfig, name, stored, dim)
		}
		return nil
	}

	cmd := s.client.B().Hset().Key(metaKey(name)).
		FieldValue().FieldValue("dim", strconv.Itoa(dim)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("%w: write collection meta: %v", domain.ErrExternalUnavailable, err)
	}

	return s.createIndex(ctx, name, dim)
}

func (s *Store) createIndex(ctx context.Context, name string, dim int) error {
	attrs := []string{"TYPE", "FLOAT32", "DIM", strconv.Itoa(dim), "DISTANCE_METRIC", "COSINE"}
	if s.cfg.HNSWM > 0 {
		attrs = append(attrs, "M", strconv.Itoa(s.cfg.HNSWM))
	}
	if s.cfg.HNSWEFConstruct > 0 {
		attrs = append(attrs, "EF_CONSTRUCTION", strconv.Itoa(s.cfg.HNSWEFConstruct))
	}

	args := []string{
		indexName(name), "ON", "HASH",
		"PREFIX", "1", keyPrefix + name + ":chunk:",
		"SCHEMA",
		"__vector", "VECTOR", "HNSW", strconv.Itoa(len(attrs)),
	}
	args = append(args, attrs...)

	cmd := s.client.B().Arbitrary("FT.CREATE").Args(args...).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		if isRedisErr(err, "index already exists") {
			return nil
		}
		return fmt.Errorf("%w: FT.CREATE %s: %v", domain.ErrExternalUnavailable, name, err)
	}
	return nil
}

// Upsert writes records in DoMulti batches to amortize round-trips.
func (s *Store) Upsert(ctx context.Context, collection string, recs []vecstore.Record) error {
	for start := 0; start < len(recs); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(recs))
		batch := recs[start:end]

		cmds := make([]rueidis.Completed, len(batch))
		for i, r := range batch {
			cmds[i] = s.client.B().Hset().Key(chunkKey(collection, r.Chunk.ID)).
				FieldValue().
				FieldValue("__vector", vectorToBytes(r.Vector)).
				FieldValue("__content", r.Chunk.Text).
				FieldValue("source_id", r.Chunk.SourceID).
				FieldValue("section_number", r.Chunk.SectionNumber).
				FieldValue("section_title", r.Chunk.SectionTitle).
				FieldValue("chunk_index", strconv.Itoa(r.Chunk.ChunkIndex)).
				FieldValue("method", string(r.Chunk.Method)).
				Build()
		}

		results := s.client.DoMulti(ctx, cmds...)
		for i, res := range results {
			if err := res.Error(); err != nil {
				return fmt.Errorf("%w: upsert %s: %v", domain.ErrExternalUnavailable, batch[i].Chunk.ID, err)
			}
		}
	}
	return nil
}

// Query runs a KNN FT.SEARCH and returns hits with the stored chunk
// payload. Cosine distance converts to similarity clamped to [0,1].
func (s *Store) Query(ctx context.Context, collection string, vector []float32, topK int) ([]vecstore.Hit, error) {
	if len(vector) == 0 || topK <= 0 {
		return nil, nil
	}

	queryStr := fmt.Sprintf("*=>[KNN %d @__vector $BLOB]", topK)
	args := []string{
		indexName(collection), queryStr,
		"RETURN", "7", "__content", "__vector_score",
		"source_id", "section_number", "section_title", "chunk_index", "method",
		"PARAMS", "2", "BLOB", vectorToBytes(vector),
		"DIALECT", "2",
	}

	cmd := s.client.B().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.client.Do(ctx, cmd).ToArray()
	if err != nil {
		if isRedisErr(err, "no such index") || isRedisErr(err, "unknown index name") {
			return nil, fmt.Errorf("%w: collection %s", domain.ErrNotFound, collection)
		}
		return nil, fmt.Errorf("%w: FT.SEARCH %s: %v", domain.ErrExternalUnavailable, collection, err)
	}

	return parseKNNResult(raw, collection)
}

// Exists reports presence of the chunk key.
func (s *Store) Exists(ctx context.Context, collection, chunkID string) (bool, error) {
	return s.keyExists(ctx, chunkKey(collection, chunkID))
}

// Fetch loads stored chunks by id in a single DoMulti round-trip,
// preserving input order and skipping absent ids.
func (s *Store) Fetch(ctx context.Context, collection string, chunkIDs []string) ([]domain.Chunk, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	cmds := make([]rueidis.Completed, len(chunkIDs))
	for i, id := range chunkIDs {
		cmds[i] = s.client.B().Hgetall().Key(chunkKey(collection, id)).Build()
	}

	results := s.client.DoMulti(ctx, cmds...)
	chunks := make([]domain.Chunk, 0, len(chunkIDs))
	for i, res := range results {
		fields, err := res.AsStrMap()
		if err != nil {
			return nil, fmt.Errorf("%w: fetch %s: %v", domain.ErrExternalUnavailable, chunkIDs[i], err)
		}
		if len(fields) == 0 {
			continue
		}
		chunks = append(chunks, chunkFromFields(chunkIDs[i], fields))
	}
	return chunks, nil
}

// MarkSource records a fully flushed source document.
func (s *Store) MarkSource(ctx context.Context, collection, sourceID string) error {
	cmd := s.client.B().Set().Key(sourceKey(collection, sourceID)).Value("1").Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("%w: mark source %s: %v", domain.ErrExternalUnavailable, sourceID, err)
	}
	return nil
}

// HasSource reports whether a source document was already fully indexed.
func (s *Store) HasSource(ctx context.Context, collection, sourceID string) (bool, error) {
	return s.keyExists(ctx, sourceKey(collection, sourceID))
}

func (s *Store) keyExists(ctx context.Context, key string) (bool, error) {
	cmd := s.client.B().Exists().Key(key).Build()
	count, err := s.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return false, fmt.Errorf("%w: EXISTS: %v", domain.ErrExternalUnavailable, err)
	}
	return count > 0, nil
}

// ListCollections scans collection meta keys.
func (s *Store) ListCollections(ctx context.Context) ([]string, error) {
	keys, err := s.scan(ctx, keyPrefix+"*:meta")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, k := range keys {
		name := k[len(keyPrefix) : len(k)-len(":meta")]
		names = append(names, name)
	}
	return names, nil
}

// DeleteCollection drops the FT index and every key of the collection.
func (s *Store) DeleteCollection(ctx context.Context, name string) error {
	cmd := s.client.B().Arbitrary("FT.DROPINDEX").Args(indexName(name)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil && !isRedisErr(err, "unknown index name") {
		return fmt.Errorf("%w: FT.DROPINDEX %s: %v", domain.ErrExternalUnavailable, name, err)
	}

	keys, err := s.scan(ctx, keyPrefix+name+":*")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.client.Do(ctx, s.client.B().Del().Key(key).Build()).Error(); err != nil {
			return fmt.Errorf("%w: DEL %s: %v", domain.ErrExternalUnavailable, key, err)
		}
	}
	return nil
}

func (s *Store) scan(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		cmd := s.client.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build()
		res, err := s.client.Do(ctx, cmd).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("%w: SCAN: %v", domain.ErrExternalUnavailable, err)
		}
		keys = append(keys, res.Elements...)
		cursor = res.Cursor
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// isRedisErr checks if err is a Redis server error containing substr.
func isRedisErr(err error, substr string) bool {
	re, ok := rueidis.IsRedisErr(err)
	if !ok {
		return false
	}
	return containsIgnoreCase(re.Error(), substr)
}

func containsIgnoreCase(s, substr string) bool {
	ls, lsub := len(s), len(substr)
	if lsub > ls {
		return false
	}
	lower := func(c byte) byte {
		if c >= 'A' && c <= 'Z' {
			return c + 'a' - 'A'
		}
		return c
	}
	for i := 0; i <= ls-lsub; i++ {
		match := true
		for j := 0; j < lsub; j++ {
			if lower(s[i+j]) != lower(substr[j]) {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

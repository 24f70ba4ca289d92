package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alexban14/ai.dok/internal/domain"
	"github.com/alexban14/ai.dok/internal/vecstore"
)

type countingEmbedder struct {
	mu    sync.Mutex
	calls [][]string
}

func (e *countingEmbedder) Encode(_ context.Context, texts []string, _ bool) ([][]float32, error) {
	e.mu.Lock()
	e.calls = append(e.calls, append([]string(nil), texts...))
	e.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}
func (e *countingEmbedder) ModelID() string { return "bi-encoder-v1" }
func (e *countingEmbedder) Dimensions() int { return 2 }

type mapKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMapKV() *mapKV { return &mapKV{data: map[string][]byte{}} }

func (kv *mapKV) CacheGet(_ context.Context, key string) ([]byte, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	v, ok := kv.data[key]
	if !ok {
		return nil, vecstore.ErrKeyNotFound
	}
	return v, nil
}

func (kv *mapKV) CacheSet(_ context.Context, key string, value []byte) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.data[key] = append([]byte(nil), value...)
	return nil
}

func TestCachedEncoder_HitSkipsInner(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEncoder(inner, newMapKV(), nil, nil)

	first, err := c.Encode(context.Background(), []string{"doza zilnică"}, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	second, err := c.Encode(context.Background(), []string{"doza zilnică"}, true)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(inner.calls) != 1 {
		t.Errorf("inner called %d times, want 1", len(inner.calls))
	}
	if len(second) != 1 || second[0][0] != first[0][0] {
		t.Errorf("cached vector differs: %v vs %v", second, first)
	}
}

func TestCachedEncoder_OnlyMissesEncoded(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEncoder(inner, newMapKV(), nil, nil)

	if _, err := c.Encode(context.Background(), []string{"a", "b"}, true); err != nil {
		t.Fatal(err)
	}
	out, err := c.Encode(context.Background(), []string{"a", "c", "b"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 vectors, got %d", len(out))
	}
	if len(inner.calls) != 2 {
		t.Fatalf("inner called %d times, want 2", len(inner.calls))
	}
	if len(inner.calls[1]) != 1 || inner.calls[1][0] != "c" {
		t.Errorf("second call must carry only the miss, got %v", inner.calls[1])
	}
}

func TestCachedEncoder_NormalizeIsPartOfTheKey(t *testing.T) {
	inner := &countingEmbedder{}
	c := NewCachedEncoder(inner, newMapKV(), nil, nil)

	if _, err := c.Encode(context.Background(), []string{"x"}, true); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Encode(context.Background(), []string{"x"}, false); err != nil {
		t.Fatal(err)
	}
	if len(inner.calls) != 2 {
		t.Errorf("normalize flag must split cache entries, inner called %d times", len(inner.calls))
	}
}

func TestRegistry_CachesByModelID(t *testing.T) {
	built := 0
	r := NewRegistry(func(string) (domain.Embedder, error) {
		built++
		return &countingEmbedder{}, nil
	}, nil)

	a, err := r.Get("bi-encoder-v1")
	if err != nil {
		t.Fatal(err)
	}
	b, err := r.Get("bi-encoder-v1")
	if err != nil {
		t.Fatal(err)
	}
	if a != b || built != 1 {
		t.Errorf("same id must reuse the instance (built %d)", built)
	}

	if _, err := r.Get("bi-encoder-v2"); err != nil {
		t.Fatal(err)
	}
	if built != 2 {
		t.Errorf("distinct id must construct, built %d", built)
	}
}

func TestRegistry_EmptyModelID(t *testing.T) {
	r := NewRegistry(func(string) (domain.Embedder, error) { return &countingEmbedder{}, nil }, nil)
	if _, err := r.Get(""); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
}

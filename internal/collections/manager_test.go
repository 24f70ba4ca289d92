package collections

import (
	"errors"
	"os"
	"testing"

	"github.com/alexban14/ai.dok/internal/bm25"
	"github.com/alexban14/ai.dok/internal/domain"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	m := NewManager(dir, bm25.DefaultConfig(), []domain.Collection{{
		Name:             "rcp_docs",
		EmbeddingModelID: "bi-encoder-v1",
		RerankerModelID:  "cross-encoder-v1",
		VectorDim:        4,
	}}, nil)
	return m, dir
}

func TestGet_KnownAndUnknown(t *testing.T) {
	m, _ := newTestManager(t)

	col, err := m.Get("rcp_docs")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if col.EmbeddingModelID != "bi-encoder-v1" {
		t.Errorf("binding = %+v", col)
	}

	if _, err := m.Get("absent"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSparse_MissingIndexIsRebuildSignal(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.Sparse("rcp_docs"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("query path must surface the rebuild requirement, got %v", err)
	}

	// the indexing path starts empty instead
	idx, err := m.SparseForRebuild("rcp_docs")
	if err != nil {
		t.Fatalf("sparse for rebuild: %v", err)
	}
	if idx.Len() != 0 {
		t.Errorf("expected empty index, got %d docs", idx.Len())
	}

	// after the rebuild opened it, the query path shares the instance
	idx2, err := m.Sparse("rcp_docs")
	if err != nil {
		t.Fatalf("sparse after rebuild open: %v", err)
	}
	if idx2 != idx {
		t.Error("query and indexing paths must share one index instance")
	}
}

func TestSparse_CorruptIndex(t *testing.T) {
	m, _ := newTestManager(t)
	path := m.IndexPath("rcp_docs")
	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := m.Sparse("rcp_docs"); !errors.Is(err, domain.ErrIndexCorrupt) {
		t.Errorf("expected ErrIndexCorrupt, got %v", err)
	}

	idx, err := m.SparseForRebuild("rcp_docs")
	if err != nil {
		t.Fatalf("rebuild over corrupt file: %v", err)
	}
	if idx.Len() != 0 {
		t.Error("corrupt index must rebuild from empty")
	}
}

func TestSaveSparse_RoundTrip(t *testing.T) {
	m, dir := newTestManager(t)

	idx, err := m.SparseForRebuild("rcp_docs")
	if err != nil {
		t.Fatal(err)
	}
	idx.AddDocuments([]bm25.Document{{ChunkID: "c1", Tokens: []string{"alfa", "beta"}}})
	if err := m.SaveSparse("rcp_docs"); err != nil {
		t.Fatalf("save: %v", err)
	}

	// a fresh manager over the same directory loads the persisted state
	m2 := NewManager(dir, bm25.DefaultConfig(), []domain.Collection{{
		Name: "rcp_docs", EmbeddingModelID: "bi-encoder-v1", RerankerModelID: "x", VectorDim: 4,
	}}, nil)
	idx2, err := m2.Sparse("rcp_docs")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if idx2.Len() != 1 {
		t.Errorf("persisted doc lost: %d", idx2.Len())
	}
}

func TestDrop_RemovesFileAndState(t *testing.T) {
	m, _ := newTestManager(t)

	idx, _ := m.SparseForRebuild("rcp_docs")
	idx.AddDocuments([]bm25.Document{{ChunkID: "c1", Tokens: []string{"alfa"}}})
	if err := m.SaveSparse("rcp_docs"); err != nil {
		t.Fatal(err)
	}

	if err := m.Drop("rcp_docs"); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := os.Stat(m.IndexPath("rcp_docs")); !os.IsNotExist(err) {
		t.Error("persisted file must be removed")
	}
	if _, err := m.Sparse("rcp_docs"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("dropped index must read as absent, got %v", err)
	}
}

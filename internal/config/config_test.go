package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/alexban14/ai.dok/internal/domain"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "config"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config", "test.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_DefaultsApplied(t *testing.T) {
	writeConfig(t, "data_dir: /tmp/aidok\n")

	cfg, err := Load("test")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Retrieval.Strategy != "hybrid" || cfg.Retrieval.RetrievalTopK != 20 || cfg.Retrieval.RerankerTopK != 5 {
		t.Errorf("retrieval defaults = %+v", cfg.Retrieval)
	}
	if cfg.BM25.K1 != 1.5 || cfg.BM25.B != 0.75 {
		t.Errorf("bm25 defaults = %+v", cfg.BM25)
	}
	if cfg.Chunking.Size != 512 || cfg.Chunking.Overlap != 100 || !*cfg.Chunking.BySection {
		t.Errorf("chunking defaults = %+v", cfg.Chunking)
	}
	if cfg.Indexing.MaxConcurrent != 20 || cfg.Indexing.BatchSize != 500 {
		t.Errorf("indexing defaults = %+v", cfg.Indexing)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	writeConfig(t, "embedding:\n  model: from-yaml\n  dimensions: 384\n")
	t.Setenv("EMBEDDING_MODEL", "from-env")
	t.Setenv("RETRIEVAL_STRATEGY", "sparse")
	t.Setenv("BM25_K1", "1.2")
	t.Setenv("RERANKER_TOP_K", "7")
	t.Setenv("CHUNK_BY_SECTION", "false")

	cfg, err := Load("test")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Embedding.Model != "from-env" {
		t.Errorf("EMBEDDING_MODEL override lost: %q", cfg.Embedding.Model)
	}
	if cfg.Retrieval.Strategy != "sparse" || cfg.Retrieval.RerankerTopK != 7 {
		t.Errorf("retrieval overrides = %+v", cfg.Retrieval)
	}
	if cfg.BM25.K1 != 1.2 {
		t.Errorf("BM25_K1 override lost: %f", cfg.BM25.K1)
	}
	if *cfg.Chunking.BySection {
		t.Error("CHUNK_BY_SECTION=false override lost")
	}
}

func TestLoad_VarExpansion(t *testing.T) {
	writeConfig(t, "vector_store:\n  password: ${AIDOK_TEST_PW:-fallback}\n")

	cfg, err := Load("test")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.VectorStore.Password != "fallback" {
		t.Errorf("default expansion lost: %q", cfg.VectorStore.Password)
	}

	t.Setenv("AIDOK_TEST_PW", "secret")
	cfg, err = Load("test")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.VectorStore.Password != "secret" {
		t.Errorf("env expansion lost: %q", cfg.VectorStore.Password)
	}
}

func TestLoad_InvalidStrategy(t *testing.T) {
	writeConfig(t, "retrieval:\n  strategy: cosmic\n")
	if _, err := Load("test"); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
}

func TestLoad_OverlapBounds(t *testing.T) {
	writeConfig(t, "chunking:\n  size: 100\n  overlap: 150\n")
	if _, err := Load("test"); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
}

func TestDomainCollections_InheritGlobals(t *testing.T) {
	writeConfig(t, `
embedding:
  model: bi-encoder-v1
  dimensions: 384
reranker:
  model: cross-encoder-v1
collections:
  - name: rcp_docs
  - name: rcp_next
    embedding_model: bi-encoder-v2
    dimensions: 768
`)
	cfg, err := Load("test")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cols := cfg.DomainCollections()
	if len(cols) != 2 {
		t.Fatalf("expected 2 collections, got %d", len(cols))
	}
	if cols[0].EmbeddingModelID != "bi-encoder-v1" || cols[0].VectorDim != 384 {
		t.Errorf("inherited binding = %+v", cols[0])
	}
	if cols[1].EmbeddingModelID != "bi-encoder-v2" || cols[1].VectorDim != 768 {
		t.Errorf("override binding = %+v", cols[1])
	}
	if cols[1].RerankerModelID != "cross-encoder-v1" {
		t.Errorf("reranker inheritance lost: %+v", cols[1])
	}
}

func TestLoad_DuplicateCollections(t *testing.T) {
	writeConfig(t, "collections:\n  - name: a\n  - name: a\n")
	if _, err := Load("test"); !errors.Is(err, domain.ErrConfig) {
		t.Errorf("expected ErrConfig, got %v", err)
	}
}

package indexer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"testing"

	"github.com/alexban14/ai.dok/internal/bm25"
	"github.com/alexban14/ai.dok/internal/collections"
	"github.com/alexban14/ai.dok/internal/domain"
	"github.com/alexban14/ai.dok/internal/vecstore/memory"
)

// --- Mocks ---

type memBucket struct {
	order  []string
	files  map[string][]byte
	broken map[string]error
}

func newMemBucket() *memBucket {
	return &memBucket{files: map[string][]byte{}, broken: map[string]error{}}
}

func (b *memBucket) add(id, text string) {
	b.order = append(b.order, id)
	b.files[id] = []byte(text)
}

func (b *memBucket) List(context.Context) ([]string, error) {
	return append([]string(nil), b.order...), nil
}

func (b *memBucket) Get(_ context.Context, id string) ([]byte, error) {
	if err := b.broken[id]; err != nil {
		return nil, err
	}
	data, ok := b.files[id]
	if !ok {
		return nil, fmt.Errorf("no such object %s", id)
	}
	return data, nil
}

type passExtractor struct{}

func (passExtractor) Extract(_ context.Context, data []byte) (string, error) {
	return string(data), nil
}

// stubEmbedder produces deterministic pseudo-vectors from a text hash.
type stubEmbedder struct{ dim int }

func (e *stubEmbedder) Encode(_ context.Context, texts []string, _ bool) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		h := sha256.Sum256([]byte(t))
		v := make([]float32, e.dim)
		for d := 0; d < e.dim; d++ {
			v[d] = float32(binary.LittleEndian.Uint16(h[d*2:])) / 65535
		}
		out[i] = v
	}
	return out, nil
}
func (e *stubEmbedder) ModelID() string { return "bi-encoder-v1" }
func (e *stubEmbedder) Dimensions() int { return e.dim }

type stubEmbedders struct{ emb domain.Embedder }

func (s *stubEmbedders) Get(string) (domain.Embedder, error) { return s.emb, nil }

func rcpDoc(drug string) string {
	return "4.1 INDICAȚII TERAPEUTICE\n" + drug + " is indicated for treatment.\n" +
		"4.2 DOZE ŞI MOD DE ADMINISTRARE\nThe daily dose of " + drug + " is 15 mg/kg.\n"
}

func testEnv(t *testing.T, dataDir string) (*Service, *collections.Manager, *memory.Store, *memBucket) {
	t.Helper()
	if dataDir == "" {
		dataDir = t.TempDir()
	}
	colls := collections.NewManager(dataDir, bm25.DefaultConfig(), []domain.Collection{{
		Name:             "rcp",
		EmbeddingModelID: "bi-encoder-v1",
		RerankerModelID:  "cross-encoder-v1",
		VectorDim:        4,
	}}, nil)
	store := memory.NewStore()
	bucket := newMemBucket()
	svc := New(bucket, passExtractor{}, colls, store, &stubEmbedders{emb: &stubEmbedder{dim: 4}}, nil)
	return svc, colls, store, bucket
}

// --- Tests ---

func TestProcessBucket_HappyPath(t *testing.T) {
	svc, colls, store, bucket := testEnv(t, "")
	bucket.add("f1.pdf", rcpDoc("Alfadrug"))
	bucket.add("f2.pdf", rcpDoc("Betadrug"))
	bucket.add("f3.pdf", rcpDoc("Gammadrug"))

	var lastProgress domain.Progress
	prev := -1
	rep, err := svc.ProcessBucket(context.Background(), "rcp", Options{UseSectionChunking: true}, func(p domain.Progress) {
		if p.Current < prev {
			t.Errorf("progress regressed: %d after %d", p.Current, prev)
		}
		prev = p.Current
		lastProgress = p
	})
	if err != nil {
		t.Fatalf("process bucket: %v", err)
	}
	if rep.ProcessedOK != 3 || rep.Failed != 0 || rep.Skipped != 0 {
		t.Errorf("report = %+v", rep)
	}
	if lastProgress.Current != 3 || lastProgress.Total != 3 {
		t.Errorf("final progress = %+v", lastProgress)
	}

	// sparse and dense chunk id sets must match
	sparse, err := colls.Sparse("rcp")
	if err != nil {
		t.Fatalf("sparse: %v", err)
	}
	sparseIDs := sparse.ChunkIDs()
	denseIDs := store.ChunkIDs("rcp")
	sort.Strings(sparseIDs)
	sort.Strings(denseIDs)
	if len(sparseIDs) == 0 || len(sparseIDs) != len(denseIDs) {
		t.Fatalf("id sets differ: %d sparse vs %d dense", len(sparseIDs), len(denseIDs))
	}
	for i := range sparseIDs {
		if sparseIDs[i] != denseIDs[i] {
			t.Fatalf("id mismatch at %d", i)
		}
	}

	// persisted index exists and loads
	if _, err := bm25.Load(colls.IndexPath("rcp")); err != nil {
		t.Errorf("persisted index unreadable: %v", err)
	}

	for _, src := range []string{"f1.pdf", "f2.pdf", "f3.pdf"} {
		ok, _ := store.HasSource(context.Background(), "rcp", src)
		if !ok {
			t.Errorf("source %s not marked", src)
		}
	}
}

func TestProcessBucket_PerFileFailureDoesNotAbort(t *testing.T) {
	svc, _, _, bucket := testEnv(t, "")
	bucket.add("good1.pdf", rcpDoc("Alfadrug"))
	bucket.add("bad.pdf", rcpDoc("Betadrug"))
	bucket.add("good2.pdf", rcpDoc("Gammadrug"))
	bucket.broken["bad.pdf"] = errors.New("object storage 500")

	rep, err := svc.ProcessBucket(context.Background(), "rcp", Options{UseSectionChunking: true}, nil)
	if err != nil {
		t.Fatalf("per-file failure must not abort the run: %v", err)
	}
	if rep.ProcessedOK != 2 || rep.Failed != 1 {
		t.Errorf("report = %+v", rep)
	}
	if len(rep.FailedItems) != 1 || rep.FailedItems[0].ID != "bad.pdf" {
		t.Errorf("failed items = %+v", rep.FailedItems)
	}
	if !strings.Contains(rep.FailedItems[0].Reason, "object storage 500") {
		t.Errorf("reason lost: %q", rep.FailedItems[0].Reason)
	}
}

func TestProcessBucket_ResumeSkipsAndMatchesUninterrupted(t *testing.T) {
	docs := []struct{ id, text string }{
		{"f1.pdf", rcpDoc("Alfa")},
		{"f2.pdf", rcpDoc("Beta")},
		{"f3.pdf", rcpDoc("Gamma")},
		{"f4.pdf", rcpDoc("Delta")},
		{"f5.pdf", rcpDoc("Epsilon")},
	}

	// uninterrupted run over all five
	dirA := t.TempDir()
	svcA, collsA, _, bucketA := testEnv(t, dirA)
	for _, d := range docs {
		bucketA.add(d.id, d.text)
	}
	if _, err := svcA.ProcessBucket(context.Background(), "rcp", Options{UseSectionChunking: true}, nil); err != nil {
		t.Fatalf("run A: %v", err)
	}
	bytesA, err := os.ReadFile(collsA.IndexPath("rcp"))
	if err != nil {
		t.Fatal(err)
	}

	// interrupted run: first three, then resume over all five against the
	// same persisted state and vector store
	dirB := t.TempDir()
	svcB, _, storeB, bucketB := testEnv(t, dirB)
	for _, d := range docs[:3] {
		bucketB.add(d.id, d.text)
	}
	if _, err := svcB.ProcessBucket(context.Background(), "rcp", Options{UseSectionChunking: true}, nil); err != nil {
		t.Fatalf("run B1: %v", err)
	}

	// fresh manager simulates the restarted process reloading from disk
	collsB2 := collections.NewManager(dirB, bm25.DefaultConfig(), []domain.Collection{{
		Name: "rcp", EmbeddingModelID: "bi-encoder-v1", RerankerModelID: "cross-encoder-v1", VectorDim: 4,
	}}, nil)
	bucketB2 := newMemBucket()
	for _, d := range docs {
		bucketB2.add(d.id, d.text)
	}
	svcB2 := New(bucketB2, passExtractor{}, collsB2, storeB, &stubEmbedders{emb: &stubEmbedder{dim: 4}}, nil)

	rep, err := svcB2.ProcessBucket(context.Background(), "rcp", Options{UseSectionChunking: true}, nil)
	if err != nil {
		t.Fatalf("run B2: %v", err)
	}
	if rep.Skipped != 3 || rep.ProcessedOK != 2 {
		t.Errorf("resume report = %+v", rep)
	}

	bytesB, err := os.ReadFile(collsB2.IndexPath("rcp"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(bytesA, bytesB) {
		t.Error("resumed run must produce a byte-identical BM25 file")
	}
}

func TestProcessBucket_Cancelled(t *testing.T) {
	svc, _, _, bucket := testEnv(t, "")
	bucket.add("f1.pdf", rcpDoc("Alfa"))
	bucket.add("f2.pdf", rcpDoc("Beta"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rep, err := svc.ProcessBucket(ctx, "rcp", Options{}, nil)
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	if rep.Failed != 2 {
		t.Errorf("unstarted files must be captured as failed, report = %+v", rep)
	}
	for _, it := range rep.FailedItems {
		if it.Reason != "cancelled" {
			t.Errorf("reason = %q, want cancelled", it.Reason)
		}
	}
}

func TestProcessBucket_DimensionMismatch(t *testing.T) {
	dataDir := t.TempDir()
	colls := collections.NewManager(dataDir, bm25.DefaultConfig(), []domain.Collection{{
		Name: "rcp", EmbeddingModelID: "bi-encoder-v1", RerankerModelID: "x", VectorDim: 8,
	}}, nil)
	bucket := newMemBucket()
	bucket.add("f1.pdf", rcpDoc("Alfa"))
	svc := New(bucket, passExtractor{}, colls, memory.NewStore(), &stubEmbedders{emb: &stubEmbedder{dim: 4}}, nil)

	_, err := svc.ProcessBucket(context.Background(), "rcp", Options{}, nil)
	if !errors.Is(err, domain.ErrConfig) {
		t.Errorf("expected ErrConfig for dimension mismatch, got %v", err)
	}
}

func TestProcessBucket_UnknownCollection(t *testing.T) {
	svc, _, _, _ := testEnv(t, "")
	_, err := svc.ProcessBucket(context.Background(), "absent", Options{}, nil)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestProcessSingle_FallbackDocument(t *testing.T) {
	svc, _, store, _ := testEnv(t, "")

	text := strings.Repeat("plain prose without any headers. ", 70)
	rep, err := svc.ProcessSingle(context.Background(), "rcp", "plain.pdf", []byte(text))
	if err != nil {
		t.Fatalf("process single: %v", err)
	}
	if rep.Method != domain.ChunkingFallback {
		t.Errorf("method = %s, want fallback", rep.Method)
	}
	if rep.Sections != 1 || rep.Chunks < 2 {
		t.Errorf("report = %+v", rep)
	}
	if got := len(store.ChunkIDs("rcp")); got != rep.Chunks {
		t.Errorf("store has %d chunks, report says %d", got, rep.Chunks)
	}
	ok, _ := store.HasSource(context.Background(), "rcp", "plain.pdf")
	if !ok {
		t.Error("source not marked after single processing")
	}
}

package bm25

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alexban14/ai.dok/internal/domain"
	"github.com/alexban14/ai.dok/internal/rcp"
)

func docsFrom(pairs ...string) []Document {
	docs := make([]Document, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		docs = append(docs, Document{ChunkID: pairs[i], Tokens: rcp.Tokenize(pairs[i+1])})
	}
	return docs
}

func TestQuery_SingleTermOrdering(t *testing.T) {
	x := New(DefaultConfig())
	x.AddDocuments(docsFrom(
		"a", "the quick brown fox",
		"b", "lazy dog",
		"c", "quick dog",
	))

	hits := x.Query(rcp.Tokenize("quick"), 3)
	if len(hits) != 3 {
		t.Fatalf("expected 3 hits, got %d", len(hits))
	}
	// a and c contain the term and must rank before b; with b=0.75 the
	// shorter document c length-normalizes above a.
	if hits[0].ChunkID != "c" {
		t.Errorf("hit 0 = %s, want c", hits[0].ChunkID)
	}
	if hits[1].ChunkID != "a" {
		t.Errorf("hit 1 = %s, want a", hits[1].ChunkID)
	}
	if hits[2].ChunkID != "b" {
		t.Errorf("hit 2 = %s, want b", hits[2].ChunkID)
	}
	if hits[2].Score != 0 {
		t.Errorf("non-matching doc should score 0, got %f", hits[2].Score)
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("scores not descending: %f < %f", hits[0].Score, hits[1].Score)
	}
}

func TestQuery_UnknownTermsReturnNothing(t *testing.T) {
	x := New(DefaultConfig())
	x.AddDocuments(docsFrom("a", "alfa beta"))

	if hits := x.Query(rcp.Tokenize("gamma delta"), 10); hits != nil {
		t.Errorf("expected no hits for unknown terms, got %v", hits)
	}
	if hits := x.Query(nil, 10); hits != nil {
		t.Errorf("expected no hits for empty query, got %v", hits)
	}
}

func TestQuery_TieBreakByInternalIndex(t *testing.T) {
	x := New(DefaultConfig())
	x.AddDocuments(docsFrom(
		"z-last", "identical tokens here",
		"a-first", "identical tokens here",
	))

	hits := x.Query(rcp.Tokenize("identical"), 2)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	// equal scores: insertion order wins, not lexical chunk id order
	if hits[0].ChunkID != "z-last" || hits[1].ChunkID != "a-first" {
		t.Errorf("tie not broken by internal index: %v", hits)
	}
}

func TestQuery_TopKCaps(t *testing.T) {
	x := New(DefaultConfig())
	x.AddDocuments(docsFrom(
		"a", "dog one", "b", "dog two", "c", "dog three", "d", "dog four",
	))

	if hits := x.Query(rcp.Tokenize("dog"), 2); len(hits) != 2 {
		t.Errorf("topK not applied: %d hits", len(hits))
	}
}

func TestOkapiScoreValue(t *testing.T) {
	// Hand-computed BM25 for a one-doc corpus.
	x := New(Config{K1: 1.5, B: 0.75})
	x.AddDocuments(docsFrom("a", "quick quick fox"))

	hits := x.Query([]string{"quick"}, 1)
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	idf := math.Log((1-1+0.5)/(1+0.5) + 1)
	tf := 2.0
	want := idf * (tf * 2.5) / (tf + 1.5*(1-0.75+0.75*3.0/3.0))
	if math.Abs(hits[0].Score-want) > 1e-12 {
		t.Errorf("score = %g, want %g", hits[0].Score, want)
	}
}

func TestAddDocuments_Deterministic(t *testing.T) {
	build := func() *Index {
		x := New(DefaultConfig())
		x.AddDocuments(docsFrom(
			"a", "the quick brown fox",
			"b", "lazy dog",
		))
		x.AddDocuments(docsFrom("c", "quick dog"))
		return x
	}
	a, b := encode(build().snap.Load()), encode(build().snap.Load())
	if !bytes.Equal(a, b) {
		t.Error("identical input order must produce byte-identical encoded state")
	}
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := IndexPath(dir, "rcp_docs")

	x := New(DefaultConfig())
	x.AddDocuments(docsFrom(
		"a", "the quick brown fox",
		"b", "lazy dog",
		"c", "quick dog",
	))
	if err := x.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	k1, b := loaded.Params()
	if k1 != 1.5 || b != 0.75 {
		t.Errorf("params lost: k1=%f b=%f", k1, b)
	}
	if loaded.Len() != 3 {
		t.Errorf("doc count lost: %d", loaded.Len())
	}

	want := x.Query(rcp.Tokenize("quick dog"), 3)
	got := loaded.Query(rcp.Tokenize("quick dog"), 3)
	if len(want) != len(got) {
		t.Fatalf("ranking lengths differ: %d vs %d", len(want), len(got))
	}
	for i := range want {
		if want[i].ChunkID != got[i].ChunkID || want[i].Score != got[i].Score {
			t.Errorf("rank %d differs: %+v vs %+v", i, want[i], got[i])
		}
	}
}

func TestSave_ByteIdenticalAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	var files [2][]byte
	for i := range files {
		path := filepath.Join(dir, "idx", "bm25_index_run.bin")
		x := New(DefaultConfig())
		x.AddDocuments(docsFrom("a", "alfa beta", "b", "beta gamma"))
		if err := x.Save(path); err != nil {
			t.Fatalf("save: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read back: %v", err)
		}
		files[i] = data
	}
	if !bytes.Equal(files[0], files[1]) {
		t.Error("persisted files must be byte-identical for identical input")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.bin"))
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLoad_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bm25_index_x.bin")

	x := New(DefaultConfig())
	x.AddDocuments(docsFrom("a", "alfa beta"))
	if err := x.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}

	cases := map[string][]byte{
		"bad magic":   append([]byte("NOTBM25\x00"), data[8:]...),
		"truncated":   data[:len(data)/2],
		"flipped bit": flipByte(data, len(data)/2),
		"bad version": flipByte(data, 8),
	}
	for name, corrupt := range cases {
		if err := os.WriteFile(path, corrupt, 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); !errors.Is(err, domain.ErrIndexCorrupt) {
			t.Errorf("%s: expected ErrIndexCorrupt, got %v", name, err)
		}
	}
}

func flipByte(data []byte, i int) []byte {
	out := append([]byte(nil), data...)
	out[i] ^= 0xFF
	return out
}

func TestConcurrentReadersDuringWrites(t *testing.T) {
	x := New(DefaultConfig())
	x.AddDocuments(docsFrom("seed", "quick start"))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				hits := x.Query([]string{"quick"}, 5)
				for i := 1; i < len(hits); i++ {
					if hits[i].Score > hits[i-1].Score {
						t.Error("reader observed unsorted snapshot")
						return
					}
				}
			}
		}()
	}

	for i := 0; i < 50; i++ {
		x.AddDocuments([]Document{{ChunkID: string(rune('a' + i%26)) + "x", Tokens: []string{"quick", "extra"}}})
	}
	close(stop)
	wg.Wait()
}

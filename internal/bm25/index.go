// Package bm25 implements the persistent sparse index with Okapi BM25
// scoring. Updates go through a single writer and publish immutable
// snapshots that readers acquire atomically, so queries never observe a
// half-applied batch.
package bm25

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
)

// Config holds the Okapi parameters.
type Config struct {
	K1 float64
	B  float64
}

// DefaultConfig returns the corpus-tuned parameters.
func DefaultConfig() Config {
	return Config{K1: 1.5, B: 0.75}
}

// Document is one indexed chunk: its id and lexical token stream.
type Document struct {
	ChunkID string
	Tokens  []string
}

// Scored is a query hit.
type Scored struct {
	ChunkID string
	Score   float64
}

// posting is one (term, frequency) pair of a document, ordered by first
// occurrence so that identical input order produces identical state.
type posting struct {
	term uint32
	tf   uint32
}

// docPosting is one inverted-list entry, ascending by document index.
type docPosting struct {
	doc uint32
	tf  uint32
}

// snapshot is the immutable published state of the index.
type snapshot struct {
	k1, b    float64
	vocab    []string
	df       []uint32
	termIdx  map[string]uint32
	docIDs   []string
	docTerms [][]posting
	docLen   []uint32
	totalLen uint64
	inverted [][]docPosting
}

func emptySnapshot(cfg Config) *snapshot {
	return &snapshot{
		k1:      cfg.K1,
		b:       cfg.B,
		termIdx: map[string]uint32{},
	}
}

func (s *snapshot) avgdl() float64 {
	if len(s.docIDs) == 0 {
		return 0
	}
	return float64(s.totalLen) / float64(len(s.docIDs))
}

// Index is the sparse index handle. Safe for concurrent use:
// single writer, any number of readers.
type Index struct {
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[snapshot]
}

// New creates an empty index with the given parameters.
func New(cfg Config) *Index {
	x := &Index{}
	x.snap.Store(emptySnapshot(cfg))
	return x
}

// Params returns the Okapi parameters the index was built with.
func (x *Index) Params() (k1, b float64) {
	s := x.snap.Load()
	return s.k1, s.b
}

// Len returns the number of indexed documents.
func (x *Index) Len() int {
	return len(x.snap.Load().docIDs)
}

// ChunkIDs returns the ordered chunk id list; position equals the internal
// document index, aligned with the dense index's logical ordering.
func (x *Index) ChunkIDs() []string {
	src := x.snap.Load().docIDs
	out := make([]string, len(src))
	copy(out, src)
	return out
}

// AddDocuments appends documents and publishes a new snapshot. Identical
// input in identical order always produces identical state.
func (x *Index) AddDocuments(docs []Document) {
	if len(docs) == 0 {
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	next := x.snap.Load().clone()
	for _, d := range docs {
		next.appendDocument(d)
	}
	x.snap.Store(next)
}

// clone copies the mutable containers; per-document posting slices are
// immutable once published and are shared.
func (s *snapshot) clone() *snapshot {
	next := &snapshot{
		k1:       s.k1,
		b:        s.b,
		vocab:    append([]string(nil), s.vocab...),
		df:       append([]uint32(nil), s.df...),
		termIdx:  make(map[string]uint32, len(s.termIdx)),
		docIDs:   append([]string(nil), s.docIDs...),
		docTerms: append([][]posting(nil), s.docTerms...),
		docLen:   append([]uint32(nil), s.docLen...),
		totalLen: s.totalLen,
		inverted: make([][]docPosting, len(s.inverted)),
	}
	for t, i := range s.termIdx {
		next.termIdx[t] = i
	}
	for i, lst := range s.inverted {
		next.inverted[i] = append([]docPosting(nil), lst...)
	}
	return next
}

func (s *snapshot) appendDocument(d Document) {
	docIdx := uint32(len(s.docIDs))

	// per-document term frequencies in first-occurrence order
	var terms []posting
	pos := map[uint32]int{}
	for _, tok := range d.Tokens {
		ti, ok := s.termIdx[tok]
		if !ok {
			ti = uint32(len(s.vocab))
			s.termIdx[tok] = ti
			s.vocab = append(s.vocab, tok)
			s.df = append(s.df, 0)
			s.inverted = append(s.inverted, nil)
		}
		if p, seen := pos[ti]; seen {
			terms[p].tf++
		} else {
			pos[ti] = len(terms)
			terms = append(terms, posting{term: ti, tf: 1})
		}
	}

	for _, p := range terms {
		s.df[p.term]++
		s.inverted[p.term] = append(s.inverted[p.term], docPosting{doc: docIdx, tf: p.tf})
	}

	s.docIDs = append(s.docIDs, d.ChunkID)
	s.docTerms = append(s.docTerms, terms)
	s.docLen = append(s.docLen, uint32(len(d.Tokens)))
	s.totalLen += uint64(len(d.Tokens))
}

// Query scores the corpus against the tokenized query and returns up to
// topK hits sorted by descending score, ties broken by ascending internal
// document index. A query with no known terms returns nothing.
func (x *Index) Query(tokens []string, topK int) []Scored {
	s := x.snap.Load()
	if len(s.docIDs) == 0 || topK <= 0 {
		return nil
	}

	known := false
	scores := make([]float64, len(s.docIDs))
	n := float64(len(s.docIDs))
	avgdl := s.avgdl()

	for _, tok := range tokens {
		ti, ok := s.termIdx[tok]
		if !ok {
			continue
		}
		known = true
		idf := math.Log((n-float64(s.df[ti])+0.5)/(float64(s.df[ti])+0.5) + 1)
		for _, dp := range s.inverted[ti] {
			tf := float64(dp.tf)
			norm := 1 - s.b + s.b*float64(s.docLen[dp.doc])/avgdl
			scores[dp.doc] += idf * (tf * (s.k1 + 1)) / (tf + s.k1*norm)
		}
	}
	if !known {
		return nil
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		if scores[order[i]] != scores[order[j]] {
			return scores[order[i]] > scores[order[j]]
		}
		return order[i] < order[j]
	})

	if topK > len(order) {
		topK = len(order)
	}
	out := make([]Scored, 0, topK)
	for _, di := range order[:topK] {
		out = append(out, Scored{ChunkID: s.docIDs[di], Score: scores[di]})
	}
	return out
}

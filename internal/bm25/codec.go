package bm25

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
	"os"
	"path/filepath"

	"github.com/alexban14/ai.dok/internal/domain"
)

const (
	magic         = "BM25IDX\x00"
	formatVersion = uint32(1)
)

// IndexPath returns the stable on-disk location of a collection's index.
func IndexPath(dataDir, collection string) string {
	return filepath.Join(dataDir, "bm25_index_"+collection+".bin")
}

// Save writes the index to path atomically: the encoded state goes to a
// .tmp sibling first and is renamed over the target, so readers only ever
// observe complete files. A stray .tmp from an interrupted run is simply
// overwritten.
func (x *Index) Save(path string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	data := encode(x.snap.Load())

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// Load reads a persisted index. A missing file maps to domain.ErrNotFound;
// a truncated, mis-versioned, or checksum-failing file maps to
// domain.ErrIndexCorrupt — both mean the caller must rebuild.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: bm25 index %s", domain.ErrNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	snap, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrIndexCorrupt, path, err)
	}

	x := &Index{}
	x.snap.Store(snap)
	return x, nil
}

// encode serializes a snapshot:
//
//	magic(8) version(u32) k1(f64) b(f64) n_docs(u64) avgdl(f64)
//	vocab_size(u64) vocab[(u32 len, bytes, u32 df)...]
//	doc_ids[(u32 len, bytes)...]
//	postings[(u32 tf_count, (u32 term, u32 tf)..., u32 doc_len)...]
//	crc32(u32) over everything above
//
// All integers and floats little-endian.
func encode(s *snapshot) []byte {
	var buf bytes.Buffer
	buf.WriteString(magic)
	writeU32(&buf, formatVersion)
	writeF64(&buf, s.k1)
	writeF64(&buf, s.b)
	writeU64(&buf, uint64(len(s.docIDs)))
	writeF64(&buf, s.avgdl())
	writeU64(&buf, uint64(len(s.vocab)))
	for i, term := range s.vocab {
		writeU32(&buf, uint32(len(term)))
		buf.WriteString(term)
		writeU32(&buf, s.df[i])
	}
	for _, id := range s.docIDs {
		writeU32(&buf, uint32(len(id)))
		buf.WriteString(id)
	}
	for i, terms := range s.docTerms {
		writeU32(&buf, uint32(len(terms)))
		for _, p := range terms {
			writeU32(&buf, p.term)
			writeU32(&buf, p.tf)
		}
		writeU32(&buf, s.docLen[i])
	}
	writeU32(&buf, crc32.ChecksumIEEE(buf.Bytes()))
	return buf.Bytes()
}

func decode(data []byte) (*snapshot, error) {
	if len(data) < len(magic)+4+8+8+8+8+8+4 {
		return nil, fmt.Errorf("file too short (%d bytes)", len(data))
	}
	if string(data[:len(magic)]) != magic {
		return nil, fmt.Errorf("bad magic")
	}

	body, trailer := data[:len(data)-4], data[len(data)-4:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(trailer) {
		return nil, fmt.Errorf("crc mismatch")
	}

	r := &reader{data: body, off: len(magic)}
	if v := r.u32(); v != formatVersion {
		return nil, fmt.Errorf("unsupported format version %d", v)
	}

	s := &snapshot{
		k1:      r.f64(),
		b:       r.f64(),
		termIdx: map[string]uint32{},
	}
	nDocs := r.u64()
	r.f64() // avgdl is derived state; recomputed from doc lengths

	vocabSize := r.u64()
	s.vocab = make([]string, 0, vocabSize)
	s.df = make([]uint32, 0, vocabSize)
	s.inverted = make([][]docPosting, vocabSize)
	for i := uint64(0); i < vocabSize; i++ {
		term := r.str()
		s.termIdx[term] = uint32(len(s.vocab))
		s.vocab = append(s.vocab, term)
		s.df = append(s.df, r.u32())
	}

	s.docIDs = make([]string, 0, nDocs)
	for i := uint64(0); i < nDocs; i++ {
		s.docIDs = append(s.docIDs, r.str())
	}

	s.docTerms = make([][]posting, 0, nDocs)
	s.docLen = make([]uint32, 0, nDocs)
	for d := uint64(0); d < nDocs; d++ {
		count := r.u32()
		terms := make([]posting, 0, count)
		for i := uint32(0); i < count; i++ {
			p := posting{term: r.u32(), tf: r.u32()}
			if uint64(p.term) >= vocabSize {
				return nil, fmt.Errorf("doc %d references term %d beyond vocab", d, p.term)
			}
			terms = append(terms, p)
			s.inverted[p.term] = append(s.inverted[p.term], docPosting{doc: uint32(d), tf: p.tf})
		}
		s.docTerms = append(s.docTerms, terms)
		dl := r.u32()
		s.docLen = append(s.docLen, dl)
		s.totalLen += uint64(dl)
	}

	if r.err != nil {
		return nil, r.err
	}
	return s, nil
}

// reader is a bounds-checked little-endian cursor.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.data) {
		r.err = fmt.Errorf("truncated at offset %d", r.off)
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *reader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *reader) f64() float64 {
	return math.Float64frombits(r.u64())
}

func (r *reader) str() string {
	n := r.u32()
	b := r.take(int(n))
	return string(b)
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeF64(buf *bytes.Buffer, v float64) {
	writeU64(buf, math.Float64bits(v))
}

package rcp

import (
	"strings"

	"github.com/alexban14/ai.dok/internal/domain"
)

// ChunkerConfig holds the windowing parameters, all in characters.
type ChunkerConfig struct {
	ChunkSize      int
	Overlap        int
	ChunkBySection bool
}

// DefaultChunkerConfig matches the corpus tuning: 512-char chunks with
// 100-char overlap, split along sections.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{ChunkSize: 512, Overlap: 100, ChunkBySection: true}
}

// Chunker turns parsed sections into size-bounded retrieval chunks.
type Chunker struct {
	cfg ChunkerConfig
}

// NewChunker creates a chunker. A zero or negative chunk size falls back to
// the default; a negative overlap, or one not smaller than the chunk size,
// falls back to the default overlap. A zero overlap is kept.
func NewChunker(cfg ChunkerConfig) *Chunker {
	def := DefaultChunkerConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		cfg.Overlap = def.Overlap
	}
	return &Chunker{cfg: cfg}
}

// Chunk produces the chunks for one source document. Re-chunking the same
// sections with the same parameters yields identical chunk ids and texts.
func (c *Chunker) Chunk(sourceID string, sections []domain.Section, method domain.ChunkingMethod) []domain.Chunk {
	if !c.cfg.ChunkBySection {
		return c.chunkConcatenated(sourceID, sections, method)
	}

	var chunks []domain.Chunk
	for _, sec := range sections {
		// The single fallback section is windowed without overlap: the
		// whole document carries no section boundaries to anchor overlap to.
		overlap := c.cfg.Overlap
		if method == domain.ChunkingFallback {
			overlap = 0
		}
		for i, text := range splitWindows(sec.Text, c.cfg.ChunkSize, overlap) {
			chunks = append(chunks, domain.Chunk{
				ID:            domain.ChunkID(sourceID, sec.Number, i),
				Text:          text,
				SourceID:      sourceID,
				SectionNumber: sec.Number,
				SectionTitle:  sec.Title,
				ChunkIndex:    i,
				Method:        method,
			})
		}
	}
	return chunks
}

// chunkConcatenated joins all sections (title as a sentinel line) and
// windows the whole document; metadata then carries only the source and
// chunk index.
func (c *Chunker) chunkConcatenated(sourceID string, sections []domain.Section, method domain.ChunkingMethod) []domain.Chunk {
	var b strings.Builder
	for _, sec := range sections {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		if sec.Title != "" {
			b.WriteString(sec.Title)
			b.WriteByte('\n')
		}
		b.WriteString(sec.Text)
	}

	var chunks []domain.Chunk
	for i, text := range splitWindows(b.String(), c.cfg.ChunkSize, c.cfg.Overlap) {
		chunks = append(chunks, domain.Chunk{
			ID:         domain.ChunkID(sourceID, "", i),
			Text:       text,
			SourceID:   sourceID,
			ChunkIndex: i,
			Method:     method,
		})
	}
	return chunks
}

// sentence terminators honored by the break preference.
func isBreakRune(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '\n'
}

// splitWindows slices text into windows of size characters advancing by
// size-overlap. Within the last 15% of a window the break moves back to
// the nearest sentence terminator or newline. The trailing remainder is
// emitted as a full-size window shifted left when it is at least size/4
// characters, and merged into the previous window otherwise.
func splitWindows(text string, size, overlap int) []string {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}
	if n <= size {
		return []string{strings.TrimSpace(text)}
	}

	type span struct{ start, end int }
	var spans []span

	start := 0
	for start+size < n {
		end := adjustBreak(runes, start, start+size)
		spans = append(spans, span{start, end})
		next := end - overlap
		if next <= start {
			next = start + (size - overlap)
		}
		start = next
	}

	lastEnd := spans[len(spans)-1].end
	switch tail := n - lastEnd; {
	case tail == 0:
		// windows covered the text exactly
	case tail >= size/4:
		spans = append(spans, span{n - size, n})
	default:
		spans[len(spans)-1].end = n
	}

	out := make([]string, 0, len(spans))
	for _, s := range spans {
		if t := strings.TrimSpace(string(runes[s.start:s.end])); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// adjustBreak moves end back to just after the latest sentence terminator
// found in the last 15% of the window, if any.
func adjustBreak(runes []rune, start, end int) int {
	zone := end - (end-start)*15/100
	if zone < start+1 {
		zone = start + 1
	}
	for i := end - 1; i >= zone; i-- {
		if isBreakRune(runes[i]) {
			return i + 1
		}
	}
	return end
}

package retriever

import "sort"

// rrfK is the Reciprocal Rank Fusion constant (standard value from
// Cormack et al. 2009).
const rrfK = 60

// fuseRRF merges the dense and sparse rankings via Reciprocal Rank Fusion:
// score(d) = sum of 1/(k + rank_i(d)) over the 1-based ranks of the lists
// containing d. Candidates absent from a list contribute nothing from it,
// duplicates collapse into one entry, and ties break on ascending chunk id
// so fusion is stable across runs. When a candidate appears in both lists
// the dense entry is kept: it carries the chunk payload.
func fuseRRF(dense, sparse []candidate) []candidate {
	type scored struct {
		cand    candidate
		score   float64
		inDense bool
	}

	merged := make(map[string]*scored, len(dense)+len(sparse))

	for rank, c := range dense {
		merged[c.chunk.ID] = &scored{cand: c, score: 1.0 / float64(rrfK+rank+1), inDense: true}
	}
	for rank, c := range sparse {
		s := 1.0 / float64(rrfK+rank+1)
		if existing, ok := merged[c.chunk.ID]; ok {
			existing.score += s
			continue
		}
		merged[c.chunk.ID] = &scored{cand: c, score: s}
	}

	fused := make([]candidate, 0, len(merged))
	for _, s := range merged {
		c := s.cand
		c.score = s.score
		fused = append(fused, c)
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].score != fused[j].score {
			return fused[i].score > fused[j].score
		}
		return fused[i].chunk.ID < fused[j].chunk.ID
	})
	return fused
}

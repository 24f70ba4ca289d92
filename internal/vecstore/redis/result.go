package redis

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/redis/rueidis"

	"github.com/alexban14/ai.dok/internal/domain"
	"github.com/alexban14/ai.dok/internal/vecstore"
)

// parseKNNResult converts the RESP2 FT.SEARCH reply into hits.
// Layout is 2-stride: [total, key1, fields1, key2, fields2, ...].
func parseKNNResult(raw []rueidis.RedisMessage, collection string) ([]vecstore.Hit, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if total == 0 {
		return nil, nil
	}

	prefix := keyPrefix + collection + ":chunk:"
	hits := make([]vecstore.Hit, 0, total)
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		fieldArr, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}
		fields := parseFieldPairs(fieldArr)

		hit := vecstore.Hit{Chunk: chunkFromFields(strings.TrimPrefix(key, prefix), fields)}
		if scoreStr, ok := fields["__vector_score"]; ok {
			if d, err := strconv.ParseFloat(scoreStr, 64); err == nil {
				hit.Similarity = max(0, 1.0-d) // cosine distance -> similarity, clamped to [0,1]
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func chunkFromFields(chunkID string, fields map[string]string) domain.Chunk {
	idx, _ := strconv.Atoi(fields["chunk_index"])
	return domain.Chunk{
		ID:            chunkID,
		Text:          fields["__content"],
		SourceID:      fields["source_id"],
		SectionNumber: fields["section_number"],
		SectionTitle:  fields["section_title"],
		ChunkIndex:    idx,
		Method:        domain.ChunkingMethod(fields["method"]),
	}
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

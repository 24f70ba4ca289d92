package redis

import (
	"context"
	"fmt"

	"github.com/redis/rueidis"

	"github.com/alexban14/ai.dok/internal/domain"
	"github.com/alexban14/ai.dok/internal/vecstore"
)

// CacheGet reads a raw cache value; absent keys map to vecstore.ErrKeyNotFound.
func (s *Store) CacheGet(ctx context.Context, key string) ([]byte, error) {
	res := s.client.Do(ctx, s.client.B().Get().Key(key).Build())
	if err := res.Error(); err != nil {
		if rueidis.IsRedisNil(err) {
			return nil, vecstore.ErrKeyNotFound
		}
		return nil, fmt.Errorf("%w: GET: %v", domain.ErrExternalUnavailable, err)
	}
	data, err := res.AsBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: GET: %v", domain.ErrExternalUnavailable, err)
	}
	return data, nil
}

// CacheSet writes a raw cache value.
func (s *Store) CacheSet(ctx context.Context, key string, value []byte) error {
	cmd := s.client.B().Set().Key(key).Value(rueidis.BinaryString(value)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("%w: SET: %v", domain.ErrExternalUnavailable, err)
	}
	return nil
}

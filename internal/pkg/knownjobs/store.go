package knownjobs

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

const key = "agent:knownJobs"

// Store persists ticket ids already surfaced to the partner
// the set only ever grows, ids are never pruned
type Store struct {
	rdb redis.UniversalClient
}

// NewStore creates known jobs store instance
func NewStore(rdb redis.UniversalClient) (*Store, error) {
	if rdb == nil {
		return nil, fmt.Errorf("no redis client")
	}
	return &Store{rdb: rdb}, nil
}

// IDs returns all known ticket ids
func (s *Store) IDs(ctx context.Context) ([]int64, error) {
	vals, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("can't load known jobs: %w", err)
	}
	res := make([]int64, 0, len(vals))
	for _, v := range vals {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("can't parse known job id '%s': %w", v, err)
		}
		res = append(res, id)
	}
	return res, nil
}

// Replace writes the full new superset
// called only after all notifications for the diff were scheduled
func (s *Store) Replace(ctx context.Context, ids []int64) error {
	vals := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		vals = append(vals, strconv.FormatInt(id, 10))
	}
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(vals) > 0 {
			pipe.SAdd(ctx, key, vals...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("can't save known jobs: %w", err)
	}
	return nil
}

package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	appErrors "github.com/unclebandit/outreach-orchestrator/internal/errors"
)

// RedisStore keeps the checkpoint under a single key. A zero TTL keeps it forever.
type RedisStore struct {
	Client redis.Cmdable
	Key    string
	TTL    time.Duration
}

func (s *RedisStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	if err := s.Client.Set(ctx, s.Key, data, s.TTL).Err(); err != nil {
		return appErrors.NewPersistenceError("save", fmt.Errorf("redis set %s: %w", s.Key, err))
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context) (*Snapshot, error) {
	data, err := s.Client.Get(ctx, s.Key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, appErrors.NewPersistenceError("load", fmt.Errorf("redis get %s: %w", s.Key, err))
	}
	return decode(data)
}

package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shaxa2505/fudly-bot-sub003/internal/redisx"
)

// RedisStore keeps token records in the shared Redis so any gateway
// instance can validate tokens issued by another.
type RedisStore struct {
	RDB *redis.Client
}

func (r *RedisStore) Set(ctx context.Context, id string, value []byte, ttl time.Duration) error {
	return r.RDB.Set(ctx, fmt.Sprintf(redisx.KeyToken, id), value, ttl).Err()
}

func (r *RedisStore) Get(ctx context.Context, id string) ([]byte, bool, error) {
	b, err := r.RDB.Get(ctx, fmt.Sprintf(redisx.KeyToken, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

// Package redisqueue constructs the Redis client backing the Dispatcher
// (spec §4.5) and adapts it to the health checker's Pinger contract.
package redisqueue

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

func NewClient(redisURL string) (redis.UniversalClient, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// Pinger adapts redis.UniversalClient's Ping (which returns a *StatusCmd)
// to the plain Ping(ctx) error shape the health checker expects.
type Pinger struct {
	rdb redis.UniversalClient
}

func NewPinger(rdb redis.UniversalClient) Pinger {
	return Pinger{rdb: rdb}
}

func (p Pinger) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

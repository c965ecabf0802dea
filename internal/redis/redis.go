// Package redis opens the Redis connection backing the session store.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const dialTimeout = 5 * time.Second

// Open connects to Redis at addr and verifies the connection with a ping.
// Caller must call Close on the returned client when done.
func Open(addr, password string, db int) (*goredis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is empty")
	}

	rc := goredis.NewClient(&goredis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  dialTimeout,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	return rc, nil
}

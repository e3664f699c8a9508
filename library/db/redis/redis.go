// Package redis builds the shared go-redis client.
package redis

import (
	"context"
	"time"

	errors "github.com/Laisky/errors/v2"
	"github.com/redis/go-redis/v9"
)

// DialInfo redis dial info
type DialInfo struct {
	Addr string
	Pwd  string
	DB   int
}

// NewClient creates a redis client and verifies connectivity.
func NewClient(ctx context.Context, dialInfo DialInfo) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         dialInfo.Addr,
		Password:     dialInfo.Pwd,
		DB:           dialInfo.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis %s", dialInfo.Addr)
	}

	return rdb, nil
}

package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const pingTimeout = 3 * time.Second

// NewClient connects to the Redis server behind url (redis://[:pass@]host:port/db)
// and verifies the connection with a PING.
func NewClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	pong, err := client.Ping(pingCtx).Result()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("could not connect to redis at %s: %w", opts.Addr, err)
	}
	log.Infof("[Cache] Connected to redis at %s: %s", opts.Addr, pong)
	return client, nil
}

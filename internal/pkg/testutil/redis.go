package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// Isolated Redis databases per test package so parallel package runs never
// flush each other's keys.
const (
	RedisDBRepository  = 10
	RedisDBIdempotency = 11
	RedisDBJobQueue    = 12
	RedisDBWebhook     = 13
	RedisDBCounters    = 14
	RedisDBBootstrap   = 15
)

func candidateAddrs() []string {
	addrs := []string{}
	if url := os.Getenv("REDIS_URL"); url != "" {
		if opts, err := redis.ParseURL(url); err == nil {
			addrs = append(addrs, opts.Addr)
		}
	}
	addrs = append(addrs, "redis:6379", "localhost:6379", "127.0.0.1:6379")

	seen := make(map[string]struct{}, len(addrs))
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if _, ok := seen[a]; ok {
			continue
		}
		seen[a] = struct{}{}
		out = append(out, a)
	}
	return out
}

// NewRedisClient returns a flushed client on the given database or skips the
// test when no Redis is reachable.
func NewRedisClient(t *testing.T, db int) *redis.Client {
	t.Helper()

	password := ""
	if url := os.Getenv("REDIS_URL"); url != "" {
		if opts, err := redis.ParseURL(url); err == nil {
			password = opts.Password
		}
	}

	var lastErr error
	for _, addr := range candidateAddrs() {
		client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			_ = client.Close()
			lastErr = err
			continue
		}

		if err := client.FlushDB(context.Background()).Err(); err != nil {
			_ = client.Close()
			t.Fatalf("failed to flush redis db %d: %v", db, err)
		}
		t.Cleanup(func() {
			_ = client.FlushDB(context.Background()).Err()
			_ = client.Close()
		})
		return client
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return nil
}

// RedisURL builds a redis:// URL for the client's address and database
func RedisURL(client *redis.Client) string {
	opts := client.Options()
	if opts.Password != "" {
		return fmt.Sprintf("redis://:%s@%s/%d", opts.Password, opts.Addr, opts.DB)
	}
	return fmt.Sprintf("redis://%s/%d", opts.Addr, opts.DB)
}

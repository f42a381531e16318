package idempotency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix namespaces markers in Redis
	KeyPrefix  = "swiftclinic:idemp:"
	DefaultTTL = 60 * time.Second

	pendingMarker = "1"
)

// Gate suppresses duplicate submissions of the same idempotency key within a TTL window
type Gate interface {
	// Acquire sets the marker if absent. true means first sighting.
	Acquire(ctx context.Context, key string) (bool, error)
	// Bind records the job id accepted under key, keeping the marker's TTL
	Bind(ctx context.Context, key, jobID string) error
	// Lookup returns the job id bound to key. found is false once the window expired.
	Lookup(ctx context.Context, key string) (jobID string, found bool, err error)
	// Release drops the marker so a failed submission can be retried at once
	Release(ctx context.Context, key string) error
}

// RedisGate implements Gate with SET NX EX
type RedisGate struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisGate creates a Redis-backed gate
func NewRedisGate(client *redis.Client, ttl time.Duration) *RedisGate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisGate{client: client, ttl: ttl}
}

func (g *RedisGate) Acquire(ctx context.Context, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, KeyPrefix+key, pendingMarker, g.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("idempotency acquire: %w", err)
	}
	return ok, nil
}

func (g *RedisGate) Bind(ctx context.Context, key, jobID string) error {
	err := g.client.SetArgs(ctx, KeyPrefix+key, jobID, redis.SetArgs{
		Mode:    "XX",
		KeepTTL: true,
	}).Err()
	// The window closed between Acquire and Bind; nothing to bind to.
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}

func (g *RedisGate) Lookup(ctx context.Context, key string) (string, bool, error) {
	val, err := g.client.Get(ctx, KeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if val == pendingMarker {
		return "", true, nil
	}
	return val, true, nil
}

func (g *RedisGate) Release(ctx context.Context, key string) error {
	return g.client.Del(ctx, KeyPrefix+key).Err()
}

type marker struct {
	jobID     string
	expiresAt time.Time
}

// MemoryGate implements Gate in process memory with an injectable clock
type MemoryGate struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	markers map[string]marker
}

// NewMemoryGate creates an in-process gate. now may be nil.
func NewMemoryGate(ttl time.Duration, now func() time.Time) *MemoryGate {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryGate{
		ttl:     ttl,
		now:     now,
		markers: make(map[string]marker),
	}
}

func (g *MemoryGate) Acquire(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if m, ok := g.markers[key]; ok && now.Before(m.expiresAt) {
		return false, nil
	}
	g.markers[key] = marker{expiresAt: now.Add(g.ttl)}
	g.sweep(now)
	return true, nil
}

func (g *MemoryGate) Bind(_ context.Context, key, jobID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	m, ok := g.markers[key]
	if !ok || !g.now().Before(m.expiresAt) {
		return nil
	}
	m.jobID = jobID
	g.markers[key] = m
	return nil
}

func (g *MemoryGate) Lookup(_ context.Context, key string) (string, bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	m, ok := g.markers[key]
	if !ok || !g.now().Before(m.expiresAt) {
		return "", false, nil
	}
	return m.jobID, true, nil
}

func (g *MemoryGate) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.markers, key)
	return nil
}

// sweep drops expired markers; caller holds mu
func (g *MemoryGate) sweep(now time.Time) {
	for k, m := range g.markers {
		if !now.Before(m.expiresAt) {
			delete(g.markers, k)
		}
	}
}

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
)

const (
	// Redis keys
	OutboxKey = "swiftclinic:webhook:outbox"
	DLQKey    = "swiftclinic:webhook:dlq"
)

// ErrNoDeadLetter is returned when replaying an index that does not exist
var ErrNoDeadLetter = errors.New("no dead letter at that index")

// Outbox is a time-ordered store of pending deliveries plus a dead-letter list.
// Pop always yields the entry with the smallest NextAt, so an entry waiting
// for its backoff never hides one that is already due.
type Outbox interface {
	Push(ctx context.Context, e models.OutboxEntry) error
	// Pop blocks up to wait; it returns nil, nil when the outbox stayed empty
	Pop(ctx context.Context, wait time.Duration) (*models.OutboxEntry, error)
	DeadLetter(ctx context.Context, e models.OutboxEntry) error
	// ListDeadLetters returns dead entries, newest first
	ListDeadLetters(ctx context.Context) ([]models.OutboxEntry, error)
	// ReplayDeadLetter moves the dead entry at index back into the outbox with attempt 0
	ReplayDeadLetter(ctx context.Context, index int, now time.Time) (*models.OutboxEntry, error)
	Depth(ctx context.Context) (pending int64, dead int64, err error)
}

func replayed(e models.OutboxEntry, now time.Time) models.OutboxEntry {
	e.Attempt = 0
	e.NextAt = now.UnixMilli()
	e.LastError = ""
	e.DeadAt = 0
	return e
}

// RedisOutbox keeps pending entries in a sorted set scored by NextAt and
// dead entries in a list.
type RedisOutbox struct {
	client *redis.Client
}

// NewRedisOutbox creates a Redis-backed outbox
func NewRedisOutbox(client *redis.Client) *RedisOutbox {
	return &RedisOutbox{client: client}
}

func (o *RedisOutbox) Push(ctx context.Context, e models.OutboxEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox entry: %w", err)
	}
	return o.client.ZAdd(ctx, OutboxKey, redis.Z{Score: float64(e.NextAt), Member: string(raw)}).Err()
}

func (o *RedisOutbox) Pop(ctx context.Context, wait time.Duration) (*models.OutboxEntry, error) {
	res, err := o.client.BZPopMin(ctx, wait, OutboxKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, ok := res.Member.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected outbox member type %T", res.Member)
	}
	var e models.OutboxEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outbox entry: %w", err)
	}
	return &e, nil
}

func (o *RedisOutbox) DeadLetter(ctx context.Context, e models.OutboxEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	return o.client.LPush(ctx, DLQKey, raw).Err()
}

func (o *RedisOutbox) ListDeadLetters(ctx context.Context) ([]models.OutboxEntry, error) {
	raws, err := o.client.LRange(ctx, DLQKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.OutboxEntry, 0, len(raws))
	for _, raw := range raws {
		var e models.OutboxEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

func (o *RedisOutbox) ReplayDeadLetter(ctx context.Context, index int, now time.Time) (*models.OutboxEntry, error) {
	var entry models.OutboxEntry
	err := o.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.LIndex(ctx, DLQKey, int64(index)).Result()
		if errors.Is(err, redis.Nil) {
			return ErrNoDeadLetter
		}
		if err != nil {
			return err
		}
		var dead models.OutboxEntry
		if err := json.Unmarshal([]byte(raw), &dead); err != nil {
			return fmt.Errorf("failed to unmarshal dead letter: %w", err)
		}
		entry = replayed(dead, now)
		next, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, DLQKey, 1, raw)
			pipe.ZAdd(ctx, OutboxKey, redis.Z{Score: float64(entry.NextAt), Member: string(next)})
			return nil
		})
		return err
	}, DLQKey)
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

func (o *RedisOutbox) Depth(ctx context.Context) (int64, int64, error) {
	pipe := o.client.Pipeline()
	pending := pipe.ZCard(ctx, OutboxKey)
	dead := pipe.LLen(ctx, DLQKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, err
	}
	return pending.Val(), dead.Val(), nil
}

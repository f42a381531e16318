package counter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	// StatsKey is the Redis hash holding job counters
	StatsKey = "swiftclinic:job_stats"

	JobsSubmitted   = "jobs_submitted_total"
	JobsDuplicate   = "jobs_duplicate_total"
	JobsSucceeded   = "jobs_succeeded_total"
	JobsFailed      = "jobs_failed_total"
	JobsRolledBack  = "jobs_rolled_back_total"
	JobsRecovered   = "jobs_crash_recovered_total"
	WebhooksSent    = "webhooks_delivered_total"
	WebhooksRetried = "webhooks_retried_total"
	WebhooksDead    = "webhooks_dead_lettered_total"
)

// Counters is a set of monotonically increasing named counters
type Counters interface {
	Add(ctx context.Context, name string, delta int64) error
	Snapshot(ctx context.Context) (map[string]int64, error)
}

// RedisCounters increments fields of a shared Redis hash so API and worker report together
type RedisCounters struct {
	client *redis.Client
}

func NewRedisCounters(client *redis.Client) *RedisCounters {
	return &RedisCounters{client: client}
}

func (c *RedisCounters) Add(ctx context.Context, name string, delta int64) error {
	return c.client.HIncrBy(ctx, StatsKey, name, delta).Err()
}

func (c *RedisCounters) Snapshot(ctx context.Context) (map[string]int64, error) {
	data, err := c.client.HGetAll(ctx, StatsKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

// MemoryCounters keeps counters in process memory
type MemoryCounters struct {
	mu     sync.Mutex
	values map[string]int64
}

func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{values: make(map[string]int64)}
}

func (c *MemoryCounters) Add(_ context.Context, name string, delta int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[name] += delta
	return nil
}

func (c *MemoryCounters) Snapshot(_ context.Context) (map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out, nil
}

// Render writes counters in the Prometheus text exposition format, sorted by name.
// Gauges (queue depths) are appended after the counters.
func Render(counters map[string]int64, gauges map[string]int64) string {
	var b strings.Builder
	write := func(kind string, values map[string]int64) {
		names := make([]string, 0, len(values))
		for name := range values {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "# TYPE swiftclinic_%s %s\n", name, kind)
			fmt.Fprintf(&b, "swiftclinic_%s %d\n", name, values[name])
		}
	}
	write("counter", counters)
	write("gauge", gauges)
	return b.String()
}

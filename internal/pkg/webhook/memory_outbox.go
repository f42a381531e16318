package webhook

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
)

type heapItem struct {
	entry models.OutboxEntry
	seq   uint64
}

// entryHeap orders by NextAt, then insertion order
type entryHeap []heapItem

func (h entryHeap) Len() int { return len(h) }
func (h entryHeap) Less(i, j int) bool {
	if h[i].entry.NextAt != h[j].entry.NextAt {
		return h[i].entry.NextAt < h[j].entry.NextAt
	}
	return h[i].seq < h[j].seq
}
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *entryHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// MemoryOutbox is an in-process Outbox backed by a min-heap
type MemoryOutbox struct {
	mu     sync.Mutex
	items  entryHeap
	seq    uint64
	dead   []models.OutboxEntry
	notify chan struct{}
}

// NewMemoryOutbox creates an in-process outbox
func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{notify: make(chan struct{}, 1)}
}

func (o *MemoryOutbox) Push(_ context.Context, e models.OutboxEntry) error {
	o.mu.Lock()
	o.seq++
	heap.Push(&o.items, heapItem{entry: e, seq: o.seq})
	o.mu.Unlock()
	o.signal()
	return nil
}

func (o *MemoryOutbox) Pop(ctx context.Context, wait time.Duration) (*models.OutboxEntry, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		if e, ok := o.take(); ok {
			return &e, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-o.notify:
		}
	}
}

func (o *MemoryOutbox) DeadLetter(_ context.Context, e models.OutboxEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dead = append([]models.OutboxEntry{e}, o.dead...)
	return nil
}

func (o *MemoryOutbox) ListDeadLetters(_ context.Context) ([]models.OutboxEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.OutboxEntry, len(o.dead))
	copy(out, o.dead)
	return out, nil
}

func (o *MemoryOutbox) ReplayDeadLetter(_ context.Context, index int, now time.Time) (*models.OutboxEntry, error) {
	o.mu.Lock()
	if index < 0 || index >= len(o.dead) {
		o.mu.Unlock()
		return nil, ErrNoDeadLetter
	}
	entry := replayed(o.dead[index], now)
	o.dead = append(o.dead[:index], o.dead[index+1:]...)
	o.seq++
	heap.Push(&o.items, heapItem{entry: entry, seq: o.seq})
	o.mu.Unlock()
	o.signal()
	return &entry, nil
}

func (o *MemoryOutbox) Depth(_ context.Context) (int64, int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return int64(len(o.items)), int64(len(o.dead)), nil
}

func (o *MemoryOutbox) take() (models.OutboxEntry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.items) == 0 {
		return models.OutboxEntry{}, false
	}
	item := heap.Pop(&o.items).(heapItem)
	return item.entry, true
}

func (o *MemoryOutbox) signal() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

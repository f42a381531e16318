package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
	"github.com/SwiftClinic/swiftclinic-sync/app/repository"
)

// MemoryQueue is an in-process FIFO. It is only shared by code in the same process.
type MemoryQueue struct {
	mu       sync.Mutex
	pending  []string
	inflight []string
	notify   chan struct{}
	jobs     repository.JobStore
}

// NewMemoryQueue creates an in-process command queue
func NewMemoryQueue(jobs repository.JobStore) *MemoryQueue {
	return &MemoryQueue{
		notify: make(chan struct{}, 1),
		jobs:   jobs,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, cmd models.CommandEnvelope) (string, error) {
	job, err := createQueuedJob(ctx, q.jobs)
	if err != nil {
		return "", err
	}
	raw, err := encodeMessage(job.ID, cmd)
	if err != nil {
		abandonJob(ctx, q.jobs, job.ID, err)
		return "", err
	}

	q.mu.Lock()
	q.pending = append(q.pending, raw)
	q.mu.Unlock()
	q.signal()

	log.Infof("[JobQueue] Enqueued job %s (Type: %s)", job.ID, cmd.CommandType)
	return job.ID, nil
}

func (q *MemoryQueue) Pop(ctx context.Context, wait time.Duration) (*Delivery, error) {
	if wait <= 0 {
		wait = DefaultPopWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		if raw, ok := q.take(); ok {
			return decodeDelivery(raw)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-q.notify:
		}
	}
}

func (q *MemoryQueue) Ack(_ context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, raw := range q.inflight {
		if raw == d.raw {
			q.inflight = append(q.inflight[:i], q.inflight[i+1:]...)
			break
		}
	}
	return nil
}

func (q *MemoryQueue) RequeueInflight(_ context.Context) (int, error) {
	q.mu.Lock()
	moved := len(q.inflight)
	q.pending = append(append([]string{}, q.inflight...), q.pending...)
	q.inflight = nil
	q.mu.Unlock()
	if moved > 0 {
		q.signal()
	}
	return moved, nil
}

func (q *MemoryQueue) Depth(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

func (q *MemoryQueue) take() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return "", false
	}
	raw := q.pending[0]
	q.pending = q.pending[1:]
	q.inflight = append(q.inflight, raw)
	if len(q.pending) > 0 {
		q.signal()
	}
	return raw, true
}

func (q *MemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

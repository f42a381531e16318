package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
	"github.com/SwiftClinic/swiftclinic-sync/app/repository"
)

// RedisQueue keeps commands in a Redis list. Pops move the raw message to a
// processing list until Ack removes it.
type RedisQueue struct {
	client *redis.Client
	jobs   repository.JobStore
}

// NewRedisQueue creates a Redis-backed command queue
func NewRedisQueue(client *redis.Client, jobs repository.JobStore) *RedisQueue {
	return &RedisQueue{client: client, jobs: jobs}
}

// Enqueue adds a new job to the queue
func (q *RedisQueue) Enqueue(ctx context.Context, cmd models.CommandEnvelope) (string, error) {
	job, err := createQueuedJob(ctx, q.jobs)
	if err != nil {
		return "", err
	}

	raw, err := encodeMessage(job.ID, cmd)
	if err == nil {
		err = q.client.LPush(ctx, QueueKey, raw).Err()
	}
	if err != nil {
		abandonJob(ctx, q.jobs, job.ID, err)
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Infof("[JobQueue] Enqueued job %s (Type: %s)", job.ID, cmd.CommandType)
	return job.ID, nil
}

// Pop gets the next message, waiting at most wait
func (q *RedisQueue) Pop(ctx context.Context, wait time.Duration) (*Delivery, error) {
	if wait <= 0 {
		wait = DefaultPopWait
	}
	raw, err := q.client.BRPopLPush(ctx, QueueKey, ProcessingKey, wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	d, err := decodeDelivery(raw)
	if err != nil {
		// A message that cannot be decoded would be redelivered forever.
		log.Errorf("[JobQueue] Dropping malformed message: %v", err)
		_ = q.client.LRem(ctx, ProcessingKey, 1, raw).Err()
		return nil, err
	}
	return d, nil
}

// Ack removes a handled delivery from the processing list
func (q *RedisQueue) Ack(ctx context.Context, d *Delivery) error {
	return q.client.LRem(ctx, ProcessingKey, 1, d.raw).Err()
}

// RequeueInflight moves every unacked message back so it is popped next, oldest first
func (q *RedisQueue) RequeueInflight(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, ProcessingKey, QueueKey, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
	if moved > 0 {
		log.Warnf("[JobQueue] Requeued %d unacknowledged message(s)", moved)
	}
	return moved, nil
}

// Depth returns the number of messages waiting
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, QueueKey).Result()
}

func createQueuedJob(ctx context.Context, jobs repository.JobStore) (*models.Job, error) {
	job, err := jobs.Create(ctx, &models.Job{
		ID:    uuid.New().String(),
		State: models.JobStateQueued,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return job, nil
}

// abandonJob fails a job whose message never reached the queue
func abandonJob(ctx context.Context, jobs repository.JobStore, jobID string, cause error) {
	_, err := jobs.Update(ctx, jobID, models.JobPatch{
		State: models.StatePtr(models.JobStateFailed),
		Error: &models.JobError{Code: models.ErrCodeGeneric, Message: "enqueue failed: " + cause.Error()},
	})
	if err != nil {
		log.Errorf("[JobQueue] Failed to mark job %s as failed after enqueue error: %v", jobID, err)
	}
}

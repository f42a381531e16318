package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
)

const (
	// Redis key prefixes
	JobKeyPrefix        = "swiftclinic:job:"
	JobStateKeyPrefix   = "swiftclinic:jobs:state:"
	AuditKeyPrefix      = "swiftclinic:audit:"
	ConversionKeyPrefix = "swiftclinic:conversions:"

	jobDataField = "data"
	maxTxRetries = 10
)

func jobKey(id string) string                  { return JobKeyPrefix + id }
func jobStateKey(state models.JobState) string { return JobStateKeyPrefix + string(state) }
func auditKey(id string) string                { return AuditKeyPrefix + id }
func conversionKey(jobID string) string        { return ConversionKeyPrefix + jobID }

// redisJobStore implements JobStore on Redis. Each job lives in a hash under
// field "data"; writes use WATCH/MULTI so concurrent updates to one id serialize.
type redisJobStore struct {
	client *redis.Client
}

// NewRedisJobStore creates a Redis-backed job store
func NewRedisJobStore(client *redis.Client) JobStore {
	return &redisJobStore{client: client}
}

func (s *redisJobStore) Create(ctx context.Context, job *models.Job) (*models.Job, error) {
	stored := prepareCreate(job)
	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}
	audit, err := json.Marshal(auditEntry(stored.ID, models.AuditActionJobCreated, stored, stored.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audit entry: %w", err)
	}

	key := jobKey(stored.ID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("job %s already exists", stored.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, jobDataField, data)
			pipe.SAdd(ctx, jobStateKey(stored.State), stored.ID)
			pipe.RPush(ctx, auditKey(stored.ID), audit)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	return stored, nil
}

func (s *redisJobStore) Get(ctx context.Context, id string) (*models.Job, bool, error) {
	raw, err := s.client.HGet(ctx, jobKey(id), jobDataField).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var job models.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return &job, true, nil
}

func (s *redisJobStore) Update(ctx context.Context, id string, patch models.JobPatch) (*models.Job, error) {
	key := jobKey(id)
	var next *models.Job

	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, jobDataField).Result()
		if errors.Is(err, redis.Nil) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		var current models.Job
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			return fmt.Errorf("failed to unmarshal job %s: %w", id, err)
		}

		updated, err := applyUpdate(&current, patch)
		if err != nil {
			return err
		}
		data, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		audit, err := json.Marshal(auditEntry(id, models.AuditActionJobUpdated, patch, updated.UpdatedAt))
		if err != nil {
			return fmt.Errorf("failed to marshal audit entry: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, jobDataField, data)
			if updated.State != current.State {
				pipe.SRem(ctx, jobStateKey(current.State), id)
				pipe.SAdd(ctx, jobStateKey(updated.State), id)
			}
			pipe.RPush(ctx, auditKey(id), audit)
			return nil
		})
		if err == nil {
			next = updated
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			log.Debugf("[JobStore] Optimistic lock lost on job %s, retrying", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		return next, nil
	}
	return nil, fmt.Errorf("update job %s: gave up after %d contended attempts", id, maxTxRetries)
}

func (s *redisJobStore) ListByState(ctx context.Context, state models.JobState) ([]models.Job, error) {
	ids, err := s.client.SMembers(ctx, jobStateKey(state)).Result()
	if err != nil {
		return nil, err
	}

	jobs := make([]models.Job, 0, len(ids))
	for _, id := range ids {
		job, found, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		// The index can briefly lag the hash; trust the hash.
		if !found || job.State != state {
			continue
		}
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

func (s *redisJobStore) AuditTrail(ctx context.Context, jobID string) ([]models.AuditLog, error) {
	raws, err := s.client.LRange(ctx, auditKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	rows := make([]models.AuditLog, 0, len(raws))
	for i, raw := range raws {
		var row models.AuditLog
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			return nil, fmt.Errorf("failed to unmarshal audit entry: %w", err)
		}
		row.ID = uint(i + 1)
		rows = append(rows, row)
	}
	return rows, nil
}

// redisConversionLedger appends checkpoints to a per-job Redis list
type redisConversionLedger struct {
	client *redis.Client
}

// NewRedisConversionLedger creates a Redis-backed checkpoint ledger
func NewRedisConversionLedger(client *redis.Client) ConversionLedger {
	return &redisConversionLedger{client: client}
}

func (l *redisConversionLedger) Record(ctx context.Context, checkpoint *models.Conversion) error {
	row := *checkpoint
	now := stampNow()
	row.CreatedAt = now
	row.UpdatedAt = now
	data, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	return l.client.RPush(ctx, conversionKey(row.JobID), data).Err()
}

func (l *redisConversionLedger) ListByJob(ctx context.Context, jobID string) ([]models.Conversion, error) {
	raws, err := l.client.LRange(ctx, conversionKey(jobID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	rows := make([]models.Conversion, 0, len(raws))
	for i, raw := range raws {
		var row models.Conversion
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
		}
		row.ID = uint(i + 1)
		rows = append(rows, row)
	}
	return rows, nil
}

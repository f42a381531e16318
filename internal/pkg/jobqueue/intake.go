package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/idempotency"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/metrics/counter"
)

// DuplicateJobID is reported when the original job of a duplicate is unknown
const DuplicateJobID = "duplicate"

// ErrInvalidCommand wraps envelope validation failures
var ErrInvalidCommand = errors.New("invalid command")

// SubmitResult is the outcome of a submission
type SubmitResult struct {
	Accepted  bool   `json:"accepted"`
	Duplicate bool   `json:"duplicate,omitempty"`
	JobID     string `json:"job_id"`
}

// Intake validates commands, suppresses duplicates and enqueues them
type Intake struct {
	gate     idempotency.Gate
	queue    Queue
	counters counter.Counters
}

// NewIntake wires the submission path. counters may be nil.
func NewIntake(gate idempotency.Gate, queue Queue, counters counter.Counters) *Intake {
	return &Intake{gate: gate, queue: queue, counters: counters}
}

// Submit enqueues cmd unless its idempotency key was seen within the gate window
func (i *Intake) Submit(ctx context.Context, cmd models.CommandEnvelope) (*SubmitResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	cmd.Normalize()

	first, err := i.gate.Acquire(ctx, cmd.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if !first {
		jobID, _, err := i.gate.Lookup(ctx, cmd.IdempotencyKey)
		if err != nil {
			log.Warnf("[Intake] Lookup of duplicate key failed: %v", err)
		}
		if jobID == "" {
			jobID = DuplicateJobID
		}
		i.count(ctx, counter.JobsDuplicate)
		log.Infof("[Intake] Duplicate submission for key %s (job %s)", cmd.IdempotencyKey, jobID)
		return &SubmitResult{Accepted: true, Duplicate: true, JobID: jobID}, nil
	}

	jobID, err := i.queue.Enqueue(ctx, cmd)
	if err != nil {
		if rerr := i.gate.Release(ctx, cmd.IdempotencyKey); rerr != nil {
			log.Warnf("[Intake] Failed to release key %s: %v", cmd.IdempotencyKey, rerr)
		}
		return nil, err
	}
	if err := i.gate.Bind(ctx, cmd.IdempotencyKey, jobID); err != nil {
		log.Warnf("[Intake] Failed to bind key %s to job %s: %v", cmd.IdempotencyKey, jobID, err)
	}
	i.count(ctx, counter.JobsSubmitted)
	return &SubmitResult{Accepted: true, JobID: jobID}, nil
}

func (i *Intake) count(ctx context.Context, name string) {
	if i.counters == nil {
		return
	}
	if err := i.counters.Add(ctx, name, 1); err != nil {
		log.Debugf("[Intake] Counter %s not updated: %v", name, err)
	}
}

package repository

import (
	"encoding/json"
	"time"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
)

// storeClock is swapped in tests
var storeClock = func() time.Time {
	return time.Now().UTC()
}

func stampNow() time.Time {
	return storeClock().Truncate(time.Microsecond)
}

// nextUpdatedAt never returns a value at or before prev
func nextUpdatedAt(prev time.Time) time.Time {
	now := stampNow()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

func prepareCreate(job *models.Job) *models.Job {
	stored := job.Clone()
	if stored.State == "" {
		stored.State = models.JobStateQueued
	}
	now := stampNow()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	return stored
}

// applyUpdate returns the job as it must look after patch, or ErrTerminalState
func applyUpdate(current *models.Job, patch models.JobPatch) (*models.Job, error) {
	if current.State.IsTerminal() {
		return nil, ErrTerminalState
	}
	next := current.Clone()
	patch.Apply(next)
	next.UpdatedAt = nextUpdatedAt(current.UpdatedAt)
	return next, nil
}

func auditEntry(jobID, action string, payload interface{}, at time.Time) models.AuditLog {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("null")
	}
	return models.AuditLog{
		JobID:     jobID,
		Action:    action,
		Payload:   raw,
		CreatedAt: at,
	}
}

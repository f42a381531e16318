package repository

import (
	"context"
	"errors"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
)

var (
	// ErrJobNotFound is returned by Update for an unknown job id
	ErrJobNotFound = errors.New("job not found")
	// ErrTerminalState is returned when a write targets a finished job
	ErrTerminalState = errors.New("job is in a terminal state")
)

// JobStore defines the interface for job persistence. Writes to the same id
// are serialized by every implementation.
type JobStore interface {
	Create(ctx context.Context, job *models.Job) (*models.Job, error)
	// Get returns found=false (and no error) for an unknown id
	Get(ctx context.Context, id string) (job *models.Job, found bool, err error)
	Update(ctx context.Context, id string, patch models.JobPatch) (*models.Job, error)
	ListByState(ctx context.Context, state models.JobState) ([]models.Job, error)
	AuditTrail(ctx context.Context, jobID string) ([]models.AuditLog, error)
}

// ConversionLedger defines the interface for saga checkpoint rows
type ConversionLedger interface {
	Record(ctx context.Context, checkpoint *models.Conversion) error
	ListByJob(ctx context.Context, jobID string) ([]models.Conversion, error)
}

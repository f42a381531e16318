package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
)

// jobRepository implements JobStore on a relational database via GORM
type jobRepository struct {
	db *gorm.DB
}

// NewJobRepository creates a relational job store
func NewJobRepository(db *gorm.DB) JobStore {
	return &jobRepository{db: db}
}

// Create persists the job and its audit row in one transaction
func (r *jobRepository) Create(ctx context.Context, job *models.Job) (*models.Job, error) {
	stored := prepareCreate(job)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(stored).Error; err != nil {
			return fmt.Errorf("insert job: %w", err)
		}
		entry := auditEntry(stored.ID, models.AuditActionJobCreated, stored, stored.CreatedAt)
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("insert audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// Get retrieves a job by id
func (r *jobRepository) Get(ctx context.Context, id string) (*models.Job, bool, error) {
	var job models.Job
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &job, true, nil
}

// Update locks the row, merges the patch and appends an audit row
func (r *jobRepository) Update(ctx context.Context, id string, patch models.JobPatch) (*models.Job, error) {
	var next *models.Job
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Job
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&current).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}

		next, err = applyUpdate(&current, patch)
		if err != nil {
			return err
		}
		if err := tx.Save(next).Error; err != nil {
			return fmt.Errorf("save job: %w", err)
		}
		entry := auditEntry(id, models.AuditActionJobUpdated, patch, next.UpdatedAt)
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("insert audit: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return next, nil
}

// ListByState returns jobs in the given state, oldest first
func (r *jobRepository) ListByState(ctx context.Context, state models.JobState) ([]models.Job, error) {
	var jobs []models.Job
	err := r.db.WithContext(ctx).Where("state = ?", state).Order("created_at ASC").Find(&jobs).Error
	return jobs, err
}

// AuditTrail returns the audit rows of a job in write order
func (r *jobRepository) AuditTrail(ctx context.Context, jobID string) ([]models.AuditLog, error) {
	var rows []models.AuditLog
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Order("id ASC").Find(&rows).Error
	return rows, err
}

// conversionRepository implements ConversionLedger via GORM
type conversionRepository struct {
	db *gorm.DB
}

// NewConversionRepository creates a relational checkpoint ledger
func NewConversionRepository(db *gorm.DB) ConversionLedger {
	return &conversionRepository{db: db}
}

// Record appends a checkpoint row
func (r *conversionRepository) Record(ctx context.Context, checkpoint *models.Conversion) error {
	row := *checkpoint
	row.ID = 0
	return r.db.WithContext(ctx).Create(&row).Error
}

// ListByJob returns the checkpoints of a job in insertion order
func (r *conversionRepository) ListByJob(ctx context.Context, jobID string) ([]models.Conversion, error) {
	var rows []models.Conversion
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Order("id ASC").Find(&rows).Error
	return rows, err
}

package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
)

// memoryJobStore keeps jobs in process memory. Not durable.
type memoryJobStore struct {
	mu    sync.Mutex
	jobs  map[string]*models.Job
	audit map[string][]models.AuditLog
}

// NewMemoryJobStore creates an in-process job store
func NewMemoryJobStore() JobStore {
	return &memoryJobStore{
		jobs:  make(map[string]*models.Job),
		audit: make(map[string][]models.AuditLog),
	}
}

func (s *memoryJobStore) Create(_ context.Context, job *models.Job) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return nil, fmt.Errorf("job %s already exists", job.ID)
	}
	stored := prepareCreate(job)
	s.jobs[stored.ID] = stored
	s.audit[stored.ID] = append(s.audit[stored.ID], auditEntry(stored.ID, models.AuditActionJobCreated, stored, stored.CreatedAt))
	return stored.Clone(), nil
}

func (s *memoryJobStore) Get(_ context.Context, id string) (*models.Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, false, nil
	}
	return job.Clone(), true, nil
}

func (s *memoryJobStore) Update(_ context.Context, id string, patch models.JobPatch) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	next, err := applyUpdate(current, patch)
	if err != nil {
		return nil, err
	}
	s.jobs[id] = next
	s.audit[id] = append(s.audit[id], auditEntry(id, models.AuditActionJobUpdated, patch, next.UpdatedAt))
	return next.Clone(), nil
}

func (s *memoryJobStore) ListByState(_ context.Context, state models.JobState) ([]models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]models.Job, 0)
	for _, job := range s.jobs {
		if job.State == state {
			out = append(out, *job.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memoryJobStore) AuditTrail(_ context.Context, jobID string) ([]models.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trail := s.audit[jobID]
	out := make([]models.AuditLog, len(trail))
	copy(out, trail)
	return out, nil
}

// memoryConversionLedger keeps checkpoints in process memory
type memoryConversionLedger struct {
	mu     sync.Mutex
	nextID uint
	rows   []models.Conversion
}

// NewMemoryConversionLedger creates an in-process checkpoint ledger
func NewMemoryConversionLedger() ConversionLedger {
	return &memoryConversionLedger{}
}

func (l *memoryConversionLedger) Record(_ context.Context, checkpoint *models.Conversion) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	row := *checkpoint
	row.ID = l.nextID
	now := stampNow()
	row.CreatedAt = now
	row.UpdatedAt = now
	l.rows = append(l.rows, row)
	return nil
}

func (l *memoryConversionLedger) ListByJob(_ context.Context, jobID string) ([]models.Conversion, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]models.Conversion, 0)
	for _, row := range l.rows {
		if row.JobID == jobID {
			out = append(out, row)
		}
	}
	return out, nil
}

package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
	"github.com/SwiftClinic/swiftclinic-sync/app/repository"
)

// CrashResumeMessage is stored on jobs failed by Recover
const CrashResumeMessage = "Worker restarted"

// Recover fails every job left in running by a previous worker process.
// A crash restarts nothing from a checkpoint; the caller resubmits.
func Recover(ctx context.Context, jobs repository.JobStore) (int, error) {
	running, err := jobs.ListByState(ctx, models.JobStateRunning)
	if err != nil {
		return 0, fmt.Errorf("list running jobs: %w", err)
	}

	recovered := 0
	var errs []error
	for _, job := range running {
		_, err := jobs.Update(ctx, job.ID, models.JobPatch{
			State: models.StatePtr(models.JobStateFailed),
			Error: &models.JobError{Code: models.ErrCodeCrashResume, Message: CrashResumeMessage},
		})
		if errors.Is(err, repository.ErrTerminalState) {
			continue
		}
		if err != nil {
			log.Errorf("[Recovery] Failed to recover job %s: %v", job.ID, err)
			errs = append(errs, err)
			continue
		}
		recovered++
		log.Warnf("[Recovery] Job %s was running at shutdown, marked failed", job.ID)
	}
	return recovered, errors.Join(errs...)
}

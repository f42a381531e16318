package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/database"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/testutil"
)

var sqliteSeq atomic.Int64

func newSQLiteStores(t *testing.T) *Stores {
	t.Helper()

	url := fmt.Sprintf("sqlite://file:jobs_%d?mode=memory&cache=shared", sqliteSeq.Add(1))
	db, err := database.Open(context.Background(), url)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	stores := NewRelationalStores(db)
	t.Cleanup(func() { _ = stores.Close() })
	return stores
}

func newRedisBackedStores(t *testing.T) *Stores {
	t.Helper()

	client := testutil.NewRedisClient(t, testutil.RedisDBRepository)
	stores := NewRedisStores(client)
	stores.redis = nil
	return stores
}

// eachBackend runs fn against every store implementation; Redis skips when unreachable
func eachBackend(t *testing.T, fn func(t *testing.T, stores *Stores)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStores()) })
	t.Run("relational", func(t *testing.T) { fn(t, newSQLiteStores(t)) })
	t.Run("cache", func(t *testing.T) { fn(t, newRedisBackedStores(t)) })
}

func TestJobStoreCreateAndGet(t *testing.T) {
	eachBackend(t, func(t *testing.T, stores *Stores) {
		ctx := context.Background()

		created, err := stores.Jobs.Create(ctx, &models.Job{ID: "job-1"})
		require.NoError(t, err)
		assert.Equal(t, models.JobStateQueued, created.State)
		assert.False(t, created.CreatedAt.IsZero())
		assert.True(t, created.CreatedAt.Equal(created.UpdatedAt))

		got, found, err := stores.Jobs.Get(ctx, "job-1")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "job-1", got.ID)
		assert.Equal(t, models.JobStateQueued, got.State)
		assert.True(t, created.CreatedAt.Equal(got.CreatedAt))

		_, found, err = stores.Jobs.Get(ctx, "missing")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestJobStoreCreateRejectsDuplicateID(t *testing.T) {
	eachBackend(t, func(t *testing.T, stores *Stores) {
		ctx := context.Background()
		_, err := stores.Jobs.Create(ctx, &models.Job{ID: "dup"})
		require.NoError(t, err)
		_, err = stores.Jobs.Create(ctx, &models.Job{ID: "dup"})
		assert.Error(t, err)
	})
}

func TestJobStoreUpdateLifecycle(t *testing.T) {
	eachBackend(t, func(t *testing.T, stores *Stores) {
		ctx := context.Background()
		created, err := stores.Jobs.Create(ctx, &models.Job{ID: "job-2"})
		require.NoError(t, err)

		running, err := stores.Jobs.Update(ctx, "job-2", models.JobPatch{State: models.StatePtr(models.JobStateRunning)})
		require.NoError(t, err)
		assert.Equal(t, models.JobStateRunning, running.State)
		assert.True(t, running.UpdatedAt.After(created.UpdatedAt))

		done, err := stores.Jobs.Update(ctx, "job-2", models.JobPatch{
			State:  models.StatePtr(models.JobStateSucceeded),
			Result: map[string]interface{}{"csp_appointment_id": "c-1"},
		})
		require.NoError(t, err)
		assert.True(t, done.UpdatedAt.After(running.UpdatedAt))

		got, found, err := stores.Jobs.Get(ctx, "job-2")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, models.JobStateSucceeded, got.State)
		assert.Equal(t, "c-1", got.Result["csp_appointment_id"])
		assert.Nil(t, got.Error)
	})
}

func TestJobStoreTerminalJobsAreImmutable(t *testing.T) {
	eachBackend(t, func(t *testing.T, stores *Stores) {
		ctx := context.Background()
		_, err := stores.Jobs.Create(ctx, &models.Job{ID: "job-3"})
		require.NoError(t, err)
		_, err = stores.Jobs.Update(ctx, "job-3", models.JobPatch{
			State: models.StatePtr(models.JobStateFailed),
			Error: &models.JobError{Code: models.ErrCodeNotFound, Message: "gone"},
		})
		require.NoError(t, err)

		_, err = stores.Jobs.Update(ctx, "job-3", models.JobPatch{State: models.StatePtr(models.JobStateRunning)})
		assert.ErrorIs(t, err, ErrTerminalState)

		got, _, err := stores.Jobs.Get(ctx, "job-3")
		require.NoError(t, err)
		assert.Equal(t, models.JobStateFailed, got.State)
		require.NotNil(t, got.Error)
		assert.Equal(t, models.ErrCodeNotFound, got.Error.Code)
	})
}

func TestJobStoreUpdateUnknownJob(t *testing.T) {
	eachBackend(t, func(t *testing.T, stores *Stores) {
		_, err := stores.Jobs.Update(context.Background(), "nope", models.JobPatch{State: models.StatePtr(models.JobStateRunning)})
		assert.ErrorIs(t, err, ErrJobNotFound)
	})
}

func TestJobStoreUpdatedAtStrictlyIncreasesWithFrozenClock(t *testing.T) {
	frozen := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	prev := storeClock
	storeClock = func() time.Time { return frozen }
	t.Cleanup(func() { storeClock = prev })

	eachBackend(t, func(t *testing.T, stores *Stores) {
		ctx := context.Background()
		created, err := stores.Jobs.Create(ctx, &models.Job{ID: "job-4"})
		require.NoError(t, err)

		last := created.UpdatedAt
		for i := 0; i < 3; i++ {
			job, err := stores.Jobs.Update(ctx, "job-4", models.JobPatch{Result: map[string]interface{}{"step": i}})
			require.NoError(t, err)
			assert.True(t, job.UpdatedAt.After(last), "update %d did not advance updated_at", i)
			last = job.UpdatedAt
		}
	})
}

func TestJobStoreListByState(t *testing.T) {
	eachBackend(t, func(t *testing.T, stores *Stores) {
		ctx := context.Background()
		for _, id := range []string{"a", "b", "c"} {
			_, err := stores.Jobs.Create(ctx, &models.Job{ID: id})
			require.NoError(t, err)
		}
		_, err := stores.Jobs.Update(ctx, "b", models.JobPatch{State: models.StatePtr(models.JobStateRunning)})
		require.NoError(t, err)

		running, err := stores.Jobs.ListByState(ctx, models.JobStateRunning)
		require.NoError(t, err)
		require.Len(t, running, 1)
		assert.Equal(t, "b", running[0].ID)

		queued, err := stores.Jobs.ListByState(ctx, models.JobStateQueued)
		require.NoError(t, err)
		assert.Len(t, queued, 2)
	})
}

func TestJobStoreAuditTrail(t *testing.T) {
	eachBackend(t, func(t *testing.T, stores *Stores) {
		ctx := context.Background()
		_, err := stores.Jobs.Create(ctx, &models.Job{ID: "job-5"})
		require.NoError(t, err)
		_, err = stores.Jobs.Update(ctx, "job-5", models.JobPatch{State: models.StatePtr(models.JobStateRunning)})
		require.NoError(t, err)
		_, err = stores.Jobs.Update(ctx, "job-5", models.JobPatch{State: models.StatePtr(models.JobStateSucceeded)})
		require.NoError(t, err)

		trail, err := stores.Jobs.AuditTrail(ctx, "job-5")
		require.NoError(t, err)
		require.Len(t, trail, 3)
		assert.Equal(t, models.AuditActionJobCreated, trail[0].Action)
		assert.Equal(t, models.AuditActionJobUpdated, trail[1].Action)
		assert.Equal(t, models.AuditActionJobUpdated, trail[2].Action)
		assert.Contains(t, string(trail[2].Payload), "succeeded")
	})
}

func TestJobStoreConcurrentUpdatesSerialize(t *testing.T) {
	eachBackend(t, func(t *testing.T, stores *Stores) {
		ctx := context.Background()
		_, err := stores.Jobs.Create(ctx, &models.Job{ID: "job-6"})
		require.NoError(t, err)

		var wg sync.WaitGroup
		errs := make(chan error, 8)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := stores.Jobs.Update(ctx, "job-6", models.JobPatch{Result: map[string]interface{}{"writer": i}})
				errs <- err
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}

		trail, err := stores.Jobs.AuditTrail(ctx, "job-6")
		require.NoError(t, err)
		assert.Len(t, trail, 9)
	})
}

func TestConversionLedgerRecordsInOrder(t *testing.T) {
	eachBackend(t, func(t *testing.T, stores *Stores) {
		ctx := context.Background()
		states := []models.CheckpointState{
			models.CheckpointPending,
			models.CheckpointParkedOriginal,
			models.CheckpointCSPCreated,
		}
		for _, s := range states {
			require.NoError(t, stores.Conversions.Record(ctx, &models.Conversion{
				JobID:            "job-7",
				ClinicID:         "clinic_1",
				PractitionerKey:  "dr_a",
				StartISO:         "2025-03-10T09:00:00Z",
				EndISO:           "2025-03-10T09:30:00Z",
				CSPAppointmentID: "c-1",
				State:            s,
			}))
		}
		require.NoError(t, stores.Conversions.Record(ctx, &models.Conversion{JobID: "other", ClinicID: "c", PractitionerKey: "p", State: models.CheckpointPending}))

		rows, err := stores.Conversions.ListByJob(ctx, "job-7")
		require.NoError(t, err)
		require.Len(t, rows, 3)
		for i, s := range states {
			assert.Equal(t, s, rows[i].State)
			assert.Equal(t, "c-1", rows[i].CSPAppointmentID)
		}

		empty, err := stores.Conversions.ListByJob(ctx, "none")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})
}

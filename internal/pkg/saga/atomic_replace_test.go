package saga

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
	"github.com/SwiftClinic/swiftclinic-sync/app/repository"
)

func convertCommand() models.CommandEnvelope {
	return models.CommandEnvelope{
		CommandType:        models.CommandConvertExisting,
		ClinicID:           "clinic_1",
		PractitionerKey:    "dr_a",
		AppointmentTypeKey: "physio_30",
		StartISO:           "2025-03-10T09:00:00Z",
		EndISO:             "2025-03-10T09:30:00Z",
		Patient:            &models.PatientRef{NameNorm: "jane doe", EmailHash: "eh"},
		IdempotencyKey:     "idem-1",
	}
}

func checkpointStates(t *testing.T, ledger repository.ConversionLedger, jobID string) []models.CheckpointState {
	t.Helper()
	rows, err := ledger.ListByJob(context.Background(), jobID)
	require.NoError(t, err)
	out := make([]models.CheckpointState, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.State)
	}
	return out
}

func newSaga(driver *fakeDriver, target TargetClient, ledger repository.ConversionLedger) *AtomicReplace {
	return NewAtomicReplace(driver.factory(), target, ledger, Config{
		ParkingResourceKey: "PARKING",
		StepTimeout:        200 * time.Millisecond,
	})
}

func TestAtomicReplaceHappyPath(t *testing.T) {
	driver := newFakeDriver()
	target := &fakeTarget{id: "csp-42"}
	ledger := repository.NewMemoryConversionLedger()

	res, err := newSaga(driver, target, ledger).Run(context.Background(), "job-1", convertCommand())
	require.NoError(t, err)
	assert.Equal(t, "csp-42", res.CSPAppointmentID)
	assert.Equal(t, "2025-03-10T09:00:00Z", res.FinalStartISO)
	assert.Equal(t, "2025-03-10T09:30:00Z", res.FinalEndISO)
	assert.Equal(t, "csp-42", res.Map()["csp_appointment_id"])

	assert.Equal(t, []string{"init", "locate", "park", "cancel_parked"}, driver.Calls())
	assert.Equal(t, "PARKING", driver.parkedTo)
	assert.Equal(t, 1, driver.closed)
	assert.Empty(t, target.cancelled)

	require.Len(t, target.created, 1)
	assert.Equal(t, "idem-1", target.created[0].IdempotencyKey)
	assert.Equal(t, "eh", target.created[0].PatientHash)
	assert.Equal(t, "physio_30", target.created[0].AppointmentTypeKey)

	assert.Equal(t, []models.CheckpointState{
		models.CheckpointPending,
		models.CheckpointParkedOriginal,
		models.CheckpointCSPCreated,
		models.CheckpointOriginalCanceled,
		models.CheckpointVerified,
		models.CheckpointCommitted,
	}, checkpointStates(t, ledger, "job-1"))

	rows, _ := ledger.ListByJob(context.Background(), "job-1")
	assert.Equal(t, "", rows[0].CSPAppointmentID)
	assert.Equal(t, "csp-42", rows[len(rows)-1].CSPAppointmentID)
}

func TestAtomicReplaceMissingFieldsMakesNoCalls(t *testing.T) {
	cases := map[string]func(c *models.CommandEnvelope){
		"no start":            func(c *models.CommandEnvelope) { c.StartISO = "" },
		"no end":              func(c *models.CommandEnvelope) { c.EndISO = "" },
		"no appointment type": func(c *models.CommandEnvelope) { c.AppointmentTypeKey = "" },
		"no patient":          func(c *models.CommandEnvelope) { c.Patient = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			opened := 0
			factory := LegacyDriverFactoryFunc(func(context.Context) (LegacyDriver, error) {
				opened++
				return newFakeDriver(), nil
			})
			target := &fakeTarget{}
			ledger := repository.NewMemoryConversionLedger()
			cmd := convertCommand()
			mutate(&cmd)

			_, err := NewAtomicReplace(factory, target, ledger, Config{}).Run(context.Background(), "job-p", cmd)
			require.Error(t, err)
			assert.Equal(t, models.ErrCodeInvalidCommand, CodeOf(err))
			assert.ErrorIs(t, err, ErrMissingFields)
			assert.False(t, IsCompensated(err))
			assert.Equal(t, 0, opened)
			assert.Empty(t, target.created)
			assert.Empty(t, checkpointStates(t, ledger, "job-p"))
		})
	}
}

func TestAtomicReplaceNotFoundSkipsCompensation(t *testing.T) {
	driver := newFakeDriver()
	driver.found = false
	target := &fakeTarget{}
	ledger := repository.NewMemoryConversionLedger()

	_, err := newSaga(driver, target, ledger).Run(context.Background(), "job-2", convertCommand())
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeNotFound, CodeOf(err))
	assert.False(t, IsCompensated(err))
	assert.ErrorIs(t, err, ErrNotLocated)

	assert.Equal(t, []string{"init", "locate"}, driver.Calls())
	assert.Empty(t, target.created)
	assert.Equal(t, 1, driver.closed)
	assert.Equal(t, []models.CheckpointState{models.CheckpointPending}, checkpointStates(t, ledger, "job-2"))
}

func TestAtomicReplaceWithoutTargetRestoresOriginal(t *testing.T) {
	driver := newFakeDriver()
	ledger := repository.NewMemoryConversionLedger()

	_, err := newSaga(driver, nil, ledger).Run(context.Background(), "job-3", convertCommand())
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeCSPUnavailable, CodeOf(err))
	assert.True(t, IsCompensated(err))

	assert.Equal(t, []string{"init", "locate", "park", "restore"}, driver.Calls())
	require.NotNil(t, driver.restored)
	assert.Equal(t, SlotParams{PractitionerKey: "dr_a", StartISO: "2025-03-10T09:00:00Z", EndISO: "2025-03-10T09:30:00Z"}, *driver.restored)
	assert.Equal(t, []models.CheckpointState{
		models.CheckpointPending,
		models.CheckpointParkedOriginal,
		models.CheckpointRolledBack,
	}, checkpointStates(t, ledger, "job-3"))
}

func TestAtomicReplaceCancelFailureCompensatesOnce(t *testing.T) {
	driver := newFakeDriver()
	driver.failAt["cancel_parked"] = errBoom
	target := &fakeTarget{id: "csp-7"}
	ledger := repository.NewMemoryConversionLedger()

	_, err := newSaga(driver, target, ledger).Run(context.Background(), "job-4", convertCommand())
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeGeneric, CodeOf(err))
	assert.True(t, IsCompensated(err))
	assert.Equal(t, "boom", MessageOf(err))

	assert.Equal(t, []string{"csp-7"}, target.cancelled)
	require.NotNil(t, driver.restored)
	assert.Equal(t, "2025-03-10T09:00:00Z", driver.restored.StartISO)
	assert.Equal(t, "2025-03-10T09:30:00Z", driver.restored.EndISO)
	assert.Equal(t, 1, driver.closed)

	states := checkpointStates(t, ledger, "job-4")
	assert.Equal(t, models.CheckpointRolledBack, states[len(states)-1])
	assert.NotContains(t, states, models.CheckpointCommitted)
}

func TestAtomicReplaceCreateFailureRestoresWithoutCSPCancel(t *testing.T) {
	driver := newFakeDriver()
	target := &fakeTarget{createErr: errors.New("csp 500")}
	ledger := repository.NewMemoryConversionLedger()

	_, err := newSaga(driver, target, ledger).Run(context.Background(), "job-5", convertCommand())
	require.Error(t, err)
	assert.True(t, IsCompensated(err))
	assert.Empty(t, target.cancelled)
	assert.Contains(t, driver.Calls(), "restore")
}

func TestAtomicReplaceCreateTimeout(t *testing.T) {
	driver := newFakeDriver()
	target := &fakeTarget{createWait: time.Second}
	ledger := repository.NewMemoryConversionLedger()

	_, err := newSaga(driver, target, ledger).Run(context.Background(), "job-6", convertCommand())
	require.Error(t, err)
	assert.Equal(t, "timeout:csp_create", CodeOf(err))
	assert.True(t, IsCompensated(err))
	assert.Contains(t, driver.Calls(), "restore")
}

func TestAtomicReplaceLocateTimeoutNotCompensated(t *testing.T) {
	driver := newFakeDriver()
	driver.block["locate"] = true

	_, err := newSaga(driver, &fakeTarget{}, nil).Run(context.Background(), "job-7", convertCommand())
	require.Error(t, err)
	assert.Equal(t, TimeoutCode(StepLocate), CodeOf(err))
	assert.False(t, IsCompensated(err))
	assert.Equal(t, 1, driver.closed)
}

func TestAtomicReplaceVerifyMismatchCompensates(t *testing.T) {
	driver := newFakeDriver()
	base := &fakeTarget{id: "csp-9"}
	target := &verifyingTarget{fakeTarget: base, get: func(id string) (*Appointment, error) {
		return &Appointment{ID: id, Status: "cancelled"}, nil
	}}
	ledger := repository.NewMemoryConversionLedger()

	_, err := newSaga(driver, target, ledger).Run(context.Background(), "job-8", convertCommand())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrVerifyMismatch)
	assert.True(t, IsCompensated(err))
	assert.Equal(t, []string{"csp-9"}, base.cancelled)
	// original was already cancelled, so there is nothing to restore
	assert.NotContains(t, driver.Calls(), "restore")

	states := checkpointStates(t, ledger, "job-8")
	assert.Contains(t, states, models.CheckpointOriginalCanceled)
	assert.Equal(t, models.CheckpointRolledBack, states[len(states)-1])
}

func TestAtomicReplaceVerifyAcceptsEquivalentInstants(t *testing.T) {
	driver := newFakeDriver()
	target := &verifyingTarget{fakeTarget: &fakeTarget{id: "csp-10"}, get: func(id string) (*Appointment, error) {
		return &Appointment{ID: id, Status: AppointmentStatusBooked, StartISO: "2025-03-10T10:00:00+01:00", EndISO: "2025-03-10T10:30:00+01:00"}, nil
	}}

	res, err := newSaga(driver, target, nil).Run(context.Background(), "job-9", convertCommand())
	require.NoError(t, err)
	assert.Equal(t, "csp-10", res.CSPAppointmentID)
}

func TestAtomicReplaceDriverOpenFailure(t *testing.T) {
	factory := LegacyDriverFactoryFunc(func(context.Context) (LegacyDriver, error) {
		return nil, errBoom
	})
	_, err := NewAtomicReplace(factory, &fakeTarget{}, nil, Config{}).Run(context.Background(), "job-10", convertCommand())
	require.Error(t, err)
	assert.Equal(t, models.ErrCodeGeneric, CodeOf(err))
	assert.False(t, IsCompensated(err))
}

func TestAtomicReplaceCompensatesAfterCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	driver := newFakeDriver()
	driver.onCall["cancel_parked"] = cancel
	driver.failAt["cancel_parked"] = context.Canceled
	target := &fakeTarget{id: "csp-11"}

	_, err := newSaga(driver, target, nil).Run(ctx, "job-11", convertCommand())
	require.Error(t, err)
	assert.True(t, IsCompensated(err))
	assert.Equal(t, []string{"csp-11"}, target.cancelled)
	assert.Contains(t, driver.Calls(), "restore")
}

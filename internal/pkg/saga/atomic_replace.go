package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
	"github.com/SwiftClinic/swiftclinic-sync/app/repository"
)

const DefaultStepTimeout = 5 * time.Second

// Config tunes a saga runner
type Config struct {
	ParkingResourceKey string
	StepTimeout        time.Duration
}

// Result is what a committed conversion reports
type Result struct {
	CSPAppointmentID string `json:"csp_appointment_id"`
	FinalStartISO    string `json:"final_start_iso"`
	FinalEndISO      string `json:"final_end_iso"`
}

// Map converts the result for storage on the job
func (r Result) Map() map[string]interface{} {
	return map[string]interface{}{
		"csp_appointment_id": r.CSPAppointmentID,
		"final_start_iso":    r.FinalStartISO,
		"final_end_iso":      r.FinalEndISO,
	}
}

// AtomicReplace moves an appointment from the legacy system to the target
// system: park the original, book the replacement, cancel the original,
// verify. Failures after parking are compensated.
type AtomicReplace struct {
	drivers LegacyDriverFactory
	target  TargetClient
	ledger  repository.ConversionLedger
	cfg     Config
}

// NewAtomicReplace creates a saga runner. target may be nil, in which case
// every run that gets past parking fails with csp_unavailable.
func NewAtomicReplace(drivers LegacyDriverFactory, target TargetClient, ledger repository.ConversionLedger, cfg Config) *AtomicReplace {
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = DefaultStepTimeout
	}
	return &AtomicReplace{
		drivers: drivers,
		target:  target,
		ledger:  ledger,
		cfg:     cfg,
	}
}

// run holds the local progress of one execution
type run struct {
	saga             *AtomicReplace
	jobID            string
	cmd              models.CommandEnvelope
	driver           LegacyDriver
	parked           bool
	originalCanceled bool
	cspID            string
}

// Run executes the saga for one job. Errors are *Error values carrying the
// taxonomy code; IsCompensated tells whether the run was rolled back.
func (s *AtomicReplace) Run(ctx context.Context, jobID string, cmd models.CommandEnvelope) (*Result, error) {
	if err := checkPreconditions(cmd); err != nil {
		return nil, &Error{Code: models.ErrCodeInvalidCommand, Step: StepPreconditions, Err: err}
	}

	r := &run{saga: s, jobID: jobID, cmd: cmd}
	if err := r.checkpoint(ctx, models.CheckpointPending); err != nil {
		return nil, stepError(StepCheckpoint, err)
	}

	driver, err := s.drivers.NewDriver(ctx)
	if err != nil {
		return nil, stepError(StepInitSession, fmt.Errorf("open legacy driver: %w", err))
	}
	defer func() {
		if cerr := driver.Close(); cerr != nil {
			log.Warnf("[Saga] Job %s: closing legacy session failed: %v", jobID, cerr)
		}
	}()
	r.driver = driver

	res, err := r.forward(ctx)
	if err == nil {
		log.Infof("[Saga] Job %s committed as %s", jobID, res.CSPAppointmentID)
		return res, nil
	}

	se := stepError(StepCheckpoint, err)
	if r.parked {
		log.Warnf("[Saga] Job %s failed after parking (%s), compensating", jobID, se.Code)
		r.compensate(context.WithoutCancel(ctx))
		se.Compensated = true
	} else {
		log.Warnf("[Saga] Job %s failed before any mutation: %v", jobID, se)
	}
	return nil, se
}

func checkPreconditions(cmd models.CommandEnvelope) error {
	if cmd.StartISO == "" || cmd.EndISO == "" || cmd.AppointmentTypeKey == "" || cmd.Patient == nil {
		return ErrMissingFields
	}
	return nil
}

func (r *run) forward(ctx context.Context) (*Result, error) {
	s := r.saga
	cmd := r.cmd
	timeout := s.cfg.StepTimeout

	err := runAction(ctx, timeout, StepInitSession, func(c context.Context) error {
		return r.driver.InitSession(c, cmd.ClinicID)
	})
	if err != nil {
		return nil, err
	}

	found, err := runStep(ctx, timeout, StepLocate, func(c context.Context) (bool, error) {
		return r.driver.LocateAppointment(c, LocateParams{
			PractitionerKey: cmd.PractitionerKey,
			StartISO:        cmd.StartISO,
			EndISO:          cmd.EndISO,
			PatientText:     cmd.Patient.NameNorm,
		})
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, &Error{Code: models.ErrCodeNotFound, Step: StepLocate, Err: ErrNotLocated}
	}

	err = runAction(ctx, timeout, StepPark, func(c context.Context) error {
		return r.driver.MoveToParking(c, s.cfg.ParkingResourceKey)
	})
	if err != nil {
		return nil, err
	}
	r.parked = true
	if err := r.checkpoint(ctx, models.CheckpointParkedOriginal); err != nil {
		return nil, stepError(StepCheckpoint, err)
	}

	if s.target == nil {
		return nil, &Error{Code: models.ErrCodeCSPUnavailable, Step: StepCSPCreate, Err: ErrNoTargetClient}
	}
	appt, err := runStep(ctx, timeout, StepCSPCreate, func(c context.Context) (*Appointment, error) {
		return s.target.CreateAppointment(c, CreateParams{
			ClinicID:           cmd.ClinicID,
			PractitionerKey:    cmd.PractitionerKey,
			AppointmentTypeKey: cmd.AppointmentTypeKey,
			StartISO:           cmd.StartISO,
			EndISO:             cmd.EndISO,
			PatientHash:        cmd.Patient.Hash(),
			IdempotencyKey:     cmd.IdempotencyKey,
		})
	})
	if err != nil {
		return nil, err
	}
	if appt == nil || appt.ID == "" {
		return nil, stepError(StepCSPCreate, fmt.Errorf("target system returned no appointment id"))
	}
	r.cspID = appt.ID
	if err := r.checkpoint(ctx, models.CheckpointCSPCreated); err != nil {
		return nil, stepError(StepCheckpoint, err)
	}

	err = runAction(ctx, timeout, StepCancelOriginal, func(c context.Context) error {
		return r.driver.CancelParked(c)
	})
	if err != nil {
		return nil, err
	}
	r.originalCanceled = true
	if err := r.checkpoint(ctx, models.CheckpointOriginalCanceled); err != nil {
		return nil, stepError(StepCheckpoint, err)
	}

	if err := r.verify(ctx); err != nil {
		return nil, err
	}
	if err := r.checkpoint(ctx, models.CheckpointVerified); err != nil {
		return nil, stepError(StepCheckpoint, err)
	}

	if err := r.checkpoint(ctx, models.CheckpointCommitted); err != nil {
		return nil, stepError(StepCheckpoint, err)
	}
	return &Result{
		CSPAppointmentID: r.cspID,
		FinalStartISO:    cmd.StartISO,
		FinalEndISO:      cmd.EndISO,
	}, nil
}

// verify reads the booking back when the target client supports it
func (r *run) verify(ctx context.Context) error {
	verifier, ok := r.saga.target.(Verifier)
	if !ok {
		return nil
	}
	appt, err := runStep(ctx, r.saga.cfg.StepTimeout, StepVerify, func(c context.Context) (*Appointment, error) {
		return verifier.GetAppointment(c, r.cspID)
	})
	if err != nil {
		return err
	}
	if appt == nil || appt.ID != r.cspID || (appt.Status != "" && appt.Status != AppointmentStatusBooked) {
		return stepError(StepVerify, fmt.Errorf("%w: %+v", ErrVerifyMismatch, appt))
	}
	if (appt.StartISO != "" && !sameInstant(appt.StartISO, r.cmd.StartISO)) ||
		(appt.EndISO != "" && !sameInstant(appt.EndISO, r.cmd.EndISO)) {
		return stepError(StepVerify, fmt.Errorf("%w: window %s..%s", ErrVerifyMismatch, appt.StartISO, appt.EndISO))
	}
	return nil
}

// compensate is best effort: every failure is logged and the run still ends rolled_back
func (r *run) compensate(ctx context.Context) {
	s := r.saga
	timeout := s.cfg.StepTimeout

	if r.cspID != "" && s.target != nil {
		err := runAction(ctx, timeout, StepCSPCancelComp, func(c context.Context) error {
			return s.target.CancelAppointment(c, r.cspID)
		})
		if err != nil {
			log.Errorf("[Saga] Job %s: cancelling target appointment %s failed: %v", r.jobID, r.cspID, err)
		}
	}

	switch {
	case r.parked && r.originalCanceled:
		log.Errorf("[Saga] Job %s: original appointment was already cancelled and cannot be restored", r.jobID)
	case r.parked:
		err := runAction(ctx, timeout, StepRestore, func(c context.Context) error {
			return r.driver.RestoreFromParking(c, SlotParams{
				PractitionerKey: r.cmd.PractitionerKey,
				StartISO:        r.cmd.StartISO,
				EndISO:          r.cmd.EndISO,
			})
		})
		if err != nil {
			log.Errorf("[Saga] Job %s: restoring original appointment failed: %v", r.jobID, err)
		}
	}

	if err := r.checkpoint(ctx, models.CheckpointRolledBack); err != nil {
		log.Errorf("[Saga] Job %s: writing rolled_back checkpoint failed: %v", r.jobID, err)
	}
}

func (r *run) checkpoint(ctx context.Context, state models.CheckpointState) error {
	if r.saga.ledger == nil {
		return nil
	}
	return r.saga.ledger.Record(ctx, &models.Conversion{
		JobID:            r.jobID,
		ClinicID:         r.cmd.ClinicID,
		PractitionerKey:  r.cmd.PractitionerKey,
		StartISO:         r.cmd.StartISO,
		EndISO:           r.cmd.EndISO,
		CSPAppointmentID: r.cspID,
		State:            state,
	})
}

func sameInstant(a, b string) bool {
	ta, errA := time.Parse(time.RFC3339, a)
	tb, errB := time.Parse(time.RFC3339, b)
	if errA != nil || errB != nil {
		return a == b
	}
	return ta.Equal(tb)
}

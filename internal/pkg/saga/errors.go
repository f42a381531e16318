package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
)

// Step names used in timeout codes and logs
type Step string

const (
	StepPreconditions  Step = "preconditions"
	StepInitSession    Step = "init_session"
	StepLocate         Step = "locate"
	StepPark           Step = "park"
	StepCSPCreate      Step = "csp_create"
	StepCancelOriginal Step = "cancel_original"
	StepVerify         Step = "verify"
	StepCheckpoint     Step = "checkpoint"
	StepCSPCancelComp  Step = "csp_cancel_comp"
	StepRestore        Step = "restore_original"
)

// TimeoutCode returns the error code of a step that ran out of time
func TimeoutCode(step Step) string {
	return "timeout:" + string(step)
}

// Error is a saga failure. Compensated is true when the run had parked the
// original and went through compensation before failing.
type Error struct {
	Code        string
	Step        Step
	Compensated bool
	Err         error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s at %s: %v", e.Code, e.Step, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message is the human-readable cause stored on the job
func (e *Error) Message() string {
	if e.Err == nil {
		return e.Code
	}
	return e.Err.Error()
}

var (
	ErrMissingFields  = errors.New("start_iso, end_iso, appointment_type_key and patient are required")
	ErrNotLocated     = errors.New("appointment not found on legacy grid")
	ErrNoTargetClient = errors.New("target system is not configured")
	ErrVerifyMismatch = errors.New("target appointment does not match the requested booking")
)

// CodeOf returns the taxonomy code of err, or "error" for anything uncategorized
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) && se.Code != "" {
		return se.Code
	}
	return models.ErrCodeGeneric
}

// IsCompensated reports whether err came from a compensated run
func IsCompensated(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Compensated
}

// MessageOf returns the cause message for the job record
func MessageOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Message()
	}
	return err.Error()
}

func stepError(step Step, err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return &Error{Code: models.ErrCodeGeneric, Step: step, Err: err}
}

// runStep bounds fn by timeout. A timeout is reported as timeout:<step>; the
// step's context is cancelled but a remote call already issued may still land.
func runStep[T any](ctx context.Context, timeout time.Duration, step Step, fn func(context.Context) (T, error)) (T, error) {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(stepCtx)
		done <- outcome{val: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err == nil {
			return o.val, nil
		}
		if errors.Is(o.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return o.val, timeoutError(step, timeout)
		}
		return o.val, stepError(step, o.err)
	case <-stepCtx.Done():
		var zero T
		if err := ctx.Err(); err != nil {
			return zero, stepError(step, err)
		}
		return zero, timeoutError(step, timeout)
	}
}

func timeoutError(step Step, timeout time.Duration) *Error {
	return &Error{Code: TimeoutCode(step), Step: step, Err: fmt.Errorf("step %s exceeded %s", step, timeout)}
}

// runAction is runStep for steps without a value
func runAction(ctx context.Context, timeout time.Duration, step Step, fn func(context.Context) error) error {
	_, err := runStep(ctx, timeout, step, func(c context.Context) (struct{}, error) {
		return struct{}{}, fn(c)
	})
	return err
}

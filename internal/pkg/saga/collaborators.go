package saga

import "context"

// LocateParams identifies an appointment on the legacy grid
type LocateParams struct {
	PractitionerKey string
	StartISO        string
	EndISO          string
	PatientText     string
}

// SlotParams is a practitioner/time slot on the legacy grid
type SlotParams struct {
	PractitionerKey string
	StartISO        string
	EndISO          string
}

// LegacyDriver operates the UI-only legacy scheduler. One driver is one
// session; Close must be called exactly once.
type LegacyDriver interface {
	InitSession(ctx context.Context, clinicID string) error
	LocateAppointment(ctx context.Context, p LocateParams) (bool, error)
	// MoveToParking moves the located appointment onto the parking resource
	MoveToParking(ctx context.Context, resourceKey string) error
	// CancelParked cancels the appointment currently held on the parking resource
	CancelParked(ctx context.Context) error
	// RestoreFromParking moves the parked appointment back into slot
	RestoreFromParking(ctx context.Context, slot SlotParams) error
	Close() error
}

// LegacyDriverFactory opens a fresh driver per saga run
type LegacyDriverFactory interface {
	NewDriver(ctx context.Context) (LegacyDriver, error)
}

// LegacyDriverFactoryFunc adapts a function to LegacyDriverFactory
type LegacyDriverFactoryFunc func(ctx context.Context) (LegacyDriver, error)

func (f LegacyDriverFactoryFunc) NewDriver(ctx context.Context) (LegacyDriver, error) {
	return f(ctx)
}

// CreateParams is the target-system booking request
type CreateParams struct {
	ClinicID           string `json:"clinic_id"`
	PractitionerKey    string `json:"practitioner_key"`
	AppointmentTypeKey string `json:"appointment_type_key"`
	StartISO           string `json:"start_iso"`
	EndISO             string `json:"end_iso"`
	PatientHash        string `json:"patient_hash"`
	IdempotencyKey     string `json:"idempotency_key"`
}

// Appointment is the target system's view of a booking
type Appointment struct {
	ID       string `json:"csp_appointment_id"`
	Status   string `json:"status,omitempty"`
	StartISO string `json:"start_iso,omitempty"`
	EndISO   string `json:"end_iso,omitempty"`
}

// AppointmentStatusBooked is the status a verified appointment must report
const AppointmentStatusBooked = "booked"

// TargetClient books and cancels appointments in the target system
type TargetClient interface {
	CreateAppointment(ctx context.Context, p CreateParams) (*Appointment, error)
	CancelAppointment(ctx context.Context, id string) error
}

// Verifier is implemented by target clients that can read a booking back
type Verifier interface {
	GetAppointment(ctx context.Context, id string) (*Appointment, error)
}

package models

import "time"

// CheckpointState marks how far a conversion saga progressed
type CheckpointState string

const (
	CheckpointPending          CheckpointState = "pending"
	CheckpointParkedOriginal   CheckpointState = "parked_original"
	CheckpointCSPCreated       CheckpointState = "csp_created"
	CheckpointOriginalCanceled CheckpointState = "original_canceled"
	CheckpointVerified         CheckpointState = "verified"
	CheckpointCommitted        CheckpointState = "committed"
	CheckpointRolledBack       CheckpointState = "rolled_back"
)

// Conversion is one append-only checkpoint row of a saga run
type Conversion struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	JobID            string          `gorm:"type:varchar(64);not null;index" json:"job_id"`
	ClinicID         string          `gorm:"type:varchar(100);not null" json:"clinic_id"`
	PractitionerKey  string          `gorm:"type:varchar(100);not null" json:"practitioner_key"`
	StartISO         string          `gorm:"type:varchar(40)" json:"start_iso"`
	EndISO           string          `gorm:"type:varchar(40)" json:"end_iso"`
	CSPAppointmentID string          `gorm:"type:varchar(191)" json:"csp_appointment_id,omitempty"`
	State            CheckpointState `gorm:"type:varchar(30);not null" json:"state"`
	CreatedAt        time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Conversion) TableName() string {
	return "conversions"
}

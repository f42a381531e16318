package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// CommandType is the kind of operation a caller asks the worker to perform
type CommandType string

const (
	CommandConvertExisting CommandType = "convert_existing"
	CommandBookNew         CommandType = "book_new"
	CommandReschedule      CommandType = "reschedule"
	CommandCancel          CommandType = "cancel"
)

// PatientRef identifies a patient without carrying raw contact details
type PatientRef struct {
	NameNorm   string `json:"name_norm" validate:"required,min=1,max=255"`
	PhoneLast4 string `json:"phone_last4,omitempty" validate:"omitempty,len=4,numeric"`
	EmailHash  string `json:"email_hash,omitempty" validate:"omitempty,max=128"`
}

// Hash returns the opaque patient identifier handed to the target system.
// Email hash wins over phone digits, which win over the normalized name.
func (p *PatientRef) Hash() string {
	if p == nil {
		return ""
	}
	if p.EmailHash != "" {
		return p.EmailHash
	}
	if p.PhoneLast4 != "" {
		return p.PhoneLast4
	}
	return p.NameNorm
}

// CommandEnvelope is the immutable request accepted at intake
type CommandEnvelope struct {
	CommandType        CommandType            `json:"command_type" validate:"required,oneof=convert_existing book_new reschedule cancel"`
	ClinicID           string                 `json:"clinic_id" validate:"required,max=100"`
	PractitionerKey    string                 `json:"practitioner_key" validate:"required,max=100"`
	AppointmentTypeKey string                 `json:"appointment_type_key,omitempty" validate:"omitempty,max=100"`
	StartISO           string                 `json:"start_iso,omitempty"`
	EndISO             string                 `json:"end_iso,omitempty"`
	Patient            *PatientRef            `json:"patient,omitempty" validate:"omitempty"`
	ConversationID     string                 `json:"conversation_id,omitempty" validate:"omitempty,max=255"`
	IdempotencyKey     string                 `json:"idempotency_key" validate:"required,min=1,max=255"`
	Options            map[string]interface{} `json:"options,omitempty"`
}

var ErrInvalidTimeWindow = errors.New("end_iso must be after start_iso")

// Validate checks struct tags and the time window when both bounds are present
func (c *CommandEnvelope) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return err
	}

	var start, end time.Time
	var err error
	if c.StartISO != "" {
		if start, err = time.Parse(time.RFC3339, c.StartISO); err != nil {
			return fmt.Errorf("start_iso: %w", err)
		}
	}
	if c.EndISO != "" {
		if end, err = time.Parse(time.RFC3339, c.EndISO); err != nil {
			return fmt.Errorf("end_iso: %w", err)
		}
	}
	if c.StartISO != "" && c.EndISO != "" && !end.After(start) {
		return ErrInvalidTimeWindow
	}
	return nil
}

// Normalize rewrites the patient name into its canonical search form
func (c *CommandEnvelope) Normalize() {
	if c.Patient != nil {
		c.Patient.NameNorm = NormalizeName(c.Patient.NameNorm)
	}
}

var nameCaser = cases.Lower(language.Und)

// NormalizeName applies NFKC, lower-cases and collapses whitespace
func NormalizeName(name string) string {
	folded := nameCaser.String(norm.NFKC.String(name))
	return strings.Join(strings.FieldsFunc(folded, unicode.IsSpace), " ")
}

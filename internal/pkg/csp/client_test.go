package csp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/saga"
)

func TestNewClient(t *testing.T) {
	_, err := NewClient("", "key")
	assert.Error(t, err)
	_, err = NewClient("csp.example.com", " ")
	assert.Error(t, err)

	c, err := NewClient("csp.example.com/", "key")
	require.NoError(t, err)
	assert.Equal(t, "https://csp.example.com", c.BaseURL)

	c, err = NewClient("http://localhost:9000", "key")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9000", c.BaseURL)
}

func TestCreateAppointment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/appointments", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "idem-1", r.Header.Get("Idempotency-Key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body saga.CreateParams
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "dr_a", body.PractitionerKey)
		assert.Equal(t, "ph", body.PatientHash)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"csp-1","status":"booked","start_iso":"2025-03-10T09:00:00Z"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "secret")
	require.NoError(t, err)

	appt, err := c.CreateAppointment(context.Background(), saga.CreateParams{
		ClinicID:        "clinic_1",
		PractitionerKey: "dr_a",
		PatientHash:     "ph",
		IdempotencyKey:  "idem-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "csp-1", appt.ID)
	assert.Equal(t, saga.AppointmentStatusBooked, appt.Status)
}

func TestCreateAppointmentErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Idempotency-Key") == "empty" {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "k")

	_, err := c.CreateAppointment(context.Background(), saga.CreateParams{IdempotencyKey: "x"})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "upstream down")

	_, err = c.CreateAppointment(context.Background(), saga.CreateParams{IdempotencyKey: "empty"})
	assert.Error(t, err)
}

func TestCancelAppointment(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/v1/appointments/gone/cancel":
			w.WriteHeader(http.StatusConflict)
		case "/v1/appointments/bad/cancel":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "k")
	ctx := context.Background()

	assert.NoError(t, c.CancelAppointment(ctx, "csp-1"))
	assert.NoError(t, c.CancelAppointment(ctx, "gone"))
	assert.Error(t, c.CancelAppointment(ctx, "bad"))
	assert.Error(t, c.CancelAppointment(ctx, " "))
	assert.Equal(t, []string{"/v1/appointments/csp-1/cancel", "/v1/appointments/gone/cancel", "/v1/appointments/bad/cancel"}, paths)
}

func TestGetAppointment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/appointments/csp-9", r.URL.Path)
		_, _ = w.Write([]byte(`{"csp_appointment_id":"csp-9","status":"booked","end_iso":"2025-03-10T09:30:00Z"}`))
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "k")
	appt, err := c.GetAppointment(context.Background(), "csp-9")
	require.NoError(t, err)
	assert.Equal(t, "csp-9", appt.ID)
	assert.Equal(t, "2025-03-10T09:30:00Z", appt.EndISO)

	var _ saga.Verifier = c
	var _ saga.TargetClient = c
}

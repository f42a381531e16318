package csp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/saga"
)

const defaultTimeout = 15 * time.Second

// Client talks to the target scheduling provider over HTTP
type Client struct {
	BaseURL string
	APIKey  string

	HTTPClient *http.Client
}

// NewClient builds a client. host may omit the scheme, https is assumed.
func NewClient(host, apiKey string) (*Client, error) {
	host = strings.TrimSpace(host)
	if host == "" || strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("CSP_HOST and CSP_API_KEY are required")
	}
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	if _, err := url.Parse(host); err != nil {
		return nil, fmt.Errorf("invalid CSP_HOST: %w", err)
	}
	return &Client{
		BaseURL: strings.TrimRight(host, "/"),
		APIKey:  strings.TrimSpace(apiKey),
		HTTPClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}, nil
}

// APIError is a non-2xx answer from the provider
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("csp %s failed: status=%d body=%s", e.Op, e.StatusCode, e.Body)
}

type appointmentResponse struct {
	ID               string `json:"id"`
	CSPAppointmentID string `json:"csp_appointment_id"`
	Status           string `json:"status"`
	StartISO         string `json:"start_iso"`
	EndISO           string `json:"end_iso"`
}

func (r appointmentResponse) appointment() *saga.Appointment {
	id := r.CSPAppointmentID
	if id == "" {
		id = r.ID
	}
	return &saga.Appointment{ID: id, Status: r.Status, StartISO: r.StartISO, EndISO: r.EndISO}
}

// CreateAppointment books an appointment. The idempotency key travels as a
// header so a retried create is deduplicated by the provider.
func (c *Client) CreateAppointment(ctx context.Context, p saga.CreateParams) (*saga.Appointment, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/appointments", payload)
	if err != nil {
		return nil, err
	}
	if p.IdempotencyKey != "" {
		req.Header.Set("Idempotency-Key", p.IdempotencyKey)
	}

	var out appointmentResponse
	if err := c.do(req, "create appointment", &out); err != nil {
		return nil, err
	}
	appt := out.appointment()
	if appt.ID == "" {
		return nil, errors.New("csp create appointment returned empty id")
	}
	return appt, nil
}

// CancelAppointment cancels a booking. Already-cancelled bookings are not an error.
func (c *Client) CancelAppointment(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("appointment id is required")
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/v1/appointments/"+url.PathEscape(id)+"/cancel", nil)
	if err != nil {
		return err
	}
	err = c.do(req, "cancel appointment", nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		return nil
	}
	return err
}

// GetAppointment reads a booking back for verification
func (c *Client) GetAppointment(ctx context.Context, id string) (*saga.Appointment, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v1/appointments/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var out appointmentResponse
	if err := c.do(req, "get appointment", &out); err != nil {
		return nil, err
	}
	return out.appointment(), nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (c *Client) do(req *http.Request, op string, out interface{}) error {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(body)}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, out)
}

package models

import "time"

const (
	EventJobSucceeded = "job.succeeded"
	EventJobFailed    = "job.failed"
)

// WebhookEvent is the body posted to the configured webhook receiver
type WebhookEvent struct {
	Event          string                 `json:"event"`
	JobID          string                 `json:"job_id"`
	ConversationID string                 `json:"conversation_id,omitempty"`
	Result         map[string]interface{} `json:"result,omitempty"`
	Error          *JobError              `json:"error,omitempty"`
	Timestamp      string                 `json:"timestamp"`
}

// NewJobEvent builds the terminal event for a job
func NewJobEvent(job *Job, conversationID string, now time.Time) WebhookEvent {
	ev := WebhookEvent{
		JobID:          job.ID,
		ConversationID: conversationID,
		Timestamp:      now.UTC().Format(time.RFC3339Nano),
	}
	if job.State == JobStateSucceeded {
		ev.Event = EventJobSucceeded
		ev.Result = map[string]interface{}(job.Result)
	} else {
		ev.Event = EventJobFailed
		ev.Error = job.Error
	}
	return ev
}

// OutboxEntry is one pending webhook delivery. Entries are replaced, never edited.
type OutboxEntry struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Body      string `json:"body"`
	Signature string `json:"signature"`
	Attempt   int    `json:"attempt"`
	NextAt    int64  `json:"nextAt"`
	LastError string `json:"last_error,omitempty"`
	DeadAt    int64  `json:"dead_at,omitempty"`
}

// Retry returns the successor entry after a failed attempt
func (e OutboxEntry) Retry(nextAt int64, lastErr string) OutboxEntry {
	e.Attempt++
	e.NextAt = nextAt
	e.LastError = lastErr
	return e
}

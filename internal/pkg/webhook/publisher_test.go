package webhook

import (
	"context"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
)

var publishTime = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func publishAndPop(t *testing.T, job *models.Job, conversationID string) models.OutboxEntry {
	t.Helper()
	ctx := context.Background()
	outbox := NewMemoryOutbox()
	p := NewPublisher(outbox, "https://hooks.example.com/swiftclinic", "dev_secret")
	p.Now = func() time.Time { return publishTime }

	require.NoError(t, p.Publish(ctx, models.NewJobEvent(job, conversationID, publishTime)))
	e, err := outbox.Pop(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, e)
	return *e
}

func TestPublishSucceededEvent(t *testing.T) {
	job := &models.Job{ID: "job-1", State: models.JobStateSucceeded, Result: map[string]interface{}{
		"csp_appointment_id": "csp-1",
		"final_start_iso":    "2025-03-10T09:00:00Z",
		"final_end_iso":      "2025-03-10T09:30:00Z",
	}}
	e := publishAndPop(t, job, "conv-1")

	assert.Equal(t, "https://hooks.example.com/swiftclinic", e.URL)
	assert.Equal(t, 0, e.Attempt)
	assert.Equal(t, publishTime.UnixMilli(), e.NextAt)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, Sign([]byte(e.Body), "dev_secret"), e.Signature)

	g := goldie.New(t)
	g.Assert(t, "job_succeeded", []byte(e.Body))
}

func TestPublishFailedEvent(t *testing.T) {
	job := &models.Job{ID: "job-2", State: models.JobStateRolledBack, Error: &models.JobError{
		Code:    models.ErrCodeCSPUnavailable,
		Message: "target system is not configured",
	}}
	e := publishAndPop(t, job, "")

	g := goldie.New(t)
	g.Assert(t, "job_failed", []byte(e.Body))
}

func TestPublishWithoutURLOnlyLogs(t *testing.T) {
	ctx := context.Background()
	outbox := NewMemoryOutbox()
	p := NewPublisher(outbox, "", "dev_secret")

	require.NoError(t, p.Publish(ctx, models.WebhookEvent{Event: models.EventJobSucceeded, JobID: "j"}))
	pending, _, _ := outbox.Depth(ctx)
	assert.Zero(t, pending)
}

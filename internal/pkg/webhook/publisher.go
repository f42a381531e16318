package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
)

// Publisher signs events and hands them to the outbox
type Publisher struct {
	outbox Outbox
	url    string
	secret string

	Now func() time.Time
}

// NewPublisher creates a publisher. With an empty url events are only logged.
func NewPublisher(outbox Outbox, url, secret string) *Publisher {
	return &Publisher{outbox: outbox, url: url, secret: secret, Now: time.Now}
}

// Publish serializes, signs and enqueues ev for immediate delivery
func (p *Publisher) Publish(ctx context.Context, ev models.WebhookEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook event: %w", err)
	}
	signature := Sign(body, p.secret)

	if p.url == "" {
		log.Infof("[Webhook] WEBHOOK OUT body=%s signature=%s", body, signature)
		return nil
	}

	entry := models.OutboxEntry{
		ID:        uuid.New().String(),
		URL:       p.url,
		Body:      string(body),
		Signature: signature,
		Attempt:   0,
		NextAt:    p.Now().UnixMilli(),
	}
	if err := p.outbox.Push(ctx, entry); err != nil {
		return fmt.Errorf("failed to enqueue webhook: %w", err)
	}
	log.Debugf("[Webhook] Queued %s for job %s", ev.Event, ev.JobID)
	return nil
}

package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
)

const (
	// Redis keys
	QueueKey      = "swiftclinic:queue:commands"
	ProcessingKey = "swiftclinic:queue:processing"

	DefaultPopWait = 5 * time.Second
)

// Message is the queue payload: the job id and the command it executes
type Message struct {
	JobID   string                 `json:"job_id"`
	Payload models.CommandEnvelope `json:"payload"`
}

// Delivery is a popped message that must be acknowledged once handled
type Delivery struct {
	Message
	raw string
}

// Queue is a durable FIFO of commands. Delivery is at-least-once: a message
// popped but never acked comes back through RequeueInflight.
type Queue interface {
	// Enqueue creates a queued job for cmd and publishes it
	Enqueue(ctx context.Context, cmd models.CommandEnvelope) (string, error)
	// Pop blocks up to wait; it returns nil, nil when nothing arrived
	Pop(ctx context.Context, wait time.Duration) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	// RequeueInflight moves unacked deliveries back to the queue head
	RequeueInflight(ctx context.Context) (int, error)
	Depth(ctx context.Context) (int64, error)
}

func encodeMessage(jobID string, cmd models.CommandEnvelope) (string, error) {
	raw, err := json.Marshal(Message{JobID: jobID, Payload: cmd})
	if err != nil {
		return "", fmt.Errorf("failed to marshal message: %w", err)
	}
	return string(raw), nil
}

func decodeDelivery(raw string) (*Delivery, error) {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return &Delivery{Message: msg, raw: raw}, nil
}

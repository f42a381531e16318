package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/metrics/counter"
)

const (
	// MaxAttempts is the attempt count at which an entry is dead-lettered
	MaxAttempts = 6

	BaseBackoff = time.Second
	MaxBackoff  = 60 * time.Second

	DefaultPopWait  = time.Second
	DefaultIdleWait = 500 * time.Millisecond
)

// Backoff returns min(60s, 1s * 2^attempt)
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 6 {
		return MaxBackoff
	}
	d := BaseBackoff << uint(attempt)
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}

// Sender performs one delivery attempt
type Sender interface {
	Send(ctx context.Context, e models.OutboxEntry) error
}

// HTTPSender posts entries as JSON with the signature header
type HTTPSender struct {
	HTTPClient *http.Client
}

// NewHTTPSender creates a sender with a per-request timeout
func NewHTTPSender(timeout time.Duration) *HTTPSender {
	return &HTTPSender{HTTPClient: &http.Client{Timeout: timeout}}
}

func (s *HTTPSender) Send(ctx context.Context, e models.OutboxEntry) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.URL, bytes.NewReader([]byte(e.Body)))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, e.Signature)

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook receiver answered %d", resp.StatusCode)
	}
	return nil
}

// Dispatcher drains the outbox: due entries are sent, failures are retried
// with exponential backoff and dead-lettered after MaxAttempts.
type Dispatcher struct {
	outbox   Outbox
	sender   Sender
	counters counter.Counters

	PopWait  time.Duration
	IdleWait time.Duration
	Now      func() time.Time
}

// NewDispatcher creates a dispatcher. counters may be nil.
func NewDispatcher(outbox Outbox, sender Sender, counters counter.Counters) *Dispatcher {
	return &Dispatcher{
		outbox:   outbox,
		sender:   sender,
		counters: counters,
		PopWait:  DefaultPopWait,
		IdleWait: DefaultIdleWait,
		Now:      time.Now,
	}
}

// Run loops until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context) error {
	log.Info("[Outbox] Dispatcher started")
	for {
		if ctx.Err() != nil {
			log.Info("[Outbox] Dispatcher stopping")
			return nil
		}
		if err := d.Tick(ctx); err != nil && ctx.Err() == nil {
			log.Errorf("[Outbox] Dispatch error: %v", err)
			sleepCtx(ctx, time.Second)
		}
	}
}

// Tick handles at most one entry
func (d *Dispatcher) Tick(ctx context.Context) error {
	entry, err := d.outbox.Pop(ctx, d.PopWait)
	if err != nil {
		return err
	}
	if entry == nil {
		return nil
	}

	now := d.Now()
	if entry.NextAt > now.UnixMilli() {
		// The earliest entry is not due, so nothing is. Put it back and wait.
		if err := d.outbox.Push(ctx, *entry); err != nil {
			return fmt.Errorf("re-push entry %s: %w", entry.ID, err)
		}
		untilDue := time.Duration(entry.NextAt-now.UnixMilli()) * time.Millisecond
		wait := d.IdleWait
		if untilDue < wait {
			wait = untilDue
		}
		sleepCtx(ctx, wait)
		return nil
	}

	sendErr := d.sender.Send(ctx, *entry)
	if sendErr == nil {
		log.Debugf("[Outbox] Delivered %s (attempt %d)", entry.ID, entry.Attempt)
		d.count(ctx, counter.WebhooksSent)
		return nil
	}

	failedAt := d.Now()
	next := entry.Retry(0, sendErr.Error())
	if next.Attempt >= MaxAttempts {
		next.DeadAt = failedAt.UnixMilli()
		log.Warnf("[Outbox] Dead-lettering %s after %d attempts: %v", entry.ID, next.Attempt, sendErr)
		d.count(ctx, counter.WebhooksDead)
		return d.outbox.DeadLetter(ctx, next)
	}
	next.NextAt = failedAt.Add(Backoff(next.Attempt)).UnixMilli()
	log.Infof("[Outbox] Delivery of %s failed (attempt %d), retrying in %s: %v", entry.ID, next.Attempt, Backoff(next.Attempt), sendErr)
	d.count(ctx, counter.WebhooksRetried)
	return d.outbox.Push(ctx, next)
}

func (d *Dispatcher) count(ctx context.Context, name string) {
	if d.counters == nil {
		return
	}
	if err := d.counters.Add(ctx, name, 1); err != nil {
		log.Debugf("[Outbox] Counter %s not updated: %v", name, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

package worker

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
	"github.com/SwiftClinic/swiftclinic-sync/app/repository"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/jobqueue"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/metrics/counter"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/saga"
)

// Runner executes the conversion for one job
type Runner interface {
	Run(ctx context.Context, jobID string, cmd models.CommandEnvelope) (*saga.Result, error)
}

// EventPublisher emits terminal job events
type EventPublisher interface {
	Publish(ctx context.Context, ev models.WebhookEvent) error
}

// Loop is a long-running background loop such as the webhook dispatcher
type Loop interface {
	Run(ctx context.Context) error
}

// Worker consumes commands one at a time and runs a saga per command
type Worker struct {
	jobs      repository.JobStore
	queue     jobqueue.Queue
	runner    Runner
	publisher EventPublisher
	counters  counter.Counters
	loops     []Loop

	PopWait time.Duration
	Now     func() time.Time
}

// New creates a worker. counters may be nil; loops run alongside the consumer.
func New(jobs repository.JobStore, queue jobqueue.Queue, runner Runner, publisher EventPublisher, counters counter.Counters, loops ...Loop) *Worker {
	return &Worker{
		jobs:      jobs,
		queue:     queue,
		runner:    runner,
		publisher: publisher,
		counters:  counters,
		loops:     loops,
		PopWait:   jobqueue.DefaultPopWait,
		Now:       time.Now,
	}
}

// Run recovers interrupted jobs, then consumes until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	recovered, err := Recover(ctx, w.jobs)
	if err != nil {
		log.Errorf("[Worker] Crash recovery incomplete: %v", err)
	}
	if recovered > 0 {
		w.count(ctx, counter.JobsRecovered, int64(recovered))
	}
	if _, err := w.queue.RequeueInflight(ctx); err != nil {
		log.Errorf("[Worker] Requeue of in-flight messages failed: %v", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return w.consume(gctx)
	})
	for _, loop := range w.loops {
		g.Go(func() error {
			return loop.Run(gctx)
		})
	}
	return g.Wait()
}

func (w *Worker) consume(ctx context.Context) error {
	log.Info("[Worker] Consumer started")
	for {
		if ctx.Err() != nil {
			log.Info("[Worker] Consumer stopping")
			return nil
		}
		d, err := w.queue.Pop(ctx, w.PopWait)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Errorf("[Worker] Error popping command: %v", err)
			sleepCtx(ctx, time.Second)
			continue
		}
		if d == nil {
			continue
		}
		// A started saga runs to completion even during shutdown.
		w.Handle(context.WithoutCancel(ctx), d)
	}
}

// Handle processes one delivery. Job store failures abandon the message
// unacknowledged so it is redelivered after a restart.
func (w *Worker) Handle(ctx context.Context, d *jobqueue.Delivery) {
	jobID := d.JobID
	job, found, err := w.jobs.Get(ctx, jobID)
	if err != nil {
		log.Errorf("[Worker] Loading job %s failed: %v", jobID, err)
		return
	}
	if !found {
		log.Warnf("[Worker] Dropping message for unknown job %s", jobID)
		w.ack(ctx, d)
		return
	}
	if job.State.IsTerminal() {
		log.Infof("[Worker] Job %s already %s, skipping redelivery", jobID, job.State)
		w.ack(ctx, d)
		return
	}

	if _, err := w.jobs.Update(ctx, jobID, models.JobPatch{State: models.StatePtr(models.JobStateRunning)}); err != nil {
		log.Errorf("[Worker] Marking job %s running failed: %v", jobID, err)
		if errors.Is(err, repository.ErrTerminalState) || errors.Is(err, repository.ErrJobNotFound) {
			w.ack(ctx, d)
		}
		return
	}
	log.Infof("[Worker] Processing job %s (Type: %s)", jobID, d.Payload.CommandType)

	result, runErr := w.runner.Run(ctx, jobID, d.Payload)
	patch, metric := terminalPatch(result, runErr)

	final, err := w.jobs.Update(ctx, jobID, patch)
	if err != nil {
		log.Errorf("[Worker] Recording outcome of job %s failed: %v", jobID, err)
		return
	}
	w.count(ctx, metric, 1)

	ev := models.NewJobEvent(final, d.Payload.ConversationID, w.Now())
	if err := w.publisher.Publish(ctx, ev); err != nil {
		log.Errorf("[Worker] Publishing %s for job %s failed: %v", ev.Event, jobID, err)
	}
	w.ack(ctx, d)
	log.Infof("[Worker] Job %s finished as %s", jobID, final.State)
}

// terminalPatch maps a saga outcome onto the job
func terminalPatch(result *saga.Result, runErr error) (models.JobPatch, string) {
	if runErr == nil {
		return models.JobPatch{
			State:  models.StatePtr(models.JobStateSucceeded),
			Result: result.Map(),
		}, counter.JobsSucceeded
	}

	state, metric := models.JobStateFailed, counter.JobsFailed
	if saga.IsCompensated(runErr) {
		state, metric = models.JobStateRolledBack, counter.JobsRolledBack
	}
	return models.JobPatch{
		State: models.StatePtr(state),
		Error: &models.JobError{Code: saga.CodeOf(runErr), Message: saga.MessageOf(runErr)},
	}, metric
}

func (w *Worker) ack(ctx context.Context, d *jobqueue.Delivery) {
	if err := w.queue.Ack(ctx, d); err != nil {
		log.Errorf("[Worker] Ack for job %s failed: %v", d.JobID, err)
	}
}

func (w *Worker) count(ctx context.Context, name string, delta int64) {
	if w.counters == nil {
		return
	}
	if err := w.counters.Add(ctx, name, delta); err != nil {
		log.Debugf("[Worker] Counter %s not updated: %v", name, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

package bootstrap

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/SwiftClinic/swiftclinic-sync/app/repository"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/cache"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/config"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/csp"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/idempotency"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/jobqueue"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/legacy"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/metrics/counter"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/saga"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/webhook"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/worker"
)

// Components is the object graph shared by the API, the worker and the CLI.
// Queue, gate, outbox and counters live in Redis when REDIS_URL is set and in
// process memory otherwise.
type Components struct {
	Config   *config.RuntimeConfig
	Stores   *repository.Stores
	Redis    *redis.Client
	Gate     idempotency.Gate
	Queue    jobqueue.Queue
	Outbox   webhook.Outbox
	Counters counter.Counters
	Intake   *jobqueue.Intake
}

// Build connects the configured backends
func Build(ctx context.Context, cfg *config.RuntimeConfig) (*Components, error) {
	c := &Components{Config: cfg}

	if cfg.RedisURL != "" {
		client, err := cache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		c.Redis = client
	}

	stores, err := repository.NewFactory(repository.BackendConfig{
		Backend:     repository.Backend(cfg.StoreBackend),
		DatabaseURL: cfg.DatabaseURL,
		RedisURL:    cfg.RedisURL,
		Redis:       c.Redis,
	}).Build(ctx)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("build stores: %w", err)
	}
	c.Stores = stores

	if c.Redis != nil {
		c.Gate = idempotency.NewRedisGate(c.Redis, cfg.IdempotencyTTL)
		c.Queue = jobqueue.NewRedisQueue(c.Redis, stores.Jobs)
		c.Outbox = webhook.NewRedisOutbox(c.Redis)
		c.Counters = counter.NewRedisCounters(c.Redis)
	} else {
		log.Warn("[Bootstrap] REDIS_URL not set: queue, idempotency gate and outbox are in-process only")
		c.Gate = idempotency.NewMemoryGate(cfg.IdempotencyTTL, nil)
		c.Queue = jobqueue.NewMemoryQueue(stores.Jobs)
		c.Outbox = webhook.NewMemoryOutbox()
		c.Counters = counter.NewMemoryCounters()
	}
	c.Intake = jobqueue.NewIntake(c.Gate, c.Queue, c.Counters)
	return c, nil
}

// NewSaga builds the conversion saga with the configured collaborators
func (c *Components) NewSaga() (*saga.AtomicReplace, error) {
	cfg := c.Config
	clinic, err := cfg.Clinic()
	if err != nil {
		return nil, err
	}

	drivers := legacy.NewFactory(legacy.Options{
		Clinic: clinic,
		Credentials: legacy.Credentials{
			Method:         cfg.LegacyAuthMethod,
			CookieBlobPath: cfg.LegacyCookieBlobPath,
			Username:       cfg.LegacyUsername,
			Password:       cfg.LegacyPassword,
		},
		Headless: cfg.Headless,
	})

	var target saga.TargetClient
	if cfg.CSPEnabled() {
		client, err := csp.NewClient(cfg.CSPHost, cfg.CSPAPIKey)
		if err != nil {
			return nil, err
		}
		target = client
	} else {
		log.Warn("[Bootstrap] CSP_HOST/CSP_API_KEY not set: conversions will fail with csp_unavailable")
	}

	return saga.NewAtomicReplace(drivers, target, c.Stores.Conversions, saga.Config{
		ParkingResourceKey: clinic.Parking.DummyResourceKey,
		StepTimeout:        cfg.StepTimeout,
	}), nil
}

// NewWorker assembles the consumer and the webhook dispatcher
func (c *Components) NewWorker() (*worker.Worker, error) {
	runner, err := c.NewSaga()
	if err != nil {
		return nil, err
	}
	publisher := webhook.NewPublisher(c.Outbox, c.Config.WebhookURL, c.Config.WebhookSecret)
	dispatcher := webhook.NewDispatcher(c.Outbox, webhook.NewHTTPSender(c.Config.WebhookTimeout), c.Counters)

	w := worker.New(c.Stores.Jobs, c.Queue, runner, publisher, c.Counters, dispatcher)
	w.PopWait = c.Config.PopWait
	return w, nil
}

// Close releases connections
func (c *Components) Close() {
	if c.Stores != nil {
		if err := c.Stores.Close(); err != nil {
			log.Warnf("[Bootstrap] Closing stores: %v", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			log.Warnf("[Bootstrap] Closing redis: %v", err)
		}
	}
}

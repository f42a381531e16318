package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/jobqueue"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/metrics/counter"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/webhook"
)

// HealthController serves liveness and metrics
type HealthController struct {
	counters counter.Counters
	queue    jobqueue.Queue
	outbox   webhook.Outbox
}

func NewHealthController(counters counter.Counters, queue jobqueue.Queue, outbox webhook.Outbox) *HealthController {
	return &HealthController{counters: counters, queue: queue, outbox: outbox}
}

func (h *HealthController) HandleHealthz(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ok": true})
}

// HandleMetrics renders counters and queue depths as Prometheus text
func (h *HealthController) HandleMetrics(c *fiber.Ctx) error {
	ctx := c.UserContext()
	counters, err := h.counters.Snapshot(ctx)
	if err != nil {
		log.Warnf("[API] Reading counters failed: %v", err)
		counters = map[string]int64{}
	}

	gauges := map[string]int64{}
	if depth, err := h.queue.Depth(ctx); err == nil {
		gauges["queue_depth"] = depth
	}
	if pending, dead, err := h.outbox.Depth(ctx); err == nil {
		gauges["outbox_pending"] = pending
		gauges["outbox_dead_letters"] = dead
	}

	c.Set(fiber.HeaderContentType, "text/plain; version=0.0.4")
	return c.SendString(counter.Render(counters, gauges))
}

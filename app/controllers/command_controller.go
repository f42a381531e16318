package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/SwiftClinic/swiftclinic-sync/app/models"
	"github.com/SwiftClinic/swiftclinic-sync/app/repository"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/jobqueue"
)

// CommandController serves command submission and job lookup
type CommandController struct {
	intake      *jobqueue.Intake
	jobs        repository.JobStore
	conversions repository.ConversionLedger
}

func NewCommandController(intake *jobqueue.Intake, jobs repository.JobStore, conversions repository.ConversionLedger) *CommandController {
	return &CommandController{intake: intake, jobs: jobs, conversions: conversions}
}

// HandleSubmitCommand validates and enqueues a command envelope
func (h *CommandController) HandleSubmitCommand(c *fiber.Ctx) error {
	var cmd models.CommandEnvelope
	if err := c.BodyParser(&cmd); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Malformed JSON body"})
	}

	res, err := h.intake.Submit(c.UserContext(), cmd)
	if err != nil {
		if errors.Is(err, jobqueue.ErrInvalidCommand) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": models.ErrCodeInvalidCommand, "message": err.Error()})
		}
		log.Errorf("[API] Submitting command failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to enqueue command"})
	}

	if res.Duplicate {
		return c.Status(fiber.StatusAccepted).JSON(res)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// HandleGetJob returns the current job record
func (h *CommandController) HandleGetJob(c *fiber.Ctx) error {
	job, found, err := h.jobs.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		log.Errorf("[API] Loading job %s failed: %v", c.Params("id"), err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load job"})
	}
	if !found {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	}
	return c.JSON(job)
}

// HandleListConversions returns the checkpoint trail of a job
func (h *CommandController) HandleListConversions(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, found, err := h.jobs.Get(c.UserContext(), id); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load job"})
	} else if !found {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found"})
	}

	rows, err := h.conversions.ListByJob(c.UserContext(), id)
	if err != nil {
		log.Errorf("[API] Loading checkpoints of %s failed: %v", id, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "Failed to load checkpoints"})
	}
	return c.JSON(fiber.Map{"job_id": id, "checkpoints": rows})
}

package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/SwiftClinic/swiftclinic-sync/app/controllers"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/bootstrap"
)

// NewApplication builds the ingress fiber app on top of the shared components
func NewApplication(c *bootstrap.Components) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:   "swiftclinic-sync",
		BodyLimit: 1 << 20,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	commands := controllers.NewCommandController(c.Intake, c.Stores.Jobs, c.Stores.Conversions)
	health := controllers.NewHealthController(c.Counters, c.Queue, c.Outbox)

	InstallRouter(app,
		NewHealthRouter(health),
		NewApiRouter(commands, c.Config.JWTSecret),
	)
	return app
}

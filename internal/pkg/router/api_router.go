package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/SwiftClinic/swiftclinic-sync/app/controllers"
	"github.com/SwiftClinic/swiftclinic-sync/internal/pkg/middleware"
)

type ApiRouter struct {
	commands  *controllers.CommandController
	jwtSecret string
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	v1 := app.Group("/v1", middleware.JWTAuthMiddleware(h.jwtSecret))
	v1.Post("/commands", h.commands.HandleSubmitCommand)
	v1.Get("/jobs/:id", h.commands.HandleGetJob)
	v1.Get("/jobs/:id/conversions", h.commands.HandleListConversions)
}

func NewApiRouter(commands *controllers.CommandController, jwtSecret string) *ApiRouter {
	return &ApiRouter{commands: commands, jwtSecret: jwtSecret}
}

type HealthRouter struct {
	health *controllers.HealthController
}

func (h HealthRouter) InstallRouter(app *fiber.App) {
	app.Get("/healthz", h.health.HandleHealthz)
	app.Get("/metrics", h.health.HandleMetrics)
}

func NewHealthRouter(health *controllers.HealthController) *HealthRouter {
	return &HealthRouter{health: health}
}

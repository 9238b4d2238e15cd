package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spec-kit/patient-inbox/internal/api/http/handlers"
	"github.com/spec-kit/patient-inbox/internal/auth"
	"github.com/spec-kit/patient-inbox/internal/domain"
	"github.com/spec-kit/patient-inbox/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Staff          *handlers.StaffHandler
	Conversations  *handlers.ConversationsHandler
	Triage         *handlers.TriageHandler
	Webhooks       *handlers.WebhookHandler
	Settings       *handlers.SettingsHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        *observability.Metrics
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if reg := cfg.Metrics.Registry(); reg != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}

	app.Post("/webhooks/inbound", cfg.Webhooks.Inbound)

	authGroup := app.Group("/auth")
	authGroup.Post("/staff/login", cfg.Staff.Login)

	requireStaff := []fiber.Handler{cfg.AuthMiddleware.Handle, auth.RequireStaffRole()}
	requireAdmin := append(append([]fiber.Handler{}, requireStaff...), auth.RequireStaffRole(domain.StaffRoleAdmin))

	authGroup.Post("/password/change", append(requireStaff, cfg.Staff.ChangePassword)...)

	conversations := app.Group("/conversations", requireStaff...)
	conversations.Get("/", cfg.Conversations.List)
	conversations.Get("/counts", cfg.Conversations.Counts)
	conversations.Get("/:id", cfg.Conversations.Get)
	conversations.Post("/:id/messages", cfg.Conversations.SendMessage)
	conversations.Post("/:id/messages/:messageId/retry", cfg.Conversations.RetryMessage)
	conversations.Post("/:id/close", cfg.Conversations.Close)
	conversations.Post("/:id/snooze", cfg.Conversations.Snooze)
	conversations.Post("/:id/reopen", cfg.Conversations.Reopen)
	conversations.Post("/:id/read", cfg.Conversations.MarkRead)
	conversations.Post("/:id/star", cfg.Conversations.ToggleStar)

	app.Post("/triage/classify", append(requireStaff, cfg.Triage.Classify)...)

	app.Get("/settings/auto-close", append(requireStaff, cfg.Settings.GetAutoClose)...)
	app.Put("/settings/auto-close", append(requireAdmin, cfg.Settings.UpdateAutoClose)...)

	admin := app.Group("/staff", requireAdmin...)
	admin.Get("/", cfg.Staff.ListStaff)
	admin.Post("/", cfg.Staff.CreateStaff)
}

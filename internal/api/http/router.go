package http

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/dwusrc/dwu-src-web-application-sub001/internal/api/http/handlers"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/auth"
	"github.com/dwusrc/dwu-src-web-application-sub001/internal/domain"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Departments    *handlers.DepartmentsHandler
	AuthMiddleware *auth.AuthMiddleware
	Metrics        http.Handler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics))
	}

	api := app.Group("/api/v1", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	api.Get("/departments", cfg.Departments.List)

	tickets := api.Group("/tickets")
	tickets.Post("/", auth.RequireRole(domain.RoleStudent, domain.RoleAdmin), cfg.Tickets.CreateTicket)
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Patch("/:id", cfg.Tickets.UpdateTicket)
	tickets.Get("/:id/history", cfg.Tickets.History)

	tickets.Post("/:id/claim", auth.RequireRole(domain.RoleSRC), cfg.Tickets.Claim)
	tickets.Get("/:id/assignees", auth.RequireStaff(), cfg.Tickets.EligibleAssignees)
	tickets.Post("/:id/assignment", auth.RequireStaff(), cfg.Tickets.Assign)
	tickets.Delete("/:id/assignment", auth.RequireStaff(), cfg.Tickets.Unassign)
	tickets.Put("/:id/status", auth.RequireStaff(), cfg.Tickets.SetStatus)
	tickets.Put("/:id/priority", auth.RequireStaff(), cfg.Tickets.SetPriority)
	tickets.Put("/:id/response", auth.RequireStaff(), cfg.Tickets.SetResponse)
}

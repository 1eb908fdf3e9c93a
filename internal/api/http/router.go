package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/spec-kit/repair-service/internal/api/http/handlers"
	"github.com/spec-kit/repair-service/internal/auth"
	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/observability"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Tickets        *handlers.TicketsHandler
	Deliveries     *handlers.DeliveriesHandler
	Reports        *handlers.ReportsHandler
	Contacts       *handlers.ContactsHandler
	Metrics        *observability.Metrics
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(cfg.Metrics.Handler()))
	}

	operators := auth.RequireRole(domain.RoleAdmin, domain.RoleSystem)

	api := app.Group("", cfg.AuthMiddleware.Handle, auth.RequireRole())

	tickets := api.Group("/tickets")
	tickets.Post("/", auth.RequireRole(domain.RoleAdmin, domain.RoleSystem, domain.RoleTechnician, domain.RolePartner), cfg.Tickets.CreateTicket)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Post("/:id/transitions", cfg.Tickets.Transition)
	tickets.Get("/:id/history", cfg.Tickets.History)
	tickets.Get("/:id/events", cfg.Tickets.ListEvents)
	tickets.Post("/:id/parts-orders", cfg.Tickets.OpenPartsOrder)
	tickets.Get("/:id/parts-orders", cfg.Tickets.ListPartsOrders)
	tickets.Get("/:id/deliveries", cfg.Deliveries.TicketDeliveries)

	evts := api.Group("/events")
	evts.Get("/:id/deliveries", cfg.Deliveries.EventDeliveries)
	evts.Post("/:id/dispatch", operators, cfg.Deliveries.Dispatch)

	reports := api.Group("/reports")
	reports.Get("/:supplier/:date", cfg.Reports.Get)
	reports.Post("/:supplier/:date/run", operators, cfg.Reports.Run)

	contacts := api.Group("/contacts", operators)
	contacts.Get("/:role/:ref", cfg.Contacts.Get)
	contacts.Put("/:role/:ref", cfg.Contacts.Upsert)
}

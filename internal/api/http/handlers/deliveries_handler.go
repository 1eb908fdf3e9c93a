package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/repair-service/internal/api/dto"
	"github.com/spec-kit/repair-service/internal/notification"
)

// DeliveriesHandler exposes delivery history and replay.
type DeliveriesHandler struct {
	dispatcher *notification.Dispatcher
}

// NewDeliveriesHandler constructs handler.
func NewDeliveriesHandler(dispatcher *notification.Dispatcher) *DeliveriesHandler {
	return &DeliveriesHandler{dispatcher: dispatcher}
}

// TicketDeliveries GET /tickets/:id/deliveries.
func (h *DeliveriesHandler) TicketDeliveries(c *fiber.Ctx) error {
	attempts, err := h.dispatcher.TicketDeliveryHistory(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewDeliveryAttempts(attempts)})
}

// EventDeliveries GET /events/:id/deliveries.
func (h *DeliveriesHandler) EventDeliveries(c *fiber.Ctx) error {
	attempts, err := h.dispatcher.DeliveryHistory(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewDeliveryAttempts(attempts)})
}

// Dispatch POST /events/:id/dispatch. Already delivered triples are skipped.
func (h *DeliveriesHandler) Dispatch(c *fiber.Ctx) error {
	attempts, err := h.dispatcher.Dispatch(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewDeliveryAttempts(attempts)})
}

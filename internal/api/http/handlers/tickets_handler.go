package handlers

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/repair-service/internal/api/dto"
	"github.com/spec-kit/repair-service/internal/auth"
	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/service"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

// TicketsHandler manages ticket lifecycle endpoints.
type TicketsHandler struct {
	service *service.TicketService
}

// NewTicketsHandler constructs handler.
func NewTicketsHandler(ticketService *service.TicketService) *TicketsHandler {
	return &TicketsHandler{service: ticketService}
}

// CreateTicket POST /tickets.
func (h *TicketsHandler) CreateTicket(c *fiber.Ctx) error {
	var req dto.CreateTicketRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	ticket, err := h.service.CreateTicket(c.UserContext(), service.TicketCreateInput{
		ClientID:     req.ClientID,
		TechnicianID: req.TechnicianID,
		PartnerID:    req.PartnerID,
		SupplierKind: req.SupplierKind,
		Appliance:    req.Appliance,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewTicketResponse(ticket, service.AllowedTargets(ticket.Status))})
}

// GetTicket GET /tickets/:id.
func (h *TicketsHandler) GetTicket(c *fiber.Ctx) error {
	ticket, err := h.service.GetTicket(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewTicketResponse(ticket, service.AllowedTargets(ticket.Status))})
}

// Transition POST /tickets/:id/transitions.
func (h *TicketsHandler) Transition(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.TransitionRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.Target == "" {
		return apperrors.NewValidationError("target required", nil)
	}

	var opts []service.TransitionOption
	if req.Override {
		opts = append(opts, service.WithOverride())
	}
	if note := strings.TrimSpace(req.Note); note != "" {
		opts = append(opts, service.WithNote(note))
	}
	if req.ActualCost != nil {
		opts = append(opts, service.WithActualCost(*req.ActualCost))
	}

	result, err := h.service.Transition(c.UserContext(), c.Params("id"), req.Target, actor, opts...)
	if err != nil {
		return err
	}
	resp := dto.TransitionResponse{
		Ticket: dto.NewTicketResponse(result.Ticket, service.AllowedTargets(result.Ticket.Status)),
		Event:  dto.NewEventResponse(result.Event),
	}
	if result.PartsOrder != nil {
		order := dto.NewPartsOrderResponse(result.PartsOrder)
		resp.PartsOrder = &order
	}
	return c.JSON(fiber.Map{"data": resp})
}

// History GET /tickets/:id/history.
func (h *TicketsHandler) History(c *fiber.Ctx) error {
	changes, err := h.service.StatusHistory(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewStatusChanges(changes)})
}

// ListEvents GET /tickets/:id/events.
func (h *TicketsHandler) ListEvents(c *fiber.Ctx) error {
	evts, err := h.service.ListEvents(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.EventResponse, 0, len(evts))
	for i := range evts {
		items = append(items, dto.NewEventResponse(&evts[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

// OpenPartsOrder POST /tickets/:id/parts-orders.
func (h *TicketsHandler) OpenPartsOrder(c *fiber.Ctx) error {
	actor, err := actorFrom(c)
	if err != nil {
		return err
	}
	var req dto.CreatePartsOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	order, err := h.service.OpenPartsOrder(c.UserContext(), c.Params("id"), service.PartsOrderInput{
		Description:   req.Description,
		EstimatedCost: req.EstimatedCost,
	}, actor)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewPartsOrderResponse(order)})
}

// ListPartsOrders GET /tickets/:id/parts-orders.
func (h *TicketsHandler) ListPartsOrders(c *fiber.Ctx) error {
	orders, err := h.service.ListPartsOrders(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	items := make([]dto.PartsOrderResponse, 0, len(orders))
	for i := range orders {
		items = append(items, dto.NewPartsOrderResponse(&orders[i]))
	}
	return c.JSON(fiber.Map{"data": items})
}

func actorFrom(c *fiber.Ctx) (domain.Actor, error) {
	actor, ok := auth.ActorFromContext(c)
	if !ok {
		return domain.Actor{}, apperrors.NewUnauthorized("authentication required")
	}
	return actor, nil
}

package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/repair-service/internal/api/dto"
	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/repository"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

// ContactsHandler maintains the notification contact directory.
type ContactsHandler struct {
	contacts repository.ContactRepository
}

// NewContactsHandler constructs handler.
func NewContactsHandler(contacts repository.ContactRepository) *ContactsHandler {
	return &ContactsHandler{contacts: contacts}
}

// Get GET /contacts/:role/:ref.
func (h *ContactsHandler) Get(c *fiber.Ctx) error {
	contact, err := h.contacts.Get(c.UserContext(), domain.Role(c.Params("role")), c.Params("ref"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewContactResponse(contact)})
}

// Upsert PUT /contacts/:role/:ref.
func (h *ContactsHandler) Upsert(c *fiber.Ctx) error {
	role := domain.Role(c.Params("role"))
	switch role {
	case domain.RoleClient, domain.RoleTechnician, domain.RolePartner, domain.RoleSupplier:
	default:
		return apperrors.NewValidationError("unknown contact role", map[string]any{"role": role})
	}
	var req dto.ContactRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	contact := &domain.Contact{
		Role:  role,
		Ref:   c.Params("ref"),
		Name:  strings.TrimSpace(req.Name),
		Phone: strings.TrimSpace(req.Phone),
		Email: strings.TrimSpace(req.Email),
	}
	if contact.Phone == "" && contact.Email == "" {
		return apperrors.NewValidationError("phone or email required", nil)
	}
	if err := h.contacts.Upsert(c.UserContext(), contact); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewContactResponse(contact)})
}

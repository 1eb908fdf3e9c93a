package auth

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/repair-service/internal/domain"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

// KnownRole reports whether role may appear in a token.
func KnownRole(role domain.Role) bool {
	switch role {
	case domain.RoleAdmin, domain.RoleTechnician, domain.RoleClient, domain.RolePartner,
		domain.RoleSupplierA, domain.RoleSupplierB, domain.RoleSystem:
		return true
	}
	return false
}

// RequireRole ensures the caller has one of the allowed roles.
func RequireRole(allowed ...domain.Role) fiber.Handler {
	allowedSet := make(map[domain.Role]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[role] = struct{}{}
	}

	return func(c *fiber.Ctx) error {
		actor, ok := ActorFromContext(c)
		if !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		if len(allowedSet) == 0 {
			return c.Next()
		}
		if _, exists := allowedSet[actor.Role]; !exists {
			return apperrors.NewDomainError(apperrors.CodeForbiddenActor, "insufficient role", http.StatusForbidden, map[string]any{
				"role": string(actor.Role),
			})
		}
		return c.Next()
	}
}

// RolePolicy is the edge permission table. Admin and system may take any
// edge; other roles are limited by target status and their relation to the ticket.
type RolePolicy struct {
	targets map[domain.TicketStatus][]domain.Role
}

// DefaultRolePolicy returns the standard permission table.
func DefaultRolePolicy() *RolePolicy {
	repair := []domain.Role{domain.RoleTechnician}
	return &RolePolicy{targets: map[domain.TicketStatus][]domain.Role{
		domain.TicketStatusDiagnosed:     repair,
		domain.TicketStatusAwaitingParts: repair,
		domain.TicketStatusPartsOrdered:  repair,
		domain.TicketStatusPartsReceived: {domain.RoleTechnician, domain.RoleSupplierA, domain.RoleSupplierB},
		domain.TicketStatusInRepair:      repair,
		domain.TicketStatusCompleted:     repair,
		domain.TicketStatusBilled:        {domain.RolePartner},
		domain.TicketStatusCancelled:     {domain.RoleClient, domain.RolePartner},
	}}
}

// IsPermitted implements service.Authorizer.
func (p *RolePolicy) IsPermitted(_ context.Context, actor domain.Actor, ticket *domain.ServiceTicket, target domain.TicketStatus) bool {
	if actor.Role == domain.RoleAdmin || actor.Role == domain.RoleSystem {
		return true
	}
	allowed := false
	for _, role := range p.targets[target] {
		if role == actor.Role {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	return related(actor, ticket)
}

// related checks the actor is a party to the ticket.
func related(actor domain.Actor, ticket *domain.ServiceTicket) bool {
	switch actor.Role {
	case domain.RoleTechnician:
		return ticket.TechnicianID == nil || *ticket.TechnicianID == actor.ID
	case domain.RoleClient:
		return ticket.ClientID == actor.ID
	case domain.RolePartner:
		return ticket.PartnerID != nil && *ticket.PartnerID == actor.ID
	case domain.RoleSupplierA:
		return ticket.SupplierKind == domain.SupplierA
	case domain.RoleSupplierB:
		return ticket.SupplierKind == domain.SupplierB
	}
	return false
}

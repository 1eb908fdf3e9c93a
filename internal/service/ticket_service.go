package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/events"
	"github.com/spec-kit/repair-service/internal/lock"
	"github.com/spec-kit/repair-service/internal/observability"
	"github.com/spec-kit/repair-service/internal/repository"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

// Authorizer decides whether actor may move ticket to target.
type Authorizer interface {
	IsPermitted(ctx context.Context, actor domain.Actor, ticket *domain.ServiceTicket, target domain.TicketStatus) bool
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, actor domain.Actor, ticket *domain.ServiceTicket, target domain.TicketStatus) bool

// IsPermitted calls f.
func (f AuthorizerFunc) IsPermitted(ctx context.Context, actor domain.Actor, ticket *domain.ServiceTicket, target domain.TicketStatus) bool {
	return f(ctx, actor, ticket, target)
}

// TicketService owns ticket and parts order mutation.
type TicketService struct {
	tickets    repository.TicketRepository
	orders     repository.PartsOrderRepository
	events     repository.EventRepository
	locker     lock.Locker
	authorizer Authorizer
	metrics    *observability.Metrics
	logger     *zap.Logger
	onCommit   func(domain.NotificationEvent)
	now        func() time.Time
}

// TicketDependencies bundles collaborators for ticket service.
type TicketDependencies struct {
	Store      repository.Store
	Locker     lock.Locker
	Authorizer Authorizer
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	// OnCommit runs after each committed transition, outside the ticket lock.
	// The outbox relay uses it to pick the event up immediately.
	OnCommit func(domain.NotificationEvent)
	Clock    func() time.Time
}

// TicketCreateInput describes ticket intake.
type TicketCreateInput struct {
	ClientID     string
	TechnicianID *string
	PartnerID    *string
	SupplierKind domain.SupplierKind
	Appliance    string
}

// PartsOrderInput describes a new parts order.
type PartsOrderInput struct {
	Description   string
	EstimatedCost decimal.Decimal
}

// NewTicketService constructs the service.
func NewTicketService(deps TicketDependencies) *TicketService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	clock := deps.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	authorizer := deps.Authorizer
	if authorizer == nil {
		authorizer = AuthorizerFunc(func(context.Context, domain.Actor, *domain.ServiceTicket, domain.TicketStatus) bool { return false })
	}
	return &TicketService{
		tickets:    deps.Store.Tickets,
		orders:     deps.Store.PartsOrders,
		events:     deps.Store.Events,
		locker:     locker,
		authorizer: authorizer,
		metrics:    deps.Metrics,
		logger:     logger.Named("lifecycle"),
		onCommit:   deps.OnCommit,
		now:        clock,
	}
}

// CreateTicket opens a ticket in intake. No event is emitted.
func (s *TicketService) CreateTicket(ctx context.Context, input TicketCreateInput) (*domain.ServiceTicket, error) {
	input.ClientID = strings.TrimSpace(input.ClientID)
	input.Appliance = strings.TrimSpace(input.Appliance)
	if input.SupplierKind == "" {
		input.SupplierKind = domain.SupplierNone
	}

	details := map[string]any{}
	if input.ClientID == "" {
		details["client_id"] = "required"
	}
	if input.Appliance == "" {
		details["appliance"] = "required"
	}
	if !input.SupplierKind.Valid() {
		details["supplier_kind"] = "unknown supplier kind"
	}
	if input.PartnerID != nil && *input.PartnerID != "" && input.SupplierKind.HasSupplier() {
		details["partner_id"] = "partner service excludes a supplier kind"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("invalid ticket", details)
	}

	now := s.now()
	ticket := &domain.ServiceTicket{
		ID:               uuid.NewString(),
		Status:           domain.TicketStatusIntake,
		ClientID:         input.ClientID,
		TechnicianID:     nonEmpty(input.TechnicianID),
		PartnerID:        nonEmpty(input.PartnerID),
		SupplierKind:     input.SupplierKind,
		Appliance:        input.Appliance,
		CreatedAt:        now,
		LastTransitionAt: now,
	}
	if err := s.tickets.Create(ctx, ticket); err != nil {
		return nil, err
	}
	s.logger.Info("ticket created", zap.String("ticket_id", ticket.ID), zap.String("supplier_kind", string(ticket.SupplierKind)))
	return ticket, nil
}

// OpenPartsOrder creates a pending parts order on a ticket awaiting parts.
// Opening an order requires the same permission as ordering it.
func (s *TicketService) OpenPartsOrder(ctx context.Context, ticketID string, input PartsOrderInput, actor domain.Actor) (*domain.PartsOrder, error) {
	input.Description = strings.TrimSpace(input.Description)
	if input.Description == "" {
		return nil, apperrors.NewValidationError("invalid parts order", map[string]any{"description": "required"})
	}
	if input.EstimatedCost.IsNegative() {
		return nil, apperrors.NewValidationError("invalid parts order", map[string]any{"estimated_cost": "must not be negative"})
	}

	release, err := s.locker.Lock(ctx, lock.TicketKey(ticketID))
	if err != nil {
		return nil, err
	}
	defer release()

	ticket, err := s.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.Status != domain.TicketStatusAwaitingParts {
		return nil, apperrors.NewConflict("parts can only be ordered while awaiting parts", map[string]any{
			"ticket_id": ticketID,
			"status":    ticket.Status,
		})
	}
	if !s.authorizer.IsPermitted(ctx, actor, ticket, domain.TicketStatusPartsOrdered) {
		return nil, apperrors.NewForbiddenActor(actor.ID, string(actor.Role), string(domain.TicketStatusPartsOrdered))
	}

	now := s.now()
	order := &domain.PartsOrder{
		ID:            uuid.NewString(),
		TicketID:      ticketID,
		Description:   input.Description,
		OrderedBy:     actor.ID,
		Status:        domain.PartsOrderPending,
		EstimatedCost: input.EstimatedCost.Round(2),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, err
	}
	s.logger.Info("parts order opened", zap.String("ticket_id", ticketID), zap.String("parts_order_id", order.ID))
	return order, nil
}

// GetTicket returns the current ticket state.
func (s *TicketService) GetTicket(ctx context.Context, ticketID string) (*domain.ServiceTicket, error) {
	return s.tickets.GetByID(ctx, ticketID)
}

// GetPartsOrder returns one parts order.
func (s *TicketService) GetPartsOrder(ctx context.Context, orderID string) (*domain.PartsOrder, error) {
	return s.orders.GetByID(ctx, orderID)
}

// ListPartsOrders lists every parts order of a ticket, oldest first.
func (s *TicketService) ListPartsOrders(ctx context.Context, ticketID string) ([]domain.PartsOrder, error) {
	if _, err := s.tickets.GetByID(ctx, ticketID); err != nil {
		return nil, err
	}
	return s.orders.ListByTicket(ctx, ticketID)
}

// ListEvents lists the notification events of a ticket in commit order.
func (s *TicketService) ListEvents(ctx context.Context, ticketID string) ([]domain.NotificationEvent, error) {
	if _, err := s.tickets.GetByID(ctx, ticketID); err != nil {
		return nil, err
	}
	return s.events.ListByTicket(ctx, ticketID)
}

// StatusHistory reconstructs the committed walk of a ticket from its events.
func (s *TicketService) StatusHistory(ctx context.Context, ticketID string) ([]domain.StatusChange, error) {
	evts, err := s.ListEvents(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	history := make([]domain.StatusChange, 0, len(evts))
	for _, e := range evts {
		history = append(history, domain.StatusChange{
			EventID:    e.ID,
			Kind:       e.Kind,
			From:       domain.TicketStatus(e.Payload[events.KeyFromStatus]),
			To:         domain.TicketStatus(e.Payload[events.KeyToStatus]),
			ActorID:    e.Payload[events.KeyActorID],
			ActorRole:  domain.Role(e.Payload[events.KeyActorRole]),
			OccurredAt: e.OccurredAt,
		})
	}
	return history, nil
}

func nonEmpty(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

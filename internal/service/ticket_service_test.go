package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spec-kit/repair-service/internal/channels"
	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/notification"
	"github.com/spec-kit/repair-service/internal/repository"
	"github.com/spec-kit/repair-service/internal/repository/memory"
	"github.com/spec-kit/repair-service/internal/templates"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

var (
	technician = domain.Actor{ID: "tech-1", Role: domain.RoleTechnician}
	allowAll   = AuthorizerFunc(func(context.Context, domain.Actor, *domain.ServiceTicket, domain.TicketStatus) bool { return true })
)

func newService(t *testing.T, authz Authorizer) (*TicketService, repository.Store) {
	t.Helper()
	repos := memory.NewStore().Repositories()
	var tick int64
	clock := func() time.Time {
		tick++
		return time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC).Add(time.Duration(tick) * time.Minute)
	}
	svc := NewTicketService(TicketDependencies{Store: repos, Authorizer: authz, Clock: clock})
	return svc, repos
}

func createTicket(t *testing.T, svc *TicketService, supplier domain.SupplierKind) *domain.ServiceTicket {
	t.Helper()
	tech := technician.ID
	ticket, err := svc.CreateTicket(context.Background(), TicketCreateInput{
		ClientID:     "client-1",
		TechnicianID: &tech,
		SupplierKind: supplier,
		Appliance:    "fridge",
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}

// seedAt stores a ticket directly in the given status.
func seedAt(t *testing.T, repos repository.Store, id string, status domain.TicketStatus) {
	t.Helper()
	now := time.Now().UTC()
	if err := repos.Tickets.Create(context.Background(), &domain.ServiceTicket{
		ID: id, Status: status, ClientID: "c", SupplierKind: domain.SupplierNone,
		Appliance: "oven", CreatedAt: now, LastTransitionAt: now,
	}); err != nil {
		t.Fatalf("seed ticket: %v", err)
	}
}

func mustTransition(t *testing.T, svc *TicketService, id string, to domain.TicketStatus, opts ...TransitionOption) *TransitionResult {
	t.Helper()
	res, err := svc.Transition(context.Background(), id, to, technician, opts...)
	if err != nil {
		t.Fatalf("transition to %s: %v", to, err)
	}
	return res
}

func openOrder(t *testing.T, svc *TicketService, id string) *domain.PartsOrder {
	t.Helper()
	order, err := svc.OpenPartsOrder(context.Background(), id, PartsOrderInput{
		Description:   "compressor relay",
		EstimatedCost: decimal.RequireFromString("18.40"),
	}, technician)
	if err != nil {
		t.Fatalf("open parts order: %v", err)
	}
	return order
}

func TestFullWalkEmitsOneEventPerTransition(t *testing.T) {
	svc, _ := newService(t, allowAll)
	ticket := createTicket(t, svc, domain.SupplierA)
	ctx := context.Background()

	mustTransition(t, svc, ticket.ID, domain.TicketStatusDiagnosed)
	mustTransition(t, svc, ticket.ID, domain.TicketStatusAwaitingParts)
	openOrder(t, svc, ticket.ID)
	mustTransition(t, svc, ticket.ID, domain.TicketStatusPartsOrdered)
	mustTransition(t, svc, ticket.ID, domain.TicketStatusPartsReceived, WithActualCost(decimal.RequireFromString("17.99")))
	mustTransition(t, svc, ticket.ID, domain.TicketStatusInRepair)
	mustTransition(t, svc, ticket.ID, domain.TicketStatusAwaitingParts)
	openOrder(t, svc, ticket.ID)
	mustTransition(t, svc, ticket.ID, domain.TicketStatusPartsOrdered)
	mustTransition(t, svc, ticket.ID, domain.TicketStatusPartsReceived)
	mustTransition(t, svc, ticket.ID, domain.TicketStatusInRepair)
	mustTransition(t, svc, ticket.ID, domain.TicketStatusCompleted)
	mustTransition(t, svc, ticket.ID, domain.TicketStatusBilled, WithNote("paid in full"))

	history, err := svc.StatusHistory(ctx, ticket.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 11 {
		t.Fatalf("expected 11 events, got %d", len(history))
	}
	prev := domain.TicketStatusIntake
	for i, step := range history {
		if step.From != prev {
			t.Fatalf("step %d: expected from %s, got %s", i, prev, step.From)
		}
		if !CanTransition(step.From, step.To) {
			t.Fatalf("step %d: %s -> %s is not an edge", i, step.From, step.To)
		}
		prev = step.To
	}

	wantKinds := map[int]domain.EventKind{
		0:  domain.EventStatusChanged,
		1:  domain.EventPartsNeeded,
		2:  domain.EventPartsOrdered,
		3:  domain.EventPartsReceived,
		5:  domain.EventAdditionalPartsNeeded,
		9:  domain.EventServiceCompleted,
		10: domain.EventServiceBilled,
	}
	for i, kind := range wantKinds {
		if history[i].Kind != kind {
			t.Fatalf("step %d: expected kind %s, got %s", i, kind, history[i].Kind)
		}
	}

	orders, _ := svc.ListPartsOrders(ctx, ticket.ID)
	if len(orders) != 2 {
		t.Fatalf("expected 2 parts orders, got %d", len(orders))
	}
	for _, o := range orders {
		if o.Status != domain.PartsOrderReceived || o.OrderedAt == nil || o.ReceivedAt == nil {
			t.Fatalf("expected received order with timestamps, got %+v", o)
		}
	}
	if orders[0].ActualCost == nil || orders[0].ActualCost.String() != "17.99" {
		t.Fatalf("expected actual cost 17.99, got %v", orders[0].ActualCost)
	}
}

func TestEveryIllegalEdgeIsRejected(t *testing.T) {
	svc, repos := newService(t, allowAll)
	ctx := context.Background()

	for _, from := range domain.AllTicketStatuses {
		for _, to := range domain.AllTicketStatuses {
			if CanTransition(from, to) {
				continue
			}
			id := string(from) + "->" + string(to)
			seedAt(t, repos, id, from)

			_, err := svc.Transition(ctx, id, to, technician)
			if !errors.Is(err, apperrors.ErrInvalidTransition) {
				t.Fatalf("%s: expected invalid transition, got %v", id, err)
			}
			stored, _ := repos.Tickets.GetByID(ctx, id)
			if stored.Status != from {
				t.Fatalf("%s: expected status to stay %s, got %s", id, from, stored.Status)
			}
			evts, _ := repos.Events.ListByTicket(ctx, id)
			if len(evts) != 0 {
				t.Fatalf("%s: expected no events, got %d", id, len(evts))
			}
		}
	}
}

func TestCompletedFromPartsOrderedFailsWithoutSideEffects(t *testing.T) {
	svc, repos := newService(t, allowAll)
	ctx := context.Background()
	ticket := createTicket(t, svc, domain.SupplierA)
	mustTransition(t, svc, ticket.ID, domain.TicketStatusDiagnosed)
	mustTransition(t, svc, ticket.ID, domain.TicketStatusAwaitingParts)
	openOrder(t, svc, ticket.ID)
	mustTransition(t, svc, ticket.ID, domain.TicketStatusPartsOrdered)

	before, _ := repos.Events.ListByTicket(ctx, ticket.ID)
	_, err := svc.Transition(ctx, ticket.ID, domain.TicketStatusCompleted, technician)
	if !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	after, _ := repos.Events.ListByTicket(ctx, ticket.ID)
	if len(after) != len(before) {
		t.Fatalf("expected no new events, got %d -> %d", len(before), len(after))
	}
	attempts, _ := repos.Deliveries.ListByTicket(ctx, ticket.ID)
	if len(attempts) != 0 {
		t.Fatalf("expected zero delivery attempts, got %d", len(attempts))
	}
}

func TestPartsOrderedRequiresPendingOrder(t *testing.T) {
	svc, _ := newService(t, allowAll)
	ticket := createTicket(t, svc, domain.SupplierNone)
	mustTransition(t, svc, ticket.ID, domain.TicketStatusDiagnosed)
	mustTransition(t, svc, ticket.ID, domain.TicketStatusAwaitingParts)

	_, err := svc.Transition(context.Background(), ticket.ID, domain.TicketStatusPartsOrdered, technician)
	if !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition without pending order, got %v", err)
	}
}

func TestSecondOpenPartsOrderConflicts(t *testing.T) {
	svc, _ := newService(t, allowAll)
	ticket := createTicket(t, svc, domain.SupplierNone)
	mustTransition(t, svc, ticket.ID, domain.TicketStatusDiagnosed)
	mustTransition(t, svc, ticket.ID, domain.TicketStatusAwaitingParts)
	openOrder(t, svc, ticket.ID)

	_, err := svc.OpenPartsOrder(context.Background(), ticket.ID, PartsOrderInput{Description: "belt"}, technician)
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestOpenPartsOrderOutsideAwaitingParts(t *testing.T) {
	svc, _ := newService(t, allowAll)
	ticket := createTicket(t, svc, domain.SupplierNone)
	_, err := svc.OpenPartsOrder(context.Background(), ticket.ID, PartsOrderInput{Description: "belt"}, technician)
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict in intake, got %v", err)
	}
}

func TestCancelCancelsOpenOrder(t *testing.T) {
	svc, _ := newService(t, allowAll)
	ctx := context.Background()
	ticket := createTicket(t, svc, domain.SupplierB)
	mustTransition(t, svc, ticket.ID, domain.TicketStatusDiagnosed)
	mustTransition(t, svc, ticket.ID, domain.TicketStatusAwaitingParts)
	order := openOrder(t, svc, ticket.ID)
	mustTransition(t, svc, ticket.ID, domain.TicketStatusPartsOrdered)

	res := mustTransition(t, svc, ticket.ID, domain.TicketStatusCancelled)
	if res.Event.Kind != domain.EventServiceCancelled {
		t.Fatalf("expected service-cancelled, got %s", res.Event.Kind)
	}
	stored, _ := svc.GetPartsOrder(ctx, order.ID)
	if stored.Status != domain.PartsOrderCancelled {
		t.Fatalf("expected cancelled order, got %s", stored.Status)
	}
}

func TestForbiddenActor(t *testing.T) {
	deny := AuthorizerFunc(func(_ context.Context, a domain.Actor, _ *domain.ServiceTicket, _ domain.TicketStatus) bool {
		return a.Role == domain.RoleAdmin
	})
	svc, repos := newService(t, deny)
	ticket := createTicket(t, svc, domain.SupplierNone)

	_, err := svc.Transition(context.Background(), ticket.ID, domain.TicketStatusDiagnosed, domain.Actor{ID: "c", Role: domain.RoleClient})
	if !errors.Is(err, apperrors.ErrForbiddenActor) {
		t.Fatalf("expected forbidden actor, got %v", err)
	}
	evts, _ := repos.Events.ListByTicket(context.Background(), ticket.ID)
	if len(evts) != 0 {
		t.Fatalf("expected no events, got %d", len(evts))
	}
}

func TestTransitionUnknownTicket(t *testing.T) {
	svc, _ := newService(t, allowAll)
	_, err := svc.Transition(context.Background(), "nope", domain.TicketStatusDiagnosed, technician)
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateTicketValidation(t *testing.T) {
	svc, _ := newService(t, allowAll)
	partner := "p-1"
	_, err := svc.CreateTicket(context.Background(), TicketCreateInput{
		ClientID:     "c",
		PartnerID:    &partner,
		SupplierKind: domain.SupplierA,
		Appliance:    "dryer",
	})
	var de *apperrors.DomainError
	if !errors.As(err, &de) || de.Code != apperrors.CodeValidationFailed {
		t.Fatalf("expected validation failure, got %v", err)
	}
	if _, ok := de.Details["partner_id"]; !ok {
		t.Fatalf("expected partner_id detail, got %v", de.Details)
	}
}

func TestConcurrentTransitionsOnOneTicket(t *testing.T) {
	svc, repos := newService(t, allowAll)
	ticket := createTicket(t, svc, domain.SupplierNone)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Transition(context.Background(), ticket.ID, domain.TicketStatusDiagnosed, technician); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Fatalf("expected exactly one winner, got %d", success)
	}
	evts, _ := repos.Events.ListByTicket(context.Background(), ticket.ID)
	if len(evts) != 1 {
		t.Fatalf("expected one event, got %d", len(evts))
	}
}

func TestPartsOrderedScenarioNotifiesClientAndSupplier(t *testing.T) {
	svc, repos := newService(t, allowAll)
	ctx := context.Background()
	ticket := createTicket(t, svc, domain.SupplierA)
	for _, c := range []domain.Contact{
		{Role: domain.RoleClient, Ref: "client-1", Name: "Ana", Phone: "+15550001111"},
		{Role: domain.RoleSupplier, Ref: "supplier_a", Name: "Supplier A", Email: "orders@a.example.com"},
	} {
		c := c
		_ = repos.Contacts.Upsert(ctx, &c)
	}
	mustTransition(t, svc, ticket.ID, domain.TicketStatusDiagnosed)
	mustTransition(t, svc, ticket.ID, domain.TicketStatusAwaitingParts)
	order := openOrder(t, svc, ticket.ID)

	res := mustTransition(t, svc, ticket.ID, domain.TicketStatusPartsOrdered)
	if res.Ticket.Status != domain.TicketStatusPartsOrdered {
		t.Fatalf("expected parts_ordered, got %s", res.Ticket.Status)
	}
	stored, _ := svc.GetPartsOrder(ctx, order.ID)
	if stored.Status != domain.PartsOrderOrdered {
		t.Fatalf("expected order ordered, got %s", stored.Status)
	}
	evts, _ := svc.ListEvents(ctx, ticket.ID)
	var kinds []domain.EventKind
	for _, e := range evts {
		if e.Kind == domain.EventPartsOrdered {
			kinds = append(kinds, e.Kind)
		}
	}
	if len(kinds) != 1 {
		t.Fatalf("expected exactly one parts-ordered event, got %d", len(kinds))
	}

	reg, err := templates.Default()
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	d := notification.NewDispatcher(notification.Dependencies{
		Store:     repos,
		Templates: reg,
		SMS: channels.SMSFunc(func(context.Context, string, string) (string, error) {
			return "sms-1", nil
		}),
		Email: channels.EmailFunc(func(context.Context, string, string, string) (string, error) {
			return "mail-1", nil
		}),
	}, notification.RetryPolicy{MaxAttempts: 3}, 2)

	attempts, err := d.Dispatch(ctx, res.Event.ID)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	byRole := map[domain.Role]int{}
	for _, a := range attempts {
		if a.Outcome == domain.DeliverySent {
			byRole[a.Role]++
		}
	}
	if byRole[domain.RoleClient] != 1 || byRole[domain.RoleSupplier] != 1 || len(attempts) != 2 {
		t.Fatalf("expected one sent attempt each for client and supplier, got %+v", attempts)
	}
}

func TestInRepairBlockedByOutstandingOrder(t *testing.T) {
	svc, repos := newService(t, allowAll)
	ctx := context.Background()
	id := "7d2a9d36-1c55-4c39-9a8e-5e1f00000042"
	seedAt(t, repos, id, domain.TicketStatusDiagnosed)
	now := time.Now().UTC()
	if err := repos.PartsOrders.Create(ctx, &domain.PartsOrder{
		ID: "po-legacy", TicketID: id, Description: "drum bearing", OrderedBy: technician.ID,
		Status: domain.PartsOrderOrdered, EstimatedCost: decimal.RequireFromString("42.00"),
		CreatedAt: now, OrderedAt: &now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("seed parts order: %v", err)
	}

	_, err := svc.Transition(ctx, id, domain.TicketStatusInRepair, technician)
	if !errors.Is(err, apperrors.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition while parts are outstanding, got %v", err)
	}
	if events, _ := repos.Events.ListByTicket(ctx, id); len(events) != 0 {
		t.Fatalf("expected no event for the rejected transition, got %d", len(events))
	}

	res := mustTransition(t, svc, id, domain.TicketStatusInRepair, WithOverride())
	if res.Ticket.Status != domain.TicketStatusInRepair {
		t.Fatalf("expected in_repair with override, got %s", res.Ticket.Status)
	}
	order, err := repos.PartsOrders.GetByID(ctx, "po-legacy")
	if err != nil {
		t.Fatalf("load parts order: %v", err)
	}
	if order.Status != domain.PartsOrderOrdered {
		t.Fatalf("expected override to leave the order untouched, got %s", order.Status)
	}
}

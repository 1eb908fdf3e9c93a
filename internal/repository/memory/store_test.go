package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/repository"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

func seedTicket(t *testing.T, repos repository.Store, id string, supplier domain.SupplierKind) *domain.ServiceTicket {
	t.Helper()
	now := time.Now().UTC()
	ticket := &domain.ServiceTicket{
		ID:               id,
		Status:           domain.TicketStatusAwaitingParts,
		ClientID:         "client-1",
		SupplierKind:     supplier,
		Appliance:        "washer",
		CreatedAt:        now,
		LastTransitionAt: now,
	}
	if err := repos.Tickets.Create(context.Background(), ticket); err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}

func TestCommitTransitionIsAtomic(t *testing.T) {
	repos := NewStore().Repositories()
	ctx := context.Background()
	ticket := seedTicket(t, repos, "t1", domain.SupplierA)

	next := *ticket
	next.Status = domain.TicketStatusPartsOrdered
	err := repos.Tickets.CommitTransition(ctx, repository.TransitionCommit{
		Ticket:     &next,
		FromStatus: ticket.Status,
		Order:      &domain.PartsOrder{ID: "missing"},
		Event:      &domain.NotificationEvent{ID: "e1", TicketID: "t1", Kind: domain.EventPartsOrdered},
	})
	if !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found for missing order, got %v", err)
	}

	stored, _ := repos.Tickets.GetByID(ctx, "t1")
	if stored.Status != domain.TicketStatusAwaitingParts {
		t.Fatalf("expected status unchanged, got %s", stored.Status)
	}
	events, _ := repos.Events.ListByTicket(ctx, "t1")
	if len(events) != 0 {
		t.Fatalf("expected no events after failed commit, got %d", len(events))
	}
}

func TestCommitTransitionRejectsStaleStatus(t *testing.T) {
	repos := NewStore().Repositories()
	ticket := seedTicket(t, repos, "t1", domain.SupplierNone)

	next := *ticket
	next.Status = domain.TicketStatusCancelled
	err := repos.Tickets.CommitTransition(context.Background(), repository.TransitionCommit{
		Ticket:     &next,
		FromStatus: domain.TicketStatusDiagnosed,
	})
	if !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestOnlyOneOpenPartsOrder(t *testing.T) {
	repos := NewStore().Repositories()
	ctx := context.Background()
	seedTicket(t, repos, "t1", domain.SupplierA)

	first := &domain.PartsOrder{ID: "p1", TicketID: "t1", Status: domain.PartsOrderPending, EstimatedCost: decimal.NewFromInt(10)}
	if err := repos.PartsOrders.Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	second := &domain.PartsOrder{ID: "p2", TicketID: "t1", Status: domain.PartsOrderPending}
	if err := repos.PartsOrders.Create(ctx, second); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict for second open order, got %v", err)
	}
}

func TestSentAttemptUniquePerTriple(t *testing.T) {
	repos := NewStore().Repositories()
	ctx := context.Background()

	a1 := &domain.DeliveryAttempt{ID: "a1", EventID: "e1", Recipient: "+1555", Channel: domain.ChannelSMS, Attempt: 1, Outcome: domain.DeliveryPending}
	a2 := &domain.DeliveryAttempt{ID: "a2", EventID: "e1", Recipient: "+1555", Channel: domain.ChannelSMS, Attempt: 2, Outcome: domain.DeliveryPending}
	for _, a := range []*domain.DeliveryAttempt{a1, a2} {
		if err := repos.Deliveries.Create(ctx, a); err != nil {
			t.Fatalf("create %s: %v", a.ID, err)
		}
	}

	a1.Outcome = domain.DeliverySent
	if err := repos.Deliveries.Complete(ctx, a1); err != nil {
		t.Fatalf("complete a1: %v", err)
	}
	a2.Outcome = domain.DeliverySent
	if err := repos.Deliveries.Complete(ctx, a2); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict for second sent attempt, got %v", err)
	}

	dup := &domain.DeliveryAttempt{ID: "a3", EventID: "e1", Recipient: "+1555", Channel: domain.ChannelSMS, Attempt: 2}
	if err := repos.Deliveries.Create(ctx, dup); !errors.Is(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict for duplicate attempt number, got %v", err)
	}
}

func TestReportUniquePerSupplierDay(t *testing.T) {
	repos := NewStore().Repositories()
	ctx := context.Background()
	report := &domain.DailyReport{ID: "r1", Supplier: domain.SupplierA, ReportDate: "2024-03-01", Status: domain.ReportPending}
	if err := repos.Reports.Create(ctx, report); err != nil {
		t.Fatalf("create: %v", err)
	}
	again := &domain.DailyReport{ID: "r2", Supplier: domain.SupplierA, ReportDate: "2024-03-01"}
	if err := repos.Reports.Create(ctx, again); !errors.Is(err, apperrors.ErrDuplicateReport) {
		t.Fatalf("expected duplicate report, got %v", err)
	}
	other := &domain.DailyReport{ID: "r3", Supplier: domain.SupplierB, ReportDate: "2024-03-01"}
	if err := repos.Reports.Create(ctx, other); err != nil {
		t.Fatalf("expected other supplier to be independent, got %v", err)
	}
}

func TestListBillableFiltersSupplierKindAndWindow(t *testing.T) {
	repos := NewStore().Repositories()
	ctx := context.Background()
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	commit := func(ticketID, eventID string, kind domain.EventKind, at time.Time) {
		ticket, _ := repos.Tickets.GetByID(ctx, ticketID)
		next := *ticket
		if err := repos.Tickets.CommitTransition(ctx, repository.TransitionCommit{
			Ticket:     &next,
			FromStatus: ticket.Status,
			Event:      &domain.NotificationEvent{ID: eventID, TicketID: ticketID, Kind: kind, OccurredAt: at},
		}); err != nil {
			t.Fatalf("commit %s: %v", eventID, err)
		}
	}
	seedTicket(t, repos, "ta", domain.SupplierA)
	seedTicket(t, repos, "tb", domain.SupplierB)

	commit("ta", "in-window", domain.EventPartsOrdered, day.Add(2*time.Hour))
	commit("ta", "not-billable", domain.EventPartsNeeded, day.Add(3*time.Hour))
	commit("ta", "next-day", domain.EventPartsReceived, day.Add(24*time.Hour))
	commit("tb", "other-supplier", domain.EventPartsOrdered, day.Add(time.Hour))

	events, err := repos.Events.ListBillable(ctx, domain.SupplierA, day, day.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].ID != "in-window" {
		t.Fatalf("expected only in-window event, got %+v", events)
	}
}

func TestReturnedValuesAreCopies(t *testing.T) {
	repos := NewStore().Repositories()
	ctx := context.Background()
	ticket := seedTicket(t, repos, "t1", domain.SupplierNone)
	next := *ticket
	if err := repos.Tickets.CommitTransition(ctx, repository.TransitionCommit{
		Ticket:     &next,
		FromStatus: ticket.Status,
		Event:      &domain.NotificationEvent{ID: "e1", TicketID: "t1", Payload: map[string]string{"a": "1"}},
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	event, _ := repos.Events.GetByID(ctx, "e1")
	event.Payload["a"] = "mutated"
	again, _ := repos.Events.GetByID(ctx, "e1")
	if again.Payload["a"] != "1" {
		t.Fatalf("expected stored payload to be isolated, got %s", again.Payload["a"])
	}
}

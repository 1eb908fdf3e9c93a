package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/repair-service/internal/config"
	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/events"
	"github.com/spec-kit/repair-service/internal/repository"
	"github.com/spec-kit/repair-service/internal/repository/memory"
)

func commitEvent(t *testing.T, repos repository.Store, ticketID, eventID string) {
	t.Helper()
	ctx := context.Background()
	ticket, err := repos.Tickets.GetByID(ctx, ticketID)
	if err != nil {
		now := time.Now().UTC()
		ticket = &domain.ServiceTicket{ID: ticketID, Status: domain.TicketStatusIntake, ClientID: "c", SupplierKind: domain.SupplierNone, Appliance: "a", CreatedAt: now, LastTransitionAt: now}
		if err := repos.Tickets.Create(ctx, ticket); err != nil {
			t.Fatalf("create ticket: %v", err)
		}
	}
	next := *ticket
	if err := repos.Tickets.CommitTransition(ctx, repository.TransitionCommit{
		Ticket:     &next,
		FromStatus: ticket.Status,
		Event:      &domain.NotificationEvent{ID: eventID, TicketID: ticketID, Kind: domain.EventStatusChanged, OccurredAt: time.Now().UTC()},
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

type recorder struct {
	mu   sync.Mutex
	seen []string
	fail map[string]bool
}

func (r *recorder) handle(_ context.Context, e domain.NotificationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[e.ID] {
		return errors.New("consumer failed")
	}
	r.seen = append(r.seen, e.ID)
	return nil
}

func (r *recorder) ids() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func TestDrainPublishesAndMarksDispatched(t *testing.T) {
	repos := memory.NewStore().Repositories()
	commitEvent(t, repos, "t1", "e1")
	commitEvent(t, repos, "t1", "e2")
	commitEvent(t, repos, "t2", "e3")

	bus := events.NewInMemoryBus()
	rec := &recorder{}
	bus.SubscribeAll(rec.handle)
	relay := NewOutboxRelay(repos.Events, bus, config.RelayConfig{BatchSize: 10}, nil)

	n, err := relay.Drain(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("expected 3 dispatched, got %d (%v)", n, err)
	}
	order := map[string]int{}
	for i, id := range rec.ids() {
		order[id] = i
	}
	if order["e1"] > order["e2"] {
		t.Fatalf("expected ticket events in commit order, got %v", rec.ids())
	}

	left, _ := repos.Events.ListUndispatched(context.Background(), 10)
	if len(left) != 0 {
		t.Fatalf("expected outbox empty, got %d", len(left))
	}
	if n, _ := relay.Drain(context.Background()); n != 0 {
		t.Fatalf("expected second drain to be empty, got %d", n)
	}
}

func TestFailedEventHoldsBackItsTicket(t *testing.T) {
	repos := memory.NewStore().Repositories()
	commitEvent(t, repos, "t1", "e1")
	commitEvent(t, repos, "t1", "e2")
	commitEvent(t, repos, "t2", "e3")

	bus := events.NewInMemoryBus()
	rec := &recorder{fail: map[string]bool{"e1": true}}
	bus.SubscribeAll(rec.handle)
	relay := NewOutboxRelay(repos.Events, bus, config.RelayConfig{BatchSize: 10}, nil)

	n, _ := relay.Drain(context.Background())
	if n != 1 {
		t.Fatalf("expected only e3 dispatched, got %d", n)
	}
	left, _ := repos.Events.ListUndispatched(context.Background(), 10)
	if len(left) != 2 || left[0].ID != "e1" || left[1].ID != "e2" {
		t.Fatalf("expected e1 and e2 to remain, got %+v", left)
	}

	rec.mu.Lock()
	rec.fail = nil
	rec.mu.Unlock()
	if n, _ := relay.Drain(context.Background()); n != 2 {
		t.Fatalf("expected retry to dispatch both, got %d", n)
	}
}

func TestNotifyWakesRelay(t *testing.T) {
	repos := memory.NewStore().Repositories()
	bus := events.NewInMemoryBus()
	got := make(chan string, 1)
	bus.SubscribeAll(func(_ context.Context, e domain.NotificationEvent) error {
		got <- e.ID
		return nil
	})
	relay := NewOutboxRelay(repos.Events, bus, config.RelayConfig{PollSeconds: 3600}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = relay.Run(ctx)
		close(done)
	}()

	commitEvent(t, repos, "t1", "e1")
	relay.OnCommit(domain.NotificationEvent{ID: "e1"})

	select {
	case id := <-got:
		if id != "e1" {
			t.Fatalf("expected e1, got %s", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected wake-up to publish the event")
	}
	cancel()
	<-done
}

func TestFailingMirrorDoesNotBlockDispatch(t *testing.T) {
	repos := memory.NewStore().Repositories()
	commitEvent(t, repos, "t1", "e1")
	commitEvent(t, repos, "t2", "e2")
	commitEvent(t, repos, "t3", "e3")

	bus := events.NewInMemoryBus()
	dispatched := &recorder{}
	bus.SubscribeAll(dispatched.handle)
	mirror := &recorder{fail: map[string]bool{"e1": true, "e2": true, "e3": true}}
	relay := NewOutboxRelay(repos.Events, bus, config.RelayConfig{BatchSize: 2}, nil).WithMirror(mirror.handle)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := relay.Drain(ctx); err != nil {
			t.Fatalf("expected drain to succeed, got %v", err)
		}
	}

	if ids := dispatched.ids(); len(ids) != 3 {
		t.Fatalf("expected all three events dispatched, got %v", ids)
	}
	left, _ := repos.Events.ListUndispatched(ctx, 10)
	if len(left) != 0 {
		t.Fatalf("expected outbox drained, got %d", len(left))
	}
	unmirrored, _ := repos.Events.ListUnmirrored(ctx, 10)
	if len(unmirrored) != 3 {
		t.Fatalf("expected all events still awaiting the mirror, got %d", len(unmirrored))
	}
}

func TestMirrorCatchesUpAfterRecovery(t *testing.T) {
	repos := memory.NewStore().Repositories()
	commitEvent(t, repos, "t1", "e1")
	commitEvent(t, repos, "t1", "e2")

	bus := events.NewInMemoryBus()
	dispatched := &recorder{}
	bus.SubscribeAll(dispatched.handle)
	mirror := &recorder{fail: map[string]bool{"e1": true}}
	relay := NewOutboxRelay(repos.Events, bus, config.RelayConfig{BatchSize: 10}, nil).WithMirror(mirror.handle)

	ctx := context.Background()
	if n, _ := relay.Drain(ctx); n != 2 {
		t.Fatalf("expected both events dispatched, got %d", n)
	}
	if ids := mirror.ids(); len(ids) != 0 {
		t.Fatalf("expected e2 held behind e1 on the mirror, got %v", ids)
	}

	mirror.mu.Lock()
	mirror.fail = nil
	mirror.mu.Unlock()
	if n, _ := relay.Drain(ctx); n != 0 {
		t.Fatalf("expected nothing left to dispatch, got %d", n)
	}
	if ids := mirror.ids(); len(ids) != 2 || ids[0] != "e1" || ids[1] != "e2" {
		t.Fatalf("expected mirror to replay e1 then e2, got %v", ids)
	}
	if got := len(dispatched.ids()); got != 2 {
		t.Fatalf("expected no redelivery, got %d", got)
	}
	unmirrored, _ := repos.Events.ListUnmirrored(ctx, 10)
	if len(unmirrored) != 0 {
		t.Fatalf("expected mirror caught up, got %d", len(unmirrored))
	}
}

// Package memory is an in-process implementation of the repository
// contracts. All writes are serialized on one mutex, which gives
// CommitTransition the same all-or-nothing visibility as a database transaction.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spec-kit/repair-service/internal/domain"
	"github.com/spec-kit/repair-service/internal/repository"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

// Store holds every entity in maps keyed by id.
type Store struct {
	mu         sync.RWMutex
	tickets    map[string]domain.ServiceTicket
	orders     map[string]domain.PartsOrder
	events     map[string]domain.NotificationEvent
	eventOrder []string
	attempts   map[string]domain.DeliveryAttempt
	attemptSeq []string
	reports    map[string]domain.DailyReport
	contacts   map[string]domain.Contact
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		tickets:  make(map[string]domain.ServiceTicket),
		orders:   make(map[string]domain.PartsOrder),
		events:   make(map[string]domain.NotificationEvent),
		attempts: make(map[string]domain.DeliveryAttempt),
		reports:  make(map[string]domain.DailyReport),
		contacts: make(map[string]domain.Contact),
	}
}

// Repositories exposes the store through the repository contracts.
func (s *Store) Repositories() repository.Store {
	return repository.Store{
		Tickets:     ticketRepo{s},
		PartsOrders: partsOrderRepo{s},
		Events:      eventRepo{s},
		Deliveries:  deliveryRepo{s},
		Reports:     reportRepo{s},
		Contacts:    contactRepo{s},
	}
}

type ticketRepo struct{ s *Store }

func (r ticketRepo) Create(_ context.Context, ticket *domain.ServiceTicket) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.tickets[ticket.ID]; ok {
		return apperrors.NewConflict("ticket already exists", map[string]any{"ticket_id": ticket.ID})
	}
	r.s.tickets[ticket.ID] = cloneTicket(*ticket)
	return nil
}

func (r ticketRepo) GetByID(_ context.Context, id string) (*domain.ServiceTicket, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	ticket, ok := r.s.tickets[id]
	if !ok {
		return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": id})
	}
	out := cloneTicket(ticket)
	return &out, nil
}

func (r ticketRepo) CommitTransition(_ context.Context, commit repository.TransitionCommit) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.tickets[commit.Ticket.ID]
	if !ok {
		return apperrors.NewNotFound("ticket", map[string]any{"ticket_id": commit.Ticket.ID})
	}
	if current.Status != commit.FromStatus {
		return apperrors.NewConflict("ticket status changed concurrently", map[string]any{"ticket_id": commit.Ticket.ID})
	}
	if commit.Order != nil {
		if _, ok := r.s.orders[commit.Order.ID]; !ok {
			return apperrors.NewNotFound("parts order", map[string]any{"parts_order_id": commit.Order.ID})
		}
	}
	if commit.Event != nil {
		if _, ok := r.s.events[commit.Event.ID]; ok {
			return apperrors.NewConflict("event already exists", map[string]any{"event_id": commit.Event.ID})
		}
	}

	current.Status = commit.Ticket.Status
	current.LastTransitionAt = commit.Ticket.LastTransitionAt
	r.s.tickets[current.ID] = current
	if commit.Order != nil {
		r.s.orders[commit.Order.ID] = cloneOrder(*commit.Order)
	}
	if commit.Event != nil {
		r.s.events[commit.Event.ID] = cloneEvent(*commit.Event)
		r.s.eventOrder = append(r.s.eventOrder, commit.Event.ID)
	}
	return nil
}

type partsOrderRepo struct{ s *Store }

func (r partsOrderRepo) Create(_ context.Context, order *domain.PartsOrder) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.orders {
		if existing.TicketID == order.TicketID && existing.Status.Open() {
			return apperrors.NewConflict("ticket already has an open parts order", map[string]any{"ticket_id": order.TicketID})
		}
	}
	r.s.orders[order.ID] = cloneOrder(*order)
	return nil
}

func (r partsOrderRepo) GetByID(_ context.Context, id string) (*domain.PartsOrder, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	order, ok := r.s.orders[id]
	if !ok {
		return nil, apperrors.NewNotFound("parts order", map[string]any{"parts_order_id": id})
	}
	out := cloneOrder(order)
	return &out, nil
}

func (r partsOrderRepo) GetOpenByTicket(_ context.Context, ticketID string) (*domain.PartsOrder, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, order := range r.s.orders {
		if order.TicketID == ticketID && order.Status.Open() {
			out := cloneOrder(order)
			return &out, nil
		}
	}
	return nil, apperrors.NewNotFound("open parts order", map[string]any{"ticket_id": ticketID})
}

func (r partsOrderRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.PartsOrder, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var result []domain.PartsOrder
	for _, order := range r.s.orders {
		if order.TicketID == ticketID {
			result = append(result, cloneOrder(order))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

type eventRepo struct{ s *Store }

func (r eventRepo) GetByID(_ context.Context, id string) (*domain.NotificationEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	event, ok := r.s.events[id]
	if !ok {
		return nil, apperrors.NewNotFound("notification event", map[string]any{"event_id": id})
	}
	out := cloneEvent(event)
	return &out, nil
}

func (r eventRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.NotificationEvent, error) {
	return r.filter(0, func(e domain.NotificationEvent) bool { return e.TicketID == ticketID }), nil
}

func (r eventRepo) ListUndispatched(_ context.Context, limit int) ([]domain.NotificationEvent, error) {
	return r.filter(limit, func(e domain.NotificationEvent) bool { return e.DispatchedAt == nil }), nil
}

func (r eventRepo) MarkDispatched(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	event, ok := r.s.events[id]
	if !ok {
		return apperrors.NewNotFound("notification event", map[string]any{"event_id": id})
	}
	if event.DispatchedAt == nil {
		event.DispatchedAt = &at
		r.s.events[id] = event
	}
	return nil
}

func (r eventRepo) ListUnmirrored(_ context.Context, limit int) ([]domain.NotificationEvent, error) {
	return r.filter(limit, func(e domain.NotificationEvent) bool { return e.MirroredAt == nil }), nil
}

func (r eventRepo) MarkMirrored(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	event, ok := r.s.events[id]
	if !ok {
		return apperrors.NewNotFound("notification event", map[string]any{"event_id": id})
	}
	if event.MirroredAt == nil {
		event.MirroredAt = &at
		r.s.events[id] = event
	}
	return nil
}

func (r eventRepo) ListBillable(_ context.Context, supplier domain.SupplierKind, from, to time.Time) ([]domain.NotificationEvent, error) {
	r.s.mu.RLock()
	tickets := make(map[string]domain.SupplierKind, len(r.s.tickets))
	for id, ticket := range r.s.tickets {
		tickets[id] = ticket.SupplierKind
	}
	r.s.mu.RUnlock()

	return r.filter(0, func(e domain.NotificationEvent) bool {
		return tickets[e.TicketID] == supplier &&
			e.Kind.Billable() &&
			!e.OccurredAt.Before(from) &&
			e.OccurredAt.Before(to)
	}), nil
}

// filter walks events in commit order.
func (r eventRepo) filter(limit int, keep func(domain.NotificationEvent) bool) []domain.NotificationEvent {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var result []domain.NotificationEvent
	for _, id := range r.s.eventOrder {
		event := r.s.events[id]
		if !keep(event) {
			continue
		}
		result = append(result, cloneEvent(event))
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result
}

type deliveryRepo struct{ s *Store }

func (r deliveryRepo) Create(_ context.Context, attempt *domain.DeliveryAttempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.attempts {
		if sameTriple(existing, *attempt) && existing.Attempt == attempt.Attempt {
			return apperrors.NewConflict("delivery attempt already recorded", map[string]any{"event_id": attempt.EventID, "attempt": attempt.Attempt})
		}
		if sameTriple(existing, *attempt) && attempt.Outcome == domain.DeliverySent && existing.Outcome == domain.DeliverySent {
			return apperrors.NewConflict("triple already delivered", map[string]any{"event_id": attempt.EventID})
		}
	}
	r.s.attempts[attempt.ID] = *attempt
	r.s.attemptSeq = append(r.s.attemptSeq, attempt.ID)
	return nil
}

func (r deliveryRepo) Complete(_ context.Context, attempt *domain.DeliveryAttempt) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored, ok := r.s.attempts[attempt.ID]
	if !ok {
		return apperrors.NewNotFound("delivery attempt", map[string]any{"attempt_id": attempt.ID})
	}
	if attempt.Outcome == domain.DeliverySent {
		for id, existing := range r.s.attempts {
			if id != attempt.ID && sameTriple(existing, stored) && existing.Outcome == domain.DeliverySent {
				return apperrors.NewConflict("triple already delivered", map[string]any{
					"event_id":  stored.EventID,
					"recipient": stored.Recipient,
					"channel":   stored.Channel,
				})
			}
		}
	}
	stored.Outcome = attempt.Outcome
	stored.Permanent = attempt.Permanent
	stored.MessageID = attempt.MessageID
	stored.ErrorDetail = attempt.ErrorDetail
	r.s.attempts[attempt.ID] = stored
	return nil
}

func (r deliveryRepo) ListByEvent(_ context.Context, eventID string) ([]domain.DeliveryAttempt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var result []domain.DeliveryAttempt
	for _, id := range r.s.attemptSeq {
		if attempt := r.s.attempts[id]; attempt.EventID == eventID {
			result = append(result, attempt)
		}
	}
	return result, nil
}

func (r deliveryRepo) ListByTicket(_ context.Context, ticketID string) ([]domain.DeliveryAttempt, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var result []domain.DeliveryAttempt
	for _, id := range r.s.attemptSeq {
		attempt := r.s.attempts[id]
		if event, ok := r.s.events[attempt.EventID]; ok && event.TicketID == ticketID {
			result = append(result, attempt)
		}
	}
	return result, nil
}

func sameTriple(a, b domain.DeliveryAttempt) bool {
	return a.EventID == b.EventID && a.Recipient == b.Recipient && a.Channel == b.Channel
}

type reportRepo struct{ s *Store }

func reportKey(supplier domain.SupplierKind, date string) string {
	return string(supplier) + "|" + date
}

func (r reportRepo) Get(_ context.Context, supplier domain.SupplierKind, date string) (*domain.DailyReport, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	report, ok := r.s.reports[reportKey(supplier, date)]
	if !ok {
		return nil, apperrors.NewNotFound("daily report", map[string]any{"supplier": supplier, "date": date})
	}
	out := cloneReport(report)
	return &out, nil
}

func (r reportRepo) Create(_ context.Context, report *domain.DailyReport) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := reportKey(report.Supplier, report.ReportDate)
	if _, ok := r.s.reports[key]; ok {
		return apperrors.ErrDuplicateReport
	}
	r.s.reports[key] = cloneReport(*report)
	return nil
}

func (r reportRepo) Update(_ context.Context, report *domain.DailyReport) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	key := reportKey(report.Supplier, report.ReportDate)
	existing, ok := r.s.reports[key]
	if !ok || existing.ID != report.ID {
		return apperrors.NewNotFound("daily report", map[string]any{"report_id": report.ID})
	}
	r.s.reports[key] = cloneReport(*report)
	return nil
}

// Reports returns every stored report. Used by tests to check uniqueness.
func (s *Store) Reports() []domain.DailyReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DailyReport, 0, len(s.reports))
	for _, report := range s.reports {
		out = append(out, cloneReport(report))
	}
	return out
}

type contactRepo struct{ s *Store }

func contactKey(role domain.Role, ref string) string {
	return string(role) + "|" + ref
}

func (r contactRepo) Get(_ context.Context, role domain.Role, ref string) (*domain.Contact, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	contact, ok := r.s.contacts[contactKey(role, ref)]
	if !ok {
		return nil, apperrors.NewNotFound("contact", map[string]any{"role": role, "ref": ref})
	}
	return &contact, nil
}

func (r contactRepo) Upsert(_ context.Context, contact *domain.Contact) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.contacts[contactKey(contact.Role, contact.Ref)] = *contact
	return nil
}

func cloneTicket(t domain.ServiceTicket) domain.ServiceTicket {
	if t.TechnicianID != nil {
		v := *t.TechnicianID
		t.TechnicianID = &v
	}
	if t.PartnerID != nil {
		v := *t.PartnerID
		t.PartnerID = &v
	}
	return t
}

func cloneOrder(o domain.PartsOrder) domain.PartsOrder {
	if o.ActualCost != nil {
		v := *o.ActualCost
		o.ActualCost = &v
	}
	if o.OrderedAt != nil {
		v := *o.OrderedAt
		o.OrderedAt = &v
	}
	if o.ReceivedAt != nil {
		v := *o.ReceivedAt
		o.ReceivedAt = &v
	}
	return o
}

func cloneEvent(e domain.NotificationEvent) domain.NotificationEvent {
	payload := make(map[string]string, len(e.Payload))
	for k, v := range e.Payload {
		payload[k] = v
	}
	e.Payload = payload
	if e.DispatchedAt != nil {
		v := *e.DispatchedAt
		e.DispatchedAt = &v
	}
	if e.MirroredAt != nil {
		v := *e.MirroredAt
		e.MirroredAt = &v
	}
	return e
}

func cloneReport(r domain.DailyReport) domain.DailyReport {
	r.EventIDs = append([]string(nil), r.EventIDs...)
	return r
}

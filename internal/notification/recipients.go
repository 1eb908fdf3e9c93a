package notification

import (
	"github.com/spec-kit/repair-service/internal/domain"
)

// Recipient is one party that must hear about an event.
type Recipient struct {
	Role domain.Role
	// Ref keys the party in the contact directory.
	Ref string
}

// RecipientRule declares when a role is notified. Kinds nil means every
// ticket event kind. Ref returns false when the ticket has no such party.
type RecipientRule struct {
	Role  domain.Role
	Kinds []domain.EventKind
	Ref   func(ticket *domain.ServiceTicket) (string, bool)
}

func (r RecipientRule) matches(kind domain.EventKind) bool {
	if r.Kinds == nil {
		return true
	}
	for _, k := range r.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// DefaultRules is the recipient table for ticket events.
var DefaultRules = []RecipientRule{
	{
		Role: domain.RoleClient,
		Ref: func(t *domain.ServiceTicket) (string, bool) {
			return t.ClientID, t.ClientID != ""
		},
	},
	{
		Role: domain.RoleTechnician,
		Kinds: []domain.EventKind{
			domain.EventStatusChanged,
			domain.EventPartsReceived,
			domain.EventServiceCancelled,
		},
		Ref: func(t *domain.ServiceTicket) (string, bool) {
			if t.TechnicianID == nil || *t.TechnicianID == "" {
				return "", false
			}
			return *t.TechnicianID, true
		},
	},
	{
		Role: domain.RolePartner,
		Ref: func(t *domain.ServiceTicket) (string, bool) {
			if t.PartnerID == nil || *t.PartnerID == "" {
				return "", false
			}
			return *t.PartnerID, true
		},
	},
	{
		Role:  domain.RoleSupplier,
		Kinds: []domain.EventKind{domain.EventPartsOrdered, domain.EventPartsReceived},
		Ref: func(t *domain.ServiceTicket) (string, bool) {
			return string(t.SupplierKind), t.SupplierKind.HasSupplier()
		},
	},
}

// ResolveRecipients evaluates rules in order for one event on ticket.
func ResolveRecipients(rules []RecipientRule, kind domain.EventKind, ticket *domain.ServiceTicket) []Recipient {
	if kind == domain.EventSupplierDigest {
		return nil
	}
	var out []Recipient
	for _, rule := range rules {
		if !rule.matches(kind) {
			continue
		}
		ref, ok := rule.Ref(ticket)
		if !ok {
			continue
		}
		out = append(out, Recipient{Role: rule.Role, Ref: ref})
	}
	return out
}

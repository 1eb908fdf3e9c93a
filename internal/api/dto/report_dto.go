package dto

import (
	"time"

	"github.com/spec-kit/repair-service/internal/domain"
)

// DailyReportResponse represents a supplier digest.
type DailyReportResponse struct {
	ID          string              `json:"id"`
	Supplier    domain.SupplierKind `json:"supplier"`
	ReportDate  string              `json:"report_date"`
	EventIDs    []string            `json:"event_ids"`
	Status      domain.ReportStatus `json:"status"`
	MessageID   string              `json:"message_id,omitempty"`
	LastError   *string             `json:"last_error,omitempty"`
	Attempts    int                 `json:"attempts"`
	GeneratedAt time.Time           `json:"generated_at"`
	SentAt      *time.Time          `json:"sent_at"`
}

// ContactRequest payload.
type ContactRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email"`
}

// ContactResponse represents a directory entry.
type ContactResponse struct {
	Role  domain.Role `json:"role"`
	Ref   string      `json:"ref"`
	Name  string      `json:"name"`
	Phone string      `json:"phone,omitempty"`
	Email string      `json:"email,omitempty"`
}

// NewDailyReportResponse maps a report.
func NewDailyReportResponse(r *domain.DailyReport) DailyReportResponse {
	ids := r.EventIDs
	if ids == nil {
		ids = []string{}
	}
	return DailyReportResponse{
		ID:          r.ID,
		Supplier:    r.Supplier,
		ReportDate:  r.ReportDate,
		EventIDs:    ids,
		Status:      r.Status,
		MessageID:   r.MessageID,
		LastError:   r.LastError,
		Attempts:    r.Attempts,
		GeneratedAt: r.GeneratedAt,
		SentAt:      r.SentAt,
	}
}

// NewContactResponse maps a contact.
func NewContactResponse(c *domain.Contact) ContactResponse {
	return ContactResponse{Role: c.Role, Ref: c.Ref, Name: c.Name, Phone: c.Phone, Email: c.Email}
}

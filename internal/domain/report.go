package domain

import "time"

// ReportStatus tracks delivery of a supplier digest.
type ReportStatus string

const (
	ReportPending    ReportStatus = "pending"
	ReportSent       ReportStatus = "sent"
	ReportNoActivity ReportStatus = "no_activity"
)

// Done reports whether the scheduler should leave the report alone.
func (s ReportStatus) Done() bool {
	return s == ReportSent || s == ReportNoActivity
}

// ReportDateLayout formats the calendar day key of a report.
const ReportDateLayout = "2006-01-02"

// DailyReport is the per-supplier, per-day billing digest.
type DailyReport struct {
	ID          string
	Supplier    SupplierKind
	ReportDate  string
	EventIDs    []string
	Status      ReportStatus
	MessageID   string
	LastError   *string
	Attempts    int
	GeneratedAt time.Time
	SentAt      *time.Time
}

package domain

// Role identifies the kind of party acting on or receiving notifications for a ticket.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleTechnician Role = "technician"
	RoleClient     Role = "client"
	RolePartner    Role = "partner"
	RoleSupplierA  Role = "supplier_a"
	RoleSupplierB  Role = "supplier_b"
	// RoleSupplier is the notification recipient role for whichever supplier
	// the ticket routes through.
	RoleSupplier Role = "supplier"
	RoleSystem   Role = "system"
)

// Actor is the authenticated caller requesting a state change.
type Actor struct {
	ID   string
	Role Role
}

// SystemActor is used for transitions initiated by the service itself.
var SystemActor = Actor{ID: "system", Role: RoleSystem}

// Contact holds the registered addresses of a notification recipient.
type Contact struct {
	Role  Role
	Ref   string
	Name  string
	Phone string
	Email string
}

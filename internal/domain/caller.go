package domain

import "github.com/google/uuid"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

// Caller is the authenticated identity behind a request. It is threaded
// explicitly through every service call instead of living in request-scoped
// globals.
type Caller struct {
	UserID uuid.UUID
	Role   Role
}

func (c Caller) IsAdmin() bool { return c.Role == RoleAdmin }

// CanAccessInvoice reports whether the caller may view or pay an invoice
// owned by ownerID.
func (c Caller) CanAccessInvoice(ownerID uuid.UUID) bool {
	return c.IsAdmin() || c.UserID == ownerID
}

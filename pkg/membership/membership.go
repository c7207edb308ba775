package membership

import (
	"time"

	"github.com/google/uuid"
)

// Role is a user's role within an organization.
type Role string

const (
	RoleOwner   Role = "owner"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// rolePriority is the governing order; lower wins. Role names must never be
// compared as strings for this purpose.
var rolePriority = map[Role]int{
	RoleOwner:   1,
	RoleTeacher: 2,
	RoleStudent: 3,
}

// unknownPriority ranks roles missing from the table after every known role.
const unknownPriority = 1 << 30

// Priority returns the role's rank in the governing order (1 is highest).
func (r Role) Priority() int {
	if p, ok := rolePriority[r]; ok {
		return p
	}
	return unknownPriority
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, ok := rolePriority[r]
	return ok
}

// Status is the acceptance state of a membership.
type Status string

const (
	StatusActive  Status = "active"
	StatusPending Status = "pending" // invited, not yet accepted
)

// Membership links a user to an organization with a role.
type Membership struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	Role           Role
	Status         Status
	CreatedAt      time.Time
	DeletedAt      *time.Time
}

// Eligible reports whether the membership can govern entitlements.
func (m Membership) Eligible() bool {
	return m.DeletedAt == nil && m.Status == StatusActive
}

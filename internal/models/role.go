package models

import "strings"

// Role is fixed when an account is created.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RolePartner  Role = "partner"
	RoleAdmin    Role = "admin"
)

// ParseRole accepts the lowercase wire form of a role.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	return r, r.Valid()
}

func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleStaff, RolePartner, RoleAdmin:
		return true
	}
	return false
}

// Elevated reports whether the role carries an elevated profile and must pass
// the one-time code workflow before privileged operations.
func (r Role) Elevated() bool {
	return r == RoleAdmin || r == RolePartner
}

func (r Role) String() string { return string(r) }

// Title is the capitalised form used in user-facing messages.
func (r Role) Title() string {
	if r == "" {
		return ""
	}
	return strings.ToUpper(string(r[:1])) + string(r[1:])
}

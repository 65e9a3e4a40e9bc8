package auth

import "strings"

// Role is the per-user role stored alongside the account.
type Role string

const (
	RoleAdmin         Role = "admin"
	RoleUser          Role = "user"
	RoleMasterPartner Role = "master_partner"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleMasterPartner:
		return true
	}
	return false
}

// ParseRole normalizes raw input into a Role.
func ParseRole(raw string) (Role, bool) {
	r := Role(strings.ToLower(strings.TrimSpace(raw)))
	return r, r.Valid()
}

package domain

import "fmt"

// Role enumerates the portal roles the identity provider hands us.
type Role string

const (
	RoleStudent Role = "student"
	RoleSRC     Role = "src"
	RoleAdmin   Role = "admin"
)

// ParseRole rejects anything outside the known role set.
func ParseRole(raw string) (Role, error) {
	switch r := Role(raw); r {
	case RoleStudent, RoleSRC, RoleAdmin:
		return r, nil
	}
	return "", fmt.Errorf("unknown role %q", raw)
}

// Actor is the verified caller of a core operation. It is supplied by the
// identity layer and never mutated here.
type Actor struct {
	ID           string
	Role         Role
	DepartmentID *string
}

// IsAdmin reports whether the actor has the admin role.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// IsCaseworker reports whether the actor is an SRC member.
func (a Actor) IsCaseworker() bool { return a.Role == RoleSRC }

// HomeDepartment returns the actor's department id or "".
func (a Actor) HomeDepartment() string {
	if a.DepartmentID == nil {
		return ""
	}
	return *a.DepartmentID
}

// Profile is the identity record of a portal member as read from the
// profiles table. Only the fields routing needs are loaded.
type Profile struct {
	ID           string
	FullName     string
	Email        string
	Role         Role
	DepartmentID *string
	Active       bool
}

// Actor converts the profile to the tuple used by the core.
func (p Profile) Actor() Actor {
	return Actor{ID: p.ID, Role: p.Role, DepartmentID: p.DepartmentID}
}

package session

import (
	"errors"
	"slices"
)

// Domain errors
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrSessionEnded     = errors.New("session ended")
	ErrRoleNotHeld      = errors.New("role not held by session")
)

// WildcardPermission grants every permission.
const WildcardPermission = "*"

// Profile is the subset of the user profile the gateway needs.
type Profile struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Avatar    string `json:"avatar,omitempty"`
}

// Session represents the authenticated principal of one browser context
// as reported by the backend's current-user endpoint.
type Session struct {
	UserID      string   `json:"id"`
	Email       string   `json:"email"`
	IsActive    bool     `json:"is_active"`
	Profile     *Profile `json:"profile,omitempty"`
	Roles       []string `json:"roles"`
	ActiveRole  string   `json:"active_role"`
	Permissions []string `json:"permissions"`
}

// HasRole reports whether the session holds role.
func (s *Session) HasRole(role string) bool {
	if s == nil || role == "" {
		return false
	}
	return slices.Contains(s.Roles, role)
}

// CanSwitchRole reports whether the session has more than one role to choose from.
func (s *Session) CanSwitchRole() bool {
	return s != nil && len(s.Roles) > 1
}

// CanSwitchTo reports whether role is a valid active role for the session.
func (s *Session) CanSwitchTo(role string) bool {
	return s.HasRole(role)
}

// WithActiveRole returns a copy of the session with role selected.
// Server-side roles are not changed.
func (s *Session) WithActiveRole(role string) (*Session, error) {
	if s == nil {
		return nil, ErrNotAuthenticated
	}
	if !s.CanSwitchTo(role) {
		return nil, ErrRoleNotHeld
	}
	cp := *s
	cp.Roles = slices.Clone(s.Roles)
	cp.Permissions = slices.Clone(s.Permissions)
	cp.ActiveRole = role
	return &cp, nil
}

// EffectiveRole returns the active role, falling back to the only held role.
func (s *Session) EffectiveRole() string {
	if s == nil {
		return ""
	}
	if s.ActiveRole != "" {
		return s.ActiveRole
	}
	if len(s.Roles) == 1 {
		return s.Roles[0]
	}
	return ""
}

// HasWildcard reports whether the permission set grants everything.
func (s *Session) HasWildcard() bool {
	return s != nil && slices.Contains(s.Permissions, WildcardPermission)
}

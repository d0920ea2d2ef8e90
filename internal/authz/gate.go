// Copyright 2026 The EDU Sekai Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package authz answers "can the current session do X".
//
// Every decision is a pure function of the loaded session. Nothing is
// cached, so a decision always reflects the latest known session.
package authz

import (
	"errors"
	"slices"

	"github.com/edusekai/edusekai/internal/session"
)

// Domain errors
var (
	ErrAccessDenied   = errors.New("access denied")
	ErrSessionPending = errors.New("session not loaded")
)

// Decision is the outcome of a gate check.
type Decision int

const (
	// DecisionUnknown means the session has not finished loading.
	// Protected content must render a loading state.
	DecisionUnknown Decision = iota
	DecisionAllowed
	DecisionDenied
)

func (d Decision) String() string {
	switch d {
	case DecisionAllowed:
		return "allowed"
	case DecisionDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// Gate evaluates permissions for one session.
type Gate struct {
	session *session.Session
	loaded  bool
}

// NewGate returns a gate for a session that finished loading. A nil session
// means loading completed without an authenticated principal.
func NewGate(s *session.Session) Gate {
	return Gate{session: s, loaded: true}
}

// PendingGate returns a gate whose decisions are all unknown.
func PendingGate() Gate {
	return Gate{}
}

// Loaded reports whether the session finished loading.
func (g Gate) Loaded() bool {
	return g.loaded
}

// Session returns the session behind the gate, if any.
func (g Gate) Session() *session.Session {
	return g.session
}

// Can reports whether the permission set grants p. An absent permission
// set denies. The wildcard allows everything.
func (g Gate) Can(p string) bool {
	if !g.loaded || g.session == nil || g.session.Permissions == nil {
		return false
	}
	return g.session.HasWildcard() || slices.Contains(g.session.Permissions, p)
}

// IsOwner reports whether the active role is the owner role.
func (g Gate) IsOwner() bool {
	return g.loaded && g.session != nil && g.session.ActiveRole == RoleOwner
}

// ActiveRole returns the active role, or "" when there is none.
func (g Gate) ActiveRole() string {
	if g.session == nil {
		return ""
	}
	return g.session.ActiveRole
}

// IsManagement reports whether the active role sees institution management.
func (g Gate) IsManagement() bool {
	return g.loaded && slices.Contains(ManagementRoles, g.ActiveRole())
}

// Decide applies the owner shortcut and the permission check.
func (g Gate) Decide(p string) Decision {
	if !g.loaded {
		return DecisionUnknown
	}
	if g.IsOwner() || g.Can(p) {
		return DecisionAllowed
	}
	return DecisionDenied
}

// Require returns ErrSessionPending, ErrAccessDenied or nil.
func (g Gate) Require(p string) error {
	switch g.Decide(p) {
	case DecisionAllowed:
		return nil
	case DecisionDenied:
		return ErrAccessDenied
	default:
		return ErrSessionPending
	}
}

// Summary is the serialisable view of a gate.
type Summary struct {
	ActiveRole   string          `json:"active_role"`
	IsOwner      bool            `json:"is_owner"`
	IsManagement bool            `json:"is_management"`
	CanSwitch    bool            `json:"can_switch_role"`
	Permissions  map[string]bool `json:"permissions"`
}

// Summarize evaluates perms for a client that renders affordances.
func (g Gate) Summarize(perms ...string) Summary {
	s := Summary{
		ActiveRole:   g.ActiveRole(),
		IsOwner:      g.IsOwner(),
		IsManagement: g.IsManagement(),
		CanSwitch:    g.session.CanSwitchRole(),
		Permissions:  make(map[string]bool, len(perms)),
	}
	for _, p := range perms {
		s.Permissions[p] = g.Decide(p) == DecisionAllowed
	}
	return s
}

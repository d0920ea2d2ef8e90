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

package authz_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edusekai/edusekai/internal/authz"
	"github.com/edusekai/edusekai/internal/session"
)

func ownerSession() *session.Session {
	return &session.Session{
		UserID:      "u-owner",
		Roles:       []string{authz.RoleOwner, authz.RoleTeacher},
		ActiveRole:  authz.RoleOwner,
		Permissions: []string{authz.Wildcard},
	}
}

func teacherSession(perms ...string) *session.Session {
	return &session.Session{
		UserID:      "u-teacher",
		Roles:       []string{authz.RoleTeacher},
		ActiveRole:  authz.RoleTeacher,
		Permissions: perms,
	}
}

// TestPurpose: Validates the permission decision rule: absent set denies, wildcard allows, otherwise literal membership.
// Scope: Unit Test
// Test Case ID: AUTHZ-01
func TestGate_Can(t *testing.T) {
	tests := []struct {
		name    string
		session *session.Session
		perm    string
		want    bool
	}{
		{"no session", nil, authz.PermViewRole, false},
		{"nil permission set", &session.Session{ActiveRole: authz.RoleTeacher}, authz.PermViewRole, false},
		{"empty permission set", teacherSession(), authz.PermViewRole, false},
		{"wildcard", ownerSession(), authz.PermDeleteRole, true},
		{"literal member", teacherSession(authz.PermViewRole), authz.PermViewRole, true},
		{"literal non member", teacherSession(authz.PermViewRole), authz.PermEditRole, false},
		{"no prefix matching", teacherSession("view_role_extended"), authz.PermViewRole, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, authz.NewGate(tt.session).Can(tt.perm))
		})
	}
}

// TestPurpose: Validates that an owner holding only the wildcard is allowed capabilities that are never enumerated.
// Scope: Unit Test
// Test Case ID: AUTHZ-02
func TestGate_OwnerWildcard(t *testing.T) {
	g := authz.NewGate(ownerSession())

	assert.True(t, g.IsOwner())
	assert.True(t, g.Can(authz.PermEditInstitutionProfile))
	assert.Equal(t, authz.DecisionAllowed, g.Decide(authz.PermCreateAssignment))
	assert.NoError(t, g.Require(authz.PermActivateStudentPortal))
}

// TestPurpose: Validates that the owner shortcut applies even when the owner's permission list is enumerated without the requested literal.
// Scope: Unit Test
// Test Case ID: AUTHZ-03
func TestGate_OwnerShortcut(t *testing.T) {
	s := ownerSession()
	s.Permissions = []string{authz.PermViewRole}
	g := authz.NewGate(s)

	assert.False(t, g.Can(authz.PermChangeStudent))
	assert.Equal(t, authz.DecisionAllowed, g.Decide(authz.PermChangeStudent))
}

// TestPurpose: Validates that decisions are unknown until the session has loaded.
// Scope: Unit Test
// Test Case ID: AUTHZ-04
func TestGate_Pending(t *testing.T) {
	g := authz.PendingGate()

	assert.False(t, g.Loaded())
	assert.False(t, g.Can(authz.PermViewRole))
	assert.False(t, g.IsOwner())
	assert.Equal(t, authz.DecisionUnknown, g.Decide(authz.PermViewRole))
	assert.ErrorIs(t, g.Require(authz.PermViewRole), authz.ErrSessionPending)
	assert.Equal(t, "unknown", g.Decide(authz.PermViewRole).String())
}

func TestGate_Denied(t *testing.T) {
	g := authz.NewGate(teacherSession(authz.PermViewRole))

	assert.Equal(t, authz.DecisionDenied, g.Decide(authz.PermDeleteRole))
	assert.ErrorIs(t, g.Require(authz.PermDeleteRole), authz.ErrAccessDenied)
	assert.False(t, g.IsManagement())
	assert.Equal(t, authz.RoleTeacher, g.ActiveRole())
}

// TestPurpose: Validates that switching the active role changes owner status without touching the permission set.
// Scope: Unit Test
// Test Case ID: AUTHZ-05
func TestGate_RoleSwitch(t *testing.T) {
	s := ownerSession()
	s.Permissions = []string{authz.PermViewRole}

	switched, err := s.WithActiveRole(authz.RoleTeacher)
	require.NoError(t, err)

	before := authz.NewGate(s)
	after := authz.NewGate(switched)
	assert.True(t, before.IsOwner())
	assert.False(t, after.IsOwner())
	assert.Equal(t, authz.DecisionAllowed, before.Decide(authz.PermEditRole))
	assert.Equal(t, authz.DecisionDenied, after.Decide(authz.PermEditRole))
}

func TestGate_Summarize(t *testing.T) {
	sum := authz.NewGate(ownerSession()).Summarize(authz.RolePermissions...)

	assert.Equal(t, authz.RoleOwner, sum.ActiveRole)
	assert.True(t, sum.IsOwner)
	assert.True(t, sum.IsManagement)
	assert.True(t, sum.CanSwitch)
	assert.Len(t, sum.Permissions, 4)
	for _, p := range authz.RolePermissions {
		assert.True(t, sum.Permissions[p], p)
	}

	teacher := authz.NewGate(teacherSession(authz.PermViewRole)).Summarize(authz.RolePermissions...)
	assert.False(t, teacher.IsManagement)
	assert.True(t, teacher.Permissions[authz.PermViewRole])
	assert.False(t, teacher.Permissions[authz.PermDeleteRole])
}

// TestPurpose: Validates navigation visibility per active role, including the management section and the roles entry.
// Scope: Unit Test
// Test Case ID: AUTHZ-06
func TestMenuPolicy_Sections(t *testing.T) {
	ctx := context.Background()
	p, err := authz.NewMenuPolicy(ctx)
	require.NoError(t, err)

	tests := []struct {
		name    string
		session *session.Session
		want    []string
	}{
		{"owner", ownerSession(), []string{"academic", "dashboard", "institution", "profile", "roles"}},
		{"staff without role permission", &session.Session{ActiveRole: authz.RoleStaff, Roles: []string{authz.RoleStaff}}, []string{"academic", "dashboard", "institution", "profile"}},
		{"teacher with view_role", teacherSession(authz.PermViewRole), []string{"academic", "dashboard", "profile", "roles"}},
		{"teacher", teacherSession(), []string{"academic", "dashboard", "profile"}},
		{"signed out", nil, []string{"academic", "dashboard", "profile"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Sections(ctx, authz.NewGate(tt.session))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err = p.Sections(ctx, authz.PendingGate())
	assert.ErrorIs(t, err, authz.ErrSessionPending)
}

func TestMenuPolicy_MenuKeepsDisplayOrder(t *testing.T) {
	ctx := context.Background()
	p, err := authz.NewMenuPolicy(ctx)
	require.NoError(t, err)

	items, err := p.Menu(ctx, authz.NewGate(ownerSession()))
	require.NoError(t, err)

	keys := make([]string, 0, len(items))
	for _, it := range items {
		keys = append(keys, it.Key)
	}
	assert.Equal(t, []string{"dashboard", "academic", "profile", "institution", "roles"}, keys)
}

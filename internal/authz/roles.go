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

package authz

import "github.com/edusekai/edusekai/internal/session"

// -----------------------------------------------------------------------------
// Role Name Constants
// These are the role identifiers reported by the backend in /auth/me/.
// -----------------------------------------------------------------------------

const (
	// RoleOwner is the institution owner. The backend reports its
	// permissions as the wildcard.
	RoleOwner = "owner"

	// RoleStaff manages the institution alongside the owner.
	RoleStaff = "staff"

	// RoleTeacher and RoleStudent are ordinary tenant roles.
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// ManagementRoles see the institution management menu.
var ManagementRoles = []string{RoleOwner, RoleStaff}

// Wildcard grants every permission.
const Wildcard = session.WildcardPermission

// -----------------------------------------------------------------------------
// Permission Codenames
// These mirror the backend permission catalogue.
// -----------------------------------------------------------------------------

const (
	PermViewRole   = "view_role"
	PermCreateRole = "create_role"
	PermEditRole   = "edit_role"
	PermDeleteRole = "delete_role"

	PermViewInstitutionProfile = "view_institution_profile"
	PermEditInstitutionProfile = "edit_institution_profile"

	PermChangeStudent         = "change_student"
	PermActivateStudentPortal = "activate_student_portal"
	PermCreateAssignment      = "create_assignment"
)

// RolePermissions lists every role-management permission.
var RolePermissions = []string{
	PermViewRole,
	PermCreateRole,
	PermEditRole,
	PermDeleteRole,
}

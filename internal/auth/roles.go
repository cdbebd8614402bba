package auth

import (
	"slices"
	"strings"
	"time"
)

// Role is the closed set of membership roles.
type Role string

const (
	RoleClient        Role = "CLIENT"
	RoleEmployee      Role = "EMPLOYEE"
	RoleSupportWorker Role = "SUPPORT_WORKER"
	RoleManager       Role = "MANAGER"
	RoleAdmin         Role = "ADMIN"
	RoleOwner         Role = "OWNER"
	RoleViewer        Role = "VIEWER"
)

var allRoles = []Role{RoleClient, RoleEmployee, RoleSupportWorker, RoleManager, RoleAdmin, RoleOwner, RoleViewer}

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if slices.Contains(allRoles, r) {
		return r, true
	}
	return "", false
}

// IsClient reports whether the role belongs to the client family.
func (r Role) IsClient() bool { return r == RoleClient }

// IsStaff reports whether the role belongs to the staff family.
func (r Role) IsStaff() bool { return r != "" && r != RoleClient && slices.Contains(allRoles, r) }

// Roles an admin may assign through employee management.
var assignableEmployeeRoles = []Role{RoleEmployee, RoleSupportWorker, RoleManager, RoleAdmin}

// Roles that may sign in through the staff portal.
var staffPortalRoles = []Role{RoleEmployee, RoleSupportWorker, RoleManager, RoleAdmin, RoleOwner}

// Roles counted in employee listings and role summaries.
var listedEmployeeRoles = []Role{RoleAdmin, RoleManager, RoleSupportWorker, RoleEmployee}

// Permission names a tenant scoped operation.
type Permission string

const (
	PermManageEmployees     Permission = "manage_employees"
	PermListEmployees       Permission = "list_employees"
	PermInviteMembers       Permission = "invite_members"
	PermViewEmployeeProfile Permission = "view_employee_profile"
	PermViewClientProfile   Permission = "view_client_profile"
	PermManageAgreements    Permission = "manage_agreements"
)

// permissionTable lists the roles allowed to perform each operation.
var permissionTable = map[Permission][]Role{
	PermManageEmployees:     {RoleAdmin, RoleOwner},
	PermListEmployees:       {RoleAdmin, RoleOwner, RoleManager, RoleViewer},
	PermInviteMembers:       {RoleAdmin, RoleOwner},
	PermViewEmployeeProfile: {RoleEmployee, RoleAdmin, RoleSupportWorker},
	PermViewClientProfile:   {RoleClient},
	PermManageAgreements:    {RoleAdmin, RoleOwner, RoleManager},
}

// Allows reports whether role is in the allowed set for perm.
func (p Permission) Allows(role Role) bool {
	return slices.Contains(permissionTable[p], role)
}

// MembershipPatch is an optional-field update of a membership.
type MembershipPatch struct {
	Role     *Role `json:"role,omitempty"`
	IsActive *bool `json:"is_active,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p MembershipPatch) Empty() bool {
	return p.Role == nil && p.IsActive == nil
}

// ApplyMembershipPatch returns a copy of m with the patch merged in.
// Deactivation stamps LeftAt; reactivation clears it.
func ApplyMembershipPatch(m Membership, p MembershipPatch, now time.Time) Membership {
	out := m
	if p.Role != nil {
		out.Role = *p.Role
	}
	if p.IsActive != nil && *p.IsActive != m.IsActive {
		out.IsActive = *p.IsActive
		if out.IsActive {
			out.LeftAt = nil
		} else {
			t := now
			out.LeftAt = &t
		}
	}
	return out
}

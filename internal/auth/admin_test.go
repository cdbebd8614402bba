package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/auxora-tech/casa-saas/internal/auth"
)

func (h *harness) company(t *testing.T, email, name string) (*auth.AuthResult, string) {
	t.Helper()
	in := signupInput(email)
	in.CompanyName = name
	res := h.signup(t, auth.PortalCompany, in)
	return res, res.Memberships[0].TenantID
}

func TestClientIsDeniedEveryAdminOperation(t *testing.T) {
	h := newHarness(t)
	client := principalOf(h.signup(t, auth.PortalClient, signupInput("client@example.com")))
	staff := h.signup(t, auth.PortalEmployee, signupInput("staff@example.com"))
	ctx := context.Background()
	tenantID := h.tenant.ID
	role := auth.RoleManager

	checks := map[string]error{}
	_, checks["add"] = h.svc.AdminAddEmployee(ctx, client, tenantID, auth.AddEmployeeInput{Email: "x@example.com", FirstName: "X", LastName: "Y"}, rc)
	_, checks["list"] = h.svc.AdminListEmployees(ctx, client, tenantID)
	_, checks["update"] = h.svc.AdminUpdateEmployee(ctx, client, tenantID, staff.User.ID, auth.MembershipPatch{Role: &role}, rc)
	_, checks["invite"] = h.svc.AdminInviteMember(ctx, client, tenantID, auth.InviteInput{Email: "y@example.com", Role: "EMPLOYEE"}, rc)
	_, checks["employee_profile"] = h.svc.CheckEmployeeProfileAccess(ctx, client, tenantID)
	_, checks["agreements"] = h.svc.Authorize(ctx, client.User.ID, tenantID, auth.PermManageAgreements)
	for op, err := range checks {
		if auth.KindOf(err) != auth.KindAccessDenied {
			t.Fatalf("%s: expected access_denied, got %v", op, err)
		}
	}
	if _, err := h.svc.CheckClientProfileAccess(ctx, client, tenantID); err != nil {
		t.Fatalf("client profile access: %v", err)
	}
	if h.notifier.count() != 0 {
		t.Fatalf("denied operations must not send anything")
	}
}

func TestNonMemberIsDeniedNotNotFound(t *testing.T) {
	h := newHarness(t)
	outsider := principalOf(h.signup(t, auth.PortalClient, signupInput("out@example.com")))
	_, tenantID := h.company(t, "boss@example.com", "Closed Co")

	_, err := h.svc.AdminListEmployees(context.Background(), outsider, tenantID)
	expectKind(t, err, auth.KindAccessDenied)
	_, err = h.svc.AdminListEmployees(context.Background(), outsider, "01JUNKNOWNTENANT0000000000")
	expectKind(t, err, auth.KindAccessDenied)
}

func TestAdminCannotModifySelf(t *testing.T) {
	h := newHarness(t)
	admin, tenantID := h.company(t, "self@example.com", "Self Co")
	active := false
	role := auth.RoleEmployee

	for _, patch := range []auth.MembershipPatch{{IsActive: &active}, {Role: &role}} {
		_, err := h.svc.AdminUpdateEmployee(context.Background(), principalOf(admin), tenantID, admin.User.ID, patch, rc)
		expectKind(t, err, auth.KindAccessDenied)
	}
	m, err := h.store.Memberships().Find(context.Background(), admin.User.ID, tenantID)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if m.Role != auth.RoleAdmin || !m.IsActive {
		t.Fatalf("membership must be unchanged, got %+v", m)
	}
}

func TestAddListAndUpdateEmployees(t *testing.T) {
	h := newHarness(t)
	admin, tenantID := h.company(t, "hr@example.com", "Care Co")
	actor := principalOf(admin)
	ctx := context.Background()

	withPassword, err := h.svc.AdminAddEmployee(ctx, actor, tenantID, auth.AddEmployeeInput{
		Email: "worker@example.com", FirstName: "Wes", LastName: "Tan", Password: goodPassword, Role: "support_worker",
	}, rc)
	if err != nil {
		t.Fatalf("add with password: %v", err)
	}
	if withPassword.InviteSent || withPassword.Membership.Role != auth.RoleSupportWorker {
		t.Fatalf("unexpected result %+v", withPassword)
	}

	invited, err := h.svc.AdminAddEmployee(ctx, actor, tenantID, auth.AddEmployeeInput{
		Email: "newbie@example.com", FirstName: "Nia", LastName: "Ola",
	}, rc)
	if err != nil {
		t.Fatalf("add without password: %v", err)
	}
	if !invited.InviteSent || !invited.Delivered || invited.Membership.Role != auth.RoleEmployee {
		t.Fatalf("expected an invite for a passwordless employee, got %+v", invited)
	}
	if d := h.notifier.last(t); d.kind != auth.PurposeInvite || d.data.TenantName != "Care Co" {
		t.Fatalf("unexpected invite delivery %+v", d)
	}

	_, err = h.svc.AdminAddEmployee(ctx, actor, tenantID, auth.AddEmployeeInput{
		Email: "WORKER@example.com", FirstName: "Wes", LastName: "Tan",
	}, rc)
	expectKind(t, err, auth.KindConflict)
	_, err = h.svc.AdminAddEmployee(ctx, actor, tenantID, auth.AddEmployeeInput{
		Email: "c@example.com", FirstName: "C", LastName: "D", Role: "CLIENT",
	}, rc)
	expectKind(t, err, auth.KindValidation)

	list, err := h.svc.AdminListEmployees(ctx, actor, tenantID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.TotalCount != 3 {
		t.Fatalf("expected 3 employees, got %d", list.TotalCount)
	}
	want := map[auth.Role]int{auth.RoleAdmin: 1, auth.RoleManager: 0, auth.RoleSupportWorker: 1, auth.RoleEmployee: 1}
	for role, n := range want {
		if list.RoleSummary[role] != n {
			t.Fatalf("role summary %s = %d, want %d", role, list.RoleSummary[role], n)
		}
	}
	var current int
	for _, e := range list.Employees {
		if e.IsCurrentUser {
			current++
		}
	}
	if current != 1 {
		t.Fatalf("expected the caller flagged once, got %d", current)
	}

	h.clock.Advance(time.Minute)
	inactive := false
	updated, err := h.svc.AdminUpdateEmployee(ctx, actor, tenantID, withPassword.User.ID, auth.MembershipPatch{IsActive: &inactive}, rc)
	if err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if updated.IsActive || updated.LeftAt == nil || !updated.LeftAt.Equal(h.clock.Now()) {
		t.Fatalf("expected inactive membership with left_at, got %+v", updated)
	}
	if _, err := h.svc.AdminUpdateEmployee(ctx, actor, tenantID, withPassword.User.ID, auth.MembershipPatch{}, rc); auth.KindOf(err) != auth.KindValidation {
		t.Fatalf("expected empty patch to be rejected, got %v", err)
	}
	owner := auth.RoleOwner
	if _, err := h.svc.AdminUpdateEmployee(ctx, actor, tenantID, withPassword.User.ID, auth.MembershipPatch{Role: &owner}, rc); auth.KindOf(err) != auth.KindValidation {
		t.Fatalf("expected OWNER to be unassignable, got %v", err)
	}
	if entries := h.store.AuditEntries(auth.ActionEmployeeUpdated); len(entries) != 1 {
		t.Fatalf("expected one audited update, got %d", len(entries))
	}
}

func TestInviteAcceptanceCreatesMembership(t *testing.T) {
	h := newHarness(t)
	admin, tenantID := h.company(t, "lead@example.com", "Invite Co")
	ctx := context.Background()

	res, err := h.svc.AdminInviteMember(ctx, principalOf(admin), tenantID, auth.InviteInput{Email: "Guest@Example.com", Role: "manager"}, rc)
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if res.Email != "guest@example.com" || res.Role != auth.RoleManager || !res.Delivered {
		t.Fatalf("unexpected invite result %+v", res)
	}

	accepted, err := h.svc.VerifyMagicLink(ctx, h.notifier.lastToken(t), rc)
	if err != nil {
		t.Fatalf("accept invite: %v", err)
	}
	role, ok, err := h.svc.ResolveRole(ctx, accepted.User.ID, tenantID)
	if err != nil || !ok || role != auth.RoleManager {
		t.Fatalf("expected MANAGER membership, got %s %v %v", role, ok, err)
	}

	_, err = h.svc.AdminInviteMember(ctx, principalOf(admin), tenantID, auth.InviteInput{Email: "guest@example.com", Role: "EMPLOYEE"}, rc)
	expectKind(t, err, auth.KindConflict)
	_, err = h.svc.AdminInviteMember(ctx, principalOf(admin), tenantID, auth.InviteInput{Email: "x@example.com", Role: "OWNER"}, rc)
	expectKind(t, err, auth.KindValidation)
}

func TestCreateTenantAndProfile(t *testing.T) {
	h := newHarness(t)
	client := h.signup(t, auth.PortalClient, signupInput("dual@example.com"))
	ctx := context.Background()

	profile, err := h.svc.CurrentUserProfile(ctx, principalOf(client))
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.UserType != "client" || len(profile.Memberships) != 1 {
		t.Fatalf("unexpected client profile %+v", profile)
	}

	view, err := h.svc.CreateTenant(ctx, principalOf(client), auth.CreateTenantInput{Name: "  Own Co  "}, rc)
	if err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	if view.Role != auth.RoleAdmin || view.TenantName != "Own Co" {
		t.Fatalf("unexpected membership %+v", view)
	}
	_, err = h.svc.CreateTenant(ctx, principalOf(client), auth.CreateTenantInput{Name: "Own Co"}, rc)
	expectKind(t, err, auth.KindConflict)

	profile, err = h.svc.CurrentUserProfile(ctx, principalOf(client))
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.UserType != "employee" || len(profile.Memberships) != 2 {
		t.Fatalf("expected employee user type with two memberships, got %+v", profile)
	}
}

func TestApplyMembershipPatchIsPure(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	left := now.Add(-time.Hour)
	base := auth.Membership{ID: "m1", Role: auth.RoleEmployee, IsActive: false, LeftAt: &left}
	active := true
	role := auth.RoleManager

	out := auth.ApplyMembershipPatch(base, auth.MembershipPatch{Role: &role, IsActive: &active}, now)
	if out.Role != auth.RoleManager || !out.IsActive || out.LeftAt != nil {
		t.Fatalf("unexpected patched membership %+v", out)
	}
	if base.Role != auth.RoleEmployee || base.IsActive || base.LeftAt != &left {
		t.Fatalf("input membership was mutated: %+v", base)
	}
	if same := auth.ApplyMembershipPatch(base, auth.MembershipPatch{}, now); same.Role != base.Role || same.IsActive != base.IsActive {
		t.Fatalf("empty patch must not change anything")
	}
}

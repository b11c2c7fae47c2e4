package alertaccess

import (
	"testing"

	"github.com/google/uuid"
)

func TestHasPermissionIsAdditiveAcrossRoles(t *testing.T) {
	if HasPermission(RoleViewer, PermAcknowledge) {
		t.Fatal("viewer should not acknowledge")
	}
	if !HasPermission(RoleOperator, PermAcknowledge) {
		t.Fatal("operator should acknowledge")
	}
	if HasPermission(RoleOperator, PermResolve) {
		t.Fatal("operator should not resolve")
	}
	if !HasPermission(RoleAdmin, PermResolve) {
		t.Fatal("admin should resolve")
	}
	if HasPermission(RoleAdmin, PermEscalate) {
		t.Fatal("admin should not escalate")
	}
	if !HasPermission(RoleOwner, PermEscalate) {
		t.Fatal("owner should escalate")
	}
}

func TestCanAccessAlertEnforcesOrgDeptTeamScoping(t *testing.T) {
	org := uuid.New()
	ctx := UserContext{OrganizationID: org, DepartmentID: "platform", TeamID: "sre"}

	if CanAccessAlert(ctx, AlertView{OrganizationID: uuid.New()}) {
		t.Fatal("expected cross-org alert denied")
	}
	if !CanAccessAlert(ctx, AlertView{OrganizationID: org}) {
		t.Fatal("expected same-org alert with no dept/team set to be allowed")
	}
	if !CanAccessAlert(ctx, AlertView{OrganizationID: org, DepartmentID: "platform"}) {
		t.Fatal("expected matching department allowed")
	}
	if CanAccessAlert(ctx, AlertView{OrganizationID: org, DepartmentID: "billing"}) {
		t.Fatal("expected mismatched department denied")
	}
	if CanAccessAlert(ctx, AlertView{OrganizationID: org, DepartmentID: "platform", TeamID: "web"}) {
		t.Fatal("expected mismatched team denied")
	}
}

func TestPreventCrossOrganizationAccess(t *testing.T) {
	org := uuid.New()
	ctx := UserContext{OrganizationID: org}
	if err := PreventCrossOrganizationAccess(ctx, org); err != nil {
		t.Fatalf("expected same-org access permitted, got %v", err)
	}
	if err := PreventCrossOrganizationAccess(ctx, uuid.New()); err != ErrCrossOrganization {
		t.Fatalf("expected ErrCrossOrganization, got %v", err)
	}
}

func TestValidateAlertOperationChecksRoleAndScope(t *testing.T) {
	org := uuid.New()
	viewer := UserContext{OrganizationID: org, Role: RoleViewer}
	admin := UserContext{OrganizationID: org, Role: RoleAdmin}
	alert := AlertView{OrganizationID: org}

	if d := ValidateAlertOperation(viewer, OpResolve, &alert); d.Allowed {
		t.Fatal("expected viewer denied resolve")
	}
	if d := ValidateAlertOperation(admin, OpResolve, &alert); !d.Allowed {
		t.Fatalf("expected admin permitted resolve, got %+v", d)
	}

	crossTenant := AlertView{OrganizationID: uuid.New()}
	if d := ValidateAlertOperation(admin, OpResolve, &crossTenant); d.Allowed {
		t.Fatal("expected cross-tenant alert denied even for admin")
	}
}

func TestSanitizeAlertForUserStripsInternalsForNonAdmin(t *testing.T) {
	org := uuid.New()
	sanitizable := Sanitizable{
		AlertView:     AlertView{ID: uuid.New(), OrganizationID: org},
		Title:         "destination unhealthy",
		SystemDetails: []byte(`{"stack":"trace"}`),
	}

	operator := UserContext{OrganizationID: org, Role: RoleOperator}
	out := SanitizeAlertForUser(operator, sanitizable)
	if out == nil {
		t.Fatal("expected sanitized alert for same-org operator")
	}
	if out.InternalDetails != nil {
		t.Fatal("expected internal details stripped for operator")
	}

	admin := UserContext{OrganizationID: org, Role: RoleAdmin}
	out = SanitizeAlertForUser(admin, sanitizable)
	if out == nil || string(out.InternalDetails) != `{"stack":"trace"}` {
		t.Fatalf("expected internal details preserved for admin, got %+v", out)
	}

	crossTenant := UserContext{OrganizationID: uuid.New(), Role: RoleAdmin}
	if SanitizeAlertForUser(crossTenant, sanitizable) != nil {
		t.Fatal("expected nil for cross-tenant access")
	}
}

func TestCreateAuditLogEntryCapturesActorAndOperation(t *testing.T) {
	actor := uuid.New()
	org := uuid.New()
	ctx := UserContext{UserID: actor, OrganizationID: org, Role: RoleAdmin}

	entry := CreateAuditLogEntry(ctx, OpResolve, "alert", "al_123", nil)
	if entry.ActorID != actor || entry.OrganizationID != org || entry.Operation != OpResolve || entry.ResourceID != "al_123" {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
}

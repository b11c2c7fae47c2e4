// Package alertaccess implements the Alert Access Control layer: the
// role→permission table, tenant/department/team scoping, sanitization, and
// audit-log record shape the Alert Manager's *WithAuth operations are built
// on.
package alertaccess

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role is an operator's role within an organization.
type Role string

const (
	RoleViewer   Role = "viewer"
	RoleOperator Role = "operator"
	RoleAdmin    Role = "admin"
	RoleOwner    Role = "owner"
)

// Permission is one capability gated by role.
type Permission string

const (
	PermView                  Permission = "view_alerts"
	PermAcknowledge           Permission = "acknowledge_alerts"
	PermResolve               Permission = "resolve_alerts"
	PermConfigureThresholds   Permission = "configure_thresholds"
	PermManageMaintenance     Permission = "manage_maintenance_windows"
	PermSuppress              Permission = "suppress_alerts"
	PermEscalate              Permission = "escalate_alerts"
)

// rolePermissions is the role→permission table from spec §4.9. Each role's
// set is additive over the one above it.
var rolePermissions = map[Role]map[Permission]bool{
	RoleViewer: {
		PermView: true,
	},
	RoleOperator: {
		PermView:        true,
		PermAcknowledge: true,
	},
	RoleAdmin: {
		PermView:                true,
		PermAcknowledge:         true,
		PermResolve:             true,
		PermConfigureThresholds: true,
		PermManageMaintenance:   true,
		PermSuppress:            true,
	},
	RoleOwner: {
		PermView:                true,
		PermAcknowledge:         true,
		PermResolve:             true,
		PermConfigureThresholds: true,
		PermManageMaintenance:   true,
		PermSuppress:            true,
		PermEscalate:            true,
	},
}

// HasPermission reports whether role carries perm.
func HasPermission(role Role, perm Permission) bool {
	return rolePermissions[role][perm]
}

// UserContext identifies the acting operator for an alert operation.
type UserContext struct {
	UserID         uuid.UUID
	OrganizationID uuid.UUID
	DepartmentID   string
	TeamID         string
	Role           Role
}

// AlertView is the subset of an alert's identity the access control layer
// needs; pkg/alertmanager builds one from its Alert with Alert.toView.
type AlertView struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	DestinationID  uuid.UUID
	DepartmentID   string
	TeamID         string
}

// ErrCrossOrganization is returned by PreventCrossOrganizationAccess.
var ErrCrossOrganization = fmt.Errorf("cross-organization access denied")

// CanAccessAlert implements the scoping predicate from spec §4.9: same
// organization, and if the context carries a department/team, the alert's
// must either be unset or match.
func CanAccessAlert(ctx UserContext, alert AlertView) bool {
	if ctx.OrganizationID != alert.OrganizationID {
		return false
	}
	if ctx.DepartmentID != "" && alert.DepartmentID != "" && ctx.DepartmentID != alert.DepartmentID {
		return false
	}
	if ctx.TeamID != "" && alert.TeamID != "" && ctx.TeamID != alert.TeamID {
		return false
	}
	return true
}

// PreventCrossOrganizationAccess raises ErrCrossOrganization if ctx's
// organization does not match organizationID.
func PreventCrossOrganizationAccess(ctx UserContext, organizationID uuid.UUID) error {
	if ctx.OrganizationID != organizationID {
		return ErrCrossOrganization
	}
	return nil
}

// Operation is a named alert mutation gated by ValidateAlertOperation.
type Operation string

const (
	OpView                Operation = "view"
	OpAcknowledge         Operation = "acknowledge"
	OpResolve             Operation = "resolve"
	OpConfigureThresholds Operation = "configure_thresholds"
	OpManageMaintenance   Operation = "manage_maintenance_windows"
	OpSuppress            Operation = "suppress"
	OpEscalate            Operation = "escalate"
)

var operationPermission = map[Operation]Permission{
	OpView:                PermView,
	OpAcknowledge:         PermAcknowledge,
	OpResolve:             PermResolve,
	OpConfigureThresholds: PermConfigureThresholds,
	OpManageMaintenance:   PermManageMaintenance,
	OpSuppress:            PermSuppress,
	OpEscalate:            PermEscalate,
}

// Decision is the result of ValidateAlertOperation.
type Decision struct {
	Allowed bool
	Reason  string
}

// ValidateAlertOperation checks role permission and, when alert is non-nil,
// tenant/department/team scoping, returning a reasoned decision instead of
// an error so callers can surface the reason to the operator.
func ValidateAlertOperation(ctx UserContext, op Operation, alert *AlertView) Decision {
	perm, known := operationPermission[op]
	if !known {
		return Decision{Allowed: false, Reason: fmt.Sprintf("unknown operation %q", op)}
	}
	if !HasPermission(ctx.Role, perm) {
		return Decision{Allowed: false, Reason: fmt.Sprintf("role %q lacks permission %q", ctx.Role, perm)}
	}
	if alert != nil && !CanAccessAlert(ctx, *alert) {
		return Decision{Allowed: false, Reason: "alert is outside the caller's organization/department/team scope"}
	}
	return Decision{Allowed: true}
}

// SanitizedAlert is the operator-facing projection produced by
// SanitizeAlertForUser: internal fields are stripped for non-admin roles.
type SanitizedAlert struct {
	ID              uuid.UUID       `json:"id"`
	OrganizationID  uuid.UUID       `json:"organizationId"`
	DestinationID   uuid.UUID       `json:"destinationId,omitempty"`
	Type            string          `json:"type"`
	Severity        string          `json:"severity"`
	Title           string          `json:"title"`
	Description     string          `json:"description"`
	Status          string          `json:"status"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
	InternalDetails json.RawMessage `json:"internalDetails,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// Sanitizable is the superset of alert fields SanitizeAlertForUser reads
// from; pkg/alertmanager builds one from its Alert with Alert.toSanitizable.
type Sanitizable struct {
	AlertView
	Type            string
	Severity        string
	Title           string
	Description     string
	Status          string
	Metadata        json.RawMessage
	InternalMetadata json.RawMessage
	SystemDetails   json.RawMessage
	CreatedAt       time.Time
}

// SanitizeAlertForUser strips internalMetadata/systemDetails for non-admin
// roles and returns nil for cross-tenant access (spec §4.9).
func SanitizeAlertForUser(ctx UserContext, alert Sanitizable) *SanitizedAlert {
	if !CanAccessAlert(ctx, alert.AlertView) {
		return nil
	}

	out := &SanitizedAlert{
		ID:             alert.ID,
		OrganizationID: alert.OrganizationID,
		DestinationID:  alert.DestinationID,
		Type:           alert.Type,
		Severity:       alert.Severity,
		Title:          alert.Title,
		Description:    alert.Description,
		Status:         alert.Status,
		Metadata:       alert.Metadata,
		CreatedAt:      alert.CreatedAt,
	}

	if ctx.Role == RoleAdmin || ctx.Role == RoleOwner {
		out.InternalDetails = alert.SystemDetails
	}
	return out
}

// AuditLogEntry is a structured record suitable for external persistence,
// mirroring the shape the teacher's audit writer produces.
type AuditLogEntry struct {
	ActorID        uuid.UUID       `json:"actorId"`
	OrganizationID uuid.UUID       `json:"organizationId"`
	Operation      Operation       `json:"operation"`
	ResourceType   string          `json:"resourceType"`
	ResourceID     string          `json:"resourceId"`
	Details        json.RawMessage `json:"details,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// CreateAuditLogEntry builds the audit record for an alert operation. It
// does not persist the entry; callers hand it to whatever audit sink the
// deployment wires.
func CreateAuditLogEntry(ctx UserContext, op Operation, resourceType, resourceID string, details json.RawMessage) AuditLogEntry {
	return AuditLogEntry{
		ActorID:        ctx.UserID,
		OrganizationID: ctx.OrganizationID,
		Operation:      op,
		ResourceType:   resourceType,
		ResourceID:     resourceID,
		Details:        details,
		Timestamp:      time.Now(),
	}
}

// FilterAlerts keeps only the alerts ctx may access. GetAlertsForUser does
// not use it; it calls CanAccessAlert per alert itself.
func FilterAlerts(ctx context.Context, c UserContext, alerts []AlertView) []AlertView {
	out := make([]AlertView, 0, len(alerts))
	for _, a := range alerts {
		if CanAccessAlert(c, a) {
			out = append(out, a)
		}
	}
	return out
}

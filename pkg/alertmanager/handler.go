package alertmanager

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/relay/internal/auditlog"
	"github.com/wisbric/relay/internal/httpserver"
	"github.com/wisbric/relay/pkg/alertaccess"
	"github.com/wisbric/relay/pkg/alertdebounce"
	"github.com/wisbric/relay/pkg/orgctx"
)

// Handler provides HTTP handlers for the alerts, alert-configs, and
// maintenance-windows APIs.
type Handler struct {
	manager *Manager
	logger  *slog.Logger
	auditor *auditlog.Writer
}

// NewHandler creates an alertmanager Handler.
func NewHandler(manager *Manager, logger *slog.Logger, auditor *auditlog.Writer) *Handler {
	return &Handler{manager: manager, logger: logger, auditor: auditor}
}

// logAudit converts an alertaccess audit record into an auditlog entry and
// enqueues it. Called after a mutation succeeds.
func (h *Handler) logAudit(entry alertaccess.AuditLogEntry) {
	h.auditor.Log(auditlog.Entry{
		ActorID:        entry.ActorID,
		OrganizationID: entry.OrganizationID,
		Action:         string(entry.Operation),
		ResourceType:   entry.ResourceType,
		ResourceID:     entry.ResourceID,
		Detail:         entry.Details,
		Timestamp:      entry.Timestamp,
	})
}

// userContextFromRequest extracts the caller's alert access context from
// headers. Like orgctx.HeaderResolver, it assumes authentication has
// already happened upstream (gateway or sidecar) and this trusts the
// identity it was handed; a production deployment wraps this resolver with
// its own token verification instead of replacing it.
func userContextFromRequest(r *http.Request) alertaccess.UserContext {
	ctx := alertaccess.UserContext{
		OrganizationID: orgctx.FromContext(r.Context()),
		DepartmentID:   r.Header.Get("X-Department-ID"),
		TeamID:         r.Header.Get("X-Team-ID"),
		Role:           alertaccess.Role(r.Header.Get("X-User-Role")),
	}
	if id, err := uuid.Parse(r.Header.Get("X-User-ID")); err == nil {
		ctx.UserID = id
	}
	if ctx.Role == "" {
		ctx.Role = alertaccess.RoleViewer
	}
	return ctx
}

// AlertsRoutes returns a chi.Router with the alert lifecycle routes mounted.
func (h *Handler) AlertsRoutes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.handleList)
	r.Route("/{alertId}", func(r chi.Router) {
		r.Post("/acknowledge", h.handleAcknowledge)
		r.Post("/resolve", h.handleResolve)
		r.Post("/suppress", h.handleSuppress)
	})
	return r
}

// ConfigRoutes returns a chi.Router with the alert-config routes mounted.
func (h *Handler) ConfigRoutes() chi.Router {
	r := chi.NewRouter()
	r.Put("/", h.handleConfigureThresholds)
	return r
}

// MaintenanceRoutes returns a chi.Router with the maintenance-window routes
// mounted.
func (h *Handler) MaintenanceRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleAddMaintenanceWindow)
	return r
}

func (h *Handler) respondManagerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrAccessDenied):
		httpserver.RespondError(w, http.StatusForbidden, "access_denied", err.Error())
	case errors.Is(err, ErrNotFound):
		httpserver.RespondError(w, http.StatusNotFound, "not_found", err.Error())
	default:
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	userCtx := userContextFromRequest(r)
	o := ListOptions{Limit: 50}
	q := r.URL.Query()
	if s := q.Get("status"); s != "" {
		status := Status(s)
		o.Status = &status
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		o.Limit = limit
	}
	if offset, err := strconv.Atoi(q.Get("offset")); err == nil && offset > 0 {
		o.Offset = offset
	}

	alerts, err := h.manager.GetAlertsForUser(r.Context(), userCtx, o)
	if err != nil {
		h.respondManagerError(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, alerts)
}

func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "alertId"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_id", "invalid alert id")
		return
	}
	userCtx := userContextFromRequest(r)
	updated, err := h.manager.AcknowledgeAlert(r.Context(), userCtx, id)
	if err != nil {
		h.respondManagerError(w, err)
		return
	}
	h.logAudit(alertaccess.CreateAuditLogEntry(userCtx, alertaccess.OpAcknowledge, "alert", id.String(), nil))
	httpserver.Respond(w, http.StatusOK, updated)
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "alertId"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_id", "invalid alert id")
		return
	}
	var body struct {
		Notes string `json:"notes"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	userCtx := userContextFromRequest(r)
	updated, err := h.manager.ResolveAlert(r.Context(), userCtx, id, body.Notes)
	if err != nil {
		h.respondManagerError(w, err)
		return
	}
	detail, _ := json.Marshal(map[string]string{"notes": body.Notes})
	h.logAudit(alertaccess.CreateAuditLogEntry(userCtx, alertaccess.OpResolve, "alert", id.String(), detail))
	httpserver.Respond(w, http.StatusOK, updated)
}

func (h *Handler) handleSuppress(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AlertType     string    `json:"alertType" validate:"required"`
		DestinationID uuid.UUID `json:"destinationId"`
		Minutes       int       `json:"minutes" validate:"required,min=1"`
	}
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	userCtx := userContextFromRequest(r)
	if err := h.manager.SuppressAlertsWithAuth(r.Context(), userCtx, body.AlertType, body.DestinationID, body.Minutes); err != nil {
		h.respondManagerError(w, err)
		return
	}
	detail, _ := json.Marshal(map[string]any{"alertType": body.AlertType, "destinationId": body.DestinationID, "minutes": body.Minutes})
	h.logAudit(alertaccess.CreateAuditLogEntry(userCtx, alertaccess.OpSuppress, "alert_type", body.AlertType, detail))
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleConfigureThresholds(w http.ResponseWriter, r *http.Request) {
	var body struct {
		FailureRateThreshold        float64 `json:"failureRateThreshold"`
		ConsecutiveFailureThreshold int     `json:"consecutiveFailureThreshold"`
		QueueBacklogThreshold       int64   `json:"queueBacklogThreshold"`
		ResponseTimeThresholdMS     int64   `json:"responseTimeThresholdMs"`
		DebounceWindowMinutes       int     `json:"debounceWindowMinutes"`
		EscalationDelayMinutes      int     `json:"escalationDelayMinutes"`
	}
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	cfg := Config{
		OrganizationID:              orgctx.FromContext(r.Context()),
		FailureRateThreshold:        body.FailureRateThreshold,
		ConsecutiveFailureThreshold: body.ConsecutiveFailureThreshold,
		QueueBacklogThreshold:       body.QueueBacklogThreshold,
		ResponseTimeThreshold:       time.Duration(body.ResponseTimeThresholdMS) * time.Millisecond,
		DebounceWindowMinutes:       body.DebounceWindowMinutes,
		EscalationDelayMinutes:      body.EscalationDelayMinutes,
	}

	userCtx := userContextFromRequest(r)
	out, err := h.manager.ConfigureAlertThresholds(r.Context(), userCtx, cfg)
	if err != nil {
		h.respondManagerError(w, err)
		return
	}
	detail, _ := json.Marshal(body)
	h.logAudit(alertaccess.CreateAuditLogEntry(userCtx, alertaccess.OpConfigureThresholds, "alert_config", cfg.OrganizationID.String(), detail))
	httpserver.Respond(w, http.StatusOK, out)
}

func (h *Handler) handleAddMaintenanceWindow(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DestinationID      *uuid.UUID `json:"destinationId"`
		StartTime          time.Time  `json:"startTime" validate:"required"`
		EndTime            time.Time  `json:"endTime" validate:"required"`
		Timezone           string     `json:"timezone"`
		Reason             string     `json:"reason"`
		SuppressAlertTypes []string   `json:"suppressAlertTypes"`
	}
	if !httpserver.DecodeAndValidate(w, r, &body) {
		return
	}

	userCtx := userContextFromRequest(r)
	window := alertdebounce.MaintenanceWindow{
		OrganizationID:     userCtx.OrganizationID,
		DestinationID:      body.DestinationID,
		StartTime:          body.StartTime,
		EndTime:            body.EndTime,
		Timezone:           body.Timezone,
		Reason:             body.Reason,
		SuppressAlertTypes: body.SuppressAlertTypes,
		CreatedBy:          userCtx.UserID.String(),
	}

	out, err := h.manager.AddMaintenanceWindowWithAuth(r.Context(), userCtx, window)
	if err != nil {
		h.respondManagerError(w, err)
		return
	}
	detail, _ := json.Marshal(body)
	h.logAudit(alertaccess.CreateAuditLogEntry(userCtx, alertaccess.OpManageMaintenance, "maintenance_window", out.ID.String(), detail))
	httpserver.Respond(w, http.StatusCreated, out)
}

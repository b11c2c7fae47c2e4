package destination

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wisbric/relay/internal/auditlog"
	"github.com/wisbric/relay/internal/httpserver"
	"github.com/wisbric/relay/pkg/orgctx"
)

// Handler provides HTTP handlers for the destinations API.
type Handler struct {
	service *Service
	logger  *slog.Logger
	auditor *auditlog.Writer
}

// NewHandler creates a destination Handler.
func NewHandler(service *Service, logger *slog.Logger, auditor *auditlog.Writer) *Handler {
	return &Handler{service: service, logger: logger, auditor: auditor}
}

// actorFromRequest extracts the caller's user id from the trusted
// X-User-ID header, as set by whatever identity layer sits in front of
// this service. It's zero-value (dropped by the audit writer) if absent.
func actorFromRequest(r *http.Request) uuid.UUID {
	id, _ := uuid.Parse(r.Header.Get("X-User-ID"))
	return id
}

func (h *Handler) logAudit(r *http.Request, action, resourceID string, detail any) {
	raw, _ := json.Marshal(detail)
	h.auditor.Log(auditlog.Entry{
		ActorID:        actorFromRequest(r),
		OrganizationID: orgctx.FromContext(r.Context()),
		Action:         action,
		ResourceType:   "destination",
		ResourceID:     resourceID,
		Detail:         raw,
	})
}

// Routes returns a chi.Router with all destination routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleCreate)
	r.Get("/", h.handleList)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.handleGet)
		r.Patch("/", h.handleUpdate)
		r.Delete("/", h.handleDelete)
		r.Post("/disable", h.handleSetDisabled(true))
		r.Post("/enable", h.handleSetDisabled(false))
		r.Post("/test", h.handleTestConnection)
	})
	return r
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if !httpserver.DecodeAndValidate(w, r, &in) {
		return
	}
	in.OrganizationID = orgctx.FromContext(r.Context())

	d, err := h.service.Create(r.Context(), in)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_destination", err.Error())
		return
	}
	h.logAudit(r, "create", d.ID.String(), in)
	httpserver.Respond(w, http.StatusCreated, d)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	d, err := h.service.Get(r.Context(), orgctx.FromContext(r.Context()), id)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "destination not found")
		return
	}
	httpserver.Respond(w, http.StatusOK, d)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	f := ListFilters{OrganizationID: orgctx.FromContext(r.Context())}
	if t := r.URL.Query().Get("type"); t != "" {
		typ := Type(t)
		f.Type = &typ
	}
	ds, err := h.service.List(r.Context(), f)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "listing destinations")
		return
	}
	httpserver.Respond(w, http.StatusOK, ds)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	var patch UpdatePatch
	if !httpserver.DecodeAndValidate(w, r, &patch) {
		return
	}
	d, err := h.service.Update(r.Context(), orgctx.FromContext(r.Context()), id, patch)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_destination", err.Error())
		return
	}
	h.logAudit(r, "update", id.String(), patch)
	httpserver.Respond(w, http.StatusOK, d)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	if err := h.service.Delete(r.Context(), orgctx.FromContext(r.Context()), id); err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	h.logAudit(r, "delete", id.String(), nil)
	httpserver.Respond(w, http.StatusNoContent, nil)
}

func (h *Handler) handleSetDisabled(disabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "invalid_id", err.Error())
			return
		}
		actor := actorFromRequest(r)
		by := "api"
		if actor != uuid.Nil {
			by = actor.String()
		}
		d, err := h.service.SetDisabled(r.Context(), orgctx.FromContext(r.Context()), id, disabled, by)
		if err != nil {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		action := "disable"
		if !disabled {
			action = "enable"
		}
		h.logAudit(r, action, id.String(), nil)
		httpserver.Respond(w, http.StatusOK, d)
	}
}

func (h *Handler) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_id", err.Error())
		return
	}
	d, err := h.service.Get(r.Context(), orgctx.FromContext(r.Context()), id)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "destination not found")
		return
	}
	result := h.service.TestConnection(r.Context(), d)
	httpserver.Respond(w, http.StatusOK, result)
}

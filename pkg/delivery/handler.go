package delivery

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/relay/internal/httpserver"
	"github.com/wisbric/relay/pkg/orgctx"
)

// Handler provides HTTP handlers for the deliveries API.
type Handler struct {
	service         *Service
	maxPayloadBytes int64
	logger          *slog.Logger
}

// NewHandler creates a delivery Handler. maxPayloadBytes bounds the raw
// request body accepted by the deliver endpoint; it should match the
// Service's own MaxPayloadBytes so a body the Service will reject is
// rejected at decode time rather than after marshalling.
func NewHandler(service *Service, maxPayloadBytes int, logger *slog.Logger) *Handler {
	return &Handler{service: service, maxPayloadBytes: int64(maxPayloadBytes), logger: logger}
}

// Routes returns a chi.Router with all delivery routes mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.handleDeliver)
	r.Get("/", h.handleList)
	r.Get("/metrics", h.handleMetrics)
	r.Route("/{deliveryId}", func(r chi.Router) {
		r.Get("/", h.handleGetStatus)
		r.Post("/retry", h.handleRetry)
		r.Post("/cancel", h.handleCancel)
	})
	return r
}

// requestOverhead accounts for the destinations list, options, and JSON
// envelope around the payload itself, so the raw body limit doesn't clip a
// payload that's exactly at MaxPayloadBytes.
const requestOverhead = 64 << 10 // 64 KiB

func (h *Handler) handleDeliver(w http.ResponseWriter, r *http.Request) {
	var req Request
	if !httpserver.DecodeAndValidateLimit(w, r, &req, h.maxPayloadBytes+requestOverhead) {
		return
	}

	resp, err := h.service.Deliver(r.Context(), orgctx.FromContext(r.Context()), req)
	if err != nil {
		if errors.Is(err, ErrPayloadTooLarge) {
			httpserver.RespondError(w, http.StatusRequestEntityTooLarge, "payload_too_large", err.Error())
			return
		}
		httpserver.RespondError(w, http.StatusBadRequest, "invalid_delivery", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusAccepted, resp)
}

func (h *Handler) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	deliveryID := chi.URLParam(r, "deliveryId")
	resp, err := h.service.GetDeliveryStatus(r.Context(), orgctx.FromContext(r.Context()), deliveryID)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "delivery not found")
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	o := ListOptions{OrganizationID: orgctx.FromContext(r.Context()), Limit: 50}
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

	deliveries, err := h.service.ListDeliveries(r.Context(), o)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "listing deliveries")
		return
	}
	httpserver.Respond(w, http.StatusOK, deliveries)
}

func (h *Handler) handleMetrics(w http.ResponseWriter, r *http.Request) {
	orgID := orgctx.FromContext(r.Context())
	o := MetricsOptions{OrganizationID: &orgID, Until: time.Now(), Since: time.Now().Add(-24 * time.Hour)}

	q := r.URL.Query()
	if since, err := time.Parse(time.RFC3339, q.Get("since")); err == nil {
		o.Since = since
	}
	if until, err := time.Parse(time.RFC3339, q.Get("until")); err == nil {
		o.Until = until
	}

	metrics, err := h.service.GetDeliveryMetrics(r.Context(), o)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "computing delivery metrics")
		return
	}
	httpserver.Respond(w, http.StatusOK, metrics)
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	deliveryID := chi.URLParam(r, "deliveryId")
	resp, err := h.service.RetryDelivery(r.Context(), orgctx.FromContext(r.Context()), deliveryID)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "retry_failed", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	deliveryID := chi.URLParam(r, "deliveryId")
	resp, err := h.service.CancelDelivery(r.Context(), orgctx.FromContext(r.Context()), deliveryID)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "cancel_failed", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

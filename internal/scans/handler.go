package scans

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dezod123/bar-scan-platform/internal/catalog"
	"github.com/dezod123/bar-scan-platform/internal/codes"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	service  Service
	cooldown time.Duration
}

func NewHandler(service Service, cooldown time.Duration) *Handler {
	return &Handler{service: service, cooldown: NormalizeCooldown(cooldown)}
}

// Routes mounts the scan endpoints on r. The intake middlewares wrap only
// scan recording.
func (h *Handler) Routes(r chi.Router, intake ...func(http.Handler) http.Handler) {
	r.With(intake...).Post("/scans", h.handleRecordScan)
	r.Get("/scans", h.handleListScans)
	r.Get("/scans/{id}", h.handleGetScan)
	r.Patch("/scans/{id}/action", h.handleUpdateAction)
}

func (h *Handler) handleRecordScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CodeValue    string `json:"code_value"`
		CodeCategory string `json:"code_category"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.service.RecordScan(r.Context(), req.CodeValue, codes.Category(req.CodeCategory), h.cooldown)
	if err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}

	// duplicates are reported through was_duplicate, not the status code
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(result)
}

func (h *Handler) handleUpdateAction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid scan ID", http.StatusBadRequest)
		return
	}

	var req struct {
		Action string `json:"action"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	event, err := h.service.UpdateDisposition(r.Context(), id, Disposition(req.Action))
	if err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(event)
}

func (h *Handler) handleGetScan(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid scan ID", http.StatusBadRequest)
		return
	}

	event, err := h.service.GetScan(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(event)
}

func (h *Handler) handleListScans(w http.ResponseWriter, r *http.Request) {
	var filter *Disposition
	if action := r.URL.Query().Get("action"); action != "" {
		d := Disposition(action)
		if !d.Valid() {
			http.Error(w, "invalid action filter", http.StatusBadRequest)
			return
		}
		filter = &d
	}

	events, err := h.service.ListScans(r.Context(), filter)
	if err != nil {
		http.Error(w, err.Error(), StatusFor(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}

// StatusFor maps scan errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidCode),
		errors.Is(err, ErrInvalidDisposition),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, catalog.ErrUnknownCategory):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnknownCode), errors.Is(err, ErrScanNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

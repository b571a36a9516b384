package http

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Kellyhimself/POS-sub002/internal/domain"
	"github.com/Kellyhimself/POS-sub002/internal/service"
	"github.com/Kellyhimself/POS-sub002/internal/syncer"
	apperrors "github.com/Kellyhimself/POS-sub002/pkg/errors"
	"github.com/Kellyhimself/POS-sub002/pkg/httputil"
	"github.com/Kellyhimself/POS-sub002/pkg/pagination"
)

// SyncController is the sync engine as seen by the API.
type SyncController interface {
	Trigger(d domain.Domain) error
	Statuses() []syncer.Status
}

// SyncHandler reports queue state and lets the operator drive sync.
type SyncHandler struct {
	engine  SyncController
	service *service.POSService
	mode    ModeController
	logger  *slog.Logger
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(engine SyncController, svc *service.POSService, mode ModeController, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{engine: engine, service: svc, mode: mode, logger: logger}
}

// SyncStatusResponse is the state of every sync worker.
type SyncStatusResponse struct {
	Mode    domain.Mode     `json:"mode"`
	Domains []syncer.Status `json:"domains"`
}

// Status handles GET /api/v1/sync/status
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	httputil.WriteData(w, http.StatusOK, SyncStatusResponse{
		Mode:    h.mode.CurrentMode(),
		Domains: h.engine.Statuses(),
	})
}

// Trigger handles POST /api/v1/sync/trigger?domain=
// Without a domain every queue is triggered.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if h.mode.CurrentMode() != domain.ModeOnline {
		httputil.WriteError(w, r, apperrors.Conflict("device is offline; sync resumes when it is back online"), h.logger)
		return
	}

	targets := domain.Domains()
	if raw := r.URL.Query().Get("domain"); raw != "" {
		d, ok := domain.ParseDomain(raw)
		if !ok {
			httputil.WriteError(w, r, apperrors.InvalidInput(fmt.Sprintf("unknown sync domain %q", raw)), h.logger)
			return
		}
		targets = []domain.Domain{d}
	}

	triggered := make([]domain.Domain, 0, len(targets))
	for _, d := range targets {
		if err := h.engine.Trigger(d); err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		triggered = append(triggered, d)
	}

	httputil.WriteData(w, http.StatusAccepted, map[string]any{"triggered": triggered})
}

// ListFailed handles GET /api/v1/sync/{domain}/failed
func (h *SyncHandler) ListFailed(w http.ResponseWriter, r *http.Request) {
	d, ok := h.domainParam(w, r)
	if !ok {
		return
	}
	params := pagination.FromRequest(r)

	items, total, err := h.service.ListFailed(r.Context(), d, params)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, pagination.NewResult(items, total, params))
}

// GetItem handles GET /api/v1/sync/{domain}/items/{id}
func (h *SyncHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	d, ok := h.domainParam(w, r)
	if !ok {
		return
	}

	item, err := h.service.GetQueueItem(r.Context(), d, chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, item)
}

// RetryItem handles POST /api/v1/sync/{domain}/items/{id}/retry
func (h *SyncHandler) RetryItem(w http.ResponseWriter, r *http.Request) {
	d, ok := h.domainParam(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	if err := h.service.RetryFailed(r.Context(), d, id); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusAccepted, map[string]string{
		"domain": string(d),
		"id":     id,
		"status": string(domain.StatusPending),
	})
}

func (h *SyncHandler) domainParam(w http.ResponseWriter, r *http.Request) (domain.Domain, bool) {
	raw := chi.URLParam(r, "domain")
	d, ok := domain.ParseDomain(raw)
	if !ok {
		httputil.WriteError(w, r, apperrors.NotFound("sync domain", raw), h.logger)
		return "", false
	}
	return d, true
}

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"yardwatch/native/internal/dashboard"
	"yardwatch/native/internal/domain"
	"yardwatch/native/internal/incidents"
	"yardwatch/native/internal/session"
)

// Cameras is the dashboard surface the API drives.
type Cameras interface {
	Connect(ctx context.Context, req session.ConnectRequest) (session.Snapshot, error)
	Disconnect(ctx context.Context, id string) error
	Reload(id string) error
	Rename(id, name string) error
	Reorder(draggedID, targetID string) bool
	Cameras() []session.Snapshot
	Summary() dashboard.Summary
}

// Incidents exposes the two incident sequences.
type Incidents interface {
	Live() []domain.IncidentRecord
	History() []domain.IncidentRecord
}

type Config struct {
	Cameras   Cameras
	Incidents Incidents
	// EvidenceURL resolves an evidence image reference. Optional.
	EvidenceURL func(ref string) string
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

type Handler struct {
	cfg Config
}

func NewHandler(cfg Config) *Handler {
	return &Handler{cfg: cfg}
}

// Router builds the chi router with every route registered.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))
	h.Register(r)
	return r
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/cameras", h.listCameras)
		r.Post("/cameras", h.connect)
		r.Post("/cameras/reorder", h.reorder)
		r.Delete("/cameras/{id}", h.disconnect)
		r.Patch("/cameras/{id}", h.rename)
		r.Post("/cameras/{id}/reload", h.reload)
		r.Get("/summary", h.summary)
		r.Get("/incidents/live", h.liveIncidents)
		r.Get("/incidents/history", h.historyIncidents)
	})
	if h.cfg.Metrics != nil {
		r.Handle("/metrics", h.cfg.Metrics)
	}
}

type connectBody struct {
	Address  string `json:"address"`
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type renameBody struct {
	Name string `json:"name"`
}

type reorderBody struct {
	DraggedID string `json:"draggedId"`
	TargetID  string `json:"targetId"`
}

// IncidentView is an incident as the dashboard renders it.
type IncidentView struct {
	domain.IncidentRecord
	Severity      incidents.Severity `json:"severity"`
	SeverityColor string             `json:"severityColor"`
	EvidenceURL   string             `json:"evidenceUrl,omitempty"`
}

func (h *Handler) listCameras(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.Cameras.Cameras())
}

func (h *Handler) connect(w http.ResponseWriter, r *http.Request) {
	var body connectBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	snap, err := h.cfg.Cameras.Connect(r.Context(), session.ConnectRequest{
		Address:     body.Address,
		Username:    body.Username,
		Password:    body.Password,
		DisplayName: body.Name,
	})
	if err != nil {
		if snap.ID == "" {
			writeFailure(w, err)
			return
		}
		// session exists in Failed; show it alongside the error
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":  err.Error(),
			"camera": snap,
		})
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (h *Handler) disconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Cameras.Disconnect(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) reload(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.Cameras.Reload(chi.URLParam(r, "id")); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) rename(w http.ResponseWriter, r *http.Request) {
	var body renameBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := h.cfg.Cameras.Rename(chi.URLParam(r, "id"), body.Name); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) reorder(w http.ResponseWriter, r *http.Request) {
	var body reorderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	// an unknown or identical pair is a no-op, not an error
	h.cfg.Cameras.Reorder(body.DraggedID, body.TargetID)
	writeJSON(w, http.StatusOK, h.cfg.Cameras.Cameras())
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.cfg.Cameras.Summary())
}

func (h *Handler) liveIncidents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.views(h.cfg.Incidents.Live()))
}

func (h *Handler) historyIncidents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.views(h.cfg.Incidents.History()))
}

func (h *Handler) views(records []domain.IncidentRecord) []IncidentView {
	out := make([]IncidentView, len(records))
	for i, rec := range records {
		sev := incidents.Grade(rec.SeparationDistance)
		out[i] = IncidentView{
			IncidentRecord: rec,
			Severity:       sev,
			SeverityColor:  sev.Color(),
		}
		if h.cfg.EvidenceURL != nil && rec.EvidenceImageRef != "" {
			out[i].EvidenceURL = h.cfg.EvidenceURL(rec.EvidenceImageRef)
		}
	}
	return out
}

// writeFailure maps the error taxonomy onto HTTP status codes.
func writeFailure(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, domain.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		status = http.StatusConflict
	default:
		log.Printf("[httpapi] upstream failure: %v", err)
	}
	writeError(w, status, err.Error())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[httpapi] encode response: %v", err)
	}
}

package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"ride-router/internal/database"
	"ride-router/internal/models"
)

// SaveSessionRequest is the body of POST /api/v1/sessions
type SaveSessionRequest struct {
	RunID string `json:"run_id"`
}

// HandleSaveSession handles POST /api/v1/sessions
func (h *Handler) HandleSaveSession(w http.ResponseWriter, r *http.Request) {
	var req SaveSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[HTTP] POST /api/v1/sessions: invalid_json err=%v", err)
		h.handleValidationError(w, "Invalid request body")
		return
	}
	if req.RunID == "" {
		h.handleValidationError(w, "run_id is required")
		return
	}

	var snap *models.Snapshot
	found := h.Runs.Update(req.RunID, func(res *models.Result) {
		// Snapshot a copy so later warnings on the run do not leak into it
		result := *res
		result.Warnings = append([]models.Warning(nil), res.Warnings...)
		snap = &models.Snapshot{Staff: res.Staff, Result: &result}
	})
	if !found {
		h.handleNotFound(w, "Run not found or expired")
		return
	}

	saved, err := h.DB.Snapshots().Save(r.Context(), snap)
	var exhausted *database.ErrKeysExhausted
	if errors.As(err, &exhausted) {
		h.writeError(w, http.StatusConflict, "CONFLICT", "Too many sessions saved this second, try again", nil)
		return
	}
	if err != nil {
		h.handleInternalError(w, err)
		return
	}

	log.Printf("[HTTP] POST /api/v1/sessions: run_id=%s key=%s", req.RunID, saved.Key)
	h.writeJSON(w, http.StatusCreated, saved.Info())
}

// HandleListSessions handles GET /api/v1/sessions
func (h *Handler) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	infos, err := h.DB.Snapshots().List(r.Context())
	if err != nil {
		h.handleInternalError(w, err)
		return
	}

	log.Printf("[HTTP] GET /api/v1/sessions: count=%d", len(infos))
	h.writeJSON(w, http.StatusOK, infos)
}

// HandleGetSession handles GET /api/v1/sessions/{key}
func (h *Handler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	snap, err := h.DB.Snapshots().Get(r.Context(), key)
	if err != nil {
		if h.checkNotFound(err) {
			h.handleNotFound(w, "Session not found")
			return
		}
		h.handleInternalError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, snap)
}

// HandleDeleteSession handles DELETE /api/v1/sessions/{key}
func (h *Handler) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	if err := h.DB.Snapshots().Delete(r.Context(), key); err != nil {
		if h.checkNotFound(err) {
			h.handleNotFound(w, "Session not found")
			return
		}
		h.handleInternalError(w, err)
		return
	}

	log.Printf("[HTTP] DELETE /api/v1/sessions: key=%s", key)
	w.WriteHeader(http.StatusNoContent)
}

// HandleSessionGeoJSON handles GET /api/v1/sessions/{key}/geojson
func (h *Handler) HandleSessionGeoJSON(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	snap, err := h.DB.Snapshots().Get(r.Context(), key)
	if err != nil {
		if h.checkNotFound(err) {
			h.handleNotFound(w, "Session not found")
			return
		}
		h.handleInternalError(w, err)
		return
	}

	if snap.Result == nil {
		h.handleNotFound(w, "Session has no routes")
		return
	}

	body, warning, err := h.renderGeoJSON(snap.Result)
	h.writeGeoJSON(w, body, warning, err)
}

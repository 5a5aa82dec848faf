package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"ride-router/internal/models"
)

// DefaultMaxRuns bounds the run store when no limit is configured
const DefaultMaxRuns = 50

// RunStore keeps recent optimization results in memory so they can be
// exported or saved as snapshots. The oldest run is evicted once the limit
// is reached.
type RunStore struct {
	runs  map[string]*models.Result
	order []string
	limit int
	mu    sync.RWMutex
}

// NewRunStore creates a run store holding at most limit results
func NewRunStore(limit int) *RunStore {
	if limit <= 0 {
		limit = DefaultMaxRuns
	}
	return &RunStore{
		runs:  make(map[string]*models.Result),
		limit: limit,
	}
}

// Put stores a result under its run id
func (s *RunStore) Put(result *models.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[result.RunID]; !exists {
		s.order = append(s.order, result.RunID)
	}
	s.runs[result.RunID] = result

	for len(s.order) > s.limit {
		evicted := s.order[0]
		s.order = s.order[1:]
		delete(s.runs, evicted)
		log.Printf("[SESSION] Evicted run: run_id=%s", evicted)
	}

	log.Printf("[SESSION] Stored run: run_id=%s routes=%d held=%d", result.RunID, len(result.Routes), len(s.order))
}

// Get returns the stored result or nil
func (s *RunStore) Get(id string) *models.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runs[id]
}

// Update executes fn on a result while holding the write lock.
// Returns false if the run doesn't exist.
func (s *RunStore) Update(id string, fn func(*models.Result)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := s.runs[id]
	if result == nil {
		return false
	}
	fn(result)
	return true
}

// Delete removes a run
func (s *RunStore) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[id]; !ok {
		return
	}
	delete(s.runs, id)
	for i, runID := range s.order {
		if runID == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	log.Printf("[SESSION] Deleted run: run_id=%s", id)
}

// Len returns the number of stored runs
func (s *RunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// OptimizeRequest is the body of POST /api/v1/routes/optimize
type OptimizeRequest struct {
	Staff []models.StaffRecord `json:"staff"`
	EpsKm *float64             `json:"eps_km"`
}

// HandleOptimize handles POST /api/v1/routes/optimize
func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.Config.Server.MaxUploadBytes)

	var req OptimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		log.Printf("[HTTP] POST /api/v1/routes/optimize: invalid_json err=%v", err)
		h.handleValidationError(w, "Invalid request body")
		return
	}

	clustering := h.Config.Clustering
	epsKm := clustering.DefaultEpsKm
	if req.EpsKm != nil {
		epsKm = *req.EpsKm
	}
	if epsKm < clustering.MinEpsKm || epsKm > clustering.MaxEpsKm {
		log.Printf("[HTTP] POST /api/v1/routes/optimize: eps out of range eps_km=%v", epsKm)
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "eps_km is outside the allowed range", map[string]float64{
			"eps_km": epsKm,
			"min":    clustering.MinEpsKm,
			"max":    clustering.MaxEpsKm,
		})
		return
	}

	log.Printf("[HTTP] POST /api/v1/routes/optimize: staff=%d eps_km=%.2f", len(req.Staff), epsKm)

	result, err := h.Optimizer.Optimize(r.Context(), req.Staff, epsKm)
	if err != nil {
		log.Printf("[HTTP] POST /api/v1/routes/optimize: failed err=%v", err)
		h.handleInputError(w, err)
		return
	}

	h.Runs.Put(result)

	log.Printf("[HTTP] POST /api/v1/routes/optimize: run_id=%s routes=%d unassigned=%d warnings=%d",
		result.RunID, len(result.Routes), len(result.Unassigned), len(result.Warnings))
	h.writeJSON(w, http.StatusOK, result)
}

// HandleGetRun handles GET /api/v1/runs/{id}
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Exports may append warnings concurrently; copy them under the lock and
	// write after it is released
	var result models.Result
	found := h.Runs.Update(id, func(res *models.Result) {
		result = *res
		result.Warnings = append([]models.Warning(nil), res.Warnings...)
	})
	if !found {
		h.handleNotFound(w, "Run not found or expired")
		return
	}

	h.writeJSON(w, http.StatusOK, &result)
}

// HandleRunGeoJSON handles GET /api/v1/runs/{id}/geojson
func (h *Handler) HandleRunGeoJSON(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var warning *models.Warning
	var body []byte
	var renderErr error
	found := h.Runs.Update(id, func(res *models.Result) {
		body, warning, renderErr = h.renderGeoJSON(res)
		if warning != nil && !res.HasWarning(models.WarningRenderingFailure) {
			res.Warnings = append(res.Warnings, *warning)
		}
	})
	if !found {
		h.handleNotFound(w, "Run not found or expired")
		return
	}

	h.writeGeoJSON(w, body, warning, renderErr)
}

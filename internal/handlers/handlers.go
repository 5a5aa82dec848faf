package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"ride-router/internal/config"
	"ride-router/internal/database"
	"ride-router/internal/geocoding"
	"ride-router/internal/loader"
	"ride-router/internal/metrics"
	"ride-router/internal/models"
	"ride-router/internal/routing"
)

// Version is reported by the health check
const Version = "1.0.0"

// Handler provides common handler utilities and dependencies
type Handler struct {
	Config    *config.Config
	DB        database.DataStore
	Geocoder  geocoding.Geocoder // nil when geocoding is disabled
	Optimizer routing.RouteOptimizer
	Loader    *loader.CSVReader
	Runs      *RunStore
	Metrics   *metrics.Metrics // optional
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response
func (h *Handler) writeError(w http.ResponseWriter, status int, code, message string, details interface{}) {
	h.writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// handleNotFound handles 404 errors
func (h *Handler) handleNotFound(w http.ResponseWriter, message string) {
	h.writeError(w, http.StatusNotFound, "NOT_FOUND", message, nil)
}

// handleValidationError handles 400 errors
func (h *Handler) handleValidationError(w http.ResponseWriter, message string) {
	h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", message, nil)
}

// handleInputError maps optimizer and loader input errors to 400, anything else to 500
func (h *Handler) handleInputError(w http.ResponseWriter, err error) {
	var invalid *routing.ErrInvalidInput
	if errors.As(err, &invalid) {
		h.writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", invalid.Error(), map[string]string{
			"field":  invalid.Field,
			"reason": invalid.Reason,
		})
		return
	}

	var rows *loader.ErrInvalidRows
	if errors.As(err, &rows) {
		h.writeError(w, http.StatusBadRequest, "INVALID_ROWS", rows.Error(), rows.Rows)
		return
	}

	if errors.Is(err, loader.ErrMissingColumns) {
		h.handleValidationError(w, err.Error())
		return
	}

	h.handleInternalError(w, err)
}

// handleGeocodingError handles 422 errors for geocoding failures
func (h *Handler) handleGeocodingError(w http.ResponseWriter, err error) {
	h.writeError(w, http.StatusUnprocessableEntity, "GEOCODING_FAILED", err.Error(), nil)
}

// handleInternalError handles 500 errors
func (h *Handler) handleInternalError(w http.ResponseWriter, err error) {
	log.Printf("[ERROR] Internal error: %v", err)
	h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An error occurred. Please try again.", nil)
}

// checkNotFound checks if an error is a not found error
func (h *Handler) checkNotFound(err error) bool {
	return errors.Is(err, database.ErrNotFound)
}

func (h *Handler) observeWarning(kind models.WarningKind) {
	if h.Metrics != nil {
		h.Metrics.ObserveWarning(kind)
	}
}

// HandleHealthCheck handles GET /api/v1/health
func (h *Handler) HandleHealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "connected"

	if err := h.DB.HealthCheck(r.Context()); err != nil {
		log.Printf("[ERROR] Health check failed: err=%v", err)
		status = "degraded"
		dbStatus = "error"
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":   status,
		"version":  Version,
		"database": dbStatus,
		"store":    h.Config.Store.Driver,
	})
}

// ConfigResponse is the client-facing view of the configuration
type ConfigResponse struct {
	Office         models.Coordinates `json:"office"`
	OfficeAddress  string             `json:"office_address,omitempty"`
	MinPassengers  int                `json:"min_passengers"`
	MaxPassengers  int                `json:"max_passengers"`
	MinClusterSize int                `json:"min_cluster_size"`
	CostPerKm      float64            `json:"cost_per_km"`
	DefaultEpsKm   float64            `json:"default_eps_km"`
	MinEpsKm       float64            `json:"min_eps_km"`
	MaxEpsKm       float64            `json:"max_eps_km"`
	Geocoding      bool               `json:"geocoding"`
}

// HandleGetConfig handles GET /api/v1/config
func (h *Handler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.Config
	h.writeJSON(w, http.StatusOK, ConfigResponse{
		Office:         cfg.OfficeCoords(),
		OfficeAddress:  cfg.Office.Address,
		MinPassengers:  cfg.Routing.MinPassengers,
		MaxPassengers:  cfg.Routing.MaxPassengers,
		MinClusterSize: cfg.EffectiveMinClusterSize(),
		CostPerKm:      cfg.Routing.CostPerKm,
		DefaultEpsKm:   cfg.Clustering.DefaultEpsKm,
		MinEpsKm:       cfg.Clustering.MinEpsKm,
		MaxEpsKm:       cfg.Clustering.MaxEpsKm,
		Geocoding:      h.Geocoder != nil,
	})
}

package handlers

import (
	"log"
	"net/http"
)

// MinSearchLength is the shortest query forwarded to the geocoder
const MinSearchLength = 4

// HandleAddressSearch handles GET /api/v1/geocode/search
func (h *Handler) HandleAddressSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	log.Printf("[HTTP] GET /api/v1/geocode/search: query=%s", query)

	if h.Geocoder == nil {
		h.writeError(w, http.StatusServiceUnavailable, "GEOCODING_DISABLED", "Geocoding is disabled", nil)
		return
	}

	if len(query) < MinSearchLength {
		log.Printf("[HTTP] GET /api/v1/geocode/search: query too short, returning empty list")
		h.writeJSON(w, http.StatusOK, []interface{}{})
		return
	}

	results, err := h.Geocoder.Search(r.Context(), query, 5)
	if err != nil {
		log.Printf("[ERROR] Failed to search addresses: query=%s err=%v", query, err)
		h.handleGeocodingError(w, err)
		return
	}

	log.Printf("[HTTP] GET /api/v1/geocode/search: query=%s results_count=%d", query, len(results))
	h.writeJSON(w, http.StatusOK, results)
}

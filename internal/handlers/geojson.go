package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/paulmach/orb/geojson"

	"ride-router/internal/export"
	"ride-router/internal/models"
)

// renderGeoJSON encodes a result as a feature collection. A partial
// rendering returns the body together with its rendering_failure warning;
// an error means nothing usable could be produced.
func (h *Handler) renderGeoJSON(result *models.Result) ([]byte, *models.Warning, error) {
	fc, err := export.GeoJSON(result)

	var warning *models.Warning
	if err != nil {
		var renderErr *export.ErrRenderingFailed
		if !errors.As(err, &renderErr) {
			return nil, nil, err
		}

		w := renderErr.Warning(result)
		warning = &w
		h.observeWarning(models.WarningRenderingFailure)
		log.Printf("[EXPORT] Rendering failure: run_id=%s err=%v", result.RunID, err)

		if fc == nil {
			return nil, warning, err
		}
		fc.ExtraMembers = geojson.Properties{"warnings": []models.Warning{w}}
	}

	body, err := json.Marshal(fc)
	if err != nil {
		h.observeWarning(models.WarningRenderingFailure)
		w := models.Warning{Kind: models.WarningRenderingFailure, Message: err.Error()}
		return nil, &w, err
	}

	return body, warning, nil
}

func (h *Handler) writeGeoJSON(w http.ResponseWriter, body []byte, warning *models.Warning, err error) {
	if err != nil {
		if warning != nil {
			h.writeError(w, http.StatusUnprocessableEntity, "RENDERING_FAILED", err.Error(), warning)
			return
		}
		h.handleInternalError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

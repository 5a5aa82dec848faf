package handlers

import (
	"errors"
	"io"
	"log"
	"mime"
	"net/http"
	"strconv"
	"time"

	"ride-router/internal/loader"
	"ride-router/internal/models"
)

// StaffResponse wraps a loaded staff list
type StaffResponse struct {
	Staff []models.StaffRecord `json:"staff"`
	Count int                  `json:"count"`
	Seed  *uint64              `json:"seed,omitempty"`
}

// HandleSampleStaff handles GET /api/v1/staff/sample
func (h *Handler) HandleSampleStaff(w http.ResponseWriter, r *http.Request) {
	count := loader.DefaultSampleSize
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > loader.MaxSampleSize {
			h.handleValidationError(w, "count must be between 1 and "+strconv.Itoa(loader.MaxSampleSize))
			return
		}
		count = n
	}

	seed := uint64(time.Now().UnixNano())
	if v := r.URL.Query().Get("seed"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			h.handleValidationError(w, "seed must be a non-negative integer")
			return
		}
		seed = n
	}

	staff := loader.Sample(count, seed)
	log.Printf("[HTTP] GET /api/v1/staff/sample: count=%d seed=%d", len(staff), seed)

	h.writeJSON(w, http.StatusOK, StaffResponse{Staff: staff, Count: len(staff), Seed: &seed})
}

// HandleUploadStaff handles POST /api/v1/staff/upload. The body is either
// raw CSV or a multipart form with a "file" part.
func (h *Handler) HandleUploadStaff(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.Config.Server.MaxUploadBytes)

	var body io.Reader = r.Body
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		file, header, err := r.FormFile("file")
		if err != nil {
			log.Printf("[HTTP] POST /api/v1/staff/upload: missing file err=%v", err)
			h.handleValidationError(w, "Expected a CSV file in the \"file\" field")
			return
		}
		defer file.Close()
		log.Printf("[HTTP] POST /api/v1/staff/upload: file=%s size=%d", header.Filename, header.Size)
		body = file
	}

	staff, err := h.Loader.ReadCSV(r.Context(), body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "Upload exceeds the size limit", map[string]int64{"limit": tooLarge.Limit})
			return
		}
		log.Printf("[HTTP] POST /api/v1/staff/upload: rejected err=%v", err)
		h.handleInputError(w, err)
		return
	}

	log.Printf("[HTTP] POST /api/v1/staff/upload: staff=%d", len(staff))
	h.writeJSON(w, http.StatusOK, StaffResponse{Staff: staff, Count: len(staff)})
}

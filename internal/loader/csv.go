package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"

	"ride-router/internal/geocoding"
	"ride-router/internal/models"
)

// DefaultGeocodeRetries is how many times a blank-coordinate row's address is tried
const DefaultGeocodeRetries = 3

// RowError describes one unusable CSV row. Row counts data rows from 1.
type RowError struct {
	Row    int
	Field  string
	Reason string
}

func (e *RowError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
	}
	return fmt.Sprintf("row %d: %s: %s", e.Row, e.Field, e.Reason)
}

// ErrInvalidRows collects every bad row of an upload
type ErrInvalidRows struct {
	Rows []*RowError
}

func (e *ErrInvalidRows) Error() string {
	if len(e.Rows) == 1 {
		return fmt.Sprintf("invalid staff file: %v", e.Rows[0])
	}
	return fmt.Sprintf("invalid staff file: %d bad rows, first: %v", len(e.Rows), e.Rows[0])
}

// ErrMissingColumns is returned when the header names neither coordinates nor addresses
var ErrMissingColumns = errors.New("staff file needs latitude and longitude columns or an address column")

var columnAliases = map[string]string{
	"staff_id":  "staff_id",
	"staffid":   "staff_id",
	"staff id":  "staff_id",
	"id":        "staff_id",
	"name":      "name",
	"latitude":  "latitude",
	"lat":       "latitude",
	"longitude": "longitude",
	"lon":       "longitude",
	"lng":       "longitude",
	"long":      "longitude",
	"address":   "address",
}

// CSVReader parses staff lists. With a geocoder, rows that carry an address
// but no coordinates are resolved through it.
type CSVReader struct {
	geocoder geocoding.Geocoder
	retries  int
}

// NewCSVReader creates a reader; geocoder may be nil
func NewCSVReader(geocoder geocoding.Geocoder) *CSVReader {
	return &CSVReader{geocoder: geocoder, retries: DefaultGeocodeRetries}
}

// ReadCSV parses a staff list without geocoding
func ReadCSV(ctx context.Context, r io.Reader) ([]models.StaffRecord, error) {
	return NewCSVReader(nil).ReadCSV(ctx, r)
}

// ReadCSV parses a staff list with a header row. Column names are matched
// case-insensitively; a missing staff_id becomes the row number.
func (c *CSVReader) ReadCSV(ctx context.Context, r io.Reader) ([]models.StaffRecord, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return []models.StaffRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	cols := make(map[string]int)
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if canonical, ok := columnAliases[name]; ok {
			if _, dup := cols[canonical]; !dup {
				cols[canonical] = i
			}
		}
	}

	_, hasLat := cols["latitude"]
	_, hasLng := cols["longitude"]
	_, hasAddr := cols["address"]
	if !(hasLat && hasLng) && !hasAddr {
		return nil, ErrMissingColumns
	}

	field := func(record []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	staff := []models.StaffRecord{}
	var rowErrs []*RowError
	seen := make(map[string]int)

	for row := 1; ; row++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				rowErrs = append(rowErrs, &RowError{Row: row, Reason: parseErr.Err.Error()})
				continue
			}
			return nil, fmt.Errorf("failed to read staff file: %w", err)
		}

		s := models.StaffRecord{
			ID:        field(record, "staff_id"),
			Name:      field(record, "name"),
			Address:   field(record, "address"),
			ClusterID: models.Unclustered,
		}
		if s.ID == "" {
			s.ID = strconv.Itoa(row)
		}
		if s.Name == "" {
			s.Name = "Staff " + s.ID
		}

		if first, dup := seen[s.ID]; dup {
			rowErrs = append(rowErrs, &RowError{Row: row, Field: "staff_id",
				Reason: fmt.Sprintf("duplicate %q (first seen on row %d)", s.ID, first)})
			continue
		}
		seen[s.ID] = row

		coords, rowErr := c.coordinates(ctx, row, field(record, "latitude"), field(record, "longitude"), s.Address)
		if rowErr != nil {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rowErrs = append(rowErrs, rowErr)
			continue
		}
		s.Lat, s.Lng = coords.Lat, coords.Lng

		staff = append(staff, s)
	}

	if len(rowErrs) > 0 {
		log.Printf("[LOADER] Rejected staff file: rows=%d bad_rows=%d", len(staff)+len(rowErrs), len(rowErrs))
		return nil, &ErrInvalidRows{Rows: rowErrs}
	}

	log.Printf("[LOADER] Parsed staff file: staff=%d", len(staff))
	return staff, nil
}

func (c *CSVReader) coordinates(ctx context.Context, row int, latText, lngText, address string) (models.Coordinates, *RowError) {
	if latText == "" && lngText == "" {
		if address == "" {
			return models.Coordinates{}, &RowError{Row: row, Field: "latitude", Reason: "missing coordinates and address"}
		}
		if c.geocoder == nil {
			return models.Coordinates{}, &RowError{Row: row, Field: "latitude", Reason: "missing coordinates"}
		}

		result, err := c.geocoder.GeocodeWithRetry(ctx, address, c.retries)
		if err != nil {
			return models.Coordinates{}, &RowError{Row: row, Field: "address", Reason: err.Error()}
		}
		log.Printf("[LOADER] Geocoded row: row=%d address=%s lat=%.6f lng=%.6f", row, address, result.Coords.Lat, result.Coords.Lng)
		return result.Coords, nil
	}

	lat, err := strconv.ParseFloat(latText, 64)
	if err != nil {
		return models.Coordinates{}, &RowError{Row: row, Field: "latitude", Reason: fmt.Sprintf("not a number: %q", latText)}
	}
	lng, err := strconv.ParseFloat(lngText, 64)
	if err != nil {
		return models.Coordinates{}, &RowError{Row: row, Field: "longitude", Reason: fmt.Sprintf("not a number: %q", lngText)}
	}

	coords := models.Coordinates{Lat: lat, Lng: lng}
	if !coords.Valid() {
		return models.Coordinates{}, &RowError{Row: row, Field: "latitude", Reason: fmt.Sprintf("coordinates out of range: %v,%v", lat, lng)}
	}
	return coords, nil
}

package geocoding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestGeocoder points a fast geocoder at a test server
func newTestGeocoder(url string) Geocoder {
	return NewNominatimGeocoder(Options{
		BaseURL:  url,
		Interval: time.Millisecond,
		Backoff:  time.Millisecond,
	})
}

func respond(w http.ResponseWriter, results []nominatimResponse) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}

func TestNominatimGeocodeSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/search")
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		assert.Equal(t, "1", r.URL.Query().Get("limit"))
		assert.Equal(t, "Osu, Accra", r.URL.Query().Get("q"))

		respond(w, []nominatimResponse{
			{Lat: "5.5560", Lon: "-0.1820", DisplayName: "Osu, Accra, Ghana"},
		})
	}))
	defer server.Close()

	result, err := newTestGeocoder(server.URL).Geocode(context.Background(), "Osu, Accra")

	require.NoError(t, err)
	assert.Equal(t, 5.5560, result.Coords.Lat)
	assert.Equal(t, -0.1820, result.Coords.Lng)
	assert.Equal(t, "Osu, Accra, Ghana", result.DisplayName)
}

func TestNominatimGeocodeNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, []nominatimResponse{})
	}))
	defer server.Close()

	result, err := newTestGeocoder(server.URL).Geocode(context.Background(), "Nowhere")

	require.Error(t, err)
	assert.Nil(t, result)

	var geocodingErr *ErrGeocodingFailed
	require.ErrorAs(t, err, &geocodingErr)
	assert.Contains(t, geocodingErr.Reason, "no results found")
}

func TestNominatimGeocodeHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Internal Server Error"))
	}))
	defer server.Close()

	_, err := newTestGeocoder(server.URL).Geocode(context.Background(), "Test Address")

	var geocodingErr *ErrGeocodingFailed
	require.ErrorAs(t, err, &geocodingErr)
	assert.Contains(t, geocodingErr.Reason, "HTTP 500")
}

func TestNominatimGeocodeInvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte("invalid json"))
	}))
	defer server.Close()

	result, err := newTestGeocoder(server.URL).Geocode(context.Background(), "Test Address")

	require.Error(t, err)
	assert.Nil(t, result)
}

func TestNominatimGeocodeInvalidLatLon(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, []nominatimResponse{{Lat: "invalid", Lon: "-0.18", DisplayName: "Test"}})
	}))
	defer server.Close()

	_, err := newTestGeocoder(server.URL).Geocode(context.Background(), "Test Address")

	var geocodingErr *ErrGeocodingFailed
	require.ErrorAs(t, err, &geocodingErr)
	assert.Contains(t, geocodingErr.Reason, "invalid latitude")
}

func TestNominatimGeocodeRateLimiting(t *testing.T) {
	var requestCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount.Add(1)
		respond(w, []nominatimResponse{{Lat: "5.6", Lon: "-0.2", DisplayName: "Test"}})
	}))
	defer server.Close()

	geocoder := NewNominatimGeocoder(Options{BaseURL: server.URL, Interval: 50 * time.Millisecond})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := geocoder.Geocode(context.Background(), "Test")
		require.NoError(t, err)
	}
	elapsed := time.Since(start)

	// Burst of one: the second and third requests each wait a full interval
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond, "Rate limiting not working")
	assert.Equal(t, int32(3), requestCount.Load())
}

func TestNominatimGeocodeWithRetrySuccess(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		respond(w, []nominatimResponse{{Lat: "5.6", Lon: "-0.2", DisplayName: "Accra"}})
	}))
	defer server.Close()

	result, err := newTestGeocoder(server.URL).GeocodeWithRetry(context.Background(), "Accra", 3)

	require.NoError(t, err)
	assert.Equal(t, 5.6, result.Coords.Lat)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestNominatimGeocodeWithRetryAllFail(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	result, err := newTestGeocoder(server.URL).GeocodeWithRetry(context.Background(), "Test", 3)

	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestNominatimGeocodeContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		respond(w, []nominatimResponse{{Lat: "5.6", Lon: "-0.2", DisplayName: "Test"}})
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	result, err := newTestGeocoder(server.URL).Geocode(ctx, "Test")

	require.Error(t, err)
	assert.Nil(t, result)
}

func TestNominatimGeocodeUserAgent(t *testing.T) {
	agents := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agents <- r.Header.Get("User-Agent")
		respond(w, []nominatimResponse{{Lat: "5.6", Lon: "-0.2", DisplayName: "Test"}})
	}))
	defer server.Close()

	_, err := newTestGeocoder(server.URL).Geocode(context.Background(), "Test")

	require.NoError(t, err)
	assert.Equal(t, DefaultUserAgent, <-agents)
}

func TestNominatimSearchSkipsBadResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		respond(w, []nominatimResponse{
			{Lat: "5.55", Lon: "-0.20", DisplayName: "Adabraka"},
			{Lat: "bad", Lon: "-0.20", DisplayName: "Broken"},
			{Lat: "5.64", Lon: "-0.15", DisplayName: "East Legon"},
		})
	}))
	defer server.Close()

	results, err := newTestGeocoder(server.URL).Search(context.Background(), "Accra", 5)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "Adabraka", results[0].DisplayName)
	assert.Equal(t, "East Legon", results[1].DisplayName)
}

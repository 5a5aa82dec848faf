package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ride-router/internal/models"
	"ride-router/internal/routing"
)

func TestObserveRunSuccess(t *testing.T) {
	m := New()
	result := &models.Result{
		Routes:     models.RouteCollection{{Name: "Route 1"}, {Name: "Route 2"}},
		Unassigned: []string{"9"},
		Summary:    models.RunSummary{RoutedStaff: 7},
		Duration:   20 * time.Millisecond,
	}
	result.AddWarning(models.WarningCapacityUnassignable, "1 staff member could not be placed", []string{"9"})

	m.ObserveRun(result, nil)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OptimizeRuns.WithLabelValues(OutcomeOK)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RoutesBuilt))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.StaffRouted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StaffUnassigned))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Warnings.WithLabelValues(string(models.WarningCapacityUnassignable))))
}

func TestObserveRunErrors(t *testing.T) {
	m := New()

	m.ObserveRun(nil, &routing.ErrInvalidInput{Field: "eps_km", Reason: "must be positive"})
	m.ObserveRun(nil, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.OptimizeRuns.WithLabelValues(OutcomeInvalid)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OptimizeRuns.WithLabelValues(OutcomeError)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RoutesBuilt))
}

func TestMiddlewareUsesPattern(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	handler := m.Middleware(mux)

	for _, id := range []string{"a", "b"} {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+id, nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "GET /api/v1/runs/{id}", "404")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveRun(&models.Result{}, nil)

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "ride_router_optimize_runs_total")
	assert.Contains(t, rr.Body.String(), "go_goroutines")
}

package export

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ride-router/internal/models"
)

var office = models.Coordinates{Lat: 5.58, Lng: -0.14}

func stop(id string, lat, lng float64) models.StaffRecord {
	return models.StaffRecord{ID: id, Name: "Employee " + id, Lat: lat, Lng: lng, Address: id + " Street", DistanceToOfficeKm: 1.5}
}

func testResult() *models.Result {
	return &models.Result{
		Office: office,
		Routes: models.RouteCollection{
			{Name: "Route 1", ClusterID: 0, Stops: []models.StaffRecord{stop("1", 5.60, -0.20), stop("2", 5.59, -0.19), stop("3", 5.585, -0.18)}, TotalDistanceKm: 7.2, TotalCost: 18},
			{Name: "Route 2", ClusterID: 1, Stops: []models.StaffRecord{stop("4", 5.55, -0.10), stop("5", 5.56, -0.11), stop("6", 5.57, -0.12)}},
		},
	}
}

func TestGeoJSONFeatures(t *testing.T) {
	fc, err := GeoJSON(testResult())
	require.NoError(t, err)

	// office + 2 lines + 6 stops
	require.Len(t, fc.Features, 9)

	officeFeature := fc.Features[0]
	assert.Equal(t, KindOffice, officeFeature.Properties["kind"])
	assert.Equal(t, orb.Point{-0.14, 5.58}, officeFeature.Geometry)

	line := fc.Features[1]
	assert.Equal(t, KindRoute, line.Properties["kind"])
	assert.Equal(t, "Route 1", line.Properties["route_name"])
	assert.Equal(t, "blue", line.Properties["color"])
	ls, ok := line.Geometry.(orb.LineString)
	require.True(t, ok)
	require.Len(t, ls, 4)
	assert.Equal(t, orb.Point{-0.20, 5.60}, ls[0])
	assert.Equal(t, orb.Point{-0.14, 5.58}, ls[3], "line ends at the office")

	firstStop := fc.Features[2]
	assert.Equal(t, KindStop, firstStop.Properties["kind"])
	assert.Equal(t, 1, firstStop.Properties["order"])
	assert.Equal(t, "1", firstStop.Properties["staff_id"])
	assert.Equal(t, "blue", firstStop.Properties["color"])

	assert.Equal(t, "green", fc.Features[5].Properties["color"])
}

func TestGeoJSONBBox(t *testing.T) {
	fc, err := GeoJSON(testResult())
	require.NoError(t, err)

	require.Len(t, fc.BBox, 4)
	assert.InDelta(t, -0.20, fc.BBox[0], 1e-9)
	assert.InDelta(t, 5.55, fc.BBox[1], 1e-9)
	assert.InDelta(t, -0.10, fc.BBox[2], 1e-9)
	assert.InDelta(t, 5.60, fc.BBox[3], 1e-9)
}

func TestGeoJSONMarshals(t *testing.T) {
	fc, err := GeoJSON(testResult())
	require.NoError(t, err)

	data, err := json.Marshal(fc)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "FeatureCollection", decoded["type"])
}

func TestGeoJSONEmptyResult(t *testing.T) {
	fc, err := GeoJSON(&models.Result{Office: office})
	require.NoError(t, err)
	assert.Len(t, fc.Features, 1)

	fc, err = GeoJSON(nil)
	require.NoError(t, err)
	assert.Empty(t, fc.Features)
}

func TestGeoJSONSkipsBrokenRoute(t *testing.T) {
	result := testResult()
	result.Routes[0].Stops[1].Lat = math.NaN()

	fc, err := GeoJSON(result)

	var renderErr *ErrRenderingFailed
	require.True(t, errors.As(err, &renderErr))
	assert.Equal(t, []string{"Route 1"}, renderErr.Routes)
	require.NotNil(t, fc)
	// office + Route 2 line + 3 stops
	assert.Len(t, fc.Features, 5)
	assert.Equal(t, "Route 2", fc.Features[1].Properties["route_name"])
	assert.Equal(t, "green", fc.Features[1].Properties["color"], "palette follows route position")

	w := renderErr.Warning(result)
	assert.Equal(t, models.WarningRenderingFailure, w.Kind)
	assert.Equal(t, []string{"1", "2", "3"}, w.StaffIDs)
}

func TestGeoJSONInvalidOffice(t *testing.T) {
	result := testResult()
	result.Office = models.Coordinates{Lat: 100, Lng: 0}

	fc, err := GeoJSON(result)
	assert.Nil(t, fc)

	var renderErr *ErrRenderingFailed
	assert.ErrorAs(t, err, &renderErr)
}

func TestRouteColorCycles(t *testing.T) {
	assert.Equal(t, "blue", RouteColor(0))
	assert.Equal(t, "cadetblue", RouteColor(9))
	assert.Equal(t, "blue", RouteColor(10))
}

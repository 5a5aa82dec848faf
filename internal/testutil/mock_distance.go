package testutil

import (
	"fmt"
	"math"
	"sync"

	"ride-router/internal/models"
)

// DistanceCall tracks a call to the distance calculator
type DistanceCall struct {
	Origin models.Coordinates
	Dest   models.Coordinates
}

// MockDistanceCalculator is a mock implementation for testing.
// It calculates Euclidean distance (scaled) between coordinates for deterministic tests.
type MockDistanceCalculator struct {
	ScaleFactor float64
	Overrides   map[string]float64
	Calls       []DistanceCall

	mu sync.Mutex
}

func NewMockDistanceCalculator() *MockDistanceCalculator {
	return &MockDistanceCalculator{
		ScaleFactor: 111, // 1 degree ≈ 111km
		Overrides:   make(map[string]float64),
		Calls:       []DistanceCall{},
	}
}

func (m *MockDistanceCalculator) makeKey(origin, dest models.Coordinates) string {
	return fmt.Sprintf("%.5f,%.5f->%.5f,%.5f", origin.Lat, origin.Lng, dest.Lat, dest.Lng)
}

// SetDistance sets a custom distance for a pair of points, in both directions
func (m *MockDistanceCalculator) SetDistance(origin, dest models.Coordinates, km float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Overrides[m.makeKey(origin, dest)] = km
	m.Overrides[m.makeKey(dest, origin)] = km
}

// euclidean calculates scaled Euclidean distance between two coordinates
func (m *MockDistanceCalculator) euclidean(origin, dest models.Coordinates) float64 {
	dLat := dest.Lat - origin.Lat
	dLng := dest.Lng - origin.Lng
	return math.Sqrt(dLat*dLat+dLng*dLng) * m.ScaleFactor
}

// Kilometers returns the distance between two points
func (m *MockDistanceCalculator) Kilometers(origin, dest models.Coordinates) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, DistanceCall{Origin: origin, Dest: dest})

	if override, ok := m.Overrides[m.makeKey(origin, dest)]; ok {
		return override
	}

	// Same point = 0 distance
	if models.RoundCoordinate(origin.Lat) == models.RoundCoordinate(dest.Lat) &&
		models.RoundCoordinate(origin.Lng) == models.RoundCoordinate(dest.Lng) {
		return 0
	}

	return m.euclidean(origin, dest)
}

// CallCount returns the number of recorded calls
func (m *MockDistanceCalculator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// ResetCalls clears the recorded calls
func (m *MockDistanceCalculator) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = []DistanceCall{}
}

// Staff builds a staff record for tests
func Staff(id string, lat, lng float64) models.StaffRecord {
	return models.StaffRecord{
		ID:        id,
		Name:      "Staff " + id,
		Lat:       lat,
		Lng:       lng,
		Address:   "Address " + id,
		ClusterID: models.Unclustered,
	}
}

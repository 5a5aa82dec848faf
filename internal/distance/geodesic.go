package distance

import (
	"github.com/golang/geo/s2"

	"ride-router/internal/models"
)

// EarthRadiusKm is the mean Earth radius used to scale great-circle angles
const EarthRadiusKm = 6371.0088

// Calculator provides distances between coordinates
type Calculator interface {
	Kilometers(a, b models.Coordinates) float64
}

type geodesicCalculator struct{}

// NewGeodesic creates a calculator that returns great-circle distance on the
// mean-radius sphere. At city scale the difference from the WGS84 ellipsoid is
// well under one percent.
func NewGeodesic() Calculator {
	return geodesicCalculator{}
}

func (geodesicCalculator) Kilometers(a, b models.Coordinates) float64 {
	return Kilometers(a, b)
}

// Kilometers returns the great-circle distance between two points.
// It is symmetric and returns exactly 0 for identical points.
func Kilometers(a, b models.Coordinates) float64 {
	if a == b {
		return 0
	}
	p1 := s2.LatLngFromDegrees(a.Lat, a.Lng)
	p2 := s2.LatLngFromDegrees(b.Lat, b.Lng)
	return p1.Distance(p2).Radians() * EarthRadiusKm
}

// Matrix returns the pairwise distance matrix for points. The diagonal is zero
// and only the upper triangle is computed, so matrix[i][j] == matrix[j][i].
func Matrix(calc Calculator, points []models.Coordinates) [][]float64 {
	n := len(points)
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			d := calc.Kilometers(points[i], points[j])
			matrix[i][j] = d
			matrix[j][i] = d
		}
	}
	return matrix
}

// PathKilometers returns the length of the path visiting points in order
func PathKilometers(calc Calculator, points []models.Coordinates) float64 {
	total := 0.0
	for i := 0; i+1 < len(points); i++ {
		total += calc.Kilometers(points[i], points[i+1])
	}
	return total
}

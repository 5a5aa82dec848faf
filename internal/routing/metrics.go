package routing

import (
	"ride-router/internal/distance"
	"ride-router/internal/models"
)

// MetricsCalculator prices routes that end at the office
type MetricsCalculator struct {
	office       models.Coordinates
	distanceCalc distance.Calculator
	costPerKm    float64
}

func NewMetricsCalculator(office models.Coordinates, distanceCalc distance.Calculator, costPerKm float64) *MetricsCalculator {
	return &MetricsCalculator{
		office:       office,
		distanceCalc: distanceCalc,
		costPerKm:    costPerKm,
	}
}

// Metrics returns the length of the pickup sequence plus the final leg to the
// office, and that length times the cost rate. An empty route costs nothing.
func (m *MetricsCalculator) Metrics(stops []models.StaffRecord) (totalKm, cost float64) {
	if len(stops) == 0 {
		return 0, 0
	}

	points := make([]models.Coordinates, 0, len(stops)+1)
	for i := range stops {
		points = append(points, stops[i].GetCoords())
	}
	points = append(points, m.office)

	totalKm = distance.PathKilometers(m.distanceCalc, points)
	return totalKm, totalKm * m.costPerKm
}

// Apply fills in distance and cost on every route
func (m *MetricsCalculator) Apply(routes models.RouteCollection) {
	for i := range routes {
		routes[i].TotalDistanceKm, routes[i].TotalCost = m.Metrics(routes[i].Stops)
	}
}

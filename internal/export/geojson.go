// Package export renders optimization results as GeoJSON for map clients.
package export

import (
	"fmt"
	"log"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"ride-router/internal/models"
)

// OfficeColor marks the office feature
const OfficeColor = "red"

// RouteColors is cycled over routes in creation order
var RouteColors = []string{
	"blue", "green", "purple", "orange", "darkred",
	"lightred", "beige", "darkblue", "darkgreen", "cadetblue",
}

// Feature kinds carried in the "kind" property
const (
	KindOffice = "office"
	KindRoute  = "route"
	KindStop   = "stop"
)

// ErrRenderingFailed lists routes left out of a rendering
type ErrRenderingFailed struct {
	Routes  []string
	Reasons []string
}

func (e *ErrRenderingFailed) Error() string {
	return fmt.Sprintf("failed to render %d route(s): %s", len(e.Routes), strings.Join(e.Reasons, "; "))
}

// Warning converts the failure into a result warning listing affected staff
func (e *ErrRenderingFailed) Warning(result *models.Result) models.Warning {
	var ids []string
	for _, name := range e.Routes {
		if route := result.Routes.Get(name); route != nil {
			ids = append(ids, route.StaffIDs()...)
		}
	}
	return models.Warning{Kind: models.WarningRenderingFailure, Message: e.Error(), StaffIDs: ids}
}

// RouteColor returns the palette colour of the i-th route
func RouteColor(i int) string {
	return RouteColors[i%len(RouteColors)]
}

// GeoJSON builds a feature collection with the office, one line per route
// (pickups in order, then the office) and one point per stop. Routes with
// unusable coordinates are skipped and reported through *ErrRenderingFailed;
// the returned collection is still valid in that case.
func GeoJSON(result *models.Result) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	if result == nil {
		return fc, nil
	}

	if !result.Office.Valid() {
		return nil, &ErrRenderingFailed{Reasons: []string{fmt.Sprintf("invalid office coordinates %v,%v", result.Office.Lat, result.Office.Lng)}}
	}

	office := point(result.Office)
	officeFeature := geojson.NewFeature(office)
	officeFeature.Properties["kind"] = KindOffice
	officeFeature.Properties["name"] = "Office"
	officeFeature.Properties["color"] = OfficeColor
	fc.Append(officeFeature)

	bound := office.Bound()
	var failed *ErrRenderingFailed

	for i := range result.Routes {
		route := &result.Routes[i]
		color := RouteColor(i)

		if reason := checkStops(route.Stops); reason != "" {
			if failed == nil {
				failed = &ErrRenderingFailed{}
			}
			failed.Routes = append(failed.Routes, route.Name)
			failed.Reasons = append(failed.Reasons, route.Name+": "+reason)
			log.Printf("[EXPORT] Skipping route: route=%s reason=%s", route.Name, reason)
			continue
		}

		line := make(orb.LineString, 0, len(route.Stops)+1)
		for _, stop := range route.Stops {
			line = append(line, point(stop.GetCoords()))
		}
		line = append(line, office)
		bound = bound.Union(line.Bound())

		lineFeature := geojson.NewFeature(line)
		lineFeature.Properties["kind"] = KindRoute
		lineFeature.Properties["route_name"] = route.Name
		lineFeature.Properties["cluster"] = route.ClusterID
		lineFeature.Properties["color"] = color
		lineFeature.Properties["weight"] = 2
		lineFeature.Properties["opacity"] = 0.6
		lineFeature.Properties["dash_array"] = "5, 10"
		lineFeature.Properties["stops"] = len(route.Stops)
		lineFeature.Properties["total_distance_km"] = route.TotalDistanceKm
		lineFeature.Properties["total_cost"] = route.TotalCost
		fc.Append(lineFeature)

		for order, stop := range route.Stops {
			stopFeature := geojson.NewFeature(point(stop.GetCoords()))
			stopFeature.Properties["kind"] = KindStop
			stopFeature.Properties["route_name"] = route.Name
			stopFeature.Properties["order"] = order + 1
			stopFeature.Properties["staff_id"] = stop.ID
			stopFeature.Properties["name"] = stop.Name
			stopFeature.Properties["address"] = stop.Address
			stopFeature.Properties["distance_to_office"] = stop.DistanceToOfficeKm
			stopFeature.Properties["color"] = color
			fc.Append(stopFeature)
		}
	}

	fc.BBox = geojson.NewBBox(bound)

	if failed != nil {
		return fc, failed
	}
	return fc, nil
}

// point converts to GeoJSON axis order [lng, lat]
func point(c models.Coordinates) orb.Point {
	return orb.Point{c.Lng, c.Lat}
}

func checkStops(stops []models.StaffRecord) string {
	if len(stops) == 0 {
		return "no stops"
	}
	for _, s := range stops {
		if !s.GetCoords().Valid() {
			return fmt.Sprintf("invalid coordinates for staff %s", s.ID)
		}
	}
	return ""
}

package models

import (
	"math"
	"time"
)

// Unclustered is the cluster id carried by a staff record that is not
// density-reachable from any cluster.
const Unclustered = -1

// Coordinates represents a geographic point
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Valid reports whether the point lies within WGS84 bounds
func (c Coordinates) Valid() bool {
	if math.IsNaN(c.Lat) || math.IsNaN(c.Lng) {
		return false
	}
	return c.Lat >= -90 && c.Lat <= 90 && c.Lng >= -180 && c.Lng <= 180
}

// StaffRecord represents a staff member to be picked up and driven to the office
type StaffRecord struct {
	ID      string  `json:"staff_id"`
	Name    string  `json:"name"`
	Lat     float64 `json:"latitude"`
	Lng     float64 `json:"longitude"`
	Address string  `json:"address"`

	ClusterID          int     `json:"cluster"`
	DistanceToOfficeKm float64 `json:"distance_to_office"`
}

// GetCoords returns the coordinates of the staff member
func (s *StaffRecord) GetCoords() Coordinates {
	return Coordinates{Lat: s.Lat, Lng: s.Lng}
}

// Route is an ordered list of pickups ending at the office
type Route struct {
	Name            string        `json:"route_name"`
	ClusterID       int           `json:"cluster"`
	Stops           []StaffRecord `json:"stops"`
	TotalDistanceKm float64       `json:"total_distance_km"`
	TotalCost       float64       `json:"total_cost"`
	Rebalanced      bool          `json:"rebalanced,omitempty"`
}

// StaffIDs returns the ids of the route's stops in pickup order
func (r *Route) StaffIDs() []string {
	ids := make([]string, len(r.Stops))
	for i := range r.Stops {
		ids[i] = r.Stops[i].ID
	}
	return ids
}

// RouteCollection is an ordered mapping from route name to route.
// Order is route creation order.
type RouteCollection []Route

// Get returns the named route, or nil
func (c RouteCollection) Get(name string) *Route {
	for i := range c {
		if c[i].Name == name {
			return &c[i]
		}
	}
	return nil
}

// Names returns route names in creation order
func (c RouteCollection) Names() []string {
	names := make([]string, len(c))
	for i := range c {
		names[i] = c[i].Name
	}
	return names
}

func (c RouteCollection) Len() int {
	return len(c)
}

// StaffCount returns the number of routed staff across all routes
func (c RouteCollection) StaffCount() int {
	n := 0
	for i := range c {
		n += len(c[i].Stops)
	}
	return n
}

// WarningKind classifies a non-fatal problem found during a run
type WarningKind string

const (
	WarningUnresolvedOutlier    WarningKind = "unresolved_outlier"
	WarningCapacityUnassignable WarningKind = "capacity_unassignable"
	WarningRenderingFailure     WarningKind = "rendering_failure"
	WarningLargeInput           WarningKind = "large_input"
)

// Warning is a structural problem reported alongside a partial result
type Warning struct {
	Kind     WarningKind `json:"kind"`
	Message  string      `json:"message"`
	StaffIDs []string    `json:"staff_ids,omitempty"`
}

// RunParams echoes the parameters an optimization ran with
type RunParams struct {
	EpsKm          float64 `json:"eps_km"`
	MinPassengers  int     `json:"min_passengers"`
	MaxPassengers  int     `json:"max_passengers"`
	MinClusterSize int     `json:"min_cluster_size"`
	CostPerKm      float64 `json:"cost_per_km"`
}

// RunSummary contains aggregate stats for one optimization run
type RunSummary struct {
	TotalStaff      int     `json:"total_staff"`
	RoutedStaff     int     `json:"routed_staff"`
	Clusters        int     `json:"clusters"`
	Routes          int     `json:"routes"`
	TotalDistanceKm float64 `json:"total_distance_km"`
	TotalCost       float64 `json:"total_cost"`
}

// Result contains the full output of one optimization run
type Result struct {
	RunID      string          `json:"run_id"`
	Office     Coordinates     `json:"office"`
	Params     RunParams       `json:"params"`
	Staff      []StaffRecord   `json:"staff"`
	Routes     RouteCollection `json:"routes"`
	Warnings   []Warning       `json:"warnings"`
	Unassigned []string        `json:"unassigned"`
	Summary    RunSummary      `json:"summary"`
	Duration   time.Duration   `json:"duration_ns"`
}

// AddWarning appends a warning to the result
func (r *Result) AddWarning(kind WarningKind, message string, staffIDs []string) {
	r.Warnings = append(r.Warnings, Warning{Kind: kind, Message: message, StaffIDs: staffIDs})
}

// HasWarning reports whether a warning of the given kind was raised
func (r *Result) HasWarning(kind WarningKind) bool {
	for _, w := range r.Warnings {
		if w.Kind == kind {
			return true
		}
	}
	return false
}

// Snapshot is a saved copy of a staff list and the routes computed for it
type Snapshot struct {
	Key       string        `json:"key"`
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Staff     []StaffRecord `json:"staff"`
	Result    *Result       `json:"result"`
}

// SnapshotInfo is the listing view of a snapshot
type SnapshotInfo struct {
	Key        string    `json:"key"`
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	StaffCount int       `json:"staff_count"`
	RouteCount int       `json:"route_count"`
}

// Info returns the listing view of the snapshot
func (s *Snapshot) Info() SnapshotInfo {
	info := SnapshotInfo{
		Key:        s.Key,
		ID:         s.ID,
		CreatedAt:  s.CreatedAt,
		StaffCount: len(s.Staff),
	}
	if s.Result != nil {
		info.RouteCount = len(s.Result.Routes)
	}
	return info
}

// SnapshotKeyLayout is the timestamp layout used for snapshot keys
const SnapshotKeyLayout = "2006-01-02 15:04:05"

// RoundCoordinate rounds to 5 decimal places (~1m precision)
func RoundCoordinate(v float64) float64 {
	return math.Round(v*100000) / 100000
}

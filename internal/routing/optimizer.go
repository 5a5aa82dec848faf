package routing

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"

	"ride-router/internal/clustering"
	"ride-router/internal/distance"
	"ride-router/internal/models"
)

// DefaultLargeInputThreshold is the staff count above which a run is flagged
// for its quadratic neighbour search
const DefaultLargeInputThreshold = 2000

// Options configures an Optimizer
type Options struct {
	Office         models.Coordinates
	MinPassengers  int
	MaxPassengers  int
	MinClusterSize int // 0 means MinPassengers
	CostPerKm      float64

	Workers             int // 0 means GOMAXPROCS
	LargeInputThreshold int // 0 means DefaultLargeInputThreshold

	DistanceCalc distance.Calculator // nil means great-circle
	Observer     Observer            // optional
}

// Optimizer runs the cluster, build and price pipeline. It holds no state
// between runs and is safe for concurrent use.
type Optimizer struct {
	opts       Options
	clusterer  *clustering.Clusterer
	builder    *Builder
	metricCalc *MetricsCalculator
}

// NewOptimizer validates opts and fills in defaults
func NewOptimizer(opts Options) (*Optimizer, error) {
	if !opts.Office.Valid() {
		return nil, invalid("office", "coordinates out of range: %v,%v", opts.Office.Lat, opts.Office.Lng)
	}
	if opts.MinPassengers < 1 {
		return nil, invalid("min_passengers", "must be at least 1, got %d", opts.MinPassengers)
	}
	if opts.MaxPassengers < opts.MinPassengers {
		return nil, invalid("max_passengers", "must be at least min_passengers (%d), got %d", opts.MinPassengers, opts.MaxPassengers)
	}
	if opts.CostPerKm < 0 || math.IsNaN(opts.CostPerKm) {
		return nil, invalid("cost_per_km", "must not be negative, got %v", opts.CostPerKm)
	}
	if opts.MinClusterSize < 0 {
		return nil, invalid("min_cluster_size", "must not be negative, got %d", opts.MinClusterSize)
	}
	if opts.MinClusterSize == 0 {
		opts.MinClusterSize = opts.MinPassengers
	}
	if opts.LargeInputThreshold <= 0 {
		opts.LargeInputThreshold = DefaultLargeInputThreshold
	}
	if opts.DistanceCalc == nil {
		opts.DistanceCalc = distance.NewGeodesic()
	}

	return &Optimizer{
		opts:       opts,
		clusterer:  clustering.New(opts.DistanceCalc),
		builder:    NewBuilder(opts.Office, opts.DistanceCalc, opts.Workers),
		metricCalc: NewMetricsCalculator(opts.Office, opts.DistanceCalc, opts.CostPerKm),
	}, nil
}

// Options returns the effective options, defaults included
func (o *Optimizer) Options() Options {
	return o.opts
}

// Optimize clusters staff, builds routes and prices them.
//
// An empty staff list yields an empty result. Invalid eps or staff records
// return *ErrInvalidInput. Staff that cannot be routed are reported through
// Result.Warnings and Result.Unassigned, never as an error.
func (o *Optimizer) Optimize(ctx context.Context, staff []models.StaffRecord, epsKm float64) (result *models.Result, err error) {
	start := time.Now()
	defer func() {
		if o.opts.Observer != nil {
			o.opts.Observer.ObserveRun(result, err)
		}
	}()

	// An empty list needs no eps
	if len(staff) == 0 {
		result = o.newResult(epsKm)
		log.Printf("[OPTIMIZE] No staff to route: run_id=%s", result.RunID)
		result.Duration = time.Since(start)
		return result, nil
	}

	if epsKm <= 0 || math.IsNaN(epsKm) || math.IsInf(epsKm, 0) {
		return nil, invalid("eps_km", "must be a positive number, got %v", epsKm)
	}
	if err := validateStaff(staff); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result = o.newResult(epsKm)
	log.Printf("[OPTIMIZE] Starting run: run_id=%s staff=%d eps_km=%.2f min=%d max=%d",
		result.RunID, len(staff), epsKm, o.opts.MinPassengers, o.opts.MaxPassengers)

	if len(staff) > o.opts.LargeInputThreshold {
		log.Printf("[OPTIMIZE] Large input: run_id=%s staff=%d threshold=%d", result.RunID, len(staff), o.opts.LargeInputThreshold)
		result.AddWarning(models.WarningLargeInput,
			fmt.Sprintf("%d staff exceeds %d; clustering and route building grow quadratically", len(staff), o.opts.LargeInputThreshold),
			nil)
	}

	labelled, err := o.clusterer.Cluster(staff, epsKm, o.opts.MinClusterSize)
	if err != nil {
		return nil, fmt.Errorf("failed to cluster staff: %w", err)
	}

	clusterIDs := make(map[int]struct{})
	var outliers []string
	for i := range labelled {
		labelled[i].DistanceToOfficeKm = o.opts.DistanceCalc.Kilometers(labelled[i].GetCoords(), o.opts.Office)
		if labelled[i].ClusterID == models.Unclustered {
			outliers = append(outliers, labelled[i].ID)
			continue
		}
		clusterIDs[labelled[i].ClusterID] = struct{}{}
	}
	result.Staff = labelled

	if len(outliers) > 0 {
		log.Printf("[OPTIMIZE] Unresolved outliers: run_id=%s count=%d", result.RunID, len(outliers))
		result.AddWarning(models.WarningUnresolvedOutlier,
			fmt.Sprintf("%d staff are not within %.2f km of any cluster", len(outliers), epsKm),
			outliers)
		result.Unassigned = append(result.Unassigned, outliers...)
	}

	built, err := o.builder.BuildRoutes(ctx, labelled, o.opts.MinPassengers, o.opts.MaxPassengers)
	if err != nil {
		return nil, fmt.Errorf("failed to build routes: %w", err)
	}
	o.metricCalc.Apply(built.Routes)
	result.Routes = built.Routes

	if len(built.Unplaced) > 0 {
		ids := make([]string, len(built.Unplaced))
		for i := range built.Unplaced {
			ids[i] = built.Unplaced[i].ID
		}
		log.Printf("[OPTIMIZE] Capacity unassignable: run_id=%s count=%d", result.RunID, len(ids))
		result.AddWarning(models.WarningCapacityUnassignable,
			fmt.Sprintf("%d staff could not be placed on a route of %d-%d passengers",
				len(ids), o.opts.MinPassengers, o.opts.MaxPassengers),
			ids)
		result.Unassigned = append(result.Unassigned, ids...)
	}

	result.Summary = models.RunSummary{
		TotalStaff:  len(labelled),
		RoutedStaff: result.Routes.StaffCount(),
		Clusters:    len(clusterIDs),
		Routes:      len(result.Routes),
	}
	for _, r := range result.Routes {
		result.Summary.TotalDistanceKm += r.TotalDistanceKm
		result.Summary.TotalCost += r.TotalCost
	}
	result.Duration = time.Since(start)

	log.Printf("[OPTIMIZE] Run complete: run_id=%s clusters=%d routes=%d routed=%d unassigned=%d total_km=%.2f total_cost=%.2f duration=%v",
		result.RunID, result.Summary.Clusters, result.Summary.Routes, result.Summary.RoutedStaff,
		len(result.Unassigned), result.Summary.TotalDistanceKm, result.Summary.TotalCost, result.Duration)

	return result, nil
}

func (o *Optimizer) newResult(epsKm float64) *models.Result {
	return &models.Result{
		RunID:  uuid.NewString(),
		Office: o.opts.Office,
		Params: models.RunParams{
			EpsKm:          epsKm,
			MinPassengers:  o.opts.MinPassengers,
			MaxPassengers:  o.opts.MaxPassengers,
			MinClusterSize: o.opts.MinClusterSize,
			CostPerKm:      o.opts.CostPerKm,
		},
		Staff:      []models.StaffRecord{},
		Routes:     models.RouteCollection{},
		Warnings:   []models.Warning{},
		Unassigned: []string{},
	}
}

func validateStaff(staff []models.StaffRecord) error {
	seen := make(map[string]struct{}, len(staff))
	for i := range staff {
		s := &staff[i]
		if s.ID == "" {
			return invalid("staff", "record %d has no staff_id", i+1)
		}
		if _, dup := seen[s.ID]; dup {
			return invalid("staff", "duplicate staff_id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
		if !s.GetCoords().Valid() {
			return invalid("staff", "staff %q has coordinates out of range: %v,%v", s.ID, s.Lat, s.Lng)
		}
	}
	return nil
}

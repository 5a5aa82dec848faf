package routing

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ride-router/internal/models"
	"ride-router/internal/testutil"
)

var accraOffice = models.Coordinates{Lat: 5.582636441579255, Lng: -0.143551646497661}

func defaultOptions() Options {
	return Options{
		Office:        accraOffice,
		MinPassengers: 3,
		MaxPassengers: 4,
		CostPerKm:     2.5,
		Workers:       2,
	}
}

func newTestOptimizer(t *testing.T, opts Options) *Optimizer {
	t.Helper()
	o, err := NewOptimizer(opts)
	require.NoError(t, err)
	return o
}

// scatter places n staff uniformly in a box of sideKm kilometers centred on the office
func scatter(seed int64, n int, sideKm float64) []models.StaffRecord {
	rng := rand.New(rand.NewSource(seed))
	half := sideKm / 2 / 111
	staff := make([]models.StaffRecord, n)
	for i := range staff {
		staff[i] = testutil.Staff(strconv.Itoa(i+1),
			accraOffice.Lat-half+rng.Float64()*2*half,
			accraOffice.Lng-half+rng.Float64()*2*half)
	}
	return staff
}

type recordingObserver struct {
	mu      sync.Mutex
	results []*models.Result
	errs    []error
}

func (r *recordingObserver) ObserveRun(result *models.Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	r.errs = append(r.errs, err)
}

func TestOptimize_UniformScatterRoutesEveryone(t *testing.T) {
	o := newTestOptimizer(t, defaultOptions())

	for _, seed := range []int64{1, 7, 21, 2024} {
		staff := scatter(seed, 20, 6)

		result, err := o.Optimize(context.Background(), staff, 2.0)
		require.NoError(t, err)

		for _, r := range result.Routes {
			assert.GreaterOrEqual(t, len(r.Stops), 3, "seed %d %s", seed, r.Name)
			assert.LessOrEqual(t, len(r.Stops), 4, "seed %d %s", seed, r.Name)
		}
		assert.Equal(t, 20, result.Routes.StaffCount(), "seed %d", seed)
		assert.Empty(t, result.Unassigned, "seed %d", seed)
		assert.Equal(t, 20, result.Summary.RoutedStaff)
	}
}

func TestOptimize_TightIsolatedGroup(t *testing.T) {
	o := newTestOptimizer(t, defaultOptions())
	staff := []models.StaffRecord{
		testutil.Staff("1", 5.6300, -0.2000),
		testutil.Staff("2", 5.6303, -0.2002),
		testutil.Staff("3", 5.6301, -0.2005),
	}

	result, err := o.Optimize(context.Background(), staff, 2.0)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Summary.Clusters)
	require.Len(t, result.Routes, 1)
	assert.Len(t, result.Routes[0].Stops, 3)
	assert.Equal(t, "Route 1", result.Routes[0].Name)
	assert.Empty(t, result.Warnings)
}

func TestOptimize_LoneStaffIsReportedNotRouted(t *testing.T) {
	o := newTestOptimizer(t, defaultOptions())
	staff := []models.StaffRecord{testutil.Staff("1", 5.60, -0.15)}

	result, err := o.Optimize(context.Background(), staff, 2.0)
	require.NoError(t, err)

	assert.Empty(t, result.Routes)
	assert.Equal(t, []string{"1"}, result.Unassigned)
	assert.True(t, result.HasWarning(models.WarningUnresolvedOutlier))
	require.Len(t, result.Staff, 1)
	assert.Equal(t, models.Unclustered, result.Staff[0].ClusterID)
}

func TestOptimize_CapacityUnassignableIsWarned(t *testing.T) {
	// Five staff in one tight cluster: one route of four, one left with no
	// route to join and nothing to borrow.
	o := newTestOptimizer(t, defaultOptions())
	staff := []models.StaffRecord{
		testutil.Staff("1", 5.6000, -0.1500),
		testutil.Staff("2", 5.6010, -0.1500),
		testutil.Staff("3", 5.6020, -0.1500),
		testutil.Staff("4", 5.6030, -0.1500),
		testutil.Staff("5", 5.6040, -0.1500),
	}

	result, err := o.Optimize(context.Background(), staff, 2.0)
	require.NoError(t, err)

	require.Len(t, result.Routes, 1)
	assert.Len(t, result.Routes[0].Stops, 4)
	assert.Len(t, result.Unassigned, 1)
	assert.True(t, result.HasWarning(models.WarningCapacityUnassignable))
	assert.Equal(t, 5, result.Summary.TotalStaff)
	assert.Equal(t, 4, result.Summary.RoutedStaff)
}

func TestOptimize_AttachesMetricsAndSummary(t *testing.T) {
	o := newTestOptimizer(t, defaultOptions())
	staff := scatter(3, 12, 4)

	result, err := o.Optimize(context.Background(), staff, 2.0)
	require.NoError(t, err)
	require.NotEmpty(t, result.Routes)

	total := 0.0
	for _, r := range result.Routes {
		assert.Greater(t, r.TotalDistanceKm, 0.0)
		assert.InDelta(t, r.TotalDistanceKm*2.5, r.TotalCost, 1e-9)
		total += r.TotalDistanceKm
	}
	assert.InDelta(t, total, result.Summary.TotalDistanceKm, 1e-9)
	assert.Equal(t, len(result.Routes), result.Summary.Routes)

	for _, s := range result.Staff {
		assert.Greater(t, s.DistanceToOfficeKm, 0.0, "staff %s", s.ID)
	}
}

func TestOptimize_EmptyStaff(t *testing.T) {
	o := newTestOptimizer(t, defaultOptions())

	result, err := o.Optimize(context.Background(), nil, 2.0)
	require.NoError(t, err)

	assert.NotEmpty(t, result.RunID)
	assert.Empty(t, result.Routes)
	assert.Empty(t, result.Warnings)
	assert.Empty(t, result.Unassigned)
	assert.Equal(t, 2.0, result.Params.EpsKm)
}

func TestOptimize_EmptyStaffIgnoresEps(t *testing.T) {
	o := newTestOptimizer(t, defaultOptions())

	for _, eps := range []float64{0, -1} {
		result, err := o.Optimize(context.Background(), nil, eps)
		require.NoError(t, err, "eps %v", eps)
		assert.Empty(t, result.Routes)

		result, err = o.Optimize(context.Background(), []models.StaffRecord{}, eps)
		require.NoError(t, err, "eps %v", eps)
		assert.Empty(t, result.Routes)
	}
}

func TestOptimize_InvalidInput(t *testing.T) {
	o := newTestOptimizer(t, defaultOptions())
	valid := testutil.Staff("1", 5.6, -0.15)

	tests := []struct {
		name  string
		staff []models.StaffRecord
		eps   float64
		field string
	}{
		{"zero eps", []models.StaffRecord{valid}, 0, "eps_km"},
		{"negative eps", []models.StaffRecord{valid}, -1, "eps_km"},
		{"missing id", []models.StaffRecord{testutil.Staff("", 5.6, -0.15)}, 2, "staff"},
		{"duplicate id", []models.StaffRecord{valid, valid}, 2, "staff"},
		{"latitude out of range", []models.StaffRecord{testutil.Staff("9", 95, 0)}, 2, "staff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Optimize(context.Background(), tt.staff, tt.eps)
			var ie *ErrInvalidInput
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, tt.field, ie.Field)
		})
	}
}

func TestOptimize_DoesNotModifyInput(t *testing.T) {
	o := newTestOptimizer(t, defaultOptions())
	staff := scatter(5, 10, 4)
	before := make([]models.StaffRecord, len(staff))
	copy(before, staff)

	_, err := o.Optimize(context.Background(), staff, 2.0)
	require.NoError(t, err)

	assert.Equal(t, before, staff)
}

func TestOptimize_Deterministic(t *testing.T) {
	o := newTestOptimizer(t, defaultOptions())
	staff := scatter(11, 60, 10)

	first, err := o.Optimize(context.Background(), staff, 1.5)
	require.NoError(t, err)
	second, err := o.Optimize(context.Background(), staff, 1.5)
	require.NoError(t, err)

	assert.Equal(t, first.Routes, second.Routes)
	assert.Equal(t, first.Unassigned, second.Unassigned)
	assert.Equal(t, first.Staff, second.Staff)
	assert.NotEqual(t, first.RunID, second.RunID)
}

func TestOptimize_LargeInputWarning(t *testing.T) {
	opts := defaultOptions()
	opts.LargeInputThreshold = 5
	o := newTestOptimizer(t, opts)

	result, err := o.Optimize(context.Background(), scatter(2, 6, 2), 2.0)
	require.NoError(t, err)

	assert.True(t, result.HasWarning(models.WarningLargeInput))
}

func TestOptimize_NotifiesObserver(t *testing.T) {
	obs := &recordingObserver{}
	opts := defaultOptions()
	opts.Observer = obs
	o := newTestOptimizer(t, opts)

	_, err := o.Optimize(context.Background(), scatter(4, 8, 3), 2.0)
	require.NoError(t, err)
	_, err = o.Optimize(context.Background(), nil, -1)
	require.Error(t, err)

	require.Len(t, obs.results, 2)
	assert.NotNil(t, obs.results[0])
	assert.NoError(t, obs.errs[0])
	assert.Nil(t, obs.results[1])
	assert.Error(t, obs.errs[1])
}

func TestNewOptimizer_Defaults(t *testing.T) {
	o := newTestOptimizer(t, defaultOptions())

	opts := o.Options()
	assert.Equal(t, 3, opts.MinClusterSize)
	assert.Equal(t, DefaultLargeInputThreshold, opts.LargeInputThreshold)
	assert.NotNil(t, opts.DistanceCalc)
}

func TestNewOptimizer_RejectsBadOptions(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
		field  string
	}{
		{"min below one", func(o *Options) { o.MinPassengers = 0 }, "min_passengers"},
		{"max below min", func(o *Options) { o.MaxPassengers = 2 }, "max_passengers"},
		{"negative cost", func(o *Options) { o.CostPerKm = -1 }, "cost_per_km"},
		{"office out of range", func(o *Options) { o.Office.Lat = 100 }, "office"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultOptions()
			tt.modify(&opts)

			_, err := NewOptimizer(opts)
			var ie *ErrInvalidInput
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, tt.field, ie.Field)
		})
	}
}

package routing

import (
	"context"
	"errors"
	"math/rand"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ride-router/internal/clustering"
	"ride-router/internal/distance"
	"ride-router/internal/models"
	"ride-router/internal/testutil"
)

var testOffice = models.Coordinates{Lat: 0, Lng: 0}

// member places a staff member on the meridian through the office, so mock
// distances are just differences in latitude
func member(id string, lat float64, cluster int) models.StaffRecord {
	s := testutil.Staff(id, lat, 0)
	s.ClusterID = cluster
	return s
}

func newTestBuilder(workers int) *Builder {
	return NewBuilder(testOffice, testutil.NewMockDistanceCalculator(), workers)
}

func TestBuildRoutes_SeedsFarthestAndChainsNearest(t *testing.T) {
	staff := []models.StaffRecord{
		member("1", 0.01, 0),
		member("2", 0.02, 0),
		member("3", 0.03, 0),
		member("4", 0.04, 0),
	}

	out, err := newTestBuilder(1).BuildRoutes(context.Background(), staff, 3, 4)
	require.NoError(t, err)

	require.Len(t, out.Routes, 1)
	assert.Equal(t, "Route 1", out.Routes[0].Name)
	assert.Equal(t, []string{"4", "3", "2", "1"}, out.Routes[0].StaffIDs())
	assert.InDelta(t, 0.04*111, out.Routes[0].Stops[0].DistanceToOfficeKm, 1e-9)
	assert.Empty(t, out.Unplaced)
}

func TestBuildRoutes_SplitsLargeCluster(t *testing.T) {
	var staff []models.StaffRecord
	for i := 1; i <= 8; i++ {
		staff = append(staff, member(strconv.Itoa(i), float64(i)/100, 0))
	}

	out, err := newTestBuilder(1).BuildRoutes(context.Background(), staff, 3, 4)
	require.NoError(t, err)

	require.Len(t, out.Routes, 2)
	assert.Equal(t, []string{"Route 1", "Route 2"}, out.Routes.Names())
	assert.Equal(t, []string{"8", "7", "6", "5"}, out.Routes[0].StaffIDs())
	assert.Equal(t, []string{"4", "3", "2", "1"}, out.Routes[1].StaffIDs())
}

func TestBuildRoutes_NamesFollowClusterOrder(t *testing.T) {
	staff := []models.StaffRecord{
		member("b1", 0.01, 1),
		member("b2", 0.02, 1),
		member("b3", 0.03, 1),
		member("a1", 0.10, 0),
		member("a2", 0.11, 0),
		member("a3", 0.12, 0),
	}

	out, err := newTestBuilder(2).BuildRoutes(context.Background(), staff, 3, 4)
	require.NoError(t, err)

	require.Len(t, out.Routes, 2)
	assert.Equal(t, 0, out.Routes.Get("Route 1").ClusterID)
	assert.Equal(t, 1, out.Routes.Get("Route 2").ClusterID)
}

func TestBuildRoutes_LeftoverAbsorbedIntoFirstRouteWithRoom(t *testing.T) {
	staff := []models.StaffRecord{
		member("a1", 0.10, 0),
		member("a2", 0.11, 0),
		member("a3", 0.12, 0),
		member("b1", 0.01, 1),
		member("b2", 0.02, 1),
		member("b3", 0.03, 1),
		member("b4", 0.04, 1),
		member("b5", 0.05, 1),
	}

	out, err := newTestBuilder(1).BuildRoutes(context.Background(), staff, 3, 4)
	require.NoError(t, err)

	require.Len(t, out.Routes, 2)
	assert.Equal(t, []string{"a3", "a2", "a1", "b1"}, out.Routes[0].StaffIDs())
	assert.Equal(t, []string{"b5", "b4", "b3", "b2"}, out.Routes[1].StaffIDs())
	assert.False(t, out.Routes[0].Rebalanced)
	assert.Empty(t, out.Unplaced)
}

func TestBuildRoutes_RebalancesLeftoversByBorrowing(t *testing.T) {
	var staff []models.StaffRecord
	for i := 1; i <= 6; i++ {
		staff = append(staff, member(strconv.Itoa(i), float64(i)/100, 0))
	}

	out, err := newTestBuilder(1).BuildRoutes(context.Background(), staff, 3, 4)
	require.NoError(t, err)

	require.Len(t, out.Routes, 2)
	assert.Equal(t, []string{"6", "5", "4"}, out.Routes[0].StaffIDs())
	assert.False(t, out.Routes[0].Rebalanced)

	assert.Equal(t, "Route 2", out.Routes[1].Name)
	assert.Equal(t, []string{"3", "2", "1"}, out.Routes[1].StaffIDs())
	assert.True(t, out.Routes[1].Rebalanced)
	assert.Empty(t, out.Unplaced)
}

func TestBuildRoutes_EarlyLeftoversRetriedAfterLaterClusters(t *testing.T) {
	staff := []models.StaffRecord{
		member("a1", 0.10, 0),
		member("a2", 0.11, 0),
		member("b1", 0.01, 1),
		member("b2", 0.02, 1),
		member("b3", 0.03, 1),
		member("b4", 0.04, 1),
	}

	out, err := newTestBuilder(1).BuildRoutes(context.Background(), staff, 3, 4)
	require.NoError(t, err)

	require.Len(t, out.Routes, 2)
	assert.Equal(t, []string{"b3", "b2", "b1"}, out.Routes[0].StaffIDs())

	rebalanced := out.Routes[1]
	assert.Equal(t, []string{"a2", "a1", "b4"}, rebalanced.StaffIDs())
	assert.Equal(t, 0, rebalanced.ClusterID)
	assert.True(t, rebalanced.Rebalanced)
	assert.Empty(t, out.Unplaced)
}

func TestBuildRoutes_ReportsWhatCannotBePlaced(t *testing.T) {
	var staff []models.StaffRecord
	for i := 1; i <= 5; i++ {
		staff = append(staff, member(strconv.Itoa(i), float64(i)/100, 0))
	}

	out, err := newTestBuilder(1).BuildRoutes(context.Background(), staff, 3, 4)
	require.NoError(t, err)

	require.Len(t, out.Routes, 1)
	assert.Equal(t, []string{"5", "4", "3", "2"}, out.Routes[0].StaffIDs())
	require.Len(t, out.Unplaced, 1)
	assert.Equal(t, "1", out.Unplaced[0].ID)
}

func TestBuildRoutes_IgnoresUnclustered(t *testing.T) {
	staff := []models.StaffRecord{
		member("1", 0.01, 0),
		member("2", 0.02, 0),
		member("3", 0.03, 0),
		member("x", 0.50, models.Unclustered),
	}

	out, err := newTestBuilder(1).BuildRoutes(context.Background(), staff, 3, 4)
	require.NoError(t, err)

	require.Len(t, out.Routes, 1)
	assert.NotContains(t, out.Routes[0].StaffIDs(), "x")
	assert.Empty(t, out.Unplaced)
}

func TestBuildRoutes_InvalidBounds(t *testing.T) {
	b := newTestBuilder(1)

	_, err := b.BuildRoutes(context.Background(), nil, 0, 4)
	var ie *ErrInvalidInput
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "min_passengers", ie.Field)

	_, err = b.BuildRoutes(context.Background(), nil, 4, 3)
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "max_passengers", ie.Field)
}

func TestBuildRoutes_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	staff := []models.StaffRecord{
		member("1", 0.01, 0),
		member("2", 0.02, 0),
		member("3", 0.03, 0),
	}

	_, err := newTestBuilder(1).BuildRoutes(ctx, staff, 3, 4)
	assert.True(t, errors.Is(err, context.Canceled))
}

func randomClustered(t *testing.T, seed int64, n int) []models.StaffRecord {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	staff := make([]models.StaffRecord, n)
	for i := range staff {
		staff[i] = testutil.Staff(strconv.Itoa(i+1),
			5.5526+rng.Float64()*0.06,
			-0.1735+rng.Float64()*0.06)
	}
	clustered, err := clustering.New(distance.NewGeodesic()).Cluster(staff, 1.0, 3)
	require.NoError(t, err)
	return clustered
}

func TestBuildRoutes_CapacityAndCoverage(t *testing.T) {
	office := models.Coordinates{Lat: 5.582636441579255, Lng: -0.143551646497661}

	for _, seed := range []int64{1, 2, 3, 4, 5} {
		clustered := randomClustered(t, seed, 75)
		b := NewBuilder(office, distance.NewGeodesic(), 4)

		out, err := b.BuildRoutes(context.Background(), clustered, 3, 4)
		require.NoError(t, err)

		seen := make(map[string]int)
		for _, r := range out.Routes {
			assert.GreaterOrEqual(t, len(r.Stops), 3, "seed %d %s", seed, r.Name)
			assert.LessOrEqual(t, len(r.Stops), 4, "seed %d %s", seed, r.Name)
			for _, s := range r.Stops {
				seen[s.ID]++
			}
		}
		for _, s := range out.Unplaced {
			seen[s.ID]++
		}

		for _, s := range clustered {
			if s.ClusterID == models.Unclustered {
				continue
			}
			assert.Equal(t, 1, seen[s.ID], "seed %d staff %s", seed, s.ID)
		}
	}
}

func TestBuildRoutes_ParallelMatchesSequential(t *testing.T) {
	office := models.Coordinates{Lat: 5.582636441579255, Lng: -0.143551646497661}
	clustered := randomClustered(t, 99, 120)

	sequential, err := NewBuilder(office, distance.NewGeodesic(), 1).BuildRoutes(context.Background(), clustered, 3, 4)
	require.NoError(t, err)
	parallel, err := NewBuilder(office, distance.NewGeodesic(), 8).BuildRoutes(context.Background(), clustered, 3, 4)
	require.NoError(t, err)

	assert.Equal(t, sequential, parallel)
}

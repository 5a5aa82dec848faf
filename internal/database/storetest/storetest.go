// Package storetest holds the behaviour every database.DataStore backend
// must share. Backend packages run it from their own tests.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ride-router/internal/database"
	"ride-router/internal/models"
)

// NewStoreFunc opens an empty store; the suite closes it
type NewStoreFunc func(t *testing.T) database.DataStore

// Snapshot builds a small saved run for round-trip checks
func Snapshot(createdAt time.Time) *models.Snapshot {
	staff := []models.StaffRecord{
		{ID: "1", Name: "Employee 1", Lat: 5.56, Lng: -0.19, Address: "Osu, Accra", ClusterID: 0, DistanceToOfficeKm: 5.2},
		{ID: "2", Name: "Employee 2", Lat: 5.57, Lng: -0.18, Address: "Labone, Accra", ClusterID: 0, DistanceToOfficeKm: 4.1},
		{ID: "3", Name: "Employee 3", Lat: 5.58, Lng: -0.17, Address: "Ridge, Accra", ClusterID: 0, DistanceToOfficeKm: 3.3},
	}
	return &models.Snapshot{
		CreatedAt: createdAt,
		Staff:     staff,
		Result: &models.Result{
			RunID:  "run-1",
			Office: models.Coordinates{Lat: 5.582636441579255, Lng: -0.143551646497661},
			Params: models.RunParams{EpsKm: 2, MinPassengers: 3, MaxPassengers: 4, MinClusterSize: 3, CostPerKm: 2.5},
			Staff:  staff,
			Routes: models.RouteCollection{
				{Name: "Route 1", ClusterID: 0, Stops: staff, TotalDistanceKm: 6.5, TotalCost: 16.25},
			},
			Summary: models.RunSummary{TotalStaff: 3, RoutedStaff: 3, Clusters: 1, Routes: 1, TotalDistanceKm: 6.5, TotalCost: 16.25},
		},
	}
}

// Run exercises a SnapshotRepository through newStore
func Run(t *testing.T, newStore NewStoreFunc) {
	t.Run("SaveAndGet", func(t *testing.T) {
		store := open(t, newStore)
		ctx := context.Background()
		created := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)

		saved, err := store.Snapshots().Save(ctx, Snapshot(created))
		require.NoError(t, err)
		assert.Equal(t, "2024-03-01 08:30:00", saved.Key)
		assert.NotEmpty(t, saved.ID)
		assert.True(t, created.Equal(saved.CreatedAt))

		got, err := store.Snapshots().Get(ctx, saved.Key)
		require.NoError(t, err)
		assert.Equal(t, saved.ID, got.ID)
		assert.True(t, created.Equal(got.CreatedAt))
		assert.Equal(t, saved.Staff, got.Staff)
		require.NotNil(t, got.Result)
		assert.Equal(t, []string{"Route 1"}, got.Result.Routes.Names())
		assert.Equal(t, 16.25, got.Result.Routes[0].TotalCost)
		assert.Equal(t, saved.Result.Summary, got.Result.Summary)
	})

	t.Run("SaveStampsMissingFields", func(t *testing.T) {
		store := open(t, newStore)

		saved, err := store.Snapshots().Save(context.Background(), Snapshot(time.Time{}))
		require.NoError(t, err)
		assert.NotEmpty(t, saved.ID)
		assert.False(t, saved.CreatedAt.IsZero())
		assert.Equal(t, saved.CreatedAt.Format(models.SnapshotKeyLayout), saved.Key)
	})

	t.Run("KeyCollisionGetsSuffix", func(t *testing.T) {
		store := open(t, newStore)
		ctx := context.Background()
		created := time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)

		first, err := store.Snapshots().Save(ctx, Snapshot(created))
		require.NoError(t, err)
		second, err := store.Snapshots().Save(ctx, Snapshot(created))
		require.NoError(t, err)
		third, err := store.Snapshots().Save(ctx, Snapshot(created))
		require.NoError(t, err)

		assert.Equal(t, "2024-03-01 08:30:00", first.Key)
		assert.Equal(t, "2024-03-01 08:30:00 #2", second.Key)
		assert.Equal(t, "2024-03-01 08:30:00 #3", third.Key)
		assert.NotEqual(t, first.ID, second.ID)
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		store := open(t, newStore)
		ctx := context.Background()
		base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

		for _, offset := range []time.Duration{time.Hour, 0, 2 * time.Hour} {
			_, err := store.Snapshots().Save(ctx, Snapshot(base.Add(offset)))
			require.NoError(t, err)
		}

		infos, err := store.Snapshots().List(ctx)
		require.NoError(t, err)
		require.Len(t, infos, 3)
		assert.Equal(t, "2024-03-01 10:00:00", infos[0].Key)
		assert.Equal(t, "2024-03-01 09:00:00", infos[1].Key)
		assert.Equal(t, "2024-03-01 08:00:00", infos[2].Key)
		assert.Equal(t, 3, infos[0].StaffCount)
		assert.Equal(t, 1, infos[0].RouteCount)
	})

	t.Run("ListEmpty", func(t *testing.T) {
		store := open(t, newStore)

		infos, err := store.Snapshots().List(context.Background())
		require.NoError(t, err)
		assert.Empty(t, infos)
	})

	t.Run("Delete", func(t *testing.T) {
		store := open(t, newStore)
		ctx := context.Background()

		saved, err := store.Snapshots().Save(ctx, Snapshot(time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)))
		require.NoError(t, err)

		require.NoError(t, store.Snapshots().Delete(ctx, saved.Key))

		_, err = store.Snapshots().Get(ctx, saved.Key)
		assert.ErrorIs(t, err, database.ErrNotFound)
		assert.ErrorIs(t, store.Snapshots().Delete(ctx, saved.Key), database.ErrNotFound)

		infos, err := store.Snapshots().List(ctx)
		require.NoError(t, err)
		assert.Empty(t, infos)
	})

	t.Run("GetMissing", func(t *testing.T) {
		store := open(t, newStore)

		_, err := store.Snapshots().Get(context.Background(), "1999-01-01 00:00:00")
		assert.ErrorIs(t, err, database.ErrNotFound)
	})

	t.Run("HealthCheck", func(t *testing.T) {
		store := open(t, newStore)
		assert.NoError(t, store.HealthCheck(context.Background()))
	})
}

func open(t *testing.T, newStore NewStoreFunc) database.DataStore {
	t.Helper()
	store := newStore(t)
	t.Cleanup(func() { store.Close() })
	return store
}

package database

import (
	"context"

	"ride-router/internal/models"
)

// DataStore is the interface for data persistence
type DataStore interface {
	Close() error
	HealthCheck(ctx context.Context) error
	Snapshots() SnapshotRepository
}

// SnapshotRepository handles saved staff lists and their routes.
// Keys are assigned by Save; List returns the newest snapshot first.
type SnapshotRepository interface {
	Save(ctx context.Context, snap *models.Snapshot) (*models.Snapshot, error)
	Get(ctx context.Context, key string) (*models.Snapshot, error)
	List(ctx context.Context) ([]models.SnapshotInfo, error)
	Delete(ctx context.Context, key string) error
}

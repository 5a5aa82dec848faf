// Package postgres stores snapshots in PostgreSQL through pgx's database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"ride-router/internal/database"
	"ride-router/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS ride_router_snapshots (
	key TEXT PRIMARY KEY,
	id UUID NOT NULL UNIQUE,
	created_at BIGINT NOT NULL,
	staff_count INTEGER NOT NULL DEFAULT 0,
	route_count INTEGER NOT NULL DEFAULT 0,
	payload JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ride_router_snapshots_created ON ride_router_snapshots (created_at DESC);
`

// Store implements database.DataStore on PostgreSQL
type Store struct {
	db *sql.DB

	snapshotRepo database.SnapshotRepository
}

// Open connects to databaseURL, verifies the connection and creates the
// snapshot table when missing.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify postgres connection: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log.Printf("[STORE] Connected to PostgreSQL")

	store := &Store{db: db}
	store.snapshotRepo = &snapshotRepository{db: db}
	return store, nil
}

// Close closes the connection pool
func (s *Store) Close() error {
	return s.db.Close()
}

// HealthCheck verifies the database connection
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Snapshots() database.SnapshotRepository { return s.snapshotRepo }

type snapshotRepository struct {
	db *sql.DB
}

func (r *snapshotRepository) Save(ctx context.Context, snap *models.Snapshot) (*models.Snapshot, error) {
	saved := *snap
	database.Stamp(&saved)
	info := saved.Info()

	for attempt := 0; attempt < database.MaxKeyAttempts; attempt++ {
		saved.Key = database.SnapshotKey(saved.CreatedAt, attempt)
		payload, err := database.EncodeSnapshot(&saved)
		if err != nil {
			return nil, err
		}

		res, err := r.db.ExecContext(ctx,
			`INSERT INTO ride_router_snapshots (key, id, created_at, staff_count, route_count, payload)
			 VALUES ($1, $2, $3, $4, $5, $6)
			 ON CONFLICT (key) DO NOTHING`,
			saved.Key, saved.ID, saved.CreatedAt.UnixNano(), info.StaffCount, info.RouteCount, string(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to insert snapshot: %w", err)
		}

		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to insert snapshot: %w", err)
		}
		if n == 1 {
			log.Printf("[STORE] Saved snapshot: key=%s id=%s staff=%d", saved.Key, saved.ID, info.StaffCount)
			return &saved, nil
		}
	}

	return nil, &database.ErrKeysExhausted{CreatedAt: saved.CreatedAt, Attempts: database.MaxKeyAttempts}
}

func (r *snapshotRepository) Get(ctx context.Context, key string) (*models.Snapshot, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx, `SELECT payload FROM ride_router_snapshots WHERE key = $1`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	return database.DecodeSnapshot(payload)
}

func (r *snapshotRepository) List(ctx context.Context) ([]models.SnapshotInfo, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT key, id::text, created_at, staff_count, route_count
		 FROM ride_router_snapshots
		 ORDER BY created_at DESC, key DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	infos := []models.SnapshotInfo{}
	for rows.Next() {
		var info models.SnapshotInfo
		var createdAt int64
		if err := rows.Scan(&info.Key, &info.ID, &createdAt, &info.StaffCount, &info.RouteCount); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		info.CreatedAt = time.Unix(0, createdAt).UTC()
		infos = append(infos, info)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}

	return infos, nil
}

func (r *snapshotRepository) Delete(ctx context.Context, key string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM ride_router_snapshots WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if n == 0 {
		return database.ErrNotFound
	}

	log.Printf("[STORE] Deleted snapshot: key=%s", key)
	return nil
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"ride-router/internal/database"
	"ride-router/internal/models"
)

type snapshotRepository struct {
	store *Store
}

func (r *snapshotRepository) Save(ctx context.Context, snap *models.Snapshot) (*models.Snapshot, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	saved := *snap
	database.Stamp(&saved)
	info := saved.Info()

	for attempt := 0; attempt < database.MaxKeyAttempts; attempt++ {
		saved.Key = database.SnapshotKey(saved.CreatedAt, attempt)
		payload, err := database.EncodeSnapshot(&saved)
		if err != nil {
			return nil, err
		}

		res, err := r.store.db.ExecContext(ctx,
			`INSERT INTO snapshots (key, id, created_at, staff_count, route_count, payload)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT(key) DO NOTHING`,
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
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var payload string
	err := r.store.db.QueryRowContext(ctx, `SELECT payload FROM snapshots WHERE key = ?`, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, database.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}

	return database.DecodeSnapshot([]byte(payload))
}

func (r *snapshotRepository) List(ctx context.Context) ([]models.SnapshotInfo, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	rows, err := r.store.db.QueryContext(ctx,
		`SELECT key, id, created_at, staff_count, route_count
		 FROM snapshots
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
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	res, err := r.store.db.ExecContext(ctx, `DELETE FROM snapshots WHERE key = ?`, key)
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

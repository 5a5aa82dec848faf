package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"ride-router/internal/models"
)

// JSONData represents the structure of the JSON file
type JSONData struct {
	Snapshots []models.Snapshot `json:"snapshots"`
}

// JSONStore is a JSON file-based data store. With an empty path it keeps
// everything in memory.
type JSONStore struct {
	filePath string
	data     *JSONData
	mu       sync.RWMutex

	snapshotRepository SnapshotRepository
}

func (s *JSONStore) Snapshots() SnapshotRepository { return s.snapshotRepository }

// NewJSONStore creates a JSON-based data store backed by filePath
func NewJSONStore(filePath string) (*JSONStore, error) {
	store := &JSONStore{
		filePath: filePath,
		data:     &JSONData{Snapshots: []models.Snapshot{}},
	}

	if filePath != "" {
		log.Printf("[STORE] Using JSON data file: %s", filePath)
		if err := store.load(); err != nil {
			return nil, err
		}
	} else {
		log.Printf("[STORE] Using in-memory snapshot store")
	}

	store.snapshotRepository = &jsonSnapshotRepository{store: store}
	return store, nil
}

// GetFilePath returns the backing file, empty for a memory store
func (s *JSONStore) GetFilePath() string {
	return s.filePath
}

func (s *JSONStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0700); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	data, err := os.ReadFile(s.filePath)
	if os.IsNotExist(err) {
		return s.saveUnlocked()
	}
	if err != nil {
		return fmt.Errorf("failed to read data file: %w", err)
	}

	if err := json.Unmarshal(data, s.data); err != nil {
		return fmt.Errorf("failed to parse data file: %w", err)
	}
	if s.data.Snapshots == nil {
		s.data.Snapshots = []models.Snapshot{}
	}

	log.Printf("[STORE] Loaded data: %d snapshots", len(s.data.Snapshots))
	return nil
}

func (s *JSONStore) saveUnlocked() error {
	if s.filePath == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	// Write to temp file first, then rename (atomic)
	tmpFile := s.filePath + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// Close is a no-op for JSON store (data is saved after each operation)
func (s *JSONStore) Close() error {
	return nil
}

// HealthCheck always returns nil for JSON store
func (s *JSONStore) HealthCheck(ctx context.Context) error {
	return nil
}

type jsonSnapshotRepository struct {
	store *JSONStore
}

func (r *jsonSnapshotRepository) Save(ctx context.Context, snap *models.Snapshot) (*models.Snapshot, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	saved, err := clone(snap)
	if err != nil {
		return nil, err
	}
	Stamp(&saved)
	err = AssignKey(&saved, func(key string) bool {
		return r.indexUnlocked(key) >= 0
	})
	if err != nil {
		return nil, err
	}

	r.store.data.Snapshots = append(r.store.data.Snapshots, saved)
	if err := r.store.saveUnlocked(); err != nil {
		r.store.data.Snapshots = r.store.data.Snapshots[:len(r.store.data.Snapshots)-1]
		return nil, err
	}

	log.Printf("[STORE] Saved snapshot: key=%s id=%s staff=%d", saved.Key, saved.ID, len(saved.Staff))
	return &saved, nil
}

func (r *jsonSnapshotRepository) Get(ctx context.Context, key string) (*models.Snapshot, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	i := r.indexUnlocked(key)
	if i < 0 {
		return nil, ErrNotFound
	}
	snap := r.store.data.Snapshots[i]
	return &snap, nil
}

func (r *jsonSnapshotRepository) List(ctx context.Context) ([]models.SnapshotInfo, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	infos := make([]models.SnapshotInfo, 0, len(r.store.data.Snapshots))
	for i := range r.store.data.Snapshots {
		infos = append(infos, r.store.data.Snapshots[i].Info())
	}
	SortInfos(infos)
	return infos, nil
}

func (r *jsonSnapshotRepository) Delete(ctx context.Context, key string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	i := r.indexUnlocked(key)
	if i < 0 {
		return ErrNotFound
	}

	previous := r.store.data.Snapshots
	remaining := make([]models.Snapshot, 0, len(previous)-1)
	remaining = append(remaining, previous[:i]...)
	remaining = append(remaining, previous[i+1:]...)

	r.store.data.Snapshots = remaining
	if err := r.store.saveUnlocked(); err != nil {
		r.store.data.Snapshots = previous
		return err
	}

	log.Printf("[STORE] Deleted snapshot: key=%s", key)
	return nil
}

func (r *jsonSnapshotRepository) indexUnlocked(key string) int {
	for i := range r.store.data.Snapshots {
		if r.store.data.Snapshots[i].Key == key {
			return i
		}
	}
	return -1
}

// clone detaches a snapshot from the caller's slices so the memory store
// behaves like the file store
func clone(snap *models.Snapshot) (models.Snapshot, error) {
	data, err := EncodeSnapshot(snap)
	if err != nil {
		return models.Snapshot{}, err
	}
	out, err := DecodeSnapshot(data)
	if err != nil {
		return models.Snapshot{}, err
	}
	return *out, nil
}

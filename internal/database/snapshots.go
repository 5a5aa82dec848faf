package database

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"ride-router/internal/models"
)

// MaxKeyAttempts bounds the collision suffixes tried for one save
const MaxKeyAttempts = 100

// Stamp fills the ID and creation time of a snapshot about to be saved.
// Existing values are kept so that imports preserve their identity.
func Stamp(snap *models.Snapshot) {
	if snap.ID == "" {
		snap.ID = uuid.NewString()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
}

// SnapshotKey returns the key tried on the given attempt: the creation
// timestamp, then "<timestamp> #2", "<timestamp> #3" and so on.
func SnapshotKey(createdAt time.Time, attempt int) string {
	key := createdAt.Format(models.SnapshotKeyLayout)
	if attempt == 0 {
		return key
	}
	return fmt.Sprintf("%s #%d", key, attempt+1)
}

// AssignKey picks the first free key for snap using taken to detect collisions
func AssignKey(snap *models.Snapshot, taken func(key string) bool) error {
	for attempt := 0; attempt < MaxKeyAttempts; attempt++ {
		key := SnapshotKey(snap.CreatedAt, attempt)
		if !taken(key) {
			snap.Key = key
			return nil
		}
	}
	return &ErrKeysExhausted{CreatedAt: snap.CreatedAt, Attempts: MaxKeyAttempts}
}

// SortInfos orders snapshot listings newest first. Equal creation times
// put the higher collision suffix first.
func SortInfos(infos []models.SnapshotInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.After(infos[j].CreatedAt)
		}
		ai, aj := keyAttempt(infos[i].Key), keyAttempt(infos[j].Key)
		if ai != aj {
			return ai > aj
		}
		return infos[i].Key > infos[j].Key
	})
}

// keyAttempt returns the collision suffix of a key: 1 for a bare timestamp,
// n for "<timestamp> #n"
func keyAttempt(key string) int {
	i := strings.LastIndex(key, " #")
	if i < 0 {
		return 1
	}
	n, err := strconv.Atoi(key[i+2:])
	if err != nil {
		return 1
	}
	return n
}

// EncodeSnapshot serializes a snapshot for backends that store one payload per key
func EncodeSnapshot(snap *models.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot is the inverse of EncodeSnapshot
func DecodeSnapshot(data []byte) (*models.Snapshot, error) {
	var snap models.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot: %w", err)
	}
	return &snap, nil
}

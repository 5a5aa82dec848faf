package database

import (
	"errors"
	"fmt"
	"time"

	"ride-router/internal/models"
)

// ErrNotFound is returned when a requested snapshot does not exist
var ErrNotFound = errors.New("snapshot not found")

// ErrKeysExhausted is returned when every collision suffix for a creation
// time is already taken
type ErrKeysExhausted struct {
	CreatedAt time.Time
	Attempts  int
}

func (e *ErrKeysExhausted) Error() string {
	return fmt.Sprintf("failed to assign snapshot key: %d keys taken at %s",
		e.Attempts, e.CreatedAt.Format(models.SnapshotKeyLayout))
}

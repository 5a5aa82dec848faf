package routing

import (
	"context"
	"fmt"

	"ride-router/internal/models"
)

// RouteOptimizer turns a staff list into capacity-bounded routes to the office
type RouteOptimizer interface {
	Optimize(ctx context.Context, staff []models.StaffRecord, epsKm float64) (*models.Result, error)
}

// Observer is notified once per optimization run, successful or not
type Observer interface {
	ObserveRun(result *models.Result, err error)
}

// ErrInvalidInput is returned when run parameters or staff records are unusable
type ErrInvalidInput struct {
	Field  string
	Reason string
}

func (e *ErrInvalidInput) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid input: %s", e.Reason)
	}
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ErrInvalidInput {
	return &ErrInvalidInput{Field: field, Reason: fmt.Sprintf(format, args...)}
}

package schedule

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehr/weekplan/internal/domain/plan"
)

var (
	ErrNotFound = errors.New("schedule not found")
	// ErrDuplicateKey is returned by Create when a non-archived schedule
	// already holds the natural key.
	ErrDuplicateKey = errors.New("schedule natural key already in use")
)

// VersionMismatchError is returned by UpdateIfVersion when the stored
// version differs from the expected one.
type VersionMismatchError struct {
	Expected int
	Actual   int
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("version mismatch: expected %d, stored %d", e.Expected, e.Actual)
}

type SearchParams struct {
	Mode          *plan.Mode
	DoctorID      *uuid.UUID
	WeekStartDate *plan.Date
	Status        *Status
}

type Repository interface {
	// Create stores s with its days at version 1 and assigns its id.
	Create(ctx context.Context, s *Schedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error)
	// FindActive returns the non-archived schedule holding key.
	FindActive(ctx context.Context, key NaturalKey) (*Schedule, error)
	// UpdateIfVersion loads the row for update, checks its version, applies
	// mutate and writes header and days back with version+1, all in one
	// transaction. An error from mutate aborts without writing.
	UpdateIfVersion(ctx context.Context, id uuid.UUID, expected int, mutate func(*Schedule) error) (*Schedule, error)
	// Search returns matching schedules without their days.
	Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Schedule, int, error)
	// OverrideDoctors lists doctors owning a non-archived DOCTOR_OVERRIDE
	// for the week.
	OverrideDoctors(ctx context.Context, weekStart plan.Date) ([]uuid.UUID, error)
}

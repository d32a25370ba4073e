package template

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("template not found")
	ErrDuplicateName = errors.New("template name already used in this scope")
)

type VersionMismatchError struct {
	Expected int
	Actual   int
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("version mismatch: expected %d, stored %d", e.Expected, e.Actual)
}

type SearchParams struct {
	Scope   *Scope
	OwnerID *uuid.UUID
	Active  *bool
	// Name matches case-insensitively anywhere in the template name.
	Name string
}

type Repository interface {
	// Create stores t at version 1 together with its first revision.
	Create(ctx context.Context, t *Template) error
	GetByID(ctx context.Context, id uuid.UUID) (*Template, error)
	GetRevision(ctx context.Context, id uuid.UUID, version int) (*Revision, error)
	// UpdateIfVersion applies mutate under a row lock when the stored version
	// equals expected, bumps the version and records a new revision.
	UpdateIfVersion(ctx context.Context, id uuid.UUID, expected int, mutate func(*Template) error) (*Template, error)
	Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Template, int, error)
}

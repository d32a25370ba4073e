// Package directory reads doctors, departments and holidays owned by the
// staff directory subsystem.
package directory

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ehr/weekplan/internal/domain/plan"
)

var ErrDoctorNotFound = errors.New("doctor not found")

type Doctor struct {
	ID           uuid.UUID  `json:"id"`
	DepartmentID *uuid.UUID `json:"department_id,omitempty"`
	DisplayName  string     `json:"display_name"`
	Active       bool       `json:"active"`
}

type Department struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

type Holiday struct {
	Date  plan.Date `json:"date"`
	Label string    `json:"label"`
}

// Directory lists active doctors and departments.
type Directory interface {
	// ListDoctors returns active doctors, optionally limited to one department.
	ListDoctors(ctx context.Context, departmentID *uuid.UUID) ([]Doctor, error)
	ListDepartments(ctx context.Context) ([]Department, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
}

type HolidayCalendar interface {
	// ListHolidays returns holidays with from <= date <= to.
	ListHolidays(ctx context.Context, from, to plan.Date) ([]Holiday, error)
}

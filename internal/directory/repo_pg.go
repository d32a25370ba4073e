package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/weekplan/internal/domain/plan"
	"github.com/ehr/weekplan/internal/platform/db"
)

// PG reads the directory tables through the tenant search_path:
//
//	department(id uuid, name text, active bool)
//	doctor(id uuid, department_id uuid null, display_name text, active bool)
//	holiday(holiday_date date, label text)
type PG struct{ pool *pgxpool.Pool }

func NewPG(pool *pgxpool.Pool) *PG { return &PG{pool: pool} }

func (r *PG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func (r *PG) ListDoctors(ctx context.Context, departmentID *uuid.UUID) ([]Doctor, error) {
	query := `SELECT id, department_id, display_name, active FROM doctor WHERE active`
	var args []interface{}
	if departmentID != nil {
		query += ` AND department_id = $1`
		args = append(args, *departmentID)
	}
	query += ` ORDER BY display_name, id`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list doctors: %w", err)
	}
	defer rows.Close()
	var out []Doctor
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.ID, &d.DepartmentID, &d.DisplayName, &d.Active); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *PG) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, name FROM department WHERE active ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list departments: %w", err)
	}
	defer rows.Close()
	var out []Department
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.ID, &d.Name); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *PG) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, department_id, display_name, active FROM doctor WHERE id = $1`, id).
		Scan(&d.ID, &d.DepartmentID, &d.DisplayName, &d.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDoctorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get doctor: %w", err)
	}
	return &d, nil
}

func (r *PG) ListHolidays(ctx context.Context, from, to plan.Date) ([]Holiday, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT holiday_date, label FROM holiday WHERE holiday_date BETWEEN $1 AND $2 ORDER BY holiday_date`,
		from.Time, to.Time)
	if err != nil {
		return nil, fmt.Errorf("list holidays: %w", err)
	}
	defer rows.Close()
	var out []Holiday
	for rows.Next() {
		var t time.Time
		var h Holiday
		if err := rows.Scan(&t, &h.Label); err != nil {
			return nil, err
		}
		h.Date = plan.DateOf(t)
		out = append(out, h)
	}
	return out, rows.Err()
}

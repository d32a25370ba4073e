package schedule

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

type repoPG struct {
	pool *pgxpool.Pool
	days plan.DayStore
}

func NewRepoPG(pool *pgxpool.Pool, days plan.DayStore) Repository {
	return &repoPG{pool: pool, days: days}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const schedCols = `id, mode, doctor_id, department_id, week_start_date, slot_duration_minutes,
	timezone, status, locked, lock_reason, version, created_by, updated_by,
	created_at, updated_at, published_at, archived_at`

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var (
		s        Schedule
		mode     plan.Mode
		doctorID *uuid.UUID
		week     time.Time
	)
	err := row.Scan(&s.ID, &mode, &doctorID, &s.DepartmentID, &week, &s.SlotDurationMinutes,
		&s.Timezone, &s.Status, &s.Locked, &s.LockReason, &s.Version, &s.CreatedBy, &s.UpdatedBy,
		&s.CreatedAt, &s.UpdatedAt, &s.PublishedAt, &s.ArchivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	owner, err := NewOwner(mode, doctorID)
	if err != nil {
		return nil, fmt.Errorf("schedule %s: %w", s.ID, err)
	}
	s.Owner = owner
	s.WeekStartDate = plan.DateOf(week)
	return &s, nil
}

func (r *repoPG) Create(ctx context.Context, s *Schedule) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		s.ID = uuid.New()
		s.Version = 1
		if s.Status == "" {
			s.Status = StatusDraft
		}
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO schedule (id, mode, doctor_id, department_id, week_start_date,
				slot_duration_minutes, timezone, status, locked, lock_reason, version,
				created_by, updated_by)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			RETURNING created_at, updated_at`,
			s.ID, s.Owner.Mode(), s.Owner.DoctorID(), s.DepartmentID, s.WeekStartDate.Time,
			s.SlotDurationMinutes, s.Timezone, s.Status, s.Locked, s.LockReason, s.Version,
			s.CreatedBy, s.UpdatedBy).Scan(&s.CreatedAt, &s.UpdatedAt)
		if db.IsUniqueViolation(err) {
			return ErrDuplicateKey
		}
		if err != nil {
			return fmt.Errorf("insert schedule: %w", err)
		}
		days, err := r.days.Replace(ctx, plan.OwnerSchedule, s.ID, s.Days)
		if err != nil {
			return err
		}
		s.Days = days
		return nil
	})
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	s, err := scanSchedule(r.conn(ctx).QueryRow(ctx, `SELECT `+schedCols+` FROM schedule WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if s.Days, err = r.days.Load(ctx, plan.OwnerSchedule, s.ID); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *repoPG) FindActive(ctx context.Context, key NaturalKey) (*Schedule, error) {
	s, err := scanSchedule(r.conn(ctx).QueryRow(ctx, `
		SELECT `+schedCols+` FROM schedule
		WHERE mode = $1 AND doctor_id IS NOT DISTINCT FROM $2 AND week_start_date = $3
			AND status <> 'ARCHIVED'`,
		key.Mode, key.DoctorID, key.WeekStartDate.Time))
	if err != nil {
		return nil, err
	}
	if s.Days, err = r.days.Load(ctx, plan.OwnerSchedule, s.ID); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *repoPG) UpdateIfVersion(ctx context.Context, id uuid.UUID, expected int, mutate func(*Schedule) error) (*Schedule, error) {
	var out *Schedule
	err := db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		s, err := scanSchedule(r.conn(ctx).QueryRow(ctx,
			`SELECT `+schedCols+` FROM schedule WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if s.Version != expected {
			return &VersionMismatchError{Expected: expected, Actual: s.Version}
		}
		if s.Days, err = r.days.Load(ctx, plan.OwnerSchedule, s.ID); err != nil {
			return err
		}
		if err := mutate(s); err != nil {
			return err
		}
		s.Version = expected + 1

		err = r.conn(ctx).QueryRow(ctx, `
			UPDATE schedule SET department_id=$2, slot_duration_minutes=$3, timezone=$4,
				status=$5, locked=$6, lock_reason=$7, version=$8, updated_by=$9,
				published_at=$10, archived_at=$11, updated_at=NOW()
			WHERE id = $1 AND version = $12
			RETURNING updated_at`,
			s.ID, s.DepartmentID, s.SlotDurationMinutes, s.Timezone, s.Status, s.Locked,
			s.LockReason, s.Version, s.UpdatedBy, s.PublishedAt, s.ArchivedAt, expected).Scan(&s.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return &VersionMismatchError{Expected: expected, Actual: -1}
		}
		if db.IsUniqueViolation(err) {
			return ErrDuplicateKey
		}
		if err != nil {
			return fmt.Errorf("update schedule: %w", err)
		}
		if s.Days, err = r.days.Replace(ctx, plan.OwnerSchedule, s.ID, s.Days); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repoPG) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Schedule, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if params.Mode != nil {
		where += fmt.Sprintf(` AND mode = $%d`, idx)
		args = append(args, *params.Mode)
		idx++
	}
	if params.DoctorID != nil {
		where += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, *params.DoctorID)
		idx++
	}
	if params.WeekStartDate != nil {
		where += fmt.Sprintf(` AND week_start_date = $%d`, idx)
		args = append(args, params.WeekStartDate.Time)
		idx++
	}
	if params.Status != nil {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, *params.Status)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM schedule`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + schedCols + ` FROM schedule` + where +
		fmt.Sprintf(` ORDER BY week_start_date DESC, updated_at DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

func (r *repoPG) OverrideDoctors(ctx context.Context, weekStart plan.Date) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT doctor_id FROM schedule
		WHERE mode = 'DOCTOR_OVERRIDE' AND week_start_date = $1 AND status <> 'ARCHIVED'`,
		weekStart.Time)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

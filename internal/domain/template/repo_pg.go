package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

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

const tmplCols = `id, scope, owner_id, name, description, slot_duration_minutes, active,
	version, created_by, updated_by, created_at, updated_at`

func scanTemplate(row pgx.Row) (*Template, error) {
	var (
		t       Template
		scope   Scope
		ownerID *uuid.UUID
	)
	err := row.Scan(&t.ID, &scope, &ownerID, &t.Name, &t.Description, &t.SlotDurationMinutes, &t.Active,
		&t.Version, &t.CreatedBy, &t.UpdatedBy, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if t.Owner, err = NewOwner(scope, ownerID); err != nil {
		return nil, fmt.Errorf("template %s: %w", t.ID, err)
	}
	return &t, nil
}

func (r *repoPG) Create(ctx context.Context, t *Template) error {
	return db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		t.ID = uuid.New()
		t.Version = 1
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO schedule_template (id, scope, owner_id, name, description,
				slot_duration_minutes, active, version, created_by, updated_by)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			RETURNING created_at, updated_at`,
			t.ID, t.Owner.Scope(), t.Owner.OwnerID(), t.Name, t.Description,
			t.SlotDurationMinutes, t.Active, t.Version, t.CreatedBy, t.UpdatedBy).Scan(&t.CreatedAt, &t.UpdatedAt)
		if db.IsUniqueViolation(err) {
			return ErrDuplicateName
		}
		if err != nil {
			return fmt.Errorf("insert template: %w", err)
		}
		if t.Days, err = r.days.Replace(ctx, plan.OwnerTemplate, t.ID, t.Days); err != nil {
			return err
		}
		return r.insertRevision(ctx, t.revision())
	})
}

func (r *repoPG) insertRevision(ctx context.Context, rev Revision) error {
	days, err := json.Marshal(rev.Days)
	if err != nil {
		return fmt.Errorf("encode revision days: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO template_revision (template_id, version, slot_duration_minutes, days, created_by)
		VALUES ($1,$2,$3,$4,$5)`,
		rev.TemplateID, rev.Version, rev.SlotDurationMinutes, days, rev.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert template revision: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Template, error) {
	t, err := scanTemplate(r.conn(ctx).QueryRow(ctx, `SELECT `+tmplCols+` FROM schedule_template WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if t.Days, err = r.days.Load(ctx, plan.OwnerTemplate, t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

func (r *repoPG) GetRevision(ctx context.Context, id uuid.UUID, version int) (*Revision, error) {
	var (
		rev  Revision
		days []byte
	)
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT template_id, version, slot_duration_minutes, days, created_by, created_at
		FROM template_revision WHERE template_id = $1 AND version = $2`, id, version).
		Scan(&rev.TemplateID, &rev.Version, &rev.SlotDurationMinutes, &days, &rev.CreatedBy, &rev.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(days, &rev.Days); err != nil {
		return nil, fmt.Errorf("decode revision %s@%d: %w", id, version, err)
	}
	return &rev, nil
}

func (r *repoPG) UpdateIfVersion(ctx context.Context, id uuid.UUID, expected int, mutate func(*Template) error) (*Template, error) {
	var out *Template
	err := db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		t, err := scanTemplate(r.conn(ctx).QueryRow(ctx,
			`SELECT `+tmplCols+` FROM schedule_template WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if t.Version != expected {
			return &VersionMismatchError{Expected: expected, Actual: t.Version}
		}
		if t.Days, err = r.days.Load(ctx, plan.OwnerTemplate, t.ID); err != nil {
			return err
		}
		if err := mutate(t); err != nil {
			return err
		}
		t.Version = expected + 1

		err = r.conn(ctx).QueryRow(ctx, `
			UPDATE schedule_template SET name=$2, description=$3, slot_duration_minutes=$4,
				active=$5, version=$6, updated_by=$7, updated_at=NOW()
			WHERE id = $1 AND version = $8
			RETURNING updated_at`,
			t.ID, t.Name, t.Description, t.SlotDurationMinutes, t.Active, t.Version, t.UpdatedBy, expected).
			Scan(&t.UpdatedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return &VersionMismatchError{Expected: expected, Actual: -1}
		}
		if db.IsUniqueViolation(err) {
			return ErrDuplicateName
		}
		if err != nil {
			return fmt.Errorf("update template: %w", err)
		}
		if t.Days, err = r.days.Replace(ctx, plan.OwnerTemplate, t.ID, t.Days); err != nil {
			return err
		}
		if err := r.insertRevision(ctx, t.revision()); err != nil {
			return err
		}
		out = t
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repoPG) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Template, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if params.Scope != nil {
		where += fmt.Sprintf(` AND scope = $%d`, idx)
		args = append(args, *params.Scope)
		idx++
	}
	if params.OwnerID != nil {
		where += fmt.Sprintf(` AND owner_id = $%d`, idx)
		args = append(args, *params.OwnerID)
		idx++
	}
	if params.Active != nil {
		where += fmt.Sprintf(` AND active = $%d`, idx)
		args = append(args, *params.Active)
		idx++
	}
	if params.Name != "" {
		where += fmt.Sprintf(` AND name ILIKE $%d`, idx)
		args = append(args, "%"+params.Name+"%")
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM schedule_template`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + tmplCols + ` FROM schedule_template` + where +
		fmt.Sprintf(` ORDER BY name, id LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Template
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, t)
	}
	return items, total, rows.Err()
}

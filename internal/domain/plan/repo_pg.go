package plan

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/weekplan/internal/platform/db"
)

// OwnerKind distinguishes the document that owns a set of day rows.
type OwnerKind string

const (
	OwnerSchedule OwnerKind = "schedule"
	OwnerTemplate OwnerKind = "template"
)

// DayStore persists days, intervals and blocks as flat rows keyed by
// generated ids. Rows reference their parent by id only.
type DayStore interface {
	Load(ctx context.Context, kind OwnerKind, ownerID uuid.UUID) ([]Day, error)
	// Replace makes the stored children of ownerID equal to days. Rows whose
	// id is not in days are deleted, the rest are upserted. Ids are assigned
	// to new items and the stored form is returned.
	Replace(ctx context.Context, kind OwnerKind, ownerID uuid.UUID, days []Day) ([]Day, error)
}

type dayStorePG struct{ pool *pgxpool.Pool }

func NewDayStorePG(pool *pgxpool.Pool) DayStore { return &dayStorePG{pool: pool} }

func (r *dayStorePG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func (r *dayStorePG) Load(ctx context.Context, kind OwnerKind, ownerID uuid.UUID) ([]Day, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, day_of_week, day_off FROM plan_day
		WHERE owner_kind = $1 AND owner_id = $2
		ORDER BY position`, kind, ownerID)
	if err != nil {
		return nil, fmt.Errorf("load days: %w", err)
	}
	var days []Day
	index := map[uuid.UUID]int{}
	for rows.Next() {
		var d Day
		if err := rows.Scan(&d.ID, &d.DayOfWeek, &d.DayOff); err != nil {
			rows.Close()
			return nil, err
		}
		d.Intervals = []Interval{}
		d.Blocks = []Block{}
		index[d.ID] = len(days)
		days = append(days, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(days) == 0 {
		return []Day{}, nil
	}

	ids := make([]uuid.UUID, 0, len(days))
	for _, d := range days {
		ids = append(ids, d.ID)
	}

	rows, err = r.conn(ctx).Query(ctx, `
		SELECT id, day_id, start_min, end_min, session_type, capacity FROM plan_interval
		WHERE day_id = ANY($1) ORDER BY start_min, id`, ids)
	if err != nil {
		return nil, fmt.Errorf("load intervals: %w", err)
	}
	for rows.Next() {
		var iv Interval
		var dayID uuid.UUID
		if err := rows.Scan(&iv.ID, &dayID, &iv.StartTime, &iv.EndTime, &iv.SessionType, &iv.Capacity); err != nil {
			rows.Close()
			return nil, err
		}
		i := index[dayID]
		days[i].Intervals = append(days[i].Intervals, iv)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = r.conn(ctx).Query(ctx, `
		SELECT id, day_id, start_min, end_min, block_type, reason FROM plan_block
		WHERE day_id = ANY($1) ORDER BY start_min, id`, ids)
	if err != nil {
		return nil, fmt.Errorf("load blocks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var b Block
		var dayID uuid.UUID
		if err := rows.Scan(&b.ID, &dayID, &b.StartTime, &b.EndTime, &b.BlockType, &b.Reason); err != nil {
			return nil, err
		}
		i := index[dayID]
		days[i].Blocks = append(days[i].Blocks, b)
	}
	return days, rows.Err()
}

func (r *dayStorePG) Replace(ctx context.Context, kind OwnerKind, ownerID uuid.UUID, days []Day) ([]Day, error) {
	out := Clone(days, false)
	err := db.RunInTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)

		existingDays, err := r.ids(ctx, `SELECT id FROM plan_day WHERE owner_kind = $1 AND owner_id = $2`, kind, ownerID)
		if err != nil {
			return err
		}
		existingIntervals, err := r.ids(ctx, `
			SELECT i.id FROM plan_interval i JOIN plan_day d ON d.id = i.day_id
			WHERE d.owner_kind = $1 AND d.owner_id = $2`, kind, ownerID)
		if err != nil {
			return err
		}
		existingBlocks, err := r.ids(ctx, `
			SELECT b.id FROM plan_block b JOIN plan_day d ON d.id = b.day_id
			WHERE d.owner_kind = $1 AND d.owner_id = $2`, kind, ownerID)
		if err != nil {
			return err
		}

		// Ids that do not already belong to this owner are replaced so a
		// client can never move another document's rows.
		keepDays, keepIntervals, keepBlocks := []uuid.UUID{}, []uuid.UUID{}, []uuid.UUID{}
		for i := range out {
			d := &out[i]
			d.ID = claim(d.ID, existingDays, &keepDays)
			for j := range d.Intervals {
				d.Intervals[j].ID = claim(d.Intervals[j].ID, existingIntervals, &keepIntervals)
			}
			for j := range d.Blocks {
				d.Blocks[j].ID = claim(d.Blocks[j].ID, existingBlocks, &keepBlocks)
			}
		}

		if _, err := q.Exec(ctx, `
			DELETE FROM plan_interval WHERE day_id IN (
				SELECT id FROM plan_day WHERE owner_kind = $1 AND owner_id = $2)
			AND NOT (id = ANY($3))`, kind, ownerID, keepIntervals); err != nil {
			return fmt.Errorf("delete stale intervals: %w", err)
		}
		if _, err := q.Exec(ctx, `
			DELETE FROM plan_block WHERE day_id IN (
				SELECT id FROM plan_day WHERE owner_kind = $1 AND owner_id = $2)
			AND NOT (id = ANY($3))`, kind, ownerID, keepBlocks); err != nil {
			return fmt.Errorf("delete stale blocks: %w", err)
		}
		if _, err := q.Exec(ctx, `
			DELETE FROM plan_day WHERE owner_kind = $1 AND owner_id = $2
			AND NOT (id = ANY($3))`, kind, ownerID, keepDays); err != nil {
			return fmt.Errorf("delete stale days: %w", err)
		}

		for pos, d := range out {
			if _, err := q.Exec(ctx, `
				INSERT INTO plan_day (id, owner_kind, owner_id, day_of_week, day_off, position)
				VALUES ($1,$2,$3,$4,$5,$6)
				ON CONFLICT (id) DO UPDATE SET day_of_week = EXCLUDED.day_of_week,
					day_off = EXCLUDED.day_off, position = EXCLUDED.position`,
				d.ID, kind, ownerID, d.DayOfWeek, d.DayOff, pos); err != nil {
				return fmt.Errorf("upsert day %s: %w", d.DayOfWeek, err)
			}
			for _, iv := range d.Intervals {
				if _, err := q.Exec(ctx, `
					INSERT INTO plan_interval (id, day_id, start_min, end_min, session_type, capacity)
					VALUES ($1,$2,$3,$4,$5,$6)
					ON CONFLICT (id) DO UPDATE SET day_id = EXCLUDED.day_id, start_min = EXCLUDED.start_min,
						end_min = EXCLUDED.end_min, session_type = EXCLUDED.session_type,
						capacity = EXCLUDED.capacity`,
					iv.ID, d.ID, int(iv.StartTime), int(iv.EndTime), iv.SessionType, iv.Capacity); err != nil {
					return fmt.Errorf("upsert interval: %w", err)
				}
			}
			for _, b := range d.Blocks {
				if _, err := q.Exec(ctx, `
					INSERT INTO plan_block (id, day_id, start_min, end_min, block_type, reason)
					VALUES ($1,$2,$3,$4,$5,$6)
					ON CONFLICT (id) DO UPDATE SET day_id = EXCLUDED.day_id, start_min = EXCLUDED.start_min,
						end_min = EXCLUDED.end_min, block_type = EXCLUDED.block_type, reason = EXCLUDED.reason`,
					b.ID, d.ID, int(b.StartTime), int(b.EndTime), b.BlockType, b.Reason); err != nil {
					return fmt.Errorf("upsert block: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *dayStorePG) ids(ctx context.Context, sql string, args ...interface{}) (map[uuid.UUID]bool, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	set := map[uuid.UUID]bool{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		set[id] = true
	}
	return set, rows.Err()
}

func claim(id uuid.UUID, existing map[uuid.UUID]bool, keep *[]uuid.UUID) uuid.UUID {
	if id == uuid.Nil || !existing[id] {
		return uuid.New()
	}
	delete(existing, id)
	*keep = append(*keep, id)
	return id
}

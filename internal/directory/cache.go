package directory

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"github.com/ehr/weekplan/internal/domain/plan"
)

// Cached is a read-through cache in front of a Directory and HolidayCalendar.
// Entries expire after ttl so directory edits show up without a restart.
// Errors are never cached.
type Cached struct {
	dir      Directory
	holidays HolidayCalendar
	logger   zerolog.Logger

	doctors     *expirable.LRU[string, []Doctor]
	doctor      *expirable.LRU[uuid.UUID, Doctor]
	departments *expirable.LRU[string, []Department]
	holidayList *expirable.LRU[string, []Holiday]
}

func NewCached(dir Directory, holidays HolidayCalendar, size int, ttl time.Duration, logger zerolog.Logger) *Cached {
	if size <= 0 {
		size = 256
	}
	return &Cached{
		dir:         dir,
		holidays:    holidays,
		logger:      logger.With().Str("component", "directory_cache").Logger(),
		doctors:     expirable.NewLRU[string, []Doctor](size, nil, ttl),
		doctor:      expirable.NewLRU[uuid.UUID, Doctor](size, nil, ttl),
		departments: expirable.NewLRU[string, []Department](1, nil, ttl),
		holidayList: expirable.NewLRU[string, []Holiday](size, nil, ttl),
	}
}

func (c *Cached) ListDoctors(ctx context.Context, departmentID *uuid.UUID) ([]Doctor, error) {
	key := "*"
	if departmentID != nil {
		key = departmentID.String()
	}
	if v, ok := c.doctors.Get(key); ok {
		return v, nil
	}
	c.logger.Debug().Str("department", key).Msg("doctors cache miss")
	v, err := c.dir.ListDoctors(ctx, departmentID)
	if err != nil {
		return nil, err
	}
	c.doctors.Add(key, v)
	return v, nil
}

func (c *Cached) ListDepartments(ctx context.Context) ([]Department, error) {
	if v, ok := c.departments.Get("all"); ok {
		return v, nil
	}
	v, err := c.dir.ListDepartments(ctx)
	if err != nil {
		return nil, err
	}
	c.departments.Add("all", v)
	return v, nil
}

func (c *Cached) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	if v, ok := c.doctor.Get(id); ok {
		return &v, nil
	}
	v, err := c.dir.GetDoctor(ctx, id)
	if err != nil {
		return nil, err
	}
	c.doctor.Add(id, *v)
	return v, nil
}

func (c *Cached) ListHolidays(ctx context.Context, from, to plan.Date) ([]Holiday, error) {
	key := from.String() + "|" + to.String()
	if v, ok := c.holidayList.Get(key); ok {
		return v, nil
	}
	v, err := c.holidays.ListHolidays(ctx, from, to)
	if err != nil {
		return nil, err
	}
	c.holidayList.Add(key, v)
	return v, nil
}

// Purge drops every cached entry.
func (c *Cached) Purge() {
	c.doctors.Purge()
	c.doctor.Purge()
	c.departments.Purge()
	c.holidayList.Purge()
}

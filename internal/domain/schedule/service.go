package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/weekplan/internal/directory"
	"github.com/ehr/weekplan/internal/domain/plan"
	"github.com/ehr/weekplan/internal/domain/template"
	"github.com/ehr/weekplan/internal/ledger"
	"github.com/ehr/weekplan/internal/platform/apperr"
	"github.com/ehr/weekplan/internal/platform/auth"
	"github.com/ehr/weekplan/internal/platform/events"
	"github.com/ehr/weekplan/internal/platform/metrics"
)

const DefaultBatchSize = 200

// Templates is the part of the template service the orchestrator reads.
type Templates interface {
	Snapshot(ctx context.Context, id uuid.UUID, version *int) (*template.Template, error)
	Applicable(ctx context.Context, departmentID, doctorID *uuid.UUID) ([]*template.Template, error)
}

type Options struct {
	// BatchSize caps the number of ledger writes sent in one call.
	BatchSize int
	// Location supplies the default timezone tag and the current week.
	Location *time.Location
}

type Service struct {
	repo      Repository
	templates Templates
	ledger    ledger.Ledger
	directory directory.Directory
	holidays  directory.HolidayCalendar
	events    events.Publisher
	metrics   *metrics.Metrics
	logger    zerolog.Logger
	opts      Options
	now       func() time.Time
}

func NewService(repo Repository, templates Templates, led ledger.Ledger, dir directory.Directory,
	holidays directory.HolidayCalendar, pub events.Publisher, m *metrics.Metrics, logger zerolog.Logger, opts Options) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		repo:      repo,
		templates: templates,
		ledger:    led,
		directory: dir,
		holidays:  holidays,
		events:    pub,
		metrics:   m,
		logger:    logger.With().Str("component", "schedule").Logger(),
		opts:      opts,
		now:       time.Now,
	}
}

// -- Requests and results --

// PlanRequest carries a full plan document as submitted by a client.
type PlanRequest struct {
	ScheduleID          *uuid.UUID `json:"schedule_id,omitempty"`
	Version             *int       `json:"version,omitempty"`
	Mode                plan.Mode  `json:"mode"`
	DoctorID            *uuid.UUID `json:"doctor_id,omitempty"`
	DepartmentID        *uuid.UUID `json:"department_id,omitempty"`
	WeekStartDate       plan.Date  `json:"week_start_date"`
	SlotDurationMinutes int        `json:"slot_duration_minutes"`
	Timezone            string     `json:"timezone,omitempty"`
	Days                []plan.Day `json:"days"`
}

func (r PlanRequest) planInput() plan.Input {
	return plan.Input{Mode: r.Mode, DoctorID: r.DoctorID, SlotDurationMinutes: r.SlotDurationMinutes, Days: r.Days}
}

type DraftResult struct {
	ScheduleID uuid.UUID `json:"schedule_id"`
	Version    int       `json:"version"`
	Status     Status    `json:"status"`
}

type ApplyTemplateRequest struct {
	TemplateID      uuid.UUID  `json:"template_id"`
	TemplateVersion *int       `json:"template_version,omitempty"`
	ScheduleID      *uuid.UUID `json:"schedule_id,omitempty"`
	Version         *int       `json:"version,omitempty"`
	Mode            plan.Mode  `json:"mode"`
	DoctorID        *uuid.UUID `json:"doctor_id,omitempty"`
	DepartmentID    *uuid.UUID `json:"department_id,omitempty"`
	WeekStartDate   plan.Date  `json:"week_start_date"`
	Timezone        string     `json:"timezone,omitempty"`
}

type PublishRequest struct {
	ScheduleID           uuid.UUID `json:"schedule_id"`
	Version              int       `json:"version"`
	FailOnBookedConflict bool      `json:"fail_on_booked_conflict"`
	DryRun               bool      `json:"dry_run"`
}

type PublishResult struct {
	ScheduleID uuid.UUID  `json:"schedule_id"`
	Version    int        `json:"version"`
	Status     Status     `json:"status"`
	DryRun     bool       `json:"dry_run"`
	Doctors    int        `json:"doctors"`
	Created    int        `json:"created"`
	Updated    int        `json:"updated"`
	Skipped    int        `json:"skipped"`
	Deleted    int        `json:"deleted"`
	Conflicts  []Conflict `json:"conflicts"`
	Warnings   []string   `json:"warnings"`
}

type CopyRequest struct {
	// SourceScheduleID picks the source directly; otherwise the active
	// schedule of the same owner at SourceWeekStartDate is used.
	SourceScheduleID    *uuid.UUID        `json:"source_schedule_id,omitempty"`
	SourceWeekStartDate plan.Date         `json:"source_week_start_date"`
	TargetWeekStartDate plan.Date         `json:"target_week_start_date"`
	TargetVersion       *int              `json:"target_version,omitempty"`
	Mode                plan.Mode         `json:"mode"`
	DoctorID            *uuid.UUID        `json:"doctor_id,omitempty"`
	Strategy            plan.CopyStrategy `json:"strategy"`
	IncludeBlocks       *bool             `json:"include_blocks,omitempty"`
	IncludeDayOffFlags  *bool             `json:"include_day_off_flags,omitempty"`
}

type CopyResult struct {
	ScheduleID       uuid.UUID `json:"schedule_id"`
	Version          int       `json:"version"`
	Copied           int       `json:"copied"`
	SkippedConflicts int       `json:"skipped_conflicts"`
	Warnings         []string  `json:"warnings"`
}

type Seed struct {
	Schedule *Schedule       `json:"schedule"`
	Preview  plan.Projection `json:"preview"`
}

type BootstrapResponse struct {
	WeekStart   plan.Date              `json:"week_start"`
	WeekEnd     plan.Date              `json:"week_end"`
	Timezone    string                 `json:"timezone"`
	Doctor      *directory.Doctor      `json:"doctor,omitempty"`
	Doctors     []directory.Doctor     `json:"doctors"`
	Departments []directory.Department `json:"departments"`
	Holidays    []directory.Holiday    `json:"holidays"`
	Templates   []*template.Template   `json:"templates"`
	Seeds       []Seed                 `json:"seeds"`
}

// -- Validation and preview --

func (s *Service) Validate(_ context.Context, req PlanRequest) plan.Result {
	return plan.Validate(req.planInput())
}

// Preview projects a submitted plan without looking at the ledger.
func (s *Service) Preview(_ context.Context, req PlanRequest) (plan.Projection, error) {
	if err := checkWeek(req.WeekStartDate); err != nil {
		return plan.Projection{}, err
	}
	if res := plan.Validate(req.planInput()); !res.Valid {
		return plan.Projection{}, apperr.Validation(res.Issues)
	}
	return plan.Project(plan.ProjectInput{
		Mode:                req.Mode,
		DoctorID:            req.DoctorID,
		WeekStartDate:       req.WeekStartDate,
		SlotDurationMinutes: req.SlotDurationMinutes,
		Days:                req.Days,
	}), nil
}

// -- Draft --

// SaveDraft stores the plan as the draft for its owner and week, reusing
// the active schedule at that key when there is one.
func (s *Service) SaveDraft(ctx context.Context, req PlanRequest) (*DraftResult, error) {
	if res := plan.Validate(req.planInput()); !res.Valid {
		return nil, apperr.Validation(res.Issues)
	}
	owner, err := NewOwner(req.Mode, req.DoctorID)
	if err != nil {
		return nil, apperr.BadRequest("%v", err)
	}
	if err := checkWeek(req.WeekStartDate); err != nil {
		return nil, err
	}
	tz, err := s.timezone(req.Timezone)
	if err != nil {
		return nil, err
	}
	user := auth.UserIDFromContext(ctx)
	key := NaturalKey{Mode: owner.Mode(), DoctorID: owner.DoctorID(), WeekStartDate: req.WeekStartDate}

	existing, err := s.repo.FindActive(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		if req.ScheduleID != nil {
			return nil, apperr.Conflict("schedule %s is not the active schedule for %s", *req.ScheduleID, key)
		}
		sched := &Schedule{
			Owner:               owner,
			DepartmentID:        req.DepartmentID,
			WeekStartDate:       req.WeekStartDate,
			SlotDurationMinutes: req.SlotDurationMinutes,
			Timezone:            tz,
			Status:              StatusDraft,
			CreatedBy:           user,
			UpdatedBy:           user,
			Days:                plan.Clone(req.Days, true),
		}
		if err := s.repo.Create(ctx, sched); err != nil {
			return nil, s.storeErr(err, nil)
		}
		s.logger.Info().Str("schedule_id", sched.ID.String()).Str("key", key.String()).Msg("draft created")
		s.emit(ctx, events.TypeScheduleDrafted, sched, nil)
		return &DraftResult{ScheduleID: sched.ID, Version: sched.Version, Status: sched.Status}, nil
	case err != nil:
		return nil, s.storeErr(err, nil)
	}

	if req.ScheduleID != nil && *req.ScheduleID != existing.ID {
		return nil, apperr.Conflict("schedule %s does not match the active schedule %s for %s", *req.ScheduleID, existing.ID, key)
	}
	if existing.Locked {
		return nil, lockedErr(existing)
	}
	if req.Version == nil {
		return nil, apperr.VersionConflict(0, existing.Version)
	}

	sched, err := s.repo.UpdateIfVersion(ctx, existing.ID, *req.Version, func(cur *Schedule) error {
		if cur.Locked {
			return lockedErr(cur)
		}
		cur.DepartmentID = req.DepartmentID
		cur.SlotDurationMinutes = req.SlotDurationMinutes
		cur.Timezone = tz
		cur.Status = StatusDraft
		cur.UpdatedBy = user
		cur.Days = plan.Clone(req.Days, false)
		return nil
	})
	if err != nil {
		return nil, s.storeErr(err, existing.ID)
	}
	s.logger.Info().Str("schedule_id", sched.ID.String()).Int("version", sched.Version).Msg("draft saved")
	s.emit(ctx, events.TypeScheduleDrafted, sched, nil)
	return &DraftResult{ScheduleID: sched.ID, Version: sched.Version, Status: sched.Status}, nil
}

// ApplyTemplate saves a template's days as the draft for the given key.
func (s *Service) ApplyTemplate(ctx context.Context, req ApplyTemplateRequest) (*DraftResult, error) {
	tmpl, err := s.templates.Snapshot(ctx, req.TemplateID, req.TemplateVersion)
	if err != nil {
		return nil, err
	}
	return s.SaveDraft(ctx, PlanRequest{
		ScheduleID:          req.ScheduleID,
		Version:             req.Version,
		Mode:                req.Mode,
		DoctorID:            req.DoctorID,
		DepartmentID:        req.DepartmentID,
		WeekStartDate:       req.WeekStartDate,
		SlotDurationMinutes: tmpl.SlotDurationMinutes,
		Timezone:            req.Timezone,
		Days:                plan.Clone(tmpl.Days, true),
	})
}

// -- Publish --

// Publish reconciles the stored draft against the ledger of every target
// doctor and marks the schedule PUBLISHED. Booked ledger entries are never
// changed. A dry run computes the same result without writing anything.
func (s *Service) Publish(ctx context.Context, req PublishRequest) (*PublishResult, error) {
	start := s.now()
	mode := ""
	res, err := s.publish(ctx, req, &mode)

	outcome := "ok"
	if err != nil {
		outcome = strings.ToLower(apperr.From(err).Code)
	}
	counts := metrics.PublishCounts{}
	if res != nil {
		counts = metrics.PublishCounts{Created: res.Created, Updated: res.Updated, Skipped: res.Skipped,
			Deleted: res.Deleted, Conflicts: len(res.Conflicts)}
	}
	s.metrics.ObservePublish(mode, outcome, req.DryRun, s.now().Sub(start), counts)
	return res, err
}

func (s *Service) publish(ctx context.Context, req PublishRequest, mode *string) (*PublishResult, error) {
	sched, err := s.repo.GetByID(ctx, req.ScheduleID)
	if err != nil {
		return nil, s.storeErr(err, req.ScheduleID)
	}
	*mode = string(sched.Owner.Mode())
	if sched.Status == StatusArchived {
		return nil, apperr.Conflict("schedule %s is archived", sched.ID)
	}
	if sched.Version != req.Version {
		return nil, apperr.VersionConflict(req.Version, sched.Version)
	}
	if res := plan.Validate(sched.PlanInput()); !res.Valid {
		return nil, apperr.ValidationFailed(res.Issues)
	}
	cells := sched.Project().Cells()

	doctors, err := s.targetDoctors(ctx, sched)
	if err != nil {
		return nil, err
	}

	result := &PublishResult{
		ScheduleID: sched.ID,
		Version:    sched.Version,
		Status:     sched.Status,
		DryRun:     req.DryRun,
		Doctors:    len(doctors),
		Conflicts:  []Conflict{},
		Warnings:   []string{},
	}
	from, to := sched.WeekStartDate, sched.WeekEndDate()
	for _, doctorID := range doctors {
		existing, err := s.ledger.ListSlots(ctx, doctorID, from, to)
		if err != nil {
			s.metrics.LedgerError("list")
			return nil, apperr.Unavailable("ledger", err)
		}
		d := reconcile(doctorID, sched.ID, cells, existing, req.FailOnBookedConflict)
		result.Conflicts = append(result.Conflicts, d.Conflicts...)
		result.Warnings = append(result.Warnings, d.Warnings...)
		result.Skipped += d.Skipped

		if req.DryRun {
			result.Created += len(d.Creates)
			result.Updated += len(d.Updates)
			result.Deleted += len(d.Deletes)
			continue
		}

		skipped, err := s.applyBatches(ctx, d.writes())
		if err != nil {
			s.metrics.LedgerError("apply")
			return nil, apperr.Unavailable("ledger", err)
		}
		lost := make(map[string]bool, len(skipped))
		for _, k := range skipped {
			lost[k.SlotKey()] = true
		}
		for _, sl := range d.Creates {
			if lost[sl.SlotKey()] {
				result.Skipped++
			} else {
				result.Created++
			}
		}
		for _, sl := range d.Updates {
			if lost[sl.SlotKey()] {
				result.Skipped++
			} else {
				result.Updated++
			}
		}
		for _, k := range d.Deletes {
			if !lost[k.SlotKey()] {
				result.Deleted++
			}
		}
	}

	if req.DryRun {
		return result, nil
	}

	user := auth.UserIDFromContext(ctx)
	published, err := s.repo.UpdateIfVersion(ctx, sched.ID, req.Version, func(cur *Schedule) error {
		if cur.Status == StatusArchived {
			return apperr.Conflict("schedule %s is archived", cur.ID)
		}
		now := s.now().UTC()
		cur.Status = StatusPublished
		cur.PublishedAt = &now
		cur.UpdatedBy = user
		return nil
	})
	if err != nil {
		return nil, s.storeErr(err, sched.ID)
	}
	result.Version = published.Version
	result.Status = published.Status

	s.logger.Info().
		Str("schedule_id", sched.ID.String()).
		Str("mode", *mode).
		Int("version", published.Version).
		Int("doctors", result.Doctors).
		Int("created", result.Created).
		Int("updated", result.Updated).
		Int("skipped", result.Skipped).
		Int("deleted", result.Deleted).
		Int("conflicts", len(result.Conflicts)).
		Msg("schedule published")
	s.emit(ctx, events.TypeSchedulePublished, published, map[string]int{
		"created": result.Created, "updated": result.Updated, "skipped": result.Skipped,
		"deleted": result.Deleted, "conflicts": len(result.Conflicts),
	})
	return result, nil
}

// targetDoctors resolves whose ledgers a schedule writes to. A global plan
// covers the department's doctors minus those with their own override for
// the week.
func (s *Service) targetDoctors(ctx context.Context, sched *Schedule) ([]uuid.UUID, error) {
	if id := sched.Owner.DoctorID(); id != nil {
		return []uuid.UUID{*id}, nil
	}
	doctors, err := s.directory.ListDoctors(ctx, sched.DepartmentID)
	if err != nil {
		return nil, apperr.Unavailable("directory", err)
	}
	overrides, err := s.repo.OverrideDoctors(ctx, sched.WeekStartDate)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	skip := make(map[uuid.UUID]bool, len(overrides))
	for _, id := range overrides {
		skip[id] = true
	}
	out := make([]uuid.UUID, 0, len(doctors))
	for _, d := range doctors {
		if !skip[d.ID] {
			out = append(out, d.ID)
		}
	}
	return out, nil
}

func (s *Service) applyBatches(ctx context.Context, writes []ledger.Write) ([]ledger.Key, error) {
	var skipped []ledger.Key
	for start := 0; start < len(writes); start += s.opts.BatchSize {
		end := start + s.opts.BatchSize
		if end > len(writes) {
			end = len(writes)
		}
		lost, err := s.ledger.Apply(ctx, writes[start:end])
		if err != nil {
			return nil, err
		}
		skipped = append(skipped, lost...)
	}
	return skipped, nil
}

// -- Archive and lock --

func (s *Service) Archive(ctx context.Context, id uuid.UUID, version int) (*Schedule, error) {
	cur, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.storeErr(err, id)
	}
	if cur.Status != StatusPublished {
		return nil, apperr.Conflict("only PUBLISHED schedules can be archived; schedule %s is %s", id, cur.Status)
	}
	if cur.Version != version {
		return nil, apperr.VersionConflict(version, cur.Version)
	}
	user := auth.UserIDFromContext(ctx)
	sched, err := s.repo.UpdateIfVersion(ctx, id, version, func(cur *Schedule) error {
		if cur.Status != StatusPublished {
			return apperr.Conflict("only PUBLISHED schedules can be archived; schedule %s is %s", id, cur.Status)
		}
		now := s.now().UTC()
		cur.Status = StatusArchived
		cur.ArchivedAt = &now
		cur.UpdatedBy = user
		return nil
	})
	if err != nil {
		return nil, s.storeErr(err, id)
	}
	s.logger.Info().Str("schedule_id", id.String()).Int("version", sched.Version).Msg("schedule archived")
	s.emit(ctx, events.TypeScheduleArchived, sched, nil)
	return sched, nil
}

// Lock freezes a schedule against draft saves and copies into it.
func (s *Service) Lock(ctx context.Context, id uuid.UUID, version int, reason string) (*Schedule, error) {
	return s.setLock(ctx, id, version, true, strings.TrimSpace(reason))
}

func (s *Service) Unlock(ctx context.Context, id uuid.UUID, version int) (*Schedule, error) {
	return s.setLock(ctx, id, version, false, "")
}

func (s *Service) setLock(ctx context.Context, id uuid.UUID, version int, locked bool, reason string) (*Schedule, error) {
	user := auth.UserIDFromContext(ctx)
	sched, err := s.repo.UpdateIfVersion(ctx, id, version, func(cur *Schedule) error {
		if cur.Status == StatusArchived {
			return apperr.Conflict("schedule %s is archived", id)
		}
		cur.Locked = locked
		cur.LockReason = nil
		if locked && reason != "" {
			cur.LockReason = &reason
		}
		cur.UpdatedBy = user
		return nil
	})
	if err != nil {
		return nil, s.storeErr(err, id)
	}
	s.logger.Info().Str("schedule_id", id.String()).Bool("locked", locked).Int("version", sched.Version).Msg("schedule lock changed")
	return sched, nil
}

// -- Reads --

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	sched, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, s.storeErr(err, id)
	}
	return sched, nil
}

func (s *Service) GetVersion(ctx context.Context, id uuid.UUID) (int, error) {
	sched, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return sched.Version, nil
}

func (s *Service) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Schedule, int, error) {
	items, total, err := s.repo.Search(ctx, params, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return items, total, nil
}

// Bootstrap composes what a planning screen needs for one week: directory
// lists, holidays, applicable templates and the existing schedules for the
// global key and the doctor's key.
func (s *Service) Bootstrap(ctx context.Context, doctorID *uuid.UUID, weekStart *plan.Date) (*BootstrapResponse, error) {
	week := plan.DateOf(s.now().In(s.opts.Location)).WeekStart()
	if weekStart != nil {
		week = weekStart.WeekStart()
	}
	resp := &BootstrapResponse{
		WeekStart: week,
		WeekEnd:   week.AddDays(6),
		Timezone:  s.opts.Location.String(),
		Seeds:     []Seed{},
	}

	var departmentID *uuid.UUID
	if doctorID != nil {
		doc, err := s.directory.GetDoctor(ctx, *doctorID)
		if errors.Is(err, directory.ErrDoctorNotFound) {
			return nil, apperr.NotFound("doctor", *doctorID)
		}
		if err != nil {
			return nil, apperr.Unavailable("directory", err)
		}
		resp.Doctor = doc
		departmentID = doc.DepartmentID
	}

	var err error
	if resp.Doctors, err = s.directory.ListDoctors(ctx, nil); err != nil {
		return nil, apperr.Unavailable("directory", err)
	}
	if resp.Departments, err = s.directory.ListDepartments(ctx); err != nil {
		return nil, apperr.Unavailable("directory", err)
	}
	if resp.Holidays, err = s.holidays.ListHolidays(ctx, resp.WeekStart, resp.WeekEnd); err != nil {
		return nil, apperr.Unavailable("holidays", err)
	}
	if resp.Templates, err = s.templates.Applicable(ctx, departmentID, doctorID); err != nil {
		return nil, err
	}

	keys := []NaturalKey{{Mode: plan.ModeGlobalTemplate, WeekStartDate: week}}
	if doctorID != nil {
		keys = append(keys, NaturalKey{Mode: plan.ModeDoctorOverride, DoctorID: doctorID, WeekStartDate: week})
	}
	for _, key := range keys {
		sched, err := s.repo.FindActive(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, apperr.Internal(err)
		}
		resp.Seeds = append(resp.Seeds, Seed{Schedule: sched, Preview: sched.Project()})
	}
	return resp, nil
}

// -- Copy --

// CopyWeek copies a source schedule's days into the target week of the
// requested owner. The target is always left as a DRAFT.
func (s *Service) CopyWeek(ctx context.Context, req CopyRequest) (*CopyResult, error) {
	owner, err := NewOwner(req.Mode, req.DoctorID)
	if err != nil {
		return nil, apperr.BadRequest("%v", err)
	}
	if err := checkWeek(req.TargetWeekStartDate); err != nil {
		return nil, err
	}
	opts, err := copyOptions(req)
	if err != nil {
		return nil, err
	}

	var source *Schedule
	if req.SourceScheduleID != nil {
		source, err = s.repo.GetByID(ctx, *req.SourceScheduleID)
		if err != nil {
			return nil, s.storeErr(err, *req.SourceScheduleID)
		}
	} else {
		if err := checkWeek(req.SourceWeekStartDate); err != nil {
			return nil, err
		}
		srcKey := NaturalKey{Mode: owner.Mode(), DoctorID: owner.DoctorID(), WeekStartDate: req.SourceWeekStartDate}
		source, err = s.repo.FindActive(ctx, srcKey)
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFound("schedule", srcKey)
		}
		if err != nil {
			return nil, apperr.Internal(err)
		}
	}

	user := auth.UserIDFromContext(ctx)
	key := NaturalKey{Mode: owner.Mode(), DoctorID: owner.DoctorID(), WeekStartDate: req.TargetWeekStartDate}
	if key.Mode == source.Owner.Mode() && key.WeekStartDate.Equal(source.WeekStartDate.Time) && sameDoctor(key.DoctorID, source.Owner.DoctorID()) {
		return nil, apperr.BadRequest("source and target are the same schedule")
	}

	var (
		outcome plan.CopyOutcome
		target  *Schedule
	)
	existing, err := s.repo.FindActive(ctx, key)
	switch {
	case errors.Is(err, ErrNotFound):
		outcome = plan.CopyDays(source.Days, nil, opts)
		target = &Schedule{
			Owner:               owner,
			DepartmentID:        source.DepartmentID,
			WeekStartDate:       req.TargetWeekStartDate,
			SlotDurationMinutes: source.SlotDurationMinutes,
			Timezone:            source.Timezone,
			Status:              StatusDraft,
			CreatedBy:           user,
			UpdatedBy:           user,
			Days:                outcome.Days,
		}
		if err := s.repo.Create(ctx, target); err != nil {
			return nil, s.storeErr(err, nil)
		}
	case err != nil:
		return nil, apperr.Internal(err)
	default:
		if existing.Locked {
			return nil, lockedErr(existing)
		}
		if req.TargetVersion == nil {
			return nil, apperr.VersionConflict(0, existing.Version)
		}
		target, err = s.repo.UpdateIfVersion(ctx, existing.ID, *req.TargetVersion, func(cur *Schedule) error {
			if cur.Locked {
				return lockedErr(cur)
			}
			outcome = plan.CopyDays(source.Days, cur.Days, opts)
			cur.Days = outcome.Days
			cur.Status = StatusDraft
			cur.UpdatedBy = user
			return nil
		})
		if err != nil {
			return nil, s.storeErr(err, existing.ID)
		}
	}

	warnings := append([]string{}, outcome.Warnings...)
	for _, issue := range plan.Validate(target.PlanInput()).Issues {
		warnings = append(warnings, fmt.Sprintf("%s at %s: %s", issue.Code, issue.Pointer, issue.Message))
	}

	s.logger.Info().
		Str("source_id", source.ID.String()).
		Str("schedule_id", target.ID.String()).
		Str("strategy", string(opts.Strategy)).
		Int("copied", outcome.Copied).
		Int("skipped_conflicts", outcome.SkippedConflicts).
		Msg("week copied")
	s.emit(ctx, events.TypeScheduleDrafted, target, nil)
	return &CopyResult{
		ScheduleID:       target.ID,
		Version:          target.Version,
		Copied:           outcome.Copied,
		SkippedConflicts: outcome.SkippedConflicts,
		Warnings:         warnings,
	}, nil
}

// CopyLastWeek copies the owner's schedule from the week before the target.
func (s *Service) CopyLastWeek(ctx context.Context, req CopyRequest) (*CopyResult, error) {
	req.SourceScheduleID = nil
	req.SourceWeekStartDate = req.TargetWeekStartDate.AddDays(-7)
	return s.CopyWeek(ctx, req)
}

func copyOptions(req CopyRequest) (plan.CopyOptions, error) {
	opts := plan.CopyOptions{Strategy: req.Strategy, IncludeBlocks: true, IncludeDayOffFlags: true}
	if opts.Strategy == "" {
		opts.Strategy = plan.StrategyReplace
	}
	if !opts.Strategy.Valid() {
		return opts, apperr.BadRequest("invalid strategy %q", req.Strategy)
	}
	if req.IncludeBlocks != nil {
		opts.IncludeBlocks = *req.IncludeBlocks
	}
	if req.IncludeDayOffFlags != nil {
		opts.IncludeDayOffFlags = *req.IncludeDayOffFlags
	}
	return opts, nil
}

// -- helpers --

func checkWeek(d plan.Date) error {
	if d.IsZero() {
		return apperr.BadRequest("week_start_date is required")
	}
	if !d.IsMonday() {
		return apperr.BadRequest("week_start_date %s is not a Monday", d)
	}
	return nil
}

func (s *Service) timezone(tag string) (string, error) {
	if tag == "" {
		return s.opts.Location.String(), nil
	}
	if _, err := time.LoadLocation(tag); err != nil {
		return "", apperr.BadRequest("unknown timezone %q", tag)
	}
	return tag, nil
}

func sameDoctor(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func lockedErr(s *Schedule) error {
	if s.LockReason != nil {
		return apperr.Conflict("schedule %s is locked: %s", s.ID, *s.LockReason)
	}
	return apperr.Conflict("schedule %s is locked", s.ID)
}

func (s *Service) storeErr(err error, id interface{}) error {
	var vm *VersionMismatchError
	switch {
	case errors.As(err, &vm):
		return apperr.VersionConflict(vm.Expected, vm.Actual)
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound("schedule", id)
	case errors.Is(err, ErrDuplicateKey):
		// another writer created the row after our lookup
		return apperr.VersionConflict(0, 1)
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperr.Internal(err)
}

func (s *Service) emit(ctx context.Context, typ string, sched *Schedule, data interface{}) {
	ev := events.New(typ, sched.ID, string(sched.Owner.Mode()), sched.Owner.DoctorID(),
		sched.WeekStartDate.String(), sched.Version, data)
	if err := s.events.Publish(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("event", typ).Str("schedule_id", sched.ID.String()).Msg("event publish failed")
	}
}

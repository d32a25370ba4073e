package template

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/weekplan/internal/domain/plan"
	"github.com/ehr/weekplan/internal/platform/apperr"
	"github.com/ehr/weekplan/internal/platform/auth"
)

// maxApplicable bounds the template list composed for one doctor.
const maxApplicable = 200

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger.With().Str("component", "template").Logger()}
}

type CreateRequest struct {
	Scope               Scope      `json:"scope"`
	OwnerID             *uuid.UUID `json:"owner_id,omitempty"`
	Name                string     `json:"name"`
	Description         *string    `json:"description,omitempty"`
	SlotDurationMinutes int        `json:"slot_duration_minutes"`
	Active              *bool      `json:"active,omitempty"`
	Days                []plan.Day `json:"days"`
}

type UpdateRequest struct {
	Version             int        `json:"version"`
	Name                string     `json:"name"`
	Description         *string    `json:"description,omitempty"`
	SlotDurationMinutes int        `json:"slot_duration_minutes"`
	Active              *bool      `json:"active,omitempty"`
	Days                []plan.Day `json:"days"`
}

type CloneRequest struct {
	// SourceVersion selects a revision; the current version when nil.
	SourceVersion *int       `json:"source_version,omitempty"`
	TargetScope   Scope      `json:"target_scope"`
	TargetOwnerID *uuid.UUID `json:"target_owner_id,omitempty"`
	Name          string     `json:"name"`
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Template, error) {
	owner, err := NewOwner(req.Scope, req.OwnerID)
	if err != nil {
		return nil, apperr.BadRequest("%v", err)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.BadRequest("name is required")
	}
	t := &Template{
		Owner:               owner,
		Name:                name,
		Description:         req.Description,
		SlotDurationMinutes: req.SlotDurationMinutes,
		Active:              req.Active == nil || *req.Active,
		Days:                plan.Clone(req.Days, true),
		CreatedBy:           auth.UserIDFromContext(ctx),
		UpdatedBy:           auth.UserIDFromContext(ctx),
	}
	if res := plan.Validate(t.planInput()); !res.Valid {
		return nil, apperr.Validation(res.Issues)
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, storeErr(err, "template", nil)
	}
	s.logger.Info().Str("template_id", t.ID.String()).Str("scope", string(owner.Scope())).
		Str("name", t.Name).Msg("template created")
	return t, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Template, error) {
	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, storeErr(err, "template", id)
	}
	return t, nil
}

// Snapshot returns the template with the days of the requested version.
func (s *Service) Snapshot(ctx context.Context, id uuid.UUID, version *int) (*Template, error) {
	t, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if version == nil || *version == t.Version {
		return t, nil
	}
	rev, err := s.repo.GetRevision(ctx, id, *version)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound("template revision", fmt.Sprintf("%s@%d", id, *version))
	}
	if err != nil {
		return nil, apperr.Internal(err)
	}
	t.Version = rev.Version
	t.SlotDurationMinutes = rev.SlotDurationMinutes
	t.Days = rev.Days
	return t, nil
}

func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateRequest) (*Template, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.BadRequest("name is required")
	}
	days := plan.Clone(req.Days, false)
	if res := plan.Validate(plan.Input{Mode: plan.ModeGlobalTemplate, SlotDurationMinutes: req.SlotDurationMinutes, Days: days}); !res.Valid {
		return nil, apperr.Validation(res.Issues)
	}
	t, err := s.repo.UpdateIfVersion(ctx, id, req.Version, func(t *Template) error {
		t.Name = name
		t.Description = req.Description
		t.SlotDurationMinutes = req.SlotDurationMinutes
		if req.Active != nil {
			t.Active = *req.Active
		}
		t.Days = days
		t.UpdatedBy = auth.UserIDFromContext(ctx)
		return nil
	})
	if err != nil {
		return nil, storeErr(err, "template", id)
	}
	s.logger.Info().Str("template_id", id.String()).Int("version", t.Version).Msg("template updated")
	return t, nil
}

// Clone copies one version of a template into a new template under another
// scope. The copy starts at version 1 with fresh ids.
func (s *Service) Clone(ctx context.Context, sourceID uuid.UUID, req CloneRequest) (*Template, error) {
	src, err := s.Snapshot(ctx, sourceID, req.SourceVersion)
	if err != nil {
		return nil, err
	}
	owner, err := NewOwner(req.TargetScope, req.TargetOwnerID)
	if err != nil {
		return nil, apperr.BadRequest("%v", err)
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = src.Name
	}
	t := &Template{
		Owner:               owner,
		Name:                name,
		Description:         src.Description,
		SlotDurationMinutes: src.SlotDurationMinutes,
		Active:              true,
		Days:                plan.Clone(src.Days, true),
		CreatedBy:           auth.UserIDFromContext(ctx),
		UpdatedBy:           auth.UserIDFromContext(ctx),
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return nil, storeErr(err, "template", nil)
	}
	s.logger.Info().Str("template_id", t.ID.String()).Str("source_id", sourceID.String()).
		Int("source_version", src.Version).Msg("template cloned")
	return t, nil
}

func (s *Service) Search(ctx context.Context, params SearchParams, limit, offset int) ([]*Template, int, error) {
	items, total, err := s.repo.Search(ctx, params, limit, offset)
	if err != nil {
		return nil, 0, apperr.Internal(err)
	}
	return items, total, nil
}

// Applicable lists the active templates a doctor can apply: the global ones,
// their department's and their own.
func (s *Service) Applicable(ctx context.Context, departmentID, doctorID *uuid.UUID) ([]*Template, error) {
	active := true
	lookups := []SearchParams{{Scope: scopePtr(ScopeGlobal), Active: &active}}
	if departmentID != nil {
		lookups = append(lookups, SearchParams{Scope: scopePtr(ScopeDepartment), OwnerID: departmentID, Active: &active})
	}
	if doctorID != nil {
		lookups = append(lookups, SearchParams{Scope: scopePtr(ScopeDoctor), OwnerID: doctorID, Active: &active})
	}
	out := []*Template{}
	for _, p := range lookups {
		items, _, err := s.repo.Search(ctx, p, maxApplicable, 0)
		if err != nil {
			return nil, apperr.Internal(err)
		}
		out = append(out, items...)
	}
	return out, nil
}

func scopePtr(s Scope) *Scope { return &s }

func storeErr(err error, what string, id interface{}) error {
	var vm *VersionMismatchError
	switch {
	case errors.As(err, &vm):
		return apperr.VersionConflict(vm.Expected, vm.Actual)
	case errors.Is(err, ErrNotFound):
		return apperr.NotFound(what, id)
	case errors.Is(err, ErrDuplicateName):
		return apperr.Conflict("a template with this name already exists in the scope")
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return apperr.Internal(err)
}

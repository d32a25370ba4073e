package template

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/weekplan/internal/domain/plan"
)

type Scope string

const (
	ScopeGlobal     Scope = "GLOBAL"
	ScopeDepartment Scope = "DEPARTMENT"
	ScopeDoctor     Scope = "DOCTOR"
)

var ErrInvalidOwner = errors.New("invalid template owner")

// Owner is the scope a template belongs to. GLOBAL has no owner id,
// DEPARTMENT and DOCTOR require one.
type Owner struct {
	scope   Scope
	ownerID *uuid.UUID
}

func NewOwner(scope Scope, ownerID *uuid.UUID) (Owner, error) {
	switch scope {
	case ScopeGlobal:
		return Owner{scope: scope}, nil
	case ScopeDepartment, ScopeDoctor:
		if ownerID == nil || *ownerID == uuid.Nil {
			return Owner{}, fmt.Errorf("%w: %s requires owner_id", ErrInvalidOwner, scope)
		}
		id := *ownerID
		return Owner{scope: scope, ownerID: &id}, nil
	default:
		return Owner{}, fmt.Errorf("%w: unknown scope %q", ErrInvalidOwner, scope)
	}
}

func (o Owner) Scope() Scope { return o.scope }

func (o Owner) OwnerID() *uuid.UUID {
	if o.ownerID == nil {
		return nil
	}
	id := *o.ownerID
	return &id
}

type ownerJSON struct {
	Scope   Scope      `json:"scope"`
	OwnerID *uuid.UUID `json:"owner_id,omitempty"`
}

func (o Owner) MarshalJSON() ([]byte, error) {
	return json.Marshal(ownerJSON{Scope: o.scope, OwnerID: o.ownerID})
}

func (o *Owner) UnmarshalJSON(data []byte) error {
	var raw ownerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewOwner(raw.Scope, raw.OwnerID)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// Template is a reusable week plan that can be applied to a schedule draft.
type Template struct {
	ID                  uuid.UUID  `json:"id"`
	Owner               Owner      `json:"owner"`
	Name                string     `json:"name"`
	Description         *string    `json:"description,omitempty"`
	SlotDurationMinutes int        `json:"slot_duration_minutes"`
	Active              bool       `json:"active"`
	Version             int        `json:"version"`
	CreatedBy           string     `json:"created_by,omitempty"`
	UpdatedBy           string     `json:"updated_by,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	Days                []plan.Day `json:"days,omitempty"`
}

// Revision is the frozen content of one template version.
type Revision struct {
	TemplateID          uuid.UUID  `json:"template_id"`
	Version             int        `json:"version"`
	SlotDurationMinutes int        `json:"slot_duration_minutes"`
	Days                []plan.Day `json:"days"`
	CreatedBy           string     `json:"created_by,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
}

func (t *Template) planInput() plan.Input {
	return plan.Input{
		Mode:                plan.ModeGlobalTemplate,
		SlotDurationMinutes: t.SlotDurationMinutes,
		Days:                t.Days,
	}
}

func (t *Template) revision() Revision {
	return Revision{
		TemplateID:          t.ID,
		Version:             t.Version,
		SlotDurationMinutes: t.SlotDurationMinutes,
		Days:                plan.Clone(t.Days, false),
		CreatedBy:           t.UpdatedBy,
		CreatedAt:           t.UpdatedAt,
	}
}

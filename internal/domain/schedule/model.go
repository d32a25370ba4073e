package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/weekplan/internal/domain/plan"
)

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPublished Status = "PUBLISHED"
	StatusArchived  Status = "ARCHIVED"
)

func (s Status) Valid() bool {
	return s == StatusDraft || s == StatusPublished || s == StatusArchived
}

// Owner says who a schedule applies to. A GLOBAL_TEMPLATE owner never has a
// doctor and a DOCTOR_OVERRIDE owner always has one; NewOwner enforces it.
type Owner struct {
	mode     plan.Mode
	doctorID *uuid.UUID
}

var ErrInvalidOwner = errors.New("invalid schedule owner")

func NewOwner(mode plan.Mode, doctorID *uuid.UUID) (Owner, error) {
	switch mode {
	case plan.ModeGlobalTemplate:
		if doctorID != nil && *doctorID != uuid.Nil {
			return Owner{}, fmt.Errorf("%w: GLOBAL_TEMPLATE cannot carry doctor_id", ErrInvalidOwner)
		}
		return Owner{mode: mode}, nil
	case plan.ModeDoctorOverride:
		if doctorID == nil || *doctorID == uuid.Nil {
			return Owner{}, fmt.Errorf("%w: DOCTOR_OVERRIDE requires doctor_id", ErrInvalidOwner)
		}
		id := *doctorID
		return Owner{mode: mode, doctorID: &id}, nil
	default:
		return Owner{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidOwner, mode)
	}
}

func GlobalOwner() Owner { return Owner{mode: plan.ModeGlobalTemplate} }

func DoctorOwner(id uuid.UUID) Owner { return Owner{mode: plan.ModeDoctorOverride, doctorID: &id} }

func (o Owner) Mode() plan.Mode { return o.mode }

func (o Owner) DoctorID() *uuid.UUID {
	if o.doctorID == nil {
		return nil
	}
	id := *o.doctorID
	return &id
}

func (o Owner) IsZero() bool { return o.mode == "" }

type ownerJSON struct {
	Mode     plan.Mode  `json:"mode"`
	DoctorID *uuid.UUID `json:"doctor_id,omitempty"`
}

func (o Owner) MarshalJSON() ([]byte, error) {
	return json.Marshal(ownerJSON{Mode: o.mode, DoctorID: o.doctorID})
}

func (o *Owner) UnmarshalJSON(data []byte) error {
	var raw ownerJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewOwner(raw.Mode, raw.DoctorID)
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// NaturalKey identifies the single non-archived schedule per owner and week.
type NaturalKey struct {
	Mode          plan.Mode
	DoctorID      *uuid.UUID
	WeekStartDate plan.Date
}

func (k NaturalKey) String() string {
	doctor := "-"
	if k.DoctorID != nil {
		doctor = k.DoctorID.String()
	}
	return fmt.Sprintf("%s/%s/%s", k.Mode, doctor, k.WeekStartDate)
}

type Schedule struct {
	ID                  uuid.UUID  `json:"id"`
	Owner               Owner      `json:"owner"`
	DepartmentID        *uuid.UUID `json:"department_id,omitempty"`
	WeekStartDate       plan.Date  `json:"week_start_date"`
	SlotDurationMinutes int        `json:"slot_duration_minutes"`
	Timezone            string     `json:"timezone"`
	Status              Status     `json:"status"`
	Locked              bool       `json:"locked"`
	LockReason          *string    `json:"lock_reason,omitempty"`
	Version             int        `json:"version"`
	CreatedBy           string     `json:"created_by,omitempty"`
	UpdatedBy           string     `json:"updated_by,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
	PublishedAt         *time.Time `json:"published_at,omitempty"`
	ArchivedAt          *time.Time `json:"archived_at,omitempty"`
	Days                []plan.Day `json:"days,omitempty"`
}

func (s *Schedule) Key() NaturalKey {
	return NaturalKey{Mode: s.Owner.Mode(), DoctorID: s.Owner.DoctorID(), WeekStartDate: s.WeekStartDate}
}

func (s *Schedule) WeekEndDate() plan.Date { return s.WeekStartDate.AddDays(6) }

func (s *Schedule) PlanInput() plan.Input {
	return plan.Input{
		Mode:                s.Owner.Mode(),
		DoctorID:            s.Owner.DoctorID(),
		SlotDurationMinutes: s.SlotDurationMinutes,
		Days:                s.Days,
	}
}

func (s *Schedule) Project() plan.Projection {
	return plan.Project(plan.ProjectInput{
		Mode:                s.Owner.Mode(),
		DoctorID:            s.Owner.DoctorID(),
		WeekStartDate:       s.WeekStartDate,
		SlotDurationMinutes: s.SlotDurationMinutes,
		Days:                s.Days,
	})
}

// Clone returns a deep copy, ids included.
func (s *Schedule) Clone() *Schedule {
	cp := *s
	cp.Days = plan.Clone(s.Days, false)
	if s.LockReason != nil {
		r := *s.LockReason
		cp.LockReason = &r
	}
	return &cp
}

// Package ledger is the narrow view this service has of the appointment
// booking subsystem's slot ledger.
package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/ehr/weekplan/internal/domain/plan"
)

var (
	// ErrSlotBooked is returned when a write targets an entry that carries an
	// appointment. The entry is left untouched.
	ErrSlotBooked = errors.New("ledger slot is booked")
	// ErrSlotNotFound is returned when a lookup or delete matches no
	// unbooked machine-generated entry.
	ErrSlotNotFound = errors.New("ledger slot not found")
)

// Key identifies a ledger entry.
type Key struct {
	DoctorID  uuid.UUID
	Date      plan.Date
	StartTime plan.ClockTime
	EndTime   plan.ClockTime
}

// SlotKey returns the per-doctor join key shared with slot projection.
func (k Key) SlotKey() string { return plan.SlotKey(k.Date, k.StartTime, k.EndTime) }

type Slot struct {
	Key
	SessionType   plan.SessionType
	Capacity      int
	AppointmentID *uuid.UUID
	// ScheduleID is set on entries written by this service.
	ScheduleID *uuid.UUID
}

func (s Slot) HasBookedAppointment() bool { return s.AppointmentID != nil }

func (s Slot) MachineGenerated() bool { return s.ScheduleID != nil }

type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Write is one mutation in a batch.
type Write struct {
	Op   Op
	Slot Slot
}

// Ledger is implemented by the booking subsystem's storage adapter.
type Ledger interface {
	FindSlot(ctx context.Context, key Key) (*Slot, error)
	// ListSlots returns the doctor's entries for dates in [from, to].
	ListSlots(ctx context.Context, doctorID uuid.UUID, from, to plan.Date) ([]Slot, error)
	// UpsertSlot is idempotent by key and returns ErrSlotBooked instead of
	// overwriting a booked entry.
	UpsertSlot(ctx context.Context, slot Slot) error
	// DeleteSlot removes an unbooked machine-generated entry. Missing entries
	// are not an error.
	DeleteSlot(ctx context.Context, key Key) error
	// Apply runs writes in order and reports the keys whose write had no
	// effect: the entry was booked, or a delete found nothing to remove.
	Apply(ctx context.Context, writes []Write) (skipped []Key, err error)
}

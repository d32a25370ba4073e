package schedule

import (
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/ehr/weekplan/internal/domain/plan"
	"github.com/ehr/weekplan/internal/ledger"
)

const ReasonBookedSlotBlocked = "BOOKED_SLOT_BLOCKED"

// Conflict is a booked ledger entry that the plan wants blocked.
type Conflict struct {
	DoctorID uuid.UUID `json:"doctor_id"`
	SlotKey  string    `json:"slot_key"`
	Reason   string    `json:"reason"`
}

// diff is the set of ledger writes needed to bring one doctor's week in line
// with the projection.
type diff struct {
	Creates   []ledger.Slot
	Updates   []ledger.Slot
	Deletes   []ledger.Key
	Skipped   int
	Conflicts []Conflict
	Warnings  []string
}

func (d diff) writes() []ledger.Write {
	out := make([]ledger.Write, 0, len(d.Creates)+len(d.Updates)+len(d.Deletes))
	for _, s := range d.Creates {
		out = append(out, ledger.Write{Op: ledger.OpUpsert, Slot: s})
	}
	for _, s := range d.Updates {
		out = append(out, ledger.Write{Op: ledger.OpUpsert, Slot: s})
	}
	for _, k := range d.Deletes {
		out = append(out, ledger.Write{Op: ledger.OpDelete, Slot: ledger.Slot{Key: k}})
	}
	return out
}

// reconcile compares the projected cells with the doctor's existing ledger
// entries for the same week. Booked entries never appear in Updates or
// Deletes.
func reconcile(doctorID, scheduleID uuid.UUID, cells []plan.DatedCell, existing []ledger.Slot, failOnBooked bool) diff {
	byKey := make(map[string]ledger.Slot, len(existing))
	for _, s := range existing {
		byKey[s.SlotKey()] = s
	}

	out := diff{Warnings: []string{}, Conflicts: []Conflict{}}
	wanted := make(map[string]bool, len(cells))
	sid := scheduleID

	for _, cell := range cells {
		key := ledger.Key{DoctorID: doctorID, Date: cell.Date, StartTime: cell.StartTime, EndTime: cell.EndTime}
		cur, exists := byKey[cell.SlotKey]

		if cell.Blocked {
			if exists && cur.HasBookedAppointment() {
				if failOnBooked {
					out.Conflicts = append(out.Conflicts, Conflict{DoctorID: doctorID, SlotKey: cell.SlotKey, Reason: ReasonBookedSlotBlocked})
				} else {
					out.Warnings = append(out.Warnings, fmt.Sprintf("doctor %s: booked slot %s falls inside block %s and was kept",
						doctorID, cell.SlotKey, cell.BlockType))
				}
			}
			continue
		}

		wanted[cell.SlotKey] = true
		slot := ledger.Slot{Key: key, SessionType: cell.SessionType, Capacity: cell.Capacity, ScheduleID: &sid}
		switch {
		case !exists:
			out.Creates = append(out.Creates, slot)
		case cur.HasBookedAppointment():
			if cur.SessionType != cell.SessionType || cur.Capacity != cell.Capacity {
				out.Skipped++
			}
		case cur.SessionType != cell.SessionType || cur.Capacity != cell.Capacity:
			out.Updates = append(out.Updates, slot)
		}
	}

	stale := make([]ledger.Slot, 0)
	for key, s := range byKey {
		if wanted[key] || s.HasBookedAppointment() || !s.MachineGenerated() {
			continue
		}
		stale = append(stale, s)
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].SlotKey() < stale[j].SlotKey() })
	for _, s := range stale {
		out.Deletes = append(out.Deletes, s.Key)
	}
	return out
}

package plan

import (
	"sort"

	"github.com/google/uuid"
)

// Cell is one projected slot.
type Cell struct {
	SlotKey     string      `json:"slot_key"`
	StartTime   ClockTime   `json:"start_time"`
	EndTime     ClockTime   `json:"end_time"`
	SessionType SessionType `json:"session_type"`
	Capacity    int         `json:"capacity"`
	Blocked     bool        `json:"blocked"`
	BlockType   string      `json:"block_type,omitempty"`
}

// DayProjection holds the cells for one calendar date.
type DayProjection struct {
	Date      Date      `json:"date"`
	DayOfWeek DayOfWeek `json:"day_of_week"`
	DayOff    bool      `json:"day_off"`
	Slots     []Cell    `json:"slots"`
}

// Projection is the expanded slot grid for a week.
type Projection struct {
	Mode                Mode            `json:"mode,omitempty"`
	DoctorID            *uuid.UUID      `json:"doctor_id,omitempty"`
	WeekStartDate       Date            `json:"week_start_date"`
	SlotDurationMinutes int             `json:"slot_duration_minutes"`
	Days                []DayProjection `json:"days"`
	TotalSlotsPlanned   int             `json:"total_slots_planned"`
}

// ProjectInput describes a week to project.
type ProjectInput struct {
	Mode                Mode
	DoctorID            *uuid.UUID
	WeekStartDate       Date
	SlotDurationMinutes int
	Days                []Day
}

// SlotKey is the natural key shared by preview, publish and the ledger.
func SlotKey(date Date, start, end ClockTime) string {
	return date.String() + "|" + start.String() + "|" + end.String()
}

// Project expands the plan into cells for weekStart+0 through weekStart+6.
// It assumes the plan passed Validate; malformed intervals are skipped
// rather than rejected.
func Project(in ProjectInput) Projection {
	out := Projection{
		Mode:                in.Mode,
		DoctorID:            in.DoctorID,
		WeekStartDate:       in.WeekStartDate,
		SlotDurationMinutes: in.SlotDurationMinutes,
		Days:                make([]DayProjection, 0, len(Week)),
	}
	byDay := DayByWeekday(in.Days)

	for offset, dow := range Week {
		date := in.WeekStartDate.AddDays(offset)
		dp := DayProjection{Date: date, DayOfWeek: dow, Slots: []Cell{}}
		d, ok := byDay[dow]
		if !ok || d.DayOff || in.SlotDurationMinutes <= 0 {
			dp.DayOff = ok && d.DayOff
			out.Days = append(out.Days, dp)
			continue
		}
		dp.Slots = projectDay(date, *d, ClockTime(in.SlotDurationMinutes))
		for _, c := range dp.Slots {
			if !c.Blocked {
				out.TotalSlotsPlanned++
			}
		}
		out.Days = append(out.Days, dp)
	}
	return out
}

func projectDay(date Date, d Day, step ClockTime) []Cell {
	intervals := append([]Interval(nil), d.Intervals...)
	sort.SliceStable(intervals, func(a, b int) bool { return intervals[a].StartTime < intervals[b].StartTime })
	blocks := append([]Block(nil), d.Blocks...)
	sort.SliceStable(blocks, func(a, b int) bool { return blocks[a].StartTime < blocks[b].StartTime })

	cells := []Cell{}
	for _, iv := range intervals {
		for start := iv.StartTime; start+step <= iv.EndTime; start += step {
			end := start + step
			c := Cell{
				SlotKey:     SlotKey(date, start, end),
				StartTime:   start,
				EndTime:     end,
				SessionType: iv.SessionType,
				Capacity:    iv.Capacity,
			}
			for _, b := range blocks {
				if overlaps(start, end, b.StartTime, b.EndTime) {
					c.Blocked = true
					c.BlockType = b.BlockType
					break
				}
			}
			cells = append(cells, c)
		}
	}
	return cells
}

// Cells flattens a projection into per-date cells, in order.
func (p Projection) Cells() []DatedCell {
	var out []DatedCell
	for _, d := range p.Days {
		for _, c := range d.Slots {
			out = append(out, DatedCell{Date: d.Date, Cell: c})
		}
	}
	return out
}

// DatedCell pairs a cell with its calendar date.
type DatedCell struct {
	Date Date
	Cell
}

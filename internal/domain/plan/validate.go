package plan

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// Issue codes reported by Validate.
const (
	CodeDayOffWithContent     = "DAYOFF_WITH_CONTENT"
	CodeInvalidRange          = "INVALID_RANGE"
	CodeIntervalOverlap       = "INTERVAL_OVERLAP"
	CodeBlockOutsideIntervals = "BLOCK_OUTSIDE_INTERVALS"
	CodeInvalidCapacity       = "INVALID_CAPACITY"
	CodeMissingDoctorID       = "MISSING_DOCTOR_ID"
	CodeUnexpectedDoctorID    = "UNEXPECTED_DOCTOR_ID"
	CodeInvalidMode           = "INVALID_MODE"
	CodeInvalidDay            = "INVALID_DAY"
	CodeDuplicateDay          = "DUPLICATE_DAY"
	CodeInvalidSlotDuration   = "INVALID_SLOT_DURATION"
	CodeInvalidSessionType    = "INVALID_SESSION_TYPE"
)

const (
	MinSlotDuration = 5
	MaxSlotDuration = 240
)

// Issue is a single validation finding with a structural pointer into the
// submitted document, e.g. "days[2].intervals[1]".
type Issue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Pointer string `json:"pointer"`
}

// Result is the outcome of Validate.
type Result struct {
	Valid  bool    `json:"valid"`
	Issues []Issue `json:"issues"`
}

// Input is the plan content to validate.
type Input struct {
	Mode                Mode       `json:"mode"`
	DoctorID            *uuid.UUID `json:"doctor_id,omitempty"`
	SlotDurationMinutes int        `json:"slot_duration_minutes"`
	Days                []Day      `json:"days"`
}

// Validate checks plan content. It never fails; every problem is reported as
// an issue. Issues are ordered by header first, then by day index.
func Validate(in Input) Result {
	var issues []Issue

	hasDoctor := in.DoctorID != nil && *in.DoctorID != uuid.Nil
	switch {
	case !in.Mode.Valid():
		issues = append(issues, Issue{
			Code:    CodeInvalidMode,
			Message: fmt.Sprintf("mode must be %s or %s, got %q", ModeGlobalTemplate, ModeDoctorOverride, in.Mode),
			Pointer: "mode",
		})
	case in.Mode == ModeDoctorOverride && !hasDoctor:
		issues = append(issues, Issue{
			Code:    CodeMissingDoctorID,
			Message: "doctor_id is required for DOCTOR_OVERRIDE",
			Pointer: "doctor_id",
		})
	case in.Mode == ModeGlobalTemplate && hasDoctor:
		issues = append(issues, Issue{
			Code:    CodeUnexpectedDoctorID,
			Message: "GLOBAL_TEMPLATE cannot carry doctor_id",
			Pointer: "doctor_id",
		})
	}
	if in.SlotDurationMinutes < MinSlotDuration || in.SlotDurationMinutes > MaxSlotDuration {
		issues = append(issues, Issue{
			Code:    CodeInvalidSlotDuration,
			Message: fmt.Sprintf("slot_duration_minutes must be between %d and %d", MinSlotDuration, MaxSlotDuration),
			Pointer: "slot_duration_minutes",
		})
	}

	seen := make(map[DayOfWeek]int, len(in.Days))
	for i, d := range in.Days {
		issues = append(issues, validateDay(i, d, seen)...)
	}

	if issues == nil {
		issues = []Issue{}
	}
	return Result{Valid: len(issues) == 0, Issues: issues}
}

func validateDay(i int, d Day, seen map[DayOfWeek]int) []Issue {
	var issues []Issue
	dp := fmt.Sprintf("days[%d]", i)

	if !d.DayOfWeek.Valid() {
		issues = append(issues, Issue{
			Code:    CodeInvalidDay,
			Message: fmt.Sprintf("unknown day_of_week %q", d.DayOfWeek),
			Pointer: dp,
		})
	} else if first, dup := seen[d.DayOfWeek]; dup {
		issues = append(issues, Issue{
			Code:    CodeDuplicateDay,
			Message: fmt.Sprintf("%s already defined at days[%d]", d.DayOfWeek, first),
			Pointer: dp,
		})
	} else {
		seen[d.DayOfWeek] = i
	}

	if d.DayOff {
		if len(d.Intervals) > 0 || len(d.Blocks) > 0 {
			issues = append(issues, Issue{
				Code:    CodeDayOffWithContent,
				Message: fmt.Sprintf("%s is a day off but has intervals or blocks", d.DayOfWeek),
				Pointer: dp,
			})
		}
		return issues
	}

	for j, iv := range d.Intervals {
		ip := fmt.Sprintf("%s.intervals[%d]", dp, j)
		if iv.StartTime >= iv.EndTime {
			issues = append(issues, Issue{
				Code:    CodeInvalidRange,
				Message: fmt.Sprintf("interval %s-%s: start must be before end", iv.StartTime, iv.EndTime),
				Pointer: ip,
			})
		}
	}
	for j, b := range d.Blocks {
		bp := fmt.Sprintf("%s.blocks[%d]", dp, j)
		if b.StartTime >= b.EndTime {
			issues = append(issues, Issue{
				Code:    CodeInvalidRange,
				Message: fmt.Sprintf("block %s-%s: start must be before end", b.StartTime, b.EndTime),
				Pointer: bp,
			})
		}
	}

	issues = append(issues, overlapIssues(dp, d.Intervals)...)

	covered := coverage(d.Intervals)
	for j, b := range d.Blocks {
		if b.StartTime >= b.EndTime {
			continue
		}
		if !covers(covered, b.StartTime, b.EndTime) {
			issues = append(issues, Issue{
				Code:    CodeBlockOutsideIntervals,
				Message: fmt.Sprintf("block %s-%s is not inside the day's intervals", b.StartTime, b.EndTime),
				Pointer: fmt.Sprintf("%s.blocks[%d]", dp, j),
			})
		}
	}

	for j, iv := range d.Intervals {
		if iv.Capacity < 1 {
			issues = append(issues, Issue{
				Code:    CodeInvalidCapacity,
				Message: fmt.Sprintf("capacity must be at least 1, got %d", iv.Capacity),
				Pointer: fmt.Sprintf("%s.intervals[%d]", dp, j),
			})
		}
	}
	for j, iv := range d.Intervals {
		if !iv.SessionType.Valid() {
			issues = append(issues, Issue{
				Code:    CodeInvalidSessionType,
				Message: fmt.Sprintf("unknown session_type %q", iv.SessionType),
				Pointer: fmt.Sprintf("%s.intervals[%d]", dp, j),
			})
		}
	}
	return issues
}

// overlapIssues sorts intervals by start and reports every interval that
// starts before the furthest end seen so far. The pointer names the later
// interval by its index in the submitted document.
func overlapIssues(dp string, intervals []Interval) []Issue {
	idx := make([]int, 0, len(intervals))
	for j, iv := range intervals {
		if iv.StartTime < iv.EndTime {
			idx = append(idx, j)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return intervals[idx[a]].StartTime < intervals[idx[b]].StartTime
	})

	var hits []int
	against := map[int]int{}
	if len(idx) > 0 {
		far := idx[0]
		for _, j := range idx[1:] {
			if intervals[j].StartTime < intervals[far].EndTime {
				hits = append(hits, j)
				against[j] = far
			}
			if intervals[j].EndTime > intervals[far].EndTime {
				far = j
			}
		}
	}
	sort.Ints(hits)

	issues := make([]Issue, 0, len(hits))
	for _, j := range hits {
		cur, prev := intervals[j], intervals[against[j]]
		issues = append(issues, Issue{
			Code: CodeIntervalOverlap,
			Message: fmt.Sprintf("interval %s-%s overlaps %s-%s",
				cur.StartTime, cur.EndTime, prev.StartTime, prev.EndTime),
			Pointer: fmt.Sprintf("%s.intervals[%d]", dp, j),
		})
	}
	return issues
}

type span struct{ start, end ClockTime }

// coverage merges well-formed intervals into disjoint spans. Touching
// intervals join into one span.
func coverage(intervals []Interval) []span {
	spans := make([]span, 0, len(intervals))
	for _, iv := range intervals {
		if iv.StartTime < iv.EndTime {
			spans = append(spans, span{iv.StartTime, iv.EndTime})
		}
	}
	sort.Slice(spans, func(a, b int) bool { return spans[a].start < spans[b].start })

	merged := spans[:0]
	for _, s := range spans {
		if n := len(merged); n > 0 && s.start <= merged[n-1].end {
			if s.end > merged[n-1].end {
				merged[n-1].end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

func covers(spans []span, start, end ClockTime) bool {
	for _, s := range spans {
		if s.start <= start && end <= s.end {
			return true
		}
	}
	return false
}

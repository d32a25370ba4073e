package plan

import (
	"testing"

	"github.com/google/uuid"
)

func iv(start, end string, typ SessionType, capacity int) Interval {
	return Interval{StartTime: MustClock(start), EndTime: MustClock(end), SessionType: typ, Capacity: capacity}
}

func blk(start, end, typ string) Block {
	return Block{StartTime: MustClock(start), EndTime: MustClock(end), BlockType: typ}
}

func validInput(days ...Day) Input {
	return Input{Mode: ModeGlobalTemplate, SlotDurationMinutes: 30, Days: days}
}

func codes(r Result) []string {
	var out []string
	for _, i := range r.Issues {
		out = append(out, i.Code)
	}
	return out
}

func TestValidate_Valid(t *testing.T) {
	r := Validate(validInput(
		Day{DayOfWeek: Monday, Intervals: []Interval{iv("09:00", "12:00", SessionOPD, 2)}, Blocks: []Block{blk("10:00", "10:30", "BREAK")}},
		Day{DayOfWeek: Sunday, DayOff: true},
	))
	if !r.Valid {
		t.Fatalf("expected valid, got %+v", r.Issues)
	}
	if r.Issues == nil {
		t.Error("expected non-nil issues slice")
	}
}

func TestValidate_IntervalOverlap(t *testing.T) {
	r := Validate(validInput(
		Day{DayOfWeek: Monday},
		Day{DayOfWeek: Tuesday},
		Day{DayOfWeek: Wednesday, Intervals: []Interval{
			iv("11:00", "12:00", SessionOPD, 1),
			iv("09:00", "10:00", SessionOPD, 1),
			iv("09:30", "11:30", SessionVideo, 1),
		}},
	))
	if r.Valid {
		t.Fatal("expected invalid")
	}
	var overlaps []Issue
	for _, i := range r.Issues {
		if i.Code == CodeIntervalOverlap {
			overlaps = append(overlaps, i)
		}
	}
	if len(overlaps) != 2 {
		t.Fatalf("expected 2 overlap issues, got %+v", r.Issues)
	}
	// sorted: [1]09:00-10:00, [2]09:30-11:30, [0]11:00-12:00
	if overlaps[0].Pointer != "days[2].intervals[0]" {
		t.Errorf("unexpected pointer %s", overlaps[0].Pointer)
	}
	if overlaps[1].Pointer != "days[2].intervals[2]" {
		t.Errorf("unexpected pointer %s", overlaps[1].Pointer)
	}
}

func TestValidate_TouchingIntervalsAllowed(t *testing.T) {
	r := Validate(validInput(Day{DayOfWeek: Monday,
		Intervals: []Interval{iv("09:00", "10:00", SessionOPD, 1), iv("10:00", "11:00", SessionOPD, 1)},
		Blocks:    []Block{blk("09:45", "10:15", "LUNCH")},
	}))
	if !r.Valid {
		t.Fatalf("touching intervals should join for block coverage: %+v", r.Issues)
	}
}

func TestValidate_BlockOutsideIntervals(t *testing.T) {
	r := Validate(validInput(Day{DayOfWeek: Monday,
		Intervals: []Interval{iv("09:00", "10:00", SessionOPD, 1), iv("11:00", "12:00", SessionOPD, 1)},
		Blocks:    []Block{blk("09:30", "11:30", "LUNCH")},
	}))
	if r.Valid || r.Issues[0].Code != CodeBlockOutsideIntervals || r.Issues[0].Pointer != "days[0].blocks[0]" {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestValidate_DayOffWithContent(t *testing.T) {
	r := Validate(validInput(Day{DayOfWeek: Saturday, DayOff: true, Intervals: []Interval{iv("09:00", "10:00", SessionOPD, 1)}}))
	if r.Valid || len(r.Issues) != 1 || r.Issues[0].Code != CodeDayOffWithContent || r.Issues[0].Pointer != "days[0]" {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestValidate_RangeAndCapacity(t *testing.T) {
	r := Validate(validInput(Day{DayOfWeek: Monday,
		Intervals: []Interval{iv("10:00", "09:00", SessionOPD, 1), iv("12:00", "13:00", SessionOPD, 0)},
		Blocks:    []Block{blk("12:30", "12:30", "X")},
	}))
	got := codes(r)
	want := []string{CodeInvalidRange, CodeInvalidRange, CodeInvalidCapacity}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("issue %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if r.Issues[1].Pointer != "days[0].blocks[0]" || r.Issues[2].Pointer != "days[0].intervals[1]" {
		t.Errorf("unexpected pointers %+v", r.Issues)
	}
}

func TestValidate_Header(t *testing.T) {
	r := Validate(Input{Mode: ModeDoctorOverride, SlotDurationMinutes: 2})
	got := codes(r)
	if len(got) != 2 || got[0] != CodeMissingDoctorID || got[1] != CodeInvalidSlotDuration {
		t.Fatalf("unexpected codes %v", got)
	}
	if r.Issues[0].Pointer != "doctor_id" {
		t.Errorf("unexpected pointer %s", r.Issues[0].Pointer)
	}

	id := uuid.New()
	r = Validate(Input{Mode: ModeDoctorOverride, DoctorID: &id, SlotDurationMinutes: 240})
	if !r.Valid {
		t.Errorf("expected valid, got %+v", r.Issues)
	}
}

func TestValidate_Owner(t *testing.T) {
	id := uuid.New()
	nilID := uuid.Nil
	tests := []struct {
		name     string
		mode     Mode
		doctorID *uuid.UUID
		code     string
		pointer  string
	}{
		{"unknown mode", "WEEKLY", nil, CodeInvalidMode, "mode"},
		{"empty mode", "", &id, CodeInvalidMode, "mode"},
		{"override without doctor", ModeDoctorOverride, nil, CodeMissingDoctorID, "doctor_id"},
		{"override with nil doctor", ModeDoctorOverride, &nilID, CodeMissingDoctorID, "doctor_id"},
		{"global with doctor", ModeGlobalTemplate, &id, CodeUnexpectedDoctorID, "doctor_id"},
		{"global with nil doctor", ModeGlobalTemplate, &nilID, "", ""},
		{"override with doctor", ModeDoctorOverride, &id, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Validate(Input{Mode: tt.mode, DoctorID: tt.doctorID, SlotDurationMinutes: 30})
			if tt.code == "" {
				if !r.Valid {
					t.Fatalf("expected valid, got %+v", r.Issues)
				}
				return
			}
			if r.Valid || len(r.Issues) != 1 {
				t.Fatalf("expected one issue, got %+v", r.Issues)
			}
			if r.Issues[0].Code != tt.code || r.Issues[0].Pointer != tt.pointer {
				t.Errorf("expected %s at %s, got %+v", tt.code, tt.pointer, r.Issues[0])
			}
		})
	}
}

func TestValidate_DaysAndSessionType(t *testing.T) {
	r := Validate(validInput(
		Day{DayOfWeek: Monday},
		Day{DayOfWeek: "FUNDAY"},
		Day{DayOfWeek: Monday, Intervals: []Interval{iv("09:00", "10:00", "TELEPATHY", 1)}},
	))
	got := codes(r)
	want := []string{CodeInvalidDay, CodeDuplicateDay, CodeInvalidSessionType}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("issue %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestValidate_Deterministic(t *testing.T) {
	in := validInput(Day{DayOfWeek: Monday, Intervals: []Interval{
		iv("09:00", "10:00", SessionOPD, 0), iv("09:30", "10:30", SessionOPD, 1), iv("09:45", "09:50", SessionOPD, 1),
	}})
	first := Validate(in)
	for i := 0; i < 10; i++ {
		again := Validate(in)
		if len(again.Issues) != len(first.Issues) {
			t.Fatal("issue count changed between runs")
		}
		for j := range first.Issues {
			if again.Issues[j] != first.Issues[j] {
				t.Fatalf("issue %d changed: %+v vs %+v", j, again.Issues[j], first.Issues[j])
			}
		}
	}
}

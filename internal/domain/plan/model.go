package plan

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ClockTime is a wall-clock time of day expressed in minutes since midnight.
// It marshals as "HH:mm". 24:00 is accepted as an end bound.
type ClockTime int

const minutesPerDay = 24 * 60

// ParseClock parses "HH:mm" (or "HH:mm:ss" with zero seconds).
func ParseClock(s string) (ClockTime, error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q: expected HH:mm", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || len(parts[0]) != 2 {
		return 0, fmt.Errorf("invalid time %q: bad hour", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 2 || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid time %q: bad minute", s)
	}
	if len(parts) == 3 && parts[2] != "00" {
		return 0, fmt.Errorf("invalid time %q: seconds are not supported", s)
	}
	c := ClockTime(h*60 + m)
	if h < 0 || c > minutesPerDay {
		return 0, fmt.Errorf("invalid time %q: out of range", s)
	}
	return c, nil
}

// MustClock is ParseClock for literals known to be valid.
func MustClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *ClockTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("time must be a string: %w", err)
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Date is a civil calendar date without a time zone.
type Date struct {
	time.Time
}

const dateLayout = "2006-01-02"

// ParseDate parses "YYYY-MM-DD".
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return Date{Time: t}, nil
}

// DateOf returns the civil date of t in its own location.
func DateOf(t time.Time) Date {
	return Date{Time: time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)}
}

func (d Date) String() string { return d.Format(dateLayout) }

// AddDays returns the date n days later (n may be negative).
func (d Date) AddDays(n int) Date { return Date{Time: d.Time.AddDate(0, 0, n)} }

// IsMonday reports whether the date starts an ISO week.
func (d Date) IsMonday() bool { return d.Weekday() == time.Monday }

// WeekStart returns the Monday on or before d.
func (d Date) WeekStart() Date {
	offset := (int(d.Weekday()) + 6) % 7
	return d.AddDays(-offset)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

type DayOfWeek string

const (
	Monday    DayOfWeek = "MONDAY"
	Tuesday   DayOfWeek = "TUESDAY"
	Wednesday DayOfWeek = "WEDNESDAY"
	Thursday  DayOfWeek = "THURSDAY"
	Friday    DayOfWeek = "FRIDAY"
	Saturday  DayOfWeek = "SATURDAY"
	Sunday    DayOfWeek = "SUNDAY"
)

// Week lists the days in week order, Monday first.
var Week = []DayOfWeek{Monday, Tuesday, Wednesday, Thursday, Friday, Saturday, Sunday}

// Offset returns the number of days from the week start, or -1 if unknown.
func (d DayOfWeek) Offset() int {
	for i, w := range Week {
		if w == d {
			return i
		}
	}
	return -1
}

func (d DayOfWeek) Valid() bool { return d.Offset() >= 0 }

type SessionType string

const (
	SessionOPD       SessionType = "OPD"
	SessionVideo     SessionType = "VIDEO"
	SessionProcedure SessionType = "PROCEDURE"
	SessionCustom    SessionType = "CUSTOM"
)

var validSessionTypes = map[SessionType]bool{
	SessionOPD: true, SessionVideo: true, SessionProcedure: true, SessionCustom: true,
}

func (s SessionType) Valid() bool { return validSessionTypes[s] }

// Interval is a bookable session window [Start, End).
type Interval struct {
	ID          uuid.UUID   `json:"id,omitempty"`
	StartTime   ClockTime   `json:"start_time"`
	EndTime     ClockTime   `json:"end_time"`
	SessionType SessionType `json:"session_type"`
	Capacity    int         `json:"capacity"`
}

// Block is a carve-out [Start, End) that suppresses availability.
type Block struct {
	ID        uuid.UUID `json:"id,omitempty"`
	StartTime ClockTime `json:"start_time"`
	EndTime   ClockTime `json:"end_time"`
	BlockType string    `json:"block_type"`
	Reason    *string   `json:"reason,omitempty"`
}

// Day is one weekday of a plan.
type Day struct {
	ID        uuid.UUID  `json:"id,omitempty"`
	DayOfWeek DayOfWeek  `json:"day_of_week"`
	DayOff    bool       `json:"day_off"`
	Intervals []Interval `json:"intervals"`
	Blocks    []Block    `json:"blocks"`
}

// Mode selects who a schedule applies to.
type Mode string

const (
	ModeGlobalTemplate Mode = "GLOBAL_TEMPLATE"
	ModeDoctorOverride Mode = "DOCTOR_OVERRIDE"
)

func (m Mode) Valid() bool { return m == ModeGlobalTemplate || m == ModeDoctorOverride }

// Clone returns a deep copy of days. When fresh is true every id is cleared
// so the copy is persisted as new rows.
func Clone(days []Day, fresh bool) []Day {
	if days == nil {
		return nil
	}
	out := make([]Day, len(days))
	for i, d := range days {
		nd := Day{ID: d.ID, DayOfWeek: d.DayOfWeek, DayOff: d.DayOff}
		nd.Intervals = append([]Interval(nil), d.Intervals...)
		nd.Blocks = make([]Block, len(d.Blocks))
		for j, b := range d.Blocks {
			nb := b
			if b.Reason != nil {
				r := *b.Reason
				nb.Reason = &r
			}
			nd.Blocks[j] = nb
		}
		if fresh {
			nd.ID = uuid.Nil
			for j := range nd.Intervals {
				nd.Intervals[j].ID = uuid.Nil
			}
			for j := range nd.Blocks {
				nd.Blocks[j].ID = uuid.Nil
			}
		}
		out[i] = nd
	}
	return out
}

// DayByWeekday indexes days by weekday. Later duplicates win.
func DayByWeekday(days []Day) map[DayOfWeek]*Day {
	m := make(map[DayOfWeek]*Day, len(days))
	for i := range days {
		m[days[i].DayOfWeek] = &days[i]
	}
	return m
}

// Normalize returns days in week order with exactly one entry per weekday.
// Missing weekdays are added as empty working days.
func Normalize(days []Day) []Day {
	byDay := DayByWeekday(days)
	out := make([]Day, 0, len(Week))
	for _, w := range Week {
		if d, ok := byDay[w]; ok {
			nd := *d
			if nd.Intervals == nil {
				nd.Intervals = []Interval{}
			}
			if nd.Blocks == nil {
				nd.Blocks = []Block{}
			}
			out = append(out, nd)
			continue
		}
		out = append(out, Day{DayOfWeek: w, Intervals: []Interval{}, Blocks: []Block{}})
	}
	return out
}

func overlaps(aStart, aEnd, bStart, bEnd ClockTime) bool {
	return aStart < bEnd && bStart < aEnd
}

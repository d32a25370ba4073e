// Package cli holds the offline commands of weekplan-server.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/ehr/weekplan/internal/domain/plan"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	headerColor  = color.New(color.FgBlue, color.Bold)
	labelColor   = color.New(color.FgWhite, color.Bold)
	dimColor     = color.New(color.FgHiBlack)
)

// PlanFile is the JSON accepted by `plan check`. It is the draft body of
// the HTTP API; week_start_date is optional and enables the slot summary.
type PlanFile struct {
	Mode                plan.Mode  `json:"mode"`
	DoctorID            *uuid.UUID `json:"doctor_id,omitempty"`
	WeekStartDate       *plan.Date `json:"week_start_date,omitempty"`
	SlotDurationMinutes int        `json:"slot_duration_minutes"`
	Days                []plan.Day `json:"days"`
}

// CheckPlan validates the plan read from r and writes a report to w. It
// returns the number of issues found; a decode failure is an error.
func CheckPlan(r io.Reader, w io.Writer) (int, error) {
	var pf PlanFile
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&pf); err != nil {
		return 0, fmt.Errorf("decode plan: %w", err)
	}

	res := plan.Validate(plan.Input{
		Mode:                pf.Mode,
		DoctorID:            pf.DoctorID,
		SlotDurationMinutes: pf.SlotDurationMinutes,
		Days:                pf.Days,
	})

	_, _ = headerColor.Fprintf(w, "▸ %s plan, %d-minute slots\n", pf.Mode, pf.SlotDurationMinutes)
	if !res.Valid {
		for _, is := range res.Issues {
			_, _ = errorColor.Fprintf(w, "✗ %s", is.Code)
			_, _ = fmt.Fprintf(w, " %s ", is.Message)
			_, _ = dimColor.Fprintf(w, "(%s)\n", is.Pointer)
		}
		_, _ = errorColor.Fprintf(w, "%d issue(s)\n", len(res.Issues))
		return len(res.Issues), nil
	}

	_, _ = successColor.Fprintln(w, "✓ plan is valid")
	if pf.WeekStartDate != nil && pf.WeekStartDate.IsMonday() {
		writeSummary(w, plan.Project(plan.ProjectInput{
			Mode:                pf.Mode,
			DoctorID:            pf.DoctorID,
			WeekStartDate:       *pf.WeekStartDate,
			SlotDurationMinutes: pf.SlotDurationMinutes,
			Days:                pf.Days,
		}))
	}
	return 0, nil
}

func writeSummary(w io.Writer, p plan.Projection) {
	for _, d := range p.Days {
		_, _ = labelColor.Fprintf(w, "  %s %-9s ", d.Date, d.DayOfWeek)
		if d.DayOff {
			_, _ = dimColor.Fprintln(w, "day off")
			continue
		}
		blocked := 0
		for _, c := range d.Slots {
			if c.Blocked {
				blocked++
			}
		}
		_, _ = fmt.Fprintf(w, "%d slot(s), %d blocked\n", len(d.Slots), blocked)
	}
	_, _ = labelColor.Fprintf(w, "  total: ")
	_, _ = fmt.Fprintf(w, "%d slot(s)\n", p.TotalSlotsPlanned)
}

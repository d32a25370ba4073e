package plan

import "fmt"

type CopyStrategy string

const (
	StrategyReplace            CopyStrategy = "REPLACE"
	StrategyMergeSkipConflicts CopyStrategy = "MERGE_SKIP_CONFLICTS"
)

func (s CopyStrategy) Valid() bool {
	return s == StrategyReplace || s == StrategyMergeSkipConflicts
}

type CopyOptions struct {
	Strategy           CopyStrategy
	IncludeBlocks      bool
	IncludeDayOffFlags bool
}

// CopyOutcome is the merged plan plus bookkeeping about what was carried over.
type CopyOutcome struct {
	Days             []Day
	Copied           int
	SkippedConflicts int
	Warnings         []string
}

// CopyDays applies source onto target. Neither input is modified and every
// item taken from source gets a fresh id. The result has one entry per
// weekday in week order.
func CopyDays(source, target []Day, opts CopyOptions) CopyOutcome {
	src := DayByWeekday(Clone(source, true))
	dst := DayByWeekday(Clone(target, false))

	out := CopyOutcome{Warnings: []string{}}
	for _, dow := range Week {
		s, hasSrc := src[dow]
		t, hasDst := dst[dow]
		var day Day
		switch {
		case hasDst:
			day = *t
		default:
			day = Day{DayOfWeek: dow}
		}
		if !hasSrc {
			if opts.Strategy != StrategyReplace {
				out.Days = append(out.Days, day)
				continue
			}
			// a weekday missing from the source replaces as an empty day
			s = &Day{DayOfWeek: dow}
		}

		if opts.Strategy == StrategyMergeSkipConflicts {
			mergeDay(&day, hasDst, s, opts, &out)
		} else {
			replaceDay(&day, s, opts, &out)
		}

		if day.DayOff && (len(day.Intervals) > 0 || len(day.Blocks) > 0) {
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("%s: day off, %d interval(s) and %d block(s) dropped", dow, len(day.Intervals), len(day.Blocks)))
			day.Intervals = nil
			day.Blocks = nil
		}
		out.Days = append(out.Days, day)
	}
	out.Days = Normalize(out.Days)
	return out
}

func replaceDay(day *Day, s *Day, opts CopyOptions, out *CopyOutcome) {
	if opts.IncludeDayOffFlags {
		day.DayOff = s.DayOff
	}
	day.Intervals = s.Intervals
	out.Copied += len(s.Intervals)
	if opts.IncludeBlocks {
		day.Blocks = s.Blocks
		out.Copied += len(s.Blocks)
	}
}

func mergeDay(day *Day, hasDst bool, s *Day, opts CopyOptions, out *CopyOutcome) {
	dow := day.DayOfWeek
	empty := !hasDst || (len(day.Intervals) == 0 && len(day.Blocks) == 0)

	if opts.IncludeDayOffFlags && s.DayOff && !day.DayOff {
		if empty {
			day.DayOff = true
		} else {
			out.SkippedConflicts++
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("%s: source day off not applied, target day has content", dow))
		}
	}

	if day.DayOff {
		n := len(s.Intervals)
		if opts.IncludeBlocks {
			n += len(s.Blocks)
		}
		if n > 0 {
			out.SkippedConflicts += n
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("%s: target is a day off, %d source item(s) skipped", dow, n))
		}
		return
	}

	existing := append([]Interval(nil), day.Intervals...)
	for _, iv := range s.Intervals {
		if hit, ok := firstIntervalOverlap(existing, iv); ok {
			out.SkippedConflicts++
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("%s: interval %s-%s conflicts with %s-%s", dow, iv.StartTime, iv.EndTime, hit.StartTime, hit.EndTime))
			continue
		}
		day.Intervals = append(day.Intervals, iv)
		out.Copied++
	}

	if !opts.IncludeBlocks {
		return
	}
	existingBlocks := append([]Block(nil), day.Blocks...)
	for _, b := range s.Blocks {
		if hit, ok := firstBlockOverlap(existingBlocks, b); ok {
			out.SkippedConflicts++
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("%s: block %s-%s conflicts with %s-%s", dow, b.StartTime, b.EndTime, hit.StartTime, hit.EndTime))
			continue
		}
		day.Blocks = append(day.Blocks, b)
		out.Copied++
	}
}

func firstIntervalOverlap(items []Interval, iv Interval) (Interval, bool) {
	for _, x := range items {
		if overlaps(x.StartTime, x.EndTime, iv.StartTime, iv.EndTime) {
			return x, true
		}
	}
	return Interval{}, false
}

func firstBlockOverlap(items []Block, b Block) (Block, bool) {
	for _, x := range items {
		if overlaps(x.StartTime, x.EndTime, b.StartTime, b.EndTime) {
			return x, true
		}
	}
	return Block{}, false
}

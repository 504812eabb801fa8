// Package pricing fires price schedules: recurrence in store-local time,
// price resolution, and dispatch to the tenant's catalog back-end.
package pricing

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"esl-sync-service/internal/model"

	// recurrence must work on hosts without a zoneinfo database
	_ "time/tzdata"
)

// ErrInvalidSchedule is wrapped by every schedule validation error
var ErrInvalidSchedule = errors.New("invalid price schedule")

// searchDays bounds the forward scan for a matching day. Monthly rules on
// the 31st need at most two months; a year covers every rule.
const searchDays = 400

// maxCatchUp bounds how many missed triggers a late run walks through
const maxCatchUp = 1000

// Window is a parsed time-of-day window in minutes after local midnight
type Window struct {
	Start  int
	End    int
	HasEnd bool

	// sub-minute part of a default window taken from the start instant
	offset time.Duration
}

// Rule is the recurrence of one schedule. Start and End are instants; they
// are read in the location of the time passed to NextOccurrence.
type Rule struct {
	Repeat   model.RepeatKind
	Weekdays []time.Weekday
	Windows  []Window
	Start    time.Time
	End      *time.Time
}

// Occurrence is one trigger of a rule
type Occurrence struct {
	At     time.Time
	Action model.ScheduleAction
}

// ParseClock parses "HH:MM" into minutes after midnight
func ParseClock(s string) (int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: time %q is not HH:MM", ErrInvalidSchedule, s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("%w: bad hour in %q", ErrInvalidSchedule, s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 || len(parts[1]) != 2 {
		return 0, fmt.Errorf("%w: bad minute in %q", ErrInvalidSchedule, s)
	}
	return h*60 + m, nil
}

// ParseWindow parses a stored window. An end equal to the start is
// rejected; an end before the start closes the window the next day.
func ParseWindow(tw model.TimeWindow) (Window, error) {
	start, err := ParseClock(tw.Start)
	if err != nil {
		return Window{}, err
	}
	w := Window{Start: start}
	if strings.TrimSpace(tw.End) == "" {
		return w, nil
	}
	end, err := ParseClock(tw.End)
	if err != nil {
		return Window{}, err
	}
	if end == start {
		return Window{}, fmt.Errorf("%w: window %s-%s is empty", ErrInvalidSchedule, tw.Start, tw.End)
	}
	w.End = end
	w.HasEnd = true
	return w, nil
}

// RuleFromSchedule builds the recurrence rule of a stored schedule
func RuleFromSchedule(s *model.PriceSchedule) (Rule, error) {
	rule := Rule{Repeat: s.Repeat, Start: s.StartAt, End: s.EndAt}
	switch s.Repeat {
	case model.RepeatNone, model.RepeatDaily, model.RepeatWeekly, model.RepeatMonthly:
	case "":
		rule.Repeat = model.RepeatNone
	default:
		return Rule{}, fmt.Errorf("%w: unknown repeat %q", ErrInvalidSchedule, s.Repeat)
	}

	for _, d := range s.TriggerDays {
		if d < 0 || d > 6 {
			return Rule{}, fmt.Errorf("%w: weekday %d out of range 0-6", ErrInvalidSchedule, d)
		}
		rule.Weekdays = append(rule.Weekdays, time.Weekday(d))
	}
	for _, tw := range s.Windows {
		w, err := ParseWindow(tw)
		if err != nil {
			return Rule{}, err
		}
		rule.Windows = append(rule.Windows, w)
	}
	if s.EndAt != nil && !s.EndAt.After(s.StartAt) {
		return Rule{}, fmt.Errorf("%w: end_at must be after start_at", ErrInvalidSchedule)
	}
	return rule, nil
}

// NextOccurrence returns the first trigger strictly after now. All wall
// clock math happens in now's location, so a window at 09:00 stays at 09:00
// local on both sides of a DST change. ok is false when the rule is
// exhausted.
func NextOccurrence(rule Rule, now time.Time) (Occurrence, bool) {
	loc := now.Location()
	start := rule.Start.In(loc)
	windows := rule.effectiveWindows(start)

	// begin one day early so an overnight window's revert is not missed
	from := now
	if start.After(from) {
		from = start
	}
	day := wallTime(from.Year(), from.Month(), from.Day()-1, 0, 0, loc)

	// no apply can fall after lastDay; its overnight reverts land the next day
	var lastDay *time.Time
	if rule.End != nil {
		e := rule.End.In(loc)
		lastDay = &e
	}
	if rule.oneOff() {
		if lastDay == nil || start.Before(*lastDay) {
			lastDay = &start
		}
	}

	var best Occurrence
	found := false
	for i := 0; i < searchDays; i++ {
		d := wallTime(day.Year(), day.Month(), day.Day()+i, 0, 0, loc)
		if found && !best.At.After(d) {
			break
		}
		if lastDay != nil && d.After(*lastDay) {
			break
		}
		if !rule.matchesDay(d, start) {
			continue
		}
		for _, occ := range rule.candidates(d, start, windows) {
			if occ.At.After(now) {
				best, found = pick(best, found, occ)
			}
		}
	}
	return best, found
}

// FirstOccurrence is the trigger a new schedule starts from. A one-off
// schedule may start in the past and then fires on the next poll; a
// repeating schedule never starts before now.
func FirstOccurrence(rule Rule, now time.Time) (Occurrence, bool) {
	loc := now.Location()
	start := rule.Start.In(loc)
	beforeStart := start.Add(-time.Nanosecond)

	if rule.oneOff() || start.After(now) {
		return NextOccurrence(rule, beforeStart)
	}
	return NextOccurrence(rule, now)
}

// LatestDue walks from a due trigger through every trigger that has also
// passed by now and returns the last one. A run that was delayed past a
// window end therefore reverts instead of applying a stale price.
func LatestDue(rule Rule, due Occurrence, now time.Time) Occurrence {
	current := due
	for i := 0; i < maxCatchUp; i++ {
		next, ok := NextOccurrence(rule, current.At.In(now.Location()))
		if !ok || next.At.After(now) {
			break
		}
		current = next
	}
	return current
}

func pick(best Occurrence, found bool, occ Occurrence) (Occurrence, bool) {
	if !found || occ.At.Before(best.At) {
		return occ, true
	}
	return best, true
}

func (r Rule) oneOff() bool {
	return r.Repeat == model.RepeatNone || r.Repeat == ""
}

// effectiveWindows defaults to a single open window at the start's local
// time of day
func (r Rule) effectiveWindows(start time.Time) []Window {
	if len(r.Windows) > 0 {
		return r.Windows
	}
	offset := time.Duration(start.Second())*time.Second + time.Duration(start.Nanosecond())
	return []Window{{Start: start.Hour()*60 + start.Minute(), offset: offset}}
}

func (r Rule) matchesDay(d, start time.Time) bool {
	switch r.Repeat {
	case model.RepeatDaily:
		return true
	case model.RepeatWeekly:
		if len(r.Weekdays) == 0 {
			return d.Weekday() == start.Weekday()
		}
		for _, wd := range r.Weekdays {
			if d.Weekday() == wd {
				return true
			}
		}
		return false
	case model.RepeatMonthly:
		day := start.Day()
		if last := daysIn(d.Year(), d.Month()); day > last {
			day = last
		}
		return d.Day() == day
	default:
		return d.Year() == start.Year() && d.Month() == start.Month() && d.Day() == start.Day()
	}
}

// candidates lists the triggers of day d inside the rule's bounds, sorted.
// Applies must fall in [start, end]; a revert is kept when its apply is.
func (r Rule) candidates(d, start time.Time, windows []Window) []Occurrence {
	loc := d.Location()
	var out []Occurrence
	for _, w := range windows {
		apply := wallTime(d.Year(), d.Month(), d.Day(), w.Start, w.offset, loc)
		if apply.Before(start) || (r.End != nil && apply.After(*r.End)) {
			continue
		}
		out = append(out, Occurrence{At: apply, Action: model.ActionApply})
		if !w.HasEnd {
			continue
		}
		endDay := d.Day()
		if w.End < w.Start {
			endDay++
		}
		revert := wallTime(d.Year(), d.Month(), endDay, w.End, 0, loc)
		out = append(out, Occurrence{At: revert, Action: model.ActionRevert})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// wallTime resolves a local wall clock time. A time that falls in a DST gap
// does not exist; it resolves to the first instant after the gap.
func wallTime(year int, month time.Month, day, minutes int, offset time.Duration, loc *time.Location) time.Time {
	sec, nsec := int(offset/time.Second), int(offset%time.Second)
	t := time.Date(year, month, day, minutes/60, minutes%60, sec, nsec, loc)

	want := time.Date(year, month, day, minutes/60, minutes%60, sec, nsec, time.UTC)
	got := time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
	switch {
	case got.Before(want):
		// normalized into the zone before the gap; the gap ends where it ends
		_, end := t.ZoneBounds()
		if !end.IsZero() {
			return end.In(loc)
		}
	case got.After(want):
		// normalized into the zone after the gap, which begins at the gap's end
		begin, _ := t.ZoneBounds()
		if !begin.IsZero() {
			return begin.In(loc)
		}
	}
	return t
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Course sessions must fit inside the teaching day and last 1 to 4 hours.
const (
	DayStartMinute      = 7 * 60
	DayEndMinute        = 22 * 60
	MinSessionMinutes   = 60
	MaxSessionMinutes   = 240
	timeWindowSeparator = "-"
)

// ErrInvalidTimeWindow is returned for malformed or out-of-policy schedules.
var ErrInvalidTimeWindow = errors.New("invalid time window")

// TimeWindow is a half-open [Start, End) interval in minutes since midnight.
type TimeWindow struct {
	Start int
	End   int
}

// ParseTimeWindow parses the canonical "HH:MM-HH:MM" form and enforces the
// scheduling policy (bounds, ordering, duration).
func ParseTimeWindow(raw string) (TimeWindow, error) {
	startRaw, endRaw, ok := strings.Cut(strings.TrimSpace(raw), timeWindowSeparator)
	if !ok {
		return TimeWindow{}, fmt.Errorf("%w: %q is not HH:MM-HH:MM", ErrInvalidTimeWindow, raw)
	}
	start, err := parseClock(startRaw)
	if err != nil {
		return TimeWindow{}, err
	}
	end, err := parseClock(endRaw)
	if err != nil {
		return TimeWindow{}, err
	}
	w := TimeWindow{Start: start, End: end}
	if err := w.Validate(); err != nil {
		return TimeWindow{}, err
	}
	return w, nil
}

// Validate checks the window against the scheduling policy.
func (w TimeWindow) Validate() error {
	if w.Start < DayStartMinute || w.End > DayEndMinute {
		return fmt.Errorf("%w: %s must fall within %s-%s", ErrInvalidTimeWindow, w, formatClock(DayStartMinute), formatClock(DayEndMinute))
	}
	if w.End <= w.Start {
		return fmt.Errorf("%w: %s ends before it starts", ErrInvalidTimeWindow, w)
	}
	if d := w.Minutes(); d < MinSessionMinutes || d > MaxSessionMinutes {
		return fmt.Errorf("%w: %s lasts %d minutes, allowed %d-%d", ErrInvalidTimeWindow, w, d, MinSessionMinutes, MaxSessionMinutes)
	}
	return nil
}

// Minutes returns the window length.
func (w TimeWindow) Minutes() int {
	return w.End - w.Start
}

// Conflicts reports whether two windows overlap. Windows that merely touch
// (one ends when the other starts) do not conflict.
func (w TimeWindow) Conflicts(other TimeWindow) bool {
	return w.Start < other.End && other.Start < w.End
}

// String renders the canonical storage form.
func (w TimeWindow) String() string {
	return formatClock(w.Start) + timeWindowSeparator + formatClock(w.End)
}

// SchedulesConflict parses two stored schedules and compares them.
func SchedulesConflict(a, b string) (bool, error) {
	wa, err := ParseTimeWindow(a)
	if err != nil {
		return false, err
	}
	wb, err := ParseTimeWindow(b)
	if err != nil {
		return false, err
	}
	return wa.Conflicts(wb), nil
}

func parseClock(raw string) (int, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok || len(mm) != 2 || len(hh) == 0 || len(hh) > 2 || !allDigits(hh) || !allDigits(mm) {
		return 0, fmt.Errorf("%w: %q is not HH:MM", ErrInvalidTimeWindow, raw)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: bad hour in %q", ErrInvalidTimeWindow, raw)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: bad minute in %q", ErrInvalidTimeWindow, raw)
	}
	return hour*60 + minute, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

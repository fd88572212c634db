package rules

import (
	"strconv"
	"strings"
	"time"

	"skyalert/internal/model"
)

// Suppressed reports whether now falls inside any of the rule's recurring
// suppression windows. Conditions may still be evaluated during a window;
// the engine refuses to fire.
func Suppressed(r model.Rule, now time.Time) bool {
	for _, w := range r.Suppress {
		if inWindow(w, now) {
			return true
		}
	}
	return false
}

// inWindow checks one weekly window. When End is earlier than Start the
// window wraps past midnight: a Friday 22:00–06:00 window covers Friday
// 23:30 and Saturday 05:00, but not Friday 12:00.
func inWindow(w model.SuppressionWindow, now time.Time) bool {
	start, okS := parseClock(w.Start)
	end, okE := parseClock(w.End)
	if !okS || !okE {
		return false
	}

	minutes := now.Hour()*60 + now.Minute()

	if start <= end {
		return now.Weekday() == w.Day && minutes >= start && minutes < end
	}

	// Wrapping window: the portion after Start belongs to w.Day, the portion
	// before End belongs to the following day.
	if now.Weekday() == w.Day && minutes >= start {
		return true
	}
	next := (w.Day + 1) % 7
	return now.Weekday() == next && minutes < end
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

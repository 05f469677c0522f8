package alerts

import (
	"fmt"
	"regexp"
	"time"
)

var clockPattern = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// ValidateWindow checks that both bounds are zero-padded 24-hour HH:MM.
// InWindow compares bounds as strings, which is only correct for that form.
func ValidateWindow(start, end string) error {
	if !clockPattern.MatchString(start) {
		return fmt.Errorf("invalid alert window start %q: want HH:MM", start)
	}
	if !clockPattern.MatchString(end) {
		return fmt.Errorf("invalid alert window end %q: want HH:MM", end)
	}
	return nil
}

// ClockString formats t as zero-padded HH:MM in its own location
func ClockString(t time.Time) string {
	return t.Format("15:04")
}

// InWindow reports whether clock lies in [start, end], compared lexically
func InWindow(clock, start, end string) bool {
	return clock >= start && clock <= end
}

// Active reports whether the route's alert window contains t
func (r DailyRoute) Active(t time.Time) bool {
	if r.AlertTimeStart == "" || r.AlertTimeEnd == "" {
		return false
	}
	return InWindow(ClockString(t), r.AlertTimeStart, r.AlertTimeEnd)
}

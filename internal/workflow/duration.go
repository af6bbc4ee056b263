package workflow

import (
	"fmt"
	"strings"
	"time"
)

// FormatDuration renders d with its largest two non-zero units among days,
// hours and minutes, e.g. "1 day 19 hours". Sub-hour durations render as
// minutes only.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = -d
	}
	if d < time.Hour {
		return plural(int(d/time.Minute), "minute")
	}
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	minutes := int(d % time.Hour / time.Minute)

	var parts []string
	for _, u := range []struct {
		n    int
		name string
	}{{days, "day"}, {hours, "hour"}, {minutes, "minute"}} {
		if u.n == 0 {
			continue
		}
		parts = append(parts, plural(u.n, u.name))
		if len(parts) == 2 {
			break
		}
	}
	return strings.Join(parts, " ")
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// Package duration extends time.ParseDuration with day, week, and month
// units so config values like "30 days" or "2w" parse directly.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day // approximate
)

// hoursPerUnit converts extended units to hours, which time.ParseDuration
// understands natively.
var hoursPerUnit = map[string]int64{
	"mo": 30 * 24, "month": 30 * 24, "months": 30 * 24,
	"w": 7 * 24, "wk": 7 * 24, "week": 7 * 24, "weeks": 7 * 24,
	"d": 24, "day": 24, "days": 24,
}

var extendedPattern = regexp.MustCompile(`(?i)(\d+)\s*(months?|mo|weeks?|wks?|w|days?|d)\b`)

// Parse parses a duration, accepting Go's native syntax plus d/w/mo units
// and optional whitespace between value and unit.
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	negative := strings.HasPrefix(s, "-")
	s = strings.TrimSpace(strings.TrimPrefix(s, "-"))

	var hours int64
	remaining := extendedPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := extendedPattern.FindStringSubmatch(match)
		value, _ := strconv.ParseInt(parts[1], 10, 64)
		hours += value * hoursPerUnit[strings.ToLower(parts[2])]
		return ""
	})
	remaining = strings.Join(strings.Fields(remaining), "")

	str := ""
	if hours > 0 {
		str = fmt.Sprintf("%dh", hours)
	}
	str += remaining
	if str == "" {
		str = "0s"
	}

	d, err := time.ParseDuration(str)
	if err != nil {
		return 0, fmt.Errorf("duration: %w", err)
	}
	if negative {
		d = -d
	}
	return d, nil
}

// MustParse is like Parse but panics on error. For constants only.
func MustParse(s string) time.Duration {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// Format renders a duration using the largest whole units, omitting zeros:
// 36h becomes "1d12h", 720h becomes "1mo".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}
	neg := ""
	if d < 0 {
		neg, d = "-", -d
	}

	var b strings.Builder
	for _, u := range []struct {
		size time.Duration
		name string
	}{{Month, "mo"}, {Week, "w"}, {Day, "d"}, {time.Hour, "h"}, {time.Minute, "m"}, {time.Second, "s"}} {
		if n := d / u.size; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, u.name)
			d -= n * u.size
		}
	}
	if d > 0 || b.Len() == 0 {
		fmt.Fprintf(&b, "%s", d)
	}
	return neg + b.String()
}

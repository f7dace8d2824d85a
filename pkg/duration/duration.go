// Package duration parses and formats durations with calendar units on
// top of Go's syntax: days, weeks, months and years ("30d", "2 weeks",
// "1w2d12h"). Clock units may be spelled out ("2 hours 30 minutes").
// Months are fixed at 30 days and years at 365.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Calendar units, fixed length.
const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
	Year  = 365 * Day
)

// calendarHours maps the spellings of calendar units to their length in
// hours. Hours are the largest unit Go's parser accepts, so calendar
// components are folded into hours before delegation.
var calendarHours = map[string]int64{
	"y": 365 * 24, "yr": 365 * 24, "yrs": 365 * 24, "year": 365 * 24, "years": 365 * 24,
	"mo": 30 * 24, "mos": 30 * 24, "month": 30 * 24, "months": 30 * 24,
	"w": 7 * 24, "wk": 7 * 24, "wks": 7 * 24, "week": 7 * 24, "weeks": 7 * 24,
	"d": 24, "day": 24, "days": 24,
}

// wordUnits maps spelled-out clock units to the suffixes Go's parser
// accepts.
var wordUnits = map[string]string{
	"hour": "h", "hours": "h", "hr": "h", "hrs": "h",
	"minute": "m", "minutes": "m", "min": "m", "mins": "m",
	"second": "s", "seconds": "s", "sec": "s", "secs": "s",
	"millisecond": "ms", "milliseconds": "ms", "milli": "ms", "millis": "ms",
	"microsecond": "us", "microseconds": "us", "micro": "us", "micros": "us",
	"nanosecond": "ns", "nanoseconds": "ns", "nano": "ns", "nanos": "ns",
}

var (
	// calendarRE matches a number followed by a calendar unit, with
	// optional whitespace between them.
	calendarRE = regexp.MustCompile(`(?i)(\d+)\s*(years?|yrs?|y|months?|mos?|mo|weeks?|wks?|w|days?|d)`)

	// wordRE matches a number followed by a spelled-out clock unit.
	wordRE = regexp.MustCompile(`(?i)(\d+)\s*(hours?|hrs?|minutes?|mins?|seconds?|secs?|milliseconds?|millis?|microseconds?|micros?|nanoseconds?|nanos?)`)
)

// Parse reads a duration in Go's syntax extended with calendar units
// and spelled-out clock units. Whitespace between a number and its unit
// is optional: "30d", "30 days" and "720h" are all the same duration.
func Parse(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("duration: empty string")
	}

	s = strings.TrimSpace(s)

	negative := strings.HasPrefix(s, "-")
	if negative {
		s = strings.TrimSpace(strings.TrimPrefix(s, "-"))
	}

	// Fold calendar components into hours.
	var hours int64
	rest := calendarRE.ReplaceAllStringFunc(s, func(match string) string {
		parts := calendarRE.FindStringSubmatch(match)
		if len(parts) == 3 {
			value, _ := strconv.ParseInt(parts[1], 10, 64)
			if mult, ok := calendarHours[strings.ToLower(parts[2])]; ok {
				hours += value * mult
			}
		}
		return ""
	})

	// Shorten spelled-out clock units to Go suffixes.
	rest = wordRE.ReplaceAllStringFunc(rest, func(match string) string {
		parts := wordRE.FindStringSubmatch(match)
		if len(parts) == 3 {
			if suffix, ok := wordUnits[strings.ToLower(parts[2])]; ok {
				return parts[1] + suffix
			}
		}
		return match
	})

	// Go's parser rejects spaces between components.
	rest = strings.Join(strings.Fields(rest), "")

	expr := ""
	if hours > 0 {
		expr = fmt.Sprintf("%dh", hours)
	}
	expr += rest
	if expr == "" {
		expr = "0s"
	}

	d, err := time.ParseDuration(expr)
	if err != nil {
		return 0, fmt.Errorf("duration: %w", err)
	}
	if negative {
		d = -d
	}
	return d, nil
}

// displayUnits orders the components Format emits, largest first.
var displayUnits = []struct {
	unit   time.Duration
	suffix string
}{
	{Year, "y"},
	{Month, "mo"},
	{Week, "w"},
	{Day, "d"},
	{time.Hour, "h"},
	{time.Minute, "m"},
	{time.Second, "s"},
	{time.Millisecond, "ms"},
	{time.Microsecond, "µs"},
	{time.Nanosecond, "ns"},
}

// Format renders a duration as its non-zero components, largest unit
// first: 36*time.Hour becomes "1d12h".
func Format(d time.Duration) string {
	if d == 0 {
		return "0s"
	}

	negative := d < 0
	if negative {
		d = -d
	}

	var b strings.Builder
	for _, u := range displayUnits {
		if n := d / u.unit; n > 0 {
			fmt.Fprintf(&b, "%d%s", n, u.suffix)
			d -= n * u.unit
		}
	}

	if negative {
		return "-" + b.String()
	}
	return b.String()
}

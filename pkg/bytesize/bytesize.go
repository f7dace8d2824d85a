// Package bytesize parses and formats human-readable byte sizes.
// Units are binary (1024-based) regardless of spelling: "5KB", "5KiB"
// and "5k" all mean 5*1024 bytes, and a bare number means bytes.
package bytesize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Size is a byte count.
type Size int64

// Size constants, binary base.
const (
	B  Size = 1
	KB Size = 1024
	MB Size = 1024 * KB
	GB Size = 1024 * MB
	TB Size = 1024 * GB
	PB Size = 1024 * TB
)

// units maps every accepted unit spelling to its multiplier. Lookup
// happens on the lowercased suffix, so "MiB", "mib" and "Mb" all land
// on the same entry.
var units = map[string]Size{
	"b": B, "byte": B, "bytes": B,
	"k": KB, "kb": KB, "kib": KB,
	"m": MB, "mb": MB, "mib": MB,
	"g": GB, "gb": GB, "gib": GB,
	"t": TB, "tb": TB, "tib": TB,
	"p": PB, "pb": PB, "pib": PB,
}

// sizeRE splits a size string into its numeric value and unit suffix.
// The value may be fractional; the suffix may be absent.
var sizeRE = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-z]*)\s*$`)

// Parse converts a human-readable size string into a Size. Fractional
// values are allowed ("1.5GB"), whitespace between value and unit is
// optional, and a missing unit means bytes. Negative sizes are
// rejected.
func Parse(s string) (Size, error) {
	if s == "" {
		return 0, fmt.Errorf("bytesize: empty string")
	}

	parts := sizeRE.FindStringSubmatch(s)
	if parts == nil {
		return 0, fmt.Errorf("bytesize: invalid format %q", s)
	}

	value, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return 0, fmt.Errorf("bytesize: invalid number %q: %w", parts[1], err)
	}

	multiplier := B
	if suffix := strings.ToLower(parts[2]); suffix != "" {
		var ok bool
		if multiplier, ok = units[suffix]; !ok {
			return 0, fmt.Errorf("bytesize: unknown unit %q", parts[2])
		}
	}

	return Size(value * float64(multiplier)), nil
}

// displayUnits orders the units Format considers, largest first.
var displayUnits = []struct {
	size   Size
	suffix string
}{
	{PB, "PB"},
	{TB, "TB"},
	{GB, "GB"},
	{MB, "MB"},
	{KB, "KB"},
}

// Format renders a Size with the largest unit that keeps the value at
// or above one, trimming trailing zeros: 1536*KB becomes "1.5MB".
func Format(s Size) string {
	if s == 0 {
		return "0B"
	}

	negative := s < 0
	if negative {
		s = -s
	}

	out := fmt.Sprintf("%dB", s)
	for _, u := range displayUnits {
		if s >= u.size {
			out = trimFloat(float64(s)/float64(u.size)) + u.suffix
			break
		}
	}

	if negative {
		return "-" + out
	}
	return out
}

// trimFloat renders a value with at most two decimals and no trailing
// zeros.
func trimFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	out := fmt.Sprintf("%.2f", value)
	out = strings.TrimRight(out, "0")
	return strings.TrimRight(out, ".")
}

// String renders the size like Format.
func (s Size) String() string {
	return Format(s)
}

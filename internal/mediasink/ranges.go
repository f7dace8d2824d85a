package mediasink

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TimeRange is a half-open interval [Start, End) on the media timeline.
type TimeRange struct {
	Start time.Duration
	End   time.Duration
}

// Duration returns the length of the range.
func (r TimeRange) Duration() time.Duration {
	return r.End - r.Start
}

// Contains reports whether t falls within the range.
func (r TimeRange) Contains(t time.Duration) bool {
	return t >= r.Start && t < r.End
}

// Overlaps reports whether two ranges overlap or touch.
func (r TimeRange) Overlaps(other TimeRange) bool {
	return r.Start <= other.End && other.Start <= r.End
}

func (r TimeRange) String() string {
	return fmt.Sprintf("[%s, %s)", r.Start, r.End)
}

// TimeRanges is an ordered, non-overlapping set of time ranges. Operations
// return a new value; the receiver is never mutated.
type TimeRanges []TimeRange

// Add inserts a range, merging with any overlapping or adjacent ranges.
func (rs TimeRanges) Add(nr TimeRange) TimeRanges {
	if nr.End <= nr.Start {
		return rs
	}

	out := make(TimeRanges, 0, len(rs)+1)
	inserted := false
	for _, r := range rs {
		switch {
		case r.End < nr.Start:
			out = append(out, r)
		case nr.End < r.Start:
			if !inserted {
				out = append(out, nr)
				inserted = true
			}
			out = append(out, r)
		default:
			// Merge overlap into the candidate and keep scanning
			if r.Start < nr.Start {
				nr.Start = r.Start
			}
			if r.End > nr.End {
				nr.End = r.End
			}
		}
	}
	if !inserted {
		out = append(out, nr)
	}
	return out
}

// Remove subtracts a range, splitting any range it punches a hole through.
func (rs TimeRanges) Remove(rm TimeRange) TimeRanges {
	if rm.End <= rm.Start {
		return rs
	}

	out := make(TimeRanges, 0, len(rs)+1)
	for _, r := range rs {
		if r.End <= rm.Start || r.Start >= rm.End {
			out = append(out, r)
			continue
		}
		if r.Start < rm.Start {
			out = append(out, TimeRange{Start: r.Start, End: rm.Start})
		}
		if r.End > rm.End {
			out = append(out, TimeRange{Start: rm.End, End: r.End})
		}
	}
	return out
}

// Contains reports whether t falls within any range.
func (rs TimeRanges) Contains(t time.Duration) bool {
	i := sort.Search(len(rs), func(i int) bool { return rs[i].End > t })
	return i < len(rs) && rs[i].Contains(t)
}

// Start returns the start of the earliest range, or 0 when empty.
func (rs TimeRanges) Start() time.Duration {
	if len(rs) == 0 {
		return 0
	}
	return rs[0].Start
}

// End returns the end of the latest range, or 0 when empty.
func (rs TimeRanges) End() time.Duration {
	if len(rs) == 0 {
		return 0
	}
	return rs[len(rs)-1].End
}

// TotalDuration returns the summed length of all ranges.
func (rs TimeRanges) TotalDuration() time.Duration {
	var total time.Duration
	for _, r := range rs {
		total += r.Duration()
	}
	return total
}

func (rs TimeRanges) String() string {
	if len(rs) == 0 {
		return "[]"
	}
	parts := make([]string, len(rs))
	for i, r := range rs {
		parts[i] = r.String()
	}
	return strings.Join(parts, " ")
}

package interval

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrInvalidInterval is returned when an interval would be empty or inverted.
var ErrInvalidInterval = errors.New("interval: start must be strictly before end")

// Interval is a half-open time range [Start, End).
// Both endpoints are expected to share a location; comparisons use instant
// ordering, so mixed locations still compare correctly.
type Interval struct {
	Start time.Time
	End   time.Time
}

// New validates and constructs a half-open interval.
func New(start, end time.Time) (Interval, error) {
	if !start.Before(end) {
		return Interval{}, fmt.Errorf("%w: [%s, %s)", ErrInvalidInterval,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return Interval{Start: start, End: end}, nil
}

// Overlaps reports whether two half-open intervals share any instant.
// Adjacent intervals ([10:00,11:00) and [11:00,12:00)) do not overlap.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start.Before(o.End) && o.Start.Before(iv.End)
}

// Contains reports whether o lies entirely within iv.
func (iv Interval) Contains(o Interval) bool {
	return !o.Start.Before(iv.Start) && !o.End.After(iv.End)
}

// Duration returns End - Start.
func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

// Subtract removes o from iv, returning the zero, one, or two remaining
// pieces in chronological order.
func (iv Interval) Subtract(o Interval) []Interval {
	if !iv.Overlaps(o) {
		return []Interval{iv}
	}
	var out []Interval
	if iv.Start.Before(o.Start) {
		out = append(out, Interval{Start: iv.Start, End: o.Start})
	}
	if o.End.Before(iv.End) {
		out = append(out, Interval{Start: o.End, End: iv.End})
	}
	return out
}

// Union sorts and merges intervals into a minimal non-overlapping list.
// Touching intervals ([9,10) and [10,11)) are coalesced.
func Union(in []Interval) []Interval {
	if len(in) == 0 {
		return nil
	}
	sorted := make([]Interval, len(in))
	copy(sorted, in)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Start.Equal(sorted[j].Start) {
			return sorted[i].End.Before(sorted[j].End)
		}
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := make([]Interval, 0, len(sorted))
	for _, cur := range sorted {
		if len(merged) == 0 {
			merged = append(merged, cur)
			continue
		}
		last := &merged[len(merged)-1]
		if cur.Start.After(last.End) {
			merged = append(merged, cur)
			continue
		}
		if cur.End.After(last.End) {
			last.End = cur.End
		}
	}
	return merged
}

// SubtractAll removes every block from base. Blocks are clipped to base,
// merged, then swept out with a single cursor pass.
func SubtractAll(base Interval, blocks []Interval) []Interval {
	var clipped []Interval
	for _, b := range blocks {
		s, e := b.Start, b.End
		if !s.Before(base.End) || !e.After(base.Start) {
			continue
		}
		if s.Before(base.Start) {
			s = base.Start
		}
		if e.After(base.End) {
			e = base.End
		}
		if e.After(s) {
			clipped = append(clipped, Interval{Start: s, End: e})
		}
	}
	if len(clipped) == 0 {
		return []Interval{base}
	}

	merged := Union(clipped)

	var out []Interval
	cursor := base.Start
	for _, m := range merged {
		if m.Start.After(cursor) {
			out = append(out, Interval{Start: cursor, End: m.Start})
		}
		if m.End.After(cursor) {
			cursor = m.End
		}
	}
	if base.End.After(cursor) {
		out = append(out, Interval{Start: cursor, End: base.End})
	}
	return out
}

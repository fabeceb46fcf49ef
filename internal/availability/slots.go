package availability

import (
	"time"

	"github.com/beautycita/schedule-service/internal/interval"
)

// Slots returns candidate start times inside free such that
// [start, start+duration) fits entirely within the window and start falls on
// a step boundary counted from origin (the enclosing window's start, so a
// booking ending mid-grid does not shift every later slot). Starts before
// earliest (now plus any minimum lead time) are excluded.
func Slots(free interval.Interval, duration, step time.Duration, origin, earliest time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}

	var starts []time.Time
	for t := alignUp(free.Start, origin, step); free.Contains(interval.Interval{Start: t, End: t.Add(duration)}); t = t.Add(step) {
		if t.Before(earliest) {
			continue
		}
		starts = append(starts, t)
	}
	return starts
}

// SlotsInWindows runs the full per-window pipeline: pad busy intervals with
// the window's buffer, subtract them, then discretize what remains on the
// window's step grid.
func SlotsInWindows(windows []Window, busy []interval.Interval, duration time.Duration, earliest time.Time) []time.Time {
	var starts []time.Time
	for _, w := range windows {
		padded := PadAfter(busy, w.Buffer)
		for _, free := range interval.SubtractAll(w.Interval, padded) {
			starts = append(starts, Slots(free, duration, w.Step, w.Start, earliest)...)
		}
	}
	return starts
}

// alignUp rounds t up to the next step boundary on the grid anchored at
// origin. t at or before origin snaps to origin.
func alignUp(t, origin time.Time, step time.Duration) time.Time {
	d := t.Sub(origin)
	if d <= 0 {
		return origin
	}
	if rem := d % step; rem != 0 {
		d += step - rem
	}
	return origin.Add(d)
}

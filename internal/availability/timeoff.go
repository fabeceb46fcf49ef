package availability

import (
	"time"

	"github.com/beautycita/schedule-service/internal/interval"
	"github.com/beautycita/schedule-service/internal/model"
)

// ApplyTimeOff subtracts every time-off period from the raw windows.
// Overlapping periods are merged before subtraction, so stacked requests for
// the same afternoon block it once. A window fully covered by time off simply
// disappears; an empty result is a closed day, not an error.
func ApplyTimeOff(windows []Window, periods []model.TimeOffPeriod) []Window {
	if len(periods) == 0 {
		return windows
	}

	blocks := make([]interval.Interval, 0, len(periods))
	for _, p := range periods {
		if p.EndTime.After(p.StartTime) {
			blocks = append(blocks, interval.Interval{Start: p.StartTime, End: p.EndTime})
		}
	}
	if len(blocks) == 0 {
		return windows
	}

	var out []Window
	for _, w := range windows {
		for _, iv := range interval.SubtractAll(w.Interval, blocks) {
			out = append(out, Window{Interval: iv, Step: w.Step, Buffer: w.Buffer})
		}
	}
	return out
}

// PadAfter extends each busy interval by buffer past its end, reserving setup
// time *after* a booking (not before). The policy choice matters: a 10:00
// haircut with a 15-minute buffer blocks 10:00-11:15, leaving the 09:00 slot
// untouched.
func PadAfter(busy []interval.Interval, buffer time.Duration) []interval.Interval {
	if buffer <= 0 || len(busy) == 0 {
		return busy
	}
	out := make([]interval.Interval, len(busy))
	for i, b := range busy {
		out[i] = interval.Interval{Start: b.Start, End: b.End.Add(buffer)}
	}
	return out
}

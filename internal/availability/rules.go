// Package availability turns a provider's recurring rules, time-off periods,
// and existing bookings into concrete bookable slots. Each stage is a pure
// function over half-open intervals so the pipeline composes and tests in
// isolation.
package availability

import (
	"time"

	"github.com/beautycita/schedule-service/internal/interval"
	"github.com/beautycita/schedule-service/internal/model"
)

// Window is one contiguous stretch of raw working time on a single calendar
// day, carrying the slot granularity that applies inside it.
type Window struct {
	interval.Interval
	Step   time.Duration
	Buffer time.Duration
}

// ExpandRules materializes weekly rules into per-day windows for every
// calendar date in [from, to), interpreted in the provider's location.
//
// Wall times come from time.Date in loc rather than fixed-offset math, so a
// day spanning a DST transition is shorter or longer as the clock actually
// was. Overlapping rules on the same weekday are unioned; when they disagree
// on granularity the day uses the smallest step and the largest buffer.
func ExpandRules(rules []model.AvailabilityRule, from, to time.Time, loc *time.Location) []Window {
	if !to.After(from) || len(rules) == 0 {
		return nil
	}

	byWeekday := make(map[int][]model.AvailabilityRule)
	for _, r := range rules {
		if r.Weekday < 0 || r.Weekday > 6 || r.EndMinute <= r.StartMinute {
			continue
		}
		byWeekday[r.Weekday] = append(byWeekday[r.Weekday], r)
	}
	if len(byWeekday) == 0 {
		return nil
	}

	var out []Window
	fromLocal := from.In(loc)
	year, month, day := fromLocal.Date()

	for d := 0; ; d++ {
		dayStart := time.Date(year, month, day+d, 0, 0, 0, 0, loc)
		if !dayStart.Before(to) {
			break
		}

		dayRules, ok := byWeekday[int(dayStart.Weekday())]
		if !ok {
			continue
		}

		var raw []interval.Interval
		step := time.Duration(0)
		buffer := time.Duration(0)
		for _, r := range dayRules {
			start := minuteOfDay(dayStart, r.StartMinute, loc)
			end := minuteOfDay(dayStart, r.EndMinute, loc)
			// Clip to the requested range.
			if start.Before(from) {
				start = from
			}
			if end.After(to) {
				end = to
			}
			if !end.After(start) {
				continue
			}
			raw = append(raw, interval.Interval{Start: start, End: end})

			s := time.Duration(r.SlotMinutes) * time.Minute
			if s > 0 && (step == 0 || s < step) {
				step = s
			}
			if b := time.Duration(r.BufferMinutes) * time.Minute; b > buffer {
				buffer = b
			}
		}
		if step == 0 {
			step = DefaultStep
		}

		for _, iv := range interval.Union(raw) {
			out = append(out, Window{Interval: iv, Step: step, Buffer: buffer})
		}
	}
	return out
}

// DefaultStep is used when a rule carries no slot granularity.
const DefaultStep = 30 * time.Minute

func minuteOfDay(dayStart time.Time, minutes int, loc *time.Location) time.Time {
	y, m, d := dayStart.Date()
	return time.Date(y, m, d, minutes/60, minutes%60, 0, 0, loc)
}

// Package timeframe produces the timezone-aware period grid a query is
// evaluated against: date range + interval in, ordered period boundaries out.
package timeframe

import (
	"context"
	"fmt"
	"time"

	"insightcore/internal/query"
)

// Period is one time bucket of the evaluation grid. Start and End are both
// inclusive instants in the query timezone.
type Period struct {
	Start time.Time
	End   time.Time
	Label string
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// Grid is the materialized period sequence for one query evaluation.
type Grid struct {
	From     time.Time
	To       time.Time
	Interval query.Interval
	Periods  []Period
}

// EarliestTimestampFunc resolves the first event timestamp of the actor scope
// for "all time" ranges. It must return query.ErrInsufficientData when the
// scope has no events.
type EarliestTimestampFunc func(ctx context.Context) (time.Time, error)

// Resolve materializes the period grid for q. Nil date bounds mean "all
// time" and are resolved through earliest; a non-time-series display mode
// collapses the grid into a single aggregate period spanning the whole range.
func Resolve(ctx context.Context, q *query.Query, earliest EarliestTimestampFunc) (*Grid, error) {
	loc := q.Location()
	now := time.Now().In(loc)

	to := now
	if q.DateTo != nil {
		to = q.DateTo.In(loc)
	}
	var from time.Time
	if q.DateFrom != nil {
		from = q.DateFrom.In(loc)
	} else {
		if earliest == nil {
			return nil, fmt.Errorf("all time range requested without an earliest-timestamp source: %w", query.ErrInsufficientData)
		}
		first, err := earliest(ctx)
		if err != nil {
			return nil, err
		}
		from = first.In(loc)
	}
	if from.After(to) {
		return nil, &query.ValidationError{Field: "date_from", Reason: "date_from must not be after date_to"}
	}

	interval := q.Interval
	if interval == "" {
		interval = query.IntervalDay
	}

	g := &Grid{From: from, To: to, Interval: interval}
	if !q.Display.IsTimeSeries() {
		g.Periods = []Period{{Start: from, End: to, Label: formatLabel(from, interval)}}
		return g, nil
	}
	g.Periods = Periods(from, to, interval, loc)
	return g, nil
}

// Periods returns the ordered bucket boundaries covering [from, to] at the
// given interval, honoring calendar semantics in loc: day buckets end at the
// last instant of the local day, weeks span 7 days, months end on the last
// instant of the calendar month, hours are exactly 3600s.
func Periods(from, to time.Time, interval query.Interval, loc *time.Location) []Period {
	from = from.In(loc)
	to = to.In(loc)

	var periods []Period
	cursor := truncate(from, interval, loc)
	for !cursor.After(to) {
		end := periodEnd(cursor, interval, loc)
		periods = append(periods, Period{Start: cursor, End: end, Label: formatLabel(cursor, interval)})
		cursor = next(cursor, interval, loc)
	}
	return periods
}

// truncate aligns t down to the start of its bucket in loc.
func truncate(t time.Time, interval query.Interval, loc *time.Location) time.Time {
	t = t.In(loc)
	switch interval {
	case query.IntervalHour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
	case query.IntervalWeek:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		// Weeks start on Sunday, matching the upstream calendar convention.
		return day.AddDate(0, 0, -int(day.Weekday()))
	case query.IntervalMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	}
}

// periodEnd returns the inclusive last instant of the bucket starting at
// start.
func periodEnd(start time.Time, interval query.Interval, loc *time.Location) time.Time {
	switch interval {
	case query.IntervalHour:
		return start.Add(time.Hour - time.Microsecond)
	case query.IntervalWeek:
		// Spans 7 days, ending on the last instant of the 6th day after start.
		return start.AddDate(0, 0, 7).Add(-time.Microsecond)
	case query.IntervalMonth:
		return start.AddDate(0, 1, 0).Add(-time.Microsecond)
	default:
		return start.AddDate(0, 0, 1).Add(-time.Microsecond)
	}
}

func next(start time.Time, interval query.Interval, loc *time.Location) time.Time {
	switch interval {
	case query.IntervalHour:
		return start.Add(time.Hour)
	case query.IntervalWeek:
		return start.AddDate(0, 0, 7)
	case query.IntervalMonth:
		return start.AddDate(0, 1, 0)
	default:
		return start.AddDate(0, 0, 1)
	}
}

func formatLabel(t time.Time, interval query.Interval) string {
	switch interval {
	case query.IntervalHour:
		return t.Format("2006-01-02 15:00")
	case query.IntervalMonth:
		return t.Format("2006-01")
	default:
		return t.Format("2006-01-02")
	}
}

// IntervalNoun returns the singular display noun for an interval, used in
// stickiness labels ("1 day", "2 weeks").
func IntervalNoun(interval query.Interval) string {
	switch interval {
	case query.IntervalHour:
		return "hour"
	case query.IntervalWeek:
		return "week"
	case query.IntervalMonth:
		return "month"
	default:
		return "day"
	}
}

// ActiveWindowStart returns the effective window start for weekly/monthly
// active math. For time-series display the window trails each period's start
// (P.start-6d weekly, P.start-29d monthly); for aggregate display it trails
// the range end instead of using date_from.
func ActiveWindowStart(p Period, math query.MathType, display query.DisplayMode, rangeTo time.Time) time.Time {
	days := 6
	if math == query.MathMonthlyActive {
		days = 29
	}
	if !display.IsTimeSeries() {
		return rangeTo.AddDate(0, 0, -days)
	}
	return p.Start.AddDate(0, 0, -days)
}

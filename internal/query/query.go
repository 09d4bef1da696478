// Package query defines the declarative analytics query model shared by the
// funnel, trends and stickiness engines, plus its validation rules.
package query

import (
	"time"
)

// Interval is the time bucket size for trend-style results.
type Interval string

const (
	IntervalHour  Interval = "hour"
	IntervalDay   Interval = "day"
	IntervalWeek  Interval = "week"
	IntervalMonth Interval = "month"
)

// FunnelOrderType selects the step-ordering semantics of a funnel.
type FunnelOrderType string

const (
	FunnelOrdered   FunnelOrderType = "ordered"
	FunnelStrict    FunnelOrderType = "strict"
	FunnelUnordered FunnelOrderType = "unordered"
)

// MathType is the aggregation applied to one entity's matched events.
type MathType string

const (
	MathTotal         MathType = "total"
	MathUniqueActors  MathType = "unique_actors"
	MathUniqueSession MathType = "unique_session"
	MathWeeklyActive  MathType = "weekly_active"
	MathMonthlyActive MathType = "monthly_active"
	MathProperty      MathType = "property"
	MathCountPerActor MathType = "count_per_actor"
)

// MathFunc is the statistical function for property / count-per-actor math.
type MathFunc string

const (
	FuncSum    MathFunc = "sum"
	FuncAvg    MathFunc = "avg"
	FuncMin    MathFunc = "min"
	FuncMax    MathFunc = "max"
	FuncMedian MathFunc = "median"
	FuncP75    MathFunc = "p75"
	FuncP90    MathFunc = "p90"
	FuncP95    MathFunc = "p95"
	FuncP99    MathFunc = "p99"
)

// EntityKind distinguishes how an entity resolves raw events.
type EntityKind string

const (
	KindEvent         EntityKind = "event"
	KindAction        EntityKind = "action"
	KindAnyEvent      EntityKind = "any"
	KindDataWarehouse EntityKind = "data_warehouse"
)

// DisplayMode determines whether results are a per-period series or a single
// aggregate spanning the whole range.
type DisplayMode string

const (
	DisplayLinear     DisplayMode = "linear"
	DisplayCumulative DisplayMode = "cumulative"
	DisplayAggregate  DisplayMode = "aggregate"
)

// IsTimeSeries reports whether the mode produces per-period buckets.
func (d DisplayMode) IsTimeSeries() bool {
	return d != DisplayAggregate
}

// AggregationKind selects the actor key for counting.
type AggregationKind string

const (
	AggregatePerson     AggregationKind = "person"
	AggregateDistinctID AggregationKind = "distinct_id"
	AggregateGroup      AggregationKind = "group"
)

// Aggregation is the actor key selector for a query.
type Aggregation struct {
	Kind           AggregationKind `json:"kind"`
	GroupTypeIndex int             `json:"group_type_index"`
}

// WindowUnit is the unit of a conversion window.
type WindowUnit string

const (
	UnitSecond WindowUnit = "second"
	UnitMinute WindowUnit = "minute"
	UnitHour   WindowUnit = "hour"
	UnitDay    WindowUnit = "day"
	UnitWeek   WindowUnit = "week"
	UnitMonth  WindowUnit = "month"
)

// ConversionWindow bounds the time between an actor's step-0 anchor and every
// later step of the same run.
type ConversionWindow struct {
	Value int        `json:"value"`
	Unit  WindowUnit `json:"unit"`
}

// Duration converts the window into a time.Duration. Months are treated as 30
// days, matching how the window is applied to raw timestamps.
func (w ConversionWindow) Duration() time.Duration {
	switch w.Unit {
	case UnitSecond:
		return time.Duration(w.Value) * time.Second
	case UnitMinute:
		return time.Duration(w.Value) * time.Minute
	case UnitHour:
		return time.Duration(w.Value) * time.Hour
	case UnitDay:
		return time.Duration(w.Value) * 24 * time.Hour
	case UnitWeek:
		return time.Duration(w.Value) * 7 * 24 * time.Hour
	case UnitMonth:
		return time.Duration(w.Value) * 30 * 24 * time.Hour
	default:
		return time.Duration(w.Value) * 24 * time.Hour
	}
}

// ActionStep is one alternative event matcher of an action. Steps are OR'd:
// the action matches if any step matches.
type ActionStep struct {
	EventName string         `json:"event_name"`
	Filters   *PropertyGroup `json:"filters,omitempty"`
}

// Entity is one declared event/action matcher plus its math and filters. In
// funnels the ordered entity list forms the steps.
type Entity struct {
	ID           string         `json:"id"` // event name, action id or empty for any event
	Kind         EntityKind     `json:"kind"`
	Label        string         `json:"label,omitempty"`
	Math         MathType       `json:"math,omitempty"`
	MathFunc     MathFunc       `json:"math_func,omitempty"`
	MathProperty string         `json:"math_property,omitempty"`
	Filters      *PropertyGroup `json:"filters,omitempty"`
	ActionSteps  []ActionStep   `json:"action_steps,omitempty"`
	Table        string         `json:"table,omitempty"` // data-warehouse source table
	Order        int            `json:"order"`
}

// DisplayLabel returns the user-facing series label for the entity.
func (e Entity) DisplayLabel() string {
	if e.Label != "" {
		return e.Label
	}
	if e.Kind == KindAnyEvent || e.ID == "" {
		return "All events"
	}
	return e.ID
}

// Exclusion is an entity whose occurrence between FromStep and ToStep
// invalidates the funnel run it interrupts.
type Exclusion struct {
	Entity   Entity `json:"entity"`
	FromStep int    `json:"from_step"`
	ToStep   int    `json:"to_step"`
}

// BreakdownType is the dimension class used to split results.
type BreakdownType string

const (
	BreakdownEvent      BreakdownType = "event"
	BreakdownPerson     BreakdownType = "person"
	BreakdownGroup      BreakdownType = "group"
	BreakdownCohort     BreakdownType = "cohort"
	BreakdownExpression BreakdownType = "expression"
)

// AttributionType selects which of an actor's qualifying events determines
// their breakdown value.
type AttributionType string

const (
	AttributionFirstTouch AttributionType = "first_touch"
	AttributionLastTouch  AttributionType = "last_touch"
	AttributionStep       AttributionType = "step"
	AttributionAllEvents  AttributionType = "all_events"
)

// CohortAll is the sentinel cohort id meaning "all users"; it always yields an
// implicit extra bucket when present in a cohort breakdown.
const CohortAll int64 = 0

// Breakdown is an optional result-splitting dimension on a query.
type Breakdown struct {
	Type            BreakdownType   `json:"type"`
	Keys            []string        `json:"keys"`
	CohortIDs       []int64         `json:"cohort_ids,omitempty"`
	GroupTypeIndex  int             `json:"group_type_index,omitempty"`
	Attribution     AttributionType `json:"attribution,omitempty"`
	AttributionStep *int            `json:"attribution_step,omitempty"`
	Limit           int             `json:"limit,omitempty"` // 0 = unlimited
}

// Query is the immutable description of one analytics request. DateFrom /
// DateTo being nil means "all time", resolved against the earliest event
// timestamp of the actor scope.
type Query struct {
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`
	Timezone string     `json:"timezone,omitempty"`
	Interval Interval   `json:"interval,omitempty"`

	Entities   []Entity    `json:"entities"`
	Exclusions []Exclusion `json:"exclusions,omitempty"`
	Breakdown  *Breakdown  `json:"breakdown,omitempty"`

	OrderType        FunnelOrderType  `json:"order_type,omitempty"`
	ConversionWindow ConversionWindow `json:"conversion_window"`
	FromStep         *int             `json:"from_step,omitempty"`
	ToStep           *int             `json:"to_step,omitempty"`
	BinCount         *int             `json:"bin_count,omitempty"`

	Aggregation    Aggregation `json:"aggregation"`
	Display        DisplayMode `json:"display,omitempty"`
	Formula        string      `json:"formula,omitempty"`
	SamplingFactor float64     `json:"sampling_factor,omitempty"` // 0 = unset
}

// Steps returns the number of funnel steps.
func (q *Query) Steps() int {
	return len(q.Entities)
}

// Window returns the conversion window duration, defaulting to 14 days when
// the query does not set one.
func (q *Query) Window() time.Duration {
	if q.ConversionWindow.Value <= 0 {
		return 14 * 24 * time.Hour
	}
	return q.ConversionWindow.Duration()
}

// StepRange resolves the effective from/to step sub-range for aggregation.
func (q *Query) StepRange() (from, to int) {
	from, to = 0, q.Steps()-1
	if q.FromStep != nil {
		from = *q.FromStep
	}
	if q.ToStep != nil {
		to = *q.ToStep
	}
	return from, to
}

// Location resolves the query timezone, defaulting to UTC. Unknown zone names
// are a validation error, caught by Validate before evaluation begins.
func (q *Query) Location() *time.Location {
	if q.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// SamplingCorrection returns the multiplier that rescales sampled counts.
func (q *Query) SamplingCorrection() float64 {
	if q.SamplingFactor <= 0 || q.SamplingFactor >= 1 {
		return 1
	}
	return 1 / q.SamplingFactor
}

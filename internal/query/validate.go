package query

import (
	"fmt"
	"time"
)

const maxFunnelSteps = 20

// Validate checks the query for structural errors. It must pass before any
// per-actor work starts; failures surface directly to the caller.
func (q *Query) Validate() error {
	if len(q.Entities) == 0 {
		return &ValidationError{Field: "entities", Reason: "at least one entity is required"}
	}
	if len(q.Entities) > maxFunnelSteps {
		return &ValidationError{Field: "entities", Reason: fmt.Sprintf("max %d funnel steps exceeded", maxFunnelSteps)}
	}
	if q.DateFrom != nil && q.DateTo != nil && q.DateFrom.After(*q.DateTo) {
		return &ValidationError{Field: "date_from", Reason: "date_from must not be after date_to"}
	}
	if q.Timezone != "" {
		if _, err := time.LoadLocation(q.Timezone); err != nil {
			return &ValidationError{Field: "timezone", Reason: "unknown timezone " + q.Timezone}
		}
	}
	switch q.Interval {
	case "", IntervalHour, IntervalDay, IntervalWeek, IntervalMonth:
	default:
		return &ValidationError{Field: "interval", Reason: "unknown interval " + string(q.Interval)}
	}
	switch q.OrderType {
	case "", FunnelOrdered, FunnelStrict, FunnelUnordered:
	default:
		return &ValidationError{Field: "order_type", Reason: "unknown funnel order type " + string(q.OrderType)}
	}
	if q.SamplingFactor < 0 || q.SamplingFactor > 1 {
		return &ValidationError{Field: "sampling_factor", Reason: "sampling_factor must be in (0, 1]"}
	}

	for i, e := range q.Entities {
		if err := validateEntity(i, e); err != nil {
			return err
		}
	}
	for i, ex := range q.Exclusions {
		if ex.FromStep < 0 || ex.ToStep >= len(q.Entities) || ex.FromStep >= ex.ToStep {
			return &ValidationError{
				Field:  fmt.Sprintf("exclusions[%d]", i),
				Reason: "exclusion step range must satisfy 0 <= from_step < to_step < steps",
			}
		}
		if err := ex.Entity.Filters.validate(); err != nil {
			return err
		}
	}
	if err := q.validateStepRange(); err != nil {
		return err
	}
	if err := q.validateBreakdown(); err != nil {
		return err
	}
	if q.BinCount != nil && *q.BinCount < 1 {
		return &ValidationError{Field: "bin_count", Reason: "bin_count must be positive"}
	}
	return nil
}

func validateEntity(i int, e Entity) error {
	field := fmt.Sprintf("entities[%d]", i)
	switch e.Kind {
	case "", KindEvent, KindAnyEvent:
	case KindAction:
		if len(e.ActionSteps) == 0 {
			return &ValidationError{Field: field, Reason: "action entity has no configured steps"}
		}
		for _, step := range e.ActionSteps {
			if err := step.Filters.validate(); err != nil {
				return err
			}
		}
	case KindDataWarehouse:
		if e.Table == "" {
			return &ValidationError{Field: field, Reason: "data warehouse entity requires a source table"}
		}
	default:
		return &ValidationError{Field: field, Reason: "unknown entity kind " + string(e.Kind)}
	}
	if e.Math == MathProperty && e.MathProperty == "" {
		return &ValidationError{Field: field, Reason: "math_property is required for property math"}
	}
	if e.Math == MathProperty || e.Math == MathCountPerActor {
		switch e.MathFunc {
		case FuncSum, FuncAvg, FuncMin, FuncMax, FuncMedian, FuncP75, FuncP90, FuncP95, FuncP99:
		default:
			return &ValidationError{Field: field, Reason: "unknown math function " + string(e.MathFunc)}
		}
	}
	return e.Filters.validate()
}

func (q *Query) validateStepRange() error {
	from, to := q.StepRange()
	if from < 0 || from >= len(q.Entities) {
		return &ValidationError{Field: "from_step", Reason: "from_step out of range"}
	}
	if to < 0 || to >= len(q.Entities) {
		return &ValidationError{Field: "to_step", Reason: "to_step out of range"}
	}
	if from >= to && len(q.Entities) > 1 {
		return &ValidationError{Field: "to_step", Reason: "to_step must be greater than from_step"}
	}
	return nil
}

func (q *Query) validateBreakdown() error {
	b := q.Breakdown
	if b == nil {
		return nil
	}
	switch b.Type {
	case BreakdownEvent, BreakdownPerson, BreakdownGroup, BreakdownExpression:
		if len(b.Keys) == 0 {
			return &ValidationError{Field: "breakdown", Reason: "breakdown requires at least one key"}
		}
	case BreakdownCohort:
		if len(b.CohortIDs) == 0 {
			return &ValidationError{Field: "breakdown", Reason: "cohort breakdown requires cohort ids"}
		}
	default:
		return &ValidationError{Field: "breakdown", Reason: "unknown breakdown type " + string(b.Type)}
	}
	switch b.Attribution {
	case "", AttributionFirstTouch, AttributionLastTouch, AttributionAllEvents:
	case AttributionStep:
		if b.AttributionStep == nil {
			return &ValidationError{Field: "breakdown", Reason: "step attribution requires attribution_step"}
		}
		if *b.AttributionStep < 0 || *b.AttributionStep >= len(q.Entities) {
			return &ValidationError{Field: "breakdown", Reason: "attribution_step out of range"}
		}
	default:
		return &ValidationError{Field: "breakdown", Reason: "unknown attribution " + string(b.Attribution)}
	}
	if b.Limit < 0 {
		return &ValidationError{Field: "breakdown", Reason: "breakdown limit must not be negative"}
	}
	return nil
}

package filters

import (
	"insightcore/internal/query"
)

// ContextFor builds the evaluation context for one event.
func ContextFor(ev *query.Event, groups func(typeIndex int) map[string]any) *EvalContext {
	return &EvalContext{
		EventProperties:  ev.Properties,
		PersonProperties: ev.PersonProperties,
		GroupProperties:  groups,
	}
}

// Matches decides whether a raw event satisfies a query entity. Name or
// action matching comes first; the entity-level property filters are an
// independent second stage.
func Matches(ev *query.Event, ent *query.Entity, ctx *EvalContext) (bool, error) {
	ok, err := matchesName(ev, ent, ctx)
	if err != nil || !ok {
		return false, err
	}
	if ent.Filters.Empty() {
		return true, nil
	}
	return EvaluateGroup(ent.Filters, ctx)
}

func matchesName(ev *query.Event, ent *query.Entity, ctx *EvalContext) (bool, error) {
	switch ent.Kind {
	case query.KindAnyEvent:
		return true, nil
	case query.KindAction:
		// Action steps are OR'd: the event matches if any one step's event
		// name and filter both pass.
		for _, step := range ent.ActionSteps {
			if step.EventName != "" && step.EventName != ev.Name {
				continue
			}
			if step.Filters.Empty() {
				return true, nil
			}
			ok, err := EvaluateGroup(step.Filters, ctx)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case query.KindDataWarehouse:
		// Warehouse rows are surfaced as events named after the source table.
		return ev.Name == ent.Table, nil
	default:
		if ent.ID == "" {
			return true, nil
		}
		return ev.Name == ent.ID, nil
	}
}

// Annotate turns an actor's raw events into the MatchedEvent stream one query
// evaluation consumes: step indexes, exclusion membership and breakdown
// values resolved per event. Events matching nothing are kept; strict-order
// funnels need to see them. The groups factory, when non-nil, binds a group
// property lookup to each event's own group keys.
func Annotate(events []query.Event, q *query.Query, groups func(*query.Event) func(int) map[string]any) ([]query.MatchedEvent, error) {
	out := make([]query.MatchedEvent, 0, len(events))
	for i := range events {
		ev := &events[i]
		var groupLookup func(int) map[string]any
		if groups != nil {
			groupLookup = groups(ev)
		}
		ctx := ContextFor(ev, groupLookup)

		m := query.MatchedEvent{Timestamp: ev.Timestamp, SessionID: ev.SessionID}
		for s := range q.Entities {
			ok, err := Matches(ev, &q.Entities[s], ctx)
			if err != nil {
				return nil, err
			}
			if ok {
				m.StepIndices = append(m.StepIndices, s)
			}
		}
		for x := range q.Exclusions {
			ok, err := Matches(ev, &q.Exclusions[x].Entity, ctx)
			if err != nil {
				return nil, err
			}
			if ok {
				m.ExclusionIndex = append(m.ExclusionIndex, x)
			}
		}
		if b := q.Breakdown; b != nil {
			m.BreakdownValues = breakdownValues(ev, b)
		}
		// Each matched property-math entity resolves its own property off
		// the event; two entities over different properties must not read
		// the same value.
		for _, s := range m.StepIndices {
			e := &q.Entities[s]
			if e.Math != query.MathProperty || e.MathProperty == "" {
				continue
			}
			if v, ok := toNumber(ev.Properties[e.MathProperty]); ok {
				if m.PropertyValues == nil {
					m.PropertyValues = make(map[int]float64, 1)
				}
				m.PropertyValues[s] = v
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// breakdownValues reads the breakdown dimension values off one event.
// Missing components resolve to the empty string, never nil, so bucket
// identity stays stable across repeated queries.
func breakdownValues(ev *query.Event, b *query.Breakdown) []string {
	values := make([]string, len(b.Keys))
	for i, key := range b.Keys {
		var bag map[string]any
		switch b.Type {
		case query.BreakdownPerson:
			bag = ev.PersonProperties
		case query.BreakdownGroup:
			// Group breakdown reads the group key reference off the event.
			if gk, ok := ev.GroupKeys[b.GroupTypeIndex]; ok {
				values[i] = gk
			}
			continue
		default:
			bag = ev.Properties
		}
		if raw, ok := lookup(bag, key); ok {
			values[i] = stringify(raw)
		}
	}
	return values
}


// Package filters evaluates entity matching and boolean property-filter
// trees against raw events.
package filters

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"go.elara.ws/pcre"
	"golang.org/x/text/cases"

	"insightcore/internal/query"
)

// foldCaser lowers strings for the case-insensitive contains operators.
var foldCaser = cases.Fold()

// regexCache holds compiled patterns for the lifetime of the process. Filter
// patterns repeat heavily across actors within one query evaluation.
var regexCache sync.Map // pattern string -> *pcre.Regexp

func compiledRegex(pattern string) (*pcre.Regexp, error) {
	if cached, ok := regexCache.Load(pattern); ok {
		return cached.(*pcre.Regexp), nil
	}
	re, err := pcre.Compile(pattern)
	if err != nil {
		return nil, &query.MalformedFilterError{Reason: fmt.Sprintf("invalid regex %q: %v", pattern, err)}
	}
	regexCache.Store(pattern, re)
	return re, nil
}

// EvalContext carries the property bags a filter leaf can read from.
type EvalContext struct {
	EventProperties   map[string]any
	PersonProperties  map[string]any
	SessionProperties map[string]any
	// GroupProperties resolves the bag for a group type index; nil when the
	// query has no group scope.
	GroupProperties func(typeIndex int) map[string]any
	// Expression evaluates a free-form expression leaf; nil fails closed.
	Expression func(key string) (bool, error)
}

func (c *EvalContext) bag(p query.Property) (map[string]any, bool) {
	switch p.Scope {
	case "", query.ScopeEvent:
		return c.EventProperties, true
	case query.ScopePerson:
		return c.PersonProperties, true
	case query.ScopeSession:
		return c.SessionProperties, true
	case query.ScopeGroup:
		if c.GroupProperties == nil {
			return nil, true
		}
		return c.GroupProperties(p.GroupTypeIndex), true
	default:
		return nil, false
	}
}

// EvaluateGroup evaluates a filter tree: AND requires every child true (an
// empty AND group is true), OR requires at least one (an empty OR group is
// false).
func EvaluateGroup(g *query.PropertyGroup, ctx *EvalContext) (bool, error) {
	if g.Empty() {
		return true, nil
	}
	and := g.Operator != query.LogicalOr

	eval := func(idx int, leaf bool) (bool, error) {
		if leaf {
			return EvaluateProperty(g.Properties[idx], ctx)
		}
		return EvaluateGroup(&g.Groups[idx], ctx)
	}

	n := len(g.Groups)
	leaf := false
	if n == 0 {
		n = len(g.Properties)
		leaf = true
	}
	for i := 0; i < n; i++ {
		ok, err := eval(i, leaf)
		if err != nil {
			return false, err
		}
		if and && !ok {
			return false, nil
		}
		if !and && ok {
			return true, nil
		}
	}
	return and, nil
}

// EvaluateProperty evaluates one leaf condition. Numeric comparisons cast
// both sides best-effort and fail closed on non-numeric values.
func EvaluateProperty(p query.Property, ctx *EvalContext) (bool, error) {
	if p.Scope == query.ScopeExpression {
		if ctx.Expression == nil {
			return false, nil
		}
		return ctx.Expression(p.Key)
	}

	bag, ok := ctx.bag(p)
	if !ok {
		return false, &query.MalformedFilterError{Key: p.Key, Reason: "unknown property scope " + string(p.Scope)}
	}
	raw, present := lookup(bag, p.Key)

	switch p.Operator {
	case query.OpIsSet:
		return present, nil
	case query.OpIsNotSet:
		return !present, nil
	}
	if !present {
		return false, nil
	}
	value := stringify(raw)

	switch p.Operator {
	case query.OpExact:
		return inSet(value, p.Values), nil
	case query.OpIsNot:
		return !inSet(value, p.Values), nil
	case query.OpContains:
		return foldContains(value, p.Value()), nil
	case query.OpNotContains:
		return !foldContains(value, p.Value()), nil
	case query.OpRegex, query.OpNotRegex:
		re, err := compiledRegex(p.Value())
		if err != nil {
			return false, err
		}
		matched := re.MatchString(value)
		if p.Operator == query.OpNotRegex {
			return !matched, nil
		}
		return matched, nil
	case query.OpGT, query.OpGTE, query.OpLT, query.OpLTE:
		left, lok := toNumber(raw)
		right, rok := toNumber(p.Value())
		if !lok || !rok {
			return false, nil
		}
		switch p.Operator {
		case query.OpGT:
			return left > right, nil
		case query.OpGTE:
			return left >= right, nil
		case query.OpLT:
			return left < right, nil
		default:
			return left <= right, nil
		}
	default:
		return false, &query.MalformedFilterError{Key: p.Key, Reason: "unknown operator " + string(p.Operator)}
	}
}

func lookup(bag map[string]any, key string) (any, bool) {
	if bag == nil {
		return nil, false
	}
	v, ok := bag[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func inSet(value string, values []string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

func foldContains(haystack, needle string) bool {
	return strings.Contains(foldCaser.String(haystack), foldCaser.String(needle))
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func toNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

package query

// PropertyScope identifies which property bag a filter leaf reads from.
type PropertyScope string

const (
	ScopeEvent      PropertyScope = "event"
	ScopePerson     PropertyScope = "person"
	ScopeGroup      PropertyScope = "group"
	ScopeSession    PropertyScope = "session"
	ScopeExpression PropertyScope = "expression"
)

// Operator is a property comparison operator.
type Operator string

const (
	OpExact       Operator = "exact"
	OpIsNot       Operator = "is_not"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
	OpRegex       Operator = "regex"
	OpNotRegex    Operator = "not_regex"
	OpGT          Operator = "gt"
	OpGTE         Operator = "gte"
	OpLT          Operator = "lt"
	OpLTE         Operator = "lte"
	OpIsSet       Operator = "is_set"
	OpIsNotSet    Operator = "is_not_set"
)

// LogicalOp combines children of a PropertyGroup.
type LogicalOp string

const (
	LogicalAnd LogicalOp = "AND"
	LogicalOr  LogicalOp = "OR"
)

// Property is a leaf filter condition. Value holds one or more accepted
// values for set-style operators (exact / is_not) and a single operand for
// the rest.
type Property struct {
	Key            string        `json:"key"`
	Operator       Operator      `json:"operator"`
	Values         []string      `json:"values,omitempty"`
	Scope          PropertyScope `json:"scope,omitempty"`
	GroupTypeIndex int           `json:"group_type_index,omitempty"`
}

// Value returns the single operand for non-set operators.
func (p Property) Value() string {
	if len(p.Values) == 0 {
		return ""
	}
	return p.Values[0]
}

// PropertyGroup is a boolean combination node. A group holds either nested
// groups or leaf properties, never both at one level; mixing is rejected by
// Validate.
type PropertyGroup struct {
	Operator   LogicalOp       `json:"operator"`
	Groups     []PropertyGroup `json:"groups,omitempty"`
	Properties []Property      `json:"properties,omitempty"`
}

// Empty reports whether the group constrains anything at all.
func (g *PropertyGroup) Empty() bool {
	return g == nil || (len(g.Groups) == 0 && len(g.Properties) == 0)
}

// validate checks the no-mixed-level invariant recursively.
func (g *PropertyGroup) validate() error {
	if g == nil {
		return nil
	}
	if len(g.Groups) > 0 && len(g.Properties) > 0 {
		return &MalformedFilterError{Reason: "a filter group cannot mix nested groups and leaf properties at one level"}
	}
	if g.Operator != LogicalAnd && g.Operator != LogicalOr && !g.Empty() {
		return &MalformedFilterError{Reason: "filter group operator must be AND or OR"}
	}
	for i := range g.Groups {
		if err := g.Groups[i].validate(); err != nil {
			return err
		}
	}
	for _, p := range g.Properties {
		if err := p.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (p Property) validate() error {
	if p.Key == "" && p.Scope != ScopeExpression {
		return &MalformedFilterError{Reason: "property filter is missing a key"}
	}
	switch p.Operator {
	case OpExact, OpIsNot, OpContains, OpNotContains, OpRegex, OpNotRegex,
		OpGT, OpGTE, OpLT, OpLTE, OpIsSet, OpIsNotSet:
	default:
		return &MalformedFilterError{Key: p.Key, Reason: "unknown operator " + string(p.Operator)}
	}
	switch p.Scope {
	case "", ScopeEvent, ScopePerson, ScopeGroup, ScopeSession, ScopeExpression:
	default:
		return &MalformedFilterError{Key: p.Key, Reason: "unknown property scope " + string(p.Scope)}
	}
	return nil
}

package rules

import (
	marketdata "rulebot/internal/domain/entity/marketdata"
)

// FilterClause is one advisory pre-filter condition over a snapshot field.
// A numeric clause carries inclusive Min/Max bounds; a string clause carries
// an exact-match value.
type FilterClause struct {
	Field  string   `json:"field"`
	Min    *float64 `json:"min,omitempty"`
	Max    *float64 `json:"max,omitempty"`
	Equals *string  `json:"equals,omitempty"`
}

// FilterDescriptor is the compiled pre-filter for one (pair, query) pair.
// It is consumed by the routing layer to cheaply drop snapshots a query can
// never match. It is advisory only: it may pass snapshots the full evaluator
// rejects, but it must never reject one the evaluator would accept.
type FilterDescriptor struct {
	Pair    string         `json:"pair"`
	Clauses []FilterClause `json:"clauses,omitempty"`
}

// CompileFilter builds a filter descriptor for a query. A nil query, or a
// query whose root combinator is OR, compiles to a pair-only descriptor.
// For an AND root, each direct leaf child contributes a clause; nested
// groups are skipped rather than descended into.
func CompileFilter(pair string, query *RuleGroup) FilterDescriptor {
	descriptor := FilterDescriptor{Pair: pair}
	if query == nil || query.Combinator != CombinatorAnd {
		return descriptor
	}
	for _, child := range query.Children {
		if child.Rule == nil {
			continue
		}
		if clause, ok := compileClause(child.Rule); ok {
			descriptor.Clauses = append(descriptor.Clauses, clause)
		}
	}
	return descriptor
}

// compileClause translates one leaf rule using the evaluator's operator
// mapping. Inclusive bounds stand in for the strict operators; that only
// widens the filter, which the advisory contract allows.
func compileClause(rule *Rule) (FilterClause, bool) {
	if _, ok := probeSnapshot.NumericField(rule.Field); ok {
		switch rule.Operator {
		case OpGreater, OpGreaterEqual:
			target, err := parseFloat(rule.Value)
			if err != nil {
				return FilterClause{}, false
			}
			return FilterClause{Field: rule.Field, Min: &target}, true
		case OpLess, OpLessEqual:
			target, err := parseFloat(rule.Value)
			if err != nil {
				return FilterClause{}, false
			}
			return FilterClause{Field: rule.Field, Max: &target}, true
		case OpEqual:
			target, err := parseFloat(rule.Value)
			if err != nil {
				return FilterClause{}, false
			}
			return FilterClause{Field: rule.Field, Min: &target, Max: &target}, true
		case OpBetween:
			low, high, ok := parseBetween(rule.Value)
			if !ok {
				return FilterClause{}, false
			}
			return FilterClause{Field: rule.Field, Min: &low, Max: &high}, true
		}
		return FilterClause{}, false
	}
	if _, ok := probeSnapshot.CategoricalField(rule.Field); ok && rule.Operator == OpEqual {
		value := rule.Value
		return FilterClause{Field: rule.Field, Equals: &value}, true
	}
	return FilterClause{}, false
}

// Matches applies the descriptor's clauses to a snapshot. Pair routing is
// handled upstream by the broker, so only field clauses are checked here.
func (d FilterDescriptor) Matches(snapshot *marketdata.IndicatorSnapshot) bool {
	if snapshot == nil {
		return false
	}
	for _, clause := range d.Clauses {
		if clause.Equals != nil {
			value, ok := snapshot.CategoricalField(clause.Field)
			if !ok || value != *clause.Equals {
				return false
			}
			continue
		}
		value, ok := snapshot.NumericField(clause.Field)
		if !ok {
			return false
		}
		if clause.Min != nil && value < *clause.Min {
			return false
		}
		if clause.Max != nil && value > *clause.Max {
			return false
		}
	}
	return true
}

// probeSnapshot exists only to reuse the snapshot's field resolution for
// classifying rule fields as numeric or categorical.
var probeSnapshot = &marketdata.IndicatorSnapshot{}

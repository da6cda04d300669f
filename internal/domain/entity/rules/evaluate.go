package rules

import (
	"strconv"
	"strings"

	marketdata "rulebot/internal/domain/entity/marketdata"
)

// Evaluate reports whether a rule group matches a snapshot.
//
// AND is true iff every child is true, OR iff any child is true, and a group
// with no children is false regardless of combinator. The function is total:
// unknown fields, unknown operators and malformed values all evaluate to
// false rather than failing the caller.
func Evaluate(group *RuleGroup, snapshot *marketdata.IndicatorSnapshot) bool {
	if group == nil || snapshot == nil || len(group.Children) == 0 {
		return false
	}
	switch group.Combinator {
	case CombinatorAnd:
		for _, child := range group.Children {
			if !evaluateNode(child, snapshot) {
				return false
			}
		}
		return true
	case CombinatorOr:
		for _, child := range group.Children {
			if evaluateNode(child, snapshot) {
				return true
			}
		}
		return false
	}
	return false
}

func evaluateNode(node Node, snapshot *marketdata.IndicatorSnapshot) bool {
	if node.Group != nil {
		return Evaluate(node.Group, snapshot)
	}
	if node.Rule != nil {
		return evaluateRule(node.Rule, snapshot)
	}
	return false
}

func evaluateRule(rule *Rule, snapshot *marketdata.IndicatorSnapshot) bool {
	if value, ok := snapshot.NumericField(rule.Field); ok {
		return compareNumeric(value, rule.Operator, rule.Value)
	}
	if value, ok := snapshot.CategoricalField(rule.Field); ok {
		// Categorical fields only support exact equality.
		return rule.Operator == OpEqual && value == rule.Value
	}
	return false
}

func compareNumeric(value float64, op Operator, raw string) bool {
	if op == OpBetween {
		low, high, ok := parseBetween(raw)
		return ok && value >= low && value <= high
	}
	target, err := parseFloat(raw)
	if err != nil {
		return false
	}
	switch op {
	case OpGreater:
		return value > target
	case OpLess:
		return value < target
	case OpGreaterEqual:
		return value >= target
	case OpLessEqual:
		return value <= target
	case OpEqual:
		return value == target
	}
	return false
}

func parseFloat(raw string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(raw), 64)
}

// parseBetween splits "a,b" into an inclusive range. Anything other than
// exactly two numeric tokens is a non-match.
func parseBetween(raw string) (low, high float64, ok bool) {
	parts := strings.Split(raw, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	low, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, false
	}
	high, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, false
	}
	return low, high, true
}

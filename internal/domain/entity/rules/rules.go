package rules

import (
	"encoding/json"
	"fmt"
)

// Combinator joins the children of a rule group.
type Combinator string

const (
	CombinatorAnd Combinator = "AND"
	CombinatorOr  Combinator = "OR"
)

// Operator compares a snapshot field against a rule value.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpEqual        Operator = "="
	OpBetween      Operator = "between"
)

// Rule is a single field comparison. Value is always carried as a string;
// numeric operators parse it, "between" expects two comma-separated numbers.
type Rule struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value"`
}

// RuleGroup is a boolean tree of rules. Children may be leaf rules or
// nested groups, to unbounded depth.
type RuleGroup struct {
	Combinator Combinator `json:"combinator"`
	Children   []Node     `json:"children"`
}

// Node is one child of a rule group: exactly one of Rule or Group is set.
type Node struct {
	Rule  *Rule
	Group *RuleGroup
}

// UnmarshalJSON decodes a child as a nested group when the payload carries
// a combinator, and as a leaf rule otherwise.
func (n *Node) UnmarshalJSON(data []byte) error {
	var probe struct {
		Combinator *Combinator `json:"combinator"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("decode rule node: %w", err)
	}
	if probe.Combinator != nil {
		group := &RuleGroup{}
		if err := json.Unmarshal(data, group); err != nil {
			return fmt.Errorf("decode rule group: %w", err)
		}
		n.Group = group
		return nil
	}
	rule := &Rule{}
	if err := json.Unmarshal(data, rule); err != nil {
		return fmt.Errorf("decode rule: %w", err)
	}
	n.Rule = rule
	return nil
}

// MarshalJSON encodes whichever side of the node is populated.
func (n Node) MarshalJSON() ([]byte, error) {
	if n.Group != nil {
		return json.Marshal(n.Group)
	}
	if n.Rule != nil {
		return json.Marshal(n.Rule)
	}
	return []byte("null"), nil
}

// GroupNode wraps a nested group as a child node.
func GroupNode(group *RuleGroup) Node {
	return Node{Group: group}
}

// RuleNode wraps a leaf rule as a child node.
func RuleNode(field string, op Operator, value string) Node {
	return Node{Rule: &Rule{Field: field, Operator: op, Value: value}}
}

// Package rules implements the Rules component: condition/action trees
// compiled from JSON or a small DSL, deterministic evaluation against an
// incoming span, and rule-set persistence with inheritance flattening.
package rules

import (
	"fmt"
)

// Op is a condition's comparison operator.
type Op string

const (
	OpEq       Op = "eq"
	OpNe       Op = "ne"
	OpGt       Op = "gt"
	OpGte      Op = "gte"
	OpLt       Op = "lt"
	OpLte      Op = "lte"
	OpIn       Op = "in"
	OpContains Op = "contains"
	OpMatches  Op = "matches"
)

// Combinator joins or negates child nodes.
type Combinator string

const (
	CombAllOf Combinator = "all_of"
	CombAnyOf Combinator = "any_of"
	CombNot   Combinator = "not"
)

// ActionKind names the decision a matching rule produces.
type ActionKind string

const (
	ActionAllow            ActionKind = "allow"
	ActionReject           ActionKind = "reject"
	ActionSimulate         ActionKind = "simulate"
	ActionRequireApproval  ActionKind = "require_approval"
)

// Action is the decision attached to a rule, produced when its
// condition matches.
type Action struct {
	Kind   ActionKind `json:"kind"`
	Reason string     `json:"reason,omitempty"`
	By     []string   `json:"by,omitempty"`
}

// Node is a condition tree node: either a leaf comparison or a
// combinator over child nodes. Exactly one of the leaf fields or
// Combinator+Children is set.
type Node struct {
	// leaf
	Field string      `json:"field,omitempty"`
	Op    Op          `json:"op,omitempty"`
	Value interface{} `json:"value,omitempty"`

	// combinator
	Combinator Combinator `json:"combinator,omitempty"`
	Children   []*Node    `json:"children,omitempty"`
}

// IsLeaf reports whether n is a field comparison rather than a combinator.
func (n *Node) IsLeaf() bool {
	return n.Combinator == ""
}

// Rule is one entry in a tenant's rule set.
type Rule struct {
	ID           string `json:"id"`
	TenantID     string `json:"tenant_id"`
	Priority     int    `json:"priority"`
	Condition    *Node  `json:"condition"`
	Action       Action `json:"action"`
	InheritsFrom string `json:"inherits_from,omitempty"`
	Active       bool   `json:"active"`
}

// RuleLoadError reports a problem discovered while loading or
// flattening a tenant's rule set (e.g. an inheritance cycle).
type RuleLoadError struct {
	TenantID string
	Reason   string
}

func (e RuleLoadError) Error() string {
	return fmt.Sprintf("rules: load tenant %s: %s", e.TenantID, e.Reason)
}

// EvalError wraps a non-fatal condition-evaluation failure — the rule it
// names is skipped, not the whole evaluation.
type EvalError struct {
	RuleID string
	Reason string
}

func (e EvalError) Error() string {
	return fmt.Sprintf("rules: rule %s evaluation error: %s", e.RuleID, e.Reason)
}

// Decision is the structured result of evaluating a span against a
// tenant's rule set.
type Decision struct {
	Action       ActionKind `json:"action"`
	Reason       string     `json:"reason,omitempty"`
	MatchedRule  string     `json:"matched_rule_id,omitempty"`
	By           []string   `json:"by,omitempty"`
}

// MarshalOutput renders a Decision as the {action, reason?, matched_rule_id?,
// by?} map carried in a RuleExecutionResult's output field.
func (d Decision) MarshalOutput() map[string]interface{} {
	out := map[string]interface{}{"action": string(d.Action)}
	if d.Reason != "" {
		out["reason"] = d.Reason
	}
	if d.MatchedRule != "" {
		out["matched_rule_id"] = d.MatchedRule
	}
	if len(d.By) > 0 {
		out["by"] = d.By
	}
	return out
}

package rules

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func leaf(field string, op Op, value interface{}) *Node {
	return &Node{Field: field, Op: op, Value: value}
}

func TestEvaluateDefaultsToAllowOnNoMatch(t *testing.T) {
	rule := &Rule{
		ID:        "r1",
		Active:    true,
		Condition: leaf("amount", OpGt, 1000.0),
		Action:    Action{Kind: ActionReject, Reason: "too large"},
	}

	decision, skipped := Evaluate([]*Rule{rule}, map[string]interface{}{"amount": 10.0})
	require.Empty(t, skipped)
	require.Equal(t, ActionAllow, decision.Action)
	require.Empty(t, decision.MatchedRule)
}

func TestEvaluateMatchesInPriorityOrder(t *testing.T) {
	low := &Rule{
		ID:        "low-priority",
		Priority:  5,
		Active:    true,
		Condition: leaf("amount", OpGte, 0.0),
		Action:    Action{Kind: ActionAllow},
	}
	high := &Rule{
		ID:        "high-priority",
		Priority:  1,
		Active:    true,
		Condition: leaf("amount", OpGte, 0.0),
		Action:    Action{Kind: ActionReject, Reason: "blocked by high priority rule"},
	}

	decision, skipped := Evaluate([]*Rule{low, high}, map[string]interface{}{"amount": 50.0})
	require.Empty(t, skipped)
	require.Equal(t, ActionReject, decision.Action)
	require.Equal(t, "high-priority", decision.MatchedRule)
	require.Equal(t, "blocked by high priority rule", decision.Reason)
}

func TestEvaluateTiesBrokenByRuleID(t *testing.T) {
	ruleB := &Rule{ID: "rule-b", Priority: 1, Active: true, Condition: leaf("x", OpEq, 1.0), Action: Action{Kind: ActionSimulate}}
	ruleA := &Rule{ID: "rule-a", Priority: 1, Active: true, Condition: leaf("x", OpEq, 1.0), Action: Action{Kind: ActionAllow}}

	decision, _ := Evaluate([]*Rule{ruleB, ruleA}, map[string]interface{}{"x": 1.0})
	require.Equal(t, "rule-a", decision.MatchedRule)
}

func TestEvaluateSkipsErroringRuleAndContinues(t *testing.T) {
	broken := &Rule{
		ID:        "broken",
		Priority:  1,
		Active:    true,
		Condition: leaf("missing_field", OpEq, "x"),
		Action:    Action{Kind: ActionReject},
	}
	fallback := &Rule{
		ID:        "fallback",
		Priority:  2,
		Active:    true,
		Condition: leaf("amount", OpGt, 0.0),
		Action:    Action{Kind: ActionRequireApproval, By: []string{"compliance"}},
	}

	decision, skipped := Evaluate([]*Rule{broken, fallback}, map[string]interface{}{"amount": 1.0})
	require.Len(t, skipped, 1)
	require.Equal(t, ActionRequireApproval, decision.Action)
	require.Equal(t, "fallback", decision.MatchedRule)
	require.Equal(t, []string{"compliance"}, decision.By)
}

func TestEvaluateIgnoresInactiveRules(t *testing.T) {
	inactive := &Rule{ID: "r1", Active: false, Condition: leaf("amount", OpGte, 0.0), Action: Action{Kind: ActionReject}}

	// Flatten drops inactive rules before Evaluate ever sees them; Evaluate
	// itself has no activity filter, so simulate the flattened input here.
	decision, _ := Evaluate(nil, map[string]interface{}{"amount": 1.0})
	require.Equal(t, ActionAllow, decision.Action)
	_ = inactive
}

func TestCombinatorsAllAnyNot(t *testing.T) {
	allOf := &Node{Combinator: CombAllOf, Children: []*Node{
		leaf("amount", OpGt, 10.0),
		leaf("currency", OpEq, "USD"),
	}}
	rule := &Rule{ID: "r1", Active: true, Condition: allOf, Action: Action{Kind: ActionReject}}

	decision, _ := Evaluate([]*Rule{rule}, map[string]interface{}{"amount": 20.0, "currency": "USD"})
	require.Equal(t, ActionReject, decision.Action)

	decision, _ = Evaluate([]*Rule{rule}, map[string]interface{}{"amount": 5.0, "currency": "USD"})
	require.Equal(t, ActionAllow, decision.Action)

	notNode := &Node{Combinator: CombNot, Children: []*Node{leaf("currency", OpEq, "USD")}}
	notRule := &Rule{ID: "r2", Active: true, Condition: notNode, Action: Action{Kind: ActionReject, Reason: "non-USD"}}
	decision, _ = Evaluate([]*Rule{notRule}, map[string]interface{}{"currency": "EUR"})
	require.Equal(t, ActionReject, decision.Action)
}

func TestFlattenAppliesParentConditionAndDropsInactive(t *testing.T) {
	parent := &Rule{ID: "parent", Active: true, Condition: leaf("region", OpEq, "us"), Action: Action{Kind: ActionAllow}}
	child := &Rule{ID: "child", Active: true, InheritsFrom: "parent", Condition: leaf("amount", OpGt, 100.0), Action: Action{Kind: ActionReject}}
	disabled := &Rule{ID: "disabled", Active: false, Condition: leaf("region", OpEq, "us"), Action: Action{Kind: ActionReject}}

	flattened, err := Flatten("tenant-a", []*Rule{parent, child, disabled})
	require.NoError(t, err)
	require.Len(t, flattened, 2)

	var childFlat *Rule
	for _, r := range flattened {
		if r.ID == "child" {
			childFlat = r
		}
	}
	require.NotNil(t, childFlat)
	require.Equal(t, CombAllOf, childFlat.Condition.Combinator)

	decision, skipped := Evaluate(flattened, map[string]interface{}{"region": "us", "amount": 200.0})
	require.Empty(t, skipped)
	require.Equal(t, ActionReject, decision.Action)
	require.Equal(t, "child", decision.MatchedRule)

	decision, _ = Evaluate(flattened, map[string]interface{}{"region": "eu", "amount": 200.0})
	require.Equal(t, ActionAllow, decision.Action)
}

func TestFlattenDetectsCycle(t *testing.T) {
	a := &Rule{ID: "a", Active: true, InheritsFrom: "b", Condition: leaf("x", OpEq, 1.0), Action: Action{Kind: ActionAllow}}
	b := &Rule{ID: "b", Active: true, InheritsFrom: "a", Condition: leaf("y", OpEq, 1.0), Action: Action{Kind: ActionAllow}}

	_, err := Flatten("tenant-a", []*Rule{a, b})
	require.Error(t, err)
	var loadErr RuleLoadError
	require.ErrorAs(t, err, &loadErr)
}

func TestFlattenMissingParentReferenceErrors(t *testing.T) {
	child := &Rule{ID: "child", Active: true, InheritsFrom: "ghost-parent", Condition: leaf("x", OpEq, 1.0), Action: Action{Kind: ActionAllow}}
	_, err := Flatten("tenant-a", []*Rule{child})
	require.Error(t, err)
}

package rules

import (
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"
)

// Evaluate walks a flattened, active rule set in deterministic order
// (priority ASC, then rule_id ASC) and returns the first match's
// decision. A condition evaluation error skips that rule rather than
// failing the whole evaluation; no match defaults to allow.
func Evaluate(active []*Rule, span map[string]interface{}) (Decision, []error) {
	ordered := make([]*Rule, len(active))
	copy(ordered, active)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Priority != ordered[j].Priority {
			return ordered[i].Priority < ordered[j].Priority
		}
		return ordered[i].ID < ordered[j].ID
	})

	var skipped []error
	for _, rule := range ordered {
		matched, err := matchNode(rule.Condition, span)
		if err != nil {
			skipped = append(skipped, EvalError{RuleID: rule.ID, Reason: err.Error()})
			continue
		}
		if matched {
			return Decision{
				Action:      rule.Action.Kind,
				Reason:      rule.Action.Reason,
				MatchedRule: rule.ID,
				By:          rule.Action.By,
			}, skipped
		}
	}

	return Decision{Action: ActionAllow}, skipped
}

func matchNode(n *Node, span map[string]interface{}) (bool, error) {
	if n == nil {
		return false, fmt.Errorf("nil condition node")
	}

	if !n.IsLeaf() {
		switch n.Combinator {
		case CombAllOf:
			for _, child := range n.Children {
				ok, err := matchNode(child, span)
				if err != nil {
					return false, err
				}
				if !ok {
					return false, nil
				}
			}
			return true, nil
		case CombAnyOf:
			for _, child := range n.Children {
				ok, err := matchNode(child, span)
				if err != nil {
					return false, err
				}
				if ok {
					return true, nil
				}
			}
			return false, nil
		case CombNot:
			if len(n.Children) != 1 {
				return false, fmt.Errorf("not requires exactly one child")
			}
			ok, err := matchNode(n.Children[0], span)
			if err != nil {
				return false, err
			}
			return !ok, nil
		default:
			return false, fmt.Errorf("unknown combinator %q", n.Combinator)
		}
	}

	actual, ok := span[n.Field]
	if !ok {
		return false, fmt.Errorf("field %q not present on span", n.Field)
	}
	return compare(n.Op, actual, n.Value)
}

func compare(op Op, actual, expected interface{}) (bool, error) {
	switch op {
	case OpEq:
		return reflect.DeepEqual(actual, expected), nil
	case OpNe:
		return !reflect.DeepEqual(actual, expected), nil
	case OpGt, OpGte, OpLt, OpLte:
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		if !aok || !bok {
			return false, fmt.Errorf("non-numeric comparison for op %q", op)
		}
		switch op {
		case OpGt:
			return a > b, nil
		case OpGte:
			return a >= b, nil
		case OpLt:
			return a < b, nil
		default:
			return a <= b, nil
		}
	case OpIn:
		list, ok := expected.([]interface{})
		if !ok {
			return false, fmt.Errorf("in requires a list value")
		}
		for _, item := range list {
			if reflect.DeepEqual(actual, item) {
				return true, nil
			}
		}
		return false, nil
	case OpContains:
		s, sok := actual.(string)
		sub, subok := expected.(string)
		if sok && subok {
			return strings.Contains(s, sub), nil
		}
		list, ok := actual.([]interface{})
		if !ok {
			return false, fmt.Errorf("contains requires a string or list actual value")
		}
		for _, item := range list {
			if reflect.DeepEqual(item, expected) {
				return true, nil
			}
		}
		return false, nil
	case OpMatches:
		s, sok := actual.(string)
		pattern, pok := expected.(string)
		if !sok || !pok {
			return false, fmt.Errorf("matches requires string actual and pattern")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		return re.MatchString(s), nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

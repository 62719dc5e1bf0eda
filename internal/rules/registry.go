package rules

import "fmt"

// RuleStore persists a tenant's raw (unflattened) rule definitions.
type RuleStore interface {
	Put(tenantID string, rule *Rule) error
	Delete(tenantID, ruleID string) error
	List(tenantID string) ([]*Rule, error)
}

// Flatten resolves inheritance for every active rule in raw: a child
// rule's condition is rewritten into an all_of[parent, child] node so
// the parent's clauses are implicitly required alongside the child's,
// appended after the parent per the flattening order this evaluates.
// Cycles are rejected with RuleLoadError.
func Flatten(tenantID string, raw []*Rule) ([]*Rule, error) {
	byID := make(map[string]*Rule, len(raw))
	for _, r := range raw {
		byID[r.ID] = r
	}

	flattened := make(map[string]*Node, len(raw))
	visiting := make(map[string]bool)

	var resolve func(id string) (*Node, error)
	resolve = func(id string) (*Node, error) {
		if n, ok := flattened[id]; ok {
			return n, nil
		}
		if visiting[id] {
			return nil, RuleLoadError{TenantID: tenantID, Reason: fmt.Sprintf("cycle at rule %s", id)}
		}
		rule, ok := byID[id]
		if !ok {
			return nil, RuleLoadError{TenantID: tenantID, Reason: fmt.Sprintf("inherits_from references missing rule %s", id)}
		}

		visiting[id] = true
		node := rule.Condition
		if rule.InheritsFrom != "" {
			parentNode, err := resolve(rule.InheritsFrom)
			if err != nil {
				return nil, err
			}
			node = &Node{Combinator: CombAllOf, Children: []*Node{parentNode, rule.Condition}}
		}
		visiting[id] = false
		flattened[id] = node
		return node, nil
	}

	out := make([]*Rule, 0, len(raw))
	for _, r := range raw {
		if !r.Active {
			continue
		}
		node, err := resolve(r.ID)
		if err != nil {
			return nil, err
		}
		clone := *r
		clone.Condition = node
		out = append(out, &clone)
	}
	return out, nil
}

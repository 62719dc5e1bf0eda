package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseDSL compiles the small textual rule language into the same AST
// JSON produces. Grammar:
//
//	rule       := "if" condition "then" action ["because" REASON]
//	condition  := comparison | "not" "(" condition ")"
//	comparison := FIELD OP VALUE
//	action     := "allow" | "reject" | "simulate" | "require_approval(" NAME,... ")"
//
// Only a single leaf comparison or a "not" wrapper is supported in the
// DSL surface; all_of/any_of trees are expressed via JSON instead —
// the DSL exists for the common single-condition case.
func ParseDSL(src string) (*Node, Action, error) {
	src = strings.TrimSpace(src)
	if !strings.HasPrefix(src, "if ") {
		return nil, Action{}, fmt.Errorf("rules: dsl must start with \"if\"")
	}
	src = strings.TrimPrefix(src, "if ")

	thenIdx := strings.Index(src, " then ")
	if thenIdx < 0 {
		return nil, Action{}, fmt.Errorf("rules: dsl missing \"then\"")
	}
	condPart := strings.TrimSpace(src[:thenIdx])
	rest := strings.TrimSpace(src[thenIdx+len(" then "):])

	reason := ""
	if becauseIdx := strings.Index(rest, " because "); becauseIdx >= 0 {
		reason = strings.Trim(strings.TrimSpace(rest[becauseIdx+len(" because "):]), `"`)
		rest = strings.TrimSpace(rest[:becauseIdx])
	}

	cond, err := parseCondition(condPart)
	if err != nil {
		return nil, Action{}, err
	}

	action, err := parseAction(rest, reason)
	if err != nil {
		return nil, Action{}, err
	}

	return cond, action, nil
}

func parseCondition(src string) (*Node, error) {
	if strings.HasPrefix(src, "not ") {
		inner := strings.TrimSpace(strings.TrimPrefix(src, "not "))
		inner = strings.TrimPrefix(inner, "(")
		inner = strings.TrimSuffix(inner, ")")
		child, err := parseCondition(strings.TrimSpace(inner))
		if err != nil {
			return nil, err
		}
		return &Node{Combinator: CombNot, Children: []*Node{child}}, nil
	}

	ops := []string{">=", "<=", "!=", "==", ">", "<", " in ", " contains ", " matches "}
	for _, opToken := range ops {
		idx := strings.Index(src, opToken)
		if idx < 0 {
			continue
		}
		field := strings.TrimSpace(src[:idx])
		valueStr := strings.TrimSpace(src[idx+len(opToken):])
		op := dslOp(opToken)
		value := parseLiteral(valueStr)
		return &Node{Field: field, Op: op, Value: value}, nil
	}

	return nil, fmt.Errorf("rules: dsl could not parse condition %q", src)
}

func dslOp(token string) Op {
	switch strings.TrimSpace(token) {
	case "==":
		return OpEq
	case "!=":
		return OpNe
	case ">":
		return OpGt
	case ">=":
		return OpGte
	case "<":
		return OpLt
	case "<=":
		return OpLte
	case "in":
		return OpIn
	case "contains":
		return OpContains
	case "matches":
		return OpMatches
	default:
		return ""
	}
}

func parseLiteral(s string) interface{} {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) && len(s) >= 2 {
		return strings.Trim(s, `"`)
	}
	if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
		inner := strings.Trim(s, "[]")
		parts := strings.Split(inner, ",")
		list := make([]interface{}, 0, len(parts))
		for _, p := range parts {
			list = append(list, parseLiteral(strings.TrimSpace(p)))
		}
		return list
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	if s == "true" {
		return true
	}
	if s == "false" {
		return false
	}
	return s
}

func parseAction(src, reason string) (Action, error) {
	src = strings.TrimSpace(src)
	switch {
	case src == "allow":
		return Action{Kind: ActionAllow}, nil
	case src == "simulate":
		return Action{Kind: ActionSimulate, Reason: reason}, nil
	case strings.HasPrefix(src, "reject"):
		return Action{Kind: ActionReject, Reason: reason}, nil
	case strings.HasPrefix(src, "require_approval"):
		by := parseApprovers(src)
		return Action{Kind: ActionRequireApproval, Reason: reason, By: by}, nil
	default:
		return Action{}, fmt.Errorf("rules: dsl unknown action %q", src)
	}
}

func parseApprovers(src string) []string {
	open := strings.Index(src, "(")
	shut := strings.LastIndex(src, ")")
	if open < 0 || shut < 0 || shut <= open {
		return nil
	}
	inner := src[open+1 : shut]
	if strings.TrimSpace(inner) == "" {
		return nil
	}
	parts := strings.Split(inner, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.Trim(strings.TrimSpace(p), `"`))
	}
	return out
}

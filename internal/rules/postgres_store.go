package rules

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore is the RuleStore backed by the rules table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-open, migrated database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Put(tenantID string, rule *Rule) error {
	condJSON, err := json.Marshal(rule.Condition)
	if err != nil {
		return fmt.Errorf("rules: marshal condition: %w", err)
	}
	var byJSON []byte
	if len(rule.Action.By) > 0 {
		byJSON, err = json.Marshal(rule.Action.By)
		if err != nil {
			return fmt.Errorf("rules: marshal action.by: %w", err)
		}
	}

	_, err = s.db.Exec(`
		INSERT INTO rules (id, tenant_id, priority, condition, action_kind, action_reason, action_by, inherits_from, active, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (id) DO UPDATE SET
			priority = EXCLUDED.priority,
			condition = EXCLUDED.condition,
			action_kind = EXCLUDED.action_kind,
			action_reason = EXCLUDED.action_reason,
			action_by = EXCLUDED.action_by,
			inherits_from = EXCLUDED.inherits_from,
			active = EXCLUDED.active,
			updated_at = now()
	`, rule.ID, tenantID, rule.Priority, condJSON, string(rule.Action.Kind), nullIfEmpty(rule.Action.Reason), byJSON, nullIfEmpty(rule.InheritsFrom), rule.Active)
	if err != nil {
		return fmt.Errorf("rules: insert rule: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(tenantID, ruleID string) error {
	_, err := s.db.Exec(`DELETE FROM rules WHERE id = $1 AND tenant_id = $2`, ruleID, tenantID)
	if err != nil {
		return fmt.Errorf("rules: delete rule: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(tenantID string) ([]*Rule, error) {
	rows, err := s.db.Query(`
		SELECT id, tenant_id, priority, condition, action_kind, COALESCE(action_reason, ''), action_by, COALESCE(inherits_from, ''), active
		FROM rules WHERE tenant_id = $1 ORDER BY priority ASC, id ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("rules: list rules: %w", err)
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		var (
			r          Rule
			condJSON   []byte
			actionKind string
			byJSON     []byte
		)
		if err := rows.Scan(&r.ID, &r.TenantID, &r.Priority, &condJSON, &actionKind, &r.Action.Reason, &byJSON, &r.InheritsFrom, &r.Active); err != nil {
			return nil, fmt.Errorf("rules: scan rule: %w", err)
		}
		r.Action.Kind = ActionKind(actionKind)
		if err := json.Unmarshal(condJSON, &r.Condition); err != nil {
			return nil, fmt.Errorf("rules: unmarshal condition for %s: %w", r.ID, err)
		}
		if len(byJSON) > 0 {
			_ = json.Unmarshal(byJSON, &r.Action.By)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

package rules

import (
	"context"

	"github.com/google/uuid"

	sllogging "github.com/logline-run/logline/infrastructure/logging"
)

// Service is the Rules component's public API: evaluation against a
// tenant's rule set, and rule CRUD.
type Service struct {
	store  RuleStore
	cache  *Cache
	logger *sllogging.Logger
}

// NewService constructs a Service. cache may wrap a nil redis client,
// in which case only its in-process L1 tier is used and a miss flattens
// from the store. logger
// may be nil, in which case skipped-rule audit events are dropped
// rather than logged.
func NewService(store RuleStore, cache *Cache, logger *sllogging.Logger) *Service {
	return &Service{store: store, cache: cache, logger: logger}
}

// activeRules returns tenantID's flattened, active rule set, consulting
// the cache first.
func (s *Service) activeRules(ctx context.Context, tenantID string) ([]*Rule, error) {
	if cached, ok := s.cache.Get(ctx, tenantID); ok {
		return cached, nil
	}

	raw, err := s.store.List(tenantID)
	if err != nil {
		return nil, err
	}
	flattened, err := Flatten(tenantID, raw)
	if err != nil {
		return nil, err
	}
	s.cache.Put(ctx, tenantID, flattened)
	return flattened, nil
}

// Evaluate runs span against tenantID's active rule set and returns the
// resulting decision. Per-rule evaluation errors are skipped rather than
// fatal, but each skip is recorded as an audit event rather than
// silently dropped.
func (s *Service) Evaluate(ctx context.Context, tenantID string, span map[string]interface{}) (Decision, error) {
	active, err := s.activeRules(ctx, tenantID)
	if err != nil {
		return Decision{}, err
	}
	decision, skipped := Evaluate(active, span)
	s.auditSkippedRules(ctx, tenantID, skipped)
	return decision, nil
}

// auditSkippedRules records every rule that was skipped during
// evaluation because its condition could not be evaluated against span
// (e.g. a referenced field was absent, or comparison types mismatched).
func (s *Service) auditSkippedRules(ctx context.Context, tenantID string, skipped []error) {
	if s.logger == nil {
		return
	}
	for _, skipErr := range skipped {
		fields := map[string]interface{}{
			"tenant_id": tenantID,
			"error":     skipErr.Error(),
		}
		if evalErr, ok := skipErr.(EvalError); ok {
			fields["rule_id"] = evalErr.RuleID
			fields["reason"] = evalErr.Reason
		}
		s.logger.Warn(ctx, "rules: skipped rule during evaluation", fields)
	}
}

// CreateRule stores a new rule (assigning it an id if the caller didn't
// supply one) and invalidates the tenant's cached flattened set.
func (s *Service) CreateRule(ctx context.Context, rule *Rule) (*Rule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.Action.Kind == "" {
		rule.Action.Kind = ActionAllow
	}
	rule.Active = true

	if err := s.store.Put(rule.TenantID, rule); err != nil {
		return nil, err
	}
	_ = s.cache.Invalidate(ctx, rule.TenantID)
	return rule, nil
}

// ListRules returns every raw (unflattened) rule for tenantID.
func (s *Service) ListRules(tenantID string) ([]*Rule, error) {
	return s.store.List(tenantID)
}

// DeleteRule removes a rule and invalidates the tenant's cache.
func (s *Service) DeleteRule(ctx context.Context, tenantID, ruleID string) error {
	if err := s.store.Delete(tenantID, ruleID); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, tenantID)
}

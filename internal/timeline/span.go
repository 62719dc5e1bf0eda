// Package timeline implements the append-only store of record for spans.
package timeline

import (
	"encoding/json"
	"time"
)

// Status enumerates a span's execution outcome.
type Status string

const (
	StatusExecuted Status = "executed"
	StatusSimulated Status = "simulated"
	StatusReverted Status = "reverted"
	StatusGhost    Status = "ghost"
)

// VerificationStatus records the outcome of signature re-verification.
type VerificationStatus string

const (
	VerificationVerified VerificationStatus = "verified"
	VerificationPending  VerificationStatus = "pending"
	VerificationFailed   VerificationStatus = "failed"
)

// SpanType distinguishes who originated a span.
type SpanType string

const (
	SpanTypeUser         SpanType = "user"
	SpanTypeSystem       SpanType = "system"
	SpanTypeOrganization SpanType = "organization"
	SpanTypeGhost        SpanType = "ghost"
)

// Visibility controls who may read a span via TenantTimeline.
type Visibility string

const (
	VisibilityPrivate      Visibility = "private"
	VisibilityOrganization Visibility = "organization"
	VisibilityPublic       Visibility = "public"
)

// Span is the fundamental, immutable timeline record.
type Span struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	LogLineID string    `json:"logline_id"`
	Author    string    `json:"author"`
	Title     string    `json:"title"`
	Payload   json.RawMessage `json:"payload"`

	ContractID *string `json:"contract_id,omitempty"`
	WorkflowID *string `json:"workflow_id,omitempty"`
	FlowID     *string `json:"flow_id,omitempty"`
	CausedBy   *string `json:"caused_by,omitempty"`

	Signature string `json:"signature"`
	Status    Status `json:"status"`

	VerificationStatus VerificationStatus `json:"verification_status"`

	TenantID       *string `json:"tenant_id,omitempty"`
	OrganizationID *string `json:"organization_id,omitempty"`
	UserID         *string `json:"user_id,omitempty"`

	SpanType   SpanType        `json:"span_type"`
	Visibility Visibility      `json:"visibility"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`

	DeltaS      float64 `json:"delta_s"`
	ReplayCount int     `json:"replay_count"`
	ReplayFrom  *string `json:"replay_from,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

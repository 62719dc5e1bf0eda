package timeline

import (
	"time"

	"github.com/logline-run/logline/internal/identity"
)

// CanonicalFields projects the span's signed subset of fields into the
// identity package's canonical byte form.
func (s Span) CanonicalFields() identity.CanonicalSpanFields {
	return identity.CanonicalSpanFields{
		ID:         s.ID,
		Timestamp:  s.Timestamp.UTC().Format(time.RFC3339Nano),
		LogLineID:  s.LogLineID,
		Author:     s.Author,
		Title:      s.Title,
		Payload:    s.Payload,
		ContractID: deref(s.ContractID),
		WorkflowID: deref(s.WorkflowID),
		FlowID:     deref(s.FlowID),
		CausedBy:   deref(s.CausedBy),
		Status:     string(s.Status),
	}
}

package timeline

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	hexutil "github.com/logline-run/logline/infrastructure/hex"
	"github.com/logline-run/logline/internal/identity"
	"github.com/logline-run/logline/internal/mesh"
)

// KeyResolver looks up the public key for a known LogLineID URI, used to
// re-verify a span's signature without Timeline holding private material.
type KeyResolver func(id string) (ed25519.PublicKey, bool)

// Broadcaster pushes a span_created envelope out over the mesh. mesh.Hub
// satisfies it.
type Broadcaster interface {
	Broadcast(env mesh.Envelope)
}

// Service implements the Timeline component's operations over a Store.
type Service struct {
	store     Store
	resolve   KeyResolver
	broadcast Broadcaster
}

// NewService constructs a Timeline service. broadcast may be nil (spans
// are still stored, just never pushed over the mesh — used in tests).
func NewService(store Store, resolve KeyResolver, broadcast Broadcaster) *Service {
	return &Service{store: store, resolve: resolve, broadcast: broadcast}
}

// AppendInput is the caller-supplied subset of a span's fields; the
// service fills in id, timestamp, verification_status, and created_at.
type AppendInput struct {
	LogLineID  string
	Author     string
	Title      string
	Payload    json.RawMessage
	ContractID *string
	WorkflowID *string
	FlowID     *string
	CausedBy   *string
	Signature  string
	Status     Status
	TenantID   *string
	OrgID      *string
	UserID     *string
	SpanType   SpanType
	Visibility Visibility
	Metadata   json.RawMessage
	DeltaS     float64
}

// Append verifies the span's signature, resolves its invariants, and
// stores it. On success it broadcasts a span_created envelope.
func (s *Service) Append(ctx context.Context, in AppendInput) (Span, error) {
	span := Span{
		ID:                 uuid.NewString(),
		Timestamp:          time.Now().UTC(),
		LogLineID:          in.LogLineID,
		Author:             in.Author,
		Title:              in.Title,
		Payload:            in.Payload,
		ContractID:         in.ContractID,
		WorkflowID:         in.WorkflowID,
		FlowID:             in.FlowID,
		CausedBy:           in.CausedBy,
		Signature:          in.Signature,
		Status:             in.Status,
		VerificationStatus: VerificationPending,
		TenantID:           in.TenantID,
		OrganizationID:     in.OrgID,
		UserID:             in.UserID,
		SpanType:           in.SpanType,
		Visibility:         in.Visibility,
		Metadata:           in.Metadata,
		DeltaS:             in.DeltaS,
		CreatedAt:          time.Now().UTC(),
	}
	if span.Status == "" {
		span.Status = StatusExecuted
	}
	if span.SpanType == "" {
		span.SpanType = SpanTypeUser
	}
	if span.Visibility == "" {
		span.Visibility = VisibilityPrivate
	}

	span.VerificationStatus = s.verify(span)

	if err := s.store.Append(ctx, span); err != nil {
		return Span{}, err
	}

	s.publish(span)
	return span, nil
}

// verify re-derives the canonical bytes and checks the signature against
// the resolvable public key for span.LogLineID. Failure sets
// verification_status=failed without discarding the row.
func (s *Service) verify(span Span) VerificationStatus {
	if s.resolve == nil {
		return VerificationPending
	}
	pub, ok := s.resolve(span.LogLineID)
	if !ok {
		return VerificationPending
	}
	sig, err := hexutil.DecodeString(span.Signature)
	if err != nil {
		return VerificationFailed
	}
	if identity.Verify(pub, span.CanonicalFields().CanonicalBytes(), sig) {
		return VerificationVerified
	}
	return VerificationFailed
}

// Get fetches a span by id, re-verifying its signature before returning
// it to the caller.
func (s *Service) Get(ctx context.Context, id string) (Span, error) {
	span, err := s.store.Get(ctx, id)
	if err != nil {
		return Span{}, err
	}
	span.VerificationStatus = s.verify(span)
	return span, nil
}

// Query lists spans matching q.
func (s *Service) Query(ctx context.Context, q Query) ([]Span, error) {
	return s.store.Query(ctx, q)
}

// TenantTimeline lists spans visible to userID within tenantID.
func (s *Service) TenantTimeline(ctx context.Context, tenantID, userID string, limit, offset int) ([]Span, error) {
	return s.store.TenantTimeline(ctx, tenantID, userID, limit, offset)
}

// Stats computes the tenant aggregate.
func (s *Service) Stats(ctx context.Context, tenantID string) (Stats, error) {
	return s.store.Stats(ctx, tenantID)
}

// Replay re-emits a span_created envelope for an existing span without
// creating a new row, bumping its replay_count — the only mutation the
// append-only discipline permits.
func (s *Service) Replay(ctx context.Context, id string) (Span, error) {
	span, err := s.store.IncrementReplayCount(ctx, id)
	if err != nil {
		return Span{}, err
	}
	s.publish(span)
	return span, nil
}

func (s *Service) publish(span Span) {
	if s.broadcast == nil {
		return
	}
	data, err := json.Marshal(span)
	if err != nil {
		return
	}
	s.broadcast.Broadcast(mesh.NewEnvelope(mesh.ServiceMessage{
		Type:     mesh.TypeSpanCreated,
		SpanID:   span.ID,
		Span:     data,
		TenantID: deref(span.TenantID),
	}))
}

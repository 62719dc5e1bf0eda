// Package mesh implements the persistent, authenticated WebSocket links
// between services and the envelope protocol they speak.
package mesh

import (
	"encoding/json"
	"fmt"
)

// MessageType discriminates a ServiceMessage's shape.
type MessageType string

const (
	TypeServiceHello          MessageType = "service_hello"
	TypeHealthPing            MessageType = "health_ping"
	TypeHealthPong            MessageType = "health_pong"
	TypeSpanCreated           MessageType = "span_created"
	TypeRuleEvaluationRequest MessageType = "rule_evaluation_request"
	TypeRuleExecutionResult   MessageType = "rule_execution_result"
	TypeConnectionLost        MessageType = "connection_lost"
)

// ServiceMessage is the tagged union carried as an Envelope's payload.
// Every recognized type is represented as optional fields on one struct
// (Go has no native sum type); unused fields are omitted on the wire.
// The `span` field carries a full span as raw JSON so this package never
// needs to import the Timeline span type — Timeline marshals/unmarshals it.
type ServiceMessage struct {
	Type MessageType `json:"type"`

	// service_hello
	Sender       string   `json:"sender,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`

	// span_created
	SpanID   string          `json:"span_id,omitempty"`
	Span     json.RawMessage `json:"span,omitempty"`
	TenantID string          `json:"tenant_id,omitempty"`
	Metadata map[string]any  `json:"metadata,omitempty"`

	// rule_evaluation_request / rule_execution_result
	RequestID string         `json:"request_id,omitempty"`
	ResultID  string         `json:"result_id,omitempty"`
	Success   bool           `json:"success,omitempty"`
	Output    map[string]any `json:"output,omitempty"`

	// connection_lost (local notification only, never sent on the wire)
	Peer string `json:"peer,omitempty"`
}

// Envelope is the frame every mesh message is wrapped in.
type Envelope struct {
	Event   string         `json:"event"`
	Payload ServiceMessage `json:"payload"`
}

// NewEnvelope wraps a ServiceMessage using its own type as the event name,
// which is the convention every mesh caller in this codebase follows.
func NewEnvelope(msg ServiceMessage) Envelope {
	return Envelope{Event: string(msg.Type), Payload: msg}
}

// Encode serializes an envelope to its on-wire JSON form.
func Encode(env Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("mesh: encode envelope: %w", err)
	}
	return data, nil
}

// Decode parses an on-wire frame into an Envelope. Unknown `type` values
// decode successfully (the struct has no strict enum) — callers are
// expected to log unrecognized types at debug and ignore them, per the
// mesh's forward-compatibility policy.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("mesh: decode envelope: %w", err)
	}
	return env, nil
}

// KnownType reports whether t is one of the types this codec recognizes.
func KnownType(t MessageType) bool {
	switch t {
	case TypeServiceHello, TypeHealthPing, TypeHealthPong, TypeSpanCreated,
		TypeRuleEvaluationRequest, TypeRuleExecutionResult, TypeConnectionLost:
		return true
	default:
		return false
	}
}

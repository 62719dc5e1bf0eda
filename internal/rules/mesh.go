package rules

import (
	"context"

	"github.com/logline-run/logline/internal/mesh"
)

// RegisterMeshHandler wires svc to answer rule_evaluation_request
// envelopes arriving over hub, replying with a rule_execution_result
// carrying the same id as the request (result_id == request_id).
func RegisterMeshHandler(hub *mesh.Hub, svc *Service) {
	hub.OnMessage(mesh.TypeRuleEvaluationRequest, func(peer string, env mesh.Envelope) {
		msg := env.Payload
		decision, err := svc.Evaluate(context.Background(), msg.TenantID, msg.Metadata)

		result := mesh.ServiceMessage{
			Type:     mesh.TypeRuleExecutionResult,
			ResultID: msg.RequestID,
		}
		if err != nil {
			result.Success = false
			result.Output = map[string]interface{}{"error": err.Error()}
		} else {
			result.Success = true
			result.Output = decision.MarshalOutput()
		}

		hub.Send(peer, mesh.NewEnvelope(result))
	})
}

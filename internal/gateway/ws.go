package gateway

import (
	"context"

	sllogging "github.com/logline-run/logline/infrastructure/logging"
	"github.com/logline-run/logline/internal/mesh"
)

// routingTable reports which backend(s) a client-originated envelope of
// type t should be forwarded to, per spec.md's event-type routing rule.
func routingTable(t mesh.MessageType) []string {
	switch t {
	case mesh.TypeSpanCreated:
		return []string{"timeline", "rules"}
	case mesh.TypeRuleEvaluationRequest:
		return []string{"rules"}
	default:
		return nil
	}
}

// MeshRouter wires the Gateway's client-facing hub to its backend mesh
// links: envelopes arriving from any backend fan out to every connected
// client, and envelopes a client sends are routed to the backend(s)
// named by routingTable.
type MeshRouter struct {
	hub      *mesh.Hub
	backends map[string]*mesh.Client
	logger   *sllogging.Logger
}

// NewMeshRouter constructs a router over hub (the /ws endpoint) and
// backends (persistent links to engine/rules/timeline/etc, keyed by
// canonical service name).
func NewMeshRouter(hub *mesh.Hub, backends map[string]*mesh.Client, logger *sllogging.Logger) *MeshRouter {
	return &MeshRouter{hub: hub, backends: backends, logger: logger}
}

// Start runs every backend link's reconnect loop and wires the two-way
// fan-out. It returns once ctx is done; the backend links keep retrying
// independently until then.
func (r *MeshRouter) Start(ctx context.Context) {
	for _, client := range r.backends {
		client.OnUnhandled(func(peer string, env mesh.Envelope) {
			r.hub.Broadcast(env)
		})
		go client.Run(ctx)
	}

	r.hub.OnUnhandled(func(peer string, env mesh.Envelope) {
		r.routeFromClient(env)
	})
}

func (r *MeshRouter) routeFromClient(env mesh.Envelope) {
	for _, name := range routingTable(env.Payload.Type) {
		client, ok := r.backends[name]
		if !ok {
			continue
		}
		if err := client.Send(env); err != nil {
			r.logger.WithError(err).WithField("backend", name).Warn("gateway: forward envelope to backend failed")
		}
	}
}

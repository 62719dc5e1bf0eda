package mesh

// PeerState tracks where a mesh link is in its connection lifecycle.
type PeerState string

const (
	StateDisconnected PeerState = "disconnected"
	StateHandshaking  PeerState = "handshaking"
	StateConnected    PeerState = "connected"
)

// PeerInfo describes a remote service reachable over the mesh.
type PeerInfo struct {
	Name         string
	State        PeerState
	Capabilities []string
}

// Handler reacts to a decoded envelope received from a peer. name identifies
// the remote side (its service_hello sender, or "" before the handshake).
type Handler func(name string, env Envelope)

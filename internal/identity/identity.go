// Package identity implements Ed25519 self-signed identities: generation,
// signing, verification, and file persistence.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LogLineID is a self-signed identity, shared across the mesh without the
// private key material.
type LogLineID struct {
	ID        string          `json:"id"`
	NodeName  string          `json:"node_name"`
	UUID      string          `json:"uuid"`
	IssuedAt  time.Time       `json:"issued_at"`
	PublicKey ed25519.PublicKey `json:"public_key"`
}

// canonicalID returns the deterministic `logline-id://{node_name}/{uuid}` URI.
func canonicalID(nodeName, id string) string {
	return fmt.Sprintf("logline-id://%s/%s", nodeName, id)
}

// LogLineIDWithKeys pairs a LogLineID with the private key that signs on its
// behalf. Only the originating process ever holds this value; everything
// else on the mesh sees the plain LogLineID.
type LogLineIDWithKeys struct {
	LogLineID
	PrivateKey ed25519.PrivateKey `json:"-"`
}

// Generate creates a fresh Ed25519 key pair, a fresh UUID, and stamps
// issued_at = now(). The returned identity is never persisted implicitly;
// callers call Save when they want it to survive a restart.
func Generate(nodeName string) (*LogLineIDWithKeys, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key pair: %w", err)
	}

	id := uuid.NewString()
	return &LogLineIDWithKeys{
		LogLineID: LogLineID{
			ID:        canonicalID(nodeName, id),
			NodeName:  nodeName,
			UUID:      id,
			IssuedAt:  time.Now().UTC(),
			PublicKey: pub,
		},
		PrivateKey: priv,
	}, nil
}

// GenerateGhost creates an ephemeral identity that is never written to disk,
// used by internal callers (Timeline/Engine bootstrap spans) that need to
// sign something without owning a durable node identity. Its spans carry
// status=ghost by convention of the caller, not of this package.
func GenerateGhost(nodeName string) (*LogLineIDWithKeys, error) {
	if nodeName == "" {
		nodeName = "ghost"
	}
	return Generate(nodeName)
}

// Sign signs data with the identity's private key.
func (id *LogLineIDWithKeys) Sign(data []byte) ([]byte, error) {
	if id == nil || len(id.PrivateKey) == 0 {
		return nil, ErrNoIdentity
	}
	return ed25519.Sign(id.PrivateKey, data), nil
}

// Verify checks a signature against a public key. It is pure and stateless.
func Verify(publicKey ed25519.PublicKey, data, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(publicKey, data, signature)
}

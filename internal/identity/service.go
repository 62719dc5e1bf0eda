package identity

import (
	"crypto/ed25519"
	"sync"
)

// SigningService is the process-wide signing capability: a single "current
// identity" shared read-only across goroutines after initialization, with
// mutation guarded so Sign observes a consistent identity for the duration
// of a call.
type SigningService struct {
	mu      sync.RWMutex
	current *LogLineIDWithKeys
	dir     string
}

// NewSigningService constructs a signing service backed by the given
// identity directory (used by SaveCurrent/LoadInto).
func NewSigningService(dir string) *SigningService {
	return &SigningService{dir: dir}
}

// SetCurrent installs the identity used by subsequent Sign calls.
func (s *SigningService) SetCurrent(id *LogLineIDWithKeys) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = id
}

// Current returns the public LogLineID of the current identity, or false if
// none has been configured.
func (s *SigningService) Current() (LogLineID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return LogLineID{}, false
	}
	return s.current.LogLineID, true
}

// Sign signs data using the current identity. Returns ErrNoIdentity if none
// is configured.
func (s *SigningService) Sign(data []byte) ([]byte, error) {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()

	if current == nil {
		return nil, ErrNoIdentity
	}
	return current.Sign(data)
}

// VerifyWithCurrent verifies a signature against the current identity's
// public key.
func (s *SigningService) VerifyWithCurrent(data, signature []byte) bool {
	s.mu.RLock()
	current := s.current
	s.mu.RUnlock()

	if current == nil {
		return false
	}
	return Verify(current.PublicKey, data, signature)
}

// GenerateAndSetCurrent creates a new identity, persists it to the signing
// service's identity directory, and installs it as current. Used by a
// service's bootstrap sequence (cmd/identity, or any service that signs its
// own spans).
func (s *SigningService) GenerateAndSetCurrent(nodeName string) (*LogLineIDWithKeys, error) {
	id, err := Generate(nodeName)
	if err != nil {
		return nil, err
	}
	if s.dir != "" {
		if err := Save(s.dir, id); err != nil {
			return nil, err
		}
	}
	s.SetCurrent(id)
	return id, nil
}

// LoadOrGenerate restores a persisted identity for nodeName, or generates
// and persists a new one if none exists, then installs it as current.
func (s *SigningService) LoadOrGenerate(nodeName string) (*LogLineIDWithKeys, error) {
	if s.dir != "" {
		if id, err := Load(s.dir, nodeName); err == nil {
			s.SetCurrent(id)
			return id, nil
		} else if err != ErrNotFound {
			return nil, err
		}
	}
	return s.GenerateAndSetCurrent(nodeName)
}

// PublicKeyFor returns the public key for an identity, usable by Verify
// callers that only hold a LogLineID (no private key material).
func PublicKeyFor(id LogLineID) ed25519.PublicKey {
	return id.PublicKey
}

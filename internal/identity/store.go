package identity

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// identityFile is the on-disk shape spec.md §6 defines for identity files:
// {id, private_key_hex, issued_at}, permissions 0600.
type identityFile struct {
	ID            string    `json:"id"`
	PrivateKeyHex string    `json:"private_key_hex"`
	IssuedAt      time.Time `json:"issued_at"`
}

// DefaultDir returns ~/.config/logline/identities, creating it if absent.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".config", "logline", "identities")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create identity directory: %w", err)
	}
	return dir, nil
}

// Save persists an identity to {dir}/{node_name}.json with 0600 permissions.
func Save(dir string, id *LogLineIDWithKeys) error {
	if id == nil {
		return fmt.Errorf("identity: cannot save nil identity")
	}

	path := filepath.Join(dir, id.NodeName+".json")
	record := identityFile{
		ID:            id.ID,
		PrivateKeyHex: hex.EncodeToString(id.PrivateKey),
		IssuedAt:      id.IssuedAt,
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}

	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create identity directory: %w", err)
	}

	return os.WriteFile(path, data, 0600)
}

// Load restores an identity previously written by Save. The public key is
// derived from the private key; node_name and uuid are recovered by parsing
// the stored id URI.
func Load(dir, nodeName string) (*LogLineIDWithKeys, error) {
	path := filepath.Join(dir, nodeName+".json")

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read identity file: %w", err)
	}

	var record identityFile
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("parse identity file: %w", err)
	}

	priv, err := hex.DecodeString(record.PrivateKeyHex)
	if err != nil || len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("identity: invalid private key material in %s", path)
	}

	node, uid, err := ParseID(record.ID)
	if err != nil {
		return nil, err
	}
	if node != nodeName {
		return nil, fmt.Errorf("identity: node_name mismatch in %s (file=%q, id=%q)", path, nodeName, node)
	}

	privKey := ed25519.PrivateKey(priv)
	return &LogLineIDWithKeys{
		LogLineID: LogLineID{
			ID:        record.ID,
			NodeName:  node,
			UUID:      uid,
			IssuedAt:  record.IssuedAt,
			PublicKey: privKey.Public().(ed25519.PublicKey),
		},
		PrivateKey: privKey,
	}, nil
}

// ParseID splits a `logline-id://{node_name}/{uuid}` URI into its parts.
func ParseID(id string) (nodeName, uid string, err error) {
	const prefix = "logline-id://"
	if len(id) <= len(prefix) || id[:len(prefix)] != prefix {
		return "", "", fmt.Errorf("identity: malformed id %q", id)
	}
	rest := id[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("identity: malformed id %q", id)
}

// REST surface for services that don't hold key material directly (spec.md
// §6 "Identity"), served by cmd/identity. Other processes hold their own
// SigningService in-process and never need to call this over HTTP.
package identity

import (
	"encoding/base64"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/logline-run/logline/infrastructure/httputil"
)

// Service bundles the signing capability, the public registry, and the
// identity directory so the REST handlers can create, persist, and look up
// identities by node name.
type Service struct {
	Signing  *SigningService
	Registry *Registry
	Dir      string
}

// NewService constructs an identity Service rooted at dir (see DefaultDir).
func NewService(dir string) *Service {
	return &Service{
		Signing:  NewSigningService(dir),
		Registry: NewRegistry(),
		Dir:      dir,
	}
}

type createIdentityRequest struct {
	NodeName string `json:"node_name"`
}

type createIdentityResponse struct {
	ID               string    `json:"id"`
	PublicKey        string    `json:"public_key"`
	Signature        string    `json:"signature"`
	CreationTimestamp time.Time `json:"creation_timestamp"`
}

// CreateIdentityHandler handles POST /identities.
func (s *Service) CreateIdentityHandler(w http.ResponseWriter, r *http.Request) {
	var req createIdentityRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.NodeName == "" {
		httputil.BadRequest(w, "node_name is required")
		return
	}

	id, err := Generate(req.NodeName)
	if err != nil {
		httputil.InternalError(w, "failed to generate identity")
		return
	}
	if s.Dir != "" {
		if err := Save(s.Dir, id); err != nil {
			httputil.InternalError(w, "failed to persist identity")
			return
		}
	}
	s.Registry.Put(id.LogLineID)

	// Self-sign the bootstrap record: the first identity has no witness on
	// the timeline yet, so it signs its own creation.
	sig, err := id.Sign([]byte(id.ID))
	if err != nil {
		httputil.InternalError(w, "failed to self-sign identity")
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, createIdentityResponse{
		ID:                id.ID,
		PublicKey:         base64.StdEncoding.EncodeToString(id.PublicKey),
		Signature:         base64.StdEncoding.EncodeToString(sig),
		CreationTimestamp: id.IssuedAt,
	})
}

// GetIdentityHandler handles GET /identities/{id}.
func (s *Service) GetIdentityHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	idURI := vars["id"]

	rec, ok := s.Registry.Get(idURI)
	if !ok {
		httputil.NotFound(w, "identity not found")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, rec)
}

type signRequest struct {
	IdentityID string `json:"identity_id"`
	DataB64    string `json:"data_b64"`
}

type signResponse struct {
	SignatureB64 string `json:"signature_b64"`
}

// SignHandler handles POST /sign. It signs on behalf of identity_id by
// loading that identity's private key from disk (it must have been
// persisted by a prior CreateIdentityHandler call).
func (s *Service) SignHandler(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.DataB64)
	if err != nil {
		httputil.BadRequest(w, "data_b64 is not valid base64")
		return
	}

	nodeName, _, err := ParseID(req.IdentityID)
	if err != nil {
		httputil.BadRequest(w, "identity_id is malformed")
		return
	}

	id, err := Load(s.Dir, nodeName)
	if err != nil {
		if err == ErrNotFound {
			httputil.NotFound(w, "identity not found")
			return
		}
		httputil.InternalError(w, "failed to load identity")
		return
	}

	sig, err := id.Sign(data)
	if err != nil {
		httputil.InternalError(w, "failed to sign")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, signResponse{
		SignatureB64: base64.StdEncoding.EncodeToString(sig),
	})
}

type verifyRequest struct {
	PublicKeyB64 string `json:"public_key_b64"`
	IdentityID   string `json:"identity_id"`
	DataB64      string `json:"data_b64"`
	SignatureB64 string `json:"signature_b64"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

// VerifyHandler handles POST /verify. Accepts either an explicit public key
// or an identity_id to resolve a key from the registry.
func (s *Service) VerifyHandler(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	data, err := base64.StdEncoding.DecodeString(req.DataB64)
	if err != nil {
		httputil.BadRequest(w, "data_b64 is not valid base64")
		return
	}
	sig, err := base64.StdEncoding.DecodeString(req.SignatureB64)
	if err != nil {
		httputil.BadRequest(w, "signature_b64 is not valid base64")
		return
	}

	var pub []byte
	if req.PublicKeyB64 != "" {
		pub, err = base64.StdEncoding.DecodeString(req.PublicKeyB64)
		if err != nil {
			httputil.BadRequest(w, "public_key_b64 is not valid base64")
			return
		}
	} else if req.IdentityID != "" {
		rec, ok := s.Registry.Get(req.IdentityID)
		if !ok {
			httputil.NotFound(w, "identity not found")
			return
		}
		pub = rec.PublicKey
	} else {
		httputil.BadRequest(w, "public_key_b64 or identity_id is required")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, verifyResponse{
		Valid: Verify(pub, data, sig),
	})
}

// RegisterRoutes mounts the Identity REST surface on a mux.Router.
func (s *Service) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/identities", s.CreateIdentityHandler).Methods(http.MethodPost)
	router.HandleFunc("/identities/{id:.*}", s.GetIdentityHandler).Methods(http.MethodGet)
	router.HandleFunc("/sign", s.SignHandler).Methods(http.MethodPost)
	router.HandleFunc("/verify", s.VerifyHandler).Methods(http.MethodPost)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
}

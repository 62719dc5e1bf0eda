package gateway

import (
	"net/http"

	"github.com/gorilla/mux"

	sllogging "github.com/logline-run/logline/infrastructure/logging"
	"github.com/logline-run/logline/internal/mesh"
	"github.com/logline-run/logline/pkg/version"
)

// Config collects everything RegisterRoutes needs to wire the Gateway:
// auth, backend HTTP URLs for the reverse proxy and /healthz, and backend
// mesh URLs for the persistent WebSocket links.
type Config struct {
	Validator *Validator

	// HTTPBackends maps canonical service name -> base HTTP URL, used for
	// both the /{service}/* reverse proxy and /healthz probing.
	HTTPBackends map[string]string

	// MeshBackends maps canonical service name -> mesh (/mesh) WebSocket
	// URL. A service with no entry here has no persistent mesh link, only
	// the REST reverse proxy.
	MeshBackends map[string]string

	Logger *sllogging.Logger
}

// Service holds the constructed Gateway components so cmd/gateway/main.go
// can start/stop the mesh router alongside the HTTP server.
type Service struct {
	Backends   *Backends
	MeshRouter *MeshRouter
	Hub        *mesh.Hub
}

// RegisterRoutes builds the reverse proxies, the client-facing mesh hub,
// and the backend mesh links, then mounts every route on router. The
// caller is responsible for calling Service.MeshRouter.Start(ctx) once the
// server is ready to accept connections.
func RegisterRoutes(router *mux.Router, cfg Config) (*Service, error) {
	backends, err := NewBackends(cfg.HTTPBackends)
	if err != nil {
		return nil, err
	}

	hub := mesh.NewHub("gateway", cfg.Logger)

	meshClients := make(map[string]*mesh.Client, len(cfg.MeshBackends))
	for name, url := range cfg.MeshBackends {
		if url == "" {
			continue
		}
		meshClients[name] = mesh.NewClient("gateway", url, nil, cfg.Logger)
	}
	meshRouter := NewMeshRouter(hub, meshClients, cfg.Logger)

	router.Use(AuthMiddleware(cfg.Validator))

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Service-Version", version.Version)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","version":"` + version.Version + `"}`))
	}).Methods(http.MethodGet)
	router.HandleFunc("/healthz", HealthzHandler(cfg.HTTPBackends, &http.Client{})).Methods(http.MethodGet)
	router.HandleFunc("/ws", hub.ServeHTTP)

	for _, name := range backends.Names() {
		handler := backends.Handler(name)
		router.PathPrefix("/" + name + "/").Handler(handler)
		router.Handle("/"+name, handler)
	}

	return &Service{Backends: backends, MeshRouter: meshRouter, Hub: hub}, nil
}

package engine

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/logline-run/logline/infrastructure/httputil"
)

// RegisterRoutes mounts Engine's REST surface on router.
func RegisterRoutes(router *mux.Router, svc *Service) {
	router.HandleFunc("/tenants/{tenant}/tasks", createTaskHandler(svc)).Methods(http.MethodPost)
	router.HandleFunc("/tenants/{tenant}/tasks", listTasksHandler(svc)).Methods(http.MethodGet)
	router.HandleFunc("/tenants/{tenant}/tasks/{task_id}", getTaskHandler(svc)).Methods(http.MethodGet)
	router.HandleFunc("/tenants/{tenant}/tasks/{task_id}", cancelTaskHandler(svc)).Methods(http.MethodDelete)
	router.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createTaskRequest struct {
	Payload  json.RawMessage `json:"payload"`
	Priority string          `json:"priority,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

func createTaskHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := mux.Vars(r)["tenant"]

		var req createTaskRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}

		task, err := svc.Submit(SubmitInput{
			TenantID: tenant,
			Priority: Priority(req.Priority),
			Payload:  req.Payload,
			Metadata: req.Metadata,
		})
		if err != nil {
			writeTaskError(w, err)
			return
		}

		httputil.WriteJSON(w, http.StatusCreated, task)
	}
}

func listTasksHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := mux.Vars(r)["tenant"]
		httputil.WriteJSON(w, http.StatusOK, svc.ListByTenant(tenant))
	}
}

func getTaskHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["task_id"]
		task, err := svc.Get(id)
		if err != nil {
			writeTaskError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, task)
	}
}

func cancelTaskHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["task_id"]
		if err := svc.Cancel(id); err != nil {
			writeTaskError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func writeTaskError(w http.ResponseWriter, err error) {
	switch err.(type) {
	case ErrTaskNotFound:
		httputil.NotFound(w, err.Error())
	case ErrUnavailable:
		httputil.ServiceUnavailable(w, err.Error())
	case ErrTaskNotCancelable:
		httputil.Conflict(w, err.Error())
	default:
		httputil.BadRequest(w, err.Error())
	}
}

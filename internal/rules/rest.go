package rules

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/logline-run/logline/infrastructure/httputil"
)

// RegisterRoutes mounts Rules' REST surface on router.
func RegisterRoutes(router *mux.Router, svc *Service) {
	router.HandleFunc("/tenants/{tenant}/rules", createRuleHandler(svc)).Methods(http.MethodPost)
	router.HandleFunc("/tenants/{tenant}/rules", listRulesHandler(svc)).Methods(http.MethodGet)
	router.HandleFunc("/tenants/{tenant}/rules/{rule_id}", deleteRuleHandler(svc)).Methods(http.MethodDelete)
	router.HandleFunc("/tenants/{tenant}/evaluate", evaluateHandler(svc)).Methods(http.MethodPost)
	router.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createRuleRequest struct {
	Priority     int    `json:"priority"`
	Condition    *Node  `json:"condition,omitempty"`
	DSL          string `json:"dsl,omitempty"`
	Action       Action `json:"action,omitempty"`
	InheritsFrom string `json:"inherits_from,omitempty"`
}

func createRuleHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := mux.Vars(r)["tenant"]

		var req createRuleRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}

		condition := req.Condition
		action := req.Action
		if req.DSL != "" {
			parsedCond, parsedAction, err := ParseDSL(req.DSL)
			if err != nil {
				httputil.BadRequest(w, err.Error())
				return
			}
			condition = parsedCond
			action = parsedAction
		}
		if condition == nil {
			httputil.BadRequest(w, "rules: condition or dsl required")
			return
		}

		rule := &Rule{
			TenantID:     tenant,
			Priority:     req.Priority,
			Condition:    condition,
			Action:       action,
			InheritsFrom: req.InheritsFrom,
		}

		created, err := svc.CreateRule(r.Context(), rule)
		if err != nil {
			writeRuleError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, map[string]string{"rule_id": created.ID})
	}
}

func listRulesHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := mux.Vars(r)["tenant"]
		rules, err := svc.ListRules(tenant)
		if err != nil {
			writeRuleError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, rules)
	}
}

func deleteRuleHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		if err := svc.DeleteRule(r.Context(), vars["tenant"], vars["rule_id"]); err != nil {
			writeRuleError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type evaluateRequest struct {
	TenantID string                 `json:"tenant_id"`
	Span     map[string]interface{} `json:"span"`
}

type evaluateResponse struct {
	Success bool                   `json:"success"`
	Output  map[string]interface{} `json:"output"`
}

func evaluateHandler(svc *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenant := mux.Vars(r)["tenant"]

		var req evaluateRequest
		if !httputil.DecodeJSON(w, r, &req) {
			return
		}

		decision, err := svc.Evaluate(r.Context(), tenant, req.Span)
		if err != nil {
			httputil.WriteJSON(w, http.StatusOK, evaluateResponse{
				Success: false,
				Output:  map[string]interface{}{"error": err.Error()},
			})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, evaluateResponse{Success: true, Output: decision.MarshalOutput()})
	}
}

func writeRuleError(w http.ResponseWriter, err error) {
	switch err.(type) {
	case RuleLoadError:
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err.Error())
	}
}

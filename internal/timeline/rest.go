package timeline

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/logline-run/logline/infrastructure/httputil"
)

// RegisterRoutes mounts Timeline's REST surface on router.
func (s *Service) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/spans", s.createSpanHandler).Methods(http.MethodPost)
	router.HandleFunc("/spans", s.querySpansHandler).Methods(http.MethodGet)
	router.HandleFunc("/spans/{id}", s.getSpanHandler).Methods(http.MethodGet)
	router.HandleFunc("/spans/{id}/replay", s.replaySpanHandler).Methods(http.MethodPost)
	router.HandleFunc("/tenants/{tenant}/timeline", s.tenantTimelineHandler).Methods(http.MethodGet)
	router.HandleFunc("/tenants/{tenant}/stats", s.tenantStatsHandler).Methods(http.MethodGet)
	router.HandleFunc("/health", healthHandler).Methods(http.MethodGet)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createSpanRequest struct {
	LogLineID  string          `json:"logline_id"`
	Author     string          `json:"author"`
	Title      string          `json:"title"`
	Payload    json.RawMessage `json:"payload"`
	ContractID *string         `json:"contract_id,omitempty"`
	WorkflowID *string         `json:"workflow_id,omitempty"`
	FlowID     *string         `json:"flow_id,omitempty"`
	CausedBy   *string         `json:"caused_by,omitempty"`
	Signature  string          `json:"signature"`
	Status     string          `json:"status,omitempty"`
	TenantID   *string         `json:"tenant_id,omitempty"`
	OrgID      *string         `json:"organization_id,omitempty"`
	UserID     *string         `json:"user_id,omitempty"`
	SpanType   string          `json:"span_type,omitempty"`
	Visibility string          `json:"visibility,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	DeltaS     float64         `json:"delta_s,omitempty"`
}

func (s *Service) createSpanHandler(w http.ResponseWriter, r *http.Request) {
	var req createSpanRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	span, err := s.Append(r.Context(), AppendInput{
		LogLineID:  req.LogLineID,
		Author:     req.Author,
		Title:      req.Title,
		Payload:    req.Payload,
		ContractID: req.ContractID,
		WorkflowID: req.WorkflowID,
		FlowID:     req.FlowID,
		CausedBy:   req.CausedBy,
		Signature:  req.Signature,
		Status:     Status(req.Status),
		TenantID:   req.TenantID,
		OrgID:      req.OrgID,
		UserID:     req.UserID,
		SpanType:   SpanType(req.SpanType),
		Visibility: Visibility(req.Visibility),
		Metadata:   req.Metadata,
		DeltaS:     req.DeltaS,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, map[string]string{"id": span.ID})
}

func (s *Service) getSpanHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	span, err := s.Get(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, span)
}

func (s *Service) replaySpanHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	span, err := s.Replay(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, span)
}

func (s *Service) querySpansHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	spans, err := s.Query(r.Context(), Query{
		TenantID:   q.Get("tenant_id"),
		ContractID: q.Get("contract_id"),
		Author:     q.Get("author"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, spans)
}

func (s *Service) tenantTimelineHandler(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	spans, err := s.TenantTimeline(r.Context(), tenant, q.Get("user_id"), limit, offset)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, spans)
}

func (s *Service) tenantStatsHandler(w http.ResponseWriter, r *http.Request) {
	tenant := mux.Vars(r)["tenant"]
	stats, err := s.Stats(r.Context(), tenant)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch err.(type) {
	case ErrNotFound:
		httputil.NotFound(w, err.Error())
	case ErrCausedByMissing:
		httputil.NotFound(w, err.Error())
	case ErrTenantInactive:
		httputil.Forbidden(w, err.Error())
	default:
		httputil.InternalError(w, err.Error())
	}
}

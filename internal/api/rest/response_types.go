package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/rules"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/scoring"
)

// ResponseEnvelope wraps all API responses
type ResponseEnvelope struct {
	Success bool           `json:"success"`
	Data    any            `json:"data,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
	Meta    ResponseMeta   `json:"meta"`
}

type ResponseMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// ErrorResponse provides detailed error information
type ErrorResponse struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Retryable bool           `json:"retryable,omitempty"`
}

// EvaluationResponse is the rule and scoring outcome for one case.
type EvaluationResponse struct {
	CaseID        string            `json:"case_id"`
	EvidenceCount int               `json:"evidence_count"`
	Evaluation    *rules.Evaluation `json:"rule_results"`
	Scores        scoring.Scores    `json:"fraud_scores"`
}

// IntegrityResponse reports a claim hash re-verification.
type IntegrityResponse struct {
	ClaimID string `json:"claim_id"`
	Valid   bool   `json:"valid"`
	Error   string `json:"error,omitempty"`
}

type TrailResponse struct {
	CaseID string         `json:"case_id"`
	Count  int            `json:"count"`
	Events []*audit.Event `json:"events"`
}

type ClaimListResponse struct {
	CaseID string          `json:"case_id,omitempty"`
	Count  int             `json:"count"`
	Claims []*claim.Object `json:"claims"`
}

type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Checks  map[string]string `json:"checks"`
}

func (s *Server) meta(r *http.Request) ResponseMeta {
	return ResponseMeta{
		RequestID: middleware.GetReqID(r.Context()),
		Timestamp: s.now().UTC(),
		Version:   s.cfg.Version,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	s.write(w, status, ResponseEnvelope{Success: true, Data: data, Meta: s.meta(r)})
}

func (s *Server) write(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

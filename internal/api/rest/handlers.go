package rest

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/evidence"
	auditsvc "github.com/davidleathers/sar-claim-pipeline/internal/service/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/claimgen"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/omega"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/pipeline"
)

// POST /v1/rules/evaluate
func (s *Server) evaluateRules(w http.ResponseWriter, r *http.Request) {
	var raw evidence.RawCase
	if err := readJSON(r, &raw); err != nil {
		s.writeError(w, r, err)
		return
	}

	data, err := s.deps.Normalizer.Normalize(raw)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	start := time.Now()
	eval, err := s.deps.Engine.Evaluate(data)
	if err != nil {
		s.deps.Metrics.RecordRuleEvaluation(r.Context(), sinceMillis(start), nil, false)
		s.writeError(w, r, err)
		return
	}
	var fired []string
	for _, res := range eval.Fired() {
		fired = append(fired, res.RuleName)
	}
	s.deps.Metrics.RecordRuleEvaluation(r.Context(), sinceMillis(start), fired, true)

	s.writeJSON(w, r, http.StatusOK, EvaluationResponse{
		CaseID:        data.CaseID,
		EvidenceCount: len(data.EvidenceObjects),
		Evaluation:    eval,
		Scores:        s.deps.Scorer.Score(data, eval),
	})
}

// POST /v1/claims generates, seals and stores a claim from prepared inputs.
func (s *Server) createClaim(w http.ResponseWriter, r *http.Request) {
	var in claimgen.Input
	if err := readJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}

	start := time.Now()
	obj, err := s.deps.Generator.Generate(in)
	if err != nil {
		s.deps.Metrics.RecordClaimFailed(r.Context(), errors.CodeOf(err))
		s.writeError(w, r, err)
		return
	}
	s.deps.Metrics.RecordClaimGenerated(r.Context(), sinceMillis(start),
		string(obj.RiskAssessment.SeverityBand), string(obj.Environment))

	if err := s.deps.Claims.Save(r.Context(), obj); err != nil {
		s.writeError(w, r, err)
		return
	}

	user := in.UserID
	if user == "" {
		user = claimgen.SystemUser
	}
	_, err = s.deps.Trail.Log(r.Context(), auditsvc.Entry{
		CaseID: obj.CaseID,
		Type:   audit.EventClaimGenerated,
		UserID: user,
		Data: map[string]any{
			"claim_id":        obj.ClaimID,
			"severity_band":   string(obj.RiskAssessment.SeverityBand),
			"full_chain_hash": obj.IntegrityHashes.FullChainHash,
		},
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/v1/claims/"+obj.ClaimID)
	s.writeJSON(w, r, http.StatusCreated, obj)
}

// GET /v1/claims
func (s *Server) searchClaims(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	found, err := s.deps.Claims.Search(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, ClaimListResponse{Count: len(found), Claims: found})
}

// GET /v1/claims/{id}
func (s *Server) getClaim(w http.ResponseWriter, r *http.Request) {
	obj, err := s.deps.Claims.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, obj)
}

// GET /v1/claims/{id}/verify re-derives the stored hashes. A mismatch is
// reported in the body, not as a request failure.
func (s *Server) verifyClaim(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.deps.Claims.VerifyIntegrity(r.Context(), id, actor(r))
	switch {
	case err == nil:
		s.writeJSON(w, r, http.StatusOK, IntegrityResponse{ClaimID: id, Valid: true})
	case errors.IsType(err, errors.ErrorTypeIntegrity):
		s.writeJSON(w, r, http.StatusOK, IntegrityResponse{ClaimID: id, Valid: false, Error: err.Error()})
	default:
		s.writeError(w, r, err)
	}
}

// GET /v1/claims/{id}/history
func (s *Server) claimHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := s.deps.Claims.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, hist)
}

// POST /v1/claims/{id}/status
func (s *Server) changeClaimStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusChangeRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	change, err := s.deps.Claims.ChangeStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.ChangedBy, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, change)
}

// GET /v1/cases/{case}/claims
func (s *Server) caseClaims(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "case")
	found, err := s.deps.Claims.ListByCase(r.Context(), caseID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, ClaimListResponse{CaseID: caseID, Count: len(found), Claims: found})
}

// POST /v1/filings validates a stored claim and its narrative and records
// the filing.
func (s *Server) createFiling(w http.ResponseWriter, r *http.Request) {
	var req FilingRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	obj, err := s.deps.Claims.Get(r.Context(), req.ClaimID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	outcome, err := s.deps.Filings.Finalize(r.Context(), omega.Request{
		Claim:        obj,
		Narrative:    req.Narrative,
		FilingNumber: req.FilingNumber,
		CreatedBy:    req.CreatedBy,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/filings/"+outcome.FilingID)
	s.writeJSON(w, r, http.StatusCreated, outcome)
}

// GET /v1/filings/{number}
func (s *Server) getFiling(w http.ResponseWriter, r *http.Request) {
	f, err := s.deps.Filings.Get(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, f)
}

// GET /v1/filings/{number}/history
func (s *Server) filingHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := s.deps.Filings.History(r.Context(), chi.URLParam(r, "number"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, hist)
}

// POST /v1/filings/{number}/submit
func (s *Server) submitFiling(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	change, err := s.deps.Filings.Submit(r.Context(), chi.URLParam(r, "number"), req.SubmittedBy)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, change)
}

// GET /v1/cases/{case}/filings
func (s *Server) caseFilings(w http.ResponseWriter, r *http.Request) {
	list, err := s.deps.Filings.ListByCase(r.Context(), chi.URLParam(r, "case"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, list)
}

// POST /v1/cases runs the full pipeline for one case.
func (s *Server) processCase(w http.ResponseWriter, r *http.Request) {
	var req pipeline.CaseRequest
	if err := readJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.deps.Pipeline.ProcessCase(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusCreated, res)
}

// GET /v1/cases/{case}/trail
func (s *Server) caseTrail(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "case")
	events, err := s.deps.Trail.GetTrail(r.Context(), caseID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, TrailResponse{CaseID: caseID, Count: len(events), Events: events})
}

// GET /v1/cases/{case}/trail/reconstruct?fragment=
func (s *Server) reconstructTrail(w http.ResponseWriter, r *http.Request) {
	fragment := r.URL.Query().Get("fragment")
	if fragment == "" {
		s.writeError(w, r, errors.NewFieldError("MISSING_FRAGMENT", "fragment", "a narrative fragment is required"))
		return
	}
	rec, err := s.deps.Trail.Reconstruct(r.Context(), chi.URLParam(r, "case"), fragment)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, rec)
}

// GET /v1/cases/{case}/trail/verify
func (s *Server) verifyTrail(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Trail.VerifyChain(r.Context(), chi.URLParam(r, "case"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

// POST /v1/cases/{case}/archives
func (s *Server) archiveCase(w http.ResponseWriter, r *http.Request) {
	caseID := chi.URLParam(r, "case")
	m, err := s.deps.Archiver.ArchiveCase(r.Context(), caseID, actor(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/cases/"+caseID+"/archives/"+m.ArchiveID+"/verify")
	s.writeJSON(w, r, http.StatusCreated, m)
}

// GET /v1/cases/{case}/archives/{archive}/verify
func (s *Server) verifyArchive(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.Archiver.VerifyArchive(r.Context(), chi.URLParam(r, "case"), chi.URLParam(r, "archive"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, r, http.StatusOK, result)
}

func sinceMillis(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

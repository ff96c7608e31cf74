package rest

import (
	"encoding/json"
	stderrors "errors"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/validation"
)

// StatusChangeRequest moves a claim along its review workflow.
type StatusChangeRequest struct {
	Status    claim.Status `json:"status" validate:"required,oneof=draft analyst_review approved filed rejected"`
	ChangedBy string       `json:"changed_by" validate:"required"`
	Reason    string       `json:"reason,omitempty" validate:"max=1000"`
}

// FilingRequest finalizes a stored claim with its narrative.
type FilingRequest struct {
	ClaimID      string `json:"claim_id" validate:"required"`
	Narrative    string `json:"narrative"`
	FilingNumber string `json:"filing_number,omitempty" validate:"omitempty,max=64"`
	CreatedBy    string `json:"created_by,omitempty"`
}

type SubmitRequest struct {
	SubmittedBy string `json:"submitted_by" validate:"required"`
}

// decode reads a JSON body into v and validates its struct tags.
func (s *Server) decode(r *http.Request, v any) error {
	if err := readJSON(r, v); err != nil {
		return err
	}
	return validation.Struct(s.validate, "INVALID_REQUEST", v)
}

// readJSON decodes without validation, for bodies the services validate
// themselves.
func readJSON(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	switch {
	case stderrors.Is(err, io.EOF):
		return errors.NewValidationError("EMPTY_BODY", "request body is required")
	case stderrors.Is(err, io.ErrUnexpectedEOF):
		return errors.NewValidationError("INVALID_JSON", "request body ends before the JSON value is complete")
	}
	return err
}

// parseFilter reads a claim search filter from query parameters.
func parseFilter(q url.Values) (claim.Filter, error) {
	f := claim.Filter{
		Status:       claim.Status(q.Get("status")),
		Environment:  claim.Environment(q.Get("environment")),
		Severity:     claim.Severity(q.Get("severity")),
		Jurisdiction: q.Get("jurisdiction"),
	}

	if v := q.Get("min_risk"); v != "" {
		risk, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, errors.NewFieldError("INVALID_FILTER", "min_risk", "min_risk must be a number")
		}
		f.MinRisk = &risk
	}
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &f.Limit}, {"offset", &f.Offset}} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, errors.NewFieldError("INVALID_FILTER", p.name, p.name+" must be an integer")
		}
		*p.dst = n
	}
	return f, nil
}

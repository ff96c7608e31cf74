// Package filing models the Final Filing: the insert-only regulatory exhibit
// that binds a claim, its narrative and the readiness checklist outcome.
package filing

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
)

type Status string

const (
	StatusPending          Status = "pending"
	StatusReady            Status = "ready"
	StatusValidationFailed Status = "validation_failed"
	StatusSubmitted        Status = "submitted"
)

var transitions = map[Status][]Status{
	StatusPending: {StatusReady, StatusValidationFailed},
	StatusReady:   {StatusSubmitted},
}

func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Check is one line of the readiness checklist.
type Check struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Passed      bool   `json:"passed"`
	Error       string `json:"error,omitempty"`
}

// Filing is a stored regulatory filing. The payload fields are written once.
type Filing struct {
	FilingNumber      string       `json:"filing_number"`
	CaseID            string       `json:"case_id"`
	ClaimID           string       `json:"claim_id"`
	Sequence          int          `json:"sequence"`
	Claim             claim.Object `json:"claim_object"`
	Narrative         string       `json:"narrative"`
	RegulatoryReady   bool         `json:"regulatory_ready"`
	ValidationResults []Check      `json:"validation_results"`
	Status            Status       `json:"status"`
	CreatedBy         string       `json:"created_by"`
	CreatedAt         time.Time    `json:"created_at"`
}

// New builds a filing in pending state and resolves it from the checklist
// outcome.
func New(number string, sequence int, obj claim.Object, narrative string, ready bool, checks []Check, createdBy string, at time.Time) (*Filing, error) {
	if number == "" {
		return nil, errors.NewFieldError("MISSING_FILING_NUMBER", "filing_number", "filing number is required")
	}
	if createdBy == "" {
		return nil, errors.NewFieldError("ACTOR_REQUIRED", "created_by", "filings require a creator")
	}

	f := &Filing{
		FilingNumber:      number,
		CaseID:            obj.CaseID,
		ClaimID:           obj.ClaimID,
		Sequence:          sequence,
		Claim:             obj,
		Narrative:         narrative,
		RegulatoryReady:   ready,
		ValidationResults: checks,
		Status:            StatusPending,
		CreatedBy:         createdBy,
		CreatedAt:         at.UTC(),
	}
	if ready {
		f.Status = StatusReady
	} else {
		f.Status = StatusValidationFailed
	}
	return f, nil
}

// StatusChange is one row of a filing's status history.
type StatusChange struct {
	FilingNumber string    `json:"filing_number"`
	FromStatus   Status    `json:"from_status"`
	ToStatus     Status    `json:"to_status"`
	ChangedBy    string    `json:"changed_by"`
	ChangedAt    time.Time `json:"changed_at"`
}

func NewStatusChange(number string, from, to Status, actor string, at time.Time) (*StatusChange, error) {
	if actor == "" {
		return nil, errors.NewFieldError("ACTOR_REQUIRED", "changed_by", "status changes require an actor")
	}
	if !CanTransition(from, to) {
		return nil, errors.NewInvalidTransitionError(string(from), string(to))
	}
	return &StatusChange{
		FilingNumber: number,
		FromStatus:   from,
		ToStatus:     to,
		ChangedBy:    actor,
		ChangedAt:    at.UTC(),
	}, nil
}

// Number formats a filing number as PREFIX-JURISDICTION-YYYY-CASE8-NN.
// CASE8 is the first eight alphanumerics of the case id, upper-cased and
// right-padded with zeros.
func Number(prefix, jurisdiction string, created time.Time, caseID string, sequence int) string {
	var b strings.Builder
	for _, r := range caseID {
		if b.Len() == 8 {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}
	case8 := b.String() + strings.Repeat("0", 8-b.Len())

	return fmt.Sprintf("%s-%s-%04d-%s-%02d",
		strings.ToUpper(prefix), strings.ToUpper(jurisdiction), created.UTC().Year(), case8, sequence)
}

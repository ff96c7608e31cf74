// Package omega runs the regulatory readiness checklist over a claim and its
// narrative, and stores the outcome as an insert-only Final Filing.
package omega

import (
	"fmt"
	"strings"
	"time"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/filing"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/hashchain"
)

// TotalChecks is the fixed size of the checklist.
const TotalChecks = 10

// Check names, in evaluation order.
const (
	CheckClaimObjectValid      = "claim_object_valid"
	CheckNarrativeNotEmpty     = "narrative_not_empty"
	CheckNarrativeMinLength    = "narrative_minimum_length"
	CheckCaseIDPresent         = "case_id_present"
	CheckAlertIDsPresent       = "alert_ids_present"
	CheckSubjectComplete       = "subject_complete"
	CheckRiskAssessmentPresent = "risk_assessment_present"
	CheckPatternsDocumented    = "patterns_documented"
	CheckEvidencePresent       = "evidence_present"
	CheckIntegrityHashesValid  = "integrity_hashes_valid"
)

type Config struct {
	MinChecksPass      int
	MinNarrativeLength int
	FilingPrefix       string
}

func DefaultConfig() Config {
	return Config{
		MinChecksPass:      TotalChecks,
		MinNarrativeLength: 500,
		FilingPrefix:       "SAR",
	}
}

// Result is the full checklist outcome. A failed checklist is data, not an
// error.
type Result struct {
	Checks        []filing.Check `json:"checks"`
	OverallPassed bool           `json:"overall_passed"`
	TotalChecks   int            `json:"total_checks"`
	PassedChecks  int            `json:"passed_checks"`
	FailedChecks  int            `json:"failed_checks"`
	Errors        []string       `json:"errors"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Validator evaluates the checklist. It holds no per-call state.
type Validator struct {
	cfg Config
	now func() time.Time
}

func NewValidator(cfg Config, now func() time.Time) *Validator {
	def := DefaultConfig()
	if cfg.MinChecksPass <= 0 || cfg.MinChecksPass > TotalChecks {
		cfg.MinChecksPass = def.MinChecksPass
	}
	if cfg.MinNarrativeLength <= 0 {
		cfg.MinNarrativeLength = def.MinNarrativeLength
	}
	if cfg.FilingPrefix == "" {
		cfg.FilingPrefix = def.FilingPrefix
	}
	if now == nil {
		now = time.Now
	}
	return &Validator{cfg: cfg, now: now}
}

// Validate runs all ten checks. No check short-circuits another.
func (v *Validator) Validate(obj *claim.Object, narrative string) Result {
	if obj == nil {
		obj = &claim.Object{}
	}

	checks := []filing.Check{
		v.claimValid(obj),
		result(CheckNarrativeNotEmpty, "SAR narrative is not empty",
			strings.TrimSpace(narrative) != "", "Narrative is empty or whitespace only"),
		v.narrativeLength(narrative),
		result(CheckCaseIDPresent, "Case ID is present",
			obj.CaseID != "", "Case ID is missing"),
		result(CheckAlertIDsPresent, "At least one alert ID is present",
			hasNonEmpty(obj.AlertIDs), "No alert IDs found"),
		result(CheckSubjectComplete, "Subject (customer) information is complete",
			obj.Subject.Customer.CustomerID != "", "Subject information is incomplete"),
		result(CheckRiskAssessmentPresent, "Risk assessment is present with at least one typology",
			obj.RiskAssessment.SeverityBand != "" && len(obj.RiskAssessment.Typologies) > 0,
			"Risk assessment is missing or names no typology"),
		result(CheckPatternsDocumented, "Suspicious patterns are documented",
			len(obj.SuspiciousPatterns) > 0, "No suspicious patterns documented"),
		result(CheckEvidencePresent, "Evidence set is present",
			len(obj.EvidenceSet) > 0, "No evidence items found"),
		result(CheckIntegrityHashesValid, "Integrity hashes are present and valid",
			hashesPresent(obj.IntegrityHashes), "Integrity hashes are missing or invalid"),
	}

	r := Result{
		Checks:      checks,
		TotalChecks: len(checks),
		Errors:      []string{},
		Timestamp:   v.now().UTC(),
	}
	for _, c := range checks {
		if c.Passed {
			r.PassedChecks++
			continue
		}
		r.FailedChecks++
		if c.Error != "" {
			r.Errors = append(r.Errors, c.Error)
		}
	}
	r.OverallPassed = r.PassedChecks >= v.cfg.MinChecksPass
	return r
}

func (v *Validator) claimValid(obj *claim.Object) filing.Check {
	c := filing.Check{Name: CheckClaimObjectValid, Description: "ClaimObject structure is valid", Passed: true}
	if err := claim.Validate(obj); err != nil {
		c.Passed = false
		c.Error = err.Error()
	}
	return c
}

func (v *Validator) narrativeLength(narrative string) filing.Check {
	n := len([]rune(narrative))
	return result(CheckNarrativeMinLength,
		fmt.Sprintf("Narrative meets minimum length (%d chars)", v.cfg.MinNarrativeLength),
		n >= v.cfg.MinNarrativeLength,
		fmt.Sprintf("Narrative too short: %d < %d", n, v.cfg.MinNarrativeLength))
}

func result(name, description string, passed bool, failure string) filing.Check {
	c := filing.Check{Name: name, Description: description, Passed: passed}
	if !passed {
		c.Error = failure
	}
	return c
}

func hasNonEmpty(ids []string) bool {
	for _, id := range ids {
		if id != "" {
			return true
		}
	}
	return false
}

func hashesPresent(h claim.IntegrityHashes) bool {
	return h.InputHash != "" && h.FullChainHash != "" && hashchain.IsHexDigest(h.OutputHash)
}

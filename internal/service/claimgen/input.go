package claimgen

import (
	"fmt"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/evidence"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/rules"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/scoring"
)

// Input error codes
const (
	CodeMissingCaseID   = "MISSING_CASE_ID"
	CodeMissingAlerts   = "MISSING_ALERT_IDS"
	CodeMissingCustomer = "MISSING_CUSTOMER_FIELD"
	CodeMissingRules    = "MISSING_RULE_RESULTS"
)

// CustomerData is the subject record. KYC and Accounts are pointers/slices so
// that "absent" is distinguishable from "empty".
type CustomerData struct {
	CustomerID        string             `json:"customer_id"`
	Name              string             `json:"name,omitempty"`
	PAN               string             `json:"pan,omitempty"`
	RiskRating        string             `json:"risk_rating,omitempty"`
	Segment           string             `json:"segment,omitempty"`
	OnboardingDate    string             `json:"onboarding_date,omitempty"`
	BehavioralSegment string             `json:"behavioral_segment,omitempty"`
	KYC               *evidence.KYC      `json:"kyc"`
	Accounts          []evidence.Account `json:"accounts"`
}

// CustomerFromCase lifts the subject record out of normalized data.
func CustomerFromCase(data *evidence.NormalizedData) CustomerData {
	kyc := data.KYC
	accounts := data.Accounts
	if accounts == nil {
		accounts = []evidence.Account{}
	}
	return CustomerData{
		CustomerID:     data.Customer.CustomerID,
		Name:           data.Customer.Name,
		PAN:            data.Customer.PAN,
		RiskRating:     data.Customer.RiskRating,
		Segment:        data.Customer.Segment,
		OnboardingDate: data.Customer.OnboardingDate,
		KYC:            &kyc,
		Accounts:       accounts,
	}
}

// Snippet is one ranked retrieval hit.
type Snippet struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
	Distance float64        `json:"distance"`
}

// Similarity maps a vector distance onto [0,1].
func (s Snippet) Similarity() float64 {
	return clamp01(1 - s.Distance)
}

func (s Snippet) meta(key string) string {
	if v, ok := s.Metadata[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// Retrieval holds ranked hits per source category.
type Retrieval struct {
	Guidelines []Snippet `json:"guidelines"`
	Templates  []Snippet `json:"templates"`
	PriorSARs  []Snippet `json:"prior_sars"`
	TopK       int       `json:"top_k"`
}

// Categories returns the hits keyed by category name.
func (r Retrieval) Categories() map[string][]Snippet {
	return map[string][]Snippet{
		"guidelines": r.Guidelines,
		"templates":  r.Templates,
		"prior_sars": r.PriorSARs,
	}
}

// Total counts every hit across categories.
func (r Retrieval) Total() int {
	return len(r.Guidelines) + len(r.Templates) + len(r.PriorSARs)
}

// Generation is the narrative collaborator's trace metadata, when known.
type Generation struct {
	Model        string   `json:"model,omitempty"`
	Prompt       string   `json:"prompt,omitempty"`
	Reasoning    []string `json:"reasoning,omitempty"`
	InputTokens  int      `json:"input_tokens"`
	OutputTokens int      `json:"output_tokens"`
	Temperature  *float64 `json:"temperature,omitempty"`
}

// Security overrides the PII figures derived from customer data.
type Security struct {
	PIIDetected   int      `json:"pii_detected"`
	PIIRedacted   int      `json:"pii_redacted"`
	RedactionMask []string `json:"redaction_mask"`
	BiasFlags     []string `json:"bias_flags"`
}

// Input is everything claim generation consumes for one case.
type Input struct {
	CaseID             string                    `json:"case_id"`
	AlertIDs           []string                  `json:"alert_ids"`
	UserID             string                    `json:"user_id"`
	Customer           CustomerData              `json:"customer_data"`
	Transactions       []evidence.Transaction    `json:"transactions"`
	PipelineTransforms []claim.PipelineTransform `json:"pipeline_transforms"`
	Evaluation         *rules.Evaluation         `json:"rule_results"`
	FraudScores        scoring.Scores            `json:"fraud_scores"`
	Retrieval          Retrieval                 `json:"rag_results"`
	Jurisdiction       []string                  `json:"jurisdiction,omitempty"`
	Environment        claim.Environment         `json:"environment,omitempty"`
	Generation         *Generation               `json:"generation,omitempty"`
	Security           *Security                 `json:"security,omitempty"`
}

// Validate checks the boundary preconditions. Nothing is hashed before it
// passes.
func (in *Input) Validate() error {
	if in.CaseID == "" {
		return errors.NewFieldError(CodeMissingCaseID, "case_id", "case_id is required and cannot be empty")
	}
	if len(in.AlertIDs) == 0 {
		return errors.NewFieldError(CodeMissingAlerts, "alert_ids", "at least one alert_id is required")
	}
	for _, id := range in.AlertIDs {
		if id == "" {
			return errors.NewFieldError(CodeMissingAlerts, "alert_ids", "alert_ids cannot contain empty values")
		}
	}

	switch {
	case in.Customer.CustomerID == "":
		return missingCustomerField("customer_id")
	case in.Customer.KYC == nil:
		return missingCustomerField("kyc")
	case in.Customer.Accounts == nil:
		return missingCustomerField("accounts")
	}

	if in.Evaluation == nil {
		return errors.NewFieldError(CodeMissingRules, "rule_results", "rule_results are required")
	}
	return nil
}

func missingCustomerField(field string) error {
	return errors.NewFieldError(CodeMissingCustomer, "customer_data."+field,
		"customer_data missing required field: "+field)
}

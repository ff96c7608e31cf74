package rules

import (
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/evidence"
)

// Result is the outcome of one check. It is never mutated after creation.
type Result struct {
	RuleName         string            `json:"rule_name"`
	Triggered        bool              `json:"triggered"`
	Confidence       float64           `json:"confidence"`
	RiskContribution float64           `json:"risk_contribution"`
	Typology         string            `json:"typology,omitempty"`
	Evidence         []string          `json:"evidence"`
	EvidenceRefs     []string          `json:"evidence_refs"`
	Reasoning        string            `json:"reasoning"`
	Thresholds       map[string]string `json:"thresholds"`
}

// KYCFlags summarise the customer risk markers.
type KYCFlags struct {
	PEP        bool   `json:"pep"`
	Sanctions  bool   `json:"sanctions"`
	RiskRating string `json:"risk_rating"`
}

// EvidenceSummary ties a triggered rule to what it observed.
type EvidenceSummary struct {
	Rule      string   `json:"rule"`
	Evidence  []string `json:"evidence"`
	Reasoning string   `json:"reasoning"`
}

// ClaimSeed is the detection output handed to claim generation.
type ClaimSeed struct {
	CustomerID      string              `json:"customer_id"`
	Typologies      []string            `json:"typologies"`
	TriggeredRules  []string            `json:"triggered_rules"`
	RiskScore       float64             `json:"risk_score"`
	ConfidenceScore float64             `json:"confidence_score"`
	EvidenceSummary []EvidenceSummary   `json:"evidence_summary"`
	EvidenceObjects []evidence.Item     `json:"evidence_objects"`
	Aggregates      evidence.Aggregates `json:"aggregates"`
	KYCFlags        KYCFlags            `json:"kyc_flags"`
}

// RuleDetail is the per-rule line of the reasoning artifact.
type RuleDetail struct {
	RuleName  string `json:"rule_name"`
	Triggered bool   `json:"triggered"`
	Reasoning string `json:"reasoning"`
}

// ReasoningArtifact explains how the composite scores were reached.
type ReasoningArtifact struct {
	EngineVersion       string            `json:"engine_version"`
	RulesEvaluated      int               `json:"rules_evaluated"`
	RulesTriggered      int               `json:"rules_triggered"`
	RuleDetails         []RuleDetail      `json:"rule_details"`
	CompositeRiskScore  float64           `json:"composite_risk_score"`
	CompositeConfidence float64           `json:"composite_confidence"`
	TypologiesDetected  []string          `json:"typologies_detected"`
	ThresholdsUsed      map[string]string `json:"thresholds_used"`
}

// Evaluation is the complete engine output for one case.
type Evaluation struct {
	TriggeredRules    []Result          `json:"triggered_rules"`
	ClaimSeed         ClaimSeed         `json:"claim_object"`
	RiskScore         float64           `json:"risk_score"`
	ConfidenceScore   float64           `json:"confidence_score"`
	Typologies        []string          `json:"typologies"`
	ReasoningArtifact ReasoningArtifact `json:"reasoning_artifact"`
}

// Fired returns only the results that triggered, in evaluation order.
func (e *Evaluation) Fired() []Result {
	fired := make([]Result, 0, len(e.TriggeredRules))
	for _, r := range e.TriggeredRules {
		if r.Triggered {
			fired = append(fired, r)
		}
	}
	return fired
}

// Result looks up a rule by name.
func (e *Evaluation) Result(name string) (Result, bool) {
	for _, r := range e.TriggeredRules {
		if r.RuleName == name {
			return r, true
		}
	}
	return Result{}, false
}

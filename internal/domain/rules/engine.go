package rules

import (
	"math"

	"github.com/go-playground/validator/v10"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/evidence"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/validation"
)

// Engine runs the fixed rule set. It is a pure function of its input.
type Engine struct {
	thresholds Thresholds
	checks     []namedCheck
	validate   *validator.Validate
}

// NewEngine creates an engine over the given thresholds.
func NewEngine(thresholds Thresholds) *Engine {
	return &Engine{
		thresholds: thresholds,
		checks:     defaultChecks,
		validate:   validation.New(),
	}
}

// Thresholds returns the cutoffs this engine evaluates against.
func (e *Engine) Thresholds() Thresholds {
	return e.thresholds
}

// RuleNames lists the rules in evaluation order.
func (e *Engine) RuleNames() []string {
	names := make([]string, 0, len(e.checks))
	for _, c := range e.checks {
		names = append(names, c.name)
	}
	return names
}

// Evaluate runs every check against data. Malformed input fails the whole
// evaluation; there is no partial scoring.
func (e *Engine) Evaluate(data *evidence.NormalizedData) (*Evaluation, error) {
	if data == nil {
		return nil, errors.NewValidationError("MISSING_NORMALIZED_DATA", "normalized data is required")
	}
	if err := validation.Struct(e.validate, "INVALID_NORMALIZED_DATA", data); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(e.checks))
	for _, c := range e.checks {
		results = append(results, c.check(data, e.thresholds))
	}

	var fired []Result
	for _, r := range results {
		if r.Triggered {
			fired = append(fired, r)
		}
	}

	typologies := uniqueTypologies(fired)
	risk := compositeRisk(fired, data.KYC)
	confidence := compositeConfidence(fired)

	details := make([]RuleDetail, 0, len(results))
	for _, r := range results {
		details = append(details, RuleDetail{RuleName: r.RuleName, Triggered: r.Triggered, Reasoning: r.Reasoning})
	}

	return &Evaluation{
		TriggeredRules:  results,
		ClaimSeed:       buildSeed(data, fired, typologies, risk, confidence),
		RiskScore:       risk,
		ConfidenceScore: confidence,
		Typologies:      typologies,
		ReasoningArtifact: ReasoningArtifact{
			EngineVersion:       EngineVersion,
			RulesEvaluated:      len(results),
			RulesTriggered:      len(fired),
			RuleDetails:         details,
			CompositeRiskScore:  risk,
			CompositeConfidence: confidence,
			TypologiesDetected:  typologies,
			ThresholdsUsed:      e.thresholds.Snapshot(),
		},
	}, nil
}

// compositeRisk sums contributions and boosts, clamped to MaxRiskScore.
func compositeRisk(fired []Result, kyc evidence.KYC) float64 {
	if len(fired) == 0 {
		return BaselineRiskScore
	}

	score := 0.0
	for _, r := range fired {
		score += r.RiskContribution
	}
	if kyc.SanctionsMatch {
		score += SanctionsBoost
	}
	if kyc.PEP {
		score += PEPBoost
	}

	return math.Min(round(score), MaxRiskScore)
}

// compositeConfidence is the mean confidence of fired rules, 0 when none fired.
func compositeConfidence(fired []Result) float64 {
	if len(fired) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range fired {
		sum += r.Confidence
	}
	return round(sum / float64(len(fired)))
}

// uniqueTypologies keeps the first occurrence of each label.
func uniqueTypologies(fired []Result) []string {
	seen := make(map[string]struct{}, len(fired))
	out := make([]string, 0, len(fired))
	for _, r := range fired {
		if r.Typology == "" {
			continue
		}
		if _, ok := seen[r.Typology]; ok {
			continue
		}
		seen[r.Typology] = struct{}{}
		out = append(out, r.Typology)
	}
	return out
}

func buildSeed(data *evidence.NormalizedData, fired []Result, typologies []string, risk, confidence float64) ClaimSeed {
	names := make([]string, 0, len(fired))
	summary := make([]EvidenceSummary, 0, len(fired))
	for _, r := range fired {
		names = append(names, r.RuleName)
		summary = append(summary, EvidenceSummary{Rule: r.RuleName, Evidence: r.Evidence, Reasoning: r.Reasoning})
	}

	rating := data.Customer.RiskRating
	if rating == "" {
		rating = "unknown"
	}

	return ClaimSeed{
		CustomerID:      data.Customer.CustomerID,
		Typologies:      typologies,
		TriggeredRules:  names,
		RiskScore:       risk,
		ConfidenceScore: confidence,
		EvidenceSummary: summary,
		EvidenceObjects: append([]evidence.Item(nil), data.EvidenceObjects...),
		Aggregates:      data.Aggregates,
		KYCFlags: KYCFlags{
			PEP:        data.KYC.PEP,
			Sanctions:  data.KYC.SanctionsMatch,
			RiskRating: rating,
		},
	}
}

func round(v float64) float64 {
	p := math.Pow(10, scorePrecision)
	return math.Round(v*p) / p
}

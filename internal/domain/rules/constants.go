package rules

// EngineVersion is reported in every reasoning artifact.
const EngineVersion = "1.0.0"

// Rule names, in evaluation order.
const (
	RuleThreshold                = "threshold_check"
	RuleVelocity                 = "velocity_check"
	RuleJurisdiction             = "jurisdiction_check"
	RuleStructuring              = "structuring_check"
	RuleLayering                 = "layering_check"
	RuleRapidInternational       = "rapid_international_movement"
	RuleProfessionalFacilitation = "professional_facilitation"
	RulePredicateOffence         = "predicate_offence_indicators"
)

// Typology labels
const (
	TypologyHighValue                = "high_value_transaction"
	TypologyRapidMovement            = "rapid_movement"
	TypologyHighRiskJurisdiction     = "high_risk_jurisdiction"
	TypologyStructuring              = "structuring"
	TypologyLayering                 = "layering"
	TypologyRapidInternational       = "rapid_international_movement"
	TypologyProfessionalFacilitation = "professional_facilitation"
	TypologyPredicateOffences        = "predicate_offences"
)

// Composite score constants
const (
	// BaselineRiskScore applies when no rule triggers
	BaselineRiskScore = 0.05

	// MaxRiskScore caps the composite score
	MaxRiskScore = 1.0

	// SanctionsBoost is added when the customer matches a sanctions list
	SanctionsBoost = 0.15

	// PEPBoost is added for politically exposed persons
	PEPBoost = 0.05
)

// Per-rule confidence and risk contribution when triggered
const (
	ConfidenceThreshold      = 0.90
	ContributionThreshold    = 0.25
	ConfidenceVelocity       = 0.85
	ContributionVelocity     = 0.20
	ConfidenceJurisdiction   = 0.80
	ContributionJurisdiction = 0.20
	ConfidenceStructuring    = 0.90
	ContributionStructuring  = 0.25
	ConfidenceLayering       = 0.88
	ContributionLayering     = 0.30
	ConfidenceRapidIntl      = 0.85
	ContributionRapidIntl    = 0.20
	ConfidenceFacilitation   = 0.75
	ContributionFacilitation = 0.15

	ConfidencePredicateSanctions   = 0.95
	ContributionPredicateSanctions = 0.30
	ConfidencePredicate            = 0.70
	ContributionPredicate          = 0.15
)

// scorePrecision is the number of decimals kept in composite scores.
const scorePrecision = 4

// Package scoring is a fixed, weighted risk classifier over normalized case
// features. Weights are constants; nothing is trained.
package scoring

import (
	"math"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/evidence"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/rules"
)

// ModelName identifies the scorer in claim model_scores.
const ModelName = "weighted_risk_classifier"

// Risk categories
const (
	CategoryHigh   = "High"
	CategoryMedium = "Medium"
	CategoryLow    = "Low"
)

const (
	highCutoff   = 0.75
	mediumCutoff = 0.40
	// sigmoid steepness and midpoint
	steepness = 5.0
	midpoint  = 0.5
)

// FeatureNames in model order.
var FeatureNames = []string{
	"total_transactions",
	"total_credit",
	"unique_counterparties",
	"avg_transaction_amount",
	"max_transaction_amount",
	"date_range_days",
	"pep_flag",
	"sanctions_flag",
	"high_risk_kyc_flag",
	"intl_country_count",
	"rule_trigger_count",
}

var (
	weights = []float64{0.05, 0.15, 0.12, 0.08, 0.10, -0.05, 0.15, 0.20, 0.10, 0.10, 0.15}
	maxima  = []float64{200, 50e6, 100, 5e6, 50e6, 365, 1, 1, 1, 10, 8}
)

// Scores is the scorer output consumed as fraud_scores by claim generation.
type Scores struct {
	Model              string             `json:"model"`
	RawScore           float64            `json:"raw_score"`
	Confidence         float64            `json:"confidence"`
	Category           string             `json:"category"`
	Features           map[string]float64 `json:"features"`
	FeatureImportances map[string]float64 `json:"feature_importances"`
}

// Scorer holds no per-case state and is safe for concurrent use.
type Scorer struct {
	homeCountry string
}

func NewScorer(homeCountry string) *Scorer {
	if homeCountry == "" {
		homeCountry = evidence.DefaultHomeCountry
	}
	return &Scorer{homeCountry: homeCountry}
}

// Score classifies a case given its normalized data and rule evaluation.
func (s *Scorer) Score(data *evidence.NormalizedData, eval *rules.Evaluation) Scores {
	raw := s.features(data, eval)

	features := make(map[string]float64, len(FeatureNames))
	importances := make(map[string]float64, len(FeatureNames))
	dot := 0.0
	for i, name := range FeatureNames {
		norm := math.Min(raw[i]/maxima[i], 1)
		features[name] = round4(raw[i])
		importances[name] = round4(weights[i] * norm)
		dot += weights[i] * norm
	}

	confidence := round4(1 / (1 + math.Exp(-steepness*(dot-midpoint))))

	return Scores{
		Model:              ModelName,
		RawScore:           round4(dot),
		Confidence:         confidence,
		Category:           Categorize(confidence),
		Features:           features,
		FeatureImportances: importances,
	}
}

// Categorize buckets a confidence into High, Medium or Low.
func Categorize(confidence float64) string {
	switch {
	case confidence >= highCutoff:
		return CategoryHigh
	case confidence >= mediumCutoff:
		return CategoryMedium
	default:
		return CategoryLow
	}
}

func (s *Scorer) features(data *evidence.NormalizedData, eval *rules.Evaluation) []float64 {
	agg := data.Aggregates
	credit, _ := agg.TotalCredit.Float64()
	avg, _ := agg.AvgTransactionAmount.Float64()
	peak, _ := agg.MaxTransactionAmount.Float64()

	fired := 0
	if eval != nil {
		fired = len(eval.Fired())
	}

	return []float64{
		float64(agg.TotalTransactions),
		credit,
		float64(agg.UniqueCounterparties),
		avg,
		peak,
		float64(agg.DateRangeDays),
		flag(data.KYC.PEP),
		flag(data.KYC.SanctionsMatch),
		flag(data.Customer.RiskRating == "high"),
		float64(len(evidence.IntlCountries(data.Transactions, s.homeCountry))),
		float64(fired),
	}
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

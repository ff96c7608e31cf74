package rules

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/evidence"
)

var baseTime = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func txn(id string, amount int64, typ evidence.TxnType, country, counterparty string) evidence.Transaction {
	return evidence.Transaction{
		TransactionID:       id,
		Amount:              decimal.NewFromInt(amount),
		TxnType:             typ,
		Timestamp:           baseTime,
		CounterpartyAccount: counterparty,
		CounterpartyCountry: country,
	}
}

func normalize(t *testing.T, raw evidence.RawCase) *evidence.NormalizedData {
	t.Helper()
	data, err := evidence.NewNormalizer("IN", decimal.Zero).Normalize(raw)
	require.NoError(t, err)
	return data
}

func quietCase(txns ...evidence.Transaction) evidence.RawCase {
	return evidence.RawCase{
		CaseID: "CASE-1",
		Customer: evidence.Customer{
			CustomerID:   "CUST-1",
			AnnualIncome: decimal.NewFromInt(2_000_000),
			RiskRating:   "low",
		},
		Transactions: txns,
		Alerts:       []evidence.Alert{{AlertID: "AL-1", CreatedAt: baseTime}},
	}
}

func TestEvaluate_SingleThresholdBreach(t *testing.T) {
	engine := NewEngine(DefaultThresholds())
	data := normalize(t, quietCase(txn("T1", 1_200_000, evidence.TxnCredit, "IN", "CP-1")))

	eval, err := engine.Evaluate(data)
	require.NoError(t, err)

	threshold, ok := eval.Result(RuleThreshold)
	require.True(t, ok)
	assert.True(t, threshold.Triggered)
	assert.Equal(t, []string{"EV-HVT-T1"}, threshold.EvidenceRefs)

	assert.InDelta(t, 0.25, eval.RiskScore, 1e-9)
	assert.InDelta(t, 0.9, eval.ConfidenceScore, 1e-9)
	assert.Equal(t, []string{TypologyHighValue}, eval.Typologies)
	assert.Len(t, eval.Fired(), 1)
}

func TestEvaluate_Structuring(t *testing.T) {
	engine := NewEngine(DefaultThresholds())
	data := normalize(t, quietCase(
		txn("T1", 900_000, evidence.TxnCredit, "IN", "CP-1"),
		txn("T2", 950_000, evidence.TxnCredit, "IN", "CP-2"),
		txn("T3", 999_999, evidence.TxnCredit, "IN", "CP-3"),
		txn("T4", 920_500, evidence.TxnCredit, "IN", "CP-4"),
	))

	eval, err := engine.Evaluate(data)
	require.NoError(t, err)

	structuring, ok := eval.Result(RuleStructuring)
	require.True(t, ok)
	assert.True(t, structuring.Triggered)
	assert.Equal(t, TypologyStructuring, structuring.Typology)
	assert.Equal(t, []string{"4 transactions in 900000-999999 band"}, structuring.Evidence)
	assert.Contains(t, eval.Typologies, TypologyStructuring)
}

func TestEvaluate_StructuringBandEdges(t *testing.T) {
	engine := NewEngine(DefaultThresholds())
	data := normalize(t, quietCase(
		txn("T1", 899_999, evidence.TxnCredit, "IN", "CP-1"),
		txn("T2", 1_000_000, evidence.TxnCredit, "IN", "CP-2"),
		txn("T3", 950_000, evidence.TxnCredit, "IN", "CP-3"),
		txn("T4", 960_000, evidence.TxnCredit, "IN", "CP-4"),
	))

	eval, err := engine.Evaluate(data)
	require.NoError(t, err)
	r, _ := eval.Result(RuleStructuring)
	assert.False(t, r.Triggered, "only two transactions fall inside the band")
}

func TestEvaluate_NothingTriggered(t *testing.T) {
	engine := NewEngine(DefaultThresholds())
	data := normalize(t, quietCase(txn("T1", 10_000, evidence.TxnCredit, "IN", "CP-1")))

	eval, err := engine.Evaluate(data)
	require.NoError(t, err)

	assert.Equal(t, BaselineRiskScore, eval.RiskScore)
	assert.Equal(t, 0.0, eval.ConfidenceScore)
	assert.Empty(t, eval.Typologies)
	assert.Len(t, eval.TriggeredRules, 8)
	assert.Equal(t, 0, eval.ReasoningArtifact.RulesTriggered)
	assert.Equal(t, 8, eval.ReasoningArtifact.RulesEvaluated)
	assert.Equal(t, EngineVersion, eval.ReasoningArtifact.EngineVersion)
	assert.Equal(t, "1000000", eval.ReasoningArtifact.ThresholdsUsed["single_txn_amount"])
	for _, r := range eval.TriggeredRules {
		assert.Zero(t, r.Confidence, r.RuleName)
		assert.Zero(t, r.RiskContribution, r.RuleName)
		assert.Empty(t, r.Typology, r.RuleName)
	}
}

func TestEvaluate_EachRule(t *testing.T) {
	manyCounterparties := func(n int, amount int64, typ evidence.TxnType) []evidence.Transaction {
		out := make([]evidence.Transaction, 0, n)
		for i := 0; i < n; i++ {
			out = append(out, txn(fmt.Sprintf("M%d", i), amount, typ, "IN", fmt.Sprintf("CP-%d", i)))
		}
		return out
	}

	tests := []struct {
		name     string
		rule     string
		raw      func() evidence.RawCase
		typology string
	}{
		{
			name: "velocity by transaction count",
			rule: RuleVelocity,
			raw: func() evidence.RawCase {
				txns := make([]evidence.Transaction, 0, 31)
				for i := 0; i < 31; i++ {
					txns = append(txns, txn(fmt.Sprintf("V%d", i), 1_000, evidence.TxnCredit, "IN", "CP-1"))
				}
				return quietCase(txns...)
			},
			typology: TypologyRapidMovement,
		},
		{
			name: "jurisdiction",
			rule: RuleJurisdiction,
			raw: func() evidence.RawCase {
				return quietCase(txn("J1", 5_000, evidence.TxnCredit, "ky", "CP-1"))
			},
			typology: TypologyHighRiskJurisdiction,
		},
		{
			name: "layering",
			rule: RuleLayering,
			raw: func() evidence.RawCase {
				txns := manyCounterparties(11, 10_000, evidence.TxnCredit)
				txns = append(txns, txn("OUT", 95_000, evidence.TxnDebit, "IN", "CP-0"))
				return quietCase(txns...)
			},
			typology: TypologyLayering,
		},
		{
			name: "rapid international movement",
			rule: RuleRapidInternational,
			raw: func() evidence.RawCase {
				return quietCase(txn("R1", 600_000, evidence.TxnDebit, "GB", "CP-1"))
			},
			typology: TypologyRapidInternational,
		},
		{
			name: "professional facilitation",
			rule: RuleProfessionalFacilitation,
			raw: func() evidence.RawCase {
				c := quietCase(txn("P1", 800_000, evidence.TxnCredit, "IN", "CP-1"),
					txn("P2", 800_000, evidence.TxnCredit, "IN", "CP-2"))
				c.Customer.AnnualIncome = decimal.NewFromInt(100_000)
				return c
			},
			typology: TypologyProfessionalFacilitation,
		},
		{
			name: "predicate offence via high risk rating",
			rule: RulePredicateOffence,
			raw: func() evidence.RawCase {
				c := quietCase(txn("X1", 1_000, evidence.TxnCredit, "IN", "CP-1"))
				c.Customer.RiskRating = "high"
				return c
			},
			typology: TypologyPredicateOffences,
		},
	}

	engine := NewEngine(DefaultThresholds())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval, err := engine.Evaluate(normalize(t, tt.raw()))
			require.NoError(t, err)

			r, ok := eval.Result(tt.rule)
			require.True(t, ok)
			assert.True(t, r.Triggered)
			assert.Equal(t, tt.typology, r.Typology)
			assert.NotEmpty(t, r.Evidence)
			assert.NotEmpty(t, r.Reasoning)
			assert.Contains(t, eval.Typologies, tt.typology)
		})
	}
}

func TestEvaluate_RapidInternationalIgnoresMissingCountry(t *testing.T) {
	engine := NewEngine(DefaultThresholds())
	eval, err := engine.Evaluate(normalize(t, quietCase(txn("R1", 900_000, evidence.TxnDebit, "", "CP-1"))))
	require.NoError(t, err)
	r, _ := eval.Result(RuleRapidInternational)
	assert.False(t, r.Triggered)
}

func TestEvaluate_FacilitationWithoutIncome(t *testing.T) {
	c := quietCase(txn("P1", 1_100_000, evidence.TxnCredit, "IN", "CP-1"))
	c.Customer.AnnualIncome = decimal.Zero

	eval, err := NewEngine(DefaultThresholds()).Evaluate(normalize(t, c))
	require.NoError(t, err)
	r, _ := eval.Result(RuleProfessionalFacilitation)
	assert.True(t, r.Triggered)
	assert.Contains(t, r.Evidence[1], "999.0x")
}

func TestEvaluate_SanctionsAndPEPBoosts(t *testing.T) {
	c := quietCase(txn("T1", 1_200_000, evidence.TxnCredit, "IN", "CP-1"))
	c.KYC.SanctionsMatch = true
	c.KYC.PEP = true

	eval, err := NewEngine(DefaultThresholds()).Evaluate(normalize(t, c))
	require.NoError(t, err)

	predicate, _ := eval.Result(RulePredicateOffence)
	assert.Equal(t, ConfidencePredicateSanctions, predicate.Confidence)
	assert.Equal(t, ContributionPredicateSanctions, predicate.RiskContribution)

	// 0.25 threshold + 0.30 predicate + 0.15 sanctions + 0.05 pep
	assert.InDelta(t, 0.75, eval.RiskScore, 1e-9)
	assert.InDelta(t, 0.925, eval.ConfidenceScore, 1e-9)
	assert.True(t, eval.ClaimSeed.KYCFlags.Sanctions)
	assert.Equal(t, []string{RuleThreshold, RulePredicateOffence}, eval.ClaimSeed.TriggeredRules)
}

func TestEvaluate_RiskClampedToOne(t *testing.T) {
	txns := []evidence.Transaction{
		txn("S1", 950_000, evidence.TxnCredit, "KY", "CP-1"),
		txn("S2", 950_000, evidence.TxnCredit, "KY", "CP-2"),
		txn("S3", 950_000, evidence.TxnCredit, "KY", "CP-3"),
		txn("BIG", 1_500_000, evidence.TxnDebit, "AE", "CP-4"),
	}
	c := quietCase(txns...)
	c.Customer.AnnualIncome = decimal.NewFromInt(50_000)
	c.KYC.SanctionsMatch = true

	eval, err := NewEngine(DefaultThresholds()).Evaluate(normalize(t, c))
	require.NoError(t, err)
	assert.Equal(t, MaxRiskScore, eval.RiskScore)
}

func TestEvaluate_TypologiesDeduplicatedInOrder(t *testing.T) {
	fired := []Result{
		{RuleName: "a", Triggered: true, Typology: "x"},
		{RuleName: "b", Triggered: true, Typology: "y"},
		{RuleName: "c", Triggered: true, Typology: "x"},
	}
	assert.Equal(t, []string{"x", "y"}, uniqueTypologies(fired))
}

func TestEvaluate_RejectsMalformedInput(t *testing.T) {
	engine := NewEngine(DefaultThresholds())

	_, err := engine.Evaluate(nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	data := normalize(t, quietCase(txn("T1", 10, evidence.TxnCredit, "IN", "CP-1")))
	data.Transactions[0].TxnType = "transfer"
	eval, err := engine.Evaluate(data)
	require.Error(t, err)
	assert.Nil(t, eval)
	assert.Equal(t, "INVALID_NORMALIZED_DATA", errors.CodeOf(err))
}

func TestEngine_RuleNames(t *testing.T) {
	assert.Equal(t, []string{
		RuleThreshold, RuleVelocity, RuleJurisdiction, RuleStructuring,
		RuleLayering, RuleRapidInternational, RuleProfessionalFacilitation, RulePredicateOffence,
	}, NewEngine(DefaultThresholds()).RuleNames())
}

// Package fixtures builds realistic cases and sealed claims for tests.
package fixtures

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/evidence"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/hashchain"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/rules"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/scoring"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/claimgen"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/environment"
)

// BaseTime anchors fixture timestamps.
var BaseTime = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

// CaseBuilder builds evidence.RawCase values. The default case is one
// INR 12 lakh credit followed by a 3 lakh debit six hours later, which
// fires only the single-transaction threshold rule.
type CaseBuilder struct {
	raw evidence.RawCase
}

func NewCaseBuilder(caseID string) *CaseBuilder {
	return &CaseBuilder{raw: evidence.RawCase{
		CaseID: caseID,
		Customer: evidence.Customer{
			CustomerID:   "CUST-" + caseID,
			Name:         "A. Example",
			PAN:          "ABCDE1234F",
			AnnualIncome: decimal.NewFromInt(2_000_000),
			Occupation:   "trader",
			RiskRating:   "medium",
		},
		KYC: evidence.KYC{RiskScore: 55},
		Accounts: []evidence.Account{{
			AccountID: "ACC-1",
			Type:      "savings",
			Balance:   decimal.NewFromInt(50_000),
		}},
		Transactions: []evidence.Transaction{
			{TransactionID: "T1", AccountID: "ACC-1", Amount: decimal.NewFromInt(1_200_000),
				TxnType: evidence.TxnCredit, Timestamp: BaseTime, CounterpartyAccount: "CP-1", CounterpartyCountry: "IN"},
			{TransactionID: "T2", AccountID: "ACC-1", Amount: decimal.NewFromInt(300_000),
				TxnType: evidence.TxnDebit, Timestamp: BaseTime.Add(6 * time.Hour), CounterpartyAccount: "CP-2", CounterpartyCountry: "IN"},
		},
		Alerts: []evidence.Alert{{AlertID: "AL-" + caseID, AlertType: "high_value", CreatedAt: BaseTime}},
	}}
}

// WithStructuring adds n credits inside the structuring band.
func (b *CaseBuilder) WithStructuring(n int) *CaseBuilder {
	for i := 0; i < n; i++ {
		b.raw.Transactions = append(b.raw.Transactions, evidence.Transaction{
			TransactionID:       fmt.Sprintf("S%d", i+1),
			AccountID:           "ACC-1",
			Amount:              decimal.NewFromInt(950_000 + int64(i)*1_000),
			TxnType:             evidence.TxnCredit,
			Timestamp:           BaseTime.Add(time.Duration(i+1) * 24 * time.Hour),
			CounterpartyAccount: fmt.Sprintf("CP-S%d", i+1),
			CounterpartyCountry: "IN",
		})
	}
	return b
}

// WithSanctionsMatch flags the customer on a sanctions list.
func (b *CaseBuilder) WithSanctionsMatch() *CaseBuilder {
	b.raw.KYC.SanctionsMatch = true
	return b
}

func (b *CaseBuilder) WithPEP() *CaseBuilder {
	b.raw.KYC.PEP = true
	return b
}

func (b *CaseBuilder) Build() evidence.RawCase {
	return b.raw
}

// GeneratorInput runs a raw case through normalization, rules and scoring
// and returns the claim generator input.
func GeneratorInput(t *testing.T, raw evidence.RawCase) claimgen.Input {
	t.Helper()

	data, err := evidence.NewNormalizer("IN", decimal.NewFromInt(100_000)).Normalize(raw)
	require.NoError(t, err)
	eval, err := rules.NewEngine(rules.DefaultThresholds()).Evaluate(data)
	require.NoError(t, err)

	return claimgen.Input{
		CaseID:       data.CaseID,
		AlertIDs:     data.AlertIDs(),
		UserID:       "analyst-1",
		Customer:     claimgen.CustomerFromCase(data),
		Transactions: data.Transactions,
		PipelineTransforms: []claim.PipelineTransform{{
			Stage:     "normalization",
			Timestamp: BaseTime,
			Hash:      hashchain.SumHex([]byte(data.CaseID)),
		}},
		Evaluation:  eval,
		FraudScores: scoring.NewScorer("IN").Score(data, eval),
		Retrieval: claimgen.Retrieval{
			Guidelines: []claimgen.Snippet{{
				Content:  "Report cash transactions above INR 10 lakh.",
				Metadata: map[string]any{"doc_id": "FIU-IND-2.1", "source_file": "fiu_guidelines.pdf"},
				Distance: 0.2,
			}},
		},
		Jurisdiction: []string{"IN"},
	}
}

// Generator returns a claim generator with a static environment.
func Generator(t *testing.T) *claimgen.Generator {
	t.Helper()
	tracker := environment.NewStaticTracker(environment.Info{
		ServiceName: "sar-test",
		Deployment:  claim.EnvironmentOnPrem,
		Hostname:    "test-host",
	})
	return claimgen.NewGenerator(claimgen.DefaultConfig(), tracker, nil)
}

// SealedClaim generates a valid, sealed claim for caseID.
func SealedClaim(t *testing.T, caseID string) *claim.Object {
	t.Helper()
	obj, err := Generator(t).Generate(GeneratorInput(t, NewCaseBuilder(caseID).Build()))
	require.NoError(t, err)
	return obj
}

// Narrative returns filler text of exactly n characters.
func Narrative(n int) string {
	const sentence = "The subject received funds inconsistent with the declared profile. "
	out := make([]byte, 0, n)
	for len(out) < n {
		out = append(out, sentence...)
	}
	return string(out[:n])
}

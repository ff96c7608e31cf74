package evidence

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
)

var day0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func sampleCase() RawCase {
	return RawCase{
		CaseID: "CASE-2026-001",
		Customer: Customer{
			CustomerID:   "CUST-1",
			AnnualIncome: decimal.NewFromInt(600_000),
			RiskRating:   "medium",
		},
		KYC:      KYC{RiskScore: 40},
		Accounts: []Account{{AccountID: "ACC-1", Type: "savings", Balance: decimal.NewFromInt(10_000)}},
		Transactions: []Transaction{
			{TransactionID: "T1", Amount: decimal.NewFromInt(250_000), TxnType: TxnCredit, Timestamp: day0,
				CounterpartyAccount: "CP-1", CounterpartyCountry: "in"},
			{TransactionID: "T2", Amount: decimal.NewFromInt(50_000), TxnType: TxnDebit, Timestamp: day0.Add(72 * time.Hour),
				CounterpartyAccount: "CP-2", CounterpartyCountry: "AE"},
			{TransactionID: "T3", Amount: decimal.NewFromInt(100_000), TxnType: TxnCredit, Timestamp: day0.Add(24 * time.Hour),
				CounterpartyAccount: "CP-1", CounterpartyCountry: "IN"},
		},
		Alerts: []Alert{{AlertID: "AL-9", AlertType: "threshold", Severity: "HIGH", CreatedAt: day0.Add(96 * time.Hour)}},
	}
}

func TestNormalize_Aggregates(t *testing.T) {
	n := NewNormalizer("", decimal.Zero)
	data, err := n.Normalize(sampleCase())
	require.NoError(t, err)

	agg := data.Aggregates
	assert.Equal(t, 3, agg.TotalTransactions)
	assert.True(t, agg.TotalCredit.Equal(decimal.NewFromInt(350_000)))
	assert.True(t, agg.TotalDebit.Equal(decimal.NewFromInt(50_000)))
	assert.Equal(t, 2, agg.UniqueCounterparties)
	assert.Equal(t, 2, agg.UniqueCountries)
	assert.True(t, agg.MaxTransactionAmount.Equal(decimal.NewFromInt(250_000)))
	assert.Equal(t, "133333.33", agg.AvgTransactionAmount.String())
	assert.Equal(t, 3, agg.DateRangeDays)
	assert.Equal(t, "IN", data.Transactions[0].CounterpartyCountry)
}

func TestNormalize_EvidenceObjects(t *testing.T) {
	n := NewNormalizer("IN", decimal.Zero)
	data, err := n.Normalize(sampleCase())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"EV-CUST-CUST-1",
		"EV-TXN-SUMMARY-CUST-1",
		"EV-HVT-T1",
		"EV-INTL-T2",
		"EV-ALERT-AL-9",
	}, data.EvidenceIDs())
	assert.Equal(t, []string{"AL-9"}, data.AlertIDs())

	// T3 is exactly at the high-value amount and is not strictly above it.
	for _, item := range data.EvidenceObjects {
		assert.NotEqual(t, "EV-HVT-T3", item.EvidenceID)
	}
	assert.Equal(t, day0.Add(96*time.Hour), data.EvidenceObjects[0].Timestamp)
	assert.Equal(t, "high", data.EvidenceObjects[4].NormalizedValue)
}

func TestNormalize_DoesNotMutateInput(t *testing.T) {
	raw := sampleCase()
	_, err := NewNormalizer("IN", decimal.Zero).Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "in", raw.Transactions[0].CounterpartyCountry)
}

func TestNormalize_RejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*RawCase)
		field  string
	}{
		{"missing case id", func(c *RawCase) { c.CaseID = "" }, "case_id"},
		{"missing customer id", func(c *RawCase) { c.Customer.CustomerID = "" }, "customer.customer_id"},
		{"negative amount", func(c *RawCase) { c.Transactions[1].Amount = decimal.NewFromInt(-5) }, "transactions[1].amount"},
		{"unknown txn type", func(c *RawCase) { c.Transactions[0].TxnType = "refund" }, "transactions[0].txn_type"},
		{"kyc score out of range", func(c *RawCase) { c.KYC.RiskScore = 101 }, "kyc.risk_score"},
		{"bad risk rating", func(c *RawCase) { c.Customer.RiskRating = "extreme" }, "customer.risk_rating"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := sampleCase()
			tt.mutate(&raw)

			data, err := NewNormalizer("IN", decimal.Zero).Normalize(raw)
			require.Error(t, err)
			assert.Nil(t, data)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

			var appErr *errors.AppError
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, tt.field, appErr.Details["field"])
		})
	}
}

func TestAggregate_Empty(t *testing.T) {
	agg := Aggregate(nil)
	assert.Equal(t, 0, agg.TotalTransactions)
	assert.True(t, agg.TotalCredit.IsZero())
	assert.True(t, agg.AvgTransactionAmount.IsZero())
}

func TestIntlCountries(t *testing.T) {
	txns := []Transaction{
		{CounterpartyCountry: "AE"}, {CounterpartyCountry: "IN"}, {CounterpartyCountry: "SG"}, {CounterpartyCountry: "AE"},
	}
	assert.Equal(t, []string{"AE", "SG"}, IntlCountries(txns, "IN"))
}

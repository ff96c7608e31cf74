package evidence

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/validation"
)

const (
	DefaultHomeCountry = "IN"
)

// DefaultHighValueAmount is the amount above which a transaction gets its own evidence object.
var DefaultHighValueAmount = decimal.NewFromInt(100_000)

// Normalizer flattens a raw case into aggregates and evidence objects.
type Normalizer struct {
	homeCountry     string
	highValueAmount decimal.Decimal
	validate        *validator.Validate
}

// NewNormalizer creates a normalizer. An empty home country falls back to DefaultHomeCountry.
func NewNormalizer(homeCountry string, highValueAmount decimal.Decimal) *Normalizer {
	if homeCountry == "" {
		homeCountry = DefaultHomeCountry
	}
	if highValueAmount.IsZero() {
		highValueAmount = DefaultHighValueAmount
	}
	return &Normalizer{
		homeCountry:     strings.ToUpper(homeCountry),
		highValueAmount: highValueAmount,
		validate:        validation.New(),
	}
}

// HomeCountry returns the country treated as domestic.
func (n *Normalizer) HomeCountry() string {
	return n.homeCountry
}

// Normalize validates raw once and derives the normalized view. Output order
// follows input order so the result is deterministic.
func (n *Normalizer) Normalize(raw RawCase) (*NormalizedData, error) {
	if err := validation.Struct(n.validate, "INVALID_CASE_INPUT", raw); err != nil {
		return nil, err
	}

	txns := make([]Transaction, len(raw.Transactions))
	copy(txns, raw.Transactions)
	for i := range txns {
		txns[i].CounterpartyCountry = strings.ToUpper(strings.TrimSpace(txns[i].CounterpartyCountry))
	}

	data := &NormalizedData{
		CaseID:       raw.CaseID,
		Customer:     raw.Customer,
		KYC:          raw.KYC,
		Accounts:     append([]Account(nil), raw.Accounts...),
		Transactions: txns,
		Alerts:       append([]Alert(nil), raw.Alerts...),
		Aggregates:   Aggregate(txns),
	}
	data.EvidenceObjects = n.buildEvidence(data)

	return data, nil
}

// Aggregate computes case-level figures over txns.
func Aggregate(txns []Transaction) Aggregates {
	agg := Aggregates{
		TotalTransactions:    len(txns),
		TotalCredit:          decimal.Zero,
		TotalDebit:           decimal.Zero,
		AvgTransactionAmount: decimal.Zero,
		MaxTransactionAmount: decimal.Zero,
	}
	if len(txns) == 0 {
		return agg
	}

	counterparties := make(map[string]struct{})
	countries := make(map[string]struct{})
	volume := decimal.Zero
	first, last := txns[0].Timestamp, txns[0].Timestamp

	for _, t := range txns {
		switch t.TxnType {
		case TxnCredit:
			agg.TotalCredit = agg.TotalCredit.Add(t.Amount)
		case TxnDebit:
			agg.TotalDebit = agg.TotalDebit.Add(t.Amount)
		}
		volume = volume.Add(t.Amount)
		if t.Amount.GreaterThan(agg.MaxTransactionAmount) {
			agg.MaxTransactionAmount = t.Amount
		}
		if t.CounterpartyAccount != "" {
			counterparties[t.CounterpartyAccount] = struct{}{}
		}
		if t.CounterpartyCountry != "" {
			countries[t.CounterpartyCountry] = struct{}{}
		}
		if t.Timestamp.Before(first) {
			first = t.Timestamp
		}
		if t.Timestamp.After(last) {
			last = t.Timestamp
		}
	}

	agg.UniqueCounterparties = len(counterparties)
	agg.UniqueCountries = len(countries)
	agg.AvgTransactionAmount = volume.Div(decimal.NewFromInt(int64(len(txns)))).Round(2)
	agg.DateRangeDays = int(last.Sub(first) / (24 * time.Hour))

	return agg
}

// IntlCountries returns the distinct non-domestic counterparty countries, sorted.
func IntlCountries(txns []Transaction, homeCountry string) []string {
	seen := make(map[string]struct{})
	for _, t := range txns {
		if t.CounterpartyCountry != "" && t.CounterpartyCountry != homeCountry {
			seen[t.CounterpartyCountry] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

func (n *Normalizer) buildEvidence(data *NormalizedData) []Item {
	asOf := referenceTime(data)
	custID := data.Customer.CustomerID
	agg := data.Aggregates

	items := []Item{
		{
			EvidenceID:   "EV-CUST-" + custID,
			PrimaryKey:   custID,
			Type:         TypeCustomerProfile,
			Timestamp:    asOf,
			FeaturesUsed: []string{"risk_rating", "pep", "sanctions_match", "annual_income"},
			RawValue: map[string]any{
				"risk_rating":     data.Customer.RiskRating,
				"pep":             data.KYC.PEP,
				"sanctions_match": data.KYC.SanctionsMatch,
				"annual_income":   data.Customer.AnnualIncome.String(),
			},
			NormalizedValue: map[string]any{
				"kyc_risk_score": data.KYC.RiskScore,
				"high_risk":      data.Customer.RiskRating == "high",
			},
		},
		{
			EvidenceID:   "EV-TXN-SUMMARY-" + custID,
			PrimaryKey:   custID,
			Type:         TypeTransactionSummary,
			Timestamp:    asOf,
			FeaturesUsed: []string{"total_transactions", "total_credit", "total_debit", "unique_counterparties"},
			RawValue: map[string]any{
				"total_transactions":    agg.TotalTransactions,
				"total_credit":          agg.TotalCredit.String(),
				"total_debit":           agg.TotalDebit.String(),
				"unique_counterparties": agg.UniqueCounterparties,
			},
			NormalizedValue: map[string]any{
				"avg_transaction_amount": agg.AvgTransactionAmount.String(),
				"max_transaction_amount": agg.MaxTransactionAmount.String(),
				"date_range_days":        agg.DateRangeDays,
			},
		},
	}

	for _, t := range data.Transactions {
		if t.Amount.GreaterThan(n.highValueAmount) {
			items = append(items, Item{
				EvidenceID:      "EV-HVT-" + t.TransactionID,
				PrimaryKey:      t.TransactionID,
				Type:            TypeHighValue,
				Timestamp:       t.Timestamp,
				FeaturesUsed:    []string{"amount"},
				RawValue:        t.Amount.String(),
				NormalizedValue: t.Amount.Div(n.highValueAmount).Round(4).String(),
			})
		}
	}

	for _, t := range data.Transactions {
		if t.CounterpartyCountry != "" && t.CounterpartyCountry != n.homeCountry {
			items = append(items, Item{
				EvidenceID:   "EV-INTL-" + t.TransactionID,
				PrimaryKey:   t.TransactionID,
				Type:         TypeInternational,
				Timestamp:    t.Timestamp,
				FeaturesUsed: []string{"counterparty_country", "amount", "txn_type"},
				RawValue: map[string]any{
					"country":  t.CounterpartyCountry,
					"amount":   t.Amount.String(),
					"txn_type": string(t.TxnType),
				},
				NormalizedValue: fmt.Sprintf("%s:%s", n.homeCountry, t.CounterpartyCountry),
			})
		}
	}

	for _, a := range data.Alerts {
		items = append(items, Item{
			EvidenceID:   "EV-ALERT-" + a.AlertID,
			PrimaryKey:   a.AlertID,
			Type:         TypeAlert,
			Timestamp:    a.CreatedAt,
			FeaturesUsed: []string{"alert_type", "severity"},
			RawValue: map[string]any{
				"alert_type":  a.AlertType,
				"description": a.Description,
			},
			NormalizedValue: strings.ToLower(a.Severity),
		})
	}

	return items
}

// referenceTime is the latest transaction or alert timestamp in the case.
func referenceTime(data *NormalizedData) time.Time {
	var ref time.Time
	for _, t := range data.Transactions {
		if t.Timestamp.After(ref) {
			ref = t.Timestamp
		}
	}
	for _, a := range data.Alerts {
		if a.CreatedAt.After(ref) {
			ref = a.CreatedAt
		}
	}
	return ref.UTC()
}

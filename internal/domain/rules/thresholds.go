package rules

import (
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultHighRiskJurisdictions are ISO country codes treated as high risk.
var DefaultHighRiskJurisdictions = []string{
	"AF", "AL", "MM", "PA", "PK", "SY", "YE", "IR", "KP", "VG",
	"KY", "JE", "GG", "IM", "BZ", "SC", "MU", "AE", "HK", "SG",
}

// Thresholds are the fixed cutoffs every check compares against.
type Thresholds struct {
	SingleTxnAmount           decimal.Decimal
	TotalInflow               decimal.Decimal
	VelocityCount             int
	UniqueCounterparties      int
	StructuringBandLow        decimal.Decimal
	StructuringBandHigh       decimal.Decimal
	StructuringMinCount       int
	LayeringMinCounterparties int
	RapidOutflowPct           decimal.Decimal
	IntlDebitAmount           decimal.Decimal
	IncomeTurnoverRatio       decimal.Decimal
	FacilitationMinCredit     decimal.Decimal
	HomeCountry               string
	HighRiskJurisdictions     []string
}

// DefaultThresholds returns the production cutoffs.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SingleTxnAmount:           decimal.NewFromInt(1_000_000),
		TotalInflow:               decimal.NewFromInt(5_000_000),
		VelocityCount:             30,
		UniqueCounterparties:      20,
		StructuringBandLow:        decimal.NewFromInt(900_000),
		StructuringBandHigh:       decimal.NewFromInt(999_999),
		StructuringMinCount:       3,
		LayeringMinCounterparties: 10,
		RapidOutflowPct:           decimal.RequireFromString("0.80"),
		IntlDebitAmount:           decimal.NewFromInt(500_000),
		IncomeTurnoverRatio:       decimal.NewFromInt(10),
		FacilitationMinCredit:     decimal.NewFromInt(1_000_000),
		HomeCountry:               "IN",
		HighRiskJurisdictions:     append([]string(nil), DefaultHighRiskJurisdictions...),
	}
}

func (t Thresholds) isHighRisk(country string) bool {
	for _, c := range t.HighRiskJurisdictions {
		if strings.EqualFold(c, country) {
			return true
		}
	}
	return false
}

// Snapshot renders the thresholds for the reasoning artifact.
func (t Thresholds) Snapshot() map[string]string {
	jurisdictions := append([]string(nil), t.HighRiskJurisdictions...)
	sort.Strings(jurisdictions)
	return map[string]string{
		"single_txn_amount":           t.SingleTxnAmount.String(),
		"total_inflow":                t.TotalInflow.String(),
		"velocity_count":              itoa(t.VelocityCount),
		"unique_counterparties":       itoa(t.UniqueCounterparties),
		"structuring_band_low":        t.StructuringBandLow.String(),
		"structuring_band_high":       t.StructuringBandHigh.String(),
		"structuring_min_count":       itoa(t.StructuringMinCount),
		"layering_min_counterparties": itoa(t.LayeringMinCounterparties),
		"rapid_outflow_pct":           t.RapidOutflowPct.String(),
		"intl_debit_amount":           t.IntlDebitAmount.String(),
		"income_turnover_ratio":       t.IncomeTurnoverRatio.String(),
		"facilitation_min_credit":     t.FacilitationMinCredit.String(),
		"home_country":                t.HomeCountry,
		"high_risk_jurisdictions":     strings.Join(jurisdictions, ","),
	}
}

func itoa(n int) string {
	return strconv.Itoa(n)
}

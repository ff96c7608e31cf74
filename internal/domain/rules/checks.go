package rules

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/evidence"
)

// Check evaluates one rule. Checks are pure and never see each other's output.
type Check func(data *evidence.NormalizedData, th Thresholds) Result

type namedCheck struct {
	name  string
	check Check
}

// defaultChecks is the fixed, ordered rule set.
var defaultChecks = []namedCheck{
	{RuleThreshold, checkThreshold},
	{RuleVelocity, checkVelocity},
	{RuleJurisdiction, checkJurisdiction},
	{RuleStructuring, checkStructuring},
	{RuleLayering, checkLayering},
	{RuleRapidInternational, checkRapidInternational},
	{RuleProfessionalFacilitation, checkProfessionalFacilitation},
	{RulePredicateOffence, checkPredicateOffence},
}

func fired(name string, confidence, contribution float64, typology, reasoning string,
	observed, refs []string, thresholds map[string]string) Result {
	return Result{
		RuleName:         name,
		Triggered:        true,
		Confidence:       confidence,
		RiskContribution: contribution,
		Typology:         typology,
		Evidence:         observed,
		EvidenceRefs:     refs,
		Reasoning:        reasoning,
		Thresholds:       thresholds,
	}
}

func notFired(name, reasoning string, thresholds map[string]string) Result {
	return Result{
		RuleName:     name,
		Evidence:     []string{},
		EvidenceRefs: []string{},
		Reasoning:    reasoning,
		Thresholds:   thresholds,
	}
}

func money(d decimal.Decimal) string {
	return d.StringFixed(0)
}

func checkThreshold(data *evidence.NormalizedData, th Thresholds) Result {
	agg := data.Aggregates
	limits := map[string]string{
		"single_txn_amount": th.SingleTxnAmount.String(),
		"total_inflow":      th.TotalInflow.String(),
	}

	singleHit := agg.MaxTransactionAmount.GreaterThan(th.SingleTxnAmount)
	totalHit := agg.TotalCredit.GreaterThan(th.TotalInflow)
	if !singleHit && !totalHit {
		return notFired(RuleThreshold, "Within thresholds", limits)
	}

	var observed, refs []string
	if singleHit {
		observed = append(observed, fmt.Sprintf("Max single transaction %s exceeds %s",
			money(agg.MaxTransactionAmount), money(th.SingleTxnAmount)))
		for _, t := range data.Transactions {
			if t.Amount.GreaterThan(th.SingleTxnAmount) {
				refs = append(refs, "EV-HVT-"+t.TransactionID)
			}
		}
	}
	if totalHit {
		observed = append(observed, fmt.Sprintf("Total credits %s exceed %s",
			money(agg.TotalCredit), money(th.TotalInflow)))
		refs = append(refs, "EV-TXN-SUMMARY-"+data.Customer.CustomerID)
	}

	return fired(RuleThreshold, ConfidenceThreshold, ContributionThreshold, TypologyHighValue,
		"Transaction amounts exceed regulatory reporting thresholds", observed, refs, limits)
}

func checkVelocity(data *evidence.NormalizedData, th Thresholds) Result {
	agg := data.Aggregates
	limits := map[string]string{
		"velocity_count":        itoa(th.VelocityCount),
		"unique_counterparties": itoa(th.UniqueCounterparties),
	}

	countHit := agg.TotalTransactions > th.VelocityCount
	cpHit := agg.UniqueCounterparties > th.UniqueCounterparties
	if !countHit && !cpHit {
		return notFired(RuleVelocity, "Normal velocity", limits)
	}

	var observed []string
	if countHit {
		observed = append(observed, fmt.Sprintf("%d transactions in observation window (threshold: %d)",
			agg.TotalTransactions, th.VelocityCount))
	}
	if cpHit {
		observed = append(observed, fmt.Sprintf("%d unique counterparties (threshold: %d)",
			agg.UniqueCounterparties, th.UniqueCounterparties))
	}

	return fired(RuleVelocity, ConfidenceVelocity, ContributionVelocity, TypologyRapidMovement,
		"Unusually high transaction velocity detected", observed,
		[]string{"EV-TXN-SUMMARY-" + data.Customer.CustomerID}, limits)
}

func checkJurisdiction(data *evidence.NormalizedData, th Thresholds) Result {
	limits := map[string]string{"high_risk_jurisdictions": th.Snapshot()["high_risk_jurisdictions"]}

	countries := make(map[string]struct{})
	var txnIDs, refs []string
	for _, t := range data.Transactions {
		if t.CounterpartyCountry != "" && th.isHighRisk(t.CounterpartyCountry) {
			countries[strings.ToUpper(t.CounterpartyCountry)] = struct{}{}
			txnIDs = append(txnIDs, t.TransactionID)
			refs = append(refs, "EV-INTL-"+t.TransactionID)
		}
	}
	if len(countries) == 0 {
		return notFired(RuleJurisdiction, "No high-risk jurisdictions", limits)
	}

	listed := sortedKeys(countries)
	if len(txnIDs) > 10 {
		txnIDs = txnIDs[:10]
	}
	observed := []string{
		"Transactions to/from high-risk jurisdictions: " + strings.Join(listed, ", "),
		"Affected transactions: " + strings.Join(txnIDs, ", "),
	}

	return fired(RuleJurisdiction, ConfidenceJurisdiction, ContributionJurisdiction, TypologyHighRiskJurisdiction,
		"Funds flow to/from high-risk jurisdictions: "+strings.Join(listed, ", "), observed, refs, limits)
}

func checkStructuring(data *evidence.NormalizedData, th Thresholds) Result {
	limits := map[string]string{
		"structuring_band_low":  th.StructuringBandLow.String(),
		"structuring_band_high": th.StructuringBandHigh.String(),
		"structuring_min_count": itoa(th.StructuringMinCount),
	}

	var inBand []string
	for _, t := range data.Transactions {
		if t.Amount.GreaterThanOrEqual(th.StructuringBandLow) && t.Amount.LessThanOrEqual(th.StructuringBandHigh) {
			inBand = append(inBand, t.TransactionID)
		}
	}
	if len(inBand) < th.StructuringMinCount {
		return notFired(RuleStructuring, "No structuring pattern", limits)
	}

	refs := make([]string, 0, len(inBand))
	for _, id := range inBand {
		refs = append(refs, "EV-HVT-"+id)
	}
	observed := []string{fmt.Sprintf("%d transactions in %s-%s band",
		len(inBand), money(th.StructuringBandLow), money(th.StructuringBandHigh))}

	return fired(RuleStructuring, ConfidenceStructuring, ContributionStructuring, TypologyStructuring,
		"Multiple transactions structured just below reporting threshold, indicative of smurfing",
		observed, refs, limits)
}

func checkLayering(data *evidence.NormalizedData, th Thresholds) Result {
	agg := data.Aggregates
	limits := map[string]string{
		"layering_min_counterparties": itoa(th.LayeringMinCounterparties),
		"rapid_outflow_pct":           th.RapidOutflowPct.String(),
	}

	manySources := agg.UniqueCounterparties > th.LayeringMinCounterparties
	rapidOutflow := agg.TotalCredit.IsPositive() &&
		agg.TotalDebit.GreaterThan(agg.TotalCredit.Mul(th.RapidOutflowPct))
	if !manySources || !rapidOutflow {
		return notFired(RuleLayering, "No layering pattern", limits)
	}

	pct := agg.TotalDebit.Div(agg.TotalCredit).Mul(decimal.NewFromInt(100)).StringFixed(0)
	observed := []string{
		fmt.Sprintf("Received funds from %d unique sources", agg.UniqueCounterparties),
		fmt.Sprintf("%s in, %s out (%s%% outflow)", money(agg.TotalCredit), money(agg.TotalDebit), pct),
	}

	return fired(RuleLayering, ConfidenceLayering, ContributionLayering, TypologyLayering,
		"Funds aggregated from multiple sources then rapidly moved onward", observed,
		[]string{"EV-TXN-SUMMARY-" + data.Customer.CustomerID}, limits)
}

func checkRapidInternational(data *evidence.NormalizedData, th Thresholds) Result {
	limits := map[string]string{
		"intl_debit_amount": th.IntlDebitAmount.String(),
		"home_country":      th.HomeCountry,
	}

	destinations := make(map[string]struct{})
	var refs []string
	for _, t := range data.Transactions {
		country := t.CounterpartyCountry
		if country == "" {
			country = th.HomeCountry
		}
		if t.TxnType == evidence.TxnDebit && !strings.EqualFold(country, th.HomeCountry) &&
			t.Amount.GreaterThan(th.IntlDebitAmount) {
			destinations[strings.ToUpper(country)] = struct{}{}
			refs = append(refs, "EV-INTL-"+t.TransactionID)
		}
	}
	if len(refs) == 0 {
		return notFired(RuleRapidInternational, "No rapid international movement", limits)
	}

	observed := []string{
		fmt.Sprintf("%d large international outflows detected", len(refs)),
		"Destinations: " + strings.Join(sortedKeys(destinations), ", "),
	}

	return fired(RuleRapidInternational, ConfidenceRapidIntl, ContributionRapidIntl, TypologyRapidInternational,
		"Significant funds rapidly transferred to foreign jurisdictions", observed, refs, limits)
}

// noIncomeRatio stands in for the turnover ratio when no income is declared.
var noIncomeRatio = decimal.NewFromInt(999)

func checkProfessionalFacilitation(data *evidence.NormalizedData, th Thresholds) Result {
	limits := map[string]string{
		"income_turnover_ratio":   th.IncomeTurnoverRatio.String(),
		"facilitation_min_credit": th.FacilitationMinCredit.String(),
	}

	income := data.Customer.AnnualIncome
	credit := data.Aggregates.TotalCredit
	ratio := noIncomeRatio
	if income.IsPositive() {
		ratio = credit.Div(income)
	}

	if !ratio.GreaterThan(th.IncomeTurnoverRatio) || !credit.GreaterThan(th.FacilitationMinCredit) {
		return notFired(RuleProfessionalFacilitation, "Income consistent with activity", limits)
	}

	observed := []string{
		"Declared annual income: " + money(income),
		fmt.Sprintf("Transaction volume: %s (%sx declared income)", money(credit), ratio.StringFixed(1)),
	}

	return fired(RuleProfessionalFacilitation, ConfidenceFacilitation, ContributionFacilitation,
		TypologyProfessionalFacilitation,
		"Transaction volumes grossly inconsistent with declared income, possible third-party facilitation",
		observed, []string{"EV-CUST-" + data.Customer.CustomerID}, limits)
}

func checkPredicateOffence(data *evidence.NormalizedData, _ Thresholds) Result {
	pep := data.KYC.PEP
	sanctions := data.KYC.SanctionsMatch
	highRisk := strings.EqualFold(data.Customer.RiskRating, "high")

	if !pep && !sanctions && !highRisk {
		return notFired(RulePredicateOffence, "No predicate offence indicators", map[string]string{})
	}

	var observed []string
	if pep {
		observed = append(observed, "Customer is a Politically Exposed Person (PEP)")
	}
	if sanctions {
		observed = append(observed, "Customer matches sanctions list")
	}
	if highRisk {
		observed = append(observed, "Customer has HIGH KYC risk rating")
	}

	confidence, contribution := ConfidencePredicate, ContributionPredicate
	if sanctions {
		confidence, contribution = ConfidencePredicateSanctions, ContributionPredicateSanctions
	}

	return fired(RulePredicateOffence, confidence, contribution, TypologyPredicateOffences,
		"Subject linked to predicate offence indicators", observed,
		[]string{"EV-CUST-" + data.Customer.CustomerID}, map[string]string{})
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

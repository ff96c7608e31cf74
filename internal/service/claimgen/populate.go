package claimgen

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/evidence"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/rules"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/scoring"
)

// Severity band cutoffs over the 0-1 risk score.
const (
	criticalCutoff = 0.85
	highCutoff     = 0.70
	mediumCutoff   = 0.40
)

const (
	sanctionsClear = "CLEAR"
	sanctionsMatch = "MATCH"
	defaultTopK    = 5
)

// SeverityBand buckets a 0-1 risk score.
func SeverityBand(risk float64) claim.Severity {
	switch {
	case risk >= criticalCutoff:
		return claim.SeverityCritical
	case risk >= highCutoff:
		return claim.SeverityHigh
	case risk >= mediumCutoff:
		return claim.SeverityMedium
	default:
		return claim.SeverityLow
	}
}

func populateSubject(c CustomerData, txns []evidence.Transaction, highRisk map[string]bool) claim.Subject {
	accountNums := make([]string, 0, len(c.Accounts))
	accounts := make([]claim.Account, 0, len(c.Accounts))
	for _, a := range c.Accounts {
		accountNums = append(accountNums, a.AccountID)
		accounts = append(accounts, claim.Account{
			AccountID:      a.AccountID,
			Type:           orUnknown(a.Type),
			BalanceAtAlert: a.Balance,
			OpeningDate:    orUnknown(a.OpeningDate),
		})
	}

	kyc := claim.KYCProfile{SanctionsScreen: sanctionsClear}
	if c.KYC != nil {
		kyc.RiskRating = c.KYC.RiskScore
		kyc.PEPStatus = c.KYC.PEP
		kyc.AdverseMedia = c.KYC.AdverseMedia
		if c.KYC.SanctionsMatch {
			kyc.SanctionsScreen = sanctionsMatch
		}
	}
	kyc.RiskSegment = orUnknown(c.RiskRating)
	kyc.OnboardingDate = orUnknown(c.OnboardingDate)

	behavioral := c.BehavioralSegment
	if behavioral == "" {
		behavioral = c.Segment
	}

	return claim.Subject{
		Customer: claim.Customer{
			CustomerID:        c.CustomerID,
			Identifiers:       claim.Identifiers{PAN: orUnknown(c.PAN), AccountNums: accountNums},
			KYC:               kyc,
			BehavioralSegment: orUnknown(behavioral),
		},
		Accounts:       accounts,
		Counterparties: populateCounterparties(txns, highRisk),
	}
}

func populateCounterparties(txns []evidence.Transaction, highRisk map[string]bool) claim.Counterparties {
	seen := make(map[string]int)
	highRiskSeen := make(map[string]bool)
	geo := make(map[string]int)

	for _, t := range txns {
		if t.CounterpartyCountry != "" {
			geo[t.CounterpartyCountry]++
		}
		if t.CounterpartyAccount == "" {
			continue
		}
		seen[t.CounterpartyAccount]++
		if highRisk[t.CounterpartyCountry] {
			highRiskSeen[t.CounterpartyAccount] = true
		}
	}

	repeat := 0
	for _, n := range seen {
		if n > 1 {
			repeat++
		}
	}

	return claim.Counterparties{
		UniqueCount:          len(seen),
		HighRiskCount:        len(highRiskSeen),
		GeoDistribution:      geo,
		RepeatCounterparties: repeat,
	}
}

func populatePipelineTransforms(in []claim.PipelineTransform) []claim.PipelineTransform {
	out := make([]claim.PipelineTransform, 0, len(in))
	for _, t := range in {
		rulesApplied := make([]string, len(t.TransformRulesApplied))
		copy(rulesApplied, t.TransformRulesApplied)
		t.TransformRulesApplied = rulesApplied
		out = append(out, t)
	}
	return out
}

// populateSuspiciousPatterns writes one pattern per fired rule. All patterns
// share the case chronology and velocity figures.
func populateSuspiciousPatterns(eval *rules.Evaluation, txns []evidence.Transaction) []claim.SuspiciousPattern {
	fired := eval.Fired()
	patterns := make([]claim.SuspiciousPattern, 0, len(fired))
	if len(fired) == 0 {
		return patterns
	}

	chronology := buildChronology(txns)
	velocity := buildVelocity(txns)

	for _, r := range fired {
		refs := make([]string, len(r.EvidenceRefs))
		copy(refs, r.EvidenceRefs)
		patterns = append(patterns, claim.SuspiciousPattern{
			Summary:         r.Reasoning,
			PatternType:     orUnknown(r.Typology),
			Chronology:      chronology,
			VelocityMetrics: velocity,
			EvidenceRefs:    refs,
		})
	}
	return patterns
}

// buildChronology totals credits and debits per calendar month (UTC).
func buildChronology(txns []evidence.Transaction) []claim.ChronologyEntry {
	type key struct {
		period string
		event  evidence.TxnType
	}
	totals := make(map[key]decimal.Decimal)
	for _, t := range txns {
		k := key{period: t.Timestamp.UTC().Format("2006-01"), event: t.TxnType}
		totals[k] = totals[k].Add(t.Amount)
	}

	keys := make([]key, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].period != keys[j].period {
			return keys[i].period < keys[j].period
		}
		return keys[i].event < keys[j].event
	})

	entries := make([]claim.ChronologyEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, claim.ChronologyEntry{
			Event:  string(k.event),
			Period: k.period,
			Total:  totals[k],
		})
	}
	return entries
}

// buildVelocity measures how quickly credited funds leave: the mean hours
// from each credit to the next debit.
func buildVelocity(txns []evidence.Transaction) claim.VelocityMetrics {
	sorted := make([]evidence.Transaction, len(txns))
	copy(sorted, txns)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var inflow, outflow decimal.Decimal
	var gaps []float64
	for i, t := range sorted {
		if t.TxnType == evidence.TxnDebit {
			outflow = outflow.Add(t.Amount)
			continue
		}
		inflow = inflow.Add(t.Amount)
		for _, next := range sorted[i+1:] {
			if next.TxnType == evidence.TxnDebit {
				gaps = append(gaps, next.Timestamp.Sub(t.Timestamp).Hours())
				break
			}
		}
	}

	turnaround := 0.0
	if len(gaps) > 0 {
		sum := 0.0
		for _, g := range gaps {
			sum += g
		}
		turnaround = round(sum/float64(len(gaps)), 2)
	}

	return claim.VelocityMetrics{Inflow: inflow, Outflow: outflow, TurnaroundTimeHours: turnaround}
}

func populateEvidenceSet(eval *rules.Evaluation) []claim.Evidence {
	out := make([]claim.Evidence, len(eval.ClaimSeed.EvidenceObjects))
	copy(out, eval.ClaimSeed.EvidenceObjects)
	return out
}

func populateDetectionLogic(eval *rules.Evaluation, scores scoring.Scores, firedAt time.Time) claim.DetectionLogic {
	ruleIDs := make(map[string]string, len(eval.TriggeredRules))
	for i, r := range eval.TriggeredRules {
		ruleIDs[r.RuleName] = fmt.Sprintf("R%02d", i+1)
	}

	fired := eval.Fired()
	matched := make([]claim.RuleMatch, 0, len(fired))
	for _, r := range fired {
		matched = append(matched, claim.RuleMatch{
			RuleID:         ruleIDs[r.RuleName],
			Name:           r.RuleName,
			Thresholds:     r.Thresholds,
			MatchStrength:  clamp01(r.Confidence),
			FiredTimestamp: firedAt,
		})
	}

	modelScores := []claim.ModelScore{}
	if scores.Model != "" {
		modelScores = append(modelScores, claim.ModelScore{
			Model:             scores.Model,
			RawScore:          clamp01(scores.Confidence),
			ShapContributions: scores.FeatureImportances,
		})
	}

	agg := eval.ClaimSeed.Aggregates
	credit, _ := agg.TotalCredit.Float64()
	debit, _ := agg.TotalDebit.Float64()

	return claim.DetectionLogic{
		RulesMatched: matched,
		ModelScores:  modelScores,
		DerivedMetrics: map[string]float64{
			"rule_risk_score":       eval.RiskScore,
			"rule_confidence":       eval.ConfidenceScore,
			"rules_triggered":       float64(len(fired)),
			"total_transactions":    float64(agg.TotalTransactions),
			"total_credit":          credit,
			"total_debit":           debit,
			"unique_counterparties": float64(agg.UniqueCounterparties),
			"date_range_days":       float64(agg.DateRangeDays),
		},
	}
}

func populateRiskAssessment(eval *rules.Evaluation) claim.RiskAssessment {
	typologies := make([]string, len(eval.Typologies))
	copy(typologies, eval.Typologies)

	predicate := claim.UnknownValue
	if r, ok := eval.Result(rules.RulePredicateOffence); ok && r.Triggered && r.Typology != "" {
		predicate = r.Typology
	}

	return claim.RiskAssessment{
		OverallRiskScore: round(eval.RiskScore*100, 2),
		Typologies:       typologies,
		SeverityBand:     SeverityBand(eval.RiskScore),
		ConfidenceLevel:  clamp01(eval.ConfidenceScore),
		PredicateOffense: predicate,
	}
}

// populateRegulatoryHooks cites guideline and prior-SAR hits. Templates shape
// the narrative and are recorded in the generation trace instead.
func populateRegulatoryHooks(r Retrieval, jurisdiction string, retrievedAt time.Time) []claim.RegulatoryHook {
	hooks := make([]claim.RegulatoryHook, 0, len(r.Guidelines)+len(r.PriorSARs))
	add := func(category string, hits []Snippet) {
		for i, s := range hits {
			docID := firstNonEmpty(s.meta("doc_id"), s.meta("source_file"), fmt.Sprintf("%s-%d", category, i+1))
			hooks = append(hooks, claim.RegulatoryHook{
				DocID:              docID,
				Paragraph:          s.Content,
				SimilarityScore:    round(s.Similarity(), 4),
				Jurisdiction:       firstNonEmpty(s.meta("jurisdiction"), jurisdiction),
				RetrievalTimestamp: retrievedAt,
			})
		}
	}
	add("guidelines", r.Guidelines)
	add("prior_sars", r.PriorSARs)
	return hooks
}

func populateGenerationTrace(gen *Generation, eval *rules.Evaluation, r Retrieval, defaultTemperature float64) claim.GenerationTrace {
	trace := claim.GenerationTrace{
		IntermediateReasoning: []string{},
		Temperature:           defaultTemperature,
	}
	if gen != nil {
		trace.LLMPrompt = gen.Prompt
		trace.TokenUsage = claim.TokenUsage{Input: gen.InputTokens, Output: gen.OutputTokens}
		if gen.Temperature != nil {
			trace.Temperature = *gen.Temperature
		}
		trace.IntermediateReasoning = append(trace.IntermediateReasoning, gen.Reasoning...)
	}
	for _, res := range eval.Fired() {
		trace.IntermediateReasoning = append(trace.IntermediateReasoning,
			fmt.Sprintf("%s: %s", res.RuleName, res.Reasoning))
	}

	templateIDs := make([]string, 0, len(r.Templates))
	for i, s := range r.Templates {
		templateIDs = append(templateIDs, firstNonEmpty(s.meta("template_id"), s.meta("doc_id"),
			s.meta("source_file"), fmt.Sprintf("templates-%d", i+1)))
	}

	topK := r.TopK
	if topK < 1 {
		topK = defaultTopK
	}

	sum, n := 0.0, 0
	for _, hits := range [][]Snippet{r.Guidelines, r.Templates, r.PriorSARs} {
		for _, s := range hits {
			sum += s.Similarity()
			n++
		}
	}
	avg := 0.0
	if n > 0 {
		avg = round(sum/float64(n), 4)
	}

	trace.RetrievalContext = claim.RetrievalContext{
		TemplateIDs:   templateIDs,
		TopK:          topK,
		AvgSimilarity: avg,
	}
	return trace
}

func populateAuditTrail() claim.AuditTrail {
	return claim.AuditTrail{EditsHistory: []claim.Edit{}, Approvals: []claim.Approval{}}
}

// populateSecurityControls counts PII present in the subject record unless
// the caller supplied redaction figures.
func populateSecurityControls(c CustomerData, sec *Security, roles []string) claim.SecurityControls {
	rbac := make([]string, len(roles))
	copy(rbac, roles)

	if sec != nil {
		mask := append([]string{}, sec.RedactionMask...)
		flags := append([]string{}, sec.BiasFlags...)
		return claim.SecurityControls{
			RedactionMask:   mask,
			PIIDetected:     sec.PIIDetected,
			PIIRedacted:     sec.PIIRedacted,
			RBACRolesAccess: rbac,
			BiasCheck:       claim.BiasCheck{Unbiased: len(flags) == 0, Flags: flags},
		}
	}

	mask := []string{}
	if c.Name != "" {
		mask = append(mask, "subject.customer.name")
	}
	if c.PAN != "" {
		mask = append(mask, "subject.customer.identifiers.pan")
	}
	detected := len(mask)
	if len(c.Accounts) > 0 {
		mask = append(mask, "subject.customer.identifiers.account_nums")
		detected += len(c.Accounts)
	}

	return claim.SecurityControls{
		RedactionMask:   mask,
		PIIDetected:     detected,
		PIIRedacted:     0,
		RBACRolesAccess: rbac,
		BiasCheck:       claim.BiasCheck{Unbiased: true, Flags: []string{}},
	}
}

func orUnknown(s string) string {
	if s == "" {
		return claim.UnknownValue
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

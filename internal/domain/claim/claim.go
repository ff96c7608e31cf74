package claim

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/evidence"
)

// SchemaVersion is the claim structure version written into every claim.
const SchemaVersion = "1.0"

// StageClaimGeneration is the pipeline stage that creates claims.
const StageClaimGeneration = "claim_generation"

// UnknownValue fills required strings the inputs did not supply.
const UnknownValue = "UNKNOWN"

type Status string

const (
	StatusDraft         Status = "draft"
	StatusAnalystReview Status = "analyst_review"
	StatusApproved      Status = "approved"
	StatusFiled         Status = "filed"
	StatusRejected      Status = "rejected"
)

type Environment string

const (
	EnvironmentOnPrem     Environment = "on-prem"
	EnvironmentAWS        Environment = "aws"
	EnvironmentMultiCloud Environment = "multi-cloud"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type ModelVersions struct {
	LLM   string `json:"llm" validate:"required"`
	Rules string `json:"rules" validate:"required"`
}

type Identifiers struct {
	PAN         string   `json:"pan"`
	AccountNums []string `json:"account_nums"`
}

type KYCProfile struct {
	RiskRating      int    `json:"risk_rating" validate:"gte=0,lte=100"`
	RiskSegment     string `json:"risk_segment"`
	OnboardingDate  string `json:"onboarding_date"`
	PEPStatus       bool   `json:"pep_status"`
	SanctionsScreen string `json:"sanctions_screen" validate:"required"`
	AdverseMedia    bool   `json:"adverse_media"`
}

type Customer struct {
	CustomerID        string      `json:"customer_id" validate:"required"`
	Identifiers       Identifiers `json:"identifiers"`
	KYC               KYCProfile  `json:"kyc"`
	BehavioralSegment string      `json:"behavioral_segment"`
}

type Account struct {
	AccountID      string          `json:"account_id" validate:"required"`
	Type           string          `json:"type"`
	BalanceAtAlert decimal.Decimal `json:"balance_at_alert"`
	OpeningDate    string          `json:"opening_date"`
}

type Counterparties struct {
	UniqueCount          int            `json:"unique_count" validate:"gte=0"`
	HighRiskCount        int            `json:"high_risk_count" validate:"gte=0"`
	GeoDistribution      map[string]int `json:"geo_distribution"`
	RepeatCounterparties int            `json:"repeat_counterparties" validate:"gte=0"`
}

type Subject struct {
	Customer       Customer       `json:"customer"`
	Accounts       []Account      `json:"accounts" validate:"dive"`
	Counterparties Counterparties `json:"counterparties"`
}

type PipelineTransform struct {
	Stage                 string    `json:"stage" validate:"required"`
	Input                 string    `json:"input"`
	Output                string    `json:"output"`
	TransformRulesApplied []string  `json:"transform_rules_applied"`
	InputSizeBytes        int64     `json:"input_size_bytes" validate:"gte=0"`
	OutputSizeBytes       int64     `json:"output_size_bytes" validate:"gte=0"`
	Timestamp             time.Time `json:"timestamp"`
	Hash                  string    `json:"hash" validate:"sha256"`
}

type ChronologyEntry struct {
	Event  string          `json:"event"`
	Period string          `json:"period"`
	Total  decimal.Decimal `json:"total"`
}

type VelocityMetrics struct {
	Inflow              decimal.Decimal `json:"inflow"`
	Outflow             decimal.Decimal `json:"outflow"`
	TurnaroundTimeHours float64         `json:"turnaround_time_hours" validate:"gte=0"`
}

type SuspiciousPattern struct {
	Summary         string            `json:"summary" validate:"required"`
	PatternType     string            `json:"pattern_type" validate:"required"`
	Chronology      []ChronologyEntry `json:"chronology"`
	VelocityMetrics VelocityMetrics   `json:"velocity_metrics"`
	EvidenceRefs    []string          `json:"evidence_refs"`
}

// Evidence items are shared with normalization and never re-shaped.
type Evidence = evidence.Item

type RuleMatch struct {
	RuleID         string            `json:"rule_id" validate:"required"`
	Name           string            `json:"name" validate:"required"`
	Thresholds     map[string]string `json:"thresholds"`
	MatchStrength  float64           `json:"match_strength" validate:"gte=0,lte=1"`
	FiredTimestamp time.Time         `json:"fired_timestamp"`
}

type ModelScore struct {
	Model             string             `json:"model" validate:"required"`
	RawScore          float64            `json:"raw_score" validate:"gte=0,lte=1"`
	ShapContributions map[string]float64 `json:"shap_contributions"`
}

type DetectionLogic struct {
	RulesMatched   []RuleMatch        `json:"rules_matched" validate:"dive"`
	ModelScores    []ModelScore       `json:"model_scores" validate:"dive"`
	DerivedMetrics map[string]float64 `json:"derived_metrics"`
}

type RiskAssessment struct {
	OverallRiskScore float64  `json:"overall_risk_score" validate:"gte=0,lte=100"`
	Typologies       []string `json:"typologies"`
	SeverityBand     Severity `json:"severity_band" validate:"required,oneof=low medium high critical"`
	ConfidenceLevel  float64  `json:"confidence_level" validate:"gte=0,lte=1"`
	PredicateOffense string   `json:"predicate_offense" validate:"required"`
}

type RegulatoryHook struct {
	DocID              string    `json:"doc_id" validate:"required"`
	Paragraph          string    `json:"paragraph"`
	SimilarityScore    float64   `json:"similarity_score" validate:"gte=0,lte=1"`
	Jurisdiction       string    `json:"jurisdiction"`
	RetrievalTimestamp time.Time `json:"retrieval_timestamp"`
}

type TokenUsage struct {
	Input  int `json:"input" validate:"gte=0"`
	Output int `json:"output" validate:"gte=0"`
}

type RetrievalContext struct {
	TemplateIDs   []string `json:"template_ids"`
	TopK          int      `json:"top_k" validate:"gte=1"`
	AvgSimilarity float64  `json:"avg_similarity" validate:"gte=0,lte=1"`
}

type GenerationTrace struct {
	LLMPrompt             string           `json:"llm_prompt"`
	IntermediateReasoning []string         `json:"intermediate_reasoning"`
	TokenUsage            TokenUsage       `json:"token_usage"`
	Temperature           float64          `json:"temperature" validate:"gte=0,lte=2"`
	RetrievalContext      RetrievalContext `json:"retrieval_context"`
}

type Edit struct {
	Version   string    `json:"version" validate:"required"`
	EditorID  string    `json:"editor_id" validate:"required"`
	Timestamp time.Time `json:"timestamp"`
	Diff      string    `json:"diff"`
	Reason    string    `json:"reason"`
}

type Approval struct {
	ApproverID string    `json:"approver_id" validate:"required"`
	Timestamp  time.Time `json:"timestamp"`
	Status     string    `json:"status" validate:"required"`
}

type AuditTrail struct {
	EditsHistory []Edit     `json:"edits_history" validate:"dive"`
	Approvals    []Approval `json:"approvals" validate:"dive"`
}

type BiasCheck struct {
	Unbiased bool     `json:"unbiased"`
	Flags    []string `json:"flags"`
}

type SecurityControls struct {
	RedactionMask   []string  `json:"redaction_mask"`
	PIIDetected     int       `json:"pii_detected" validate:"gte=0"`
	PIIRedacted     int       `json:"pii_redacted" validate:"gte=0"`
	RBACRolesAccess []string  `json:"rbac_roles_access" validate:"min=1"`
	BiasCheck       BiasCheck `json:"bias_check"`
}

type IntegrityHashes struct {
	InputHash     string `json:"input_hash" validate:"sha256"`
	OutputHash    string `json:"output_hash" validate:"sha256"`
	FullChainHash string `json:"full_chain_hash" validate:"sha256"`
}

// PreHash is a fully assembled claim without its integrity section. The
// output hash is computed over this record, so it can never observe itself.
type PreHash struct {
	ClaimID              string        `json:"claim_id" validate:"required,uuid4"`
	CaseID               string        `json:"case_id" validate:"required"`
	AlertIDs             []string      `json:"alert_ids" validate:"min=1,dive,required"`
	Version              string        `json:"version" validate:"required"`
	TimestampCreated     time.Time     `json:"timestamp_created" validate:"required"`
	TimestampLastUpdated time.Time     `json:"timestamp_last_updated" validate:"required"`
	Stage                string        `json:"stage" validate:"required"`
	Status               Status        `json:"status" validate:"required,oneof=draft analyst_review approved filed rejected"`
	Environment          Environment   `json:"environment" validate:"required,oneof=on-prem aws multi-cloud"`
	Jurisdiction         []string      `json:"jurisdiction" validate:"min=1,dive,required"`
	UserID               string        `json:"user_id" validate:"required"`
	DataLineageHash      string        `json:"data_lineage_hash" validate:"sha256"`
	ModelVersions        ModelVersions `json:"model_versions"`

	Subject            Subject             `json:"subject"`
	PipelineTransforms []PipelineTransform `json:"pipeline_transforms" validate:"dive"`
	SuspiciousPatterns []SuspiciousPattern `json:"suspicious_patterns" validate:"dive"`
	EvidenceSet        []Evidence          `json:"evidence_set" validate:"dive"`
	DetectionLogic     DetectionLogic      `json:"detection_logic"`
	RiskAssessment     RiskAssessment      `json:"risk_assessment"`
	RegulatoryHooks    []RegulatoryHook    `json:"regulatory_hooks" validate:"dive"`
	GenerationTrace    GenerationTrace     `json:"generation_trace"`
	AuditTrail         AuditTrail          `json:"audit_trail"`
	SecurityControls   SecurityControls    `json:"security_controls"`
}

// Object is the final, sealed claim.
type Object struct {
	PreHash
	IntegrityHashes IntegrityHashes `json:"integrity_hashes"`
}

// Seal composes the final claim from a pre-hash record and its digests.
func Seal(pre PreHash, inputHash, outputHash, fullChainHash string) Object {
	return Object{
		PreHash: pre,
		IntegrityHashes: IntegrityHashes{
			InputHash:     inputHash,
			OutputHash:    outputHash,
			FullChainHash: fullChainHash,
		},
	}
}

// PipelineHashes returns the per-stage hashes in pipeline order.
func (p *PreHash) PipelineHashes() []string {
	hashes := make([]string, 0, len(p.PipelineTransforms))
	for _, t := range p.PipelineTransforms {
		hashes = append(hashes, t.Hash)
	}
	return hashes
}

// PrimaryJurisdiction is the first listed jurisdiction, or UNKNOWN.
func (p *PreHash) PrimaryJurisdiction() string {
	if len(p.Jurisdiction) == 0 || p.Jurisdiction[0] == "" {
		return UnknownValue
	}
	return p.Jurisdiction[0]
}

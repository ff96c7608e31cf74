// Package claimgen assembles Claim Objects from detection output. Assembly
// order is fixed: lineage and input hashes, then the section mapping, then
// the output and full-chain hashes, then schema validation.
package claimgen

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/hashchain"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/rules"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/environment"
)

// SystemUser is recorded when no analyst initiated generation.
const SystemUser = "system"

// Config holds generation defaults.
type Config struct {
	DefaultJurisdiction   string
	RBACRoles             []string
	Temperature           float64
	LLMModel              string
	HighRiskJurisdictions []string
}

func DefaultConfig() Config {
	return Config{
		DefaultJurisdiction:   "IN",
		RBACRoles:             []string{"analyst", "compliance_officer", "auditor"},
		Temperature:           0.7,
		HighRiskJurisdictions: rules.DefaultHighRiskJurisdictions,
	}
}

// Option customizes a Generator.
type Option func(*Generator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithIDSource replaces the random claim id source.
func WithIDSource(newID func() string) Option {
	return func(g *Generator) { g.newID = newID }
}

// Generator builds claims. It holds no per-claim state.
type Generator struct {
	cfg      Config
	tracker  *environment.Tracker
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
	highRisk map[string]bool
}

func NewGenerator(cfg Config, tracker *environment.Tracker, logger *zap.Logger, opts ...Option) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.RBACRoles) == 0 {
		cfg.RBACRoles = DefaultConfig().RBACRoles
	}
	if cfg.DefaultJurisdiction == "" {
		cfg.DefaultJurisdiction = DefaultConfig().DefaultJurisdiction
	}

	g := &Generator{
		cfg:      cfg,
		tracker:  tracker,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
		highRisk: make(map[string]bool, len(cfg.HighRiskJurisdictions)),
	}
	for _, c := range cfg.HighRiskJurisdictions {
		g.highRisk[c] = true
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns a sealed, schema-valid claim or a ClaimGenerationError
// wrapping the first failure. No partial claim is ever returned.
func (g *Generator) Generate(in Input) (*claim.Object, error) {
	obj, err := g.generate(in)
	if err != nil {
		g.logger.Warn("claim generation failed",
			zap.String("case_id", in.CaseID),
			zap.String("code", errors.CodeOf(err)),
			zap.Error(err))
		return nil, errors.NewClaimGenerationError(err)
	}

	g.logger.Info("claim generated",
		zap.String("case_id", obj.CaseID),
		zap.String("claim_id", obj.ClaimID),
		zap.String("severity", string(obj.RiskAssessment.SeverityBand)),
		zap.String("full_chain_hash", obj.IntegrityHashes.FullChainHash))
	return obj, nil
}

func (g *Generator) generate(in Input) (*claim.Object, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	lineage, err := hashchain.DataLineageHash(in.CaseID, in.AlertIDs, in.Customer)
	if err != nil {
		return nil, err
	}
	inputHash, err := hashchain.ClaimInputHash(in.CaseID, in.AlertIDs, in.Customer,
		in.Evaluation.TriggeredRules, in.FraudScores)
	if err != nil {
		return nil, err
	}

	now := g.now().UTC()
	jurisdiction := g.jurisdiction(in.Jurisdiction)
	eval := in.Evaluation

	pre := claim.PreHash{
		ClaimID:              g.newID(),
		CaseID:               in.CaseID,
		AlertIDs:             append([]string{}, in.AlertIDs...),
		Version:              claim.SchemaVersion,
		TimestampCreated:     now,
		TimestampLastUpdated: now,
		Stage:                claim.StageClaimGeneration,
		Status:               claim.StatusDraft,
		Environment:          g.environment(in.Environment),
		Jurisdiction:         jurisdiction,
		UserID:               firstNonEmpty(in.UserID, SystemUser),
		DataLineageHash:      lineage,
		ModelVersions:        g.modelVersions(in.Generation),

		Subject:            populateSubject(in.Customer, in.Transactions, g.highRisk),
		PipelineTransforms: populatePipelineTransforms(in.PipelineTransforms),
		SuspiciousPatterns: populateSuspiciousPatterns(eval, in.Transactions),
		EvidenceSet:        populateEvidenceSet(eval),
		DetectionLogic:     populateDetectionLogic(eval, in.FraudScores, now),
		RiskAssessment:     populateRiskAssessment(eval),
		RegulatoryHooks:    populateRegulatoryHooks(in.Retrieval, jurisdiction[0], now),
		GenerationTrace:    populateGenerationTrace(in.Generation, eval, in.Retrieval, g.cfg.Temperature),
		AuditTrail:         populateAuditTrail(),
		SecurityControls:   populateSecurityControls(in.Customer, in.Security, g.cfg.RBACRoles),
	}

	outputHash, err := hashchain.ClaimOutputHash(pre)
	if err != nil {
		return nil, err
	}
	fullChain := hashchain.FullChainHash(inputHash, outputHash, hashchain.PipelineChainHash(pre.PipelineHashes()))

	obj := claim.Seal(pre, inputHash, outputHash, fullChain)
	if err := claim.Validate(&obj); err != nil {
		return nil, err
	}
	return &obj, nil
}

func (g *Generator) jurisdiction(requested []string) []string {
	out := make([]string, 0, len(requested))
	for _, j := range requested {
		if j != "" {
			out = append(out, j)
		}
	}
	if len(out) == 0 {
		out = append(out, g.cfg.DefaultJurisdiction)
	}
	return out
}

func (g *Generator) environment(requested claim.Environment) claim.Environment {
	if requested != "" {
		return requested
	}
	if g.tracker != nil {
		return g.tracker.Deployment()
	}
	return claim.EnvironmentOnPrem
}

func (g *Generator) modelVersions(gen *Generation) claim.ModelVersions {
	llm := g.cfg.LLMModel
	if gen != nil && gen.Model != "" {
		llm = gen.Model
	}
	return claim.ModelVersions{LLM: orUnknown(llm), Rules: rules.EngineVersion}
}

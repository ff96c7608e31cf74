// Package pipeline runs one case end to end: normalization, detection,
// scoring, retrieval, claim generation, narrative, alerting and filing. Every
// step is recorded on the case audit trail, caused by the step before it.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/evidence"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/hashchain"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/rules"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/scoring"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/telemetry"
	"github.com/davidleathers/sar-claim-pipeline/internal/metrics"
	auditsvc "github.com/davidleathers/sar-claim-pipeline/internal/service/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/claimgen"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/omega"
)

// DefaultRiskAlertThreshold raises a high-risk alert at or above this
// composite risk.
const DefaultRiskAlertThreshold = 0.75

type Config struct {
	RiskAlertThreshold float64
}

// CaseRequest is one case submitted for processing.
type CaseRequest struct {
	Case         evidence.RawCase  `json:"case"`
	UserID       string            `json:"user_id"`
	Jurisdiction []string          `json:"jurisdiction,omitempty"`
	Environment  claim.Environment `json:"environment,omitempty"`
	// Narrative, when set, replaces the configured narrator for this case.
	Narrative    string `json:"narrative,omitempty"`
	FilingNumber string `json:"filing_number,omitempty"`
}

// HighRiskAlert is raised when a case crosses the alert threshold.
type HighRiskAlert struct {
	AlertID   string    `json:"alert_id"`
	RiskScore float64   `json:"risk_score"`
	Threshold float64   `json:"threshold"`
	CreatedAt time.Time `json:"created_at"`
}

// Result is everything one run produced.
type Result struct {
	CaseID     string            `json:"case_id"`
	Evaluation *rules.Evaluation `json:"rule_results"`
	Scores     scoring.Scores    `json:"fraud_scores"`
	Claim      *claim.Object     `json:"claim_object"`
	Narrative  *Narrative        `json:"narrative"`
	Alert      *HighRiskAlert    `json:"alert,omitempty"`
	Filing     *omega.Outcome    `json:"filing"`
	AuditTrail []uuid.UUID       `json:"audit_event_ids"`
}

// Option customizes a Service.
type Option func(*Service)

func WithMetrics(m *metrics.Registry) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithRetriever(r Retriever) Option {
	return func(s *Service) { s.retriever = r }
}

func WithNarrator(n Narrator) Option {
	return func(s *Service) { s.narrator = n }
}

// Service orchestrates case processing.
type Service struct {
	cfg        Config
	normalizer *evidence.Normalizer
	engine     *rules.Engine
	scorer     *scoring.Scorer
	generator  *claimgen.Generator
	claims     ClaimStore
	finalizer  Finalizer
	auditor    AuditLogger
	retriever  Retriever
	narrator   Narrator
	logger     *zap.Logger
	metrics    *metrics.Registry
	tracer     trace.Tracer
	now        func() time.Time
}

// Deps groups the collaborators a Service needs.
type Deps struct {
	Normalizer *evidence.Normalizer
	Engine     *rules.Engine
	Scorer     *scoring.Scorer
	Generator  *claimgen.Generator
	Claims     ClaimStore
	Finalizer  Finalizer
	Auditor    AuditLogger
}

func NewService(cfg Config, deps Deps, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RiskAlertThreshold <= 0 {
		cfg.RiskAlertThreshold = DefaultRiskAlertThreshold
	}
	s := &Service{
		cfg:        cfg,
		normalizer: deps.Normalizer,
		engine:     deps.Engine,
		scorer:     deps.Scorer,
		generator:  deps.Generator,
		claims:     deps.Claims,
		finalizer:  deps.Finalizer,
		auditor:    deps.Auditor,
		retriever:  NoopRetriever{},
		narrator:   StaticNarrator{},
		logger:     logger,
		tracer:     otel.Tracer("pipeline"),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run tracks the audit chain of one case.
type run struct {
	s      *Service
	caseID string
	userID string
	ids    []uuid.UUID
}

// log appends an event caused by the previous step.
func (r *run) log(ctx context.Context, typ audit.EventType, data map[string]any) error {
	entry := auditsvc.Entry{CaseID: r.caseID, Type: typ, UserID: r.userID, Data: data}
	if n := len(r.ids); n > 0 {
		entry.CausedBy = []uuid.UUID{r.ids[n-1]}
	}
	ev, err := r.s.auditor.Log(ctx, entry)
	if err != nil {
		return err
	}
	r.ids = append(r.ids, ev.ID)
	return nil
}

func (r *run) last() []uuid.UUID {
	if len(r.ids) == 0 {
		return nil
	}
	return []uuid.UUID{r.ids[len(r.ids)-1]}
}

// ProcessCase runs every step for one case. Each step's audit event is
// committed as it happens; a failure stops the run and leaves the trail of
// completed steps in place.
func (s *Service) ProcessCase(ctx context.Context, req CaseRequest) (*Result, error) {
	raw := req.Case
	ctx, span := s.tracer.Start(ctx, "pipeline.process_case",
		trace.WithAttributes(telemetry.CaseID(raw.CaseID)))
	defer span.End()

	s.metrics.UpdateCasesInFlight(1)
	defer s.metrics.UpdateCasesInFlight(-1)

	res, err := s.process(ctx, req)
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.Error("Case processing failed",
			zap.String("case_id", raw.CaseID),
			zap.String("code", errors.CodeOf(err)),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("Case processed",
		zap.String("case_id", res.CaseID),
		zap.String("claim_id", res.Claim.ClaimID),
		zap.String("filing_number", res.Filing.FilingID),
		zap.Bool("regulatory_ready", res.Filing.RegulatoryReady),
		zap.Bool("alert_raised", res.Alert != nil),
	)
	return res, nil
}

func (s *Service) process(ctx context.Context, req CaseRequest) (*Result, error) {
	raw := req.Case
	userID := req.UserID
	if userID == "" {
		userID = claimgen.SystemUser
	}
	r := &run{s: s, caseID: raw.CaseID, userID: userID}
	var transforms []claim.PipelineTransform

	err := r.log(ctx, audit.EventCaseCreated, map[string]any{
		"customer_id":       raw.Customer.CustomerID,
		"alert_count":       len(raw.Alerts),
		"transaction_count": len(raw.Transactions),
	})
	if err != nil {
		return nil, err
	}

	data, err := s.normalizer.Normalize(raw)
	if err != nil {
		return nil, err
	}
	t, err := s.transform("normalization", "raw_case", "normalized_data", raw, data, nil)
	if err != nil {
		return nil, err
	}
	transforms = append(transforms, t)
	err = r.log(ctx, audit.EventDataNormalized, map[string]any{
		audit.DataEvidenceCount: len(data.EvidenceObjects),
		"aggregates":            data.Aggregates,
		"stage_hash":            t.Hash,
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	eval, err := s.engine.Evaluate(data)
	fired := firedNames(eval)
	s.metrics.RecordRuleEvaluation(ctx, millis(start), fired, err == nil)
	if err != nil {
		return nil, err
	}
	t, err = s.transform("rule_evaluation", "normalized_data", "rule_results", data, eval, s.engine.RuleNames())
	if err != nil {
		return nil, err
	}
	transforms = append(transforms, t)
	err = r.log(ctx, audit.EventRulesEvaluated, map[string]any{
		audit.DataTriggeredRules: fired,
		"risk_score":             eval.RiskScore,
		"confidence_score":       eval.ConfidenceScore,
		"typologies":             eval.Typologies,
	})
	if err != nil {
		return nil, err
	}

	scores := s.scorer.Score(data, eval)
	t, err = s.transform("fraud_scoring", "rule_results", "fraud_scores", eval, scores, nil)
	if err != nil {
		return nil, err
	}
	transforms = append(transforms, t)
	err = r.log(ctx, audit.EventMLScored, map[string]any{
		"model":      scores.Model,
		"raw_score":  scores.RawScore,
		"confidence": scores.Confidence,
		"category":   scores.Category,
	})
	if err != nil {
		return nil, err
	}

	retrieval, err := s.retriever.Retrieve(ctx, data, eval)
	if err != nil {
		return nil, errors.NewInternalError("retrieval failed").WithCause(err)
	}
	err = r.log(ctx, audit.EventRAGRetrieved, map[string]any{
		audit.DataResults: retrieval.Categories(),
		"total_hits":      retrieval.Total(),
	})
	if err != nil {
		return nil, err
	}

	start = time.Now()
	obj, err := s.generator.Generate(claimgen.Input{
		CaseID:             data.CaseID,
		AlertIDs:           data.AlertIDs(),
		UserID:             userID,
		Customer:           claimgen.CustomerFromCase(data),
		Transactions:       data.Transactions,
		PipelineTransforms: transforms,
		Evaluation:         eval,
		FraudScores:        scores,
		Retrieval:          retrieval,
		Jurisdiction:       req.Jurisdiction,
		Environment:        req.Environment,
	})
	if err != nil {
		s.metrics.RecordClaimFailed(ctx, causeCode(err))
		return nil, err
	}
	s.metrics.RecordClaimGenerated(ctx, millis(start), string(obj.RiskAssessment.SeverityBand), string(obj.Environment))
	if err := s.claims.Save(ctx, obj); err != nil {
		return nil, err
	}
	err = r.log(ctx, audit.EventClaimGenerated, map[string]any{
		"claim_id":        obj.ClaimID,
		"severity_band":   string(obj.RiskAssessment.SeverityBand),
		"full_chain_hash": obj.IntegrityHashes.FullChainHash,
	})
	if err != nil {
		return nil, err
	}

	narrator := s.narrator
	if req.Narrative != "" {
		narrator = StaticNarrator{Text: req.Narrative}
	}
	narrative, err := narrator.Narrate(ctx, obj, retrieval)
	if err != nil {
		return nil, errors.NewInternalError("narrative generation failed").WithCause(err)
	}
	err = r.log(ctx, audit.EventNarrativeGenerated, map[string]any{
		audit.DataPrompt:    narrative.Prompt,
		audit.DataProvider:  narrative.Provider,
		audit.DataNarrative: narrative.Text,
		"model":             narrative.Model,
	})
	if err != nil {
		return nil, err
	}

	var alert *HighRiskAlert
	if eval.RiskScore >= s.cfg.RiskAlertThreshold {
		alert = &HighRiskAlert{
			AlertID:   uuid.NewString(),
			RiskScore: eval.RiskScore,
			Threshold: s.cfg.RiskAlertThreshold,
			CreatedAt: s.now().UTC(),
		}
		err = r.log(ctx, audit.EventAlertCreated, map[string]any{
			"alert_id":   alert.AlertID,
			"risk_score": alert.RiskScore,
			"threshold":  alert.Threshold,
			"claim_id":   obj.ClaimID,
		})
		if err != nil {
			return nil, err
		}
		s.logger.Warn("High-risk case alert raised",
			zap.String("case_id", obj.CaseID),
			zap.Float64("risk_score", eval.RiskScore),
		)
	}

	outcome, err := s.finalizer.Finalize(ctx, omega.Request{
		Claim:        obj,
		Narrative:    narrative.Text,
		FilingNumber: req.FilingNumber,
		CreatedBy:    userID,
		CausedBy:     r.last(),
	})
	if err != nil {
		return nil, err
	}
	r.ids = append(r.ids, outcome.AuditEventIDs...)

	return &Result{
		CaseID:     data.CaseID,
		Evaluation: eval,
		Scores:     scores,
		Claim:      obj,
		Narrative:  narrative,
		Alert:      alert,
		Filing:     outcome,
		AuditTrail: r.ids,
	}, nil
}

// transform records one pipeline stage. The stage hash covers its output.
func (s *Service) transform(stage, input, output string, in, out any, applied []string) (claim.PipelineTransform, error) {
	inBytes, err := hashchain.Canonicalize(in)
	if err != nil {
		return claim.PipelineTransform{}, err
	}
	outBytes, err := hashchain.Canonicalize(out)
	if err != nil {
		return claim.PipelineTransform{}, err
	}
	if applied == nil {
		applied = []string{}
	}
	return claim.PipelineTransform{
		Stage:                 stage,
		Input:                 input,
		Output:                output,
		TransformRulesApplied: applied,
		InputSizeBytes:        int64(len(inBytes)),
		OutputSizeBytes:       int64(len(outBytes)),
		Timestamp:             s.now().UTC(),
		Hash:                  hashchain.SumHex(outBytes),
	}, nil
}

func firedNames(eval *rules.Evaluation) []string {
	if eval == nil {
		return nil
	}
	fired := eval.Fired()
	names := make([]string, 0, len(fired))
	for _, r := range fired {
		names = append(names, r.RuleName)
	}
	return names
}

func millis(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000
}

// causeCode is the code of the failure wrapped by a generation error.
func causeCode(err error) string {
	if appErr, ok := errors.AsAppError(err); ok && appErr.Cause != nil {
		if code := errors.CodeOf(appErr.Cause); code != "" {
			return code
		}
	}
	return errors.CodeOf(err)
}

// Package service wires the pipeline services together from configuration
// and a backing store.
package service

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/evidence"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/filing"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/rules"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/scoring"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/config"
	"github.com/davidleathers/sar-claim-pipeline/internal/metrics"
	auditsvc "github.com/davidleathers/sar-claim-pipeline/internal/service/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/claimgen"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/claims"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/environment"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/omega"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/pipeline"
)

// Store is a backing store: the memory store in tools and tests, PostgreSQL
// in the server.
type Store interface {
	Audit() audit.Repository
	Claims() claim.Repository
	Filings() filing.Repository
	WithinCase(ctx context.Context, caseID string, fn func(ctx context.Context) error) error
}

// Services is the wired service graph.
type Services struct {
	Tracker    *environment.Tracker
	Normalizer *evidence.Normalizer
	Engine     *rules.Engine
	Scorer     *scoring.Scorer
	Generator  *claimgen.Generator
	Trail      *auditsvc.Trail
	Claims     *claims.Service
	Finalizer  *omega.Finalizer
	Pipeline   *pipeline.Service
}

// ServiceFactories builds services that share one store, logger and metrics
// registry.
type ServiceFactories struct {
	cfg       *config.Config
	store     Store
	logger    *zap.Logger
	metrics   *metrics.Registry
	cache     claims.Cache
	retriever pipeline.Retriever
	narrator  pipeline.Narrator
}

// FactoryOption customizes the built services.
type FactoryOption func(*ServiceFactories)

func WithMetrics(m *metrics.Registry) FactoryOption {
	return func(f *ServiceFactories) { f.metrics = m }
}

// WithClaimCache puts a read-through cache in front of claim reads.
func WithClaimCache(c claims.Cache) FactoryOption {
	return func(f *ServiceFactories) { f.cache = c }
}

func WithRetriever(r pipeline.Retriever) FactoryOption {
	return func(f *ServiceFactories) { f.retriever = r }
}

func WithNarrator(n pipeline.Narrator) FactoryOption {
	return func(f *ServiceFactories) { f.narrator = n }
}

func NewServiceFactories(cfg *config.Config, store Store, logger *zap.Logger, opts ...FactoryOption) *ServiceFactories {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &ServiceFactories{cfg: cfg, store: store, logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *ServiceFactories) CreateTracker() *environment.Tracker {
	return environment.NewTracker(f.cfg.Pipeline.ServiceName, f.cfg.Version,
		claim.Environment(f.cfg.Pipeline.Environment))
}

func (f *ServiceFactories) CreateNormalizer() *evidence.Normalizer {
	return evidence.NewNormalizer(f.cfg.Pipeline.HomeCountry,
		decimal.NewFromFloat(f.cfg.Pipeline.HighValueAmount))
}

func (f *ServiceFactories) CreateEngine() *rules.Engine {
	return rules.NewEngine(f.cfg.Thresholds())
}

func (f *ServiceFactories) CreateScorer() *scoring.Scorer {
	return scoring.NewScorer(f.cfg.Pipeline.HomeCountry)
}

func (f *ServiceFactories) CreateGenerator(tracker *environment.Tracker) *claimgen.Generator {
	gen := claimgen.DefaultConfig()
	if len(f.cfg.Pipeline.DefaultJurisdiction) > 0 {
		gen.DefaultJurisdiction = f.cfg.Pipeline.DefaultJurisdiction[0]
	}
	gen.RBACRoles = f.cfg.Pipeline.RBACRoles
	gen.Temperature = f.cfg.Pipeline.Temperature
	gen.LLMModel = f.cfg.Pipeline.LLMModel
	if len(f.cfg.Rules.HighRiskJurisdictions) > 0 {
		gen.HighRiskJurisdictions = f.cfg.Rules.HighRiskJurisdictions
	}
	return claimgen.NewGenerator(gen, tracker, f.logger.Named("claimgen"))
}

func (f *ServiceFactories) CreateTrail(tracker *environment.Tracker) *auditsvc.Trail {
	return auditsvc.NewTrail(f.store.Audit(), f.store, tracker, f.logger.Named("audit"),
		auditsvc.WithMetrics(f.metrics))
}

func (f *ServiceFactories) CreateClaimService(trail *auditsvc.Trail) *claims.Service {
	opts := []claims.Option{claims.WithMetrics(f.metrics)}
	if f.cache != nil {
		opts = append(opts, claims.WithCache(f.cache))
	}
	return claims.NewService(f.store.Claims(), trail, f.store, f.logger.Named("claims"), opts...)
}

func (f *ServiceFactories) CreateFinalizer(trail *auditsvc.Trail) *omega.Finalizer {
	return omega.NewFinalizer(omega.Config{
		MinChecksPass:      f.cfg.Omega.MinChecksPass,
		MinNarrativeLength: f.cfg.Omega.MinNarrativeLength,
		FilingPrefix:       f.cfg.Omega.FilingPrefix,
	}, f.store.Filings(), trail, f.store, f.logger.Named("omega"), omega.WithMetrics(f.metrics))
}

// Build creates every service.
func (f *ServiceFactories) Build() *Services {
	s := &Services{
		Tracker:    f.CreateTracker(),
		Normalizer: f.CreateNormalizer(),
		Engine:     f.CreateEngine(),
		Scorer:     f.CreateScorer(),
	}
	s.Generator = f.CreateGenerator(s.Tracker)
	s.Trail = f.CreateTrail(s.Tracker)
	s.Claims = f.CreateClaimService(s.Trail)
	s.Finalizer = f.CreateFinalizer(s.Trail)

	opts := []pipeline.Option{pipeline.WithMetrics(f.metrics)}
	if f.retriever != nil {
		opts = append(opts, pipeline.WithRetriever(f.retriever))
	}
	if f.narrator != nil {
		opts = append(opts, pipeline.WithNarrator(f.narrator))
	}
	s.Pipeline = pipeline.NewService(pipeline.Config{
		RiskAlertThreshold: f.cfg.Pipeline.RiskAlertThreshold,
	}, pipeline.Deps{
		Normalizer: s.Normalizer,
		Engine:     s.Engine,
		Scorer:     s.Scorer,
		Generator:  s.Generator,
		Claims:     s.Claims,
		Finalizer:  s.Finalizer,
		Auditor:    s.Trail,
	}, f.logger.Named("pipeline"), opts...)

	return s
}

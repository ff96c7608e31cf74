// Package rest exposes the claim pipeline over HTTP.
package rest

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/evidence"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/filing"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/rules"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/scoring"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/validation"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/archive"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/auth"
	"github.com/davidleathers/sar-claim-pipeline/internal/metrics"
	auditsvc "github.com/davidleathers/sar-claim-pipeline/internal/service/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/claimgen"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/omega"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/pipeline"
)

// ClaimService stores and reviews sealed claims.
type ClaimService interface {
	Save(ctx context.Context, obj *claim.Object) error
	Get(ctx context.Context, claimID string) (*claim.Object, error)
	ListByCase(ctx context.Context, caseID string) ([]*claim.Object, error)
	Search(ctx context.Context, filter claim.Filter) ([]*claim.Object, error)
	ChangeStatus(ctx context.Context, claimID string, to claim.Status, actor, reason string) (*claim.StatusChange, error)
	History(ctx context.Context, claimID string) ([]*claim.StatusChange, error)
	VerifyIntegrity(ctx context.Context, claimID, actor string) error
}

// FilingService validates claims for regulators and tracks filings.
type FilingService interface {
	Finalize(ctx context.Context, req omega.Request) (*omega.Outcome, error)
	Submit(ctx context.Context, number, actor string) (*filing.StatusChange, error)
	Get(ctx context.Context, number string) (*filing.Filing, error)
	ListByCase(ctx context.Context, caseID string) ([]*filing.Filing, error)
	History(ctx context.Context, number string) ([]*filing.StatusChange, error)
}

type CaseProcessor interface {
	ProcessCase(ctx context.Context, req pipeline.CaseRequest) (*pipeline.Result, error)
}

// AuditTrail is the case audit log.
type AuditTrail interface {
	Log(ctx context.Context, entry auditsvc.Entry) (*audit.Event, error)
	GetTrail(ctx context.Context, caseID string) ([]*audit.Event, error)
	Reconstruct(ctx context.Context, caseID, fragment string) (*audit.Reconstruction, error)
	VerifyChain(ctx context.Context, caseID string) (*audit.ChainVerificationResult, error)
}

// CaseArchiver writes case bundles to long-term storage.
type CaseArchiver interface {
	ArchiveCase(ctx context.Context, caseID, actor string) (*archive.Manifest, error)
	VerifyArchive(ctx context.Context, caseID, archiveID string) (*archive.IntegrityResult, error)
}

// TokenValidator authenticates bearer tokens.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Principal, error)
}

// HealthChecker is a backing service probed by /healthz.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to HealthChecker.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Dependencies groups everything the handlers call.
type Dependencies struct {
	Normalizer *evidence.Normalizer
	Engine     *rules.Engine
	Scorer     *scoring.Scorer
	Generator  *claimgen.Generator
	Claims     ClaimService
	Filings    FilingService
	Pipeline   CaseProcessor
	Trail      AuditTrail
	Metrics    *metrics.Registry
	// Archiver is optional; archive routes are mounted only when it is set.
	Archiver CaseArchiver
	// Auth is optional; when set every /v1 route requires a bearer token.
	Auth TokenValidator
	// Health maps a check name to its probe. Nil probes are skipped.
	Health map[string]HealthChecker
}

type Config struct {
	Version           string
	RequestsPerSecond int
	BurstSize         int
	RequestTimeout    time.Duration
	MaxBodyBytes      int64
	// AllowedRoles, when non-empty, are the token roles admitted to /v1.
	AllowedRoles []string
}

func DefaultConfig() Config {
	return Config{
		Version:           "dev",
		RequestsPerSecond: 100,
		BurstSize:         200,
		RequestTimeout:    30 * time.Second,
		MaxBodyBytes:      4 << 20,
	}
}

// Server routes API requests to the pipeline services.
type Server struct {
	router   *chi.Mux
	deps     Dependencies
	cfg      Config
	logger   *zap.Logger
	validate *validator.Validate
	limiter  *clientRateLimiter
	registry *prometheus.Registry
	http     *httpMetrics
	now      func() time.Time
}

func NewServer(deps Dependencies, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.BurstSize <= 0 {
		cfg.BurstSize = def.BurstSize
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		router:   chi.NewRouter(),
		deps:     deps,
		cfg:      cfg,
		logger:   logger.Named("api"),
		validate: validation.New(),
		limiter:  newClientRateLimiter(float64(cfg.RequestsPerSecond), cfg.BurstSize),
		registry: reg,
		http:     newHTTPMetrics(reg),
		now:      time.Now,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.observe(s.deps.Metrics))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Get("/openapi.yaml", s.openAPI)

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.rateLimitMiddleware)
		if s.deps.Auth != nil {
			r.Use(s.authenticate)
		}
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
		r.Use(middleware.RequestSize(s.cfg.MaxBodyBytes))

		r.Post("/rules/evaluate", s.evaluateRules)

		r.Route("/claims", func(r chi.Router) {
			r.Get("/", s.searchClaims)
			r.Post("/", s.createClaim)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.getClaim)
				r.Get("/verify", s.verifyClaim)
				r.Get("/history", s.claimHistory)
				r.Post("/status", s.changeClaimStatus)
			})
		})

		r.Route("/filings", func(r chi.Router) {
			r.Post("/", s.createFiling)
			r.Route("/{number}", func(r chi.Router) {
				r.Get("/", s.getFiling)
				r.Get("/history", s.filingHistory)
				r.Post("/submit", s.submitFiling)
			})
		})

		r.Route("/cases", func(r chi.Router) {
			r.Post("/", s.processCase)
			r.Route("/{case}", func(r chi.Router) {
				r.Get("/claims", s.caseClaims)
				r.Get("/filings", s.caseFilings)
				r.Get("/trail", s.caseTrail)
				r.Get("/trail/reconstruct", s.reconstructTrail)
				r.Get("/trail/verify", s.verifyTrail)
				if s.deps.Archiver != nil {
					r.Post("/archives", s.archiveCase)
					r.Get("/archives/{archive}/verify", s.verifyArchive)
				}
			})
		})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then drains open
// requests for up to shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, readTimeout, writeTimeout, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       2 * writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown: %w", err)
	}
	return nil
}

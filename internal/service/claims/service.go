// Package claims stores sealed claims, serves them back through a cache and
// re-verifies their hashes on request.
package claims

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/validation"
	"github.com/davidleathers/sar-claim-pipeline/internal/metrics"
	auditsvc "github.com/davidleathers/sar-claim-pipeline/internal/service/audit"
)

// Service implements claim storage and integrity checks.
type Service struct {
	repo      claim.Repository
	cache     Cache
	auditor   AuditLogger
	uow       UnitOfWork
	logger    *zap.Logger
	metrics   *metrics.Registry
	validator *validator.Validate
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithCache enables read-through caching of sealed claims.
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(s *Service) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(repo claim.Repository, auditor AuditLogger, uow UnitOfWork, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		repo:      repo,
		auditor:   auditor,
		uow:       uow,
		logger:    logger,
		validator: validation.New(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Save stores a sealed claim. The claim is validated and its hashes checked
// first, so nothing inconsistent reaches the store.
func (s *Service) Save(ctx context.Context, obj *claim.Object) error {
	if err := claim.Validate(obj); err != nil {
		return err
	}
	if err := claim.Verify(obj); err != nil {
		return err
	}
	if err := s.repo.Save(ctx, obj); err != nil {
		s.logger.Error("Failed to save claim",
			zap.String("claim_id", obj.ClaimID),
			zap.String("case_id", obj.CaseID),
			zap.Error(err),
		)
		return err
	}

	s.warm(ctx, obj)
	s.logger.Info("Claim saved",
		zap.String("claim_id", obj.ClaimID),
		zap.String("case_id", obj.CaseID),
		zap.String("severity", string(obj.RiskAssessment.SeverityBand)),
	)
	return nil
}

// Get reads a claim, from cache when possible. Cache failures fall back to
// the store.
func (s *Service) Get(ctx context.Context, claimID string) (*claim.Object, error) {
	if claimID == "" {
		return nil, errors.NewFieldError("MISSING_CLAIM_ID", "claim_id", "claim ID is required")
	}

	if s.cache != nil {
		cached, err := s.cache.GetClaim(ctx, claimID)
		if err != nil {
			s.logger.Warn("Claim cache read failed", zap.String("claim_id", claimID), zap.Error(err))
		}
		if cached != nil {
			s.metrics.RecordCacheLookup(ctx, true)
			return cached, nil
		}
		s.metrics.RecordCacheLookup(ctx, false)
	}

	obj, err := s.repo.Get(ctx, claimID)
	if err != nil {
		return nil, err
	}
	s.warm(ctx, obj)
	return obj, nil
}

func (s *Service) warm(ctx context.Context, obj *claim.Object) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetClaim(ctx, obj); err != nil {
		s.logger.Warn("Claim cache write failed", zap.String("claim_id", obj.ClaimID), zap.Error(err))
	}
}

// ListByCase returns a case's claims, newest first.
func (s *Service) ListByCase(ctx context.Context, caseID string) ([]*claim.Object, error) {
	if caseID == "" {
		return nil, errors.NewFieldError("MISSING_CASE_ID", "case_id", "case ID is required")
	}
	return s.repo.ListByCase(ctx, caseID)
}

// Search returns claims matching filter, newest first.
func (s *Service) Search(ctx context.Context, filter claim.Filter) ([]*claim.Object, error) {
	if err := validation.Struct(s.validator, "INVALID_FILTER", filter); err != nil {
		return nil, err
	}
	return s.repo.Search(ctx, filter)
}

// ChangeStatus appends a validated status transition to the claim history.
// The stored claim payload is never modified.
func (s *Service) ChangeStatus(ctx context.Context, claimID string, to claim.Status, actor, reason string) (*claim.StatusChange, error) {
	obj, err := s.repo.Get(ctx, claimID)
	if err != nil {
		return nil, err
	}

	var change *claim.StatusChange
	err = s.uow.WithinCase(ctx, obj.CaseID, func(ctx context.Context) error {
		from, err := s.repo.CurrentStatus(ctx, claimID)
		if err != nil {
			return err
		}
		change, err = claim.NewStatusChange(claimID, from, to, actor, reason, s.now())
		if err != nil {
			return err
		}
		if err := s.repo.AppendStatusChange(ctx, change); err != nil {
			return err
		}
		_, err = s.auditor.Log(ctx, auditsvc.Entry{
			CaseID: obj.CaseID,
			Type:   audit.EventClaimStatusChanged,
			UserID: actor,
			Data: map[string]any{
				"claim_id":    claimID,
				"from_status": string(change.FromStatus),
				"to_status":   string(change.ToStatus),
				"reason":      reason,
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Claim status changed",
		zap.String("claim_id", claimID),
		zap.String("from", string(change.FromStatus)),
		zap.String("to", string(change.ToStatus)),
		zap.String("actor", actor),
	)
	return change, nil
}

// History returns a claim's status changes, oldest first.
func (s *Service) History(ctx context.Context, claimID string) ([]*claim.StatusChange, error) {
	return s.repo.History(ctx, claimID)
}

// VerifyIntegrity re-derives a stored claim's hashes. A mismatch is a
// security event: it is logged, recorded on the case trail and returned.
// The check always reads the store, never the cache.
func (s *Service) VerifyIntegrity(ctx context.Context, claimID string, actor string) error {
	obj, err := s.repo.Get(ctx, claimID)
	if err != nil {
		return err
	}

	verr := claim.Verify(obj)
	if verr == nil {
		return nil
	}

	field := ""
	if appErr, ok := errors.AsAppError(verr); ok && appErr.Details != nil {
		field, _ = appErr.Details["field"].(string)
	}
	s.metrics.RecordIntegrityViolation(ctx, field)
	s.logger.Error("SECURITY: claim integrity violation",
		zap.String("claim_id", claimID),
		zap.String("case_id", obj.CaseID),
		zap.String("field", field),
		zap.Error(verr),
	)

	if actor == "" {
		actor = "system"
	}
	if _, err := s.auditor.Log(ctx, auditsvc.Entry{
		CaseID: obj.CaseID,
		Type:   audit.EventIntegrityViolation,
		UserID: actor,
		Data: map[string]any{
			"claim_id": claimID,
			"field":    field,
			"error":    verr.Error(),
		},
	}); err != nil {
		s.logger.Error("Failed to record integrity violation", zap.String("claim_id", claimID), zap.Error(err))
	}
	return verr
}

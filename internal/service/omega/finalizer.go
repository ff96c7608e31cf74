package omega

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/filing"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/telemetry"
	"github.com/davidleathers/sar-claim-pipeline/internal/metrics"
	auditsvc "github.com/davidleathers/sar-claim-pipeline/internal/service/audit"
)

// AuditLogger records filing events on the case trail.
type AuditLogger interface {
	Log(ctx context.Context, entry auditsvc.Entry) (*audit.Event, error)
}

// UnitOfWork serializes writes on one case.
type UnitOfWork interface {
	WithinCase(ctx context.Context, caseID string, fn func(ctx context.Context) error) error
}

// Request asks for one claim and narrative to be validated and filed.
type Request struct {
	Claim        *claim.Object `json:"claim_object" validate:"required"`
	Narrative    string        `json:"narrative"`
	FilingNumber string        `json:"filing_number,omitempty"`
	CreatedBy    string        `json:"created_by"`
	CausedBy     []uuid.UUID   `json:"-"`
}

// Outcome is what callers see after finalization.
type Outcome struct {
	CaseID            string         `json:"case_id"`
	FilingID          string         `json:"filing_id"`
	RegulatoryReady   bool           `json:"regulatory_ready"`
	ValidationResults []filing.Check `json:"validation_results"`
	Errors            []string       `json:"errors"`
	PassedChecks      int            `json:"passed_checks"`
	TotalChecks       int            `json:"total_checks"`
	Status            filing.Status  `json:"status"`
	// AuditEventIDs holds the validation event then the filing event.
	AuditEventIDs []uuid.UUID `json:"audit_event_ids"`
}

// Option customizes a Finalizer.
type Option func(*Finalizer)

func WithClock(now func() time.Time) Option {
	return func(f *Finalizer) { f.now = now }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(f *Finalizer) { f.metrics = m }
}

// Finalizer validates claims and writes Final Filings.
type Finalizer struct {
	cfg       Config
	validator *Validator
	repo      filing.Repository
	auditor   AuditLogger
	uow       UnitOfWork
	logger    *zap.Logger
	metrics   *metrics.Registry
	tracer    trace.Tracer
	now       func() time.Time
}

func NewFinalizer(cfg Config, repo filing.Repository, auditor AuditLogger, uow UnitOfWork, logger *zap.Logger, opts ...Option) *Finalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Finalizer{
		repo:    repo,
		auditor: auditor,
		uow:     uow,
		logger:  logger,
		tracer:  otel.Tracer("omega.finalizer"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.validator = NewValidator(cfg, f.now)
	f.cfg = f.validator.cfg
	return f
}

// Validate runs the checklist without storing anything.
func (f *Finalizer) Validate(obj *claim.Object, narrative string) Result {
	return f.validator.Validate(obj, narrative)
}

// Finalize validates the request and inserts its filing. Validation, the
// filing row and its audit events commit together; any storage failure
// rolls all of them back and is returned as a finalization error.
func (f *Finalizer) Finalize(ctx context.Context, req Request) (*Outcome, error) {
	if req.Claim == nil {
		return nil, errors.NewFieldError("MISSING_CLAIM", "claim_object", "claim object is required")
	}
	if req.CreatedBy == "" {
		req.CreatedBy = "system"
	}
	obj := req.Claim

	ctx, span := f.tracer.Start(ctx, "omega.finalize",
		trace.WithAttributes(
			telemetry.CaseID(obj.CaseID),
			attribute.String("claim_id", obj.ClaimID),
		),
	)
	defer span.End()

	start := time.Now()
	res := f.Validate(obj, req.Narrative)
	f.metrics.RecordValidation(ctx, float64(time.Since(start).Microseconds())/1000, res.OverallPassed, res.PassedChecks)

	var stored *filing.Filing
	var validated, created *audit.Event
	err := f.uow.WithinCase(ctx, obj.CaseID, func(ctx context.Context) error {
		number, seq, err := f.resolveNumber(ctx, obj, req.FilingNumber)
		if err != nil {
			return err
		}

		stored, err = filing.New(number, seq, *obj, req.Narrative, res.OverallPassed, res.Checks, req.CreatedBy, f.now())
		if err != nil {
			return err
		}
		if err := f.repo.Insert(ctx, stored); err != nil {
			return err
		}

		validated, err = f.auditor.Log(ctx, auditsvc.Entry{
			CaseID:   obj.CaseID,
			Type:     audit.EventValidationCompleted,
			UserID:   req.CreatedBy,
			CausedBy: req.CausedBy,
			Data: map[string]any{
				"claim_id":         obj.ClaimID,
				"regulatory_ready": res.OverallPassed,
				"passed_checks":    res.PassedChecks,
				"total_checks":     res.TotalChecks,
				"errors":           res.Errors,
			},
		})
		if err != nil {
			return err
		}

		created, err = f.auditor.Log(ctx, auditsvc.Entry{
			CaseID:   obj.CaseID,
			Type:     audit.EventFilingCreated,
			UserID:   req.CreatedBy,
			CausedBy: []uuid.UUID{validated.ID},
			Data: map[string]any{
				"filing_number":    stored.FilingNumber,
				"claim_id":         obj.ClaimID,
				"status":           string(stored.Status),
				"regulatory_ready": stored.RegulatoryReady,
			},
		})
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		f.logger.Error("Failed to finalize filing",
			zap.String("case_id", obj.CaseID),
			zap.String("claim_id", obj.ClaimID),
			zap.Error(err),
		)
		return nil, errors.NewFinalizationError(err)
	}

	f.metrics.RecordFiling(ctx, string(stored.Status))
	span.SetAttributes(attribute.String("filing_number", stored.FilingNumber))
	f.logger.Info("Filing finalized",
		zap.String("case_id", obj.CaseID),
		zap.String("filing_number", stored.FilingNumber),
		zap.Bool("regulatory_ready", stored.RegulatoryReady),
		zap.Int("passed_checks", res.PassedChecks),
	)

	return &Outcome{
		CaseID:            obj.CaseID,
		FilingID:          stored.FilingNumber,
		RegulatoryReady:   res.OverallPassed,
		ValidationResults: res.Checks,
		Errors:            res.Errors,
		PassedChecks:      res.PassedChecks,
		TotalChecks:       res.TotalChecks,
		Status:            stored.Status,
		AuditEventIDs:     []uuid.UUID{validated.ID, created.ID},
	}, nil
}

// resolveNumber keeps a supplied filing number. Otherwise it generates the
// next one for the case. Must run inside the case unit of work.
func (f *Finalizer) resolveNumber(ctx context.Context, obj *claim.Object, supplied string) (string, int, error) {
	existing, err := f.repo.ListByCase(ctx, obj.CaseID)
	if err != nil {
		return "", 0, err
	}
	seq := len(existing) + 1
	if supplied != "" {
		return supplied, seq, nil
	}
	return filing.Number(f.cfg.FilingPrefix, obj.PrimaryJurisdiction(), obj.TimestampCreated, obj.CaseID, seq), seq, nil
}

// Submit moves a ready filing to submitted. Filings that failed validation
// cannot be submitted; a new claim must be generated instead.
func (f *Finalizer) Submit(ctx context.Context, number, actor string) (*filing.StatusChange, error) {
	stored, err := f.repo.Get(ctx, number)
	if err != nil {
		return nil, err
	}

	var change *filing.StatusChange
	err = f.uow.WithinCase(ctx, stored.CaseID, func(ctx context.Context) error {
		from, err := f.repo.CurrentStatus(ctx, number)
		if err != nil {
			return err
		}
		change, err = filing.NewStatusChange(number, from, filing.StatusSubmitted, actor, f.now())
		if err != nil {
			return err
		}
		if err := f.repo.AppendStatusChange(ctx, change); err != nil {
			return err
		}
		_, err = f.auditor.Log(ctx, auditsvc.Entry{
			CaseID: stored.CaseID,
			Type:   audit.EventFilingSubmitted,
			UserID: actor,
			Data: map[string]any{
				"filing_number": number,
				"from_status":   string(from),
			},
		})
		return err
	})
	if err != nil {
		f.logger.Warn("Filing submission refused",
			zap.String("filing_number", number),
			zap.Error(err),
		)
		return nil, err
	}

	f.logger.Info("Filing submitted",
		zap.String("filing_number", number),
		zap.String("actor", actor),
	)
	return change, nil
}

func (f *Finalizer) Get(ctx context.Context, number string) (*filing.Filing, error) {
	return f.repo.Get(ctx, number)
}

// ListByCase returns a case's filings in sequence order.
func (f *Finalizer) ListByCase(ctx context.Context, caseID string) ([]*filing.Filing, error) {
	if caseID == "" {
		return nil, errors.NewFieldError("MISSING_CASE_ID", "case_id", "case ID is required")
	}
	return f.repo.ListByCase(ctx, caseID)
}

func (f *Finalizer) History(ctx context.Context, number string) ([]*filing.StatusChange, error) {
	return f.repo.History(ctx, number)
}

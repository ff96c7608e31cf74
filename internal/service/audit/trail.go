// Package audit records every pipeline step for a case as a hash-linked,
// append-only event and answers questions about how an output came to be.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/telemetry"
	"github.com/davidleathers/sar-claim-pipeline/internal/metrics"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/environment"
)

// UnitOfWork serializes work on one case. Calls nested inside an open unit
// for the same case join it instead of opening a new one.
type UnitOfWork interface {
	WithinCase(ctx context.Context, caseID string, fn func(ctx context.Context) error) error
}

// Entry is what a caller asks the trail to record.
type Entry struct {
	CaseID   string
	Type     audit.EventType
	Data     map[string]any
	UserID   string
	CausedBy []uuid.UUID
}

// Option customizes a Trail.
type Option func(*Trail)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

// WithMetrics attaches the metrics registry.
func WithMetrics(m *metrics.Registry) Option {
	return func(t *Trail) { t.metrics = m }
}

// Trail is the audit trail service.
type Trail struct {
	repo    audit.Repository
	uow     UnitOfWork
	env     *environment.Tracker
	logger  *zap.Logger
	tracer  trace.Tracer
	metrics *metrics.Registry
	now     func() time.Time
}

// NewTrail builds the trail over repo. The environment tracker is stamped on
// every event.
func NewTrail(repo audit.Repository, uow UnitOfWork, env *environment.Tracker, logger *zap.Logger, opts ...Option) *Trail {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Trail{
		repo:   repo,
		uow:    uow,
		env:    env,
		logger: logger,
		tracer: otel.Tracer("audit.trail"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Log appends one event to the case trail. It runs inside the case unit of
// work, so when the caller already holds one the event commits or rolls back
// with the caller's transaction.
func (t *Trail) Log(ctx context.Context, entry Entry) (*audit.Event, error) {
	ctx, span := t.tracer.Start(ctx, "audit.log",
		trace.WithAttributes(
			telemetry.CaseID(entry.CaseID),
			attribute.String("event_type", string(entry.Type)),
		),
	)
	defer span.End()

	event, err := audit.NewEvent(entry.CaseID, entry.Type, entry.Data, entry.UserID, t.now())
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	event.CausedBy = append(event.CausedBy, entry.CausedBy...)
	if t.env != nil {
		event.Environment = t.env.Snapshot().Map()
	}

	err = t.uow.WithinCase(ctx, entry.CaseID, func(ctx context.Context) error {
		latest, err := t.repo.Latest(ctx, entry.CaseID)
		if err != nil {
			return err
		}

		sequence, previousHash := int64(1), ""
		if latest != nil {
			sequence, previousHash = latest.Sequence+1, latest.EventHash
			// Keep the trail non-decreasing in time even if the clock steps back.
			if event.Timestamp.Before(latest.Timestamp) {
				event.Timestamp = latest.Timestamp
			}
		}

		if err := event.Chain(sequence, previousHash); err != nil {
			return err
		}
		return t.repo.Append(ctx, event)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		t.logger.Error("Failed to append audit event",
			zap.String("case_id", entry.CaseID),
			zap.String("event_type", string(entry.Type)),
			zap.Error(err),
		)
		return nil, err
	}

	span.SetAttributes(attribute.Int64("sequence", event.Sequence))
	t.metrics.RecordAuditEvent(ctx, string(event.Type))
	t.logger.Debug("Audit event appended",
		zap.String("case_id", event.CaseID),
		zap.String("event_id", event.ID.String()),
		zap.String("event_type", string(event.Type)),
		zap.Int64("sequence", event.Sequence),
	)
	return event, nil
}

// GetTrail returns the case trail in timestamp order, ties by sequence.
func (t *Trail) GetTrail(ctx context.Context, caseID string) ([]*audit.Event, error) {
	if caseID == "" {
		return nil, errors.NewFieldError("MISSING_CASE_ID", "case_id", "case ID is required")
	}
	return t.repo.ListByCase(ctx, caseID)
}

// Reconstruct explains the steps that led to fragment appearing in a case
// narrative.
func (t *Trail) Reconstruct(ctx context.Context, caseID, fragment string) (*audit.Reconstruction, error) {
	events, err := t.GetTrail(ctx, caseID)
	if err != nil {
		return nil, err
	}
	return audit.Reconstruct(caseID, fragment, events), nil
}

// VerifyChain re-derives every event hash of a case and checks the links.
// Breaks are logged as security events.
func (t *Trail) VerifyChain(ctx context.Context, caseID string) (*audit.ChainVerificationResult, error) {
	ctx, span := t.tracer.Start(ctx, "audit.verify_chain",
		trace.WithAttributes(telemetry.CaseID(caseID)))
	defer span.End()

	events, err := t.GetTrail(ctx, caseID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	result := audit.VerifyChain(caseID, events)
	span.SetAttributes(
		attribute.Bool("valid", result.IsValid),
		attribute.Int("events_verified", result.EventsVerified),
	)
	if !result.IsValid {
		span.SetStatus(codes.Error, "audit chain broken")
		t.logger.Warn("SECURITY: audit chain verification failed",
			zap.String("case_id", caseID),
			zap.Int("breaks", len(result.ChainBreaks)),
		)
	}
	return result, nil
}

package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds the pipeline instruments. A nil *Registry is valid and
// records nothing, so services can run without a meter provider.
type Registry struct {
	meter metric.Meter

	// Rule engine
	RuleEvaluations        metric.Int64Counter
	RuleTriggered          metric.Int64Counter
	RuleEvaluationDuration metric.Float64Histogram

	// Claim generation and storage
	ClaimsGenerated         metric.Int64Counter
	ClaimsFailed            metric.Int64Counter
	ClaimGenerationDuration metric.Float64Histogram
	IntegrityViolations     metric.Int64Counter
	ClaimCacheLookups       metric.Int64Counter

	// Regulatory validation
	OmegaValidations        metric.Int64Counter
	OmegaValidationDuration metric.Float64Histogram
	FilingsCreated          metric.Int64Counter

	// Audit trail
	AuditEvents   metric.Int64Counter
	CasesInFlight metric.Int64ObservableGauge

	// API
	APIRequestDuration metric.Float64Histogram
	APIRequestCounter  metric.Int64Counter

	mu            sync.RWMutex
	casesInFlight int64
}

// NewRegistry creates the pipeline instruments on the named meter.
func NewRegistry(meterName string) (*Registry, error) {
	r := &Registry{meter: otel.Meter(meterName)}

	if err := r.initRuleMetrics(); err != nil {
		return nil, err
	}
	if err := r.initClaimMetrics(); err != nil {
		return nil, err
	}
	if err := r.initOmegaMetrics(); err != nil {
		return nil, err
	}
	if err := r.initAuditMetrics(); err != nil {
		return nil, err
	}
	if err := r.initAPIMetrics(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) initRuleMetrics() error {
	var err error

	r.RuleEvaluations, err = r.meter.Int64Counter(
		"sar.rules.evaluations",
		metric.WithDescription("Rule engine evaluations"),
	)
	if err != nil {
		return err
	}

	r.RuleTriggered, err = r.meter.Int64Counter(
		"sar.rules.triggered",
		metric.WithDescription("Triggered rule results by rule name"),
	)
	if err != nil {
		return err
	}

	r.RuleEvaluationDuration, err = r.meter.Float64Histogram(
		"sar.rules.evaluation_duration",
		metric.WithDescription("Duration of a rule engine evaluation in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.5, 1, 5, 10, 50, 100),
	)
	return err
}

func (r *Registry) initClaimMetrics() error {
	var err error

	r.ClaimsGenerated, err = r.meter.Int64Counter(
		"sar.claims.generated",
		metric.WithDescription("Claim objects generated, by severity band"),
	)
	if err != nil {
		return err
	}

	r.ClaimsFailed, err = r.meter.Int64Counter(
		"sar.claims.failed",
		metric.WithDescription("Claim generations that failed, by error code"),
	)
	if err != nil {
		return err
	}

	r.ClaimGenerationDuration, err = r.meter.Float64Histogram(
		"sar.claims.generation_duration",
		metric.WithDescription("Duration of claim assembly in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.5, 1, 5, 10, 50, 100, 500, 1000),
	)
	if err != nil {
		return err
	}

	r.IntegrityViolations, err = r.meter.Int64Counter(
		"sar.claims.integrity_violations",
		metric.WithDescription("Stored claims whose hashes failed re-verification"),
	)
	if err != nil {
		return err
	}

	r.ClaimCacheLookups, err = r.meter.Int64Counter(
		"sar.claims.cache_lookups",
		metric.WithDescription("Claim cache lookups by result"),
	)
	return err
}

func (r *Registry) initOmegaMetrics() error {
	var err error

	r.OmegaValidations, err = r.meter.Int64Counter(
		"sar.omega.validations",
		metric.WithDescription("Regulatory readiness validations by outcome"),
	)
	if err != nil {
		return err
	}

	r.OmegaValidationDuration, err = r.meter.Float64Histogram(
		"sar.omega.validation_duration",
		metric.WithDescription("Duration of the readiness checklist in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.5, 1, 5, 10, 50, 100),
	)
	if err != nil {
		return err
	}

	r.FilingsCreated, err = r.meter.Int64Counter(
		"sar.omega.filings_created",
		metric.WithDescription("Final filings stored, by status"),
	)
	return err
}

func (r *Registry) initAuditMetrics() error {
	var err error

	r.AuditEvents, err = r.meter.Int64Counter(
		"sar.audit.events",
		metric.WithDescription("Audit events appended, by event type"),
	)
	if err != nil {
		return err
	}

	r.CasesInFlight, err = r.meter.Int64ObservableGauge(
		"sar.pipeline.cases_in_flight",
		metric.WithDescription("Cases currently being processed"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			r.mu.RLock()
			defer r.mu.RUnlock()
			o.Observe(r.casesInFlight)
			return nil
		}),
	)
	return err
}

func (r *Registry) initAPIMetrics() error {
	var err error

	r.APIRequestDuration, err = r.meter.Float64Histogram(
		"sar.api.request_duration",
		metric.WithDescription("API request duration in milliseconds"),
		metric.WithUnit("ms"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 50, 100, 500, 1000, 5000),
	)
	if err != nil {
		return err
	}

	r.APIRequestCounter, err = r.meter.Int64Counter(
		"sar.api.request_total",
		metric.WithDescription("Total number of API requests"),
	)
	return err
}

// UpdateCasesInFlight adjusts the in-flight case gauge.
func (r *Registry) UpdateCasesInFlight(delta int64) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.casesInFlight += delta
}

// RecordRuleEvaluation records one engine run and the names of the rules it fired.
func (r *Registry) RecordRuleEvaluation(ctx context.Context, durationMS float64, triggered []string, success bool) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	r.RuleEvaluations.Add(ctx, 1, attrs)
	r.RuleEvaluationDuration.Record(ctx, durationMS, attrs)

	for _, name := range triggered {
		r.RuleTriggered.Add(ctx, 1, metric.WithAttributes(attribute.String("rule", name)))
	}
}

// RecordClaimGenerated records a sealed claim.
func (r *Registry) RecordClaimGenerated(ctx context.Context, durationMS float64, severity, environment string) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("severity", severity),
		attribute.String("environment", environment),
	)
	r.ClaimsGenerated.Add(ctx, 1, attrs)
	r.ClaimGenerationDuration.Record(ctx, durationMS, attrs)
}

// RecordClaimFailed records a generation failure by error code.
func (r *Registry) RecordClaimFailed(ctx context.Context, code string) {
	if r == nil {
		return
	}
	r.ClaimsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("code", code)))
}

func (r *Registry) RecordIntegrityViolation(ctx context.Context, field string) {
	if r == nil {
		return
	}
	r.IntegrityViolations.Add(ctx, 1, metric.WithAttributes(attribute.String("field", field)))
}

func (r *Registry) RecordCacheLookup(ctx context.Context, hit bool) {
	if r == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	r.ClaimCacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordValidation records one checklist run.
func (r *Registry) RecordValidation(ctx context.Context, durationMS float64, ready bool, passed int) {
	if r == nil {
		return
	}
	outcome := "validation_failed"
	if ready {
		outcome = "ready"
	}
	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("passed_checks", passed),
	)
	r.OmegaValidations.Add(ctx, 1, attrs)
	r.OmegaValidationDuration.Record(ctx, durationMS, attrs)
}

func (r *Registry) RecordFiling(ctx context.Context, status string) {
	if r == nil {
		return
	}
	r.FilingsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (r *Registry) RecordAuditEvent(ctx context.Context, eventType string) {
	if r == nil {
		return
	}
	r.AuditEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

// RecordAPIRequest records API request metrics
func (r *Registry) RecordAPIRequest(ctx context.Context, duration float64, method, path string, statusCode int) {
	if r == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status_code", statusCode),
	}

	r.APIRequestDuration.Record(ctx, duration, metric.WithAttributes(attrs...))
	r.APIRequestCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

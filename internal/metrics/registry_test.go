package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestRegistry_RecordsPipelineInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))

	r, err := NewRegistry("sar-test")
	require.NoError(t, err)

	ctx := context.Background()
	r.RecordRuleEvaluation(ctx, 0.4, []string{"threshold_check", "structuring_check"}, true)
	r.RecordClaimGenerated(ctx, 3.2, "high", "aws")
	r.RecordAuditEvent(ctx, "CASE_CREATED")
	r.RecordAuditEvent(ctx, "CASE_CREATED")
	r.UpdateCasesInFlight(2)
	r.UpdateCasesInFlight(-1)

	got := collect(t, reader)

	triggered, ok := got["sar.rules.triggered"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Len(t, triggered.DataPoints, 2)

	events, ok := got["sar.audit.events"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, events.DataPoints, 1)
	assert.Equal(t, int64(2), events.DataPoints[0].Value)

	inFlight, ok := got["sar.pipeline.cases_in_flight"].Data.(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, inFlight.DataPoints, 1)
	assert.Equal(t, int64(1), inFlight.DataPoints[0].Value)
}

func TestRegistry_NilIsNoop(t *testing.T) {
	var r *Registry
	assert.NotPanics(t, func() {
		r.RecordClaimFailed(context.Background(), "X")
		r.RecordValidation(context.Background(), 1, true, 10)
		r.UpdateCasesInFlight(1)
	})
}

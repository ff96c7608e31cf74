package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/evidence"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/rules"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/scoring"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/memory"
	auditsvc "github.com/davidleathers/sar-claim-pipeline/internal/service/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/claims"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/omega"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/pipeline"
	"github.com/davidleathers/sar-claim-pipeline/internal/testutil"
	"github.com/davidleathers/sar-claim-pipeline/internal/testutil/fixtures"
)

var t0 = time.Date(2026, 5, 8, 12, 0, 0, 0, time.UTC)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorResponse  `json:"error"`
	Meta    ResponseMeta    `json:"meta"`
}

func newTestServer(t *testing.T, cfg Config, health map[string]HealthChecker, mods ...func(*Dependencies)) *Server {
	t.Helper()
	store := memory.NewStore()
	logger := zaptest.NewLogger(t)

	trail := auditsvc.NewTrail(store.Audit(), store, nil, logger,
		auditsvc.WithClock(testutil.StepClock(t0, time.Second)))
	claimSvc := claims.NewService(store.Claims(), trail, store, logger)
	finalizer := omega.NewFinalizer(omega.DefaultConfig(), store.Filings(), trail, store, logger)

	normalizer := evidence.NewNormalizer("IN", decimal.NewFromInt(100_000))
	engine := rules.NewEngine(rules.DefaultThresholds())
	scorer := scoring.NewScorer("IN")
	generator := fixtures.Generator(t)

	proc := pipeline.NewService(pipeline.Config{}, pipeline.Deps{
		Normalizer: normalizer,
		Engine:     engine,
		Scorer:     scorer,
		Generator:  generator,
		Claims:     claimSvc,
		Finalizer:  finalizer,
		Auditor:    trail,
	}, logger)

	deps := Dependencies{
		Normalizer: normalizer,
		Engine:     engine,
		Scorer:     scorer,
		Generator:  generator,
		Claims:     claimSvc,
		Filings:    finalizer,
		Pipeline:   proc,
		Trail:      trail,
		Health:     health,
	}
	for _, mod := range mods {
		mod(&deps)
	}
	return NewServer(deps, cfg, logger)
}

func do(t *testing.T, s *Server, method, path string, body any) (int, envelope) {
	t.Helper()
	return doWithHeader(t, s, method, path, body, nil)
}

func doWithHeader(t *testing.T, s *Server, method, path string, body any, header http.Header) (int, envelope) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec.Code, env
}

func doRaw(t *testing.T, s *Server, method, path string) (int, *httptest.ResponseRecorder) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec.Code, rec
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

func TestProcessCase_EndToEnd(t *testing.T) {
	s := newTestServer(t, DefaultConfig(), nil)

	status, env := do(t, s, http.MethodPost, "/v1/cases", pipeline.CaseRequest{
		Case:      fixtures.NewCaseBuilder("CASE-R1").Build(),
		UserID:    "analyst-3",
		Narrative: fixtures.Narrative(640),
	})
	require.Equal(t, http.StatusCreated, status, env.Error)
	assert.True(t, env.Success)
	assert.NotEmpty(t, env.Meta.RequestID)

	res := decodeData[pipeline.Result](t, env)
	assert.True(t, res.Filing.RegulatoryReady)
	assert.Len(t, res.AuditTrail, 9)

	status, env = do(t, s, http.MethodGet, "/v1/cases/CASE-R1/trail/verify", nil)
	require.Equal(t, http.StatusOK, status)
	verify := decodeData[audit.ChainVerificationResult](t, env)
	assert.True(t, verify.IsValid)
	assert.Equal(t, 9, verify.EventsVerified)

	status, env = do(t, s, http.MethodGet, "/v1/cases/CASE-R1/trail/reconstruct?fragment=declared+profile", nil)
	require.Equal(t, http.StatusOK, status)
	rec := decodeData[audit.Reconstruction](t, env)
	assert.True(t, rec.FragmentFound)

	status, env = do(t, s, http.MethodGet, "/v1/cases/CASE-R1/claims", nil)
	require.Equal(t, http.StatusOK, status)
	list := decodeData[ClaimListResponse](t, env)
	require.Equal(t, 1, list.Count)

	status, env = do(t, s, http.MethodGet, "/v1/claims/"+list.Claims[0].ClaimID+"/verify", nil)
	require.Equal(t, http.StatusOK, status)
	assert.True(t, decodeData[IntegrityResponse](t, env).Valid)

	status, env = do(t, s, http.MethodGet, "/v1/cases/CASE-R1/filings", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(env.Data), res.Filing.FilingID)
}

func TestProcessCase_InvalidCase(t *testing.T) {
	s := newTestServer(t, DefaultConfig(), nil)

	raw := fixtures.NewCaseBuilder("CASE-R2").Build()
	raw.Customer.CustomerID = ""
	status, env := do(t, s, http.MethodPost, "/v1/cases", pipeline.CaseRequest{Case: raw})

	assert.Equal(t, http.StatusBadRequest, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "INVALID_CASE_INPUT", env.Error.Code)
	assert.False(t, env.Success)
}

func TestEvaluateRules(t *testing.T) {
	s := newTestServer(t, DefaultConfig(), nil)

	status, env := do(t, s, http.MethodPost, "/v1/rules/evaluate",
		fixtures.NewCaseBuilder("CASE-R3").WithStructuring(4).Build())
	require.Equal(t, http.StatusOK, status, env.Error)

	out := decodeData[EvaluationResponse](t, env)
	assert.Equal(t, "CASE-R3", out.CaseID)
	assert.Positive(t, out.EvidenceCount)
	assert.Contains(t, string(env.Data), rules.RuleStructuring)
}

func TestClaimLifecycle(t *testing.T) {
	s := newTestServer(t, DefaultConfig(), nil)
	in := fixtures.GeneratorInput(t, fixtures.NewCaseBuilder("CASE-R4").Build())

	status, env := do(t, s, http.MethodPost, "/v1/claims", in)
	require.Equal(t, http.StatusCreated, status, env.Error)
	created := decodeData[claim.Object](t, env)

	status, env = do(t, s, http.MethodGet, "/v1/claims/"+created.ClaimID, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, created.IntegrityHashes, decodeData[claim.Object](t, env).IntegrityHashes)

	status, env = do(t, s, http.MethodPost, "/v1/claims/"+created.ClaimID+"/status",
		StatusChangeRequest{Status: claim.StatusAnalystReview, ChangedBy: "analyst-1"})
	require.Equal(t, http.StatusOK, status, env.Error)

	status, env = do(t, s, http.MethodPost, "/v1/claims/"+created.ClaimID+"/status",
		map[string]string{"status": "bogus", "changed_by": "analyst-1"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "INVALID_REQUEST", env.Error.Code)

	status, env = do(t, s, http.MethodGet, "/v1/claims?status=analyst_review", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, 1, decodeData[ClaimListResponse](t, env).Count)

	status, env = do(t, s, http.MethodPost, "/v1/filings", FilingRequest{
		ClaimID:   created.ClaimID,
		Narrative: "too short",
		CreatedBy: "officer-2",
	})
	require.Equal(t, http.StatusCreated, status, env.Error)
	outcome := decodeData[omega.Outcome](t, env)
	assert.False(t, outcome.RegulatoryReady)
	assert.Contains(t, outcome.Errors, fmt.Sprintf("Narrative too short: 9 < %d", omega.DefaultConfig().MinNarrativeLength))

	status, env = do(t, s, http.MethodPost, "/v1/filings/"+outcome.FilingID+"/submit",
		SubmitRequest{SubmittedBy: "officer-2"})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "INVALID_STATUS_TRANSITION", env.Error.Code)

	status, env = do(t, s, http.MethodGet, "/v1/cases/CASE-R4/trail", nil)
	require.Equal(t, http.StatusOK, status)
	trail := decodeData[TrailResponse](t, env)
	assert.Equal(t, audit.EventClaimGenerated, trail.Events[0].Type)
}

func TestErrors(t *testing.T) {
	s := newTestServer(t, DefaultConfig(), nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"unknown claim", http.MethodGet, "/v1/claims/nope", nil, http.StatusNotFound, "RESOURCE_NOT_FOUND"},
		{"malformed json", http.MethodPost, "/v1/filings", `{"claim_id":`, http.StatusBadRequest, "INVALID_JSON"},
		{"json syntax error", http.MethodPost, "/v1/filings", `{"claim_id": nope}`, http.StatusBadRequest, "INVALID_JSON"},
		{"empty body", http.MethodPost, "/v1/filings", nil, http.StatusBadRequest, "EMPTY_BODY"},
		{"wrong type", http.MethodPost, "/v1/filings", `{"claim_id": 7}`, http.StatusBadRequest, "TYPE_MISMATCH"},
		{"missing fragment", http.MethodGet, "/v1/cases/CASE-X/trail/reconstruct", nil, http.StatusBadRequest, "MISSING_FRAGMENT"},
		{"bad filter", http.MethodGet, "/v1/claims?limit=abc", nil, http.StatusBadRequest, "INVALID_FILTER"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, env := do(t, s, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, status)
			require.NotNil(t, env.Error)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, Config{RequestsPerSecond: 1, BurstSize: 1}, nil)

	status, _ := do(t, s, http.MethodGet, "/v1/cases/CASE-X/trail", nil)
	assert.Equal(t, http.StatusOK, status)

	status, env := do(t, s, http.MethodGet, "/v1/cases/CASE-X/trail", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", env.Error.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	healthy := newTestServer(t, DefaultConfig(), map[string]HealthChecker{
		"postgres": PingFunc(func(context.Context) error { return nil }),
	})
	rec := httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"postgres":"ok"`)

	rec = httptest.NewRecorder()
	healthy.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `sar_http_requests_total{method="GET",route="/healthz",status="200"} 1`)

	degraded := newTestServer(t, DefaultConfig(), map[string]HealthChecker{
		"redis": PingFunc(func(context.Context) error { return fmt.Errorf("connection refused") }),
	})
	rec = httptest.NewRecorder()
	degraded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")
}

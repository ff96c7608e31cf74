package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/evidence"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/rules"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/scoring"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/memory"
	auditsvc "github.com/davidleathers/sar-claim-pipeline/internal/service/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/claimgen"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/claims"
	"github.com/davidleathers/sar-claim-pipeline/internal/service/omega"
	"github.com/davidleathers/sar-claim-pipeline/internal/testutil"
	"github.com/davidleathers/sar-claim-pipeline/internal/testutil/fixtures"
)

var t0 = time.Date(2026, 5, 7, 8, 0, 0, 0, time.UTC)

type mockRetriever struct {
	mock.Mock
}

func (m *mockRetriever) Retrieve(ctx context.Context, data *evidence.NormalizedData, eval *rules.Evaluation) (claimgen.Retrieval, error) {
	args := m.Called(ctx, data, eval)
	return args.Get(0).(claimgen.Retrieval), args.Error(1)
}

type failingNarrator struct{}

func (failingNarrator) Narrate(context.Context, *claim.Object, claimgen.Retrieval) (*Narrative, error) {
	return nil, fmt.Errorf("provider unavailable")
}

type harness struct {
	svc    *Service
	store  *memory.Store
	trail  *auditsvc.Trail
	claims *claims.Service
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	store := memory.NewStore()
	logger := zaptest.NewLogger(t)
	trail := auditsvc.NewTrail(store.Audit(), store, nil, logger,
		auditsvc.WithClock(testutil.StepClock(t0, time.Second)))
	claimSvc := claims.NewService(store.Claims(), trail, store, logger)
	finalizer := omega.NewFinalizer(omega.DefaultConfig(), store.Filings(), trail, store, logger)

	svc := NewService(Config{}, Deps{
		Normalizer: evidence.NewNormalizer("IN", decimal.NewFromInt(100_000)),
		Engine:     rules.NewEngine(rules.DefaultThresholds()),
		Scorer:     scoring.NewScorer("IN"),
		Generator:  fixtures.Generator(t),
		Claims:     claimSvc,
		Finalizer:  finalizer,
		Auditor:    trail,
	}, logger, append([]Option{WithClock(testutil.FixedClock(t0))}, opts...)...)

	return &harness{svc: svc, store: store, trail: trail, claims: claimSvc}
}

func eventTypes(events []*audit.Event) []audit.EventType {
	out := make([]audit.EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestProcessCase_FilesReadyClaim(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	res, err := h.svc.ProcessCase(ctx, CaseRequest{
		Case:      fixtures.NewCaseBuilder("CASE-P1").Build(),
		UserID:    "analyst-7",
		Narrative: fixtures.Narrative(620),
	})
	require.NoError(t, err)

	assert.Nil(t, res.Alert)
	assert.True(t, res.Filing.RegulatoryReady, res.Filing.Errors)
	assert.Equal(t, "static", res.Narrative.Provider)
	require.Len(t, res.Claim.PipelineTransforms, 3)
	assert.Equal(t, "normalization", res.Claim.PipelineTransforms[0].Stage)

	stored, err := h.claims.Get(ctx, res.Claim.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, res.Claim.IntegrityHashes, stored.IntegrityHashes)
	assert.NoError(t, h.claims.VerifyIntegrity(ctx, res.Claim.ClaimID, "auditor"))

	events, err := h.trail.GetTrail(ctx, "CASE-P1")
	require.NoError(t, err)
	assert.Equal(t, []audit.EventType{
		audit.EventCaseCreated,
		audit.EventDataNormalized,
		audit.EventRulesEvaluated,
		audit.EventMLScored,
		audit.EventRAGRetrieved,
		audit.EventClaimGenerated,
		audit.EventNarrativeGenerated,
		audit.EventValidationCompleted,
		audit.EventFilingCreated,
	}, eventTypes(events))

	assert.Empty(t, events[0].CausedBy)
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].ID, events[i].CausedBy[0], "event %s", events[i].Type)
	}
	ids := make([]uuid.UUID, 0, len(events))
	for _, e := range events {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, ids, res.AuditTrail)

	verification, err := h.trail.VerifyChain(ctx, "CASE-P1")
	require.NoError(t, err)
	assert.True(t, verification.IsValid)

	recon, err := h.trail.Reconstruct(ctx, "CASE-P1", "inconsistent with the declared profile")
	require.NoError(t, err)
	assert.True(t, recon.FragmentFound)
}

func TestProcessCase_HighRiskRaisesAlert(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	raw := fixtures.NewCaseBuilder("CASE-P2").WithStructuring(4).WithSanctionsMatch().Build()
	res, err := h.svc.ProcessCase(ctx, CaseRequest{Case: raw, Narrative: fixtures.Narrative(700)})
	require.NoError(t, err)

	require.NotNil(t, res.Alert)
	assert.GreaterOrEqual(t, res.Alert.RiskScore, DefaultRiskAlertThreshold)
	assert.Equal(t, t0, res.Alert.CreatedAt)
	assert.Contains(t, res.Evaluation.Typologies, rules.TypologyStructuring)

	events, err := h.trail.GetTrail(ctx, "CASE-P2")
	require.NoError(t, err)
	types := eventTypes(events)
	assert.Contains(t, types, audit.EventAlertCreated)
	assert.Equal(t, "system", events[0].UserID)
}

func TestProcessCase_ShortNarrativeStillFiles(t *testing.T) {
	h := newHarness(t)

	res, err := h.svc.ProcessCase(testutil.TestContext(t), CaseRequest{
		Case:      fixtures.NewCaseBuilder("CASE-P3").Build(),
		Narrative: "Brief.",
	})
	require.NoError(t, err)

	assert.False(t, res.Filing.RegulatoryReady)
	assert.Contains(t, res.Filing.Errors, "Narrative too short: 6 < 500")
}

func TestProcessCase_InvalidCaseStopsAfterIntake(t *testing.T) {
	h := newHarness(t)
	ctx := testutil.TestContext(t)

	raw := fixtures.NewCaseBuilder("CASE-P4").Build()
	raw.Customer.CustomerID = ""
	_, err := h.svc.ProcessCase(ctx, CaseRequest{Case: raw})
	require.Error(t, err)
	assert.Equal(t, "INVALID_CASE_INPUT", errors.CodeOf(err))

	events, err := h.trail.GetTrail(ctx, "CASE-P4")
	require.NoError(t, err)
	assert.Equal(t, []audit.EventType{audit.EventCaseCreated}, eventTypes(events))
}

func TestProcessCase_UsesRetrieverHits(t *testing.T) {
	retriever := &mockRetriever{}
	retriever.On("Retrieve", mock.Anything, mock.Anything, mock.Anything).Return(claimgen.Retrieval{
		Guidelines: []claimgen.Snippet{{
			Content:  "Report cash transactions above INR 10 lakh.",
			Metadata: map[string]any{"doc_id": "FIU-IND-2.1", "source_file": "fiu_guidelines.pdf"},
			Distance: 0.1,
		}},
	}, nil).Once()

	h := newHarness(t, WithRetriever(retriever))
	ctx := testutil.TestContext(t)

	res, err := h.svc.ProcessCase(ctx, CaseRequest{
		Case:      fixtures.NewCaseBuilder("CASE-P5").Build(),
		Narrative: fixtures.Narrative(600),
	})
	require.NoError(t, err)

	require.Len(t, res.Claim.RegulatoryHooks, 1)
	assert.Equal(t, "FIU-IND-2.1", res.Claim.RegulatoryHooks[0].DocID)

	recon, err := h.trail.Reconstruct(ctx, "CASE-P5", "")
	require.NoError(t, err)
	var sources any
	for _, step := range recon.Steps {
		if step.EventType == audit.EventRAGRetrieved {
			sources = step.Details["sources"]
		}
	}
	assert.Equal(t, map[string][]string{
		"guidelines": {"fiu_guidelines.pdf"},
		"templates":  {},
		"prior_sars": {},
	}, sources)
	retriever.AssertExpectations(t)
}

func TestProcessCase_NarratorFailureKeepsCompletedSteps(t *testing.T) {
	h := newHarness(t, WithNarrator(failingNarrator{}))
	ctx := testutil.TestContext(t)

	_, err := h.svc.ProcessCase(ctx, CaseRequest{Case: fixtures.NewCaseBuilder("CASE-P6").Build()})
	require.Error(t, err)

	events, err := h.trail.GetTrail(ctx, "CASE-P6")
	require.NoError(t, err)
	assert.Equal(t, audit.EventClaimGenerated, events[len(events)-1].Type)

	saved, err := h.claims.ListByCase(ctx, "CASE-P6")
	require.NoError(t, err)
	assert.Len(t, saved, 1)
}

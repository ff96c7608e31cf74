package claims

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/cache"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/memory"
	auditsvc "github.com/davidleathers/sar-claim-pipeline/internal/service/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/testutil"
	"github.com/davidleathers/sar-claim-pipeline/internal/testutil/fixtures"
	"github.com/davidleathers/sar-claim-pipeline/internal/testutil/mocks"
)

var t0 = time.Date(2026, 5, 5, 9, 0, 0, 0, time.UTC)

type harness struct {
	svc   *Service
	store *memory.Store
	trail *auditsvc.Trail
	cache *cache.ClaimCache
}

func newHarness(t *testing.T, repo claim.Repository) *harness {
	t.Helper()
	store := memory.NewStore()
	if repo == nil {
		repo = store.Claims()
	}

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cc, err := cache.NewClaimCache(client, zaptest.NewLogger(t), cache.ClaimCacheConfig{TTL: time.Hour})
	require.NoError(t, err)

	trail := auditsvc.NewTrail(store.Audit(), store, nil, zaptest.NewLogger(t),
		auditsvc.WithClock(testutil.StepClock(t0, time.Second)))
	svc := NewService(repo, trail, store, zaptest.NewLogger(t),
		WithCache(cc), WithClock(testutil.FixedClock(t0)))
	return &harness{svc: svc, store: store, trail: trail, cache: cc}
}

// tamperingRepo serves stored claims with a modified risk score.
type tamperingRepo struct {
	claim.Repository
}

func (r tamperingRepo) Get(ctx context.Context, claimID string) (*claim.Object, error) {
	obj, err := r.Repository.Get(ctx, claimID)
	if err != nil {
		return nil, err
	}
	obj.RiskAssessment.OverallRiskScore += 10
	return obj, nil
}

func TestSaveAndGet_ReadsThroughCache(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testutil.TestContext(t)
	obj := fixtures.SealedClaim(t, "CASE-C1")

	require.NoError(t, h.svc.Save(ctx, obj))

	got, err := h.svc.Get(ctx, obj.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, obj.IntegrityHashes, got.IntegrityHashes)
	assert.Equal(t, int64(1), h.cache.Stats()["hits"])

	list, err := h.svc.ListByCase(ctx, "CASE-C1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, obj.ClaimID, list[0].ClaimID)
}

func TestSave_RejectsTamperedClaim(t *testing.T) {
	h := newHarness(t, nil)
	obj := fixtures.SealedClaim(t, "CASE-C2")
	obj.RiskAssessment.OverallRiskScore = 99

	err := h.svc.Save(testutil.TestContext(t), obj)

	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeIntegrity))
	_, err = h.store.Claims().Get(context.Background(), obj.ClaimID)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestSave_DuplicateConflicts(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testutil.TestContext(t)
	obj := fixtures.SealedClaim(t, "CASE-C3")

	require.NoError(t, h.svc.Save(ctx, obj))
	err := h.svc.Save(ctx, obj)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
}

func TestGet_RequiresID(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.Get(testutil.TestContext(t), "")
	assert.Equal(t, "MISSING_CLAIM_ID", errors.CodeOf(err))
}

func TestChangeStatus_AppendsHistoryAndAudit(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testutil.TestContext(t)
	obj := fixtures.SealedClaim(t, "CASE-C4")
	require.NoError(t, h.svc.Save(ctx, obj))

	change, err := h.svc.ChangeStatus(ctx, obj.ClaimID, claim.StatusAnalystReview, "analyst-1", "ready for review")
	require.NoError(t, err)
	assert.Equal(t, claim.StatusDraft, change.FromStatus)
	assert.Equal(t, t0, change.ChangedAt)

	_, err = h.svc.ChangeStatus(ctx, obj.ClaimID, claim.StatusFiled, "analyst-1", "")
	assert.Equal(t, errors.CodeInvalidTransition, errors.CodeOf(err))

	history, err := h.svc.History(ctx, obj.ClaimID)
	require.NoError(t, err)
	require.Len(t, history, 1)

	events, err := h.trail.GetTrail(ctx, "CASE-C4")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.EventClaimStatusChanged, events[0].Type)
	assert.Equal(t, "analyst_review", events[0].Data["to_status"])

	stored, err := h.store.Claims().Get(ctx, obj.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, claim.StatusDraft, stored.Status)
}

func TestChangeStatus_AuditFailureRollsBack(t *testing.T) {
	store := memory.NewStore()
	auditor := &mocks.AuditLogger{}
	auditor.On("Log", mock.Anything, mock.Anything).Return(nil, errors.NewInternalError("audit down"))

	svc := NewService(store.Claims(), auditor, store, zaptest.NewLogger(t))
	ctx := testutil.TestContext(t)
	obj := fixtures.SealedClaim(t, "CASE-C5")
	require.NoError(t, svc.Save(ctx, obj))

	_, err := svc.ChangeStatus(ctx, obj.ClaimID, claim.StatusRejected, "officer-2", "duplicate")
	require.Error(t, err)

	history, err := svc.History(ctx, obj.ClaimID)
	require.NoError(t, err)
	assert.Empty(t, history)
	auditor.AssertExpectations(t)
}

func TestVerifyIntegrity_Clean(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testutil.TestContext(t)
	obj := fixtures.SealedClaim(t, "CASE-C6")
	require.NoError(t, h.svc.Save(ctx, obj))

	assert.NoError(t, h.svc.VerifyIntegrity(ctx, obj.ClaimID, "auditor-1"))

	events, err := h.trail.GetTrail(ctx, "CASE-C6")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestVerifyIntegrity_TamperedRecordsViolation(t *testing.T) {
	store := memory.NewStore()
	auditor := &mocks.AuditLogger{}
	auditor.On("Log", mock.Anything, mock.MatchedBy(func(e auditsvc.Entry) bool {
		return e.Type == audit.EventIntegrityViolation && e.UserID == "system" && e.Data["field"] == "output_hash"
	})).Return(&audit.Event{}, nil).Once()

	ctx := testutil.TestContext(t)
	obj := fixtures.SealedClaim(t, "CASE-C7")
	require.NoError(t, store.Claims().Save(ctx, obj))

	svc := NewService(tamperingRepo{store.Claims()}, auditor, mocks.PassThroughUnit{}, zaptest.NewLogger(t))
	err := svc.VerifyIntegrity(ctx, obj.ClaimID, "")

	require.Error(t, err)
	assert.Equal(t, errors.CodeIntegrity, errors.CodeOf(err))
	auditor.AssertExpectations(t)
}

func TestSearch_ValidatesFilter(t *testing.T) {
	h := newHarness(t, nil)
	ctx := testutil.TestContext(t)
	require.NoError(t, h.svc.Save(ctx, fixtures.SealedClaim(t, "CASE-C8")))

	_, err := h.svc.Search(ctx, claim.Filter{Limit: -1})
	assert.Equal(t, "INVALID_FILTER", errors.CodeOf(err))

	found, err := h.svc.Search(ctx, claim.Filter{Jurisdiction: "IN", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

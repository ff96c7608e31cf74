package database

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/filing"
	"github.com/davidleathers/sar-claim-pipeline/internal/infrastructure/config"
	auditsvc "github.com/davidleathers/sar-claim-pipeline/internal/service/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/testutil"
	"github.com/davidleathers/sar-claim-pipeline/internal/testutil/containers"
	"github.com/davidleathers/sar-claim-pipeline/internal/testutil/fixtures"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *Store {
	t.Helper()
	pg := containers.StartPostgres(t)

	m, err := NewMigrator(pg.ConnectionString)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	version, dirty, err := m.Version()
	require.NoError(t, err)
	require.False(t, dirty)
	require.Equal(t, uint(1), version)
	require.NoError(t, m.Close())

	pool, err := Connect(context.Background(), &config.DatabaseConfig{
		URL:             pg.ConnectionString,
		MaxConns:        4,
		ConnectAttempts: 3,
		ConnectDelay:    100 * time.Millisecond,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	s := NewStore(pool, zaptest.NewLogger(t))
	t.Cleanup(s.Close)
	return s
}

func chained(t *testing.T, caseID string, seq int64, prev string, at time.Time) *audit.Event {
	t.Helper()
	e, err := audit.NewEvent(caseID, audit.EventCaseCreated, map[string]any{"n": seq}, "system", at)
	require.NoError(t, err)
	require.NoError(t, e.Chain(seq, prev))
	return e
}

func stubClaim(caseID string, created time.Time, risk float64, sev claim.Severity) *claim.Object {
	obj := &claim.Object{}
	obj.ClaimID = uuid.NewString()
	obj.CaseID = caseID
	obj.Status = claim.StatusDraft
	obj.Environment = claim.EnvironmentOnPrem
	obj.Jurisdiction = []string{"IN"}
	obj.TimestampCreated = created
	obj.RiskAssessment.OverallRiskScore = risk
	obj.RiskAssessment.SeverityBand = sev
	return obj
}

func TestStore_PostgreSQL(t *testing.T) {
	s := newStore(t)

	t.Run("audit append latest list", func(t *testing.T) {
		ctx := testutil.TestContext(t)
		repo := s.Audit()

		latest, err := repo.Latest(ctx, "CASE-A")
		require.NoError(t, err)
		assert.Nil(t, latest)

		first := chained(t, "CASE-A", 1, "", t0.Add(123456*time.Microsecond))
		second := chained(t, "CASE-A", 2, first.EventHash, t0.Add(time.Second))
		second.CausedBy = []uuid.UUID{first.ID}
		second.EventHash, err = second.ComputeHash()
		require.NoError(t, err)

		require.NoError(t, repo.Append(ctx, first))
		require.NoError(t, repo.Append(ctx, second))

		dup := chained(t, "CASE-A", 2, first.EventHash, t0)
		assert.True(t, errors.IsType(repo.Append(ctx, dup), errors.ErrorTypeConflict))

		latest, err = repo.Latest(ctx, "CASE-A")
		require.NoError(t, err)
		assert.Equal(t, second.ID, latest.ID)
		assert.Equal(t, []uuid.UUID{first.ID}, latest.CausedBy)

		trail, err := repo.ListByCase(ctx, "CASE-A")
		require.NoError(t, err)
		require.Len(t, trail, 2)
		assert.True(t, audit.VerifyChain("CASE-A", trail).IsValid, "hashes survive the round trip")
	})

	t.Run("unit rolls back on error", func(t *testing.T) {
		ctx := testutil.TestContext(t)
		boom := stderrors.New("boom")

		err := s.WithinCase(ctx, "CASE-B", func(ctx context.Context) error {
			require.NoError(t, s.Audit().Append(ctx, chained(t, "CASE-B", 1, "", t0)))
			require.NoError(t, s.Claims().Save(ctx, stubClaim("CASE-B", t0, 10, claim.SeverityLow)))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		trail, err := s.Audit().ListByCase(ctx, "CASE-B")
		require.NoError(t, err)
		assert.Empty(t, trail)

		claims, err := s.Claims().ListByCase(ctx, "CASE-B")
		require.NoError(t, err)
		assert.Empty(t, claims)
	})

	t.Run("nested unit joins transaction", func(t *testing.T) {
		ctx := testutil.TestContext(t)

		err := s.WithinCase(ctx, "CASE-C", func(ctx context.Context) error {
			return s.WithinCase(ctx, "CASE-C", func(ctx context.Context) error {
				return s.Audit().Append(ctx, chained(t, "CASE-C", 1, "", t0))
			})
		})
		require.NoError(t, err)

		latest, err := s.Audit().Latest(ctx, "CASE-C")
		require.NoError(t, err)
		require.NotNil(t, latest)
	})

	t.Run("trail chains concurrent appends", func(t *testing.T) {
		ctx := testutil.TestContext(t)
		trail := auditsvc.NewTrail(s.Audit(), s, nil, zaptest.NewLogger(t))

		errs := make(chan error, 10)
		for i := 0; i < 10; i++ {
			go func() {
				_, err := trail.Log(ctx, auditsvc.Entry{
					CaseID: "CASE-D",
					Type:   audit.EventRulesEvaluated,
					UserID: "system",
				})
				errs <- err
			}()
		}
		for i := 0; i < 10; i++ {
			require.NoError(t, <-errs)
		}

		result, err := trail.VerifyChain(ctx, "CASE-D")
		require.NoError(t, err)
		assert.True(t, result.IsValid)
		assert.Equal(t, 10, result.EventsVerified)
	})

	t.Run("claims search and history", func(t *testing.T) {
		ctx := testutil.TestContext(t)
		repo := s.Claims()

		a := stubClaim("CASE-E", t0, 25, claim.SeverityLow)
		b := stubClaim("CASE-E", t0.Add(time.Hour), 90, claim.SeverityCritical)
		c := stubClaim("CASE-F", t0.Add(2*time.Hour), 72, claim.SeverityHigh)
		for _, obj := range []*claim.Object{a, b, c} {
			require.NoError(t, repo.Save(ctx, obj))
		}
		assert.True(t, errors.IsType(repo.Save(ctx, a), errors.ErrorTypeConflict))

		byCase, err := repo.ListByCase(ctx, "CASE-E")
		require.NoError(t, err)
		require.Len(t, byCase, 2)
		assert.Equal(t, b.ClaimID, byCase[0].ClaimID)

		minRisk := 70.0
		found, err := repo.Search(ctx, claim.Filter{MinRisk: &minRisk, Environment: claim.EnvironmentOnPrem})
		require.NoError(t, err)
		require.Len(t, found, 2)
		assert.Equal(t, c.ClaimID, found[0].ClaimID)

		change, err := claim.NewStatusChange(c.ClaimID, claim.StatusDraft, claim.StatusAnalystReview, "analyst", "", t0)
		require.NoError(t, err)
		require.NoError(t, repo.AppendStatusChange(ctx, change))

		status, err := repo.CurrentStatus(ctx, c.ClaimID)
		require.NoError(t, err)
		assert.Equal(t, claim.StatusAnalystReview, status)

		found, err = repo.Search(ctx, claim.Filter{Status: claim.StatusAnalystReview})
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, claim.StatusDraft, found[0].Status)

		hist, err := repo.History(ctx, c.ClaimID)
		require.NoError(t, err)
		require.Len(t, hist, 1)
		assert.Equal(t, "analyst", hist[0].ChangedBy)

		_, err = repo.History(ctx, "missing")
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
		missing, err := claim.NewStatusChange("missing", claim.StatusDraft, claim.StatusAnalystReview, "analyst", "", t0)
		require.NoError(t, err)
		assert.True(t, errors.IsType(repo.AppendStatusChange(ctx, missing), errors.ErrorTypeNotFound))
	})

	t.Run("sealed claim keeps its hashes", func(t *testing.T) {
		ctx := testutil.TestContext(t)
		obj := fixtures.SealedClaim(t, "CASE-G")
		require.NoError(t, s.Claims().Save(ctx, obj))

		got, err := s.Claims().Get(ctx, obj.ClaimID)
		require.NoError(t, err)
		assert.Equal(t, obj.IntegrityHashes, got.IntegrityHashes)
		require.NoError(t, claim.Verify(got))
	})

	t.Run("filings insert only", func(t *testing.T) {
		ctx := testutil.TestContext(t)
		repo := s.Filings()

		obj := stubClaim("CASE-H", t0, 25, claim.SeverityLow)
		checks := []filing.Check{{Name: "claim_object_valid", Passed: true}}
		f, err := filing.New("SAR-IN-2026-CASEH000-01", 1, *obj, "text", true, checks, "analyst", t0)
		require.NoError(t, err)
		require.NoError(t, repo.Insert(ctx, f))
		assert.True(t, errors.IsType(repo.Insert(ctx, f), errors.ErrorTypeConflict))

		change, err := filing.NewStatusChange(f.FilingNumber, filing.StatusReady, filing.StatusSubmitted, "officer", t0)
		require.NoError(t, err)
		require.NoError(t, repo.AppendStatusChange(ctx, change))

		status, err := repo.CurrentStatus(ctx, f.FilingNumber)
		require.NoError(t, err)
		assert.Equal(t, filing.StatusSubmitted, status)

		stored, err := repo.Get(ctx, f.FilingNumber)
		require.NoError(t, err)
		assert.Equal(t, filing.StatusReady, stored.Status)
		assert.Equal(t, checks, stored.ValidationResults)
		assert.Equal(t, obj.ClaimID, stored.Claim.ClaimID)

		list, err := repo.ListByCase(ctx, "CASE-H")
		require.NoError(t, err)
		assert.Len(t, list, 1)

		hist, err := repo.History(ctx, f.FilingNumber)
		require.NoError(t, err)
		assert.Len(t, hist, 1)
	})

	t.Run("rows reject mutation", func(t *testing.T) {
		ctx := testutil.TestContext(t)
		require.NoError(t, s.Audit().Append(ctx, chained(t, "CASE-I", 1, "", t0)))

		_, err := s.pool.Exec(ctx, `UPDATE audit_events SET user_id = 'mallory' WHERE case_id = 'CASE-I'`)
		assert.Error(t, err)
		_, err = s.pool.Exec(ctx, `DELETE FROM claims`)
		assert.Error(t, err)
	})
}

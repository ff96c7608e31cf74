package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
)

// ClaimRepository stores sealed claims insert-only. Filter columns are
// copied out of the payload at insert time.
type ClaimRepository struct {
	s *Store
}

// currentStatusSQL resolves a claim's status from its history.
const currentStatusSQL = `COALESCE((
	SELECT h.to_status FROM claim_status_history h
	WHERE h.claim_id = c.claim_id
	ORDER BY h.id DESC LIMIT 1), c.status)`

func (r *ClaimRepository) Save(ctx context.Context, obj *claim.Object) error {
	payload, err := json.Marshal(obj)
	if err != nil {
		return errors.NewInternalError("failed to marshal claim").WithCause(err)
	}

	_, err = r.s.q(ctx).Exec(ctx, `
		INSERT INTO claims (claim_id, case_id, status, environment, severity_band,
			risk_score, jurisdiction, claim_data, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		obj.ClaimID, obj.CaseID, string(obj.Status), string(obj.Environment),
		string(obj.RiskAssessment.SeverityBand), obj.RiskAssessment.OverallRiskScore,
		obj.PrimaryJurisdiction(), string(payload), obj.TimestampCreated,
	)
	if err != nil {
		return storageError("claim", err)
	}
	return nil
}

func (r *ClaimRepository) Get(ctx context.Context, claimID string) (*claim.Object, error) {
	var payload []byte
	err := r.s.q(ctx).QueryRow(ctx,
		`SELECT claim_data FROM claims WHERE claim_id = $1`, claimID).Scan(&payload)
	if err != nil {
		return nil, storageError("claim", err)
	}
	return decodeClaim(payload)
}

func (r *ClaimRepository) ListByCase(ctx context.Context, caseID string) ([]*claim.Object, error) {
	return r.list(ctx, `
		SELECT claim_data FROM claims c
		WHERE case_id = $1
		ORDER BY created_at DESC, row_seq DESC`, caseID)
}

func (r *ClaimRepository) Search(ctx context.Context, filter claim.Filter) ([]*claim.Object, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.Status != "" {
		add(currentStatusSQL+" = $%d", string(filter.Status))
	}
	if filter.Environment != "" {
		add("c.environment = $%d", string(filter.Environment))
	}
	if filter.Severity != "" {
		add("c.severity_band = $%d", string(filter.Severity))
	}
	if filter.Jurisdiction != "" {
		add("c.jurisdiction = $%d", filter.Jurisdiction)
	}
	if filter.MinRisk != nil {
		add("c.risk_score >= $%d", *filter.MinRisk)
	}

	limit := filter.Limit
	if limit == 0 {
		limit = claim.DefaultSearchLimit
	}

	var b strings.Builder
	b.WriteString("SELECT c.claim_data FROM claims c")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, limit, filter.Offset)
	fmt.Fprintf(&b, " ORDER BY c.created_at DESC, c.row_seq DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return r.list(ctx, b.String(), args...)
}

func (r *ClaimRepository) list(ctx context.Context, query string, args ...any) ([]*claim.Object, error) {
	rows, err := r.s.q(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, storageError("claims", err)
	}
	defer rows.Close()

	out := make([]*claim.Object, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, storageError("claims", err)
		}
		obj, err := decodeClaim(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("claims", err)
	}
	return out, nil
}

func (r *ClaimRepository) CurrentStatus(ctx context.Context, claimID string) (claim.Status, error) {
	var status string
	err := r.s.q(ctx).QueryRow(ctx,
		`SELECT `+currentStatusSQL+` FROM claims c WHERE c.claim_id = $1`, claimID).Scan(&status)
	if err != nil {
		return "", storageError("claim", err)
	}
	return claim.Status(status), nil
}

func (r *ClaimRepository) AppendStatusChange(ctx context.Context, change *claim.StatusChange) error {
	tag, err := r.s.q(ctx).Exec(ctx, `
		INSERT INTO claim_status_history (claim_id, from_status, to_status, changed_by, reason, changed_at)
		SELECT claim_id, $2, $3, $4, $5, $6 FROM claims WHERE claim_id = $1`,
		change.ClaimID, string(change.FromStatus), string(change.ToStatus),
		change.ChangedBy, change.Reason, change.ChangedAt,
	)
	if err != nil {
		return storageError("claim status change", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("claim")
	}
	return nil
}

func (r *ClaimRepository) History(ctx context.Context, claimID string) ([]*claim.StatusChange, error) {
	var exists bool
	if err := r.s.q(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM claims WHERE claim_id = $1)`, claimID).Scan(&exists); err != nil {
		return nil, storageError("claim", err)
	}
	if !exists {
		return nil, errors.NewNotFoundError("claim")
	}

	rows, err := r.s.q(ctx).Query(ctx, `
		SELECT claim_id, from_status, to_status, changed_by, reason, changed_at
		FROM claim_status_history
		WHERE claim_id = $1
		ORDER BY id`, claimID)
	if err != nil {
		return nil, storageError("claim history", err)
	}
	defer rows.Close()

	out := make([]*claim.StatusChange, 0)
	for rows.Next() {
		var (
			c        claim.StatusChange
			from, to string
		)
		if err := rows.Scan(&c.ClaimID, &from, &to, &c.ChangedBy, &c.Reason, &c.ChangedAt); err != nil {
			return nil, storageError("claim history", err)
		}
		c.FromStatus, c.ToStatus = claim.Status(from), claim.Status(to)
		c.ChangedAt = c.ChangedAt.UTC()
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("claim history", err)
	}
	return out, nil
}

func decodeClaim(payload []byte) (*claim.Object, error) {
	var obj claim.Object
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, errors.NewInternalError("stored claim cannot be decoded").WithCause(err)
	}
	return &obj, nil
}

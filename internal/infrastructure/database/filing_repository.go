package database

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/filing"
)

type FilingRepository struct {
	s *Store
}

const filingColumns = `filing_number, case_id, claim_id, sequence, payload, narrative,
	regulatory_ready, validation_results, status, created_by, created_at`

const currentFilingStatusSQL = `COALESCE((
	SELECT h.to_status FROM filing_status_history h
	WHERE h.filing_number = f.filing_number
	ORDER BY h.id DESC LIMIT 1), f.status)`

func (r *FilingRepository) Insert(ctx context.Context, f *filing.Filing) error {
	payload, err := json.Marshal(f.Claim)
	if err != nil {
		return errors.NewInternalError("failed to marshal filing claim").WithCause(err)
	}
	checks := f.ValidationResults
	if checks == nil {
		checks = []filing.Check{}
	}
	results, err := json.Marshal(checks)
	if err != nil {
		return errors.NewInternalError("failed to marshal validation results").WithCause(err)
	}

	_, err = r.s.q(ctx).Exec(ctx, `INSERT INTO final_filings (`+filingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		f.FilingNumber, f.CaseID, f.ClaimID, f.Sequence, string(payload), f.Narrative,
		f.RegulatoryReady, string(results), string(f.Status), f.CreatedBy, f.CreatedAt,
	)
	if err != nil {
		return storageError("filing", err)
	}
	return nil
}

func (r *FilingRepository) Get(ctx context.Context, number string) (*filing.Filing, error) {
	row := r.s.q(ctx).QueryRow(ctx,
		`SELECT `+filingColumns+` FROM final_filings WHERE filing_number = $1`, number)
	f, err := scanFiling(row)
	if err != nil {
		return nil, storageError("filing", err)
	}
	return f, nil
}

func (r *FilingRepository) ListByCase(ctx context.Context, caseID string) ([]*filing.Filing, error) {
	rows, err := r.s.q(ctx).Query(ctx, `SELECT `+filingColumns+` FROM final_filings
		WHERE case_id = $1
		ORDER BY sequence, created_at`, caseID)
	if err != nil {
		return nil, storageError("filings", err)
	}
	defer rows.Close()

	out := make([]*filing.Filing, 0)
	for rows.Next() {
		f, err := scanFiling(rows)
		if err != nil {
			return nil, storageError("filings", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("filings", err)
	}
	return out, nil
}

func (r *FilingRepository) CurrentStatus(ctx context.Context, number string) (filing.Status, error) {
	var status string
	err := r.s.q(ctx).QueryRow(ctx,
		`SELECT `+currentFilingStatusSQL+` FROM final_filings f WHERE f.filing_number = $1`, number).Scan(&status)
	if err != nil {
		return "", storageError("filing", err)
	}
	return filing.Status(status), nil
}

func (r *FilingRepository) AppendStatusChange(ctx context.Context, change *filing.StatusChange) error {
	tag, err := r.s.q(ctx).Exec(ctx, `
		INSERT INTO filing_status_history (filing_number, from_status, to_status, changed_by, changed_at)
		SELECT filing_number, $2, $3, $4, $5 FROM final_filings WHERE filing_number = $1`,
		change.FilingNumber, string(change.FromStatus), string(change.ToStatus),
		change.ChangedBy, change.ChangedAt,
	)
	if err != nil {
		return storageError("filing status change", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("filing")
	}
	return nil
}

func (r *FilingRepository) History(ctx context.Context, number string) ([]*filing.StatusChange, error) {
	var exists bool
	if err := r.s.q(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM final_filings WHERE filing_number = $1)`, number).Scan(&exists); err != nil {
		return nil, storageError("filing", err)
	}
	if !exists {
		return nil, errors.NewNotFoundError("filing")
	}

	rows, err := r.s.q(ctx).Query(ctx, `
		SELECT filing_number, from_status, to_status, changed_by, changed_at
		FROM filing_status_history
		WHERE filing_number = $1
		ORDER BY id`, number)
	if err != nil {
		return nil, storageError("filing history", err)
	}
	defer rows.Close()

	out := make([]*filing.StatusChange, 0)
	for rows.Next() {
		var (
			c        filing.StatusChange
			from, to string
		)
		if err := rows.Scan(&c.FilingNumber, &from, &to, &c.ChangedBy, &c.ChangedAt); err != nil {
			return nil, storageError("filing history", err)
		}
		c.FromStatus, c.ToStatus = filing.Status(from), filing.Status(to)
		c.ChangedAt = c.ChangedAt.UTC()
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("filing history", err)
	}
	return out, nil
}

func scanFiling(row pgx.Row) (*filing.Filing, error) {
	var (
		f                filing.Filing
		payload, results []byte
		status           string
	)
	if err := row.Scan(&f.FilingNumber, &f.CaseID, &f.ClaimID, &f.Sequence, &payload, &f.Narrative,
		&f.RegulatoryReady, &results, &status, &f.CreatedBy, &f.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(payload, &f.Claim); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(results, &f.ValidationResults); err != nil {
		return nil, err
	}
	f.Status = filing.Status(status)
	f.CreatedAt = f.CreatedAt.UTC()
	return &f, nil
}

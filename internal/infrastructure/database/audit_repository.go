package database

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
)

// AuditRepository stores the per-case audit trail in audit_events.
type AuditRepository struct {
	s *Store
}

const auditColumns = `id, case_id, sequence, event_type, event_data, user_id, timestamp,
	caused_by, environment, previous_hash, event_hash`

func (r *AuditRepository) Append(ctx context.Context, event *audit.Event) error {
	if !event.IsChained() {
		return errors.NewValidationError("EVENT_NOT_CHAINED", "audit event must be chained before storage")
	}

	data, err := json.Marshal(event.Data)
	if err != nil {
		return errors.NewInternalError("failed to marshal event data").WithCause(err)
	}
	causedBy := event.CausedBy
	if causedBy == nil {
		causedBy = []uuid.UUID{}
	}
	caused, err := json.Marshal(causedBy)
	if err != nil {
		return errors.NewInternalError("failed to marshal caused_by").WithCause(err)
	}
	env, err := json.Marshal(event.Environment)
	if err != nil {
		return errors.NewInternalError("failed to marshal environment").WithCause(err)
	}

	_, err = r.s.q(ctx).Exec(ctx, `
		INSERT INTO audit_events (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		event.ID, event.CaseID, event.Sequence, string(event.Type), string(data), event.UserID,
		event.Timestamp, string(caused), string(env), event.PreviousHash, event.EventHash,
	)
	if err != nil {
		return storageError("audit event", err)
	}
	return nil
}

func (r *AuditRepository) Latest(ctx context.Context, caseID string) (*audit.Event, error) {
	row := r.s.q(ctx).QueryRow(ctx, `
		SELECT `+auditColumns+` FROM audit_events
		WHERE case_id = $1
		ORDER BY sequence DESC
		LIMIT 1`, caseID)

	e, err := scanEvent(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("audit event", err)
	}
	return e, nil
}

func (r *AuditRepository) ListByCase(ctx context.Context, caseID string) ([]*audit.Event, error) {
	rows, err := r.s.q(ctx).Query(ctx, `
		SELECT `+auditColumns+` FROM audit_events
		WHERE case_id = $1
		ORDER BY timestamp, sequence`, caseID)
	if err != nil {
		return nil, storageError("audit trail", err)
	}
	defer rows.Close()

	events := make([]*audit.Event, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, storageError("audit trail", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("audit trail", err)
	}
	return events, nil
}

func scanEvent(row pgx.Row) (*audit.Event, error) {
	var (
		e                 audit.Event
		eventType         string
		data, caused, env []byte
	)
	err := row.Scan(&e.ID, &e.CaseID, &e.Sequence, &eventType, &data, &e.UserID, &e.Timestamp,
		&caused, &env, &e.PreviousHash, &e.EventHash)
	if err != nil {
		return nil, err
	}
	e.Type = audit.EventType(eventType)
	e.Timestamp = e.Timestamp.UTC()

	if err := json.Unmarshal(data, &e.Data); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(caused, &e.CausedBy); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env, &e.Environment); err != nil {
		return nil, err
	}
	return &e, nil
}

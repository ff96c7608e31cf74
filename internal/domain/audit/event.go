package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/hashchain"
)

// Event is an immutable audit log entry. It is append-only: once chained and
// stored it is never updated or deleted.
type Event struct {
	// Identity. Sequence is the 1-based position within the case trail and is
	// assigned when the event is chained onto the trail.
	ID       uuid.UUID `json:"id"`
	CaseID   string    `json:"case_id"`
	Sequence int64     `json:"sequence"`

	Type      EventType      `json:"event_type"`
	Data      map[string]any `json:"event_data"`
	UserID    string         `json:"user_id"`
	Timestamp time.Time      `json:"timestamp"`

	// CausedBy lists the events this step consumed.
	CausedBy    []uuid.UUID    `json:"caused_by"`
	Environment map[string]any `json:"environment"`

	// Per-case hash link
	PreviousHash string `json:"previous_hash"`
	EventHash    string `json:"event_hash"`
}

// NewEvent validates and builds an unchained event. Data is reduced to plain
// JSON values and timestamps are truncated to microseconds, so the hash
// survives a round trip through PostgreSQL.
func NewEvent(caseID string, eventType EventType, data map[string]any, userID string, at time.Time) (*Event, error) {
	if caseID == "" {
		return nil, errors.NewFieldError("MISSING_CASE_ID", "case_id", "case ID is required")
	}
	if !eventType.Valid() {
		return nil, errors.NewFieldError("INVALID_EVENT_TYPE", "event_type",
			"unknown event type: "+string(eventType))
	}
	if userID == "" {
		return nil, errors.NewFieldError("MISSING_USER_ID", "user_id", "user ID is required")
	}
	normalized, err := normalizeData(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:          uuid.New(),
		CaseID:      caseID,
		Type:        eventType,
		Data:        normalized,
		UserID:      userID,
		Timestamp:   at.UTC().Truncate(time.Microsecond),
		CausedBy:    []uuid.UUID{},
		Environment: map[string]any{},
	}, nil
}

// Chain places the event at sequence on its case trail, links it to the
// previous event's hash and seals it.
func (e *Event) Chain(sequence int64, previousHash string) error {
	if e.EventHash != "" {
		return errors.NewBusinessError("EVENT_IMMUTABLE", "event is already chained")
	}
	if sequence < 1 {
		return errors.NewValidationError("INVALID_SEQUENCE", "sequence must be positive")
	}

	e.Sequence = sequence
	e.PreviousHash = previousHash

	hash, err := e.ComputeHash()
	if err != nil {
		return err
	}
	e.EventHash = hash
	return nil
}

// ComputeHash derives the event hash from its content and previous hash.
// It never reads EventHash, so stored events can be re-verified.
func (e *Event) ComputeHash() (string, error) {
	causedBy := make([]string, 0, len(e.CausedBy))
	for _, id := range e.CausedBy {
		causedBy = append(causedBy, id.String())
	}

	hash, err := hashchain.DictHash(map[string]any{
		"id":            e.ID.String(),
		"case_id":       e.CaseID,
		"sequence":      e.Sequence,
		"event_type":    string(e.Type),
		"event_data":    e.Data,
		"user_id":       e.UserID,
		"timestamp":     e.Timestamp.UTC().Format(time.RFC3339Nano),
		"caused_by":     causedBy,
		"environment":   e.Environment,
		"previous_hash": e.PreviousHash,
	})
	if err != nil {
		return "", errors.NewInternalError("failed to hash audit event").WithCause(err)
	}
	return hash, nil
}

// IsChained reports whether the event has been sealed.
func (e *Event) IsChained() bool {
	return e.EventHash != ""
}

// Summary is the one-line description used by trail reconstruction.
func (e *Event) Summary() string {
	return e.Type.Summary()
}

// normalizeData converts event data to the generic JSON shapes a stored
// event decodes into.
func normalizeData(data map[string]any) (map[string]any, error) {
	out := map[string]any{}
	if len(data) == 0 {
		return out, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.NewFieldError("UNSERIALIZABLE_EVENT_DATA", "event_data",
			"event data must be JSON-serializable").WithCause(err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, errors.NewInternalError("failed to normalize event data").WithCause(err)
	}
	return out, nil
}

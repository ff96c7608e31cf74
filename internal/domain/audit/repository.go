package audit

import (
	"context"
)

// Repository persists audit events. Implementations are insert-only and
// join the caller's transaction when one is carried by ctx.
type Repository interface {
	// Append stores a chained event. A second event at the same case
	// sequence is a conflict.
	Append(ctx context.Context, event *Event) error

	// Latest returns the highest-sequence event of a case trail, or nil when the
	// trail is empty.
	Latest(ctx context.Context, caseID string) (*Event, error)

	// ListByCase returns a case trail ordered by timestamp, then sequence.
	ListByCase(ctx context.Context, caseID string) ([]*Event, error)
}

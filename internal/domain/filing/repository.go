package filing

import (
	"context"
)

// Repository stores filings insert-only. Only the status history grows.
type Repository interface {
	// Insert stores a filing. A duplicate filing number is a conflict.
	Insert(ctx context.Context, f *Filing) error

	Get(ctx context.Context, number string) (*Filing, error)

	// ListByCase returns a case's filings in sequence order.
	ListByCase(ctx context.Context, caseID string) ([]*Filing, error)

	// CurrentStatus is the latest history status, or the status the filing
	// was inserted with.
	CurrentStatus(ctx context.Context, number string) (Status, error)

	AppendStatusChange(ctx context.Context, change *StatusChange) error

	History(ctx context.Context, number string) ([]*StatusChange, error)
}

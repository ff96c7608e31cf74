package claims

import (
	"context"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	auditsvc "github.com/davidleathers/sar-claim-pipeline/internal/service/audit"
)

// Cache holds sealed claims by id. Claims never change once saved, so
// entries are never invalidated.
type Cache interface {
	GetClaim(ctx context.Context, claimID string) (*claim.Object, error)
	SetClaim(ctx context.Context, obj *claim.Object) error
}

// AuditLogger records claim lifecycle events on the case trail.
type AuditLogger interface {
	Log(ctx context.Context, entry auditsvc.Entry) (*audit.Event, error)
}

// UnitOfWork serializes writes on one case.
type UnitOfWork interface {
	WithinCase(ctx context.Context, caseID string, fn func(ctx context.Context) error) error
}

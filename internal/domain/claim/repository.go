package claim

import (
	"context"
)

// Filter selects stored claims. Zero values match everything.
type Filter struct {
	Status       Status      `json:"status,omitempty" validate:"omitempty,oneof=draft analyst_review approved filed rejected"`
	Environment  Environment `json:"environment,omitempty" validate:"omitempty,oneof=on-prem aws multi-cloud"`
	Severity     Severity    `json:"severity,omitempty" validate:"omitempty,oneof=low medium high critical"`
	Jurisdiction string      `json:"jurisdiction,omitempty"`
	MinRisk      *float64    `json:"min_risk,omitempty" validate:"omitempty,gte=0,lte=100"`
	Limit        int         `json:"limit,omitempty" validate:"gte=0,lte=500"`
	Offset       int         `json:"offset,omitempty" validate:"gte=0"`
}

// DefaultSearchLimit applies when a filter leaves Limit at zero.
const DefaultSearchLimit = 50

// Matches reports whether a claim with the given current status passes the
// filter. Stores that cannot push the filter down use it directly.
func (f Filter) Matches(obj *Object, current Status) bool {
	if f.Status != "" && current != f.Status {
		return false
	}
	if f.Environment != "" && obj.Environment != f.Environment {
		return false
	}
	if f.Severity != "" && obj.RiskAssessment.SeverityBand != f.Severity {
		return false
	}
	if f.Jurisdiction != "" && obj.PrimaryJurisdiction() != f.Jurisdiction {
		return false
	}
	if f.MinRisk != nil && obj.RiskAssessment.OverallRiskScore < *f.MinRisk {
		return false
	}
	return true
}

// Repository stores sealed claims. Claims are insert-only; status changes
// are appended to a separate history.
type Repository interface {
	// Save inserts a claim. Saving an existing claim_id is a conflict.
	Save(ctx context.Context, obj *Object) error

	Get(ctx context.Context, claimID string) (*Object, error)

	// ListByCase returns a case's claims, newest first.
	ListByCase(ctx context.Context, caseID string) ([]*Object, error)

	// Search returns claims matching filter, newest first.
	Search(ctx context.Context, filter Filter) ([]*Object, error)

	// CurrentStatus is the latest history status, or the status the claim
	// was saved with.
	CurrentStatus(ctx context.Context, claimID string) (Status, error)

	AppendStatusChange(ctx context.Context, change *StatusChange) error

	// History returns status changes oldest first.
	History(ctx context.Context, claimID string) ([]*StatusChange, error)
}

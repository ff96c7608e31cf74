package claim

import (
	"time"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
)

var transitions = map[Status][]Status{
	StatusDraft:         {StatusAnalystReview, StatusRejected},
	StatusAnalystReview: {StatusApproved, StatusRejected},
	StatusApproved:      {StatusFiled, StatusRejected},
}

// IsTerminal reports whether no further status change is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusFiled || s == StatusRejected
}

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusAnalystReview, StatusApproved, StatusFiled, StatusRejected:
		return true
	}
	return false
}

// CanTransition reports whether a claim may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// StatusChange is one row of a claim's status history. The claim payload
// itself never changes; its current status is the latest change.
type StatusChange struct {
	ClaimID    string    `json:"claim_id"`
	FromStatus Status    `json:"from_status"`
	ToStatus   Status    `json:"to_status"`
	ChangedBy  string    `json:"changed_by"`
	Reason     string    `json:"reason,omitempty"`
	ChangedAt  time.Time `json:"changed_at"`
}

// NewStatusChange validates the transition and builds its history row.
func NewStatusChange(claimID string, from, to Status, actor, reason string, at time.Time) (*StatusChange, error) {
	if !to.Valid() {
		return nil, errors.NewFieldError("INVALID_STATUS", "status", "unknown claim status: "+string(to))
	}
	if actor == "" {
		return nil, errors.NewFieldError("ACTOR_REQUIRED", "changed_by", "status changes require an actor")
	}
	if !CanTransition(from, to) {
		return nil, errors.NewInvalidTransitionError(string(from), string(to))
	}
	return &StatusChange{
		ClaimID:    claimID,
		FromStatus: from,
		ToStatus:   to,
		ChangedBy:  actor,
		Reason:     reason,
		ChangedAt:  at.UTC(),
	}, nil
}

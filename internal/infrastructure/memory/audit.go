package memory

import (
	"context"
	"sort"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
)

type auditRepo struct{ s *Store }

func (r auditRepo) Append(ctx context.Context, event *audit.Event) error {
	if !event.IsChained() {
		return errors.NewValidationError("EVENT_NOT_CHAINED", "audit event must be chained before storage")
	}
	stored, err := clone(event)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, e := range r.s.events[event.CaseID] {
		if e.Sequence == event.Sequence {
			return errors.NewConflictError("audit event sequence already exists for case")
		}
		if e.ID == event.ID {
			return errors.NewConflictError("audit event already exists")
		}
	}

	caseID := event.CaseID
	r.s.events[caseID] = append(r.s.events[caseID], stored)
	onRollback(ctx, func() {
		list := r.s.events[caseID]
		r.s.events[caseID] = list[:len(list)-1]
	})
	return nil
}

func (r auditRepo) Latest(_ context.Context, caseID string) (*audit.Event, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var latest *audit.Event
	for _, e := range r.s.events[caseID] {
		if latest == nil || e.Sequence > latest.Sequence {
			latest = e
		}
	}
	if latest == nil {
		return nil, nil
	}
	return clone(latest)
}

func (r auditRepo) ListByCase(_ context.Context, caseID string) ([]*audit.Event, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*audit.Event, 0, len(r.s.events[caseID]))
	for _, e := range r.s.events[caseID] {
		c, err := clone(e)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

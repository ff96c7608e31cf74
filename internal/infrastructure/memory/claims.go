package memory

import (
	"context"
	"sort"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
)

type claimRepo struct{ s *Store }

func (r claimRepo) Save(ctx context.Context, obj *claim.Object) error {
	stored, err := clone(obj)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id := obj.ClaimID
	if _, exists := r.s.claims[id]; exists {
		return errors.NewConflictError("claim already exists: " + id)
	}
	r.s.nextSeq++
	r.s.claims[id] = stored
	r.s.claimSeq[id] = r.s.nextSeq
	onRollback(ctx, func() {
		delete(r.s.claims, id)
		delete(r.s.claimSeq, id)
	})
	return nil
}

func (r claimRepo) Get(_ context.Context, claimID string) (*claim.Object, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	obj, ok := r.s.claims[claimID]
	if !ok {
		return nil, errors.NewNotFoundError("claim")
	}
	return clone(obj)
}

func (r claimRepo) ListByCase(ctx context.Context, caseID string) ([]*claim.Object, error) {
	return r.collect(func(obj *claim.Object) bool { return obj.CaseID == caseID }, 0, 0)
}

func (r claimRepo) Search(_ context.Context, filter claim.Filter) ([]*claim.Object, error) {
	limit := filter.Limit
	if limit == 0 {
		limit = claim.DefaultSearchLimit
	}
	return r.collect(func(obj *claim.Object) bool {
		return filter.Matches(obj, r.currentLocked(obj.ClaimID))
	}, filter.Offset, limit)
}

// collect returns matching claims newest first. limit 0 means all.
func (r claimRepo) collect(match func(*claim.Object) bool, offset, limit int) ([]*claim.Object, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	matched := make([]*claim.Object, 0)
	for _, obj := range r.s.claims {
		if match(obj) {
			matched = append(matched, obj)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.TimestampCreated.Equal(b.TimestampCreated) {
			return a.TimestampCreated.After(b.TimestampCreated)
		}
		return r.s.claimSeq[a.ClaimID] > r.s.claimSeq[b.ClaimID]
	})

	if offset >= len(matched) {
		return []*claim.Object{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*claim.Object, 0, len(matched))
	for _, obj := range matched {
		c, err := clone(obj)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (r claimRepo) CurrentStatus(_ context.Context, claimID string) (claim.Status, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if _, ok := r.s.claims[claimID]; !ok {
		return "", errors.NewNotFoundError("claim")
	}
	return r.currentLocked(claimID), nil
}

func (r claimRepo) currentLocked(claimID string) claim.Status {
	if hist := r.s.claimHist[claimID]; len(hist) > 0 {
		return hist[len(hist)-1].ToStatus
	}
	return r.s.claims[claimID].Status
}

func (r claimRepo) AppendStatusChange(ctx context.Context, change *claim.StatusChange) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id := change.ClaimID
	if _, ok := r.s.claims[id]; !ok {
		return errors.NewNotFoundError("claim")
	}
	row := *change
	r.s.claimHist[id] = append(r.s.claimHist[id], &row)
	onRollback(ctx, func() {
		hist := r.s.claimHist[id]
		r.s.claimHist[id] = hist[:len(hist)-1]
	})
	return nil
}

func (r claimRepo) History(_ context.Context, claimID string) ([]*claim.StatusChange, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if _, ok := r.s.claims[claimID]; !ok {
		return nil, errors.NewNotFoundError("claim")
	}
	out := make([]*claim.StatusChange, 0, len(r.s.claimHist[claimID]))
	for _, c := range r.s.claimHist[claimID] {
		row := *c
		out = append(out, &row)
	}
	return out, nil
}

package memory

import (
	"context"
	"sort"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/filing"
)

type filingRepo struct{ s *Store }

func (r filingRepo) Insert(ctx context.Context, f *filing.Filing) error {
	stored, err := clone(f)
	if err != nil {
		return err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	number := f.FilingNumber
	if _, exists := r.s.filings[number]; exists {
		return errors.NewConflictError("filing number already exists: " + number)
	}
	r.s.nextSeq++
	r.s.filings[number] = stored
	r.s.filingSeq[number] = r.s.nextSeq
	onRollback(ctx, func() {
		delete(r.s.filings, number)
		delete(r.s.filingSeq, number)
	})
	return nil
}

func (r filingRepo) Get(_ context.Context, number string) (*filing.Filing, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	f, ok := r.s.filings[number]
	if !ok {
		return nil, errors.NewNotFoundError("filing")
	}
	return clone(f)
}

func (r filingRepo) ListByCase(_ context.Context, caseID string) ([]*filing.Filing, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*filing.Filing, 0)
	for _, f := range r.s.filings {
		if f.CaseID != caseID {
			continue
		}
		c, err := clone(f)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Sequence != out[j].Sequence {
			return out[i].Sequence < out[j].Sequence
		}
		return r.s.filingSeq[out[i].FilingNumber] < r.s.filingSeq[out[j].FilingNumber]
	})
	return out, nil
}

func (r filingRepo) CurrentStatus(_ context.Context, number string) (filing.Status, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	f, ok := r.s.filings[number]
	if !ok {
		return "", errors.NewNotFoundError("filing")
	}
	if hist := r.s.filHist[number]; len(hist) > 0 {
		return hist[len(hist)-1].ToStatus, nil
	}
	return f.Status, nil
}

func (r filingRepo) AppendStatusChange(ctx context.Context, change *filing.StatusChange) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	number := change.FilingNumber
	if _, ok := r.s.filings[number]; !ok {
		return errors.NewNotFoundError("filing")
	}
	row := *change
	r.s.filHist[number] = append(r.s.filHist[number], &row)
	onRollback(ctx, func() {
		hist := r.s.filHist[number]
		r.s.filHist[number] = hist[:len(hist)-1]
	})
	return nil
}

func (r filingRepo) History(_ context.Context, number string) ([]*filing.StatusChange, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	if _, ok := r.s.filings[number]; !ok {
		return nil, errors.NewNotFoundError("filing")
	}
	out := make([]*filing.StatusChange, 0, len(r.s.filHist[number]))
	for _, c := range r.s.filHist[number] {
		row := *c
		out = append(out, &row)
	}
	return out, nil
}

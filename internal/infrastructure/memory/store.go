// Package memory is an in-process store implementing the claim, filing and
// audit repositories. It serializes work per case the way the PostgreSQL
// store does and undoes a unit's writes when the unit fails.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/davidleathers/sar-claim-pipeline/internal/domain/audit"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/claim"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/errors"
	"github.com/davidleathers/sar-claim-pipeline/internal/domain/filing"
)

type unitKey struct{}

// unit is an open per-case unit of work.
type unit struct {
	caseID string
	undo   []func()
}

// Store holds every table in memory.
type Store struct {
	mu sync.RWMutex

	caseLocksMu sync.Mutex
	caseLocks   map[string]*sync.Mutex

	events    map[string][]*audit.Event
	claims    map[string]*claim.Object
	claimSeq  map[string]int
	claimHist map[string][]*claim.StatusChange
	filings   map[string]*filing.Filing
	filingSeq map[string]int
	filHist   map[string][]*filing.StatusChange
	nextSeq   int
}

func NewStore() *Store {
	return &Store{
		caseLocks: make(map[string]*sync.Mutex),
		events:    make(map[string][]*audit.Event),
		claims:    make(map[string]*claim.Object),
		claimSeq:  make(map[string]int),
		claimHist: make(map[string][]*claim.StatusChange),
		filings:   make(map[string]*filing.Filing),
		filingSeq: make(map[string]int),
		filHist:   make(map[string][]*filing.StatusChange),
	}
}

func (s *Store) Audit() audit.Repository    { return auditRepo{s} }
func (s *Store) Claims() claim.Repository   { return claimRepo{s} }
func (s *Store) Filings() filing.Repository { return filingRepo{s} }

// WithinCase runs fn holding the case lock. A nested call for the same case
// joins the open unit. When fn fails every write made inside the unit is
// undone.
func (s *Store) WithinCase(ctx context.Context, caseID string, fn func(ctx context.Context) error) error {
	if caseID == "" {
		return errors.NewFieldError("MISSING_CASE_ID", "case_id", "case ID is required")
	}
	if u, ok := ctx.Value(unitKey{}).(*unit); ok && u.caseID == caseID {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return errors.NewStorageError("begin", err)
	}

	lock := s.caseLock(caseID)
	lock.Lock()
	defer lock.Unlock()

	u := &unit{caseID: caseID}
	if err := fn(context.WithValue(ctx, unitKey{}, u)); err != nil {
		s.mu.Lock()
		for i := len(u.undo) - 1; i >= 0; i-- {
			u.undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) caseLock(caseID string) *sync.Mutex {
	s.caseLocksMu.Lock()
	defer s.caseLocksMu.Unlock()
	lock, ok := s.caseLocks[caseID]
	if !ok {
		lock = &sync.Mutex{}
		s.caseLocks[caseID] = lock
	}
	return lock
}

// onRollback registers an undo step with the unit carried by ctx. Callers
// hold s.mu.
func onRollback(ctx context.Context, fn func()) {
	if u, ok := ctx.Value(unitKey{}).(*unit); ok {
		u.undo = append(u.undo, fn)
	}
}

// clone deep-copies through JSON so stored records behave like rows read
// back from a database.
func clone[T any](v *T) (*T, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, errors.NewInternalError("failed to copy record").WithCause(err)
	}
	out := new(T)
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, errors.NewInternalError("failed to copy record").WithCause(err)
	}
	return out, nil
}

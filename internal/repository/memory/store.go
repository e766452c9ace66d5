// Package memory keeps associations, request slots and the confirmation
// matrix in process memory. Each association is guarded by its own mutex;
// transactions work on a private copy that replaces the live state on
// commit, so readers never observe a half-applied operation.
package memory

import (
	"context"
	"errors"
	"sync"

	"treasury/internal/domain"
)

type ctxtype string

const (
	trKey ctxtype = "tx"
)

type associationState struct {
	association   *domain.Association
	requests      map[domain.Address]*domain.WithdrawalRequest
	confirmations map[domain.Address]map[domain.Address]bool
}

func (s *associationState) clone() *associationState {
	c := &associationState{
		association:   s.association.Clone(),
		requests:      make(map[domain.Address]*domain.WithdrawalRequest, len(s.requests)),
		confirmations: make(map[domain.Address]map[domain.Address]bool, len(s.confirmations)),
	}
	for k, r := range s.requests {
		rc := *r
		c.requests[k] = &rc
	}
	for proposer, row := range s.confirmations {
		rowCopy := make(map[domain.Address]bool, len(row))
		for confirmer, ok := range row {
			rowCopy[confirmer] = ok
		}
		c.confirmations[proposer] = rowCopy
	}
	return c
}

var errReadOnly = errors.New("write through a read-only snapshot")

type transaction struct {
	accountNumber uint64
	state         *associationState
	readOnly      bool
}

type Store struct {
	mu           sync.RWMutex
	nextAccount  uint64
	associations map[uint64]*associationState
	creators     map[domain.Address]uint64
	locks        sync.Map
}

func NewStore() *Store {
	return &Store{
		associations: make(map[uint64]*associationState),
		creators:     make(map[domain.Address]uint64),
	}
}

func getTr(ctx context.Context, accountNumber uint64) (*transaction, bool) {
	tr, ok := ctx.Value(trKey).(*transaction)
	if !ok || tr.accountNumber != accountNumber {
		return nil, false
	}
	return tr, true
}

func (s *Store) lockFor(accountNumber uint64) *sync.Mutex {
	l, _ := s.locks.LoadOrStore(accountNumber, &sync.Mutex{})
	return l.(*sync.Mutex)
}

// view returns the state visible to ctx. Live states are copy-on-write and
// are never mutated after publication, so the pointer stays valid after the
// read lock is released.
func (s *Store) view(ctx context.Context, accountNumber uint64) (*associationState, error) {
	if tr, ok := getTr(ctx, accountNumber); ok {
		return tr.state, nil
	}

	s.mu.RLock()
	st, ok := s.associations[accountNumber]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrAssociationNotFound
	}
	return st, nil
}

// update applies fn to the transactional copy of the association, opening
// a single-operation transaction when ctx carries none.
func (s *Store) update(ctx context.Context, accountNumber uint64, fn func(st *associationState) error) error {
	if tr, ok := getTr(ctx, accountNumber); ok {
		if tr.readOnly {
			return errReadOnly
		}
		return fn(tr.state)
	}
	return s.WithLock(ctx, accountNumber, func(txCtx context.Context) error {
		return s.update(txCtx, accountNumber, fn)
	})
}

func (s *Store) WithLock(ctx context.Context, accountNumber uint64, fn func(ctx context.Context) error) error {
	if _, ok := getTr(ctx, accountNumber); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.lockFor(accountNumber)
	l.Lock()
	defer l.Unlock()

	live, err := s.view(ctx, accountNumber)
	if err != nil {
		return err
	}

	tr := &transaction{accountNumber: accountNumber, state: live.clone()}
	if err := fn(context.WithValue(ctx, trKey, tr)); err != nil {
		return err
	}

	s.mu.Lock()
	s.associations[accountNumber] = tr.state
	s.mu.Unlock()
	return nil
}

// WithSnapshot hands fn the published state of the association. Published
// states are never mutated, so no lock is taken.
func (s *Store) WithSnapshot(ctx context.Context, accountNumber uint64, fn func(ctx context.Context) error) error {
	if _, ok := getTr(ctx, accountNumber); ok {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	live, err := s.view(ctx, accountNumber)
	if err != nil {
		return err
	}
	tr := &transaction{accountNumber: accountNumber, state: live, readOnly: true}
	return fn(context.WithValue(ctx, trKey, tr))
}

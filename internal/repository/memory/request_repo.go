package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"treasury/internal/domain"
	"treasury/internal/port"
)

type requestRepository struct {
	store *Store
}

func NewRequestRepository(store *Store) port.RequestRepository {
	return &requestRepository{store: store}
}

func (r *requestRepository) Get(ctx context.Context, accountNumber uint64, proposer domain.Address) (*domain.WithdrawalRequest, error) {
	st, err := r.store.view(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	req, ok := st.requests[proposer]
	if !ok {
		return nil, nil
	}
	c := *req
	return &c, nil
}

// Replace installs w as the proposer's only slot and drops the proposer's
// confirmation row along with the previous instance.
func (r *requestRepository) Replace(ctx context.Context, w *domain.WithdrawalRequest) error {
	return r.store.update(ctx, w.AccountNumber, func(st *associationState) error {
		c := *w
		st.requests[w.Proposer] = &c
		delete(st.confirmations, w.Proposer)
		return nil
	})
}

func (r *requestRepository) IsConfirmed(ctx context.Context, accountNumber uint64, proposer, confirmer domain.Address) (bool, error) {
	st, err := r.store.view(ctx, accountNumber)
	if err != nil {
		return false, err
	}
	return st.confirmations[proposer][confirmer], nil
}

// SetConfirmation flips a matrix entry and moves the request's
// confirmation count with it. Setting an entry to its current value is a
// no-op, which keeps count equal to the number of true entries.
func (r *requestRepository) SetConfirmation(ctx context.Context, accountNumber uint64, proposer, confirmer domain.Address, confirmed bool) error {
	return r.store.update(ctx, accountNumber, func(st *associationState) error {
		req, ok := st.requests[proposer]
		if !ok {
			return domain.ErrRequestNotFound
		}

		row := st.confirmations[proposer]
		if row[confirmer] == confirmed {
			return nil
		}

		if confirmed {
			if row == nil {
				row = make(map[domain.Address]bool)
				st.confirmations[proposer] = row
			}
			row[confirmer] = true
			req.Confirmations++
		} else {
			delete(row, confirmer)
			req.Confirmations--
		}
		req.UpdatedAt = time.Now()
		return nil
	})
}

func (r *requestRepository) MarkExecuted(ctx context.Context, accountNumber uint64, proposer domain.Address) error {
	return r.store.update(ctx, accountNumber, func(st *associationState) error {
		req, ok := st.requests[proposer]
		if !ok {
			return domain.ErrRequestNotFound
		}
		req.Executed = true
		req.UpdatedAt = time.Now()
		return nil
	})
}

func (r *requestRepository) ClearExecuted(ctx context.Context, accountNumber uint64, proposer domain.Address, id uuid.UUID) (bool, error) {
	cleared := false
	err := r.store.update(ctx, accountNumber, func(st *associationState) error {
		req, ok := st.requests[proposer]
		if !ok || req.ID != id || !req.Executed {
			return nil
		}
		req.Executed = false
		req.UpdatedAt = time.Now()
		cleared = true
		return nil
	})
	return cleared, err
}

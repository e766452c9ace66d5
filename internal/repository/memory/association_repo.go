package memory

import (
	"context"
	"time"

	"treasury/internal/domain"
	"treasury/internal/port"
)

type associationRepository struct {
	store *Store
}

func NewAssociationRepository(store *Store) port.AssociationRepository {
	return &associationRepository{store: store}
}

func (r *associationRepository) WithLock(ctx context.Context, accountNumber uint64, fn func(ctx context.Context) error) error {
	return r.store.WithLock(ctx, accountNumber, fn)
}

func (r *associationRepository) WithSnapshot(ctx context.Context, accountNumber uint64, fn func(ctx context.Context) error) error {
	return r.store.WithSnapshot(ctx, accountNumber, fn)
}

func (r *associationRepository) Create(ctx context.Context, a *domain.Association) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.creators[a.Creator]; ok {
		return domain.ErrDuplicateCreator
	}

	s.nextAccount++
	a.AccountNumber = s.nextAccount
	if a.MemberDeposits == nil {
		a.MemberDeposits = make(map[domain.Address]uint64)
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	s.associations[a.AccountNumber] = &associationState{
		association:   a.Clone(),
		requests:      make(map[domain.Address]*domain.WithdrawalRequest),
		confirmations: make(map[domain.Address]map[domain.Address]bool),
	}
	s.creators[a.Creator] = a.AccountNumber
	return nil
}

func (r *associationRepository) Get(ctx context.Context, accountNumber uint64) (*domain.Association, error) {
	st, err := r.store.view(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	return st.association.Clone(), nil
}

func (r *associationRepository) AccountNumberByCreator(_ context.Context, creator domain.Address) (uint64, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return r.store.creators[creator], nil
}

func (r *associationRepository) AddDeposit(ctx context.Context, accountNumber uint64, member domain.Address, amount uint64) error {
	return r.store.update(ctx, accountNumber, func(st *associationState) error {
		a := st.association
		if amount > domain.MaxAmount ||
			a.Balance > domain.MaxAmount-amount ||
			a.MemberDeposits[member] > domain.MaxAmount-amount {
			return domain.ErrBalanceOverflow
		}
		a.Balance += amount
		a.MemberDeposits[member] += amount
		return nil
	})
}

func (r *associationRepository) SubtractBalance(ctx context.Context, accountNumber uint64, amount uint64) error {
	return r.store.update(ctx, accountNumber, func(st *associationState) error {
		if st.association.Balance < amount {
			return domain.ErrInsufficientBalance
		}
		st.association.Balance -= amount
		return nil
	})
}

func (r *associationRepository) CreditBalance(ctx context.Context, accountNumber uint64, amount uint64) error {
	return r.store.update(ctx, accountNumber, func(st *associationState) error {
		if amount > domain.MaxAmount || st.association.Balance > domain.MaxAmount-amount {
			return domain.ErrBalanceOverflow
		}
		st.association.Balance += amount
		return nil
	})
}

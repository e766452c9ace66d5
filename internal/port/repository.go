package port

import (
	"context"

	"github.com/google/uuid"

	"treasury/internal/domain"
)

// AssociationRepository persists associations, their balances and the
// creator index. Mutations made inside WithLock are applied atomically
// when fn returns nil and discarded otherwise.
type AssociationRepository interface {
	Create(ctx context.Context, a *domain.Association) error
	Get(ctx context.Context, accountNumber uint64) (*domain.Association, error)
	AccountNumberByCreator(ctx context.Context, creator domain.Address) (uint64, error)
	AddDeposit(ctx context.Context, accountNumber uint64, member domain.Address, amount uint64) error
	SubtractBalance(ctx context.Context, accountNumber uint64, amount uint64) error
	// CreditBalance returns amount to the balance without touching member
	// totals. It undoes a SubtractBalance whose payout never happened.
	CreditBalance(ctx context.Context, accountNumber uint64, amount uint64) error
	WithLock(ctx context.Context, accountNumber uint64, fn func(ctx context.Context) error) error
	// WithSnapshot runs fn against one consistent read-only view of the
	// association. Writes through the snapshot context fail.
	WithSnapshot(ctx context.Context, accountNumber uint64, fn func(ctx context.Context) error) error
}

// RequestRepository persists withdrawal request slots and the confirmation
// matrix. Get returns nil, nil when no slot exists for the proposer.
type RequestRepository interface {
	Get(ctx context.Context, accountNumber uint64, proposer domain.Address) (*domain.WithdrawalRequest, error)
	Replace(ctx context.Context, r *domain.WithdrawalRequest) error
	IsConfirmed(ctx context.Context, accountNumber uint64, proposer, confirmer domain.Address) (bool, error)
	SetConfirmation(ctx context.Context, accountNumber uint64, proposer, confirmer domain.Address, confirmed bool) error
	MarkExecuted(ctx context.Context, accountNumber uint64, proposer domain.Address) error
	// ClearExecuted resets the executed flag when the slot still holds the
	// request instance id. It reports false when the slot has moved on.
	ClearExecuted(ctx context.Context, accountNumber uint64, proposer domain.Address, id uuid.UUID) (bool, error)
}

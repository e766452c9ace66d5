package ledger

import (
	"context"
	"errors"
	"math"
	"sync"

	"treasury/internal/domain"
	"treasury/internal/port"
)

var (
	ErrInsufficientFunds = errors.New("holder has insufficient funds")
	ErrVaultDepleted     = errors.New("vault has insufficient funds")
	ErrOverflow          = errors.New("ledger balance overflow")
)

// MemoryLedger is a single-asset token ledger held in memory. Value moved
// in by TransferIn sits in one vault shared by every association until
// TransferOut releases it.
type MemoryLedger struct {
	mu      sync.Mutex
	holders map[domain.Address]uint64
	vault   uint64
	open    bool
}

type MemoryOption func(*MemoryLedger)

// WithOpenIssuance lets TransferIn succeed for holders without funds, as if
// the shortfall arrived from outside the ledger. Meant for local runs.
func WithOpenIssuance() MemoryOption {
	return func(l *MemoryLedger) {
		l.open = true
	}
}

var _ port.LedgerService = (*MemoryLedger)(nil)

func NewMemoryLedger(opts ...MemoryOption) *MemoryLedger {
	l := &MemoryLedger{holders: make(map[domain.Address]uint64)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Mint credits a holder out of thin air; used for local setups and tests.
func (l *MemoryLedger) Mint(to domain.Address, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.holders[to] > math.MaxUint64-amount {
		return ErrOverflow
	}
	l.holders[to] += amount
	return nil
}

func (l *MemoryLedger) BalanceOf(addr domain.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holders[addr]
}

func (l *MemoryLedger) Vault() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.vault
}

func (l *MemoryLedger) TransferIn(ctx context.Context, from domain.Address, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.vault > math.MaxUint64-amount {
		return ErrOverflow
	}
	if l.holders[from] < amount {
		if !l.open {
			return ErrInsufficientFunds
		}
		l.holders[from] = amount
	}
	l.holders[from] -= amount
	l.vault += amount
	return nil
}

func (l *MemoryLedger) TransferOut(ctx context.Context, to domain.Address, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.vault < amount {
		return ErrVaultDepleted
	}
	if l.holders[to] > math.MaxUint64-amount {
		return ErrOverflow
	}
	l.vault -= amount
	l.holders[to] += amount
	return nil
}

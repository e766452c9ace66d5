package port

import (
	"context"
	"treasury/internal/domain"
)

// LedgerService moves fungible value between holders and the treasury
// vault. Each call is issued at most once per deposit or execution and is
// never retried by the caller.
type LedgerService interface {
	TransferIn(ctx context.Context, from domain.Address, amount uint64) error
	TransferOut(ctx context.Context, to domain.Address, amount uint64) error
}

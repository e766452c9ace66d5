package port

import (
	"context"
	"treasury/internal/domain"
)

type RegistryService interface {
	CreateAssociation(ctx context.Context, creator domain.Address, req *domain.CreateAssociationReq) (uint64, error)
	LookupAccountNumber(ctx context.Context, creator domain.Address) (uint64, error)
	IsExecutive(ctx context.Context, accountNumber uint64, addr domain.Address) (bool, error)
}

type WorkflowService interface {
	Deposit(ctx context.Context, accountNumber uint64, depositor domain.Address, amount uint64) error
	ProposeWithdrawal(ctx context.Context, accountNumber uint64, proposer domain.Address, amount uint64) (*domain.WithdrawalRequest, error)
	Confirm(ctx context.Context, accountNumber uint64, proposer, confirmer domain.Address) error
	RevertConfirmation(ctx context.Context, accountNumber uint64, proposer, confirmer domain.Address) error
	Execute(ctx context.Context, accountNumber uint64, caller, proposer domain.Address) (bool, error)
}

type QueryService interface {
	GetAssociation(ctx context.Context, accountNumber uint64) (*domain.Association, error)
	Balance(ctx context.Context, accountNumber uint64) (uint64, error)
	GetRequest(ctx context.Context, accountNumber uint64, proposer domain.Address) (*domain.WithdrawalRequest, error)
	RequestAmount(ctx context.Context, accountNumber uint64, proposer domain.Address) (uint64, error)
	ConfirmationCount(ctx context.Context, accountNumber uint64, proposer domain.Address) (uint64, error)
	HasConfirmed(ctx context.Context, accountNumber uint64, proposer, confirmer domain.Address) (bool, error)
	MemberDeposit(ctx context.Context, accountNumber uint64, member domain.Address) (uint64, error)
}

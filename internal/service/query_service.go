package service

import (
	"context"

	"treasury/internal/domain"
	"treasury/internal/port"
)

// queryService is read-only. Unknown proposers and members read as zero;
// only a missing association is an error. Each query reads from a single
// snapshot of the association.
type queryService struct {
	associationRepo port.AssociationRepository
	requestRepo     port.RequestRepository
}

func NewQueryService(
	associationRepo port.AssociationRepository,
	requestRepo port.RequestRepository,
) port.QueryService {
	return &queryService{
		associationRepo: associationRepo,
		requestRepo:     requestRepo,
	}
}

func (s *queryService) GetAssociation(ctx context.Context, accountNumber uint64) (association *domain.Association, err error) {
	err = s.associationRepo.WithSnapshot(ctx, accountNumber, func(snapCtx context.Context) error {
		association, err = s.associationRepo.Get(snapCtx, accountNumber)
		return err
	})
	if err != nil {
		return nil, err
	}
	return association, nil
}

func (s *queryService) Balance(ctx context.Context, accountNumber uint64) (uint64, error) {
	association, err := s.GetAssociation(ctx, accountNumber)
	if err != nil {
		return 0, err
	}
	return association.Balance, nil
}

func (s *queryService) GetRequest(ctx context.Context, accountNumber uint64, proposer domain.Address) (req *domain.WithdrawalRequest, err error) {
	err = s.associationRepo.WithSnapshot(ctx, accountNumber, func(snapCtx context.Context) error {
		if _, err := s.associationRepo.Get(snapCtx, accountNumber); err != nil {
			return err
		}
		req, err = s.requestRepo.Get(snapCtx, accountNumber, proposer)
		return err
	})
	if err != nil {
		return nil, err
	}
	if req == nil {
		return &domain.WithdrawalRequest{AccountNumber: accountNumber, Proposer: proposer}, nil
	}
	return req, nil
}

func (s *queryService) RequestAmount(ctx context.Context, accountNumber uint64, proposer domain.Address) (uint64, error) {
	req, err := s.GetRequest(ctx, accountNumber, proposer)
	if err != nil {
		return 0, err
	}
	return req.Amount, nil
}

func (s *queryService) ConfirmationCount(ctx context.Context, accountNumber uint64, proposer domain.Address) (uint64, error) {
	req, err := s.GetRequest(ctx, accountNumber, proposer)
	if err != nil {
		return 0, err
	}
	return req.Confirmations, nil
}

func (s *queryService) HasConfirmed(ctx context.Context, accountNumber uint64, proposer, confirmer domain.Address) (confirmed bool, err error) {
	err = s.associationRepo.WithSnapshot(ctx, accountNumber, func(snapCtx context.Context) error {
		if _, err := s.associationRepo.Get(snapCtx, accountNumber); err != nil {
			return err
		}
		confirmed, err = s.requestRepo.IsConfirmed(snapCtx, accountNumber, proposer, confirmer)
		return err
	})
	return confirmed, err
}

func (s *queryService) MemberDeposit(ctx context.Context, accountNumber uint64, member domain.Address) (uint64, error) {
	association, err := s.GetAssociation(ctx, accountNumber)
	if err != nil {
		return 0, err
	}
	return association.MemberDeposits[member], nil
}

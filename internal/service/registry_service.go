package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"treasury/internal/domain"
	"treasury/internal/metrics"
	"treasury/internal/port"
)

type registryService struct {
	associationRepo port.AssociationRepository
	logger          *zap.Logger
	metrics         *metrics.Metrics
}

func NewRegistryService(
	associationRepo port.AssociationRepository,
	logger *zap.Logger,
	m *metrics.Metrics,
) port.RegistryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &registryService{
		associationRepo: associationRepo,
		logger:          logger,
		metrics:         m,
	}
}

func (s *registryService) CreateAssociation(ctx context.Context, creator domain.Address, req *domain.CreateAssociationReq) (accountNumber uint64, err error) {
	ctx, span := startSpan(ctx, "registry.CreateAssociation", 0, attribute.String("treasury.creator", creator.String()))
	defer func() {
		s.metrics.ObserveOperation("create_association", outcome(err))
		endSpan(span, err)
	}()

	if creator.IsZero() {
		return 0, domain.ErrInvalidAddress
	}

	existing, err := s.associationRepo.AccountNumberByCreator(ctx, creator)
	if err != nil {
		return 0, err
	}
	if existing != 0 {
		s.logger.Debug("association rejected", zap.String("creator", creator.String()), zap.Error(domain.ErrDuplicateCreator))
		return 0, domain.ErrDuplicateCreator
	}

	if len(req.Executives) != req.ExcoNumber {
		return 0, domain.ErrExecutiveCountMismatch
	}

	executives := make([]domain.Address, len(req.Executives))
	for i, e := range req.Executives {
		if e.IsZero() {
			return 0, domain.ErrInvalidExecutiveAddress
		}
		executives[i] = e
	}

	association := &domain.Association{
		Name:           req.Name,
		Creator:        creator,
		Executives:     executives,
		MemberDeposits: make(map[domain.Address]uint64),
	}
	if err := s.associationRepo.Create(ctx, association); err != nil {
		return 0, err
	}

	s.logger.Info("association created",
		zap.Uint64("account_number", association.AccountNumber),
		zap.String("creator", creator.String()),
		zap.String("name", association.Name),
		zap.Int("exco_number", association.ExcoNumber()),
	)
	return association.AccountNumber, nil
}

// LookupAccountNumber returns 0 when creator has no association.
func (s *registryService) LookupAccountNumber(ctx context.Context, creator domain.Address) (uint64, error) {
	return s.associationRepo.AccountNumberByCreator(ctx, creator)
}

func (s *registryService) IsExecutive(ctx context.Context, accountNumber uint64, addr domain.Address) (bool, error) {
	association, err := s.associationRepo.Get(ctx, accountNumber)
	if err != nil {
		return false, err
	}
	return association.IsExecutive(addr), nil
}

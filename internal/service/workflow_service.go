package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"treasury/internal/domain"
	"treasury/internal/metrics"
	"treasury/internal/port"
)

type Option func(*workflowService)

// WithStrictExecution makes Execute fail with ErrNotApprovedYet when the
// quorum is not met, instead of returning without effect.
func WithStrictExecution() Option {
	return func(s *workflowService) {
		s.strictExecution = true
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *workflowService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *workflowService) {
		s.metrics = m
	}
}

type workflowService struct {
	associationRepo port.AssociationRepository
	requestRepo     port.RequestRepository
	ledger          port.LedgerService
	logger          *zap.Logger
	metrics         *metrics.Metrics
	strictExecution bool
}

func NewWorkflowService(
	associationRepo port.AssociationRepository,
	requestRepo port.RequestRepository,
	ledger port.LedgerService,
	opts ...Option,
) port.WorkflowService {
	s := &workflowService{
		associationRepo: associationRepo,
		requestRepo:     requestRepo,
		ledger:          ledger,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Deposit moves amount from depositor into the association. Every bound is
// checked before the ledger is touched. When the ledger took the funds but
// the deposit could not be recorded, the funds are sent back.
func (s *workflowService) Deposit(ctx context.Context, accountNumber uint64, depositor domain.Address, amount uint64) (err error) {
	ctx, span := startSpan(ctx, "workflow.Deposit", accountNumber,
		attribute.String("treasury.depositor", depositor.String()),
		amountAttr(amount),
	)
	defer func() {
		s.metrics.ObserveOperation("deposit", outcome(err))
		endSpan(span, err)
	}()

	if amount == 0 {
		return domain.ErrZeroAmount
	}
	if amount > domain.MaxAmount {
		return domain.ErrBalanceOverflow
	}
	if depositor.IsZero() {
		return domain.ErrInvalidAddress
	}

	transferred := false
	err = s.associationRepo.WithLock(ctx, accountNumber, func(txCtx context.Context) error {
		association, err := s.associationRepo.Get(txCtx, accountNumber)
		if err != nil {
			return err
		}
		if association.Balance > domain.MaxAmount-amount ||
			association.MemberDeposits[depositor] > domain.MaxAmount-amount {
			return domain.ErrBalanceOverflow
		}

		if err := s.ledger.TransferIn(txCtx, depositor, amount); err != nil {
			s.metrics.IncTransferFailure("in")
			s.logger.Warn("ledger transfer in failed",
				zap.Uint64("account_number", accountNumber),
				zap.String("depositor", depositor.String()),
				zap.Uint64("amount", amount),
				zap.Error(err),
			)
			return fmt.Errorf("%w: %v", domain.ErrTransferFailed, err)
		}
		transferred = true

		return s.associationRepo.AddDeposit(txCtx, accountNumber, depositor, amount)
	})
	if err != nil {
		if transferred {
			s.refundDeposit(ctx, accountNumber, depositor, amount, err)
		}
		return err
	}

	s.metrics.IncDeposited(amount)
	s.logger.Info("deposit received",
		zap.Uint64("account_number", accountNumber),
		zap.String("depositor", depositor.String()),
		zap.Uint64("amount", amount),
	)
	return nil
}

func (s *workflowService) refundDeposit(ctx context.Context, accountNumber uint64, depositor domain.Address, amount uint64, cause error) {
	fields := []zap.Field{
		zap.Uint64("account_number", accountNumber),
		zap.String("depositor", depositor.String()),
		zap.Uint64("amount", amount),
		zap.NamedError("cause", cause),
	}

	if err := s.ledger.TransferOut(context.WithoutCancel(ctx), depositor, amount); err != nil {
		s.metrics.IncTransferFailure("refund")
		s.logger.Error("deposit refund failed; funds held by the ledger vault",
			append(fields, zap.Error(err))...,
		)
		return
	}
	s.logger.Warn("deposit not recorded, refunded", fields...)
}

// ProposeWithdrawal replaces the proposer's slot with a fresh request. The
// previous instance and its confirmations are discarded, executed or not.
func (s *workflowService) ProposeWithdrawal(ctx context.Context, accountNumber uint64, proposer domain.Address, amount uint64) (req *domain.WithdrawalRequest, err error) {
	ctx, span := startSpan(ctx, "workflow.ProposeWithdrawal", accountNumber,
		attribute.String("treasury.proposer", proposer.String()),
		amountAttr(amount),
	)
	defer func() {
		s.metrics.ObserveOperation("propose", outcome(err))
		endSpan(span, err)
	}()

	err = s.associationRepo.WithLock(ctx, accountNumber, func(txCtx context.Context) error {
		association, err := s.associationRepo.Get(txCtx, accountNumber)
		if err != nil {
			return err
		}
		if !association.IsExecutive(proposer) {
			return domain.ErrNotExecutive
		}
		if amount == 0 {
			return domain.ErrZeroAmount
		}
		if amount > association.Balance {
			return domain.ErrInsufficientBalance
		}

		req = domain.NewWithdrawalRequest(accountNumber, proposer, amount)
		return s.requestRepo.Replace(txCtx, req)
	})
	if err != nil {
		s.logger.Debug("withdrawal proposal rejected",
			zap.Uint64("account_number", accountNumber),
			zap.String("proposer", proposer.String()),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("withdrawal proposed",
		zap.Uint64("account_number", accountNumber),
		zap.String("proposer", proposer.String()),
		zap.Uint64("amount", amount),
		zap.String("request_id", req.ID.String()),
	)
	return req, nil
}

func (s *workflowService) Confirm(ctx context.Context, accountNumber uint64, proposer, confirmer domain.Address) (err error) {
	ctx, span := startSpan(ctx, "workflow.Confirm", accountNumber,
		attribute.String("treasury.proposer", proposer.String()),
		attribute.String("treasury.confirmer", confirmer.String()),
	)
	defer func() {
		s.metrics.ObserveOperation("confirm", outcome(err))
		endSpan(span, err)
	}()

	var confirmations uint64
	err = s.associationRepo.WithLock(ctx, accountNumber, func(txCtx context.Context) error {
		req, err := s.pendingRequest(txCtx, accountNumber, proposer, confirmer)
		if err != nil {
			return err
		}

		confirmed, err := s.requestRepo.IsConfirmed(txCtx, accountNumber, proposer, confirmer)
		if err != nil {
			return err
		}
		if confirmed {
			return domain.ErrAlreadyConfirmed
		}

		confirmations = req.Confirmations + 1
		return s.requestRepo.SetConfirmation(txCtx, accountNumber, proposer, confirmer, true)
	})
	if err != nil {
		s.logger.Debug("confirmation rejected",
			zap.Uint64("account_number", accountNumber),
			zap.String("proposer", proposer.String()),
			zap.String("confirmer", confirmer.String()),
			zap.Error(err),
		)
		return err
	}

	s.logger.Info("withdrawal confirmed",
		zap.Uint64("account_number", accountNumber),
		zap.String("proposer", proposer.String()),
		zap.String("confirmer", confirmer.String()),
		zap.Uint64("confirmations", confirmations),
	)
	return nil
}

func (s *workflowService) RevertConfirmation(ctx context.Context, accountNumber uint64, proposer, confirmer domain.Address) (err error) {
	ctx, span := startSpan(ctx, "workflow.RevertConfirmation", accountNumber,
		attribute.String("treasury.proposer", proposer.String()),
		attribute.String("treasury.confirmer", confirmer.String()),
	)
	defer func() {
		s.metrics.ObserveOperation("revert", outcome(err))
		endSpan(span, err)
	}()

	err = s.associationRepo.WithLock(ctx, accountNumber, func(txCtx context.Context) error {
		if _, err := s.pendingRequest(txCtx, accountNumber, proposer, confirmer); err != nil {
			return err
		}

		confirmed, err := s.requestRepo.IsConfirmed(txCtx, accountNumber, proposer, confirmer)
		if err != nil {
			return err
		}
		if !confirmed {
			return domain.ErrNotApprovedYet
		}

		return s.requestRepo.SetConfirmation(txCtx, accountNumber, proposer, confirmer, false)
	})
	if err != nil {
		s.logger.Debug("confirmation revert rejected",
			zap.Uint64("account_number", accountNumber),
			zap.String("proposer", proposer.String()),
			zap.String("confirmer", confirmer.String()),
			zap.Error(err),
		)
		return err
	}

	s.logger.Info("confirmation reverted",
		zap.Uint64("account_number", accountNumber),
		zap.String("proposer", proposer.String()),
		zap.String("confirmer", confirmer.String()),
	)
	return nil
}

// Execute releases the proposer's request once every executive has
// confirmed it. It reports false with a nil error when the quorum is not
// yet reached, unless strict execution is enabled.
//
// The balance is re-checked here because another request may have drained
// it since this one was proposed. The executed flag and the debit are
// committed before the ledger pays out, so a lost commit can never lead to
// a second payout. If the payout fails, both are undone in a new
// transaction.
func (s *workflowService) Execute(ctx context.Context, accountNumber uint64, caller, proposer domain.Address) (executed bool, err error) {
	ctx, span := startSpan(ctx, "workflow.Execute", accountNumber,
		attribute.String("treasury.caller", caller.String()),
		attribute.String("treasury.proposer", proposer.String()),
	)
	defer func() {
		span.SetAttributes(attribute.Bool("treasury.executed", executed))
		s.metrics.ObserveOperation("execute", outcome(err))
		endSpan(span, err)
	}()

	var released *domain.WithdrawalRequest
	err = s.associationRepo.WithLock(ctx, accountNumber, func(txCtx context.Context) error {
		association, err := s.associationRepo.Get(txCtx, accountNumber)
		if err != nil {
			return err
		}
		if !association.IsExecutive(caller) {
			return domain.ErrNotExecutive
		}
		if caller != proposer {
			return domain.ErrNotProposer
		}

		req, err := s.requestRepo.Get(txCtx, accountNumber, proposer)
		if err != nil {
			return err
		}
		if req == nil {
			return domain.ErrRequestNotFound
		}
		if req.Executed {
			return domain.ErrAlreadyExecuted
		}
		if req.Confirmations != uint64(association.ExcoNumber()) {
			if s.strictExecution {
				return domain.ErrNotApprovedYet
			}
			return nil
		}
		if association.Balance < req.Amount {
			return domain.ErrInsufficientBalance
		}

		if err := s.requestRepo.MarkExecuted(txCtx, accountNumber, proposer); err != nil {
			return err
		}
		if err := s.associationRepo.SubtractBalance(txCtx, accountNumber, req.Amount); err != nil {
			return err
		}
		released = req
		return nil
	})
	if err != nil {
		s.logger.Debug("withdrawal execution rejected",
			zap.Uint64("account_number", accountNumber),
			zap.String("proposer", proposer.String()),
			zap.Error(err),
		)
		return false, err
	}
	if released == nil {
		s.logger.Debug("withdrawal awaiting quorum",
			zap.Uint64("account_number", accountNumber),
			zap.String("proposer", proposer.String()),
		)
		return false, nil
	}
	span.SetAttributes(amountAttr(released.Amount))

	if err := s.ledger.TransferOut(ctx, proposer, released.Amount); err != nil {
		s.metrics.IncTransferFailure("out")
		s.logger.Warn("ledger transfer out failed",
			zap.Uint64("account_number", accountNumber),
			zap.String("proposer", proposer.String()),
			zap.Uint64("amount", released.Amount),
			zap.Error(err),
		)
		if undoErr := s.undoExecution(ctx, released); undoErr != nil {
			s.logger.Error("withdrawal left executed without payout",
				zap.Uint64("account_number", accountNumber),
				zap.String("proposer", proposer.String()),
				zap.String("request_id", released.ID.String()),
				zap.Uint64("amount", released.Amount),
				zap.Error(undoErr),
			)
			return false, fmt.Errorf("%w: %v (undo failed: %v)", domain.ErrTransferFailed, err, undoErr)
		}
		return false, fmt.Errorf("%w: %v", domain.ErrTransferFailed, err)
	}

	s.metrics.IncExecuted(released.Amount)
	s.logger.Info("withdrawal executed",
		zap.Uint64("account_number", accountNumber),
		zap.String("proposer", proposer.String()),
		zap.Uint64("amount", released.Amount),
		zap.String("request_id", released.ID.String()),
	)
	return true, nil
}

// undoExecution returns the debited amount to the balance and reopens the
// request, unless the proposer has replaced it in the meantime.
func (s *workflowService) undoExecution(ctx context.Context, req *domain.WithdrawalRequest) error {
	ctx = context.WithoutCancel(ctx)
	return s.associationRepo.WithLock(ctx, req.AccountNumber, func(txCtx context.Context) error {
		if _, err := s.requestRepo.ClearExecuted(txCtx, req.AccountNumber, req.Proposer, req.ID); err != nil {
			return err
		}
		return s.associationRepo.CreditBalance(txCtx, req.AccountNumber, req.Amount)
	})
}

// pendingRequest loads the proposer's slot after checking that confirmer is
// an executive, and fails when the slot is missing or already executed.
func (s *workflowService) pendingRequest(ctx context.Context, accountNumber uint64, proposer, confirmer domain.Address) (*domain.WithdrawalRequest, error) {
	association, err := s.associationRepo.Get(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	if !association.IsExecutive(confirmer) {
		return nil, domain.ErrNotExecutive
	}

	req, err := s.requestRepo.Get(ctx, accountNumber, proposer)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, domain.ErrRequestNotFound
	}
	if req.Executed {
		return nil, domain.ErrAlreadyExecuted
	}
	return req, nil
}

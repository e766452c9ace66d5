package service

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"treasury/internal/domain"
	"treasury/internal/ledger"
	"treasury/internal/port"
)

var errCommitLost = errors.New("commit lost")

// flakyCommitRepository fails the next WithLock calls after fn succeeded,
// the way a dropped connection fails a database commit. The wrapped store
// discards the transaction.
type flakyCommitRepository struct {
	port.AssociationRepository
	failures atomic.Int32
}

func (r *flakyCommitRepository) WithLock(ctx context.Context, accountNumber uint64, fn func(ctx context.Context) error) error {
	return r.AssociationRepository.WithLock(ctx, accountNumber, func(txCtx context.Context) error {
		if err := fn(txCtx); err != nil {
			return err
		}
		if r.failures.Add(-1) >= 0 {
			return errCommitLost
		}
		return nil
	})
}

func newFlakyFixture(t *testing.T, l port.LedgerService) (*fixture, *flakyCommitRepository) {
	t.Helper()

	var repo *flakyCommitRepository
	f := newWrappedFixture(t, func(inner port.AssociationRepository) port.AssociationRepository {
		repo = &flakyCommitRepository{AssociationRepository: inner}
		return repo
	}, l)
	return f, repo
}

func TestWorkflow_DepositBoundsCheckedBeforeLedger(t *testing.T) {
	ctx := context.Background()
	l := new(MockLedgerService)
	f := newFixture(t, l)

	err := f.workflow.Deposit(ctx, f.accountNumber, member, domain.MaxAmount+1)
	assert.ErrorIs(t, err, domain.ErrBalanceOverflow)
	err = f.workflow.Deposit(ctx, f.accountNumber, member, math.MaxUint64)
	assert.ErrorIs(t, err, domain.ErrBalanceOverflow)
	l.AssertNotCalled(t, "TransferIn", mock.Anything, mock.Anything, mock.Anything)

	l.On("TransferIn", mock.Anything, member, domain.MaxAmount).Return(nil).Once()
	require.NoError(t, f.workflow.Deposit(ctx, f.accountNumber, member, domain.MaxAmount))

	// Drain the balance so that only the member total is at its limit.
	_, err = f.workflow.ProposeWithdrawal(ctx, f.accountNumber, exco1, domain.MaxAmount)
	require.NoError(t, err)
	f.confirmAll(t, exco1, exco1, exco2, exco3)
	l.On("TransferOut", mock.Anything, exco1, domain.MaxAmount).Return(nil).Once()
	executed, err := f.workflow.Execute(ctx, f.accountNumber, exco1, exco1)
	require.NoError(t, err)
	require.True(t, executed)

	err = f.workflow.Deposit(ctx, f.accountNumber, member, 1)
	assert.ErrorIs(t, err, domain.ErrBalanceOverflow)

	balance, err := f.query.Balance(ctx, f.accountNumber)
	require.NoError(t, err)
	assert.Zero(t, balance)

	total, err := f.query.MemberDeposit(ctx, f.accountNumber, member)
	require.NoError(t, err)
	assert.Equal(t, domain.MaxAmount, total)

	l.AssertExpectations(t)
	l.AssertNumberOfCalls(t, "TransferIn", 1)
}

func TestWorkflow_DepositRefundedWhenNotRecorded(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()
	require.NoError(t, l.Mint(member, 50))
	f, repo := newFlakyFixture(t, l)

	repo.failures.Store(1)
	err := f.workflow.Deposit(ctx, f.accountNumber, member, 30)
	assert.ErrorIs(t, err, errCommitLost)

	assert.Equal(t, uint64(50), l.BalanceOf(member))
	assert.Zero(t, l.Vault())

	balance, err := f.query.Balance(ctx, f.accountNumber)
	require.NoError(t, err)
	assert.Zero(t, balance)

	require.NoError(t, f.workflow.Deposit(ctx, f.accountNumber, member, 30))
	assert.Equal(t, uint64(20), l.BalanceOf(member))
	assert.Equal(t, uint64(30), l.Vault())
}

func TestWorkflow_ExecuteCommitLostNeverPays(t *testing.T) {
	ctx := context.Background()
	l := new(MockLedgerService)
	f, repo := newFlakyFixture(t, l)

	l.On("TransferIn", mock.Anything, member, uint64(100)).Return(nil).Once()
	require.NoError(t, f.workflow.Deposit(ctx, f.accountNumber, member, 100))
	_, err := f.workflow.ProposeWithdrawal(ctx, f.accountNumber, exco1, 60)
	require.NoError(t, err)
	f.confirmAll(t, exco1, exco1, exco2, exco3)

	repo.failures.Store(1)
	executed, err := f.workflow.Execute(ctx, f.accountNumber, exco1, exco1)
	assert.ErrorIs(t, err, errCommitLost)
	assert.False(t, executed)
	l.AssertNotCalled(t, "TransferOut", mock.Anything, mock.Anything, mock.Anything)

	req, err := f.query.GetRequest(ctx, f.accountNumber, exco1)
	require.NoError(t, err)
	assert.False(t, req.Executed)

	l.On("TransferOut", mock.Anything, exco1, uint64(60)).Return(nil).Once()
	executed, err = f.workflow.Execute(ctx, f.accountNumber, exco1, exco1)
	require.NoError(t, err)
	assert.True(t, executed)

	_, err = f.workflow.Execute(ctx, f.accountNumber, exco1, exco1)
	assert.ErrorIs(t, err, domain.ErrAlreadyExecuted)

	l.AssertExpectations(t)
	l.AssertNumberOfCalls(t, "TransferOut", 1)
}

func TestWorkflow_ExecuteIsTerminalDuringPayout(t *testing.T) {
	ctx := context.Background()
	l := new(MockLedgerService)
	f := newFixture(t, l)

	l.On("TransferIn", mock.Anything, member, uint64(100)).Return(nil).Once()
	require.NoError(t, f.workflow.Deposit(ctx, f.accountNumber, member, 100))
	_, err := f.workflow.ProposeWithdrawal(ctx, f.accountNumber, exco1, 60)
	require.NoError(t, err)
	f.confirmAll(t, exco1, exco1, exco2, exco3)

	var duringPayout error
	l.On("TransferOut", mock.Anything, exco1, uint64(60)).Run(func(mock.Arguments) {
		_, duringPayout = f.workflow.Execute(ctx, f.accountNumber, exco1, exco1)
	}).Return(nil).Once()

	executed, err := f.workflow.Execute(ctx, f.accountNumber, exco1, exco1)
	require.NoError(t, err)
	assert.True(t, executed)
	assert.ErrorIs(t, duringPayout, domain.ErrAlreadyExecuted)

	l.AssertNumberOfCalls(t, "TransferOut", 1)
}

func TestWorkflow_FailedPayoutKeepsReplacementSlot(t *testing.T) {
	ctx := context.Background()
	l := new(MockLedgerService)
	f := newFixture(t, l)

	l.On("TransferIn", mock.Anything, member, uint64(100)).Return(nil).Once()
	require.NoError(t, f.workflow.Deposit(ctx, f.accountNumber, member, 100))
	first, err := f.workflow.ProposeWithdrawal(ctx, f.accountNumber, exco1, 60)
	require.NoError(t, err)
	f.confirmAll(t, exco1, exco1, exco2, exco3)

	var replacement *domain.WithdrawalRequest
	l.On("TransferOut", mock.Anything, exco1, uint64(60)).Run(func(mock.Arguments) {
		var err error
		replacement, err = f.workflow.ProposeWithdrawal(ctx, f.accountNumber, exco1, 10)
		assert.NoError(t, err)
	}).Return(errors.New("ledger offline")).Once()

	executed, err := f.workflow.Execute(ctx, f.accountNumber, exco1, exco1)
	assert.ErrorIs(t, err, domain.ErrTransferFailed)
	assert.False(t, executed)

	req, err := f.query.GetRequest(ctx, f.accountNumber, exco1)
	require.NoError(t, err)
	require.NotNil(t, replacement)
	assert.Equal(t, replacement.ID, req.ID)
	assert.NotEqual(t, first.ID, req.ID)
	assert.Equal(t, uint64(10), req.Amount)
	assert.False(t, req.Executed)
	assert.Zero(t, req.Confirmations)

	balance, err := f.query.Balance(ctx, f.accountNumber)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), balance)
}

func TestAmountAttr(t *testing.T) {
	assert.Equal(t, "18446744073709551615", amountAttr(math.MaxUint64).Value.AsString())
	assert.Equal(t, "42", amountAttr(42).Value.AsString())
}

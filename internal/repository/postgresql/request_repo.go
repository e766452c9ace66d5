package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"treasury/internal/domain"
	"treasury/internal/port"
)

type requestRepository struct {
	db *sql.DB
}

func NewRequestRepository(db *sql.DB) port.RequestRepository {
	return &requestRepository{db: db}
}

func (r *requestRepository) Get(ctx context.Context, accountNumber uint64, proposer domain.Address) (*domain.WithdrawalRequest, error) {
	const query = `SELECT id, amount, confirmations, executed, created_at, updated_at
	FROM withdrawal_requests WHERE account_number = $1 AND proposer = $2`

	w := domain.WithdrawalRequest{AccountNumber: accountNumber, Proposer: proposer}
	var amount, confirmations int64

	err := conn(ctx, r.db).QueryRowContext(ctx, query, int64(accountNumber), proposer).Scan(
		&w.ID, &amount, &confirmations, &w.Executed, &w.CreatedAt, &w.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	w.Amount = uint64(amount)
	w.Confirmations = uint64(confirmations)
	return &w, nil
}

// Replace overwrites the proposer's slot and clears its confirmation row in
// one transaction.
func (r *requestRepository) Replace(ctx context.Context, w *domain.WithdrawalRequest) error {
	const clearConfirmations = `DELETE FROM withdrawal_confirmations WHERE account_number = $1 AND proposer = $2`
	const upsert = `INSERT INTO withdrawal_requests
	(account_number, proposer, id, amount, confirmations, executed, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	ON CONFLICT (account_number, proposer) DO UPDATE SET
		id = EXCLUDED.id,
		amount = EXCLUDED.amount,
		confirmations = EXCLUDED.confirmations,
		executed = EXCLUDED.executed,
		created_at = EXCLUDED.created_at,
		updated_at = EXCLUDED.updated_at`

	amount, err := toInt64(w.Amount)
	if err != nil {
		return err
	}
	confirmations, err := toInt64(w.Confirmations)
	if err != nil {
		return err
	}

	return runInTx(ctx, r.db, func(txCtx context.Context, tr *sql.Tx) error {
		if _, err := tr.ExecContext(txCtx, clearConfirmations, int64(w.AccountNumber), w.Proposer); err != nil {
			return err
		}
		_, err := tr.ExecContext(txCtx, upsert,
			int64(w.AccountNumber), w.Proposer, w.ID, amount, confirmations, w.Executed, w.CreatedAt, w.UpdatedAt,
		)
		return err
	})
}

func (r *requestRepository) IsConfirmed(ctx context.Context, accountNumber uint64, proposer, confirmer domain.Address) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM withdrawal_confirmations
	WHERE account_number = $1 AND proposer = $2 AND confirmer = $3)`

	var confirmed bool
	err := conn(ctx, r.db).QueryRowContext(ctx, query, int64(accountNumber), proposer, confirmer).Scan(&confirmed)
	return confirmed, err
}

// SetConfirmation writes the matrix entry and moves the request's counter
// in the same transaction. Writing the current value changes nothing.
func (r *requestRepository) SetConfirmation(ctx context.Context, accountNumber uint64, proposer, confirmer domain.Address, confirmed bool) error {
	const insert = `INSERT INTO withdrawal_confirmations (account_number, proposer, confirmer)
	VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`
	const remove = `DELETE FROM withdrawal_confirmations
	WHERE account_number = $1 AND proposer = $2 AND confirmer = $3`
	const bump = `UPDATE withdrawal_requests SET confirmations = confirmations + $3, updated_at = $4
	WHERE account_number = $1 AND proposer = $2`

	return runInTx(ctx, r.db, func(txCtx context.Context, tr *sql.Tx) error {
		req, err := r.Get(txCtx, accountNumber, proposer)
		if err != nil {
			return err
		}
		if req == nil {
			return domain.ErrRequestNotFound
		}

		stmt, delta := insert, int64(1)
		if !confirmed {
			stmt, delta = remove, -1
		}

		result, err := tr.ExecContext(txCtx, stmt, int64(accountNumber), proposer, confirmer)
		if err != nil {
			return err
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return nil
		}

		_, err = tr.ExecContext(txCtx, bump, int64(accountNumber), proposer, delta, time.Now())
		return err
	})
}

func (r *requestRepository) MarkExecuted(ctx context.Context, accountNumber uint64, proposer domain.Address) error {
	const query = `UPDATE withdrawal_requests SET executed = TRUE, updated_at = $3
	WHERE account_number = $1 AND proposer = $2`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, int64(accountNumber), proposer, time.Now())
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrRequestNotFound
	}
	return nil
}

func (r *requestRepository) ClearExecuted(ctx context.Context, accountNumber uint64, proposer domain.Address, id uuid.UUID) (bool, error) {
	const query = `UPDATE withdrawal_requests SET executed = FALSE, updated_at = $4
	WHERE account_number = $1 AND proposer = $2 AND id = $3 AND executed`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, int64(accountNumber), proposer, id, time.Now())
	if err != nil {
		return false, err
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

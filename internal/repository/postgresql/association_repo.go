package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"treasury/internal/domain"
	"treasury/internal/port"
)

type associationRepository struct {
	db *sql.DB
}

func NewAssociationRepository(db *sql.DB) port.AssociationRepository {
	return &associationRepository{db: db}
}

// WithLock opens a transaction holding the association row lock for the
// duration of fn. Nested calls reuse the outer transaction.
func (r *associationRepository) WithLock(ctx context.Context, accountNumber uint64, fn func(ctx context.Context) error) error {
	return runInTx(ctx, r.db, func(txCtx context.Context, tr *sql.Tx) error {
		const query = `SELECT account_number FROM associations WHERE account_number = $1 FOR UPDATE`

		var locked int64
		err := tr.QueryRowContext(txCtx, query, int64(accountNumber)).Scan(&locked)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ErrAssociationNotFound
		}
		if err != nil {
			return err
		}
		return fn(txCtx)
	})
}

// WithSnapshot runs fn in a read-only repeatable-read transaction so that
// every read inside it sees the same commit.
func (r *associationRepository) WithSnapshot(ctx context.Context, accountNumber uint64, fn func(ctx context.Context) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	return runInTxOptions(ctx, r.db, opts, func(txCtx context.Context, _ *sql.Tx) error {
		return fn(txCtx)
	})
}

func (r *associationRepository) Create(ctx context.Context, a *domain.Association) error {
	const insertAssociation = `INSERT INTO associations (creator, name, balance, created_at)
	VALUES ($1, $2, 0, $3) RETURNING account_number`
	const insertExecutive = `INSERT INTO association_executives (account_number, position, executive)
	VALUES ($1, $2, $3)`

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}

	return runInTx(ctx, r.db, func(txCtx context.Context, tr *sql.Tx) error {
		var accountNumber int64
		err := tr.QueryRowContext(txCtx, insertAssociation, a.Creator, a.Name, a.CreatedAt).Scan(&accountNumber)
		if err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == uniqueConstraint {
				if pqErr.Constraint == "associations_creator_key" {
					return domain.ErrDuplicateCreator
				}
			}
			return err
		}

		for i, e := range a.Executives {
			if _, err := tr.ExecContext(txCtx, insertExecutive, accountNumber, i, e); err != nil {
				return err
			}
		}

		a.AccountNumber = uint64(accountNumber)
		if a.MemberDeposits == nil {
			a.MemberDeposits = make(map[domain.Address]uint64)
		}
		return nil
	})
}

func (r *associationRepository) Get(ctx context.Context, accountNumber uint64) (*domain.Association, error) {
	const query = `SELECT account_number, creator, name, balance, created_at
	FROM associations WHERE account_number = $1`

	db := conn(ctx, r.db)

	var (
		a       domain.Association
		number  int64
		balance int64
	)
	err := db.QueryRowContext(ctx, query, int64(accountNumber)).Scan(&number, &a.Creator, &a.Name, &balance, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAssociationNotFound
	}
	if err != nil {
		return nil, err
	}
	a.AccountNumber = uint64(number)
	a.Balance = uint64(balance)

	if a.Executives, err = r.executives(ctx, db, accountNumber); err != nil {
		return nil, err
	}
	if a.MemberDeposits, err = r.memberDeposits(ctx, db, accountNumber); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *associationRepository) executives(ctx context.Context, db executor, accountNumber uint64) ([]domain.Address, error) {
	const query = `SELECT executive FROM association_executives
	WHERE account_number = $1 ORDER BY position`

	rows, err := db.QueryContext(ctx, query, int64(accountNumber))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executives []domain.Address
	for rows.Next() {
		var e domain.Address
		if err := rows.Scan(&e); err != nil {
			return nil, err
		}
		executives = append(executives, e)
	}
	return executives, rows.Err()
}

func (r *associationRepository) memberDeposits(ctx context.Context, db executor, accountNumber uint64) (map[domain.Address]uint64, error) {
	const query = `SELECT member, total FROM member_deposits WHERE account_number = $1`

	rows, err := db.QueryContext(ctx, query, int64(accountNumber))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deposits := make(map[domain.Address]uint64)
	for rows.Next() {
		var (
			member domain.Address
			total  int64
		)
		if err := rows.Scan(&member, &total); err != nil {
			return nil, err
		}
		deposits[member] = uint64(total)
	}
	return deposits, rows.Err()
}

func (r *associationRepository) AccountNumberByCreator(ctx context.Context, creator domain.Address) (uint64, error) {
	const query = `SELECT account_number FROM associations WHERE creator = $1`

	var accountNumber int64
	err := conn(ctx, r.db).QueryRowContext(ctx, query, creator).Scan(&accountNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(accountNumber), nil
}

func (r *associationRepository) AddDeposit(ctx context.Context, accountNumber uint64, member domain.Address, amount uint64) error {
	const updateBalance = `UPDATE associations SET balance = balance + $2 WHERE account_number = $1`
	const upsertMember = `INSERT INTO member_deposits (account_number, member, total)
	VALUES ($1, $2, $3)
	ON CONFLICT (account_number, member) DO UPDATE SET total = member_deposits.total + EXCLUDED.total`

	delta, err := toInt64(amount)
	if err != nil {
		return err
	}

	return runInTx(ctx, r.db, func(txCtx context.Context, tr *sql.Tx) error {
		result, err := tr.ExecContext(txCtx, updateBalance, int64(accountNumber), delta)
		if err != nil {
			return overflowErr(err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return domain.ErrAssociationNotFound
		}

		_, err = tr.ExecContext(txCtx, upsertMember, int64(accountNumber), member, delta)
		return overflowErr(err)
	})
}

// SubtractBalance only deducts when the balance covers amount.
func (r *associationRepository) SubtractBalance(ctx context.Context, accountNumber uint64, amount uint64) error {
	const query = `UPDATE associations SET balance = balance - $2
	WHERE account_number = $1 AND balance >= $2`

	delta, err := toInt64(amount)
	if err != nil {
		return domain.ErrInsufficientBalance
	}

	result, err := conn(ctx, r.db).ExecContext(ctx, query, int64(accountNumber), delta)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		if _, err := r.Get(ctx, accountNumber); err != nil {
			return err
		}
		return domain.ErrInsufficientBalance
	}
	return nil
}

func (r *associationRepository) CreditBalance(ctx context.Context, accountNumber uint64, amount uint64) error {
	const query = `UPDATE associations SET balance = balance + $2 WHERE account_number = $1`

	delta, err := toInt64(amount)
	if err != nil {
		return err
	}

	result, err := conn(ctx, r.db).ExecContext(ctx, query, int64(accountNumber), delta)
	if err != nil {
		return overflowErr(err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrAssociationNotFound
	}
	return nil
}

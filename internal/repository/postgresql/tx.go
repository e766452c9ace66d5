package postgresql

import (
	"context"
	"database/sql"
	"math"

	"github.com/lib/pq"

	"treasury/internal/domain"
)

type ctxtype string

const (
	trKey ctxtype = "tx"
)

var (
	uniqueConstraint  pq.ErrorCode = "23505"
	numericOutOfRange pq.ErrorCode = "22003"
)

type executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getTr(ctx context.Context) (*sql.Tx, bool) {
	tr, ok := ctx.Value(trKey).(*sql.Tx)
	return tr, ok
}

// conn returns the transaction carried by ctx, or db when there is none.
func conn(ctx context.Context, db *sql.DB) executor {
	if tr, ok := getTr(ctx); ok {
		return tr
	}
	return db
}

// runInTx runs fn inside the transaction carried by ctx, or inside a new
// one that is committed when fn succeeds.
func runInTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tr *sql.Tx) error) error {
	return runInTxOptions(ctx, db, nil, fn)
}

func runInTxOptions(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tr *sql.Tx) error) error {
	if tr, ok := getTr(ctx); ok {
		return fn(ctx, tr)
	}

	tr, err := db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}

	if err := fn(context.WithValue(ctx, trKey, tr), tr); err != nil {
		_ = tr.Rollback()
		return err
	}
	return tr.Commit()
}

func toInt64(amount uint64) (int64, error) {
	if amount > math.MaxInt64 {
		return 0, domain.ErrBalanceOverflow
	}
	return int64(amount), nil
}

// overflowErr maps a BIGINT overflow raised by the database to
// ErrBalanceOverflow and leaves other errors alone.
func overflowErr(err error) error {
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == numericOutOfRange {
		return domain.ErrBalanceOverflow
	}
	return err
}

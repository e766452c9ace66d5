package migration

import (
	"context"
	"database/sql"
	_ "embed"

	"go.uber.org/zap"
)

//go:embed init.sql
var initSQL string

// RunMigrations creates the treasury tables. Every statement is idempotent,
// so it is safe to run on each start.
func RunMigrations(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	if _, err := db.ExecContext(ctx, initSQL); err != nil {
		return err
	}

	if logger != nil {
		logger.Info("migrations completed")
	}
	return nil
}

package sqlite

import (
	"context"
	"errors"

	"github.com/uptrace/bun"
)

func createTables(ctx context.Context, db bun.IDB) error {
	if _, err := db.NewCreateTable().Model((*jobModel)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	if _, err := db.NewCreateTable().Model((*scheduleModel)(nil)).IfNotExists().Exec(ctx); err != nil {
		return err
	}
	return nil
}

func createIndexes(ctx context.Context, db bun.IDB) error {
	if _, err := db.NewCreateIndex().
		Model((*jobModel)(nil)).
		Index("idx_jobs_claim").
		Column("queue", "status", "scheduled_for").
		IfNotExists().
		Exec(ctx); err != nil {
		return err
	}
	_, err := db.NewCreateIndex().
		Model((*jobModel)(nil)).
		Index("idx_jobs_idempotency").
		Column("queue", "idempotency_key").
		Unique().
		IfNotExists().
		Exec(ctx)
	return err
}

// InitSchema creates the jobs/schedules tables and indexes inside a
// single transaction, idempotently, following the init.go pattern from
// RomanQed-gqs's sql package.
func InitSchema(ctx context.Context, db *bun.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := createTables(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := createIndexes(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit()
}

package sqlstore

import (
	"context"
	"errors"

	"github.com/uptrace/bun"
)

func createItemTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().
		Model((*itemModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

func createItemIndexes(ctx context.Context, db bun.IDB) error {
	if _, err := db.NewCreateIndex().
		Model((*itemModel)(nil)).
		Index("idx_work_items_status_created").
		Column("status", "created_on").
		IfNotExists().
		Exec(ctx); err != nil {
		return err
	}
	if _, err := db.NewCreateIndex().
		Model((*itemModel)(nil)).
		Index("idx_work_items_status_due").
		Column("status", "due_on").
		IfNotExists().
		Exec(ctx); err != nil {
		return err
	}
	if _, err := db.NewCreateIndex().
		Model((*itemModel)(nil)).
		Index("idx_work_items_status_locked").
		Column("status", "locked_until").
		IfNotExists().
		Exec(ctx); err != nil {
		return err
	}
	_, err := db.NewCreateIndex().
		Model((*itemModel)(nil)).
		Index("idx_work_items_status_processed").
		Column("status", "processed_on").
		IfNotExists().
		Exec(ctx)
	return err
}

func createJoinTables(ctx context.Context, db bun.IDB) error {
	if _, err := db.NewCreateTable().
		Model((*joinModel)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return err
	}
	_, err := db.NewCreateTable().
		Model((*joinMemberModel)(nil)).
		IfNotExists().
		ForeignKey(`("join_id") REFERENCES "join_aggregates" ("id") ON DELETE CASCADE`).
		Exec(ctx)
	return err
}

func createJoinIndexes(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*joinMemberModel)(nil)).
		Index("idx_join_members_join").
		Column("join_id").
		IfNotExists().
		Exec(ctx)
	return err
}

func initSchema(ctx context.Context, db *bun.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := createItemTable(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := createItemIndexes(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := createJoinTables(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := createJoinIndexes(ctx, tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	return tx.Commit()
}

// InitSchema creates the work_items, join_aggregates and join_members
// tables and their indexes inside a single transaction. It is
// idempotent and safe to call on every process startup; it never
// drops or alters existing objects.
//
// The caller is responsible for supplying a *bun.DB already wired to
// the target dialect (sqlitedialect, pgdialect or mssqldialect).
func InitSchema(ctx context.Context, db *bun.DB) error {
	return initSchema(ctx, db)
}

// MustInitSchema behaves like InitSchema but panics on failure, for
// application bootstrap paths where a broken schema is unrecoverable.
func MustInitSchema(ctx context.Context, db *bun.DB) {
	if err := initSchema(ctx, db); err != nil {
		panic(err)
	}
}

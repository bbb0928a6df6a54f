package sqlstore

import (
	"database/sql"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// OpenPostgres opens a pgx-backed *bun.DB against dsn. Grounded on the
// mycelian-memory outbox worker's use of the pgx stdlib driver for its
// FOR UPDATE SKIP LOCKED claim query (the same statement shape Claim
// issues here).
func OpenPostgres(dsn string) (*bun.DB, error) {
	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return bun.NewDB(sqlDB, pgdialect.New()), nil
}

package sqlstore

import (
	"database/sql"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

func isAffected(res sql.Result) bool {
	rows, err := res.RowsAffected()
	if err != nil {
		return true
	}
	return rows != 0
}

func getAffected(res sql.Result) int64 {
	ret, err := res.RowsAffected()
	if err != nil {
		return -1
	}
	return ret
}

// supportsSkipLocked reports whether db's dialect understands FOR
// UPDATE SKIP LOCKED. SQLite serializes writers itself and has no such
// clause.
func supportsSkipLocked(db *bun.DB) bool {
	switch db.Dialect().Name() {
	case dialect.PG, dialect.MSSQL:
		return true
	default:
		return false
	}
}

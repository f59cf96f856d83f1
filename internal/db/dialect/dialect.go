// Package dialect provides the small set of SQL fragment helpers needed to
// run Iris's SessionStore against either SQLite or PostgreSQL through one
// sqlx.DB handle.
package dialect

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const (
	SQLite3 = "sqlite3"
	PGX     = "pgx"
)

// IsPostgres reports whether driver names the pgx/postgres dialect.
func IsPostgres(driver string) bool {
	return driver == PGX
}

// InsertIgnoreConflict executes query (ending just before the conflict
// clause) with a dialect-appropriate "do nothing on conflict" suffix, used
// by getOrCreateSession to let exactly one concurrent INSERT win.
func InsertIgnoreConflict(ctx context.Context, db *sqlx.DB, query string, conflictCols string, args ...any) error {
	var suffix string
	if IsPostgres(db.DriverName()) {
		suffix = fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", conflictCols)
	} else {
		query = insertToInsertOrIgnore(query)
	}
	_, err := db.ExecContext(ctx, db.Rebind(query+suffix), args...)
	return err
}

// insertToInsertOrIgnore rewrites a leading "INSERT INTO" to SQLite's
// "INSERT OR IGNORE INTO".
func insertToInsertOrIgnore(query string) string {
	const prefix = "INSERT INTO"
	if len(query) >= len(prefix) && query[:len(prefix)] == prefix {
		return "INSERT OR IGNORE INTO" + query[len(prefix):]
	}
	return query
}

package migrations

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
)

// IsSQLite reports whether db speaks the SQLite dialect.
func IsSQLite(db *bun.DB) bool {
	return db.Dialect().Name() == dialect.SQLite
}

// IsPostgreSQL reports whether db speaks the PostgreSQL dialect.
func IsPostgreSQL(db *bun.DB) bool {
	return db.Dialect().Name() == dialect.PG
}

// createIndex creates idx_<table>_<name> on table over expr. Both dialects
// accept IF NOT EXISTS, so reruns are harmless.
func createIndex(ctx context.Context, db bun.IDB, table, name, expr string) error {
	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_%s ON %s %s", table, name, table, expr)
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to create index %s on %s: %w", name, table, err)
	}
	return nil
}

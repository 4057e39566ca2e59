package bunx

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/terraconstructs/fhirapi/internal/config"
)

// DatabaseType represents the type of database
type DatabaseType string

const (
	DatabaseTypePostgreSQL DatabaseType = "postgres"
	DatabaseTypeSQLite     DatabaseType = "sqlite"
)

// PoolConfig bounds the connection pool. Zero values keep the driver defaults.
type PoolConfig struct {
	MaxConnections int
	MinConnections int
	ConnectTimeout time.Duration
	IdleTimeout    time.Duration
}

// PoolFromConfig copies the configured pool bounds.
func PoolFromConfig(c config.DBConfig) PoolConfig {
	return PoolConfig{
		MaxConnections: c.MaxConnections,
		MinConnections: c.MinConnections,
		ConnectTimeout: c.ConnectTimeout,
		IdleTimeout:    c.IdleTimeout,
	}
}

// DetectDatabaseType determines the database type from a DSN string
func DetectDatabaseType(dsn string) DatabaseType {
	for _, prefix := range []string{"postgres://", "postgresql://", "unix://"} {
		if strings.HasPrefix(dsn, prefix) {
			return DatabaseTypePostgreSQL
		}
	}
	// SQLite patterns: sqlite://, file:, :memory:, or plain file path
	return DatabaseTypeSQLite
}

// NewDB creates a new Bun database instance for PostgreSQL or SQLite based on DSN
func NewDB(dsn string, pool PoolConfig) (*bun.DB, error) {
	switch DetectDatabaseType(dsn) {
	case DatabaseTypePostgreSQL:
		return newPostgreSQLDB(dsn, pool)
	case DatabaseTypeSQLite:
		return newSQLiteDB(strings.TrimPrefix(dsn, "sqlite://"), pool)
	default:
		return nil, fmt.Errorf("unsupported database type for DSN: %s", dsn)
	}
}

func pingTimeout(pool PoolConfig) (context.Context, context.CancelFunc) {
	timeout := pool.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// newPostgreSQLDB creates a PostgreSQL connection
func newPostgreSQLDB(dsn string, pool PoolConfig) (*bun.DB, error) {
	opts := []pgdriver.Option{pgdriver.WithDSN(dsn)}
	if pool.ConnectTimeout > 0 {
		opts = append(opts, pgdriver.WithDialTimeout(pool.ConnectTimeout))
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(opts...))

	if pool.MaxConnections > 0 {
		sqldb.SetMaxOpenConns(pool.MaxConnections)
	}
	// database/sql has no minimum pool size; keeping MinConnections idle is
	// the closest equivalent.
	if pool.MinConnections > 0 {
		sqldb.SetMaxIdleConns(pool.MinConnections)
	}
	if pool.IdleTimeout > 0 {
		sqldb.SetConnMaxIdleTime(pool.IdleTimeout)
	}

	db := bun.NewDB(sqldb, pgdialect.New())

	ctx, cancel := pingTimeout(pool)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// newSQLiteDB creates a SQLite connection using modernc.org/sqlite driver
func newSQLiteDB(dsn string, pool PoolConfig) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// Single writer connection. This also keeps a shared in-memory database
	// alive for the lifetime of the pool.
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)
	sqldb.SetConnMaxIdleTime(0)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	ctx, cancel := pingTimeout(pool)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if !isMemoryDSN(dsn) {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			sqldb.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}

	if err := db.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

func isMemoryDSN(dsn string) bool {
	return strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// Close closes the database connection
func Close(db *bun.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}

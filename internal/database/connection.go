// Package database opens the helpdesk's relational store and owns its schema.
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Supported driver names, as registered with database/sql.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
)

// Options describes how to reach the database.
type Options struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NormalizeDriver maps common aliases onto a registered driver name.
func NormalizeDriver(driver string) string {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite
	case "postgres", "postgresql", "pgsql":
		return DriverPostgres
	case "mysql", "mariadb":
		return DriverMySQL
	}
	return strings.ToLower(driver)
}

// Open connects to the database and verifies the connection.
// SQLite is limited to a single connection so that a transaction and the
// pool never contend for the file lock.
func Open(ctx context.Context, opts Options) (*sqlx.DB, error) {
	driver := NormalizeDriver(opts.Driver)
	switch driver {
	case DriverSQLite, DriverPostgres, DriverMySQL:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", opts.Driver)
	}
	if opts.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	db, err := sqlx.Open(driver, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	return db, nil
}

// OpenMemory returns a migrated private in-memory SQLite database.
func OpenMemory(ctx context.Context) (*sqlx.DB, error) {
	db, err := Open(ctx, Options{Driver: DriverSQLite, DSN: "file::memory:?_loc=UTC"})
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// IsPostgres reports whether db speaks the PostgreSQL dialect.
func IsPostgres(db *sqlx.DB) bool {
	return db != nil && db.DriverName() == DriverPostgres
}

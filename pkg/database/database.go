// Package database opens the SQL stores: PostgreSQL through lib/pq for the
// shared analytics, history and API key tables, and a pure-Go SQLite file
// for single-node deployments. Queries are written with ? placeholders and
// rebound per driver.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/config"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type DB struct {
	*sql.DB
	driver string
}

// Open connects with driver and pings. SQLite gets a single connection,
// WAL journaling and a busy timeout, so concurrent writers queue instead of
// failing.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	switch driver {
	case DriverPostgres:
	case DriverSQLite:
		dsn = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging %s: %w", driver, err)
	}
	return &DB{DB: db, driver: driver}, nil
}

// OpenPostgres connects using the shared Postgres settings and pool limits.
func OpenPostgres(ctx context.Context, cfg config.PostgresConfig) (*DB, error) {
	db, err := Open(ctx, DriverPostgres, cfg.DSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// OpenDriver opens driver at dsn. A postgres driver with an empty dsn falls
// back to the shared Postgres settings.
func OpenDriver(ctx context.Context, driver, dsn string, pg config.PostgresConfig) (*DB, error) {
	if driver == DriverPostgres && dsn == "" {
		return OpenPostgres(ctx, pg)
	}
	return Open(ctx, driver, dsn)
}

func sqliteDSN(dsn string) string {
	if strings.Contains(dsn, "_pragma=") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (d *DB) Driver() string { return d.driver }

func (d *DB) Ping(ctx context.Context) error { return d.PingContext(ctx) }

// Rebind rewrites ? placeholders as $1, $2... for Postgres. Question marks
// inside single-quoted literals are left alone.
func (d *DB) Rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	quoted := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			quoted = !quoted
			b.WriteByte(c)
		case c == '?' && !quoted:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// InTx runs fn in a transaction, rolling back when fn fails.
func (d *DB) InTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Migrate executes each statement in one transaction. Statements must be
// idempotent (CREATE ... IF NOT EXISTS).
func (d *DB) Migrate(ctx context.Context, stmts ...string) error {
	return d.InTx(ctx, func(tx *sql.Tx) error {
		for i, s := range stmts {
			if _, err := tx.ExecContext(ctx, s); err != nil {
				return fmt.Errorf("migration %d: %w", i+1, err)
			}
		}
		return nil
	})
}

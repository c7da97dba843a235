package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/bani-align/pkg/config"
)

func TestRebind(t *testing.T) {
	pg := &DB{driver: DriverPostgres}
	lite := &DB{driver: DriverSQLite}
	q := "SELECT * FROM t WHERE a = ? AND b = '?' AND c > ?"

	if got, want := pg.Rebind(q), "SELECT * FROM t WHERE a = $1 AND b = '?' AND c > $2"; got != want {
		t.Errorf("postgres: %q, want %q", got, want)
	}
	if got := lite.Rebind(q); got != q {
		t.Errorf("sqlite rebind changed the query: %q", got)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "oracle", "x"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSQLiteMigrateAndTx(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, DriverSQLite, filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	stmt := `CREATE TABLE IF NOT EXISTS kv (k TEXT PRIMARY KEY, v INTEGER NOT NULL)`
	if err := db.Migrate(ctx, stmt); err != nil {
		t.Fatal(err)
	}
	if err := db.Migrate(ctx, stmt); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	boom := errors.New("boom")
	err = db.InTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, db.Rebind(`INSERT INTO kv (k, v) VALUES (?, ?)`), "a", 1); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v", err)
	}

	var n int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM kv`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("rolled-back insert persisted: %d rows", n)
	}
	if err := db.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestOpenDriverSQLiteIgnoresPostgresSettings(t *testing.T) {
	ctx := context.Background()
	pg := config.PostgresConfig{Host: "unreachable.invalid", Port: 5432}
	db, err := OpenDriver(ctx, DriverSQLite, filepath.Join(t.TempDir(), "keys.db"), pg)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if db.Driver() != DriverSQLite {
		t.Errorf("Driver() = %q", db.Driver())
	}
	if err := db.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

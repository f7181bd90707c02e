// Package store keeps the ledger of tax lots in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	type TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS lots (
	id                   TEXT PRIMARY KEY,
	account_id           TEXT NOT NULL REFERENCES accounts(id),
	symbol               TEXT NOT NULL,
	original_quantity    TEXT NOT NULL,
	remaining_quantity   TEXT NOT NULL,
	cost_basis_per_share TEXT NOT NULL,
	total_cost_basis     TEXT NOT NULL,
	acquisition_date     TEXT NOT NULL,
	acquisition_type     TEXT NOT NULL,
	is_covered           INTEGER NOT NULL DEFAULT 0,
	basis_unknown        INTEGER NOT NULL DEFAULT 0,
	wash_sale_adjustment TEXT NOT NULL DEFAULT '0',
	closed               INTEGER NOT NULL DEFAULT 0,
	version              INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_lots_position ON lots(account_id, symbol, closed);

CREATE TABLE IF NOT EXISTS transactions (
	id               TEXT PRIMARY KEY,
	account_id       TEXT NOT NULL,
	symbol           TEXT NOT NULL,
	type             TEXT NOT NULL,
	date             TEXT NOT NULL,
	quantity         TEXT NOT NULL,
	price            TEXT NOT NULL,
	lot_id           TEXT NOT NULL DEFAULT '',
	matched_quantity TEXT NOT NULL DEFAULT '0'
);
CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(date);

CREATE TABLE IF NOT EXISTS dispositions (
	id                   TEXT PRIMARY KEY,
	sale_id              TEXT NOT NULL,
	account_id           TEXT NOT NULL,
	symbol               TEXT NOT NULL,
	lot_id               TEXT NOT NULL,
	lot_version          INTEGER NOT NULL,
	quantity             TEXT NOT NULL,
	proceeds_per_share   TEXT NOT NULL,
	cost_basis_per_share TEXT NOT NULL,
	proceeds             TEXT NOT NULL,
	cost_basis           TEXT NOT NULL,
	acquisition_date     TEXT NOT NULL,
	sale_date            TEXT NOT NULL,
	gain_loss            TEXT NOT NULL,
	is_loss              INTEGER NOT NULL,
	is_short_term        INTEGER NOT NULL,
	wash_sale_disallowed TEXT NOT NULL DEFAULT '0',
	wash_sale_quantity   TEXT NOT NULL DEFAULT '0',
	replacement_lot_ids  TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS idx_dispositions_loss ON dispositions(is_loss, sale_date);

CREATE TABLE IF NOT EXISTS findings (
	id          TEXT PRIMARY KEY,
	symbol      TEXT NOT NULL,
	status      TEXT NOT NULL,
	loss        TEXT NOT NULL,
	tax_savings TEXT NOT NULL,
	accounts    TEXT NOT NULL DEFAULT '[]',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL,
	expires_at  TEXT NOT NULL
);
`

// Store is a taxlot.Ledger and taxlot.FindingStore backed by SQLite.
type Store struct {
	db    *sql.DB
	newID func() string
	log   zerolog.Logger
}

// Open opens, or creates, the database file at path and applies the schema.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if !strings.HasPrefix(path, "file:") {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		path = abs
	}

	db, err := sql.Open("sqlite", connectionString(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}
	// a single connection serializes the writers, sqlite would otherwise
	// answer concurrent ones with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", path, err)
	}

	s := New(db, log.With().Str("db", filepath.Base(path)).Logger())
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	s.log.Debug().Str("path", path).Msg("database opened")
	return s, nil
}

// connectionString appends the pragmas of a ledger database: every write is
// synced, and foreign keys are enforced.
func connectionString(path string) string {
	var b strings.Builder
	b.WriteString(path)
	b.WriteString("?_pragma=journal_mode(WAL)")
	b.WriteString("&_pragma=synchronous(FULL)")
	b.WriteString("&_pragma=foreign_keys(1)")
	b.WriteString("&_pragma=busy_timeout(5000)")
	return b.String()
}

// New returns a Store over an open database. The schema is not applied, see Migrate.
func New(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{db: db, newID: uuid.NewString, log: log}
}

// WithIDs replaces the id generator of lots and transactions.
func (s *Store) WithIDs(newID func() string) *Store {
	s.newID = newID
	return s
}

// Migrate creates the missing tables.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// WithTransaction runs fn in a transaction, committed if fn returns nil and
// rolled back otherwise. A panic in fn is recovered, rolled back, and
// returned as an error.
func WithTransaction(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
		} else if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rbErr)
			}
		} else if cErr := tx.Commit(); cErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cErr)
		}
	}()
	return fn(tx)
}

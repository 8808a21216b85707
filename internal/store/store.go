// Package store wraps database/sql with the transactional primitives the
// catalog and scan services rely on: transaction-scoped advisory locks,
// dialect-aware placeholders and driver error classification.
//
// Three drivers are supported. "postgres" (lib/pq) and "pgx" (pgx stdlib)
// talk to PostgreSQL and use pg_advisory_xact_lock for mutual exclusion.
// "sqlite" (modernc) is the embedded single-node backend: its pool is pinned
// to one connection, so transactions are serialised by the pool itself.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "github.com/lib/pq"              // registers the "postgres" driver
)

const (
	DriverPostgres = "postgres"
	DriverPgx      = "pgx"
	DriverSQLite   = "sqlite"
)

// Dialect selects SQL flavour differences between backends.
type Dialect int

const (
	DialectPostgres Dialect = iota
	DialectSQLite
)

// LockSpace namespaces advisory locks so that keys from different
// subsystems never contend with each other.
type LockSpace int32

const (
	LockAllocation LockSpace = 1
	LockScan       LockSpace = 2
)

// Querier is satisfied by both *DB and *Tx. Queries use "?" placeholders;
// they are rebound for the active dialect.
type Querier interface {
	Dialect() Dialect
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*DB)(nil)
	_ Querier = (*Tx)(nil)
)

// DB is a dialect-aware handle on a database/sql pool.
type DB struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects to the database identified by driver and dsn and verifies
// the connection.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	var dialect Dialect
	switch driver {
	case DriverPostgres, DriverPgx:
		dialect = DialectPostgres
	case DriverSQLite:
		dialect = DialectSQLite
		if err := registerSQLiteFunctions(); err != nil {
			return nil, err
		}
		dsn = sqliteDSN(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if dialect == DialectSQLite {
		// One connection: every transaction runs alone.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &DB{db: db, dialect: dialect}, nil
}

// sqliteDSN adds the connection parameters the store depends on unless the
// caller already set them.
func sqliteDSN(dsn string) string {
	params := []string{}
	if !strings.Contains(dsn, "_time_format=") {
		params = append(params, "_time_format=sqlite")
	}
	if !strings.Contains(dsn, "foreign_keys") {
		params = append(params, "_pragma=foreign_keys(1)")
	}
	if !strings.Contains(dsn, "busy_timeout") {
		params = append(params, "_pragma=busy_timeout(5000)")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

// Close closes the underlying pool.
func (s *DB) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SQL exposes the underlying pool.
func (s *DB) SQL() *sql.DB { return s.db }

// Dialect reports the SQL flavour of the connected backend.
func (s *DB) Dialect() Dialect { return s.dialect }

func (s *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
}

func (s *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.Rebind(query), args...)
}

// InTx runs fn inside a read-committed transaction. The transaction commits
// when fn returns nil and rolls back otherwise; advisory locks taken through
// Tx.Lock are released either way.
func (s *DB) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{tx: sqlTx, dialect: s.dialect}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Tx is a transaction opened by DB.InTx.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

// Dialect reports the SQL flavour of the transaction's backend.
func (t *Tx) Dialect() Dialect { return t.dialect }

// Lock blocks until the advisory lock (space, key) is held by this
// transaction. The lock is released at commit or rollback.
func (t *Tx) Lock(ctx context.Context, space LockSpace, key string) error {
	switch t.dialect {
	case DialectPostgres:
		if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, hashtext($2))`, int32(space), key); err != nil {
			return fmt.Errorf("acquire advisory lock %d/%s: %w", space, key, err)
		}
		return nil
	default:
		// The single pooled connection already serialises transactions.
		return nil
	}
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.Rebind(query), args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.Rebind(query), args...)
}

// Rebind rewrites "?" placeholders into the dialect's native form.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// SuffixOrder returns an ORDER BY term sorting column by the numeric value
// of its trailing digit run, greatest first. Values without a digit run, or
// whose run does not fit in an int64, sort last on every dialect, matching
// codes.ParseSuffix.
func (d Dialect) SuffixOrder(column string) string {
	if d == DialectPostgres {
		suffix := fmt.Sprintf("CAST(substring(%s FROM '[0-9]+$') AS NUMERIC)", column)
		return fmt.Sprintf("CASE WHEN %[1]s <= %[2]d THEN %[1]s END DESC NULLS LAST", suffix, int64(math.MaxInt64))
	}
	return fmt.Sprintf("%s(%s) DESC", suffixFunc, column)
}

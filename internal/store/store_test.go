package store_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dezod123/bar-scan-platform/internal/store"
	"github.com/dezod123/bar-scan-platform/internal/store/storetest"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebind(t *testing.T) {
	q := `SELECT id FROM scan_events WHERE code_value = ? AND code_category = ? LIMIT 1`

	assert.Equal(t,
		`SELECT id FROM scan_events WHERE code_value = $1 AND code_category = $2 LIMIT 1`,
		store.DialectPostgres.Rebind(q))
	assert.Equal(t, q, store.DialectSQLite.Rebind(q))
}

func TestSplitStatements(t *testing.T) {
	ddl := `
-- leading comment
CREATE TABLE a (id INT);

CREATE INDEX a_idx ON a (id);
-- trailing comment
`
	stmts := store.SplitStatements(ddl)
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (id INT)", stmts[0])
	assert.Equal(t, "CREATE INDEX a_idx ON a (id)", stmts[1])
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := store.Open(context.Background(), "mysql", "whatever")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database driver")
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := storetest.SQLite(t)

	require.NoError(t, db.Migrate(context.Background()))
	require.NoError(t, db.Migrate(context.Background()))

	var count int
	require.NoError(t, db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM catalog_entries`).Scan(&count))
	assert.Zero(t, count)
}

func TestNormalizeDispositionsRewritesLegacyRows(t *testing.T) {
	db := storetest.SQLite(t)
	ctx := context.Background()

	entryID := uuid.New()
	_, err := db.ExecContext(ctx, `INSERT INTO catalog_entries (id, name, code_category, code_value) VALUES (?, ?, ?, ?)`,
		entryID, "Rugged Case", "BARCODE", "BAR-0002")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `INSERT INTO scan_events (id, code_value, code_category, catalog_entry_id, disposition, captured_at) VALUES (?, ?, ?, ?, NULL, CURRENT_TIMESTAMP)`,
		uuid.New(), "BAR-0002", "BARCODE", entryID)
	require.NoError(t, err)

	n, err := db.NormalizeDispositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var disposition string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT disposition FROM scan_events`).Scan(&disposition))
	assert.Equal(t, "AWAITING", disposition)
}

func TestIsUniqueViolation(t *testing.T) {
	db := storetest.SQLite(t)
	ctx := context.Background()

	insert := `INSERT INTO catalog_entries (id, name, code_category, code_value) VALUES (?, ?, ?, ?)`
	_, err := db.ExecContext(ctx, insert, uuid.New(), "Battery Pack", "BARCODE", "BAR-0003")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, insert, uuid.New(), "Battery Pack", "BARCODE", "BAR-0003")
	require.Error(t, err)
	assert.True(t, store.IsUniqueViolation(err))

	assert.True(t, store.IsUniqueViolation(&pq.Error{Code: "23505"}))
	assert.True(t, store.IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, store.IsUniqueViolation(&pq.Error{Code: "23503"}))
	assert.False(t, store.IsUniqueViolation(errors.New("boom")))
	assert.False(t, store.IsUniqueViolation(nil))
}

func TestInTxRollsBackOnError(t *testing.T) {
	db := storetest.SQLite(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := db.InTx(ctx, func(tx *store.Tx) error {
		require.NoError(t, tx.Lock(ctx, store.LockAllocation, "BARCODE"))
		_, err := tx.ExecContext(ctx, `INSERT INTO catalog_entries (id, name, code_category, code_value) VALUES (?, ?, ?, ?)`,
			uuid.New(), "Docking Station", "BARCODE", "BAR-0004")
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_entries`).Scan(&count))
	assert.Zero(t, count)
}

var backends = map[string]func(testing.TB) *store.DB{
	"sqlite":   storetest.SQLite,
	"postgres": storetest.Postgres,
}

func TestSuffixOrder(t *testing.T) {
	tests := []struct {
		name  string
		codes []string
		want  string
	}{
		{"numeric not lexicographic", []string{"BAR-99", "BAR-100", "BAR-legacy", "BAR-0042"}, "BAR-100"},
		{"overflowing suffix is skipped", []string{"BAR-0005", "BAR-99999999999999999999", "BAR-9223372036854775808"}, "BAR-0005"},
		{"int64 bound is kept", []string{"BAR-0005", "BAR-9223372036854775807"}, "BAR-9223372036854775807"},
	}
	for backend, open := range backends {
		t.Run(backend, func(t *testing.T) {
			for _, tt := range tests {
				t.Run(tt.name, func(t *testing.T) {
					db := open(t)
					ctx := context.Background()

					for _, code := range tt.codes {
						_, err := db.ExecContext(ctx, `INSERT INTO catalog_entries (id, name, code_category, code_value) VALUES (?, ?, ?, ?)`,
							uuid.New(), code, "BARCODE", code)
						require.NoError(t, err)
					}

					var top string
					q := `SELECT code_value FROM catalog_entries ORDER BY ` + db.Dialect().SuffixOrder("code_value") + ` LIMIT 1`
					require.NoError(t, db.QueryRowContext(ctx, q).Scan(&top))
					assert.Equal(t, tt.want, top)
				})
			}
		})
	}
}

func TestPostgresSchemasAreIsolated(t *testing.T) {
	a := storetest.Postgres(t)
	b := storetest.Postgres(t)
	ctx := context.Background()

	_, err := a.ExecContext(ctx, `INSERT INTO catalog_entries (id, name, code_category, code_value) VALUES (?, ?, ?, ?)`,
		uuid.New(), "only in a", "BARCODE", "BAR-0001")
	require.NoError(t, err)

	var n int
	require.NoError(t, b.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_entries`).Scan(&n))
	assert.Zero(t, n)
	require.NoError(t, a.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_entries`).Scan(&n))
	assert.Equal(t, 1, n)
}

// Concurrent transactions holding the same lock key must not interleave
// their read-modify-write sequences.
func TestLockSerialisesCounterUpdates(t *testing.T) {
	db := storetest.SQLite(t)
	ctx := context.Background()

	entryID := uuid.New()
	_, err := db.ExecContext(ctx, `INSERT INTO catalog_entries (id, name, code_category, code_value) VALUES (?, ?, ?, ?)`,
		entryID, "0", "BARCODE", "BAR-0001")
	require.NoError(t, err)

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.InTx(ctx, func(tx *store.Tx) error {
				if err := tx.Lock(ctx, store.LockAllocation, "counter"); err != nil {
					return err
				}
				var n int
				if err := tx.QueryRowContext(ctx, `SELECT CAST(name AS INTEGER) FROM catalog_entries WHERE id = ?`, entryID).Scan(&n); err != nil {
					return err
				}
				_, err := tx.ExecContext(ctx, `UPDATE catalog_entries SET name = ? WHERE id = ?`, n+1, entryID)
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var name string
	require.NoError(t, db.QueryRowContext(ctx, `SELECT name FROM catalog_entries WHERE id = ?`, entryID).Scan(&name))
	assert.Equal(t, "16", name)
}

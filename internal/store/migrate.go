package store

import (
	"context"
	"embed"
	"fmt"
	"strings"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Migrate applies the embedded schema for the active dialect and then
// rewrites legacy scan rows whose disposition was never set. It is
// idempotent.
func (s *DB) Migrate(ctx context.Context) error {
	name := "schema/postgres.sql"
	if s.dialect == DialectSQLite {
		name = "schema/sqlite.sql"
	}
	ddl, err := schemaFS.ReadFile(name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	for _, stmt := range SplitStatements(string(ddl)) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute ddl: %w", err)
		}
	}
	if _, err := s.NormalizeDispositions(ctx); err != nil {
		return err
	}
	return nil
}

// NormalizeDispositions writes the explicit AWAITING tag into rows that
// still carry a NULL disposition and returns how many rows changed.
func (s *DB) NormalizeDispositions(ctx context.Context) (int64, error) {
	res, err := s.ExecContext(ctx, `UPDATE scan_events SET disposition = 'AWAITING' WHERE disposition IS NULL`)
	if err != nil {
		return 0, fmt.Errorf("normalize dispositions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("normalize dispositions: %w", err)
	}
	return n, nil
}

// SplitStatements breaks a schema file into individual statements, dropping
// "--" comment lines and blank statements.
func SplitStatements(ddl string) []string {
	var b strings.Builder
	for _, line := range strings.Split(ddl, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	var out []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}

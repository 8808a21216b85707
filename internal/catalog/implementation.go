package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/dezod123/bar-scan-platform/internal/codes"
	"github.com/dezod123/bar-scan-platform/internal/journal"
	"github.com/dezod123/bar-scan-platform/internal/metrics"
	"github.com/dezod123/bar-scan-platform/internal/store"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// service implements the Service interface.
type service struct {
	db      *store.DB
	journal *journal.Journal
	schemes codes.Table
	logger  *slog.Logger
	metrics *metrics.Recorder
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a catalog service.
type Option func(*service)

// WithLogger sets the logger used for anomalies.
func WithLogger(l *slog.Logger) Option {
	return func(s *service) { s.logger = l }
}

// WithMetrics sets the counters updated by the service.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *service) { s.metrics = m }
}

// WithClock overrides the time source used for creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a new catalog service instance.
func NewService(db *store.DB, j *journal.Journal, schemes codes.Table, opts ...Option) Service {
	s := &service{
		db:      db,
		journal: j,
		schemes: schemes,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:  otel.Tracer("barscan/catalog"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allocate assigns the next code of category to a new entry. The category
// lock is taken before the latest code is read, so concurrent allocators of
// the same category run one after another and never compute the same code.
func (s *service) Allocate(ctx context.Context, name string, category codes.Category) (*Entry, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.allocate",
		trace.WithAttributes(attribute.String("code.category", string(category))),
	)
	defer span.End()

	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidName
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, category)
	}
	scheme := s.schemes.Scheme(category)

	var entry *Entry
	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.Lock(ctx, store.LockAllocation, string(category)); err != nil {
			return err
		}

		latest, err := latestCode(ctx, tx, category)
		if err != nil {
			return err
		}

		entry = &Entry{
			ID:           uuid.New(),
			Name:         name,
			CodeCategory: category,
			CodeValue:    scheme.Format(scheme.Next(latest)),
			CreatedAt:    s.now().UTC(),
		}
		if err := insertEntry(ctx, tx, entry); err != nil {
			if store.IsUniqueViolation(err) {
				return fmt.Errorf("%w: %s %s", ErrCodeConflict, category, entry.CodeValue)
			}
			return fmt.Errorf("insert catalog entry: %w", err)
		}
		return s.appendEvent(ctx, tx, journal.EventCatalogEntryAllocated, entry)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(otelcodes.Error, "allocation failed")
		if errors.Is(err, ErrCodeConflict) {
			s.logger.Error("code conflict despite allocation lock",
				"category", category,
				"error", err,
			)
			s.metrics.Allocation(string(category), metrics.OutcomeConflict)
		} else {
			s.metrics.Allocation(string(category), metrics.OutcomeError)
		}
		return nil, err
	}

	span.SetAttributes(attribute.String("code.value", entry.CodeValue))
	s.metrics.Allocation(string(category), metrics.OutcomeAllocated)
	s.logger.Debug("catalog entry allocated",
		"id", entry.ID,
		"category", category,
		"code", entry.CodeValue,
	)
	return entry, nil
}

// latestCode returns the code of category with the greatest numeric suffix,
// or "" when the category has no entries yet.
func latestCode(ctx context.Context, q store.Querier, category codes.Category) (string, error) {
	query := `
		SELECT code_value
		FROM catalog_entries
		WHERE code_category = ?
		ORDER BY ` + q.Dialect().SuffixOrder("code_value") + `, code_value DESC
		LIMIT 1
	`
	var code string
	err := q.QueryRowContext(ctx, query, string(category)).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read latest %s code: %w", category, err)
	}
	return code, nil
}

func insertEntry(ctx context.Context, q store.Querier, entry *Entry) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO catalog_entries (id, name, code_category, code_value, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, entry.ID, entry.Name, string(entry.CodeCategory), entry.CodeValue, entry.CreatedAt)
	return err
}

func (s *service) appendEvent(ctx context.Context, tx *store.Tx, eventType string, entry *Entry) error {
	event, err := journal.NewEvent(eventType, EntryAllocatedEvent{
		ID:           entry.ID,
		Name:         entry.Name,
		CodeCategory: entry.CodeCategory,
		CodeValue:    entry.CodeValue,
	})
	if err != nil {
		return err
	}
	if err := s.journal.Append(ctx, tx, entry.ID, journal.AggregateCatalogEntry, 0, []journal.Event{event}); err != nil {
		return fmt.Errorf("append %s: %w", eventType, err)
	}
	return nil
}

const entryColumns = `id, name, code_category, code_value, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	entry := &Entry{}
	var category string
	if err := row.Scan(&entry.ID, &entry.Name, &category, &entry.CodeValue, &entry.CreatedAt); err != nil {
		return nil, err
	}
	entry.CodeCategory = codes.Category(category)
	return entry, nil
}

// FindByCode resolves a scanned code to its entry through q, which may be an
// open transaction. It returns ErrEntryNotFound when nothing matches.
func FindByCode(ctx context.Context, q store.Querier, codeValue string, category codes.Category) (*Entry, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM catalog_entries
		WHERE code_value = ? AND code_category = ?
	`, codeValue, string(category))
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find catalog entry %s/%s: %w", category, codeValue, err)
	}
	return entry, nil
}

// GetEntry retrieves an entry by its ID.
func (s *service) GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM catalog_entries
		WHERE id = ?
	`, id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get catalog entry: %w", err)
	}
	return entry, nil
}

// ListEntries returns every entry ordered by name.
func (s *service) ListEntries(ctx context.Context) ([]*Entry, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.list")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM catalog_entries
		ORDER BY name ASC, code_value ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list catalog entries: %w", err)
	}
	defer rows.Close()

	entries := []*Entry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan catalog entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog entries: %w", err)
	}
	span.SetAttributes(attribute.Int("entries.listed", len(entries)))
	return entries, nil
}

// Seed inserts fixtures that are missing and renames existing ones. Each
// fixture is written under its category's allocation lock so seeding never
// races the allocator.
func (s *service) Seed(ctx context.Context, fixtures []Fixture) (int, error) {
	ctx, span := s.tracer.Start(ctx, "catalog.seed",
		trace.WithAttributes(attribute.Int("fixtures", len(fixtures))),
	)
	defer span.End()

	inserted := 0
	for _, f := range fixtures {
		created := false
		if !f.CodeCategory.Valid() {
			return inserted, fmt.Errorf("%w: %q", ErrUnknownCategory, f.CodeCategory)
		}
		if strings.TrimSpace(f.Name) == "" {
			return inserted, ErrInvalidName
		}
		err := s.db.InTx(ctx, func(tx *store.Tx) error {
			if err := tx.Lock(ctx, store.LockAllocation, string(f.CodeCategory)); err != nil {
				return err
			}
			existing, err := FindByCode(ctx, tx, f.CodeValue, f.CodeCategory)
			switch {
			case errors.Is(err, ErrEntryNotFound):
				entry := &Entry{
					ID:           uuid.New(),
					Name:         f.Name,
					CodeCategory: f.CodeCategory,
					CodeValue:    f.CodeValue,
					CreatedAt:    s.now().UTC(),
				}
				if err := insertEntry(ctx, tx, entry); err != nil {
					return fmt.Errorf("insert fixture %s: %w", f.CodeValue, err)
				}
				created = true
				return s.appendEvent(ctx, tx, journal.EventCatalogEntrySeeded, entry)
			case err != nil:
				return err
			case existing.Name != f.Name:
				_, err := tx.ExecContext(ctx, `UPDATE catalog_entries SET name = ? WHERE id = ?`, f.Name, existing.ID)
				return err
			}
			return nil
		})
		if err != nil {
			span.RecordError(err)
			return inserted, err
		}
		if created {
			inserted++
		}
	}
	s.logger.Info("catalog seeded", "fixtures", len(fixtures), "inserted", inserted)
	return inserted, nil
}

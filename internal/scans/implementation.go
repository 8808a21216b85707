package scans

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dezod123/bar-scan-platform/internal/catalog"
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
	logger  *slog.Logger
	metrics *metrics.Recorder
	tracer  trace.Tracer
	now     func() time.Time
}

// Option configures a scan service.
type Option func(*service)

func WithLogger(l *slog.Logger) Option {
	return func(s *service) { s.logger = l }
}

func WithMetrics(m *metrics.Recorder) Option {
	return func(s *service) { s.metrics = m }
}

// WithClock overrides the time source used for capture timestamps and the
// cooldown cutoff.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a new scan service instance.
func NewService(db *store.DB, j *journal.Journal, opts ...Option) Service {
	s := &service{
		db:      db,
		journal: j,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer:  otel.Tracer("barscan/scans"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// scanLockKey scopes the recorder lock to one code of one category.
func scanLockKey(codeValue string, category codes.Category) string {
	return string(category) + ":" + codeValue
}

// RecordScan resolves codeValue to its catalog entry and records a scan of
// it. Recordings of the same code are serialised by the scan lock, so of two
// near-simultaneous scans the second always observes the first as a
// duplicate.
func (s *service) RecordScan(ctx context.Context, codeValue string, category codes.Category, cooldown time.Duration) (*RecordResult, error) {
	ctx, span := s.tracer.Start(ctx, "scans.record",
		trace.WithAttributes(
			attribute.String("code.value", codeValue),
			attribute.String("code.category", string(category)),
		),
	)
	defer span.End()

	if codeValue == "" {
		return nil, ErrInvalidCode
	}
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", catalog.ErrUnknownCategory, category)
	}
	cooldown = NormalizeCooldown(cooldown)

	var result *RecordResult
	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.Lock(ctx, store.LockScan, scanLockKey(codeValue, category)); err != nil {
			return err
		}

		entry, err := catalog.FindByCode(ctx, tx, codeValue, category)
		if errors.Is(err, catalog.ErrEntryNotFound) {
			return fmt.Errorf("%w: %s %s", ErrUnknownCode, category, codeValue)
		}
		if err != nil {
			return err
		}

		now := s.now().UTC()
		recent, err := latestSince(ctx, tx, codeValue, category, now.Add(-cooldown))
		if err != nil {
			return err
		}
		if recent != nil {
			result = &RecordResult{Scan: recent, WasDuplicate: true}
			return nil
		}

		event := &Event{
			ID:             uuid.New(),
			CodeValue:      codeValue,
			CodeCategory:   category,
			CatalogEntryID: entry.ID,
			Disposition:    DispositionAwaiting,
			CapturedAt:     now,
			Entry:          entry,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO scan_events (id, code_value, code_category, catalog_entry_id, disposition, captured_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, event.ID, event.CodeValue, string(event.CodeCategory), event.CatalogEntryID, string(event.Disposition), event.CapturedAt); err != nil {
			return fmt.Errorf("insert scan event: %w", err)
		}

		recorded, err := journal.NewEvent(journal.EventScanRecorded, ScanRecordedEvent{
			ID:             event.ID,
			CodeValue:      event.CodeValue,
			CodeCategory:   event.CodeCategory,
			CatalogEntryID: event.CatalogEntryID,
			CapturedAt:     event.CapturedAt,
		})
		if err != nil {
			return err
		}
		if err := s.journal.Append(ctx, tx, event.ID, journal.AggregateScanEvent, 0, []journal.Event{recorded}); err != nil {
			return fmt.Errorf("append %s: %w", journal.EventScanRecorded, err)
		}

		result = &RecordResult{Scan: event}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, ErrUnknownCode) {
			s.metrics.Scan(string(category), metrics.OutcomeUnknown)
			return nil, err
		}
		span.SetStatus(otelcodes.Error, "record scan failed")
		s.metrics.Scan(string(category), metrics.OutcomeError)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("scan.id", result.Scan.ID.String()),
		attribute.Bool("scan.duplicate", result.WasDuplicate),
	)
	if result.WasDuplicate {
		s.metrics.Scan(string(category), metrics.OutcomeDuplicate)
		s.logger.Debug("duplicate scan suppressed",
			"scan_id", result.Scan.ID,
			"code", codeValue,
			"cooldown", cooldown,
		)
	} else {
		s.metrics.Scan(string(category), metrics.OutcomeRecorded)
		s.logger.Debug("scan recorded", "scan_id", result.Scan.ID, "code", codeValue)
	}
	return result, nil
}

// UpdateDisposition applies target with a single conditional update. When
// no row matches, a follow-up read tells a missing scan apart from one that
// already left AWAITING.
func (s *service) UpdateDisposition(ctx context.Context, id uuid.UUID, target Disposition) (*Event, error) {
	ctx, span := s.tracer.Start(ctx, "scans.update_disposition",
		trace.WithAttributes(
			attribute.String("scan.id", id.String()),
			attribute.String("disposition.target", string(target)),
		),
	)
	defer span.End()

	if !target.Terminal() {
		s.metrics.Transition(metrics.TargetInvalid, metrics.OutcomeRejected)
		return nil, fmt.Errorf("%w: %q", ErrInvalidDisposition, target)
	}

	var event *Event
	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE scan_events
			SET disposition = ?
			WHERE id = ? AND (disposition = ? OR disposition IS NULL)
		`, string(target), id, string(DispositionAwaiting))
		if err != nil {
			return fmt.Errorf("update disposition: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update disposition: %w", err)
		}

		if n == 0 {
			var current sql.NullString
			err := tx.QueryRowContext(ctx, `SELECT disposition FROM scan_events WHERE id = ?`, id).Scan(&current)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: %s", ErrScanNotFound, id)
			}
			if err != nil {
				return fmt.Errorf("read disposition: %w", err)
			}
			return fmt.Errorf("%w: scan %s is %s", ErrInvalidTransition, id, current.String)
		}

		version, err := s.journal.Version(ctx, tx, id)
		if err != nil {
			return err
		}
		disposed, err := journal.NewEvent(journal.EventScanDisposed, ScanDisposedEvent{ID: id, Disposition: target})
		if err != nil {
			return err
		}
		if err := s.journal.Append(ctx, tx, id, journal.AggregateScanEvent, version, []journal.Event{disposed}); err != nil {
			return fmt.Errorf("append %s: %w", journal.EventScanDisposed, err)
		}

		event, err = getScan(ctx, tx, id)
		return err
	})
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, ErrScanNotFound):
			s.metrics.Transition(string(target), metrics.OutcomeNotFound)
		case errors.Is(err, ErrInvalidTransition):
			s.metrics.Transition(string(target), metrics.OutcomeRejected)
		default:
			span.SetStatus(otelcodes.Error, "update disposition failed")
			s.metrics.Transition(string(target), metrics.OutcomeError)
		}
		return nil, err
	}

	s.metrics.Transition(string(target), metrics.OutcomeApplied)
	s.logger.Info("scan disposed", "scan_id", id, "disposition", target)
	return event, nil
}

// GetScan retrieves a scan and its catalog entry by ID.
func (s *service) GetScan(ctx context.Context, id uuid.UUID) (*Event, error) {
	return getScan(ctx, s.db, id)
}

// ListScans returns scans newest first. An AWAITING filter also matches
// rows whose disposition was never written.
func (s *service) ListScans(ctx context.Context, filter *Disposition) ([]*Event, error) {
	ctx, span := s.tracer.Start(ctx, "scans.list")
	defer span.End()

	query := selectScans
	var args []any
	if filter != nil {
		if !filter.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidDisposition, *filter)
		}
		query += ` WHERE COALESCE(s.disposition, 'AWAITING') = ?`
		args = append(args, string(*filter))
		span.SetAttributes(attribute.String("disposition.filter", string(*filter)))
	}
	query += ` ORDER BY s.captured_at DESC, s.id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scans: %w", err)
	}
	span.SetAttributes(attribute.Int("scans.listed", len(events)))
	return events, nil
}

const selectScans = `
	SELECT s.id, s.code_value, s.code_category, s.catalog_entry_id,
		COALESCE(s.disposition, 'AWAITING'), s.captured_at,
		c.id, c.name, c.code_category, c.code_value, c.created_at
	FROM scan_events s
	JOIN catalog_entries c ON c.id = s.catalog_entry_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(row rowScanner) (*Event, error) {
	var (
		event                         Event
		entry                         catalog.Entry
		category, disposition, entCat string
	)
	if err := row.Scan(
		&event.ID,
		&event.CodeValue,
		&category,
		&event.CatalogEntryID,
		&disposition,
		&event.CapturedAt,
		&entry.ID,
		&entry.Name,
		&entCat,
		&entry.CodeValue,
		&entry.CreatedAt,
	); err != nil {
		return nil, err
	}
	event.CodeCategory = codes.Category(category)
	event.Disposition = Disposition(disposition)
	entry.CodeCategory = codes.Category(entCat)
	event.Entry = &entry
	return &event, nil
}

func getScan(ctx context.Context, q store.Querier, id uuid.UUID) (*Event, error) {
	event, err := scanEvent(q.QueryRowContext(ctx, selectScans+` WHERE s.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrScanNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get scan: %w", err)
	}
	return event, nil
}

// latestSince returns the most recent scan of the code captured at or after
// cutoff, or nil when there is none.
func latestSince(ctx context.Context, q store.Querier, codeValue string, category codes.Category, cutoff time.Time) (*Event, error) {
	event, err := scanEvent(q.QueryRowContext(ctx, selectScans+`
		WHERE s.code_value = ? AND s.code_category = ? AND s.captured_at >= ?
		ORDER BY s.captured_at DESC
		LIMIT 1
	`, codeValue, string(category), cutoff))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find recent scan: %w", err)
	}
	return event, nil
}

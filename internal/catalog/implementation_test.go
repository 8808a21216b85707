package catalog

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/dezod123/bar-scan-platform/internal/codes"
	"github.com/dezod123/bar-scan-platform/internal/journal"
	"github.com/dezod123/bar-scan-platform/internal/metrics"
	"github.com/dezod123/bar-scan-platform/internal/store"
	"github.com/dezod123/bar-scan-platform/internal/store/storetest"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T, db *store.DB, opts ...Option) Service {
	t.Helper()
	return NewService(db, journal.New(db), codes.DefaultTable(), opts...)
}

func insertCode(t *testing.T, db *store.DB, category codes.Category, code string) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO catalog_entries (id, name, code_category, code_value, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.New(), "existing "+code, string(category), code, time.Now().UTC())
	require.NoError(t, err)
}

func TestAllocateEmptyCategoryStartsAtSchemeStart(t *testing.T) {
	db := storetest.SQLite(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	bar, err := svc.Allocate(ctx, "Field Scanner Kit", codes.CategoryBarcode)
	require.NoError(t, err)
	assert.Equal(t, "BAR-0001", bar.CodeValue)
	assert.Equal(t, codes.CategoryBarcode, bar.CodeCategory)
	assert.NotEqual(t, uuid.Nil, bar.ID)

	qr, err := svc.Allocate(ctx, "Pallet Tag", codes.CategoryQR)
	require.NoError(t, err)
	assert.Equal(t, "QR-1001", qr.CodeValue)
}

func TestAllocateIncrementsExistingMaximum(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		want     string
	}{
		{"single digit", []string{"BAR-0009"}, "BAR-0010"},
		{"past pad width", []string{"BAR-9998", "BAR-9999"}, "BAR-10000"},
		{"numeric beats lexicographic", []string{"BAR-99", "BAR-100"}, "BAR-0101"},
		{"unparsable ignored", []string{"BAR-legacy", "BAR-0007"}, "BAR-0008"},
		{"only unparsable", []string{"BAR-legacy"}, "BAR-0001"},
		{"overflowing suffix ignored", []string{"BAR-0005", "BAR-99999999999999999999"}, "BAR-0006"},
	}
	backends := map[string]func(testing.TB) *store.DB{
		"sqlite":   storetest.SQLite,
		"postgres": storetest.Postgres,
	}
	for backend, open := range backends {
		for _, tt := range tests {
			t.Run(backend+"/"+tt.name, func(t *testing.T) {
				db := open(t)
				for _, code := range tt.existing {
					insertCode(t, db, codes.CategoryBarcode, code)
				}
				// entries of another category never influence the sequence
				insertCode(t, db, codes.CategoryQR, "QR-50000")

				entry, err := newTestService(t, db).Allocate(context.Background(), "Rugged Case", codes.CategoryBarcode)
				require.NoError(t, err)
				assert.Equal(t, tt.want, entry.CodeValue)
			})
		}
	}
}

func TestAllocateUsesConfiguredScheme(t *testing.T) {
	db := storetest.SQLite(t)
	table := codes.Table{codes.CategoryBarcode: {Prefix: "ITEM", Start: 500}}
	svc := NewService(db, journal.New(db), table)

	entry, err := svc.Allocate(context.Background(), "Battery Pack", codes.CategoryBarcode)
	require.NoError(t, err)
	assert.Equal(t, "ITEM-0500", entry.CodeValue)
}

func TestAllocateValidatesInput(t *testing.T) {
	db := storetest.SQLite(t)
	svc := newTestService(t, db)

	_, err := svc.Allocate(context.Background(), "", codes.CategoryBarcode)
	require.ErrorIs(t, err, ErrInvalidName)

	_, err = svc.Allocate(context.Background(), "   ", codes.CategoryBarcode)
	require.ErrorIs(t, err, ErrInvalidName)

	_, err = svc.Allocate(context.Background(), "Docking Station", codes.Category("EAN13"))
	require.ErrorIs(t, err, ErrUnknownCategory)

	entries, err := svc.ListEntries(context.Background())
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAllocateTrimsName(t *testing.T) {
	db := storetest.SQLite(t)
	entry, err := newTestService(t, db).Allocate(context.Background(), "  Warehouse Zone ", codes.CategoryQR)
	require.NoError(t, err)
	assert.Equal(t, "Warehouse Zone", entry.Name)
}

func allocateConcurrently(t *testing.T, svc Service, category codes.Category, n int) []*Entry {
	t.Helper()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		entries []*Entry
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := svc.Allocate(context.Background(), "Label Roll - Small", category)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			entries = append(entries, entry)
			mu.Unlock()
		}()
	}
	wg.Wait()
	return entries
}

func assertContiguous(t *testing.T, entries []*Entry, start int64) {
	t.Helper()

	suffixes := make([]int64, 0, len(entries))
	for _, e := range entries {
		n, ok := codes.ParseSuffix(e.CodeValue)
		require.True(t, ok, e.CodeValue)
		suffixes = append(suffixes, n)
	}
	sort.Slice(suffixes, func(i, j int) bool { return suffixes[i] < suffixes[j] })
	for i, n := range suffixes {
		assert.Equal(t, start+int64(i), n, "suffix %d of %v", i, suffixes)
	}
}

func TestConcurrentAllocationsAreDistinct(t *testing.T) {
	db := storetest.SQLite(t)
	svc := newTestService(t, db)

	entries := allocateConcurrently(t, svc, codes.CategoryBarcode, 25)
	require.Len(t, entries, 25)
	assertContiguous(t, entries, 1)
}

func TestConcurrentAllocationsPostgres(t *testing.T) {
	db := storetest.Postgres(t)
	svc := newTestService(t, db)

	var wg sync.WaitGroup
	results := map[codes.Category][]*Entry{}
	var mu sync.Mutex
	for _, category := range codes.Categories {
		wg.Add(1)
		go func(c codes.Category) {
			defer wg.Done()
			entries := allocateConcurrently(t, svc, c, 20)
			mu.Lock()
			results[c] = entries
			mu.Unlock()
		}(category)
	}
	wg.Wait()

	assertContiguous(t, results[codes.CategoryBarcode], 1)
	assertContiguous(t, results[codes.CategoryQR], 1001)
}

func TestAllocateJournalsEntry(t *testing.T) {
	db := storetest.SQLite(t)
	j := journal.New(db)
	svc := NewService(db, j, codes.DefaultTable())

	entry, err := svc.Allocate(context.Background(), "Return Crate", codes.CategoryQR)
	require.NoError(t, err)

	events, err := j.Load(context.Background(), entry.ID, 0, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, journal.EventCatalogEntryAllocated, events[0].EventType)
	assert.Equal(t, journal.AggregateCatalogEntry, events[0].AggregateType)
	assert.Contains(t, string(events[0].EventData), "QR-1001")
}

func TestAllocateRecordsMetrics(t *testing.T) {
	db := storetest.SQLite(t)
	rec := metrics.NewRecorder(prometheus.NewRegistry())
	svc := newTestService(t, db, WithMetrics(rec))

	_, err := svc.Allocate(context.Background(), "Pallet Tag", codes.CategoryQR)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.Allocations.WithLabelValues("QR", metrics.OutcomeAllocated)))
}

func TestAllocateUsesClock(t *testing.T) {
	db := storetest.SQLite(t)
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	svc := newTestService(t, db, WithClock(func() time.Time { return fixed }))

	entry, err := svc.Allocate(context.Background(), "Pallet Tag", codes.CategoryQR)
	require.NoError(t, err)

	stored, err := svc.GetEntry(context.Background(), entry.ID)
	require.NoError(t, err)
	assert.True(t, fixed.Equal(stored.CreatedAt), "created_at = %s", stored.CreatedAt)
}

func TestFindByCode(t *testing.T) {
	db := storetest.SQLite(t)
	svc := newTestService(t, db)
	entry, err := svc.Allocate(context.Background(), "Battery Pack", codes.CategoryBarcode)
	require.NoError(t, err)

	found, err := FindByCode(context.Background(), db, "BAR-0001", codes.CategoryBarcode)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, found.ID)
	assert.Equal(t, "Battery Pack", found.Name)

	_, err = FindByCode(context.Background(), db, "BAR-0001", codes.CategoryQR)
	require.ErrorIs(t, err, ErrEntryNotFound)

	_, err = svc.GetEntry(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrEntryNotFound)
}

func TestSeedInsertsAndRenames(t *testing.T) {
	db := storetest.SQLite(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	inserted, err := svc.Seed(ctx, DefaultFixtures)
	require.NoError(t, err)
	assert.Equal(t, len(DefaultFixtures), inserted)

	renamed := []Fixture{{Name: "Field Scanner Kit v2", CodeValue: "BAR-0001", CodeCategory: codes.CategoryBarcode}}
	inserted, err = svc.Seed(ctx, renamed)
	require.NoError(t, err)
	assert.Zero(t, inserted)

	entry, err := FindByCode(ctx, db, "BAR-0001", codes.CategoryBarcode)
	require.NoError(t, err)
	assert.Equal(t, "Field Scanner Kit v2", entry.Name)

	next, err := svc.Allocate(ctx, "Spare Battery", codes.CategoryBarcode)
	require.NoError(t, err)
	assert.Equal(t, "BAR-0006", next.CodeValue)

	nextQR, err := svc.Allocate(ctx, "Dock Door", codes.CategoryQR)
	require.NoError(t, err)
	assert.Equal(t, "QR-1004", nextQR.CodeValue)
}

func TestListEntriesOrderedByName(t *testing.T) {
	db := storetest.SQLite(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	for _, name := range []string{"Warehouse Zone", "Battery Pack", "Rugged Case"} {
		_, err := svc.Allocate(ctx, name, codes.CategoryBarcode)
		require.NoError(t, err)
	}

	entries, err := svc.ListEntries(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "Battery Pack", entries[0].Name)
	assert.Equal(t, "Rugged Case", entries[1].Name)
	assert.Equal(t, "Warehouse Zone", entries[2].Name)
}

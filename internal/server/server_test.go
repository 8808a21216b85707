package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dezod123/bar-scan-platform/internal/catalog"
	"github.com/dezod123/bar-scan-platform/internal/codes"
	"github.com/dezod123/bar-scan-platform/internal/journal"
	"github.com/dezod123/bar-scan-platform/internal/metrics"
	"github.com/dezod123/bar-scan-platform/internal/scans"
	"github.com/dezod123/bar-scan-platform/internal/store/storetest"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, scanRate float64, burst int) *httptest.Server {
	t.Helper()

	db := storetest.SQLite(t)
	j := journal.New(db)
	reg := prometheus.NewRegistry()
	rec := metrics.NewRecorder(reg)

	catalogSvc := catalog.NewService(db, j, codes.DefaultTable(), catalog.WithMetrics(rec))
	_, err := catalogSvc.Seed(context.Background(), catalog.DefaultFixtures)
	require.NoError(t, err)

	srv := httptest.NewServer(New(Deps{
		DB:        db,
		Catalog:   catalogSvc,
		Scans:     scans.NewService(db, j, scans.WithMetrics(rec)),
		Journal:   j,
		Gatherer:  reg,
		Cooldown:  5 * time.Second,
		ScanRate:  scanRate,
		ScanBurst: burst,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestProductAndScanFlow(t *testing.T) {
	srv := newTestServer(t, 0, 0)

	resp := post(t, srv.URL+"/products", `{"name":"Spare Battery","code_category":"BARCODE"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var entry catalog.Entry
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&entry))
	assert.Equal(t, "BAR-0006", entry.CodeValue)

	resp = post(t, srv.URL+"/scans", `{"code_value":"BAR-0006","code_category":"BARCODE"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var recorded scans.RecordResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&recorded))

	req, err := http.NewRequest(http.MethodPatch, srv.URL+"/scans/"+recorded.Scan.ID.String()+"/action", strings.NewReader(`{"action":"RETURN"}`))
	require.NoError(t, err)
	patched, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer patched.Body.Close()
	require.Equal(t, http.StatusOK, patched.StatusCode)

	resp = get(t, srv.URL+"/scans?action=RETURN")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed []scans.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "Spare Battery", listed[0].Entry.Name)
}

func TestEventsStream(t *testing.T) {
	srv := newTestServer(t, 0, 0)

	resp := get(t, srv.URL+"/events?limit=3")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page []journal.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	require.Len(t, page, 3)
	assert.Equal(t, journal.EventCatalogEntrySeeded, page[0].EventType)

	resp = get(t, srv.URL+"/events?after="+strconv.FormatInt(page[2].ID, 10))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rest []journal.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rest))
	assert.Len(t, rest, len(catalog.DefaultFixtures)-3)

	resp = get(t, srv.URL+"/events?after=9999")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(body))

	for _, bad := range []string{"after=x", "after=-1", "limit=abc", "limit=5000"} {
		resp = get(t, srv.URL+"/events?"+bad)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, bad)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	srv := newTestServer(t, 0, 0)

	resp := get(t, srv.URL+"/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	post(t, srv.URL+"/scans", `{"code_value":"QR-1001","code_category":"QR"}`)

	resp = get(t, srv.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `barscan_scans_total{category="QR",outcome="recorded"} 1`)
}

func TestScanIntakeIsRateLimited(t *testing.T) {
	srv := newTestServer(t, 0.001, 2)

	statuses := []int{}
	for i := 0; i < 3; i++ {
		resp := post(t, srv.URL+"/scans", `{"code_value":"BAR-0001","code_category":"BARCODE"}`)
		statuses = append(statuses, resp.StatusCode)
	}
	assert.Equal(t, []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests}, statuses)

	// other endpoints are not limited
	resp := get(t, srv.URL+"/scans")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

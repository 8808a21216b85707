package telemetry

import (
	"context"
	"testing"

	"github.com/dezod123/bar-scan-platform/internal/catalog"
	"github.com/dezod123/bar-scan-platform/internal/codes"
	"github.com/dezod123/bar-scan-platform/internal/journal"
	"github.com/dezod123/bar-scan-platform/internal/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestExporterOptions(t *testing.T) {
	assert.Len(t, exporterOptions("collector:4318"), 2)
	assert.Len(t, exporterOptions("https://collector.example.com/v1/traces"), 1)
}

func TestProviderRecordsServiceSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := NewProvider("barscan-test", sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { tp.Shutdown(context.Background()) })

	db := storetest.SQLite(t)
	svc := catalog.NewService(db, journal.New(db), codes.DefaultTable())
	_, err := svc.Allocate(context.Background(), "Pallet Tag", codes.CategoryQR)
	require.NoError(t, err)

	names := map[string]bool{}
	for _, span := range recorder.Ended() {
		names[span.Name()] = true
		if span.Name() == "catalog.allocate" {
			v, ok := span.Resource().Set().Value("service.name")
			require.True(t, ok)
			assert.Equal(t, "barscan-test", v.AsString())
		}
	}
	assert.True(t, names["catalog.allocate"])
	assert.True(t, names["journal.append"])
}

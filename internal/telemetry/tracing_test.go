package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInitTracerProviderRecordsAndPropagates(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, err := InitTracerProvider(context.Background(),
		Config{ServiceName: "offer-scraper", Version: "test"},
		sdktrace.WithSpanProcessor(recorder),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, tp.Shutdown(context.Background()))
	})

	ctx, span := Tracer().Start(context.Background(), "scrape job")
	require.True(t, span.SpanContext().IsValid())

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	require.NotEmpty(t, carrier.Get("traceparent"))

	span.End()
	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "scrape job", ended[0].Name())
}

package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-offer-scraper/internal/config"
	"github.com/JakeFAU/realtime-offer-scraper/internal/progress"
	memorypublisher "github.com/JakeFAU/realtime-offer-scraper/internal/publisher/memory"
)

const magaluSearchBody = `{"data":[
	{"title":"Geladeira Brastemp Frost Free","url":"/geladeira-brastemp/p/123/","price":3999.9,"brand":"Brastemp"},
	{"title":"Geladeira sem preço","url":"/p/456/","price":0}
]}`

func memoryConfig(apiBase string) config.Config {
	return config.Config{
		Broker:   config.BrokerConfig{Driver: config.DriverMemory},
		Queue:    config.QueueConfig{Capacity: 4, Prefetch: 2},
		Results:  config.ResultsConfig{PublishEmpty: true},
		Browser:  config.BrowserConfig{Enabled: false},
		Strategy: config.StrategyConfig{MagaluAPIFallback: true, MagaluAPIBase: apiBase},
		Progress: config.ProgressConfig{FlushIntervalMs: 5, BatchSize: 10, GracePeriodMs: 200, MaxBuffered: 100},
		Telemetry: config.TelemetryConfig{
			ServiceName: "offer-scraper-test",
			Version:     "test",
			SampleRatio: 1,
		},
	}
}

func newMagaluAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/geladeira/") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(magaluSearchBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestApp_MemoryDriverScrapesThroughAPIFallback(t *testing.T) {
	api := newMagaluAPI(t)
	mr := miniredis.RunT(t)

	cfg := memoryConfig(api.URL + "/busca/api/v2/")
	cfg.Redis = config.RedisConfig{Addr: mr.Addr(), Channel: "scrape:logs", Subscribe: true}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app, err := Build(ctx, cfg, zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	events, unsubscribe := app.broadcaster.Subscribe("req-1")
	defer unsubscribe()

	runDone := make(chan error, 1)
	go func() { runDone <- app.Run(ctx) }()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(
		`{"Url":"https://www.magazineluiza.com.br/busca/geladeira/","RequestId":"req-1"}`))
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	pub, ok := app.publisher.(*memorypublisher.Publisher)
	require.True(t, ok)
	require.Eventually(t, func() bool { return len(pub.Messages()) == 1 }, 5*time.Second, 10*time.Millisecond)

	msg := pub.Messages()[0]
	require.Equal(t, "req-1", msg.RequestID)
	require.Len(t, msg.Records, 1)
	require.Equal(t, "Geladeira Brastemp Frost Free", msg.Records[0].Title)
	require.Equal(t, "3999.9", msg.Records[0].Price.String())
	require.Equal(t, "Magalu (API)", msg.Records[0].Store)
	require.Equal(t, "Brastemp", msg.Records[0].Category)

	select {
	case evt := <-events:
		require.Equal(t, "req-1", evt.RequestID)
		require.NotEqual(t, progress.LevelUnset, evt.Level)
	case <-time.After(5 * time.Second):
		t.Fatal("no progress event reached the live feed through redis")
	}

	cancel()
	select {
	case err := <-runDone:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("app did not shut down")
	}
}

func TestApp_EmptyResultPublishesEmptyBatch(t *testing.T) {
	api := newMagaluAPI(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app, err := Build(ctx, memoryConfig(api.URL+"/busca/api/v2/"), zap.NewNop(),
		WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	runDone := make(chan error, 1)
	go func() { runDone <- app.Run(ctx) }()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs",
		bytes.NewBufferString(`{"Url":"https://www.lojaexemplo.com.br/ofertas"}`))
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	pub := app.publisher.(*memorypublisher.Publisher)
	require.Eventually(t, func() bool { return len(pub.Messages()) == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Empty(t, pub.Messages()[0].Records)
	require.JSONEq(t, "[]", string(pub.Messages()[0].Body))

	cancel()
	require.NoError(t, <-runDone)
}

func TestApp_LocalArchiveKeepsPublishedBatches(t *testing.T) {
	api := newMagaluAPI(t)
	dir := t.TempDir()

	cfg := memoryConfig(api.URL + "/busca/api/v2/")
	cfg.Archive = config.ArchiveConfig{Backend: config.ArchiveLocal, Dir: dir, Prefix: "offers"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	app, err := Build(ctx, cfg, zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)

	runDone := make(chan error, 1)
	go func() { runDone <- app.Run(ctx) }()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", bytes.NewBufferString(
		`{"Url":"https://www.magazineluiza.com.br/busca/geladeira/","RequestId":"req-arch"}`))
	app.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Eventually(t, func() bool {
		matches, _ := filepath.Glob(filepath.Join(dir, "offers", "*", "*", "*", "req-arch.json"))
		return len(matches) == 1
	}, 5*time.Second, 10*time.Millisecond)

	matches, err := filepath.Glob(filepath.Join(dir, "offers", "*", "*", "*", "req-arch.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	// #nosec G304 -- reads from the test temp directory.
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	require.Contains(t, string(data), "Geladeira Brastemp Frost Free")

	cancel()
	require.NoError(t, <-runDone)
}

func TestBuild_RabbitMQUnreachable(t *testing.T) {
	t.Parallel()

	cfg := memoryConfig("")
	cfg.Broker = config.BrokerConfig{
		Driver:            config.DriverRabbitMQ,
		Host:              "127.0.0.1",
		Port:              1,
		User:              "guest",
		Password:          "guest",
		MaxRetries:        1,
		RetryDelaySeconds: 0,
	}

	app, err := Build(context.Background(), cfg, zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))

	require.Error(t, err)
	require.Nil(t, app)
}

func TestReadyzReflectsTransport(t *testing.T) {
	t.Parallel()

	app, err := Build(context.Background(), memoryConfig(""), zap.NewNop(), WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	defer app.Close(context.Background())

	rec := httptest.NewRecorder()
	app.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
}

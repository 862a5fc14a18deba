package metrics

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func routeSamples(t *testing.T, method, route string) uint64 {
	t.Helper()
	h, ok := httpRequestDurationSeconds.WithLabelValues(method, route).(prometheus.Histogram)
	require.True(t, ok)
	var m dto.Metric
	require.NoError(t, h.Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func offerRouter(t *testing.T) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Post("/v1/jobs", func(w http.ResponseWriter, req *http.Request) {
		body, _ := io.ReadAll(req.Body)
		if len(strings.TrimSpace(string(body))) == 0 {
			http.Error(w, "empty body", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})
	r.Get("/v1/logs/stream", func(w http.ResponseWriter, _ *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok, "wrapped writer must expose Flush")
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 1; i <= 3; i++ {
			_, _ = fmt.Fprintf(w, "data: {\"message\":\"página %d processada\"}\n\n", i)
			flusher.Flush()
		}
	})
	return r
}

func TestMiddlewareCountsJobSubmissionsByStatus(t *testing.T) {
	Init()
	accepted := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "202"))
	rejected := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "400"))
	samples := routeSamples(t, http.MethodPost, "/v1/jobs")
	router := offerRouter(t)

	for _, body := range []string{`{"query":"geladeira"}`, `{"query":"fogão"}`, "  "} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body)))
	}

	require.InDelta(t, 2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "202"))-accepted, 0)
	require.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodPost, "400"))-rejected, 0)
	require.Equal(t, samples+3, routeSamples(t, http.MethodPost, "/v1/jobs"))
}

func TestMiddlewarePassesFlushToLogStream(t *testing.T) {
	Init()
	ok := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))
	samples := routeSamples(t, http.MethodGet, "/v1/logs/stream")

	rec := httptest.NewRecorder()
	offerRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/logs/stream?requestId=req-1", nil))

	require.True(t, rec.Flushed)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Equal(t, 3, strings.Count(rec.Body.String(), "data: "))
	require.Contains(t, rec.Body.String(), "página 3 processada")
	require.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "200"))-ok, 0)
	require.Equal(t, samples+1, routeSamples(t, http.MethodGet, "/v1/logs/stream"))
}

func TestMiddlewareLabelsUnmatchedRequests(t *testing.T) {
	Init()
	missing := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404"))

	rec := httptest.NewRecorder()
	offerRouter(t).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/ofertas", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "404"))-missing, 0)
}

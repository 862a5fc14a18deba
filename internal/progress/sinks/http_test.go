package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-offer-scraper/internal/progress"
)

func TestHTTPSinkPostsEachEvent(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		received []map[string]any
		paths    []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, body)
		paths = append(paths, r.Method+" "+r.URL.Path)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(HTTPConfig{BaseURL: srv.URL + "/"})
	require.NoError(t, err)
	require.Equal(t, srv.URL+DefaultLogPath, sink.Endpoint())

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	batch := []progress.Event{
		{RequestID: "req-1", Message: "first", Level: progress.LevelInfo, Timestamp: ts},
		{RequestID: "req-1", Message: "second", Level: progress.LevelSuccess, Timestamp: ts},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.NoError(t, sink.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"POST /api/offers/scrape/logs", "POST /api/offers/scrape/logs"}, paths)
	require.Equal(t, map[string]any{
		"requestId": "req-1",
		"message":   "first",
		"level":     "INFO",
		"timestamp": "2024-01-02T03:04:05Z",
	}, received[0])
	require.Equal(t, "SUCCESS", received[1]["level"])
}

func TestHTTPSinkReportsFailuresButContinues(t *testing.T) {
	t.Parallel()

	var calls int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(HTTPConfig{BaseURL: srv.URL, Path: "logs"})
	require.NoError(t, err)

	now := time.Now()
	err = sink.Consume(context.Background(), []progress.Event{
		{RequestID: "r", Message: "a", Level: progress.LevelInfo, Timestamp: now},
		{RequestID: "r", Message: "b", Level: progress.LevelInfo, Timestamp: now},
	})
	require.ErrorContains(t, err, "unexpected status 500")
	mu.Lock()
	require.Equal(t, 2, calls)
	mu.Unlock()
}

func TestHTTPSinkHonorsTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	sink, err := NewHTTPSink(HTTPConfig{BaseURL: srv.URL, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	err = sink.Consume(context.Background(), []progress.Event{
		{RequestID: "r", Message: "a", Level: progress.LevelInfo, Timestamp: time.Now()},
	})
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second)
}

func TestNewHTTPSinkRequiresBaseURL(t *testing.T) {
	t.Parallel()

	_, err := NewHTTPSink(HTTPConfig{BaseURL: "  "})
	require.ErrorContains(t, err, "base url is required")
}

func TestHTTPSinkDeliversFullBatchFromSlowEndpoint(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		messages []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(30 * time.Millisecond)
		var evt progress.Event
		if err := json.NewDecoder(r.Body).Decode(&evt); err == nil {
			mu.Lock()
			messages = append(messages, evt.Message)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	sink, err := NewHTTPSink(HTTPConfig{BaseURL: srv.URL, Timeout: time.Second})
	require.NoError(t, err)

	// Each post fits the per-event budget; the batch as a whole does not.
	relay := progress.NewRelay("req-slow", progress.Config{
		FlushInterval: 10 * time.Millisecond,
		BatchSize:     10,
		SinkTimeout:   100 * time.Millisecond,
	}, sink)
	for i := range 10 {
		relay.Log(fmt.Sprintf("página %d processada", i), progress.LevelInfo)
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(messages) == 10
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, relay.Close(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "página 0 processada", messages[0])
	require.Equal(t, "página 9 processada", messages[9])
}

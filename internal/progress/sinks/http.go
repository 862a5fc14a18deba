package sinks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-offer-scraper/internal/progress"
)

// DefaultLogPath is the log endpoint exposed by the offers API.
const DefaultLogPath = "/api/offers/scrape/logs"

const defaultHTTPTimeout = 5 * time.Second

// HTTPConfig configures the HTTP log sink.
type HTTPConfig struct {
	BaseURL string
	Path    string
	Timeout time.Duration
	Client  *http.Client
	Logger  *zap.Logger
}

// HTTPSink POSTs each event as JSON to the offers API log endpoint. Delivery is
// a single attempt; failures are reported to the caller and never retried.
type HTTPSink struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPSink validates the base URL and builds the sink.
func NewHTTPSink(cfg HTTPConfig) (*HTTPSink, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("log sink base url is required")
	}
	path := cfg.Path
	if path == "" {
		path = DefaultLogPath
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPSink{endpoint: base + path, client: client, logger: logger}, nil
}

// Endpoint returns the resolved log URL.
func (s *HTTPSink) Endpoint() string {
	return s.endpoint
}

// Consume posts every event in order. A failed post does not stop the rest of
// the batch.
func (s *HTTPSink) Consume(ctx context.Context, batch []progress.Event) error {
	var errs []error
	for _, evt := range batch {
		if err := s.post(ctx, evt); err != nil {
			s.logger.Debug("log sink post failed", zap.String("request_id", evt.RequestID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *HTTPSink) post(ctx context.Context, evt progress.Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal log event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build log request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post log event: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("post log event: unexpected status %d", resp.StatusCode)
	}
	return nil
}

// Close releases idle connections.
func (s *HTTPSink) Close(context.Context) error {
	s.client.CloseIdleConnections()
	return nil
}

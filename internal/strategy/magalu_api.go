package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-offer-scraper/internal/progress"
	"github.com/JakeFAU/realtime-offer-scraper/internal/scraper"
)

const (
	// DefaultMagaluAPIBase is the search API queried when the browser finds nothing.
	DefaultMagaluAPIBase = "https://www.magazineluiza.com.br/busca/api/v2/"
	magaluOrigin         = "https://www.magazineluiza.com.br"
	magaluAPIStore       = "Magalu (API)"
)

// MagaluAPIConfig controls the search API fallback.
type MagaluAPIConfig struct {
	BaseURL   string
	Origin    string
	UserAgent string
	Timeout   time.Duration
	Logger    *zap.Logger
	Transport http.RoundTripper
}

// MagaluAPI reads offers from the Magalu search API with a plain HTTP GET.
type MagaluAPI struct {
	cfg       MagaluAPIConfig
	collector *colly.Collector
	logger    *zap.Logger
}

var _ scraper.Strategy = (*MagaluAPI)(nil)

type magaluResponse struct {
	Data []struct {
		Title string      `json:"title"`
		URL   string      `json:"url"`
		Price json.Number `json:"price"`
		Brand string      `json:"brand"`
	} `json:"data"`
}

// NewMagaluAPI builds the fallback strategy.
func NewMagaluAPI(cfg MagaluAPIConfig) *MagaluAPI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultMagaluAPIBase
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.Origin == "" {
		cfg.Origin = magaluOrigin
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	return &MagaluAPI{cfg: cfg, collector: c, logger: logger.With(zap.String("strategy", "magalu-api"))}
}

// Name identifies the fallback.
func (m *MagaluAPI) Name() string {
	return "magalu-api"
}

// Extract queries the search API for the term in a /busca/<term> URL. Other
// URLs yield nothing.
func (m *MagaluAPI) Extract(ctx context.Context, pageURL string, log progress.Logger) []scraper.RawItem {
	if log == nil {
		log = progress.Discard
	}
	term := SearchTerm(pageURL)
	if term == "" {
		return nil
	}
	apiURL := m.cfg.BaseURL + url.PathEscape(term) + "/"
	log.Log(fmt.Sprintf("🔍 querying search API: %s", apiURL), progress.LevelInfo)

	body, err := m.fetch(ctx, apiURL)
	if err != nil {
		m.logger.Warn("search api failed", zap.String("url", apiURL), zap.Error(err))
		log.Log(fmt.Sprintf("❌ search API failed: %v", err), progress.LevelError)
		return nil
	}
	var resp magaluResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Log(fmt.Sprintf("❌ search API returned invalid JSON: %v", err), progress.LevelError)
		return nil
	}

	out := make([]scraper.RawItem, 0, len(resp.Data))
	for _, entry := range resp.Data {
		title := strings.TrimSpace(entry.Title)
		price, err := decimal.NewFromString(entry.Price.String())
		if title == "" || err != nil || !price.IsPositive() {
			continue
		}
		category := strings.TrimSpace(entry.Brand)
		if category == "" {
			category = DefaultCategory
		}
		out = append(out, scraper.RawItem{
			Title:     title,
			PriceText: brl(price),
			Link:      scraper.ResolveLink(m.cfg.Origin, entry.URL),
			Brand:     entry.Brand,
			Store:     magaluAPIStore,
			Category:  category,
		})
		log.Log(fmt.Sprintf("✅ %s - R$ %s", title, price.StringFixed(2)), progress.LevelSuccess)
	}
	return out
}

func (m *MagaluAPI) fetch(ctx context.Context, apiURL string) ([]byte, error) {
	collector := m.collector.Clone()
	var (
		body     []byte
		fetchErr error
	)
	collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/json")
	})
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(apiURL)
	}()
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("search api canceled: %w", ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, fmt.Errorf("search api response: %w", fetchErr)
		}
		if err != nil {
			return nil, fmt.Errorf("search api visit: %w", err)
		}
		return body, nil
	}
}

// SearchTerm returns the <term> of a /busca/<term> URL, or "".
func SearchTerm(pageURL string) string {
	u, err := url.Parse(strings.TrimSpace(pageURL))
	if err != nil {
		return ""
	}
	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(segments) > 1 && strings.EqualFold(segments[0], "busca") {
		return segments[1]
	}
	return ""
}

// brl renders a decimal in Brazilian notation so it round-trips through
// scraper.ParsePrice.
func brl(d decimal.Decimal) string {
	return "R$ " + strings.Replace(d.StringFixed(2), ".", ",", 1)
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

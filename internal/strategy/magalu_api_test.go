package strategy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-offer-scraper/internal/progress"
)

const magaluPayload = `{
  "data": [
    {"title": "Geladeira Frost Free", "url": "/geladeira-frost-free/p/123/", "price": 1299.9, "brand": "Brastemp"},
    {"title": "Brinde", "url": "/brinde/p/1/", "price": 0},
    {"title": "", "url": "/sem-titulo/p/2/", "price": 10}
  ]
}`

type magaluServer struct {
	*httptest.Server
	hits atomic.Int32
	path atomic.Value
	now  time.Time
}

func newMagaluServer(t *testing.T) *magaluServer {
	t.Helper()
	s := &magaluServer{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.path.Store(r.URL.Path)
		if r.URL.Path != "/busca/api/v2/geladeira/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(magaluPayload))
	}))
	t.Cleanup(s.Close)
	return s
}

func TestMagaluAPIExtract(t *testing.T) {
	t.Parallel()

	srv := newMagaluServer(t)
	api := NewMagaluAPI(MagaluAPIConfig{BaseURL: srv.URL + "/busca/api/v2", Timeout: 2 * time.Second})
	log := &recordingLog{}

	items := api.Extract(context.Background(), "https://www.magazineluiza.com.br/busca/geladeira/", log)

	require.Len(t, items, 1)
	require.Equal(t, "/busca/api/v2/geladeira/", srv.path.Load())
	item := items[0]
	require.Equal(t, "Geladeira Frost Free", item.Title)
	require.Equal(t, "R$ 1299,90", item.PriceText)
	require.Equal(t, "https://www.magazineluiza.com.br/geladeira-frost-free/p/123/", item.Link)
	require.Equal(t, "Magalu (API)", item.Store)
	require.Equal(t, "Brastemp", item.Category)
	require.Equal(t, 1, log.count(progress.LevelSuccess))
}

func TestMagaluAPISkipsNonSearchURLs(t *testing.T) {
	t.Parallel()

	srv := newMagaluServer(t)
	api := NewMagaluAPI(MagaluAPIConfig{BaseURL: srv.URL + "/busca/api/v2/"})

	items := api.Extract(context.Background(), "https://www.magazineluiza.com.br/geladeira/p/123/", nil)

	require.Empty(t, items)
	require.Zero(t, srv.hits.Load())
}

func TestMagaluAPIHTTPErrorIsReported(t *testing.T) {
	t.Parallel()

	srv := newMagaluServer(t)
	api := NewMagaluAPI(MagaluAPIConfig{BaseURL: srv.URL + "/busca/api/v2/"})
	log := &recordingLog{}

	items := api.Extract(context.Background(), "https://www.magazineluiza.com.br/busca/fogao", log)

	require.Empty(t, items)
	require.Equal(t, 1, log.count(progress.LevelError))
}

func TestSearchTerm(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"https://www.magazineluiza.com.br/busca/geladeira/": "geladeira",
		"https://www.magazineluiza.com.br/BUSCA/tv%2055":    "tv 55",
		"https://www.magazineluiza.com.br/busca/":           "",
		"https://www.magazineluiza.com.br/geladeira/p/123/": "",
	}
	for in, want := range tests {
		require.Equal(t, want, SearchTerm(in), in)
	}
	require.Empty(t, SearchTerm("::not a url"))
}

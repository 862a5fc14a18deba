package scraper

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var foundAt = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

func TestNormalizeDedupKeepsFirst(t *testing.T) {
	t.Parallel()

	items := []RawItem{
		{Title: "Mouse X", PriceText: "99,90", Link: "https://shop.example/a", Store: "Shop"},
		{Title: "  mouse   x ", PriceText: "R$ 99,90", Link: "https://shop.example/b", Store: "Shop"},
		{Title: "Mouse X", PriceText: "89,90", Link: "https://shop.example/c", Store: "Shop"},
	}
	records := Normalize(items, "", foundAt)

	require.Len(t, records, 2)
	require.Equal(t, "https://shop.example/a", records[0].URL)
	require.True(t, records[0].Price.Equal(decimal.RequireFromString("99.90")))
	require.Equal(t, "https://shop.example/c", records[1].URL)
	require.Equal(t, foundAt, records[0].FoundAt)
}

func TestNormalizeDropsInvalidItems(t *testing.T) {
	t.Parallel()

	items := []RawItem{
		{Title: "", PriceText: "10,00", Link: "https://s/a"},
		{Title: "Sem título", PriceText: "10,00", Link: "https://s/b"},
		{Title: "No Title", PriceText: "10,00", Link: "https://s/c"},
		{Title: "Free", PriceText: "0", Link: "https://s/d"},
		{Title: "Negative", PriceText: "-3,00", Link: "https://s/e"},
		{Title: "Unparsable", PriceText: "consulte", Link: "https://s/f"},
		{Title: "No link", PriceText: "10,00", Link: ""},
		{Title: "Bad scheme", PriceText: "10,00", Link: "javascript:void(0)"},
		{Title: "Relative without base", PriceText: "10,00", Link: "/p/1"},
		{Title: "Keeper", PriceText: "10,00", Link: "https://s/g"},
	}
	records := Normalize(items, "", foundAt)

	require.Len(t, records, 1)
	require.Equal(t, "Keeper", records[0].Title)
}

func TestNormalizeResolvesRelativeLinks(t *testing.T) {
	t.Parallel()

	items := []RawItem{
		{Title: "Teclado", PriceText: "150,00", Link: "/produto/123", OldPrice: "R$ 200,00", Discount: " 25% "},
	}
	records := Normalize(items, "https://www.kabum.com.br", foundAt)

	require.Len(t, records, 1)
	require.Equal(t, "https://www.kabum.com.br/produto/123", records[0].URL)
	require.NotNil(t, records[0].OldPrice)
	require.Equal(t, "200", records[0].OldPrice.String())
	require.Equal(t, "25%", records[0].Discount)
}

func TestNormalizeEmptyInput(t *testing.T) {
	t.Parallel()

	records := Normalize(nil, "", foundAt)
	require.NotNil(t, records)
	require.Empty(t, records)
}

func TestRecordWireFormat(t *testing.T) {
	t.Parallel()

	old := decimal.RequireFromString("120.00")
	rec := Record{
		Title:    "Mouse X",
		Price:    decimal.RequireFromString("99.90"),
		URL:      "https://shop.example/a",
		Store:    "Shop",
		Category: "Geral",
		OldPrice: &old,
		FoundAt:  foundAt,
	}
	data, err := json.Marshal([]Record{rec})
	require.NoError(t, err)
	require.JSONEq(t, `[{
		"Title": "Mouse X",
		"Url": "https://shop.example/a",
		"Store": "Shop",
		"Category": "Geral",
		"Price": 99.9,
		"OldPrice": 120,
		"FoundAt": "2024-06-01T10:00:00Z"
	}]`, string(data))

	var decoded []Record
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 1)
	require.True(t, decoded[0].Price.Equal(rec.Price))
	require.True(t, decoded[0].OldPrice.Equal(old))
}

func TestResolveLinkAndStore(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://loja.example.com/item/1", ResolveLink("https://loja.example.com/busca?q=x", "/item/1"))
	require.Equal(t, "https://loja.example.com/busca/item", ResolveLink("https://loja.example.com/busca/", "item"))
	require.Equal(t, "https://cdn.example/x", ResolveLink("https://a.example", "//cdn.example/x"))
	require.Equal(t, "", ResolveLink("not a url", "/x"))
	require.Equal(t, "", ResolveLink("https://a.example", "mailto:x@y"))

	require.Equal(t, "loja.example.com", StoreFromURL("https://www.Loja.Example.com/p"))
	require.Equal(t, UnknownStore, StoreFromURL("::::"))
	require.Equal(t, UnknownStore, StoreFromURL(""))
}

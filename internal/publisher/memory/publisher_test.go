package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-offer-scraper/internal/scraper"
)

func TestPublisherStoresMessages(t *testing.T) {
	t.Parallel()

	pub := New()
	rec := scraper.Record{Title: "SSD", Price: decimal.RequireFromString("300"), URL: "https://s/a"}
	require.NoError(t, pub.Publish(context.Background(), "req-a", []scraper.Record{rec}))
	require.NoError(t, pub.Publish(context.Background(), "req-b", nil))

	msgs := pub.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "req-a", msgs[0].RequestID)
	require.Len(t, msgs[0].Records, 1)
	require.Equal(t, "[]", string(msgs[1].Body))

	msgs[0].RequestID = "modified"
	require.Equal(t, "req-a", pub.Messages()[0].RequestID)
}

func TestPublisherFailWith(t *testing.T) {
	t.Parallel()

	pub := New()
	boom := errors.New("exchange unavailable")
	pub.FailWith(boom)
	require.ErrorIs(t, pub.Publish(context.Background(), "req", nil), boom)
	require.Empty(t, pub.Messages())

	pub.FailWith(nil)
	require.NoError(t, pub.Publish(context.Background(), "req", nil))
	require.NoError(t, pub.Close())
}

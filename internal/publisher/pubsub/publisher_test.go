package pubsub

import (
	"context"
	"encoding/json"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/realtime-offer-scraper/internal/scraper"
)

func TestPublisherPublishesBatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	srv := pstest.NewServer()
	defer func() { _ = srv.Close() }()

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()

	client, err := pubsub.NewClient(ctx, "project-id", option.WithGRPCConn(conn))
	require.NoError(t, err)
	defer func() { _ = client.Close() }()

	topic, err := client.CreateTopic(ctx, "offers")
	require.NoError(t, err)
	pub := New(topic)
	defer func() { require.NoError(t, pub.Close()) }()

	records := []scraper.Record{{
		Title:    "Notebook",
		Price:    decimal.RequireFromString("3499.00"),
		URL:      "https://www.magazineluiza.com.br/notebook/p/1",
		Store:    "Magalu",
		Category: "Dell",
	}}
	require.NoError(t, pub.Publish(ctx, "req-ps", records))

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "req-ps", msgs[0].Attributes["RequestId"])
	var decoded []scraper.Record
	require.NoError(t, json.Unmarshal(msgs[0].Data, &decoded))
	require.Len(t, decoded, 1)
	require.Equal(t, "Notebook", decoded[0].Title)
	require.True(t, decoded[0].Price.Equal(decimal.RequireFromString("3499")))
}

func TestPublisherWithoutTopic(t *testing.T) {
	t.Parallel()

	require.ErrorContains(t, New(nil).Publish(context.Background(), "r", nil), "not configured")
}

func TestPubsubCarrierRoundTrip(t *testing.T) {
	t.Parallel()

	attrs := map[string]string{}
	var carrier propagation.TextMapCarrier = &pubsubCarrier{attrs: attrs}
	carrier.Set("traceparent", "00-abc-def-01")
	require.Equal(t, "00-abc-def-01", carrier.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, carrier.Keys())
}

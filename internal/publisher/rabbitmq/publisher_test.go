package rabbitmq

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-offer-scraper/internal/scraper"
)

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	return m.Called(name, kind, durable, autoDelete, internal, noWait, args).Error(0)
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(ctx, exchange, key, mandatory, immediate, msg).Error(0)
}

func (m *mockChannel) Close() error {
	return m.Called().Error(0)
}

func TestPublisherDeclaresDurableFanout(t *testing.T) {
	t.Parallel()

	ch := &mockChannel{}
	ch.On("ExchangeDeclare", "offers_exchange", "fanout", true, false, false, false, amqp.Table(nil)).Return(nil)

	_, err := New(ch, "")
	require.NoError(t, err)
	ch.AssertExpectations(t)
}

func TestPublisherSendsPersistentJSON(t *testing.T) {
	t.Parallel()

	ch := &mockChannel{}
	ch.On("ExchangeDeclare", "offers", "fanout", true, false, false, false, amqp.Table(nil)).Return(nil)
	var sent amqp.Publishing
	ch.On("PublishWithContext", mock.Anything, "offers", "", false, false, mock.Anything).
		Run(func(args mock.Arguments) { sent = args.Get(5).(amqp.Publishing) }).
		Return(nil)

	pub, err := New(ch, "offers")
	require.NoError(t, err)

	records := []scraper.Record{{
		Title:    "Mouse X",
		Price:    decimal.RequireFromString("99.90"),
		URL:      "https://shop.example/a",
		Store:    "shop.example",
		Category: "Geral",
	}}
	require.NoError(t, pub.Publish(context.Background(), "req-1", records))

	require.Equal(t, amqp.Persistent, sent.DeliveryMode)
	require.Equal(t, "application/json", sent.ContentType)
	require.Equal(t, "req-1", sent.Headers["RequestId"])
	require.JSONEq(t, `[{"Title":"Mouse X","Url":"https://shop.example/a","Store":"shop.example","Category":"Geral","Price":99.9}]`, string(sent.Body))
	ch.AssertExpectations(t)
}

func TestPublisherEmptyBatch(t *testing.T) {
	t.Parallel()

	ch := &mockChannel{}
	ch.On("ExchangeDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	var body string
	ch.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { body = string(args.Get(5).(amqp.Publishing).Body) }).
		Return(nil)

	pub, err := New(ch, "")
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), "req-empty", nil))
	require.Equal(t, "[]", body)
}

func TestPublisherErrors(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "")
	require.Error(t, err)

	declareFail := &mockChannel{}
	declareFail.On("ExchangeDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("ACCESS_REFUSED"))
	_, err = New(declareFail, "")
	require.ErrorContains(t, err, "declare exchange offers_exchange")

	ch := &mockChannel{}
	ch.On("ExchangeDeclare", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	ch.On("PublishWithContext", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(amqp.ErrClosed)
	ch.On("Close").Return(amqp.ErrClosed)
	pub, err := New(ch, "")
	require.NoError(t, err)
	require.ErrorIs(t, pub.Publish(context.Background(), "req", nil), amqp.ErrClosed)
	require.NoError(t, pub.Close())
}

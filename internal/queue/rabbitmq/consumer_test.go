package rabbitmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-offer-scraper/internal/queue"
)

type fakeChannel struct {
	mu         sync.Mutex
	declared   []string
	args       amqp.Table
	durable    bool
	prefetch   int
	autoAck    bool
	deliveries chan amqp.Delivery
	cancelled  bool
	closed     bool
	declareErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 8)}
}

func (f *fakeChannel) Qos(prefetchCount, _ int, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prefetch = prefetchCount
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, _, _, _ bool, args amqp.Table) (amqp.Queue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.declareErr != nil {
		return amqp.Queue{}, f.declareErr
	}
	f.declared = append(f.declared, name)
	f.durable = durable
	f.args = args
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) Consume(_, _ string, autoAck, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.autoAck = autoAck
	return f.deliveries, nil
}

func (f *fakeChannel) Cancel(string, bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = true
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeAcknowledger struct {
	mu       sync.Mutex
	acks     []uint64
	rejects  []uint64
	requeued bool
}

func (a *fakeAcknowledger) Ack(tag uint64, _ bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks = append(a.acks, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, _ bool, requeue bool) error {
	return a.Reject(tag, requeue)
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejects = append(a.rejects, tag)
	a.requeued = a.requeued || requeue
	return nil
}

func receive(t *testing.T, ch <-chan *queue.Delivery) *queue.Delivery {
	t.Helper()
	select {
	case d, ok := <-ch:
		require.True(t, ok)
		return d
	case <-time.After(time.Second):
		t.Fatal("no delivery")
		return nil
	}
}

func TestConsumerDeclaresDurableQueueAndAcks(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	acker := &fakeAcknowledger{}
	consumer, err := NewConsumer(ch, Config{Prefetch: 4}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out, err := consumer.Consume(ctx)
	require.NoError(t, err)

	ch.deliveries <- amqp.Delivery{
		Acknowledger: acker,
		DeliveryTag:  7,
		Body:         []byte(`{"Url":"https://www.amazon.com.br/s?k=ssd"}`),
		Headers:      amqp.Table{"RequestId": "req-7", "Attempt": int32(2)},
	}
	d := receive(t, out)
	require.Equal(t, "req-7", d.Header("RequestId"))
	require.Equal(t, "2", d.Header("Attempt"))
	require.NoError(t, d.Ack())
	require.ErrorIs(t, d.Reject(), queue.ErrAlreadySettled)

	ch.mu.Lock()
	require.Equal(t, []string{DefaultQueue}, ch.declared)
	require.True(t, ch.durable)
	require.Nil(t, ch.args)
	require.Equal(t, 4, ch.prefetch)
	require.False(t, ch.autoAck)
	ch.mu.Unlock()

	acker.mu.Lock()
	require.Equal(t, []uint64{7}, acker.acks)
	require.Empty(t, acker.rejects)
	acker.mu.Unlock()

	cancel()
	require.Eventually(t, func() bool {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		return ch.cancelled
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, consumer.Close())
}

func TestConsumerRejectDeadLetters(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	acker := &fakeAcknowledger{}
	consumer, err := NewConsumer(ch, Config{Queue: "jobs", DeadLetterExchange: "jobs.dlx"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out, err := consumer.Consume(ctx)
	require.NoError(t, err)

	ch.deliveries <- amqp.Delivery{Acknowledger: acker, DeliveryTag: 3, Body: []byte("not a url")}
	d := receive(t, out)
	require.NoError(t, d.Reject())

	ch.mu.Lock()
	require.Equal(t, amqp.Table{"x-dead-letter-exchange": "jobs.dlx"}, ch.args)
	ch.mu.Unlock()
	acker.mu.Lock()
	require.Equal(t, []uint64{3}, acker.rejects)
	require.False(t, acker.requeued)
	acker.mu.Unlock()
}

func TestConsumerClosesOutputWhenSourceCloses(t *testing.T) {
	t.Parallel()

	ch := newFakeChannel()
	consumer, err := NewConsumer(ch, Config{}, nil)
	require.NoError(t, err)
	out, err := consumer.Consume(context.Background())
	require.NoError(t, err)

	close(ch.deliveries)
	select {
	case _, ok := <-out:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("output not closed")
	}
}

func TestConsumerSetupErrors(t *testing.T) {
	t.Parallel()

	_, err := NewConsumer(nil, Config{}, nil)
	require.Error(t, err)

	ch := newFakeChannel()
	ch.declareErr = errors.New("PRECONDITION_FAILED")
	consumer, err := NewConsumer(ch, Config{}, nil)
	require.NoError(t, err)
	_, err = consumer.Consume(context.Background())
	require.ErrorContains(t, err, "declare queue scrape_requests")
}

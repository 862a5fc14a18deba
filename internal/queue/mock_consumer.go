package queue

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockConsumer is a mock implementation of the Consumer interface for testing.
type MockConsumer struct {
	mock.Mock
}

// Consume is the mock implementation of the Consume method.
func (m *MockConsumer) Consume(ctx context.Context) (<-chan *Delivery, error) {
	args := m.Called(ctx)
	ch, _ := args.Get(0).(<-chan *Delivery)
	return ch, args.Error(1)
}

// Close is the mock implementation of the Close method.
func (m *MockConsumer) Close() error {
	args := m.Called()
	return args.Error(0)
}

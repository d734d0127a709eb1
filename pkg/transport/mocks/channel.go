package mocks

import (
	"context"

	"github.com/absmach/fedmob/pkg/protocol"
	"github.com/absmach/fedmob/pkg/transport"
	"github.com/stretchr/testify/mock"
)

var _ transport.Channel = (*MockChannel)(nil)

// MockChannel is a mock implementation of the transport.Channel interface.
type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) Connect(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockChannel) Send(ctx context.Context, msg protocol.Message) error {
	args := m.Called(ctx, msg)

	return args.Error(0)
}

func (m *MockChannel) SendDirect(ctx context.Context, msg protocol.Message) error {
	args := m.Called(ctx, msg)

	return args.Error(0)
}

func (m *MockChannel) HandshakeComplete() {
	m.Called()
}

func (m *MockChannel) Messages() <-chan protocol.Message {
	args := m.Called()

	return args.Get(0).(<-chan protocol.Message)
}

func (m *MockChannel) Events() <-chan transport.Event {
	args := m.Called()

	return args.Get(0).(<-chan transport.Event)
}

func (m *MockChannel) Pending() int {
	args := m.Called()

	return args.Int(0)
}

func (m *MockChannel) Disconnect(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

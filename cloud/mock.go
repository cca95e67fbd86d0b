package cloud

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"
)

type MockRequester struct {
	mock.Mock
}

func (m *MockRequester) Devices(ctx context.Context) ([]Description, error) {
	args := m.Called(ctx)
	return args.Get(0).([]Description), args.Error(1)
}

func (m *MockRequester) Status(ctx context.Context, deviceID string) (json.RawMessage, error) {
	args := m.Called(ctx, deviceID)
	return args.Get(0).(json.RawMessage), args.Error(1)
}

func (m *MockRequester) SendCommand(ctx context.Context, deviceID string, cmd Command) error {
	args := m.Called(ctx, deviceID, cmd)
	return args.Error(0)
}

var _ Requester = (*MockRequester)(nil)

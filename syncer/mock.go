package syncer

import (
	"context"

	"github.com/shimmeringbee/cda/cloud"
	"github.com/shimmeringbee/da"
	"github.com/shimmeringbee/persistence"
	"github.com/stretchr/testify/mock"
)

type MockSyncer struct {
	mock.Mock
}

func (m *MockSyncer) Init(s persistence.Section, d da.Device, c Config) {
	m.Called(s, d, c)
}

func (m *MockSyncer) Load(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockSyncer) Attach(ctx context.Context, settings Settings) error {
	return m.Called(ctx, settings).Error(0)
}

func (m *MockSyncer) Detach(ctx context.Context, unconfigure bool) error {
	return m.Called(ctx, unconfigure).Error(0)
}

func (m *MockSyncer) SetTarget(changes map[string]any) {
	m.Called(changes)
}

func (m *MockSyncer) Target() Target {
	return m.Called().Get(0).(Target)
}

func (m *MockSyncer) LastState() State {
	return m.Called().Get(0).(State)
}

func (m *MockSyncer) Refresh() {
	m.Called()
}

func (m *MockSyncer) Send(ctx context.Context, cmd cloud.Command) error {
	return m.Called(ctx, cmd).Error(0)
}

var _ Syncer = (*MockSyncer)(nil)

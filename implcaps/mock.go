package implcaps

import (
	"context"
	"github.com/shimmeringbee/cda/syncer"
	"github.com/shimmeringbee/da"
	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/persistence"
	"github.com/stretchr/testify/mock"
)

type MockCDAInterface struct {
	mock.Mock
}

func (m *MockCDAInterface) NewSyncer() syncer.Syncer {
	return m.Called().Get(0).(syncer.Syncer)
}

func (m *MockCDAInterface) SendEvent(a any) {
	m.Called(a)
}

func (m *MockCDAInterface) Logger() logwrap.Logger {
	return m.Called().Get(0).(logwrap.Logger)
}

var _ CDAInterface = (*MockCDAInterface)(nil)

type MockCapability struct {
	mock.Mock
}

func (m *MockCapability) Capability() da.Capability {
	return m.Called().Get(0).(da.Capability)
}

func (m *MockCapability) Name() string {
	return m.Called().String(0)
}

func (m *MockCapability) Init(d da.Device, s persistence.Section) {
	m.Called(d, s)
}

func (m *MockCapability) Load(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

func (m *MockCapability) Enumerate(ctx context.Context, s map[string]any) (bool, error) {
	args := m.Called(ctx, s)
	return args.Bool(0), args.Error(1)
}

func (m *MockCapability) Detach(ctx context.Context, t DetachType) error {
	return m.Called(ctx, t).Error(0)
}

func (m *MockCapability) ImplName() string {
	return m.Called().String(0)
}

var _ CDACapability = (*MockCapability)(nil)

package meter

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	cdacaps "github.com/shimmeringbee/cda/capabilities"
	"github.com/shimmeringbee/cda/cloud"
	"github.com/shimmeringbee/cda/implcaps"
	"github.com/shimmeringbee/cda/syncer"
	"github.com/shimmeringbee/da"
	"github.com/shimmeringbee/da/capabilities"
	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/logwrap/impl/discard"
	"github.com/shimmeringbee/persistence/impl/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type testIdentifier string

func (t testIdentifier) String() string {
	return string(t)
}

type testDevice struct {
	id testIdentifier
}

func (t testDevice) Gateway() da.Gateway                         { return nil }
func (t testDevice) Identifier() da.Identifier                   { return t.id }
func (t testDevice) Capabilities() []da.Capability               { return nil }
func (t testDevice) Capability(da.Capability) da.BasicCapability { return nil }

func newMeter(id string, mr cloud.Requester) (*Implementation, *implcaps.MockCDAInterface, da.Device) {
	ci := &implcaps.MockCDAInterface{}
	ci.On("NewSyncer").Return(syncer.NewEngine(mr, logwrap.New(discard.Discard()))).Once()

	d := testDevice{id: testIdentifier(id)}

	i := NewMeter(ci)
	i.Init(d, memory.New())

	return i, ci, d
}

func TestMeter(t *testing.T) {
	t.Run("has basic capability functions", func(t *testing.T) {
		i := NewMeter(nil)

		assert.Equal(t, capabilities.TemperatureSensorFlag, i.Capability())
		assert.Equal(t, capabilities.StandardNames[capabilities.TemperatureSensorFlag], i.Name())
		assert.Equal(t, "CloudMeter", i.ImplName())

		caps := i.Capabilities()
		assert.Contains(t, caps, capabilities.TemperatureSensorFlag)
		assert.Contains(t, caps, capabilities.RelativeHumiditySensorFlag)
	})

	t.Run("poll surfaces both readings, commands are never sent", func(t *testing.T) {
		mr := &cloud.MockRequester{}
		mr.On("Status", mock.Anything, "M1").Return(json.RawMessage(`{"temperature":21.5,"humidity":43}`), nil)

		i, ci, d := newMeter("M1", mr)

		seen := make(chan struct{}, 1)
		ci.On("SendEvent", mock.Anything).Run(func(args mock.Arguments) {
			if _, ok := args.Get(0).(capabilities.RelativeHumiditySensorState); ok {
				select {
				case seen <- struct{}{}:
				default:
				}
			}
		})

		attached, err := i.Enumerate(context.Background(), map[string]any{
			implcaps.PollIntervalKey: 3600000,
		})
		require.True(t, attached)
		require.NoError(t, err)
		defer i.Detach(context.Background(), implcaps.DeviceRemoved)

		select {
		case <-seen:
		case <-time.After(time.Second):
			t.Fatal("no humidity event")
		}

		ci.AssertCalled(t, "SendEvent", capabilities.TemperatureSensorState{Device: d, State: []capabilities.TemperatureReading{{Value: 21.5 + 273.15}}})

		temp, err := i.Reading(context.Background())
		assert.NoError(t, err)
		require.Len(t, temp, 1)
		assert.InDelta(t, 294.65, temp[0].Value, 0.0001)

		humidity, err := humiditySensor{i: i}.Reading(context.Background())
		assert.NoError(t, err)
		require.Len(t, humidity, 1)
		assert.InDelta(t, 0.43, humidity[0].Value, 0.0001)

		lut, err := i.LastUpdateTime(context.Background())
		assert.NoError(t, err)
		assert.False(t, lut.IsZero())

		mr.AssertNotCalled(t, "SendCommand", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("failed poll surfaces a failure and keeps the last reading", func(t *testing.T) {
		mr := &cloud.MockRequester{}
		mr.On("Status", mock.Anything, "M2").Return(json.RawMessage(`{"temperature":20}`), nil).Once()
		mr.On("Status", mock.Anything, "M2").Return(json.RawMessage(nil), errors.New("cloud gone"))

		i, ci, _ := newMeter("M2", mr)

		failed := make(chan struct{}, 1)
		ci.On("SendEvent", mock.Anything).Run(func(args mock.Arguments) {
			if _, ok := args.Get(0).(cdacaps.UpdateFailure); ok {
				select {
				case failed <- struct{}{}:
				default:
				}
			}
		})

		attached, err := i.Enumerate(context.Background(), map[string]any{
			implcaps.PollIntervalKey: 3600000,
		})
		require.True(t, attached)
		require.NoError(t, err)
		defer i.Detach(context.Background(), implcaps.DeviceRemoved)

		// First poll lands, force a second which fails.
		time.Sleep(100 * time.Millisecond)
		i.sy.Refresh()

		select {
		case <-failed:
		case <-time.After(time.Second):
			t.Fatal("no failure surfaced")
		}

		temp, err := i.Reading(context.Background())
		assert.NoError(t, err)
		require.Len(t, temp, 1)
		assert.InDelta(t, 293.15, temp[0].Value, 0.0001)
	})
}

func Test_parseStatus(t *testing.T) {
	t.Run("accepts either reading alone", func(t *testing.T) {
		s, err := parseStatus(json.RawMessage(`{"temperature":18}`))
		require.NoError(t, err)
		assert.Contains(t, s, "temperature")
		assert.NotContains(t, s, "humidity")

		s, err = parseStatus(json.RawMessage(`{"humidity":60}`))
		require.NoError(t, err)
		assert.Contains(t, s, "humidity")
	})

	t.Run("rejects payloads with no readings at all", func(t *testing.T) {
		_, err := parseStatus(json.RawMessage(`{"power":"on"}`))
		assert.Error(t, err)
	})

	t.Run("rejects malformed payloads", func(t *testing.T) {
		_, err := parseStatus(json.RawMessage(`{]`))
		assert.Error(t, err)
	})
}

package cda

import (
	"context"
	"testing"
	"time"

	"github.com/shimmeringbee/da"
	"github.com/shimmeringbee/da/capabilities"
	"github.com/shimmeringbee/persistence/impl/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/shimmeringbee/cda/cloud"
	"github.com/shimmeringbee/cda/implcaps"
)

func drainEvents(c *CDA) []any {
	var events []any

	for {
		select {
		case e := <-c.events:
			events = append(events, e)
		default:
			return events
		}
	}
}

// mutableMultiCapability surfaces whatever flags its map holds at the time of
// asking, re-enumeration tests mutate it between calls.
type mutableMultiCapability struct {
	implcaps.MockCapability
	flags map[da.Capability]da.BasicCapability
}

func (m *mutableMultiCapability) Capabilities() map[da.Capability]da.BasicCapability {
	return m.flags
}

var _ implcaps.MultiCapability = (*mutableMultiCapability)(nil)

func TestCDA_Table(t *testing.T) {
	t.Run("createDevice is idempotent and announces new devices", func(t *testing.T) {
		c := New(context.Background(), memory.New(), &cloud.MockRequester{})

		d1, created := c.createDevice("one")
		assert.True(t, created)
		require.NotNil(t, d1)

		d2, created := c.createDevice("one")
		assert.False(t, created)
		assert.Same(t, d1, d2)

		events := drainEvents(c)
		require.Len(t, events, 1)
		assert.Equal(t, da.DeviceAdded{Device: d1}, events[0])
	})

	t.Run("attaching and detaching a capability updates the device and announces", func(t *testing.T) {
		c := New(context.Background(), memory.New(), &cloud.MockRequester{})

		d, _ := c.createDevice("one")
		drainEvents(c)

		mc := &implcaps.MockCapability{}
		mc.On("ImplName").Return("MockImplementation")
		mc.On("Capability").Return(capabilities.OnOffFlag)

		c.attachCapabilityToDevice(d, mc)

		assert.True(t, d.HasCapability(capabilities.OnOffFlag))
		assert.NotNil(t, d.Capability(capabilities.OnOffFlag))

		events := drainEvents(c)
		require.Len(t, events, 1)
		assert.Equal(t, da.CapabilityAdded{Device: d, Capability: capabilities.OnOffFlag}, events[0])

		c.detachCapabilityFromDevice(d, mc)

		assert.False(t, d.HasCapability(capabilities.OnOffFlag))
		assert.Nil(t, d.Capability(capabilities.OnOffFlag))

		events = drainEvents(c)
		require.Len(t, events, 1)
		assert.Equal(t, da.CapabilityRemoved{Device: d, Capability: capabilities.OnOffFlag}, events[0])
	})

	t.Run("updating an attached multi capability reshapes the device's exposed flags", func(t *testing.T) {
		c := New(context.Background(), memory.New(), &cloud.MockRequester{})

		d, _ := c.createDevice("one")
		drainEvents(c)

		mc := &mutableMultiCapability{}
		mc.On("ImplName").Return("MockImplementation")
		mc.flags = map[da.Capability]da.BasicCapability{
			capabilities.TemperatureSensorFlag:      mc,
			capabilities.RelativeHumiditySensorFlag: mc,
		}

		c.attachCapabilityToDevice(d, mc)
		drainEvents(c)

		require.True(t, d.HasCapability(capabilities.TemperatureSensorFlag))
		require.True(t, d.HasCapability(capabilities.RelativeHumiditySensorFlag))

		delete(mc.flags, capabilities.TemperatureSensorFlag)
		c.updateCapabilityOnDevice(d, mc)

		assert.False(t, d.HasCapability(capabilities.TemperatureSensorFlag))
		assert.True(t, d.HasCapability(capabilities.RelativeHumiditySensorFlag))

		events := drainEvents(c)
		require.Len(t, events, 1)
		assert.Equal(t, da.CapabilityRemoved{Device: d, Capability: capabilities.TemperatureSensorFlag}, events[0])

		mc.flags[capabilities.TemperatureSensorFlag] = mc
		c.updateCapabilityOnDevice(d, mc)

		assert.True(t, d.HasCapability(capabilities.TemperatureSensorFlag))

		events = drainEvents(c)
		require.Len(t, events, 1)
		assert.Equal(t, da.CapabilityAdded{Device: d, Capability: capabilities.TemperatureSensorFlag}, events[0])
	})

	t.Run("removeDevice detaches every implementation and deletes its state", func(t *testing.T) {
		c := New(context.Background(), memory.New(), &cloud.MockRequester{})

		d, _ := c.createDevice("one")
		c.sectionForDevice("one").Section("capability", "MockImplementation").Set("implementation", "MockImplementation")

		mc := &implcaps.MockCapability{}
		mc.On("ImplName").Return("MockImplementation")
		mc.On("Capability").Return(capabilities.OnOffFlag)
		mc.On("Detach", mock.Anything, implcaps.DeviceRemoved).Return(nil).Once()

		c.attachCapabilityToDevice(d, mc)
		drainEvents(c)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		assert.True(t, c.removeDevice(ctx, "one"))
		assert.Nil(t, c.getDevice("one"))
		assert.NotContains(t, c.section.Section("device").SectionKeys(), "one")

		mc.AssertExpectations(t)

		events := drainEvents(c)
		require.Len(t, events, 2)
		assert.Equal(t, da.CapabilityRemoved{Device: d, Capability: capabilities.OnOffFlag}, events[0])
		assert.Equal(t, da.DeviceRemoved{Device: d}, events[1])
	})

	t.Run("removing an unknown device reports false", func(t *testing.T) {
		c := New(context.Background(), memory.New(), &cloud.MockRequester{})

		assert.False(t, c.removeDevice(context.Background(), "unknown"))
	})
}

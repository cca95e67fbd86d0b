// Package meter exposes passive environment sensors, meters and sensor hubs.
// The device has no write path at all, the engine runs with no mapper and
// only ever polls.
package meter

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	cdacaps "github.com/shimmeringbee/cda/capabilities"
	"github.com/shimmeringbee/cda/implcaps"
	"github.com/shimmeringbee/cda/syncer"
	"github.com/shimmeringbee/da"
	"github.com/shimmeringbee/da/capabilities"
	"github.com/shimmeringbee/persistence"
	"github.com/shimmeringbee/persistence/converter"
)

var _ capabilities.TemperatureSensor = (*Implementation)(nil)
var _ capabilities.WithLastChangeTime = (*Implementation)(nil)
var _ capabilities.WithLastUpdateTime = (*Implementation)(nil)
var _ implcaps.CDACapability = (*Implementation)(nil)
var _ implcaps.MultiCapability = (*Implementation)(nil)
var _ capabilities.RelativeHumiditySensor = humiditySensor{}

func NewMeter(ci implcaps.CDAInterface) *Implementation {
	return &Implementation{ci: ci}
}

type Implementation struct {
	s  persistence.Section
	d  da.Device
	sy syncer.Syncer
	ci implcaps.CDAInterface
}

func (i *Implementation) Capability() da.Capability {
	return capabilities.TemperatureSensorFlag
}

func (i *Implementation) Name() string {
	return capabilities.StandardNames[capabilities.TemperatureSensorFlag]
}

func (i *Implementation) Capabilities() map[da.Capability]da.BasicCapability {
	return map[da.Capability]da.BasicCapability{
		capabilities.TemperatureSensorFlag:      i,
		capabilities.RelativeHumiditySensorFlag: humiditySensor{i: i},
	}
}

func (i *Implementation) Init(d da.Device, s persistence.Section) {
	i.d = d
	i.s = s

	i.sy = i.ci.NewSyncer()
	i.sy.Init(s.Section("Sync"), d, syncer.Config{
		Parser: parseStatus,
		Sink:   syncer.SinkFuncs{State: i.update, Error: i.updateError},
	})
}

func (i *Implementation) Load(ctx context.Context) (bool, error) {
	if err := i.sy.Load(ctx); err != nil {
		return false, err
	}

	return true, nil
}

func (i *Implementation) Enumerate(ctx context.Context, m map[string]any) (bool, error) {
	settings := syncer.Settings{
		PollInterval: implcaps.GetDuration(m, implcaps.PollIntervalKey, syncer.DefaultPollInterval),
		Debounce:     implcaps.GetDuration(m, implcaps.DebounceKey, syncer.DefaultDebounce),
	}

	if err := i.sy.Attach(ctx, settings); err != nil {
		return false, err
	}

	return true, nil
}

func (i *Implementation) Detach(ctx context.Context, detachType implcaps.DetachType) error {
	return i.sy.Detach(ctx, detachType == implcaps.NoLongerEnumerated)
}

func (i *Implementation) ImplName() string {
	return "CloudMeter"
}

func parseStatus(raw json.RawMessage) (syncer.State, error) {
	var payload struct {
		Temperature *float64 `json:"temperature"`
		Humidity    *float64 `json:"humidity"`
	}

	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("meter status: %w", err)
	}

	if payload.Temperature == nil && payload.Humidity == nil {
		return nil, fmt.Errorf("meter status: no readings present")
	}

	state := syncer.State{}

	if payload.Temperature != nil {
		state["temperature"] = *payload.Temperature
	}

	if payload.Humidity != nil {
		state["humidity"] = *payload.Humidity
	}

	return state, nil
}

func (i *Implementation) update(s syncer.State) {
	now := time.Now()

	if v, ok := s["temperature"].(float64); ok {
		i.updateReading(i.s.Section("Temperature"), v+273.15, 0.1, func(kelvin float64) any {
			return capabilities.TemperatureSensorState{Device: i.d, State: []capabilities.TemperatureReading{{Value: kelvin}}}
		}, now)
	}

	if v, ok := s["humidity"].(float64); ok {
		i.updateReading(i.s.Section("Humidity"), v/100.0, 0.01, func(ratio float64) any {
			return capabilities.RelativeHumiditySensorState{Device: i.d, State: []capabilities.RelativeHumidityReading{{Value: ratio}}}
		}, now)
	}
}

func (i *Implementation) updateReading(s persistence.Section, value float64, threshold float64, event func(float64) any, now time.Time) {
	current, _ := s.Float(implcaps.ReadingKey)

	if math.Abs(value-current) > threshold {
		s.Set(implcaps.ReadingKey, value)
		converter.Store(s, implcaps.LastChangedKey, now, converter.TimeEncoder)

		i.ci.SendEvent(event(value))
	}

	converter.Store(s, implcaps.LastUpdatedKey, now, converter.TimeEncoder)
}

func (i *Implementation) updateError(err error) {
	i.ci.SendEvent(cdacaps.UpdateFailure{Device: i.d, Failure: err})
}

func (i *Implementation) Reading(_ context.Context) ([]capabilities.TemperatureReading, error) {
	k, _ := i.s.Section("Temperature").Float(implcaps.ReadingKey)

	return []capabilities.TemperatureReading{{Value: k}}, nil
}

func (i *Implementation) LastUpdateTime(_ context.Context) (time.Time, error) {
	t, _ := converter.Retrieve(i.s.Section("Temperature"), implcaps.LastUpdatedKey, converter.TimeDecoder)
	return t, nil
}

func (i *Implementation) LastChangeTime(_ context.Context) (time.Time, error) {
	t, _ := converter.Retrieve(i.s.Section("Temperature"), implcaps.LastChangedKey, converter.TimeDecoder)
	return t, nil
}

// humiditySensor is the device's humidity reading surfaced as its own
// capability, a view over the implementation's persisted state.
type humiditySensor struct {
	i *Implementation
}

func (h humiditySensor) Capability() da.Capability {
	return capabilities.RelativeHumiditySensorFlag
}

func (h humiditySensor) Name() string {
	return capabilities.StandardNames[capabilities.RelativeHumiditySensorFlag]
}

func (h humiditySensor) Reading(_ context.Context) ([]capabilities.RelativeHumidityReading, error) {
	k, _ := h.i.s.Section("Humidity").Float(implcaps.ReadingKey)

	return []capabilities.RelativeHumidityReading{{Value: k}}, nil
}

func (h humiditySensor) LastUpdateTime(_ context.Context) (time.Time, error) {
	t, _ := converter.Retrieve(h.i.s.Section("Humidity"), implcaps.LastUpdatedKey, converter.TimeDecoder)
	return t, nil
}

func (h humiditySensor) LastChangeTime(_ context.Context) (time.Time, error) {
	t, _ := converter.Retrieve(h.i.s.Section("Humidity"), implcaps.LastChangedKey, converter.TimeDecoder)
	return t, nil
}

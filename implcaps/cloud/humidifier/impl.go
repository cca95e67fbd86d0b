// Package humidifier exposes cloud humidifiers. One device surfaces under
// several capability flags, an on off control, a humidistat, a relative
// humidity sensor and optionally a temperature sensor, all backed by a single
// synchronisation engine.
package humidifier

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	cdacaps "github.com/shimmeringbee/cda/capabilities"
	"github.com/shimmeringbee/cda/cloud"
	"github.com/shimmeringbee/cda/implcaps"
	"github.com/shimmeringbee/cda/syncer"
	"github.com/shimmeringbee/da"
	"github.com/shimmeringbee/da/capabilities"
	"github.com/shimmeringbee/persistence"
	"github.com/shimmeringbee/persistence/converter"
)

var _ capabilities.OnOff = onOff{}
var _ capabilities.RelativeHumiditySensor = (*Implementation)(nil)
var _ capabilities.TemperatureSensor = temperatureSensor{}
var _ capabilities.WithLastChangeTime = (*Implementation)(nil)
var _ capabilities.WithLastUpdateTime = (*Implementation)(nil)
var _ cdacaps.Humidistat = (*Implementation)(nil)
var _ implcaps.CDACapability = (*Implementation)(nil)
var _ implcaps.MultiCapability = (*Implementation)(nil)

const (
	ActiveKey   = "Active"
	ModeKey     = "Mode"
	TargetKey   = "TargetHumidity"
	RunningKey  = "Running"
	WaterLowKey = "WaterLow"

	StepKey                = "Step"
	SuppressTemperatureKey = "SuppressTemperature"

	modeAuto   = "auto"
	modeManual = "manual"
)

func NewHumidifier(ci implcaps.CDAInterface) *Implementation {
	return &Implementation{ci: ci, m: &sync.RWMutex{}}
}

type Implementation struct {
	s  persistence.Section
	d  da.Device
	sy syncer.Syncer
	ci implcaps.CDAInterface

	m            *sync.RWMutex
	step         int
	suppressTemp bool
}

func (i *Implementation) Capability() da.Capability {
	return cdacaps.HumidistatFlag
}

func (i *Implementation) Name() string {
	return cdacaps.Names[cdacaps.HumidistatFlag]
}

func (i *Implementation) Capabilities() map[da.Capability]da.BasicCapability {
	out := map[da.Capability]da.BasicCapability{
		cdacaps.HumidistatFlag:                  i,
		capabilities.OnOffFlag:                  onOff{i: i},
		capabilities.RelativeHumiditySensorFlag: i,
	}

	i.m.RLock()
	suppress := i.suppressTemp
	i.m.RUnlock()

	if !suppress {
		out[capabilities.TemperatureSensorFlag] = temperatureSensor{i: i}
	}

	return out
}

func (i *Implementation) Init(d da.Device, s persistence.Section) {
	i.d = d
	i.s = s

	i.sy = i.ci.NewSyncer()
	i.sy.Init(s.Section("Sync"), d, syncer.Config{
		Parser: parseStatus,
		Mapper: i.formCommand,
		Sink:   syncer.SinkFuncs{State: i.update, Error: i.updateError},
	})
}

func (i *Implementation) Load(ctx context.Context) (bool, error) {
	step, _ := i.s.Int(StepKey)
	suppress, _ := i.s.Bool(SuppressTemperatureKey)

	i.m.Lock()
	i.step = int(step)
	i.suppressTemp = suppress
	i.m.Unlock()

	if err := i.sy.Load(ctx); err != nil {
		return false, err
	}

	return true, nil
}

func (i *Implementation) Enumerate(ctx context.Context, m map[string]any) (bool, error) {
	step := implcaps.Get(m, StepKey, 1)
	if step < 1 {
		return false, fmt.Errorf("humidifier step must be at least 1: %d", step)
	}

	suppress := implcaps.Get(m, SuppressTemperatureKey, false)

	i.m.Lock()
	i.step = step
	i.suppressTemp = suppress
	i.m.Unlock()

	i.s.Set(StepKey, step)
	i.s.Set(SuppressTemperatureKey, suppress)

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
	return "CloudHumidifier"
}

func parseStatus(raw json.RawMessage) (syncer.State, error) {
	var payload struct {
		Power       string   `json:"power"`
		Auto        bool     `json:"auto"`
		Efficiency  *float64 `json:"nebulizationEfficiency"`
		Humidity    *float64 `json:"humidity"`
		Temperature *float64 `json:"temperature"`
		LackWater   bool     `json:"lackWater"`
	}

	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("humidifier status: %w", err)
	}

	switch payload.Power {
	case "on", "off":
	default:
		return nil, fmt.Errorf("humidifier status: unrecognised power %q", payload.Power)
	}

	active := payload.Power == "on"

	target := 50.0
	if payload.Efficiency != nil {
		target = *payload.Efficiency
	}
	// Some firmware reports efficiency above the percentage scale, it reads
	// as full output. Values below zero are unheard of and left alone.
	if target > 100 {
		target = 100
	}

	mode := modeManual
	if payload.Auto {
		mode = modeAuto
	}

	// Running is derived, the checks are ordered: an inactive or dry device
	// never runs, auto mode counts as running while active, manual mode runs
	// while measured humidity is below the target, or unconditionally if the
	// device reports no measurement.
	running := false
	switch {
	case !active || payload.LackWater:
	case payload.Auto:
		running = true
	case payload.Humidity != nil:
		running = *payload.Humidity < target
	default:
		running = true
	}

	state := syncer.State{
		"active":   active,
		"mode":     mode,
		"target":   target,
		"waterLow": payload.LackWater,
		"running":  running,
	}

	if payload.Humidity != nil {
		state["humidity"] = *payload.Humidity
	}

	if payload.Temperature != nil {
		state["temperature"] = *payload.Temperature
	}

	return state, nil
}

func (i *Implementation) formCommand(t syncer.Target) (*cloud.Command, error) {
	active := true
	if v, ok := t["active"].(bool); ok {
		active = v
	}

	mode := modeManual
	if v, ok := t["mode"].(string); ok {
		mode = v
	}

	target := 50.0
	if v, ok := t["target"].(float64); ok {
		target = v
	}

	// Deactivation wins over everything else, then auto mode, then the
	// manual threshold.
	switch {
	case !active:
		return &cloud.Command{CommandType: cloud.CommandTypeCommand, Command: "turnOff", Parameter: cloud.DefaultParameter}, nil
	case mode == modeAuto:
		return &cloud.Command{CommandType: cloud.CommandTypeCommand, Command: "setMode", Parameter: modeAuto}, nil
	case mode == modeManual:
		return &cloud.Command{CommandType: cloud.CommandTypeCommand, Command: "setMode", Parameter: strconv.Itoa(i.roundToStep(target))}, nil
	default:
		return nil, fmt.Errorf("humidifier target in unrecognised mode: %q", mode)
	}
}

func (i *Implementation) roundToStep(v float64) int {
	i.m.RLock()
	step := i.step
	i.m.RUnlock()

	if step < 1 {
		step = 1
	}

	r := int(math.Round(v/float64(step))) * step

	if r < 0 {
		r = 0
	}
	if r > 100 {
		r = 100
	}

	return r
}

func (i *Implementation) update(s syncer.State) {
	now := time.Now()

	if v, ok := s["humidity"].(float64); ok {
		i.updateReading(i.s.Section("Humidity"), v/100.0, 0.01, func(ratio float64) any {
			return capabilities.RelativeHumiditySensorState{Device: i.d, State: []capabilities.RelativeHumidityReading{{Value: ratio}}}
		}, now)
	}

	i.m.RLock()
	suppress := i.suppressTemp
	i.m.RUnlock()

	if v, ok := s["temperature"].(float64); ok && !suppress {
		i.updateReading(i.s.Section("Temperature"), v+273.15, 0.1, func(kelvin float64) any {
			return capabilities.TemperatureSensorState{Device: i.d, State: []capabilities.TemperatureReading{{Value: kelvin}}}
		}, now)
	}

	i.updateHumidistat(s, now)
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

func (i *Implementation) updateHumidistat(s syncer.State, now time.Time) {
	prev, found := i.storedState()
	next := prev

	if v, ok := s["active"].(bool); ok {
		next.Active = v
	}
	if v, ok := s["mode"].(string); ok {
		next.Mode = modeFromString(v)
	}
	if v, ok := s["target"].(float64); ok {
		next.TargetHumidity = v
	}
	if v, ok := s["running"].(bool); ok {
		next.Running = v
	}
	if v, ok := s["waterLow"].(bool); ok {
		next.WaterLow = v
	}

	if !found || next != prev {
		i.s.Set(ActiveKey, next.Active)
		i.s.Set(ModeKey, modeToString(next.Mode))
		i.s.Set(TargetKey, next.TargetHumidity)
		i.s.Set(RunningKey, next.Running)
		i.s.Set(WaterLowKey, next.WaterLow)
		converter.Store(i.s, implcaps.LastChangedKey, now, converter.TimeEncoder)

		i.ci.SendEvent(cdacaps.HumidistatUpdate{Device: i.d, State: next})

		if !found || next.Active != prev.Active {
			i.ci.SendEvent(capabilities.OnOffState{Device: i.d, State: next.Active})
		}
	}

	converter.Store(i.s, implcaps.LastUpdatedKey, now, converter.TimeEncoder)
}

func (i *Implementation) updateError(err error) {
	i.ci.SendEvent(cdacaps.UpdateFailure{Device: i.d, Failure: err})
}

func (i *Implementation) storedState() (cdacaps.HumidistatState, bool) {
	active, found := i.s.Bool(ActiveKey)
	mode, _ := i.s.String(ModeKey)
	target, _ := i.s.Float(TargetKey)
	running, _ := i.s.Bool(RunningKey)
	waterLow, _ := i.s.Bool(WaterLowKey)

	return cdacaps.HumidistatState{
		Active:         active,
		Mode:           modeFromString(mode),
		TargetHumidity: target,
		Running:        running,
		WaterLow:       waterLow,
	}, found
}

func modeFromString(s string) cdacaps.HumidistatMode {
	if s == modeAuto {
		return cdacaps.ModeAuto
	}

	return cdacaps.ModeManual
}

func modeToString(m cdacaps.HumidistatMode) string {
	if m == cdacaps.ModeAuto {
		return modeAuto
	}

	return modeManual
}

func (i *Implementation) SetActive(_ context.Context, active bool) error {
	i.sy.SetTarget(map[string]any{"active": active})
	return nil
}

func (i *Implementation) SetMode(_ context.Context, mode cdacaps.HumidistatMode) error {
	switch mode {
	case cdacaps.ModeAuto, cdacaps.ModeManual:
	default:
		return fmt.Errorf("unrecognised humidistat mode: %d", mode)
	}

	i.sy.SetTarget(map[string]any{"mode": modeToString(mode)})
	return nil
}

func (i *Implementation) SetTargetHumidity(_ context.Context, percent float64) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("target humidity out of range: %.1f", percent)
	}

	i.sy.SetTarget(map[string]any{"target": percent})
	return nil
}

func (i *Implementation) Status(_ context.Context) (cdacaps.HumidistatState, error) {
	st, _ := i.storedState()
	return st, nil
}

// onOff is the device's power control surfaced as its own capability, the
// humidistat itself reports composite state under Status.
type onOff struct {
	i *Implementation
}

func (o onOff) Capability() da.Capability {
	return capabilities.OnOffFlag
}

func (o onOff) Name() string {
	return capabilities.StandardNames[capabilities.OnOffFlag]
}

func (o onOff) On(ctx context.Context) error {
	return o.i.SetActive(ctx, true)
}

func (o onOff) Off(ctx context.Context) error {
	return o.i.SetActive(ctx, false)
}

func (o onOff) Status(_ context.Context) (bool, error) {
	v, _ := o.i.s.Bool(ActiveKey)
	return v, nil
}

func (o onOff) LastUpdateTime(ctx context.Context) (time.Time, error) {
	return o.i.LastUpdateTime(ctx)
}

func (o onOff) LastChangeTime(ctx context.Context) (time.Time, error) {
	return o.i.LastChangeTime(ctx)
}

func (i *Implementation) Reading(_ context.Context) ([]capabilities.RelativeHumidityReading, error) {
	k, _ := i.s.Section("Humidity").Float(implcaps.ReadingKey)

	return []capabilities.RelativeHumidityReading{{Value: k}}, nil
}

// temperatureSensor is the device's temperature reading surfaced as its own
// capability, a view over the implementation's persisted state.
type temperatureSensor struct {
	i *Implementation
}

func (t temperatureSensor) Capability() da.Capability {
	return capabilities.TemperatureSensorFlag
}

func (t temperatureSensor) Name() string {
	return capabilities.StandardNames[capabilities.TemperatureSensorFlag]
}

func (t temperatureSensor) Reading(_ context.Context) ([]capabilities.TemperatureReading, error) {
	k, _ := t.i.s.Section("Temperature").Float(implcaps.ReadingKey)

	return []capabilities.TemperatureReading{{Value: k}}, nil
}

func (t temperatureSensor) LastUpdateTime(_ context.Context) (time.Time, error) {
	ts, _ := converter.Retrieve(t.i.s.Section("Temperature"), implcaps.LastUpdatedKey, converter.TimeDecoder)
	return ts, nil
}

func (t temperatureSensor) LastChangeTime(_ context.Context) (time.Time, error) {
	ts, _ := converter.Retrieve(t.i.s.Section("Temperature"), implcaps.LastChangedKey, converter.TimeDecoder)
	return ts, nil
}

func (i *Implementation) LastUpdateTime(_ context.Context) (time.Time, error) {
	t, _ := converter.Retrieve(i.s, implcaps.LastUpdatedKey, converter.TimeDecoder)
	return t, nil
}

func (i *Implementation) LastChangeTime(_ context.Context) (time.Time, error) {
	t, _ := converter.Retrieve(i.s, implcaps.LastChangedKey, converter.TimeDecoder)
	return t, nil
}

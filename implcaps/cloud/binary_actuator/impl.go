// Package binary_actuator exposes cloud devices with a single binary control
// surface, physical switch bots and smart plugs. The device operates in one
// of two command modes: switch devices track the requested on or off state,
// press devices collapse any intent into a momentary press.
package binary_actuator

import (
	"context"
	"encoding/json"
	"fmt"
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

var _ capabilities.OnOff = (*Implementation)(nil)
var _ capabilities.WithLastChangeTime = (*Implementation)(nil)
var _ capabilities.WithLastUpdateTime = (*Implementation)(nil)
var _ implcaps.CDACapability = (*Implementation)(nil)

const ModeKey = "Mode"
const StateKey = "State"

const (
	ModeSwitch = "switch"
	ModePress  = "press"
)

func NewBinaryActuator(ci implcaps.CDAInterface) *Implementation {
	return &Implementation{ci: ci, m: &sync.RWMutex{}}
}

type Implementation struct {
	s  persistence.Section
	d  da.Device
	sy syncer.Syncer
	ci implcaps.CDAInterface

	m    *sync.RWMutex
	mode string
}

func (i *Implementation) Capability() da.Capability {
	return capabilities.OnOffFlag
}

func (i *Implementation) Name() string {
	return capabilities.StandardNames[capabilities.OnOffFlag]
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
	mode, _ := i.s.String(ModeKey)

	i.m.Lock()
	i.mode = mode
	i.m.Unlock()

	if err := i.sy.Load(ctx); err != nil {
		return false, err
	}

	return true, nil
}

func (i *Implementation) Enumerate(ctx context.Context, m map[string]any) (bool, error) {
	mode := implcaps.Get(m, ModeKey, "")

	i.m.Lock()
	i.mode = mode
	i.m.Unlock()

	i.s.Set(ModeKey, mode)

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
	return "CloudBinaryActuator"
}

func parseStatus(raw json.RawMessage) (syncer.State, error) {
	var payload struct {
		Power string `json:"power"`
	}

	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("binary actuator status: %w", err)
	}

	switch payload.Power {
	case "on", "off":
	default:
		return nil, fmt.Errorf("binary actuator status: unrecognised power %q", payload.Power)
	}

	return syncer.State{"on": payload.Power == "on"}, nil
}

func (i *Implementation) formCommand(t syncer.Target) (*cloud.Command, error) {
	i.m.RLock()
	mode := i.mode
	i.m.RUnlock()

	switch mode {
	case ModePress:
		// Momentary device, accumulated intent collapses into one press.
		return &cloud.Command{CommandType: cloud.CommandTypeCommand, Command: "press", Parameter: cloud.DefaultParameter}, nil
	case ModeSwitch:
		on, ok := t["on"].(bool)
		if !ok {
			return nil, nil
		}

		command := "turnOff"
		if on {
			command = "turnOn"
		}

		return &cloud.Command{CommandType: cloud.CommandTypeCommand, Command: command, Parameter: cloud.DefaultParameter}, nil
	default:
		return nil, fmt.Errorf("binary actuator has no usable command mode: %q", mode)
	}
}

func (i *Implementation) update(s syncer.State) {
	on, ok := s["on"].(bool)
	if !ok {
		return
	}

	current, found := i.s.Bool(StateKey)
	if !found || current != on {
		i.s.Set(StateKey, on)
		converter.Store(i.s, implcaps.LastChangedKey, time.Now(), converter.TimeEncoder)

		i.ci.SendEvent(capabilities.OnOffState{Device: i.d, State: on})
	}

	converter.Store(i.s, implcaps.LastUpdatedKey, time.Now(), converter.TimeEncoder)
}

func (i *Implementation) updateError(err error) {
	i.ci.SendEvent(cdacaps.UpdateFailure{Device: i.d, Failure: err})
}

func (i *Implementation) On(_ context.Context) error {
	i.sy.SetTarget(map[string]any{"on": true})
	return nil
}

func (i *Implementation) Off(_ context.Context) error {
	i.sy.SetTarget(map[string]any{"on": false})
	return nil
}

func (i *Implementation) Status(_ context.Context) (bool, error) {
	v, _ := i.s.Bool(StateKey)
	return v, nil
}

func (i *Implementation) LastUpdateTime(_ context.Context) (time.Time, error) {
	t, _ := converter.Retrieve(i.s, implcaps.LastUpdatedKey, converter.TimeDecoder)
	return t, nil
}

func (i *Implementation) LastChangeTime(_ context.Context) (time.Time, error) {
	t, _ := converter.Retrieve(i.s, implcaps.LastChangedKey, converter.TimeDecoder)
	return t, nil
}

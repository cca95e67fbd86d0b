// Package remote_panel exposes infrared remote emulations. The cloud offers
// no status endpoint for these, so the engine runs write only and never
// polls. Power intent takes the coalesced write path, button presses are
// momentary and must reach the cloud once per press.
package remote_panel

import (
	"context"
	"fmt"

	cdacaps "github.com/shimmeringbee/cda/capabilities"
	"github.com/shimmeringbee/cda/cloud"
	"github.com/shimmeringbee/cda/implcaps"
	"github.com/shimmeringbee/cda/syncer"
	"github.com/shimmeringbee/da"
	"github.com/shimmeringbee/persistence"
)

var _ cdacaps.RemoteControl = (*Implementation)(nil)
var _ implcaps.CDACapability = (*Implementation)(nil)

func NewRemotePanel(ci implcaps.CDAInterface) *Implementation {
	return &Implementation{ci: ci}
}

type Implementation struct {
	s  persistence.Section
	d  da.Device
	sy syncer.Syncer
	ci implcaps.CDAInterface
}

func (i *Implementation) Capability() da.Capability {
	return cdacaps.RemoteControlFlag
}

func (i *Implementation) Name() string {
	return cdacaps.Names[cdacaps.RemoteControlFlag]
}

func (i *Implementation) Init(d da.Device, s persistence.Section) {
	i.d = d
	i.s = s

	i.sy = i.ci.NewSyncer()
	i.sy.Init(s.Section("Sync"), d, syncer.Config{
		Mapper: formCommand,
		Sink:   syncer.SinkFuncs{Error: i.updateError},
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
		// No status endpoint exists, the read path stays disabled whatever
		// the rules contribute.
		PollInterval: 0,
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
	return "CloudRemotePanel"
}

func formCommand(t syncer.Target) (*cloud.Command, error) {
	on, ok := t["power"].(bool)
	if !ok {
		return nil, nil
	}

	command := "turnOff"
	if on {
		command = "turnOn"
	}

	return &cloud.Command{CommandType: cloud.CommandTypeCommand, Command: command, Parameter: cloud.DefaultParameter}, nil
}

func (i *Implementation) updateError(err error) {
	i.ci.SendEvent(cdacaps.UpdateFailure{Device: i.d, Failure: err})
}

func (i *Implementation) Power(_ context.Context, on bool) error {
	i.sy.SetTarget(map[string]any{"power": on})
	return nil
}

func (i *Implementation) Press(ctx context.Context, b cdacaps.Button) error {
	switch b {
	case cdacaps.ButtonVolumeUp, cdacaps.ButtonVolumeDown, cdacaps.ButtonChannelUp, cdacaps.ButtonChannelDown:
	default:
		return fmt.Errorf("unrecognised button: %q", b)
	}

	return i.sy.Send(ctx, cloud.Command{CommandType: cloud.CommandTypeCommand, Command: string(b), Parameter: cloud.DefaultParameter})
}

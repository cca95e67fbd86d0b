// Package capabilities defines the cda specific capability interfaces which
// have no equivalent in the standard set of github.com/shimmeringbee/da.
package capabilities

import (
	"context"

	"github.com/shimmeringbee/da"
)

// cda specific capabilities occupy a range well clear of the standard flags.
const (
	HumidistatFlag da.Capability = 0xE000 + iota
	RemoteControlFlag
)

// Names is the analogue of capabilities.StandardNames for the flags above.
var Names = map[da.Capability]string{
	HumidistatFlag:    "Humidistat",
	RemoteControlFlag: "RemoteControl",
}

type HumidistatMode int

const (
	ModeManual HumidistatMode = iota
	ModeAuto
)

// HumidistatState is the humidifying behaviour of a graduated threshold
// actuator. Running is derived from the device's reported status, not from
// local intent.
type HumidistatState struct {
	Active         bool
	Mode           HumidistatMode
	TargetHumidity float64
	Running        bool
	WaterLow       bool
}

// Humidistat controls a device which chases a humidity threshold. Intent
// setters return without waiting for the cloud, the device's own view arrives
// later through a HumidistatUpdate.
type Humidistat interface {
	SetActive(ctx context.Context, active bool) error
	SetMode(ctx context.Context, mode HumidistatMode) error
	// SetTargetHumidity accepts a percentage, 0 to 100. Values are rounded
	// to the device's configured step.
	SetTargetHumidity(ctx context.Context, percent float64) error
	Status(ctx context.Context) (HumidistatState, error)
}

// HumidistatUpdate is sent on the gateway event stream when the device's
// humidifying behaviour changes.
type HumidistatUpdate struct {
	Device da.Device
	State  HumidistatState
}

// UpdateFailure is sent on the gateway event stream when a poll or push for a
// device fails. The device's last known good state remains authoritative
// until a later successful poll supersedes it.
type UpdateFailure struct {
	Device  da.Device
	Failure error
}

// Button is a momentary control on a remote emulation panel.
type Button string

const (
	ButtonVolumeUp    Button = "volumeAdd"
	ButtonVolumeDown  Button = "volumeSub"
	ButtonChannelUp   Button = "channelAdd"
	ButtonChannelDown Button = "channelSub"
)

// RemoteControl drives an infrared remote emulation panel. Panels have no
// status endpoint, so the capability is intent only.
type RemoteControl interface {
	// Power requests the panel's power state through the coalesced write
	// path.
	Power(ctx context.Context, on bool) error
	// Press sends a single momentary button press.
	Press(ctx context.Context, button Button) error
}

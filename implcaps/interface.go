package implcaps

import (
	"context"
	"github.com/shimmeringbee/cda/syncer"
	"github.com/shimmeringbee/da"
	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/persistence"
)

const (
	ReadingKey     = "Reading"
	LastUpdatedKey = "LastUpdated"
	LastChangedKey = "LastChanged"

	// Settings understood by every syncer backed capability, values are
	// millisecond counts contributed by the rules engine.
	PollIntervalKey = "PollIntervalMs"
	DebounceKey     = "DebounceMs"
)

type DetachType int

const (
	// DeviceRemoved is used when a device has vanished from the cloud listing,
	// this has already occurred and no communication should be assumed
	// possible.
	DeviceRemoved DetachType = iota
	// NoLongerEnumerated is used when enumeration of the device no longer
	// results in this capability existing, or it is being replaced by a
	// different implementation. Persisted configuration should be removed.
	NoLongerEnumerated
	// FailedAttach is used when an Enumerate failed.
	FailedAttach
)

type CDACapability interface {
	// BasicCapability functions should also be present.
	da.BasicCapability
	// Init is used upon creation of the capability to provide the device and
	// persistence.
	Init(da.Device, persistence.Section)
	// Load is used upon load of the capability from persistence at start up.
	Load(context.Context) (bool, error)
	// Enumerate is used to enumerate or re-enumerate a device against the
	// settings the rules engine produced. It should return true if the
	// capability should attach, false if it should not. A return of true and
	// an error is possible, the capability should still attach.
	Enumerate(context.Context, map[string]any) (bool, error)
	// Detach is called when a capability is removed from a device. This will
	// be called after an Enumerate that returned false, even if it was a new
	// enumeration.
	Detach(context.Context, DetachType) error
	// ImplName returns the implementation name of the capability.
	ImplName() string
}

// MultiCapability is implemented by capabilities which surface under more
// than one capability flag, such as a humidifier which is simultaneously an
// on off device, a humidity sensor and a humidistat. Capabilities returns the
// instance to expose per flag, usually the implementation itself plus thin
// views over the same persisted state, so the device still runs a single
// synchronisation engine.
type MultiCapability interface {
	Capabilities() map[da.Capability]da.BasicCapability
}

type CDAInterface interface {
	// NewSyncer creates a synchronisation engine for the capability to mirror
	// its device against the cloud.
	NewSyncer() syncer.Syncer
	// SendEvent allows a capability to publish event messages.
	SendEvent(any)
	// Logger for the capability to log against.
	Logger() logwrap.Logger
}

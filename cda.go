// Package cda implements a cloud device abstraction for the shimmeringbee/da
// framework. It mirrors devices held behind a cloud HTTP API into the da
// device model: a discovery loop pulls the account's device listing, a rules
// engine maps each listed device onto capability implementations, and each
// device then runs a synchronisation engine which polls cloud status and
// pushes coalesced local intent back as commands.
package cda

import (
	"context"
	"sync"
	"time"

	"github.com/shimmeringbee/da"
	"github.com/shimmeringbee/da/capabilities"
	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/logwrap/impl/discard"
	"github.com/shimmeringbee/persistence"
	"golang.org/x/sync/semaphore"

	cdacaps "github.com/shimmeringbee/cda/capabilities"
	"github.com/shimmeringbee/cda/cloud"
	"github.com/shimmeringbee/cda/implcaps"
	"github.com/shimmeringbee/cda/rules"
)

const DefaultDiscoveryInterval = 15 * time.Minute

const maxConcurrentEnumerations = 4

// New constructs a gateway against the provided cloud requester. Persistence
// may be memory backed if state across restarts is not wanted. The gateway is
// inert until Start.
func New(baseCtx context.Context, s persistence.Section, r cloud.Requester) *CDA {
	ctx, cancel := context.WithCancel(baseCtx)

	c := &CDA{
		ctx:       ctx,
		ctxCancel: cancel,

		requester: r,
		section:   s,
		logger:    logwrap.New(discard.Discard()),

		ruleEngine: rules.New(),

		deviceLock: &sync.RWMutex{},
		device:     make(map[Identifier]*device),

		events: make(chan any, 0xffff),

		enumerationSem:    semaphore.NewWeighted(maxConcurrentEnumerations),
		discoveryInterval: DefaultDiscoveryInterval,
	}

	c.ci = cdaInterface{c: c}

	c.selfDevice = &device{
		address:    "cda",
		gw:         c,
		m:          &sync.RWMutex{},
		capability: make(map[da.Capability]da.BasicCapability),
		impl:       make(map[string]implcaps.CDACapability),
		implFlags:  make(map[string][]da.Capability),
	}

	return c
}

type CDA struct {
	ctx       context.Context
	ctxCancel context.CancelFunc

	requester cloud.Requester
	section   persistence.Section
	logger    logwrap.Logger

	ruleEngine *rules.Engine

	deviceLock *sync.RWMutex
	device     map[Identifier]*device

	events chan any

	enumerationSem    *semaphore.Weighted
	discoveryInterval time.Duration

	ci cdaInterface

	selfDevice *device

	discoveryDone chan struct{}
}

// RuleEngine exposes the rules engine so additional rulesets can be loaded
// before Start, site specific overrides on top of the embedded defaults.
func (c *CDA) RuleEngine() *rules.Engine {
	return c.ruleEngine
}

// WithDiscoveryInterval overrides the cadence of the device listing loop,
// effective before Start.
func (c *CDA) WithDiscoveryInterval(d time.Duration) {
	c.discoveryInterval = d
}

func (c *CDA) Capability(_ da.Capability) interface{} {
	// Capability implementations are per device, resolve through the device.
	return nil
}

func (c *CDA) Capabilities() []da.Capability {
	return []da.Capability{
		capabilities.ProductInformationFlag,
		capabilities.OnOffFlag,
		capabilities.TemperatureSensorFlag,
		capabilities.RelativeHumiditySensorFlag,
		cdacaps.HumidistatFlag,
		cdacaps.RemoteControlFlag,
	}
}

func (c *CDA) Self() da.Device {
	return c.selfDevice
}

func (c *CDA) Devices() []da.Device {
	devices := []da.Device{c.Self()}

	for _, d := range c.getDevices() {
		devices = append(devices, d)
	}

	return devices
}

func (c *CDA) Start(ctx context.Context) error {
	if len(c.ruleEngine.RuleSets) == 0 {
		if err := c.ruleEngine.LoadFS(rules.Embedded); err != nil {
			return err
		}
	}

	if err := c.ruleEngine.CompileRules(); err != nil {
		return err
	}

	c.providerLoad(ctx)

	c.discoveryDone = make(chan struct{})
	go c.discoveryLoop()

	return nil
}

func (c *CDA) Stop(ctx context.Context) error {
	c.ctxCancel()

	if c.discoveryDone != nil {
		<-c.discoveryDone
	}

	// Shut down every device's engines. DeviceRemoved keeps the persisted
	// configuration in place for the next Start.
	for _, d := range c.getDevices() {
		for _, impl := range d.implementations() {
			if err := impl.Detach(ctx, implcaps.DeviceRemoved); err != nil {
				c.logger.LogWarn(ctx, "Error thrown while detaching capability on stop.", logwrap.Datum("CapabilityImplementation", impl.ImplName()), logwrap.Err(err))
			}
		}
	}

	return nil
}

var _ da.Gateway = (*CDA)(nil)

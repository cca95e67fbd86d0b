package cda

import (
	"context"
	"sync"

	"github.com/shimmeringbee/da"
	"github.com/shimmeringbee/logwrap"

	"github.com/shimmeringbee/cda/implcaps"
)

func (c *CDA) createDevice(addr Identifier) (*device, bool) {
	c.deviceLock.Lock()
	defer c.deviceLock.Unlock()

	d, found := c.device[addr]
	if !found {
		d = &device{
			address:    addr,
			gw:         c,
			m:          &sync.RWMutex{},
			capability: make(map[da.Capability]da.BasicCapability),
			impl:       make(map[string]implcaps.CDACapability),
			implFlags:  make(map[string][]da.Capability),
		}

		c.device[addr] = d

		c.sectionForDevice(addr)

		c.sendEvent(da.DeviceAdded{Device: d})
	}

	return d, !found
}

func (c *CDA) getDevice(addr Identifier) *device {
	c.deviceLock.RLock()
	defer c.deviceLock.RUnlock()

	return c.device[addr]
}

func (c *CDA) getDevices() []*device {
	c.deviceLock.RLock()
	defer c.deviceLock.RUnlock()

	var devices []*device
	for _, d := range c.device {
		devices = append(devices, d)
	}

	return devices
}

func (c *CDA) removeDevice(ctx context.Context, addr Identifier) bool {
	c.deviceLock.Lock()
	d, found := c.device[addr]
	if found {
		delete(c.device, addr)
	}
	c.deviceLock.Unlock()

	if !found {
		return false
	}

	for _, impl := range d.implementations() {
		c.logger.LogInfo(ctx, "Detaching capability from removed device.", logwrap.Datum("Identifier", addr.String()), logwrap.Datum("CapabilityImplementation", impl.ImplName()))
		if err := impl.Detach(ctx, implcaps.DeviceRemoved); err != nil {
			c.logger.LogWarn(ctx, "Error thrown while detaching capability.", logwrap.Datum("CapabilityImplementation", impl.ImplName()), logwrap.Err(err))
		}

		c.detachCapabilityFromDevice(d, impl)
	}

	c.sendEvent(da.DeviceRemoved{Device: d})

	c.sectionRemoveDevice(addr)
	return true
}

// implementationFlags is the set of capability flags an implementation
// surfaces under, one entry for plain capabilities, several for
// implcaps.MultiCapability.
func implementationFlags(impl implcaps.CDACapability) map[da.Capability]da.BasicCapability {
	if mc, ok := impl.(implcaps.MultiCapability); ok {
		return mc.Capabilities()
	}

	return map[da.Capability]da.BasicCapability{impl.Capability(): impl}
}

func (c *CDA) attachCapabilityToDevice(d *device, impl implcaps.CDACapability) {
	flags := implementationFlags(impl)

	d.m.Lock()
	d.impl[impl.ImplName()] = impl

	for cF, inst := range flags {
		d.capability[cF] = inst
		d.implFlags[impl.ImplName()] = append(d.implFlags[impl.ImplName()], cF)
	}
	d.m.Unlock()

	for cF := range flags {
		c.sendEvent(da.CapabilityAdded{Device: d, Capability: cF})
	}
}

// updateCapabilityOnDevice re-reads the flags an already attached
// implementation surfaces under and reconciles the device's capability set,
// re-enumeration can grow or shrink a MultiCapability's view.
func (c *CDA) updateCapabilityOnDevice(d *device, impl implcaps.CDACapability) {
	flags := implementationFlags(impl)

	d.m.Lock()

	if _, found := d.impl[impl.ImplName()]; !found {
		d.m.Unlock()
		return
	}

	var added, removed []da.Capability

	for _, cF := range d.implFlags[impl.ImplName()] {
		if _, still := flags[cF]; !still {
			delete(d.capability, cF)
			removed = append(removed, cF)
		}
	}

	recorded := make([]da.Capability, 0, len(flags))
	for cF, inst := range flags {
		if _, had := d.capability[cF]; !had {
			added = append(added, cF)
		}

		d.capability[cF] = inst
		recorded = append(recorded, cF)
	}
	d.implFlags[impl.ImplName()] = recorded

	d.m.Unlock()

	for _, cF := range removed {
		c.sendEvent(da.CapabilityRemoved{Device: d, Capability: cF})
	}
	for _, cF := range added {
		c.sendEvent(da.CapabilityAdded{Device: d, Capability: cF})
	}
}

func (c *CDA) detachCapabilityFromDevice(d *device, impl implcaps.CDACapability) {
	d.m.Lock()

	if _, found := d.impl[impl.ImplName()]; !found {
		d.m.Unlock()
		return
	}

	delete(d.impl, impl.ImplName())

	// The flags recorded at attach time are authoritative, the
	// implementation's current view may have changed since.
	removed := d.implFlags[impl.ImplName()]
	delete(d.implFlags, impl.ImplName())

	for _, cF := range removed {
		delete(d.capability, cF)
	}
	d.m.Unlock()

	for _, cF := range removed {
		c.sendEvent(da.CapabilityRemoved{Device: d, Capability: cF})
	}

	c.sectionForDevice(d.address).Section("capability").SectionDelete(impl.ImplName())
}

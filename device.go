package cda

import (
	"sync"

	"github.com/shimmeringbee/da"

	"github.com/shimmeringbee/cda/implcaps"
)

// Identifier is the cloud's device id, opaque and stable for the life of the
// device on the account.
type Identifier string

func (i Identifier) String() string {
	return string(i)
}

type device struct {
	// Immutable, no locking required.
	address Identifier
	gw      da.Gateway

	// Mutable, obtain lock first.
	m          *sync.RWMutex
	capability map[da.Capability]da.BasicCapability
	impl       map[string]implcaps.CDACapability
	implFlags  map[string][]da.Capability
}

func (d *device) Gateway() da.Gateway {
	return d.gw
}

func (d *device) Identifier() da.Identifier {
	return d.address
}

func (d *device) Capabilities() []da.Capability {
	d.m.RLock()
	defer d.m.RUnlock()

	var caps []da.Capability
	for cF := range d.capability {
		caps = append(caps, cF)
	}

	return caps
}

func (d *device) HasCapability(c da.Capability) bool {
	d.m.RLock()
	defer d.m.RUnlock()

	_, found := d.capability[c]
	return found
}

func (d *device) Capability(c da.Capability) da.BasicCapability {
	d.m.RLock()
	defer d.m.RUnlock()

	return d.capability[c]
}

func (d *device) implementations() []implcaps.CDACapability {
	d.m.RLock()
	defer d.m.RUnlock()

	var impls []implcaps.CDACapability
	for _, impl := range d.impl {
		impls = append(impls, impl)
	}

	return impls
}

var _ da.Device = (*device)(nil)

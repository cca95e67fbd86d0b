package cda

import (
	"context"

	"github.com/shimmeringbee/logwrap"

	"github.com/shimmeringbee/cda/cloud"
	"github.com/shimmeringbee/cda/implcaps"
	"github.com/shimmeringbee/cda/implcaps/factory"
	"github.com/shimmeringbee/cda/rules"
)

// enumerateDevice maps one listing entry through the rules engine and brings
// the device's capability implementations in line with the output, creating,
// re-enumerating or detaching as needed.
func (c *CDA) enumerateDevice(pctx context.Context, desc cloud.Description) {
	if err := c.enumerationSem.Acquire(pctx, 1); err != nil {
		return
	}
	defer c.enumerationSem.Release(1)

	ctx, end := c.logger.Segment(pctx, "Enumerating device.", logwrap.Datum("Identifier", desc.ID), logwrap.Datum("Type", desc.Type))
	defer end()

	o, err := c.ruleEngine.Execute(rules.Input{Device: rules.InputDevice{
		ID:     desc.ID,
		Type:   desc.Type,
		Name:   desc.Name,
		Hub:    desc.Hub,
		Cloud:  desc.Cloud,
		Remote: desc.Remote,
	}})
	if err != nil {
		c.logger.LogError(ctx, "Rule execution failed for device.", logwrap.Err(err))
		return
	}

	if len(o.Capabilities) == 0 {
		// Nothing wants the device. If it had been created earlier the
		// rules have changed underneath it, remove it.
		if c.getDevice(Identifier(desc.ID)) != nil {
			c.removeDevice(ctx, Identifier(desc.ID))
		}

		c.logger.LogDebug(ctx, "No capability implementations matched device.")
		return
	}

	d, _ := c.createDevice(Identifier(desc.ID))

	// Implementations no longer produced by the rules detach first.
	for _, impl := range d.implementations() {
		if _, wanted := o.Capabilities[impl.ImplName()]; !wanted {
			c.logger.LogInfo(ctx, "Capability no longer enumerated, detaching.", logwrap.Datum("CapabilityImplementation", impl.ImplName()))
			if err := impl.Detach(ctx, implcaps.NoLongerEnumerated); err != nil {
				c.logger.LogWarn(ctx, "Error thrown while detaching capability.", logwrap.Datum("CapabilityImplementation", impl.ImplName()), logwrap.Err(err))
			}

			c.detachCapabilityFromDevice(d, impl)
		}
	}

	existing := make(map[string]implcaps.CDACapability)
	for _, impl := range d.implementations() {
		existing[impl.ImplName()] = impl
	}

	for name, settings := range o.Capabilities {
		impl, present := existing[name]

		if !present {
			impl = factory.Create(name, c.ci)
			if impl == nil {
				c.logger.LogError(ctx, "Could not find capability implementation.", logwrap.Datum("implementation", name))
				continue
			}

			capSection := c.sectionForDevice(d.address).Section("capability", name)
			capSection.Set("implementation", name)
			impl.Init(d, capSection.Section("data"))
		}

		attached, err := impl.Enumerate(ctx, settings)
		if err != nil {
			c.logger.LogError(ctx, "Error while enumerating capability.", logwrap.Err(err), logwrap.Datum("implementation", name))
		}

		if attached {
			if !present {
				c.attachCapabilityToDevice(d, impl)
				c.logger.LogInfo(ctx, "Attached capability implementation.", logwrap.Datum("implementation", name))
			} else {
				c.updateCapabilityOnDevice(d, impl)
			}
		} else {
			if err := impl.Detach(ctx, implcaps.FailedAttach); err != nil {
				c.logger.LogWarn(ctx, "Error thrown while detaching failed capability.", logwrap.Datum("implementation", name), logwrap.Err(err))
			}

			if present {
				c.detachCapabilityFromDevice(d, impl)
			} else {
				c.sectionForDevice(d.address).Section("capability").SectionDelete(name)
			}

			c.logger.LogWarn(ctx, "Rejected capability attach.", logwrap.Datum("implementation", name))
		}
	}

	if len(d.implementations()) == 0 {
		c.logger.LogWarn(ctx, "Device retained no capability implementations, removing.")
		c.removeDevice(ctx, d.address)
	}
}

package cda

import (
	"context"

	"github.com/shimmeringbee/logwrap"

	"github.com/shimmeringbee/cda/implcaps/factory"
)

func (c *CDA) providerLoad(pctx context.Context) {
	ctx, end := c.logger.Segment(pctx, "Loading persistence.")
	defer end()

	for _, i := range c.deviceListFromPersistence() {
		c.providerLoadDevice(ctx, i)
	}
}

func (c *CDA) providerLoadDevice(pctx context.Context, i Identifier) {
	ctx, end := c.logger.Segment(pctx, "Loading device data.", logwrap.Datum("device", i.String()))
	defer end()

	d, _ := c.createDevice(i)

	capSection := c.sectionForDevice(i).Section("capability")

	for _, cName := range capSection.SectionKeys() {
		cctx, cend := c.logger.Segment(ctx, "Loading capability data.", logwrap.Datum("capability", cName))

		cSection := capSection.Section(cName)

		if capImpl, ok := cSection.String("implementation"); ok {
			if capI := factory.Create(capImpl, c.ci); capI == nil {
				c.logger.LogError(cctx, "Could not find capability implementation.", logwrap.Datum("implementation", capImpl))
			} else {
				c.logger.LogInfo(cctx, "Constructed capability implementation.", logwrap.Datum("implementation", capImpl))
				capI.Init(d, cSection.Section("data"))
				attached, err := capI.Load(cctx)

				if err != nil {
					c.logger.LogError(cctx, "Error while loading from persistence.", logwrap.Err(err), logwrap.Datum("implementation", capImpl))
				}

				if attached {
					c.attachCapabilityToDevice(d, capI)
					c.logger.LogInfo(cctx, "Attached capability from persistence.", logwrap.Datum("implementation", capImpl))
				} else {
					c.logger.LogWarn(cctx, "Rejected capability attach from persistence.", logwrap.Datum("implementation", capImpl))
				}
			}
		}

		cend()
	}
}

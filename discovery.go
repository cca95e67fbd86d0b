package cda

import (
	"context"
	"time"

	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/retry"

	"github.com/shimmeringbee/cda/cloud"
)

const DefaultNetworkTimeout = 3000 * time.Millisecond
const DefaultNetworkRetries = 5

// discoveryLoop pulls the account's device listing on a fixed cadence. The
// listing is the only source of device existence, devices appear when listed
// and are removed when they vanish from it.
func (c *CDA) discoveryLoop() {
	defer close(c.discoveryDone)

	ticker := time.NewTicker(c.discoveryInterval)
	defer ticker.Stop()

	c.discoverDevices(c.ctx)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.discoverDevices(c.ctx)
		}
	}
}

func (c *CDA) discoverDevices(pctx context.Context) {
	ctx, end := c.logger.Segment(pctx, "Discovering devices from cloud listing.")
	defer end()

	var listing []cloud.Description

	err := retry.Retry(ctx, DefaultNetworkTimeout, DefaultNetworkRetries, func(rctx context.Context) error {
		var err error
		listing, err = c.requester.Devices(rctx)
		return err
	})
	if err != nil {
		c.logger.LogError(ctx, "Failed to fetch device listing.", logwrap.Err(err))
		return
	}

	c.logger.LogInfo(ctx, "Fetched device listing.", logwrap.Datum("DeviceCount", len(listing)))

	seen := make(map[Identifier]bool, len(listing))
	for _, desc := range listing {
		seen[Identifier(desc.ID)] = true
		c.enumerateDevice(ctx, desc)
	}

	for _, d := range c.getDevices() {
		if !seen[d.address] {
			c.logger.LogInfo(ctx, "Device vanished from listing, removing.", logwrap.Datum("Identifier", d.address.String()))
			c.removeDevice(ctx, d.address)
		}
	}
}

package cda

import (
	"github.com/shimmeringbee/persistence"
)

func (c *CDA) sectionForDevice(i Identifier) persistence.Section {
	return c.section.Section("device", i.String())
}

func (c *CDA) sectionRemoveDevice(i Identifier) bool {
	return c.section.Section("device").SectionDelete(i.String())
}

func (c *CDA) deviceListFromPersistence() []Identifier {
	var deviceList []Identifier

	for _, k := range c.section.Section("device").SectionKeys() {
		deviceList = append(deviceList, Identifier(k))
	}

	return deviceList
}

package cda

import (
	"github.com/shimmeringbee/logwrap"

	"github.com/shimmeringbee/cda/implcaps"
	"github.com/shimmeringbee/cda/syncer"
)

var _ implcaps.CDAInterface = cdaInterface{}

type cdaInterface struct {
	c *CDA
}

func (ci cdaInterface) NewSyncer() syncer.Syncer {
	return syncer.NewEngine(ci.c.requester, ci.c.logger)
}

func (ci cdaInterface) SendEvent(a any) {
	ci.c.sendEvent(a)
}

func (ci cdaInterface) Logger() logwrap.Logger {
	return ci.c.logger
}

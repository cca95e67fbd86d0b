package cda

import (
	"log"

	"github.com/shimmeringbee/logwrap"
	"github.com/shimmeringbee/logwrap/impl/golog"
)

func (c *CDA) WithGoLogger(parentLogger *log.Logger) {
	c.WithLogWrapLogger(logwrap.New(golog.Wrap(parentLogger)))
}

func (c *CDA) WithLogWrapLogger(lw logwrap.Logger) {
	c.logger = lw
}

package cda

import (
	"context"
)

func (c *CDA) sendEvent(e any) {
	c.events <- e
}

func (c *CDA) ReadEvent(ctx context.Context) (any, error) {
	select {
	case e := <-c.events:
		return e, nil
	case <-ctx.Done():
		return nil, context.DeadlineExceeded
	}
}

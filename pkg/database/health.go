package database

import (
	"context"
	"time"
)

// HealthCheck reports database connectivity with a bounded probe.
func (c *Client) HealthCheck(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return c.pool.Ping(probeCtx)
}

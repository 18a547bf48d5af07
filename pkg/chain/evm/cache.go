// Copyright 2025 Certen Protocol
//
// Short-TTL memoization of Forwarder view calls that do not change
// within a single detection/validation cycle: the validator node set
// and the minimum-signature quorum. Avoids a redundant contract call
// every time a signature arrives during a burst of concurrent
// transfers.

package evm

import (
	"sync"
	"time"
)

const validatorSetCacheTTL = 30 * time.Second

type validatorSetCache struct {
	mu          sync.Mutex
	fetchedAt   time.Time
	nodes       []string
	minimum     int
}

func (c *validatorSetCache) get() (nodes []string, minimum int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetchedAt.IsZero() || time.Since(c.fetchedAt) > validatorSetCacheTTL {
		return nil, 0, false
	}
	return c.nodes, c.minimum, true
}

func (c *validatorSetCache) set(nodes []string, minimum int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes = nodes
	c.minimum = minimum
	c.fetchedAt = time.Now()
}

// Copyright (c) 2015-2016 The emberd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netsync

import (
	"sync"
	"time"
)

// inFlightConns tracks outstanding outbound connection attempts by node id.
// An entry exists only between connection initiation and one of handshake
// success, handshake failure, or expiry.  It is the sole mechanism that
// prevents redundant simultaneous connection attempts to the same node, so
// every read-modify-write sequence runs under the single mutex.
type inFlightConns struct {
	mtx     sync.Mutex
	timeout time.Duration
	conns   map[string]time.Time
}

// newInFlightConns returns a new in-flight connection record whose entries
// expire after the given timeout.
func newInFlightConns(timeout time.Duration) *inFlightConns {
	return &inFlightConns{
		timeout: timeout,
		conns:   make(map[string]time.Time),
	}
}

// initiate invokes connect for the node and records the attempt timestamp
// unless an attempt for the node is already outstanding.  The contains-check,
// the connect call, and the insert form one critical section so two
// concurrent callers cannot both dial the same node.  It returns whether a
// new attempt was initiated.
func (c *inFlightConns) initiate(node Node, connect func(Node)) bool {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if _, ok := c.conns[node.ID()]; ok {
		return false
	}
	connect(node)
	c.conns[node.ID()] = time.Now()
	return true
}

// remove deletes the entry for the node id, if any.  Called when a handshake
// completes or a peer is removed.
func (c *inFlightConns) remove(nodeID string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	delete(c.conns, nodeID)
}

// purgeExpired removes every entry older than the timeout relative to now
// and returns the purged node ids.  Purged nodes become eligible for a fresh
// connection attempt.
func (c *inFlightConns) purgeExpired(now time.Time) []string {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	var expired []string
	for nodeID, stamp := range c.conns {
		if now.Sub(stamp) > c.timeout {
			expired = append(expired, nodeID)
		}
	}
	for _, nodeID := range expired {
		delete(c.conns, nodeID)
	}
	return expired
}

// ids returns a snapshot of the node ids with outstanding attempts.
func (c *inFlightConns) ids() []string {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	ids := make([]string, 0, len(c.conns))
	for nodeID := range c.conns {
		ids = append(ids, nodeID)
	}
	return ids
}

// clear drops every outstanding entry.  Used by the terminal sync teardown.
func (c *inFlightConns) clear() {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.conns = make(map[string]time.Time)
}

// count returns the number of outstanding attempts.
func (c *inFlightConns) count() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return len(c.conns)
}

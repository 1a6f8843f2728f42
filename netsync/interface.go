// Copyright (c) 2015-2016 The emberd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netsync

import (
	"math/big"
	"time"

	"github.com/emberchain/emberd/chainhash"
)

// PeerStatus is the information a remote peer declared in its handshake
// status message.
type PeerStatus struct {
	// NodeID is the stable identifier of the remote node.
	NodeID string

	// TotalDifficulty is the cumulative difficulty of the peer's best
	// chain as declared during the handshake.
	TotalDifficulty *big.Int

	// BestHash is the hash of the peer's best known block.
	BestHash *chainhash.Hash
}

// Peer represents one connected, handshake-complete remote peer.  The sync
// manager holds a non-owning reference to each admitted peer for the duration
// of its pool membership; the peer's own lifecycle, including socket
// teardown, is owned by the external protocol layer that implements this
// interface.
type Peer interface {
	// ID returns the stable node identifier of the remote peer.
	ID() string

	// Status returns the peer's handshake status message.
	Status() *PeerStatus

	// SetSyncState sets the peer's sync sub-state.  It is only ever
	// called by the sync manager, never by the peer itself.
	SetSyncState(SyncState)

	// HashRetrievingDone returns whether the peer has finished walking
	// the hash sequence it was tasked with as master.
	HashRetrievingDone() bool

	// HasNoMoreBlocks returns whether the peer has exhausted the blocks
	// it can usefully serve.
	HasNoMoreBlocks() bool

	// SyncDone returns whether the peer reports the full sync as
	// complete.
	SyncDone() bool

	// Idle returns whether the peer currently has no work assigned.
	Idle() bool

	// LogSyncStats logs the peer's current download statistics.
	LogSyncStats()
}

// Chain exposes the local chain state consumed by the sync manager.
type Chain interface {
	// TotalDifficulty returns the cumulative difficulty of the local best
	// chain.  It is monotonically non-decreasing as blocks are imported.
	TotalDifficulty() *big.Int
}

// ChainQueue is the shared hash/block queue the sync manager publishes
// retrieval targets to.
type ChainQueue interface {
	// HighestTotalDifficulty returns the highest total difficulty
	// reported by any peer so far, or nil if no peer has reported yet.
	HighestTotalDifficulty() *big.Int

	// SetHighestTotalDifficulty records a new high-water mark.
	SetHighestTotalDifficulty(*big.Int)

	// SetBestHash publishes the hash-retrieval target.
	SetBestHash(*chainhash.Hash)

	// HasPendingHashes returns whether unconsumed hashes remain in the
	// queue.
	HasPendingHashes() bool
}

// NodeStats is the last known chain statistics snapshot for a discovered
// node.  TotalDifficulty is nil when the node has never reported a status
// message with a difficulty.
type NodeStats struct {
	TotalDifficulty  *big.Int
	HasInboundStatus bool
}

// Node represents a candidate node produced by the discovery subsystem.  It
// is not a peer until a connection attempt and handshake succeed.
type Node interface {
	// ID returns the stable node identifier.
	ID() string

	// Stats returns the node's last known chain statistics.
	Stats() *NodeStats
}

// NodeFilter is the predicate a discovery listener is registered with.  Only
// nodes whose statistics satisfy the filter are surfaced to the listener.
type NodeFilter func(*NodeStats) bool

// NodeListener is notified by the discovery subsystem about candidate nodes
// matching the registration filter.
type NodeListener interface {
	NodeAppeared(Node)
	NodeDisappeared(Node)
}

// Discovery is the contract of the node discovery subsystem.
type Discovery interface {
	// AddListener registers a listener along with the filter its
	// notifications must satisfy.
	AddListener(NodeListener, NodeFilter)

	// RemoveListener unregisters a previously added listener.
	RemoveListener(NodeListener)

	// Nodes returns up to max known nodes that satisfy the filter,
	// ordered best-first according to less.
	Nodes(filter func(Node) bool, less func(a, b Node) bool, max int) []Node
}

// Connector is the contract of the network layer used to initiate outbound
// connections.  Connect is fire-and-forget; success surfaces later as a
// completed handshake that produces a Peer passed to AddPeer.
type Connector interface {
	Connect(Node)
}

// Config is a configuration struct used to initialize a new SyncManager.
type Config struct {
	Chain     Chain
	Queue     ChainQueue
	Discovery Discovery
	Connector Connector

	// OnSyncDone, if set, is invoked exactly once when the global state
	// reaches DONE_SYNC.  It runs inside the terminal transition and must
	// not call back into the SyncManager.
	OnSyncDone func()

	// MaxPeers is the target size of the syncing peer pool.  Defaults to
	// defaultMaxPeers when zero.
	MaxPeers int

	// TickInterval is the period of the reconciliation loop.  Defaults to
	// defaultTickInterval when zero.
	TickInterval time.Duration

	// ConnectionTimeout is how long an in-flight connection attempt may
	// remain outstanding before it is purged and the node becomes
	// eligible for a fresh attempt.  Defaults to defaultConnectionTimeout
	// when zero.
	ConnectionTimeout time.Duration

	// StatsInterval is the period of the peer statistics logging loop.
	// Defaults to defaultStatsInterval when zero.
	StatsInterval time.Duration
}

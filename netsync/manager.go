// Copyright (c) 2015-2016 The emberd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netsync

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"

	"github.com/emberchain/emberd/chainhash"
)

const (
	// defaultMaxPeers is the target number of actively syncing peers the
	// reconciliation loop tops the pool up to.
	defaultMaxPeers = 5

	// defaultTickInterval is the period of the reconciliation loop.
	defaultTickInterval = 3 * time.Second

	// defaultConnectionTimeout is how long an outbound connection attempt
	// may remain outstanding before it is considered stale.
	defaultConnectionTimeout = 60 * time.Second

	// defaultStatsInterval is the period of the peer statistics logging
	// loop.
	defaultStatsInterval = 30 * time.Second
)

// SyncManager coordinates chain synchronization against remote peers.  It
// admits and evicts peers, elects the master peer that retrieves the
// canonical hash sequence based on cumulative chain difficulty, and runs a
// periodic reconciliation loop that ties discovery, connection attempts, and
// the peer lifecycle together.  Use Start to begin processing and Stop to
// shut down; the manager also tears itself down once a peer reports the sync
// as complete.
type SyncManager struct {
	started  int32
	shutdown int32

	cfg Config

	peers       *peerSet
	inFlight    *inFlightConns
	diff        *difficultyTracker
	statsLogger *peerStatsLogger
	listener    NodeListener

	// smu serializes all global state transitions along with the master
	// election performed during peer admission.  It protects the fields
	// below it.
	smu        sync.Mutex
	state      SyncState
	masterPeer Peer
	bestHash   *chainhash.Hash

	wg   sync.WaitGroup
	quit chan struct{}
}

// errNilCollaborator describes a missing required collaborator in the
// configuration passed to New.
func errNilCollaborator(name string) error {
	return fmt.Errorf("netsync: %s collaborator is required", name)
}

// New constructs a new SyncManager.  The configuration must supply the
// chain, queue, discovery, and connector collaborators.
func New(config *Config) (*SyncManager, error) {
	if config.Chain == nil {
		return nil, errNilCollaborator("chain")
	}
	if config.Queue == nil {
		return nil, errNilCollaborator("chain queue")
	}
	if config.Discovery == nil {
		return nil, errNilCollaborator("discovery")
	}
	if config.Connector == nil {
		return nil, errNilCollaborator("connector")
	}

	cfg := *config
	if cfg.MaxPeers == 0 {
		cfg.MaxPeers = defaultMaxPeers
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.ConnectionTimeout == 0 {
		cfg.ConnectionTimeout = defaultConnectionTimeout
	}
	if cfg.StatsInterval == 0 {
		cfg.StatsInterval = defaultStatsInterval
	}

	m := SyncManager{
		cfg:         cfg,
		peers:       newPeerSet(),
		inFlight:    newInFlightConns(cfg.ConnectionTimeout),
		diff:        newDifficultyTracker(),
		statsLogger: newPeerStatsLogger(log),
		state:       StateInit,
		quit:        make(chan struct{}),
	}
	m.listener = &discoverListener{manager: &m}

	// Peers at or below the local chain difficulty cannot help, so the
	// usefulness floor starts at the chain's current difficulty.
	m.diff.raiseFloor(m.cfg.Chain.TotalDifficulty())

	return &m, nil
}

// Start begins the sync coordination process.  It registers the discovery
// listener and launches the reconciliation and stats logging loops.  Calling
// Start more than once has no effect.
func (m *SyncManager) Start() {
	// Already started?
	if atomic.AddInt32(&m.started, 1) != 1 {
		return
	}

	log.Trace("Starting sync manager")
	m.cfg.Discovery.AddListener(m.listener, m.discoveryFilter)
	m.wg.Add(2)
	go m.syncWorker()
	go m.statsWorker()
}

// Stop gracefully shuts down the sync manager by stopping the periodic
// loops and unregistering the discovery listener, then waits for the loops
// to finish their current pass.  It is safe to call Stop after the manager
// already tore itself down on sync completion.
func (m *SyncManager) Stop() error {
	if atomic.AddInt32(&m.shutdown, 1) == 1 {
		log.Infof("Sync manager shutting down")
		m.cfg.Discovery.RemoveListener(m.listener)
		close(m.quit)
	}
	m.wg.Wait()
	return nil
}

// SyncState returns the current global synchronization state.
func (m *SyncManager) SyncState() SyncState {
	m.smu.Lock()
	defer m.smu.Unlock()

	return m.state
}

// IsSynced returns whether the initial chain synchronization has completed.
func (m *SyncManager) IsSynced() bool {
	return m.SyncState() == StateDoneSync
}

// NumPeers returns the number of peers currently in the syncing pool.
func (m *SyncManager) NumPeers() int {
	return m.peers.len()
}

// AddPeer admits a fully handshaken peer into the syncing pool.  The peer is
// discarded when its declared total difficulty cannot improve on the local
// chain.  A peer whose chain beats the best previously reported difficulty
// becomes the new master and drives a transition to hash retrieval.  AddPeer
// is a no-op once the sync is done.
func (m *SyncManager) AddPeer(p Peer) {
	m.smu.Lock()
	defer m.smu.Unlock()

	if m.state == StateDoneSync {
		return
	}

	// The handshake succeeded, so the connection attempt is no longer in
	// flight.
	m.inFlight.remove(p.ID())

	status := p.Status()
	log.Tracef("Peer %s: handshake status %v", shortNodeID(p.ID()),
		newLogClosure(func() string {
			return spew.Sdump(status)
		}))

	peerTD := status.TotalDifficulty
	localTD := m.cfg.Chain.TotalDifficulty()
	if peerTD == nil || peerTD.Cmp(localTD) <= 0 {
		log.Infof("Peer %s: difficulty no better than ours: %v vs %v, "+
			"skipping", shortNodeID(p.ID()), peerTD, localTD)
		return
	}

	highestKnown := m.cfg.Queue.HighestTotalDifficulty()
	if highestKnown == nil || peerTD.Cmp(highestKnown) > 0 {
		log.Infof("Peer %s: its chain is better than previously known: "+
			"%v vs %v", shortNodeID(p.ID()), peerTD, highestKnown)
		log.Debugf("Peer %s: best hash %v", shortNodeID(p.ID()),
			status.BestHash)

		m.bestHash = status.BestHash
		m.masterPeer = p
		m.cfg.Queue.SetHighestTotalDifficulty(peerTD)
		m.diff.raiseBest(peerTD)

		m.changeState(StateHashRetrieving)
	}

	// A peer arriving while a sync is already mid-flight starts
	// contributing immediately instead of waiting for the next master
	// election.
	if m.state == StateBlockRetrieving {
		p.SetSyncState(StateBlockRetrieving)
	}

	log.Infof("Peer %s: adding to pool", shortNodeID(p.ID()))
	m.peers.add(p)
}

// RemovePeer removes a disconnected peer from the syncing pool.  It is a
// no-op once the sync is done.
func (m *SyncManager) RemovePeer(p Peer) {
	m.smu.Lock()
	defer m.smu.Unlock()

	if m.state == StateDoneSync {
		return
	}

	m.inFlight.remove(p.ID())
	p.SetSyncState(StateIdle)
	m.peers.remove(p)
}

// ChangeState moves the global state machine to newState and propagates the
// transition to the peer pool.  Transitions are serialized; any transition
// requested after the terminal state is a no-op.
func (m *SyncManager) ChangeState(newState SyncState) {
	m.smu.Lock()
	defer m.smu.Unlock()

	m.changeState(newState)
}

// changeState implements the state transitions.  It must be called with smu
// held, making it the single serialization point for all state changes.
func (m *SyncManager) changeState(newState SyncState) {
	if m.state == StateDoneSync {
		return
	}

	log.Debugf("Changing sync state %v -> %v", m.state, newState)

	switch newState {
	case StateHashRetrieving:
		// A master must have been elected before hash retrieval can
		// begin.  Reaching this point without one is a logic defect,
		// not a recoverable runtime condition.
		if m.masterPeer == nil {
			panic("netsync: hash retrieval requested without a " +
				"master peer")
		}
		m.setPeersState(StateIdle)
		m.cfg.Queue.SetBestHash(m.bestHash)
		m.masterPeer.SetSyncState(StateHashRetrieving)

	case StateBlockRetrieving:
		m.setPeersState(StateBlockRetrieving)

	case StateDoneSync:
		m.setPeersState(StateIdle)
		m.peers.clear()
		m.inFlight.clear()
		m.cfg.Discovery.RemoveListener(m.listener)
		m.stopWorkers()
		if m.cfg.OnSyncDone != nil {
			m.cfg.OnSyncDone()
		}
		log.Infof("Chain synchronization complete")
	}

	m.state = newState
}

// setPeersState sets the sync sub-state of every peer currently in the pool.
func (m *SyncManager) setPeersState(newState SyncState) {
	for _, p := range m.peers.snapshot() {
		p.SetSyncState(newState)
	}
}

// stopWorkers signals both periodic loops to exit without waiting for them.
// The terminal transition can run inside the reconciliation loop itself, so
// waiting here would deadlock the worker on its own shutdown.
func (m *SyncManager) stopWorkers() {
	if atomic.AddInt32(&m.shutdown, 1) != 1 {
		return
	}
	close(m.quit)
}

// syncWorker runs the reconciliation loop at the configured tick interval.
// It must be run as a goroutine.
func (m *SyncManager) syncWorker() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	// Run the first pass immediately rather than a full interval after
	// startup.
	m.reconcile()

	for {
		select {
		case <-ticker.C:
			m.reconcile()

		case <-m.quit:
			log.Trace("Sync worker done")
			return
		}
	}
}

// statsWorker periodically logs per-peer sync statistics.  It only performs
// read-only operations over a peer set snapshot, so it may run concurrently
// with reconciliation.  It must be run as a goroutine.
func (m *SyncManager) statsWorker() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.StatsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			state := m.SyncState()
			if state == StateDoneSync {
				continue
			}
			m.statsLogger.logSyncStats(state, m.peers.snapshot(),
				m.diff.bestValue())

		case <-m.quit:
			log.Trace("Sync stats worker done")
			return
		}
	}
}

// reconcile runs one pass of the periodic checks: master progress, peer
// health, stale connection attempts, and peer pool top-up.  Each step
// rechecks the terminal state so a pass that completes the sync takes no
// further action.
func (m *SyncManager) reconcile() {
	if m.SyncState() == StateDoneSync {
		return
	}
	m.checkMaster()
	m.checkPeers()
	if m.SyncState() == StateDoneSync {
		return
	}
	m.removeStaleConnections()
	m.askNewPeers()
}

// checkMaster advances the state machine to block retrieval once the master
// peer has finished walking the hash sequence.
func (m *SyncManager) checkMaster() {
	m.smu.Lock()
	defer m.smu.Unlock()

	if m.state == StateHashRetrieving && m.masterPeer.HashRetrievingDone() {
		m.changeState(StateBlockRetrieving)
	}
}

// checkPeers evicts depleted peers, raises the usefulness floor, finishes
// the sync when a peer reports completion, and kicks idle peers back into
// block retrieval while the queue still holds work.
func (m *SyncManager) checkPeers() {
	var removed []Peer
	for _, p := range m.peers.snapshot() {
		if p.SyncDone() {
			m.ChangeState(StateDoneSync)
			return
		}

		if p.HasNoMoreBlocks() {
			log.Infof("Peer %s: has no more blocks, removing",
				shortNodeID(p.ID()))
			removed = append(removed, p)
			p.SetSyncState(StateIdle)
			if td := p.Status().TotalDifficulty; td != nil {
				m.diff.raiseFloor(td)
			}
		}
	}
	m.diff.raiseFloor(m.cfg.Chain.TotalDifficulty())
	m.peers.removeAll(removed)

	// Force peers to continue block downloading while there are more
	// hashes to process.  Peers go idle when they observe an empty hash
	// store even though it is not the end of the sync.
	if m.SyncState() == StateBlockRetrieving && m.cfg.Queue.HasPendingHashes() {
		for _, p := range m.peers.snapshot() {
			if p.Idle() {
				p.SetSyncState(StateBlockRetrieving)
			}
		}
	}
}

// removeStaleConnections purges connection attempts that have been
// outstanding longer than the connection timeout, unblocking future attempts
// to those nodes.
func (m *SyncManager) removeStaleConnections() {
	for _, nodeID := range m.inFlight.purgeExpired(time.Now()) {
		log.Debugf("Peer %s: connection attempt timed out",
			shortNodeID(nodeID))
	}
}

// askNewPeers tops the peer pool back up to the target size by initiating
// connections to the best discovery candidates that are neither connected
// nor in flight and report a difficulty above the usefulness floor.
func (m *SyncManager) askNewPeers() {
	lack := m.cfg.MaxPeers - m.peers.len()
	if lack <= 0 {
		return
	}

	nodesInUse := make(map[string]struct{})
	for _, p := range m.peers.snapshot() {
		nodesInUse[p.ID()] = struct{}{}
	}
	for _, nodeID := range m.inFlight.ids() {
		nodesInUse[nodeID] = struct{}{}
	}

	floor := m.diff.floorValue()
	filter := func(n Node) bool {
		stats := n.Stats()
		if !stats.HasInboundStatus {
			return false
		}
		if _, ok := nodesInUse[n.ID()]; ok {
			return false
		}
		return stats.TotalDifficulty != nil &&
			stats.TotalDifficulty.Cmp(floor) > 0
	}

	for _, n := range m.cfg.Discovery.Nodes(filter, byBestDifficulty, lack) {
		m.initiateConnection(n)
	}
}

// initiateConnection requests an outbound connection to the node unless an
// attempt is already outstanding.  At most one attempt per node is in flight
// at any time, whether triggered by the discovery callback or the top-up.
func (m *SyncManager) initiateConnection(node Node) {
	if m.SyncState() == StateDoneSync {
		return
	}

	initiated := m.inFlight.initiate(node, func(n Node) {
		log.Debugf("Peer %s: initiating connection",
			shortNodeID(n.ID()))
		m.cfg.Connector.Connect(n)
	})
	if !initiated {
		log.Tracef("Peer %s: connection attempt already in flight",
			shortNodeID(node.ID()))
	}
}

// discoveryFilter gates the nodes the discovery subsystem surfaces to the
// manager: the node must have reported at least one inbound status message
// and its chain must beat the best difficulty reported so far, if any.
func (m *SyncManager) discoveryFilter(stats *NodeStats) bool {
	if !stats.HasInboundStatus {
		return false
	}
	knownTD := m.cfg.Queue.HighestTotalDifficulty()
	if knownTD == nil {
		return true
	}
	return stats.TotalDifficulty != nil && stats.TotalDifficulty.Cmp(knownTD) > 0
}

// discoverListener adapts the manager to the discovery subsystem's listener
// contract.
type discoverListener struct {
	manager *SyncManager
}

// NodeAppeared initiates a connection to a newly surfaced candidate node.
func (l *discoverListener) NodeAppeared(node Node) {
	l.manager.initiateConnection(node)
}

// NodeDisappeared is intentionally a no-op.  Nodes that vanish before a
// connection attempt resolve through the in-flight timeout instead.
func (l *discoverListener) NodeDisappeared(Node) {
}

// byBestDifficulty orders candidate nodes for connection attempts: known
// difficulties descending, nodes with a known difficulty ahead of nodes
// without one, and no preference between two unknowns.
func byBestDifficulty(a, b Node) bool {
	tda := a.Stats().TotalDifficulty
	tdb := b.Stats().TotalDifficulty
	switch {
	case tda != nil && tdb != nil:
		return tda.Cmp(tdb) > 0
	case tda != nil:
		return true
	default:
		return false
	}
}

// shortNodeID returns a truncated form of a node id suitable for log
// messages.
func shortNodeID(nodeID string) string {
	if len(nodeID) <= 8 {
		return nodeID
	}
	return nodeID[:8] + "..."
}

// Copyright (c) 2015-2016 The emberd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netsync

import (
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/emberchain/emberd/chainhash"
)

// testHash returns a distinct hash for use as a peer's best hash in tests.
func testHash(b byte) *chainhash.Hash {
	var hash chainhash.Hash
	hash[0] = b
	return &hash
}

// mockChain implements the Chain contract with a settable total difficulty.
type mockChain struct {
	mtx sync.Mutex
	td  *big.Int
}

func (c *mockChain) TotalDifficulty() *big.Int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return new(big.Int).Set(c.td)
}

func (c *mockChain) setTotalDifficulty(td int64) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.td = big.NewInt(td)
}

// mockQueue implements the ChainQueue contract.
type mockQueue struct {
	mtx      sync.Mutex
	highest  *big.Int
	bestHash *chainhash.Hash
	pending  bool
}

func (q *mockQueue) HighestTotalDifficulty() *big.Int {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	if q.highest == nil {
		return nil
	}
	return new(big.Int).Set(q.highest)
}

func (q *mockQueue) SetHighestTotalDifficulty(td *big.Int) {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	q.highest = new(big.Int).Set(td)
}

func (q *mockQueue) SetBestHash(hash *chainhash.Hash) {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	q.bestHash = hash
}

func (q *mockQueue) HasPendingHashes() bool {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	return q.pending
}

func (q *mockQueue) setPendingHashes(pending bool) {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	q.pending = pending
}

func (q *mockQueue) getBestHash() *chainhash.Hash {
	q.mtx.Lock()
	defer q.mtx.Unlock()
	return q.bestHash
}

// mockPeer implements the Peer contract.
type mockPeer struct {
	mtx                sync.Mutex
	id                 string
	status             *PeerStatus
	state              SyncState
	hashRetrievingDone bool
	noMoreBlocks       bool
	syncDone           bool
	statsLogged        int
}

func newMockPeer(id string, td int64, hashByte byte) *mockPeer {
	return &mockPeer{
		id: id,
		status: &PeerStatus{
			NodeID:          id,
			TotalDifficulty: big.NewInt(td),
			BestHash:        testHash(hashByte),
		},
		state: StateIdle,
	}
}

func (p *mockPeer) ID() string {
	return p.id
}

func (p *mockPeer) Status() *PeerStatus {
	return p.status
}

func (p *mockPeer) SetSyncState(state SyncState) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.state = state
}

func (p *mockPeer) HashRetrievingDone() bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.hashRetrievingDone
}

func (p *mockPeer) HasNoMoreBlocks() bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.noMoreBlocks
}

func (p *mockPeer) SyncDone() bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.syncDone
}

func (p *mockPeer) Idle() bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.state == StateIdle
}

func (p *mockPeer) LogSyncStats() {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.statsLogged++
}

func (p *mockPeer) syncState() SyncState {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.state
}

func (p *mockPeer) setHashRetrievingDone(done bool) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.hashRetrievingDone = done
}

func (p *mockPeer) setNoMoreBlocks(noMore bool) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.noMoreBlocks = noMore
}

func (p *mockPeer) setSyncDone(done bool) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	p.syncDone = done
}

func (p *mockPeer) statsLogCount() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.statsLogged
}

// mockNode implements the Node contract for discovery candidates.
type mockNode struct {
	id    string
	stats *NodeStats
}

func newMockNode(id string, td int64) *mockNode {
	return &mockNode{
		id: id,
		stats: &NodeStats{
			TotalDifficulty:  big.NewInt(td),
			HasInboundStatus: true,
		},
	}
}

// newMockNodeNoStatus returns a candidate node that has never reported an
// inbound status message.
func newMockNodeNoStatus(id string) *mockNode {
	return &mockNode{
		id:    id,
		stats: &NodeStats{},
	}
}

func (n *mockNode) ID() string {
	return n.id
}

func (n *mockNode) Stats() *NodeStats {
	return n.stats
}

// mockDiscovery implements the Discovery contract over a static candidate
// list.
type mockDiscovery struct {
	mtx      sync.Mutex
	nodes    []Node
	listener NodeListener
	filter   NodeFilter
	removed  int
}

func (d *mockDiscovery) AddListener(listener NodeListener, filter NodeFilter) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.listener = listener
	d.filter = filter
}

func (d *mockDiscovery) RemoveListener(listener NodeListener) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	if d.listener == listener {
		d.listener = nil
	}
	d.removed++
}

func (d *mockDiscovery) Nodes(filter func(Node) bool, less func(a, b Node) bool,
	max int) []Node {

	d.mtx.Lock()
	defer d.mtx.Unlock()

	var matched []Node
	for _, n := range d.nodes {
		if filter(n) {
			matched = append(matched, n)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return less(matched[i], matched[j])
	})
	if len(matched) > max {
		matched = matched[:max]
	}
	return matched
}

func (d *mockDiscovery) setNodes(nodes ...Node) {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	d.nodes = nodes
}

func (d *mockDiscovery) removedCount() int {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.removed
}

func (d *mockDiscovery) hasListener() bool {
	d.mtx.Lock()
	defer d.mtx.Unlock()
	return d.listener != nil
}

// mockConnector implements the Connector contract and records connection
// attempts.
type mockConnector struct {
	mtx      sync.Mutex
	attempts []string
}

func (c *mockConnector) Connect(node Node) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.attempts = append(c.attempts, node.ID())
}

func (c *mockConnector) attemptedIDs() []string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	ids := make([]string, len(c.attempts))
	copy(ids, c.attempts)
	return ids
}

// testHarness bundles a SyncManager together with all of its mock
// collaborators.
type testHarness struct {
	manager   *SyncManager
	chain     *mockChain
	queue     *mockQueue
	discovery *mockDiscovery
	connector *mockConnector
	doneCalls int32
}

func (h *testHarness) doneCallCount() int32 {
	return atomic.LoadInt32(&h.doneCalls)
}

// newTestHarness returns a SyncManager backed by mock collaborators with the
// local chain at the given total difficulty.  The manager is not started;
// tests drive the reconciliation steps directly.
func newTestHarness(t *testing.T, chainTD int64) *testHarness {
	t.Helper()

	h := testHarness{
		chain:     &mockChain{td: big.NewInt(chainTD)},
		queue:     &mockQueue{},
		discovery: &mockDiscovery{},
		connector: &mockConnector{},
	}
	m, err := New(&Config{
		Chain:     h.chain,
		Queue:     h.queue,
		Discovery: h.discovery,
		Connector: h.connector,
		OnSyncDone: func() {
			atomic.AddInt32(&h.doneCalls, 1)
		},
		TickInterval:      25 * time.Millisecond,
		ConnectionTimeout: time.Minute,
		StatsInterval:     time.Hour,
	})
	require.NoError(t, err)
	h.manager = m
	return &h
}

// Copyright (c) 2015-2016 The emberd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netsync

import (
	"sync"
)

// peerSet is the concurrently mutable collection of actively syncing peers.
// Iteration is always over a point-in-time snapshot so callers never observe
// a mutation mid-iteration.
type peerSet struct {
	mtx   sync.RWMutex
	peers []Peer
}

// newPeerSet returns a new empty peer set.
func newPeerSet() *peerSet {
	return &peerSet{}
}

// add appends the peer to the set.  Adding a peer that is already a member is
// a no-op.
func (s *peerSet) add(p Peer) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	for _, member := range s.peers {
		if member == p {
			return
		}
	}
	s.peers = append(s.peers, p)
}

// remove removes the peer from the set if present.
func (s *peerSet) remove(p Peer) {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.removeLocked(p)
}

// removeAll removes every listed peer from the set in one critical section,
// so the removals collected during a reconciliation pass take effect
// atomically at the end of that pass.
func (s *peerSet) removeAll(peers []Peer) {
	if len(peers) == 0 {
		return
	}

	s.mtx.Lock()
	defer s.mtx.Unlock()

	for _, p := range peers {
		s.removeLocked(p)
	}
}

// removeLocked removes the peer from the backing slice.  It must be called
// with the peer set lock held for writes.
func (s *peerSet) removeLocked(p Peer) {
	for i, member := range s.peers {
		if member == p {
			s.peers = append(s.peers[:i], s.peers[i+1:]...)
			return
		}
	}
}

// clear removes every peer from the set.
func (s *peerSet) clear() {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	s.peers = nil
}

// len returns the number of peers currently in the set.
func (s *peerSet) len() int {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	return len(s.peers)
}

// snapshot returns a copy of the current membership.  The returned slice is
// owned by the caller and is unaffected by concurrent mutation of the set.
func (s *peerSet) snapshot() []Peer {
	s.mtx.RLock()
	defer s.mtx.RUnlock()

	peers := make([]Peer, len(s.peers))
	copy(peers, s.peers)
	return peers
}

// Copyright (c) 2015-2016 The emberd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netsync

import (
	"math/big"
	"sync"

	"github.com/btcsuite/btclog"
)

// peerStatsLogger provides periodic logging of the syncing peer pool to show
// users the progress of the sync.  It only performs read-only operations on
// the peer handles so it is safe to run concurrently with reconciliation.
type peerStatsLogger struct {
	subsystemLogger btclog.Logger
	sync.Mutex
}

// newPeerStatsLogger returns a new peer stats logger.
func newPeerStatsLogger(logger btclog.Logger) *peerStatsLogger {
	return &peerStatsLogger{
		subsystemLogger: logger,
	}
}

// logSyncStats logs a summary of the current sync followed by each peer's
// own download statistics.
func (l *peerStatsLogger) logSyncStats(state SyncState, peers []Peer, best *big.Int) {
	l.Lock()
	defer l.Unlock()

	peerStr := "peers"
	if len(peers) == 1 {
		peerStr = "peer"
	}
	bestStr := "unknown"
	if best != nil {
		bestStr = best.String()
	}
	l.subsystemLogger.Infof("Sync state %v with %d %s (best known "+
		"difficulty %s)", state, len(peers), peerStr, bestStr)

	for _, p := range peers {
		p.LogSyncStats()
	}
}

// Copyright (c) 2015-2016 The emberd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

/*
Package netsync implements a concurrency safe chain syncing coordinator.  The
SyncManager decides which remote peers to synchronize against, elects a single
master peer to retrieve the canonical hash sequence from based on cumulative
chain difficulty, and continuously rebalances the peer pool as peers become
useless, disconnect, or fail to respond.  The actual wire protocol handling,
hash and block download, node discovery, and chain storage are performed by
external collaborators which the sync manager drives through the contracts
declared in this package.
*/
package netsync

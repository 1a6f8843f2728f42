// Copyright (c) 2015-2016 The emberd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netsync

// SyncState represents the state of the global synchronization state machine
// as well as the sync sub-state of an individual peer.
type SyncState uint8

// Constants for the sync states.  The global state machine only moves forward
// through StateInit, StateHashRetrieving, StateBlockRetrieving, and
// StateDoneSync.  StateIdle is a peer-local resting state and is never used
// as a global state.
const (
	// StateInit is the initial state before any useful peer has been
	// admitted.
	StateInit SyncState = iota

	// StateHashRetrieving means the master peer is walking the hash
	// sequence toward the best known chain head.
	StateHashRetrieving

	// StateBlockRetrieving means peers are downloading block bodies for
	// the previously retrieved hashes.
	StateBlockRetrieving

	// StateDoneSync is the terminal state.  Once entered no further
	// transitions, peer admissions, or removals take effect.
	StateDoneSync

	// StateIdle is a peer-local state for peers that currently have no
	// work assigned.
	StateIdle
)

// stateStrings is a map of sync states back to their constant names for
// pretty printing.
var stateStrings = map[SyncState]string{
	StateInit:            "INIT",
	StateHashRetrieving:  "HASH_RETRIEVING",
	StateBlockRetrieving: "BLOCK_RETRIEVING",
	StateDoneSync:        "DONE_SYNC",
	StateIdle:            "IDLE",
}

// String returns the state in human-readable form.
func (s SyncState) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "UNKNOWN_STATE"
}

// Copyright (c) 2015-2016 The emberd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package netsync

import (
	"math/big"
	"sync"
)

// difficultyTracker holds the total-difficulty floor below which a peer is
// not worth synchronizing with, along with the best total difficulty reported
// by any admitted peer.  The floor only ever rises, either because the local
// chain advanced past it or because a depleted peer's difficulty became the
// new floor, so every update is compare-and-raise rather than a blind write.
type difficultyTracker struct {
	sync.Mutex
	floor *big.Int
	best  *big.Int
}

// newDifficultyTracker returns a tracker with a zero floor and no best known
// difficulty.
func newDifficultyTracker() *difficultyTracker {
	return &difficultyTracker{
		floor: new(big.Int),
	}
}

// raiseFloor raises the usefulness floor to td if td is strictly greater
// than the current floor.  It returns whether the floor was raised.
func (t *difficultyTracker) raiseFloor(td *big.Int) bool {
	if td == nil {
		return false
	}

	t.Lock()
	defer t.Unlock()

	if td.Cmp(t.floor) <= 0 {
		return false
	}
	t.floor = new(big.Int).Set(td)
	return true
}

// floorValue returns a copy of the current usefulness floor.
func (t *difficultyTracker) floorValue() *big.Int {
	t.Lock()
	defer t.Unlock()

	return new(big.Int).Set(t.floor)
}

// raiseBest records td as the best known peer difficulty if it exceeds the
// previous best.
func (t *difficultyTracker) raiseBest(td *big.Int) {
	if td == nil {
		return
	}

	t.Lock()
	defer t.Unlock()

	if t.best != nil && td.Cmp(t.best) <= 0 {
		return
	}
	t.best = new(big.Int).Set(td)
}

// bestValue returns a copy of the best known peer difficulty, or nil if no
// peer has reported yet.
func (t *difficultyTracker) bestValue() *big.Int {
	t.Lock()
	defer t.Unlock()

	if t.best == nil {
		return nil
	}
	return new(big.Int).Set(t.best)
}

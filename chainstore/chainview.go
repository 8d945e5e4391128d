// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainstore

import "github.com/scribechain/scribed/chainmodel"

// ancestorAtHeight climbs parent pointers from n to the ancestor at the
// given height, regardless of which branch n sits on. ExpectedDifficulty
// uses it to find the retarget window's first block on a candidate block's
// own branch, not necessarily the active one.
func ancestorAtHeight(n *node, height uint64) (*node, bool) {
	if n == nil || height > n.header.Height {
		return nil, false
	}
	for n.header.Height > height {
		if n.parent == nil {
			return nil, false
		}
		n = n.parent
	}
	return n, true
}

func (s *Store) nodeForHeader(h chainmodel.Header) *node {
	return s.blocksByHash[h.Hash()]
}

// ExpectedDifficulty satisfies validator.ChainView: the independently
// recomputed difficulty for the block that would extend parent.
// Non-boundary heights simply inherit the parent's difficulty.
func (s *Store) ExpectedDifficulty(parent chainmodel.Header) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	height := parent.Height + 1
	w := s.params.RetargetWindow
	if w == 0 || height < w || height%w != 0 {
		return parent.Difficulty
	}

	parentNode := s.nodeForHeader(parent)
	if parentNode == nil {
		return parent.Difficulty
	}
	windowStart, ok := ancestorAtHeight(parentNode, height-w)
	if !ok {
		return parent.Difficulty
	}

	dt := parent.Timestamp - windowStart.header.Timestamp
	if dt == 0 {
		dt = 1
	}
	target := float64(s.params.BlockTimeTarget) * float64(w)
	ratio := target / float64(dt)
	if ratio < s.params.RetargetClampMin {
		ratio = s.params.RetargetClampMin
	}
	if ratio > s.params.RetargetClampMax {
		ratio = s.params.RetargetClampMax
	}
	newDiff := roundHalfAwayFromZero(float64(parent.Difficulty) * ratio)
	if newDiff < 1 {
		newDiff = 1
	}
	return newDiff
}

func roundHalfAwayFromZero(f float64) uint64 {
	return uint64(f + 0.5)
}

// MedianTimePast satisfies validator.ChainView: the median timestamp of
// parent and its MedianTimeWindow-1 closest ancestors.
func (s *Store) MedianTimePast(parent chainmodel.Header) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.nodeForHeader(parent)
	if n == nil {
		return parent.Timestamp
	}
	window := s.params.MedianTimeWindow
	if window <= 0 {
		window = 1
	}
	timestamps := make([]uint64, 0, window)
	for cur := n; cur != nil && len(timestamps) < window; cur = cur.parent {
		timestamps = append(timestamps, cur.header.Timestamp)
	}
	return median(timestamps)
}

func median(ts []uint64) uint64 {
	if len(ts) == 0 {
		return 0
	}
	sorted := append([]uint64(nil), ts...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j-1] > sorted[j]; j-- {
			sorted[j-1], sorted[j] = sorted[j], sorted[j-1]
		}
	}
	return sorted[len(sorted)/2]
}

// branchView resolves confirmed-transaction references against the branch
// ending at a chosen block rather than the active branch. Block validation
// must see references the way a node that synced that branch from genesis
// would: the shared prefix below the fork point comes from the store's
// active-branch index, blocks on the divergent active segment are masked
// out, and blocks on the candidate's own segment are overlaid on top.
// Header, difficulty and median-time lookups are branch-aware already and
// delegate to the store.
type branchView struct {
	s       *Store
	removed map[chainmodel.Hash]struct{}
	added   map[chainmodel.Hash]txRecord
}

// branchViewAt builds the reference view for a block extending parent.
// When parent is the active tip both overlays are empty and every lookup
// falls straight through to the store's index.
func (s *Store) branchViewAt(parent *node) *branchView {
	s.mu.RLock()
	tip := s.tip
	s.mu.RUnlock()

	v := &branchView{
		s:       s,
		removed: make(map[chainmodel.Hash]struct{}),
		added:   make(map[chainmodel.Hash]txRecord),
	}
	if parent == tip {
		return v
	}
	lca := commonAncestor(parent, tip)
	for _, n := range pathFrom(lca, tip) {
		for _, tx := range n.txs {
			v.removed[tx.Hash()] = struct{}{}
		}
	}
	for _, n := range pathFrom(lca, parent) {
		v.addBlock(n)
	}
	return v
}

// addBlock overlays n's transactions onto the view, extending the branch
// one block. Used as a reorg re-applies blocks in order so each block
// resolves references against the branch state its own validation assumes.
func (v *branchView) addBlock(n *node) {
	for _, tx := range n.txs {
		v.added[tx.Hash()] = txRecord{
			Kind:      tx.Kind,
			Author:    tx.Author(),
			BlockHash: n.hash,
			Height:    n.header.Height,
		}
	}
}

func (v *branchView) HeaderByHash(h chainmodel.Hash) (chainmodel.Header, bool) {
	return v.s.HeaderByHash(h)
}

func (v *branchView) ExpectedDifficulty(parent chainmodel.Header) uint64 {
	return v.s.ExpectedDifficulty(parent)
}

func (v *branchView) MedianTimePast(parent chainmodel.Header) uint64 {
	return v.s.MedianTimePast(parent)
}

func (v *branchView) ConfirmedKind(h chainmodel.Hash) (chainmodel.Kind, bool) {
	if rec, ok := v.added[h]; ok {
		return rec.Kind, true
	}
	if _, ok := v.removed[h]; ok {
		return 0, false
	}
	return v.s.ConfirmedKind(h)
}

func (v *branchView) PostAuthor(postHash chainmodel.Hash) (chainmodel.PubKey, bool) {
	if rec, ok := v.added[postHash]; ok {
		if rec.Kind != chainmodel.KindPost {
			return chainmodel.PubKey{}, false
		}
		return rec.Author, true
	}
	if _, ok := v.removed[postHash]; ok {
		return chainmodel.PubKey{}, false
	}
	return v.s.PostAuthor(postHash)
}

// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainstore

import (
	"math/big"

	"github.com/pkg/errors"

	"github.com/scribechain/scribed/chainmodel"
	"github.com/scribechain/scribed/scriberr"
	"github.com/scribechain/scribed/validator"
)

// InsertBlock validates block (if its parent is known) and, if it becomes
// the heaviest known tip, activates it — rewinding and re-applying state
// across a reorg if the new tip diverges from the current one. A block
// whose parent is unknown is parked in the orphan pool pending that
// ancestor's arrival.
func (s *Store) InsertBlock(block chainmodel.Block) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.insertLocked(block)
}

func (s *Store) insertLocked(block chainmodel.Block) error {
	hash := block.Hash()

	s.mu.RLock()
	_, exists := s.blocksByHash[hash]
	parent, hasParent := s.blocksByHash[block.Header.PrevHash]
	s.mu.RUnlock()
	if exists {
		return nil
	}
	if !hasParent {
		s.mu.Lock()
		s.orphans[block.Header.PrevHash] = append(s.orphans[block.Header.PrevHash], block)
		s.mu.Unlock()
		return scriberr.New(scriberr.ErrUnknownParent, "block %s's parent %s is unknown", hash, block.Header.PrevHash)
	}

	if err := s.acceptBlock(block, parent); err != nil {
		return err
	}

	s.mu.Lock()
	pending := s.orphans[hash]
	delete(s.orphans, hash)
	s.mu.Unlock()
	for _, child := range pending {
		if err := s.insertLocked(child); err != nil {
			log.Warnf("orphan %s did not accept once parent %s arrived: %v", child.Hash(), hash, err)
		}
	}
	return nil
}

func (s *Store) acceptBlock(block chainmodel.Block, parent *node) error {
	parentState := s.stateViewForParent(parent)
	// References resolve against the branch being extended, not the active
	// one, so a fork block is judged exactly as a node that synced its
	// branch from genesis would judge it.
	view := s.branchViewAt(parent)
	_, touched, err := validator.ValidateBlockWithDiff(block, parent.header, parentState, view, view, s.params, now())
	if err != nil {
		return err
	}

	n := &node{
		header:  block.Header,
		hash:    block.Hash(),
		parent:  parent,
		txs:     block.Transactions,
		work:    new(big.Int).Add(parent.work, workFor(block.Header.Difficulty)),
		touched: touched,
	}

	s.mu.Lock()
	s.blocksByHash[n.hash] = n
	s.mu.Unlock()
	if err := s.persistNode(n, false); err != nil {
		return err
	}

	s.mu.RLock()
	currentTip := s.tip
	s.mu.RUnlock()

	// Ties (equal cumulative work) keep the first-observed tip; only
	// strictly greater work triggers activation.
	if n.work.Cmp(currentTip.work) <= 0 {
		return nil
	}
	return s.activateTip(n, currentTip)
}

// activateTip makes newTip the active tip, reorganizing if it diverges
// from oldTip: find the common ancestor, rewind state to it, re-apply the
// new branch, re-inject displaced transactions, publish the change.
func (s *Store) activateTip(newTip, oldTip *node) error {
	lca := commonAncestor(oldTip, newTip)

	depth := newTip.header.Height - lca.header.Height
	if depth > s.params.MaxReorgDepth {
		return scriberr.New(scriberr.ErrReorgTooDeep,
			"reorg to %s would rewind %d blocks, exceeding the configured %d", newTip.hash, depth, s.params.MaxReorgDepth)
	}

	isReorg := lca != oldTip
	var revertedHashes []chainmodel.Hash

	if isReorg {
		if err := s.state.RewindTo(lca.hash); err != nil {
			return scriberr.New(scriberr.ErrReorgTooDeep, "cannot rewind state to %s: %v", lca.hash, err)
		}

		// The store's index still describes the old branch until the swap
		// below, so re-validation and re-application resolve references
		// through a view of the new branch as it grows.
		view := s.branchViewAt(lca)
		newPath := pathFrom(lca, newTip)
		for _, n := range newPath {
			block := chainmodel.Block{Header: n.header, Transactions: n.txs}
			parentHeader := n.parent.header
			if _, _, err := validator.ValidateBlockWithDiff(block, parentHeader, s.state, view, view, s.params, now()); err != nil {
				s.abortReorg(oldTip, lca)
				return errors.Wrapf(err, "reorg: block %s failed re-validation against rewound state", n.hash)
			}
			if _, err := s.state.Apply(block, view); err != nil {
				s.abortReorg(oldTip, lca)
				return errors.Wrapf(err, "reorg: block %s failed to apply", n.hash)
			}
			view.addBlock(n)
		}

		oldPath := pathFrom(lca, oldTip)
		revertedHashes = make([]chainmodel.Hash, 0, len(oldPath))
		for _, n := range oldPath {
			revertedHashes = append(revertedHashes, n.hash)
		}

		s.mu.Lock()
		for h := lca.header.Height + 1; h <= oldTip.header.Height; h++ {
			delete(s.activeByHeight, h)
		}
		for _, n := range oldPath {
			s.deindexConfirmedTxsLocked(n)
		}
		for _, n := range newPath {
			s.activeByHeight[n.header.Height] = n
			s.indexConfirmedTxsLocked(n)
		}
		s.tip = newTip
		s.mu.Unlock()

		s.reinjectDisplaced(oldPath, newPath)
	} else {
		// Plain extension of the active tip. The path is almost always the
		// single new block, but walking it keeps state correct if an
		// earlier activation failed partway and left applied-but-inactive
		// descendants behind.
		view := s.branchViewAt(lca)
		for _, n := range pathFrom(lca, newTip) {
			block := chainmodel.Block{Header: n.header, Transactions: n.txs}
			if _, err := s.state.Apply(block, view); err != nil {
				return errors.Wrapf(err, "applying new tip %s", n.hash)
			}
			view.addBlock(n)
			s.mu.Lock()
			s.activeByHeight[n.header.Height] = n
			s.indexConfirmedTxsLocked(n)
			s.tip = n
			s.mu.Unlock()
		}
	}

	for _, tx := range newTip.txs {
		s.pool.Remove(tx.Hash())
	}
	if dropped := s.pool.RevalidateAgainstTip(s.state, s); len(dropped) > 0 {
		log.Debugf("tip change to %s dropped %d stale mempool entries", newTip.hash, len(dropped))
	}

	if err := s.persistTip(newTip); err != nil {
		return err
	}

	s.publish(TipChange{Header: newTip.header, Hash: newTip.hash, IsReorg: isReorg, Reverted: revertedHashes})
	return nil
}

// abortReorg restores the state store to oldTip after a re-validation
// failure partway through a reorg: the previous active tip is retained and
// the new branch stays inactive.
func (s *Store) abortReorg(oldTip, lca *node) {
	if err := s.state.RewindTo(lca.hash); err != nil {
		log.Errorf("abortReorg: could not even rewind to lca %s: %v", lca.hash, err)
		return
	}
	for _, n := range pathFrom(lca, oldTip) {
		block := chainmodel.Block{Header: n.header, Transactions: n.txs}
		if _, err := s.state.Apply(block, s); err != nil {
			log.Errorf("abortReorg: could not restore block %s: %v", n.hash, err)
			return
		}
	}
}

// reinjectDisplaced re-admits every transaction from the abandoned branch
// that doesn't also appear in the new branch, subject to current state
// validity and mempool capacity.
func (s *Store) reinjectDisplaced(oldPath, newPath []*node) {
	inNew := make(map[chainmodel.Hash]struct{})
	for _, n := range newPath {
		for _, tx := range n.txs {
			inNew[tx.Hash()] = struct{}{}
		}
	}
	for _, n := range oldPath {
		for _, tx := range n.txs {
			if tx.Kind == chainmodel.KindCoinbase {
				continue
			}
			if _, ok := inNew[tx.Hash()]; ok {
				continue
			}
			if err := s.pool.Admit(tx, s.state, s); err != nil {
				log.Debugf("reorg: displaced tx %s not re-admitted: %v", tx.Hash(), err)
			}
		}
	}
}

// commonAncestor finds the lowest common ancestor of a and b by walking
// parent pointers, first equalizing height then stepping both together.
func commonAncestor(a, b *node) *node {
	for a.header.Height > b.header.Height {
		a = a.parent
	}
	for b.header.Height > a.header.Height {
		b = b.parent
	}
	for a != b {
		a = a.parent
		b = b.parent
	}
	return a
}

// pathFrom returns the nodes strictly after from up to and including to,
// in ascending height order.
func pathFrom(from, to *node) []*node {
	var rev []*node
	for n := to; n != from; n = n.parent {
		rev = append(rev, n)
	}
	path := make([]*node, len(rev))
	for i, n := range rev {
		path[len(rev)-1-i] = n
	}
	return path
}

// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package validator

import (
	"github.com/scribechain/scribed/chainmodel"
	"github.com/scribechain/scribed/chainparams"
	"github.com/scribechain/scribed/scriberr"
	"github.com/scribechain/scribed/worldstate"
)

// PostAuthorView resolves a confirmed post's hash to its author, needed to
// credit an endorsement's beneficiary while sequentially re-deriving a
// candidate block's state root.
type PostAuthorView interface {
	PostAuthor(postHash chainmodel.Hash) (chainmodel.PubKey, bool)
}

// ValidateBlock runs every block-level consensus check in order and, on
// success, returns the state root that results from applying the block to
// parentState. No partial application is ever observable: the overlay is
// discarded if any check fails.
func ValidateBlock(block chainmodel.Block, parentHeader chainmodel.Header, parentState StateView,
	posts PostAuthorView, chain ChainView, params chainparams.Params, now uint64) (chainmodel.Hash, error) {
	root, _, err := ValidateBlockWithDiff(block, parentHeader, parentState, posts, chain, params, now)
	return root, err
}

// ValidateBlockWithDiff is ValidateBlock plus the map of every account
// touched by the block, at its final post-block value. The chain store
// needs this diff to build per-branch state views for blocks extending a
// node that isn't the current active tip (a competing fork), without
// mutating the real state store to find out.
func ValidateBlockWithDiff(block chainmodel.Block, parentHeader chainmodel.Header, parentState StateView,
	posts PostAuthorView, chain ChainView, params chainparams.Params, now uint64) (chainmodel.Hash, map[chainmodel.PubKey]chainmodel.Account, error) {

	// 1. Header well-formed; tx_count matches; body within size limit.
	if block.Header.Version == 0 || block.Header.Version > 1 {
		return chainmodel.Hash{}, nil, scriberr.New(scriberr.ErrConsensusViolation,
			"unsupported block version %d", block.Header.Version)
	}
	if int(block.Header.TxCount) != len(block.Transactions) {
		return chainmodel.Hash{}, nil, scriberr.New(scriberr.ErrMalformedEncoding,
			"tx_count %d does not match body length %d", block.Header.TxCount, len(block.Transactions))
	}
	if len(block.CanonicalBodyBytes()) > params.MaxBlockBodyBytes {
		return chainmodel.Hash{}, nil, scriberr.New(scriberr.ErrLimitExceeded,
			"block body exceeds %d bytes", params.MaxBlockBodyBytes)
	}

	// 2. prev_hash resolves; height is parent height + 1.
	if block.Header.PrevHash != parentHeader.Hash() {
		return chainmodel.Hash{}, nil, scriberr.New(scriberr.ErrUnknownParent,
			"block's prev_hash %s does not match supplied parent", block.Header.PrevHash)
	}
	if block.Header.Height != parentHeader.Height+1 {
		return chainmodel.Hash{}, nil, scriberr.New(scriberr.ErrConsensusViolation,
			"height %d is not parent height %d + 1", block.Header.Height, parentHeader.Height)
	}

	// 3. difficulty matches the independently computed value.
	expectedDifficulty := chain.ExpectedDifficulty(parentHeader)
	if block.Header.Difficulty != expectedDifficulty {
		return chainmodel.Hash{}, nil, scriberr.New(scriberr.ErrConsensusViolation,
			"difficulty %d does not match expected %d", block.Header.Difficulty, expectedDifficulty)
	}

	// 4. timestamp strictly greater than median-time-past, and not too far
	// into the future.
	medianTimePast := chain.MedianTimePast(parentHeader)
	if block.Header.Timestamp <= medianTimePast {
		return chainmodel.Hash{}, nil, scriberr.New(scriberr.ErrConsensusViolation,
			"timestamp %d is not after median time past %d", block.Header.Timestamp, medianTimePast)
	}
	maxFuture := now + uint64(params.MaxFutureTimeDrift)
	if block.Header.Timestamp > maxFuture {
		return chainmodel.Hash{}, nil, scriberr.New(scriberr.ErrConsensusViolation,
			"timestamp %d is too far in the future (max %d)", block.Header.Timestamp, maxFuture)
	}

	// 5. proof of work.
	if !block.Header.MeetsTarget() {
		return chainmodel.Hash{}, nil, scriberr.New(scriberr.ErrConsensusViolation,
			"block hash does not meet difficulty %d target", block.Header.Difficulty)
	}

	// 6. exactly one coinbase, first, paying miner reward(height).
	if len(block.Transactions) == 0 || block.Transactions[0].Kind != chainmodel.KindCoinbase {
		return chainmodel.Hash{}, nil, scriberr.New(scriberr.ErrConsensusViolation, "block's first transaction is not a coinbase")
	}
	cb := block.Transactions[0].Coinbase
	if cb.Recipient != block.Header.Miner {
		return chainmodel.Hash{}, nil, scriberr.New(scriberr.ErrConsensusViolation,
			"coinbase recipient %s does not match header miner %s", cb.Recipient, block.Header.Miner)
	}
	wantReward := params.Reward(block.Header.Height)
	if cb.Amount != wantReward {
		return chainmodel.Hash{}, nil, scriberr.New(scriberr.ErrConsensusViolation,
			"coinbase amount %d does not match reward(%d) = %d", cb.Amount, block.Header.Height, wantReward)
	}
	if cb.Height != block.Header.Height {
		return chainmodel.Hash{}, nil, scriberr.New(scriberr.ErrConsensusViolation,
			"coinbase height %d does not match block height %d", cb.Height, block.Header.Height)
	}
	for _, tx := range block.Transactions[1:] {
		if tx.Kind == chainmodel.KindCoinbase {
			return chainmodel.Hash{}, nil, scriberr.New(scriberr.ErrConsensusViolation, "block contains more than one coinbase")
		}
	}

	// 7. remaining transactions validate sequentially against a running
	// state starting at parentState; any failure invalidates the whole
	// block (the overlay below is local and discarded on error).
	ov := newOverlay(parentState)
	ov.credit(cb.Recipient, cb.Amount)
	for _, tx := range block.Transactions[1:] {
		if err := ValidateTx(tx, ov, chain, params); err != nil {
			return chainmodel.Hash{}, nil, err
		}
		// Fees are credited to the miner immediately per transaction
		// (not batched at block end) so that a miner who is also a
		// same-block author can spend fee income from an
		// earlier-ordered transaction, matching statestore.Store's
		// application order exactly.
		if err := applyOverlay(ov, tx, posts); err != nil {
			return chainmodel.Hash{}, nil, err
		}
		ov.credit(block.Header.Miner, tx.GasFee())
	}

	// 8. recomputed tx_merkle_root and state_root must match the header.
	gotMerkle := block.ComputeTxMerkleRoot()
	if gotMerkle != block.Header.TxMerkleRoot {
		return chainmodel.Hash{}, nil, scriberr.New(scriberr.ErrConsensusViolation,
			"tx_merkle_root %s does not match recomputed %s", block.Header.TxMerkleRoot, gotMerkle)
	}

	gotStateRoot := worldstate.Root(ov.AllAccounts())
	if gotStateRoot != block.Header.StateRoot {
		return chainmodel.Hash{}, nil, scriberr.New(scriberr.ErrConsensusViolation,
			"state_root %s does not match recomputed %s", block.Header.StateRoot, gotStateRoot)
	}

	return gotStateRoot, ov.changes, nil
}

// CandidateStateRoot computes the state_root (and per-account diff) that
// would result from applying txs — coinbase first, exactly as a miner
// assembles a candidate body — to baseState, without any block-header
// consensus check (difficulty, PoW, timestamp). The miner uses this to
// fill in a candidate's state_root before it has found a passing nonce;
// ValidateBlockWithDiff re-derives the same root once the header is
// complete, via the shared applyOverlay helper below.
func CandidateStateRoot(txs []chainmodel.Transaction, baseState StateView, posts PostAuthorView) (chainmodel.Hash, error) {
	if len(txs) == 0 || txs[0].Kind != chainmodel.KindCoinbase {
		return chainmodel.Hash{}, scriberr.New(scriberr.ErrConsensusViolation, "candidate body must start with a coinbase")
	}
	ov := newOverlay(baseState)
	cb := txs[0].Coinbase
	ov.credit(cb.Recipient, cb.Amount)
	for _, tx := range txs[1:] {
		if err := applyOverlay(ov, tx, posts); err != nil {
			return chainmodel.Hash{}, err
		}
		ov.credit(cb.Recipient, tx.GasFee())
	}
	return worldstate.Root(ov.AllAccounts()), nil
}

// applyOverlay mutates ov to reflect tx's effect, mirroring
// statestore.Store.applyTx but against the validator's local scratch state.
func applyOverlay(ov *overlay, tx chainmodel.Transaction, posts PostAuthorView) error {
	switch tx.Kind {
	case chainmodel.KindPost:
		p := tx.Post
		if err := ov.debit(p.Author, p.GasFee); err != nil {
			return err
		}
		ov.setNonce(p.Author, p.Nonce)
	case chainmodel.KindEndorse:
		e := tx.Endorse
		if err := ov.debit(e.Author, e.Amount+e.GasFee); err != nil {
			return err
		}
		if e.Amount > 0 {
			beneficiary, ok := posts.PostAuthor(e.Target)
			if !ok {
				return scriberr.New(scriberr.ErrReferenceNotFound, "endorse target %s has no known author", e.Target)
			}
			ov.credit(beneficiary, e.Amount)
		}
		ov.setNonce(e.Author, e.Nonce)
	case chainmodel.KindTransfer:
		t := tx.Transfer
		if err := ov.debit(t.Sender, t.Amount+t.GasFee); err != nil {
			return err
		}
		ov.credit(t.Recipient, t.Amount)
		ov.setNonce(t.Sender, t.Nonce)
	}
	return nil
}

// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package miner assembles candidate blocks from the mempool and iterates
// the header nonce until the block meets its difficulty target. The miner
// runs in-process against the chain store and submits solved blocks
// through the same validation path as blocks received from peers.
package miner

import (
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/scribechain/scribed/chainmodel"
	"github.com/scribechain/scribed/chainparams"
	"github.com/scribechain/scribed/chainstore"
	"github.com/scribechain/scribed/logs"
	"github.com/scribechain/scribed/mempool"
	"github.com/scribechain/scribed/validator"
)

var log = logs.Get("MINR")

// checkInterval bounds how often the inner hashing loop checks for a tip
// change or cancellation signal.
const checkInterval = 1 << 20

// Miner is the node's single logical mining worker: it snapshots the
// active tip, assembles a candidate body from the mempool, and iterates
// nonce until proof-of-work succeeds or the candidate is abandoned because
// the tip moved.
type Miner struct {
	chain  *chainstore.Store
	pool   *mempool.Pool
	params chainparams.Params

	minerPubKey chainmodel.PubKey
	hashesTried uint64
}

// New creates a miner paying its block rewards to minerPubKey.
func New(chain *chainstore.Store, pool *mempool.Pool, params chainparams.Params, minerPubKey chainmodel.PubKey) *Miner {
	return &Miner{chain: chain, pool: pool, params: params, minerPubKey: minerPubKey}
}

// Run mines continuously until stop is closed. Each iteration assembles a
// fresh candidate against the current tip and mempool, solves it (aborting
// early on tip change), and submits any solved block through
// chainstore.InsertBlock, never a shortcut that bypasses validation.
func (m *Miner) Run(stop <-chan struct{}) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-stop:
			return
		default:
		}

		tipChanged, cancel := m.chain.Subscribe()
		block, ok := m.mineOnce(rng, tipChanged, stop)
		cancel()
		if !ok {
			continue
		}

		if err := m.chain.InsertBlock(block); err != nil {
			// The miner surfaces no user-facing errors; a rejected
			// self-mined block (e.g. a race against a peer's
			// faster-arriving block at the same height) is simply
			// abandoned.
			log.Debugf("mined block %s rejected, abandoning: %v", block.Hash(), err)
			continue
		}
		log.Infof("mined block %d (%s)", block.Header.Height, block.Hash())
	}
}

// mineOnce assembles one candidate and iterates its nonce until PoW
// succeeds, the tip changes, or stop fires.
func (m *Miner) mineOnce(rng *rand.Rand, tipChanged <-chan chainstore.TipChange, stop <-chan struct{}) (chainmodel.Block, bool) {
	parent := m.chain.Tip()
	block := m.assembleCandidate(parent)
	nonce := rng.Uint64()

	for {
		select {
		case <-stop:
			return chainmodel.Block{}, false
		case <-tipChanged:
			return chainmodel.Block{}, false
		default:
		}

		for i := 0; i < checkInterval; i++ {
			block.Header.Nonce = nonce
			atomic.AddUint64(&m.hashesTried, 1)
			if block.Header.MeetsTarget() {
				return block, true
			}
			nonce++
		}

		// Every checkInterval tries, refresh the timestamp (wall-clock
		// may have advanced enough to matter for a future retarget) and
		// re-check the tip before continuing the same candidate body.
		if m.chain.Tip().Hash() != parent.Hash() {
			return chainmodel.Block{}, false
		}
		block.Header.Timestamp = candidateTimestamp(parent)
	}
}

// assembleCandidate builds a full candidate block (coinbase first, then a
// fee-ordered mempool selection) against parent, with a provisional nonce
// of 0 — the nonce is iterated by mineOnce.
func (m *Miner) assembleCandidate(parent chainmodel.Header) chainmodel.Block {
	reward := m.params.Reward(parent.Height + 1)
	coinbase := chainmodel.Transaction{
		Kind: chainmodel.KindCoinbase,
		Coinbase: &chainmodel.CoinbaseTx{
			Recipient: m.minerPubKey,
			Amount:    reward,
			Height:    parent.Height + 1,
		},
	}

	headerOverhead := len(chainmodel.Block{Header: chainmodel.Header{}, Transactions: []chainmodel.Transaction{coinbase}}.CanonicalBodyBytes())
	budget := m.params.MaxBlockBodyBytes - headerOverhead
	if budget < 0 {
		budget = 0
	}
	stateView := m.chain.StateView()
	selected := m.pool.Select(budget, stateView, m.chain)

	txs := make([]chainmodel.Transaction, 0, len(selected)+1)
	txs = append(txs, coinbase)
	txs = append(txs, selected...)

	stateRoot, err := validator.CandidateStateRoot(txs, stateView, m.chain)
	if err != nil {
		// A selected transaction that was individually valid against the
		// mempool's view somehow fails against the live tip (a race with
		// a just-applied block); drop the mempool contribution and mine
		// a coinbase-only candidate rather than abandon mining entirely.
		log.Debugf("candidate assembly fell back to coinbase-only: %v", err)
		txs = txs[:1]
		stateRoot, _ = validator.CandidateStateRoot(txs, stateView, m.chain)
	}

	header := chainmodel.Header{
		Version:      1,
		Height:       parent.Height + 1,
		PrevHash:     parent.Hash(),
		Timestamp:    candidateTimestamp(parent),
		Miner:        m.minerPubKey,
		Difficulty:   m.chain.ExpectedDifficulty(parent),
		Nonce:        0,
		TxCount:      uint16(len(txs)),
		TxMerkleRoot: chainmodel.Block{Transactions: txs}.ComputeTxMerkleRoot(),
		StateRoot:    stateRoot,
	}
	return chainmodel.Block{Header: header, Transactions: txs}
}

// candidateTimestamp is max(parent_timestamp + 1, wall_clock).
func candidateTimestamp(parent chainmodel.Header) uint64 {
	now := uint64(time.Now().Unix())
	if parent.Timestamp+1 > now {
		return parent.Timestamp + 1
	}
	return now
}

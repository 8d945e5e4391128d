// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package miner

import (
	"crypto/ed25519"
	"testing"

	"github.com/scribechain/scribed/chainmodel"
	"github.com/scribechain/scribed/chainparams"
	"github.com/scribechain/scribed/chainstore"
	"github.com/scribechain/scribed/mempool"
	"github.com/scribechain/scribed/statestore"
)

func testKey(t *testing.T, seed byte) (chainmodel.PubKey, ed25519.PrivateKey) {
	t.Helper()
	var seedBytes [ed25519.SeedSize]byte
	seedBytes[0] = seed
	priv := ed25519.NewKeyFromSeed(seedBytes[:])
	var pub chainmodel.PubKey
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	return pub, priv
}

func newTestMiner(t *testing.T) (*Miner, *chainstore.Store, *mempool.Pool, *statestore.Store) {
	t.Helper()
	params := chainparams.Simnet
	state, err := statestore.Open(t.TempDir(), params.MaxReorgDepth, params.Genesis.Hash())
	if err != nil {
		t.Fatalf("opening state store: %v", err)
	}
	pool := mempool.New(params, 1000)
	chain, err := chainstore.Open(t.TempDir(), params, state, pool)
	if err != nil {
		state.Close()
		t.Fatalf("opening chain store: %v", err)
	}
	t.Cleanup(func() {
		chain.Close()
		state.Close()
	})
	minerKey, _ := testKey(t, 1)
	return New(chain, pool, params, minerKey), chain, pool, state
}

// solve iterates the candidate's nonce until proof-of-work passes; simnet
// difficulty 1 makes this a couple of attempts.
func solve(block *chainmodel.Block) {
	for nonce := uint64(0); ; nonce++ {
		block.Header.Nonce = nonce
		if block.Header.MeetsTarget() {
			return
		}
	}
}

func TestAssembleCandidateCoinbaseOnly(t *testing.T) {
	m, chain, _, state := newTestMiner(t)

	block := m.assembleCandidate(chain.Tip())
	if len(block.Transactions) != 1 {
		t.Fatalf("empty-mempool candidate has %d transactions, want 1", len(block.Transactions))
	}
	cb := block.Transactions[0]
	if cb.Kind != chainmodel.KindCoinbase {
		t.Fatalf("first transaction is not a coinbase")
	}
	if cb.Coinbase.Recipient != m.minerPubKey || cb.Coinbase.Amount != m.params.Reward(1) || cb.Coinbase.Height != 1 {
		t.Errorf("coinbase = %+v", cb.Coinbase)
	}
	if block.Header.Height != 1 || block.Header.PrevHash != chain.TipHash() {
		t.Errorf("candidate does not extend the active tip")
	}

	// The assembled candidate must be acceptable through the normal
	// validation path once solved.
	solve(&block)
	if err := chain.InsertBlock(block); err != nil {
		t.Fatalf("solved candidate rejected: %v", err)
	}
	if got := state.Get(m.minerPubKey); got.Balance != m.params.Reward(1) {
		t.Errorf("miner balance = %d, want %d", got.Balance, m.params.Reward(1))
	}
}

func TestAssembleCandidateIncludesMempool(t *testing.T) {
	m, chain, pool, state := newTestMiner(t)
	minerKey, minerPriv := testKey(t, 1)
	recipient, _ := testKey(t, 2)

	// Mine one block for funds, through the miner's own assembly path.
	first := m.assembleCandidate(chain.Tip())
	solve(&first)
	if err := chain.InsertBlock(first); err != nil {
		t.Fatalf("inserting funding block: %v", err)
	}

	tx := chainmodel.Transaction{
		Kind:     chainmodel.KindTransfer,
		Transfer: &chainmodel.TransferTx{Sender: minerKey, Recipient: recipient, Amount: 10, Nonce: 1, GasFee: 2},
	}
	tx.Sign(minerPriv)
	if err := pool.Admit(tx, state, chain); err != nil {
		t.Fatalf("admitting transfer: %v", err)
	}

	block := m.assembleCandidate(chain.Tip())
	if len(block.Transactions) != 2 {
		t.Fatalf("candidate has %d transactions, want coinbase + transfer", len(block.Transactions))
	}
	if block.Transactions[1].Hash() != tx.Hash() {
		t.Errorf("candidate does not carry the pooled transfer")
	}

	solve(&block)
	if err := chain.InsertBlock(block); err != nil {
		t.Fatalf("solved candidate with mempool body rejected: %v", err)
	}
	if got := state.Get(recipient); got.Balance != 10 {
		t.Errorf("recipient balance = %d, want 10", got.Balance)
	}
	if pool.Contains(tx.Hash()) {
		t.Errorf("confirmed transfer still pooled")
	}
}

func TestCandidateTimestampMonotonic(t *testing.T) {
	// A parent stamped in the future forces child = parent + 1 rather than
	// a wall-clock regression.
	parent := chainmodel.Header{Timestamp: 1 << 62}
	if got := candidateTimestamp(parent); got != parent.Timestamp+1 {
		t.Errorf("timestamp = %d, want parent+1", got)
	}
	// A parent far in the past yields the wall clock.
	old := chainmodel.Header{Timestamp: 1}
	if got := candidateTimestamp(old); got <= old.Timestamp+1 {
		t.Errorf("timestamp = %d, want wall clock", got)
	}
}

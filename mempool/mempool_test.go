// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"crypto/ed25519"
	"testing"

	"github.com/scribechain/scribed/chainmodel"
	"github.com/scribechain/scribed/chainparams"
	"github.com/scribechain/scribed/scriberr"
)

type fakeState map[chainmodel.PubKey]chainmodel.Account

func (s fakeState) Get(pk chainmodel.PubKey) chainmodel.Account { return s[pk] }

func (s fakeState) AllAccounts() map[chainmodel.PubKey]chainmodel.Account {
	out := make(map[chainmodel.PubKey]chainmodel.Account, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

type fakeChain struct{}

func (fakeChain) HeaderByHash(chainmodel.Hash) (chainmodel.Header, bool) {
	return chainmodel.Header{}, false
}
func (fakeChain) ExpectedDifficulty(chainmodel.Header) uint64 { return 0 }
func (fakeChain) MedianTimePast(chainmodel.Header) uint64     { return 0 }
func (fakeChain) ConfirmedKind(chainmodel.Hash) (chainmodel.Kind, bool) {
	return 0, false
}

func testKey(t *testing.T, seed byte) (chainmodel.PubKey, ed25519.PrivateKey) {
	t.Helper()
	var seedBytes [ed25519.SeedSize]byte
	seedBytes[0] = seed
	priv := ed25519.NewKeyFromSeed(seedBytes[:])
	var pub chainmodel.PubKey
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	return pub, priv
}

func transfer(t *testing.T, seed byte, nonce, amount, gasFee uint64) chainmodel.Transaction {
	t.Helper()
	sender, priv := testKey(t, seed)
	recipient, _ := testKey(t, seed+100)
	tx := chainmodel.Transaction{
		Kind:     chainmodel.KindTransfer,
		Transfer: &chainmodel.TransferTx{Sender: sender, Recipient: recipient, Amount: amount, Nonce: nonce, GasFee: gasFee},
	}
	tx.Sign(priv)
	return tx
}

func fundedState(t *testing.T, seeds ...byte) fakeState {
	t.Helper()
	state := fakeState{}
	for _, seed := range seeds {
		pk, _ := testKey(t, seed)
		state[pk] = chainmodel.Account{Balance: 1000, Nonce: 0}
	}
	return state
}

func TestAdmitAndLookup(t *testing.T) {
	pool := New(chainparams.Simnet, 10)
	state := fundedState(t, 1)
	tx := transfer(t, 1, 1, 10, 2)

	if err := pool.Admit(tx, state, fakeChain{}); err != nil {
		t.Fatalf("Admit: %v", err)
	}
	if !pool.Contains(tx.Hash()) {
		t.Errorf("admitted transaction not found by hash")
	}
	if got, ok := pool.Get(tx.Hash()); !ok || got.Hash() != tx.Hash() {
		t.Errorf("Get returned wrong transaction")
	}
	if pool.Len() != 1 {
		t.Errorf("Len = %d, want 1", pool.Len())
	}

	// Re-admitting the identical transaction is a no-op, not an error.
	if err := pool.Admit(tx, state, fakeChain{}); err != nil {
		t.Errorf("duplicate admission should be silent: %v", err)
	}
	if pool.Len() != 1 {
		t.Errorf("duplicate admission changed pool size")
	}
}

func TestAdmitRejectsInvalid(t *testing.T) {
	pool := New(chainparams.Simnet, 10)
	state := fundedState(t, 1)
	tx := transfer(t, 1, 5, 10, 2) // nonce gap
	if err := pool.Admit(tx, state, fakeChain{}); !scriberr.Is(err, scriberr.ErrNonceFutureGap) {
		t.Errorf("expected ErrNonceFutureGap, got %v", err)
	}
	if pool.Len() != 0 {
		t.Errorf("invalid transaction must not be pooled")
	}
}

func TestReplaceByFee(t *testing.T) {
	pool := New(chainparams.Simnet, 10)
	state := fundedState(t, 1)

	low := transfer(t, 1, 1, 10, 2)
	if err := pool.Admit(low, state, fakeChain{}); err != nil {
		t.Fatalf("Admit low: %v", err)
	}

	sameFee := transfer(t, 1, 1, 11, 2)
	if err := pool.Admit(sameFee, state, fakeChain{}); !scriberr.Is(err, scriberr.ErrLimitExceeded) {
		t.Errorf("equal-fee replacement should be rejected, got %v", err)
	}
	if !pool.Contains(low.Hash()) {
		t.Errorf("original transaction should survive a failed replacement")
	}

	higher := transfer(t, 1, 1, 12, 3)
	if err := pool.Admit(higher, state, fakeChain{}); err != nil {
		t.Fatalf("Admit higher-fee replacement: %v", err)
	}
	if pool.Contains(low.Hash()) {
		t.Errorf("replaced transaction should be gone")
	}
	if !pool.Contains(higher.Hash()) {
		t.Errorf("replacement should be pooled")
	}
	if pool.Len() != 1 {
		t.Errorf("Len = %d after replacement, want 1", pool.Len())
	}
}

func TestEvictionDropsLowestFeeFirst(t *testing.T) {
	pool := New(chainparams.Simnet, 2)
	state := fundedState(t, 1, 2, 3)

	cheap := transfer(t, 1, 1, 10, 1)
	mid := transfer(t, 2, 1, 10, 5)
	rich := transfer(t, 3, 1, 10, 9)

	for _, tx := range []chainmodel.Transaction{cheap, mid, rich} {
		if err := pool.Admit(tx, state, fakeChain{}); err != nil {
			t.Fatalf("Admit: %v", err)
		}
	}
	if pool.Len() != 2 {
		t.Fatalf("Len = %d, want 2 after eviction", pool.Len())
	}
	if pool.Contains(cheap.Hash()) {
		t.Errorf("lowest-fee transaction should have been evicted")
	}
	if !pool.Contains(mid.Hash()) || !pool.Contains(rich.Hash()) {
		t.Errorf("higher-fee transactions should survive eviction")
	}
}

func TestRevalidateDropsStaleEntries(t *testing.T) {
	pool := New(chainparams.Simnet, 10)
	state := fundedState(t, 1, 2)
	a := transfer(t, 1, 1, 10, 2)
	b := transfer(t, 2, 1, 10, 2)
	for _, tx := range []chainmodel.Transaction{a, b} {
		if err := pool.Admit(tx, state, fakeChain{}); err != nil {
			t.Fatalf("Admit: %v", err)
		}
	}

	// Author 1's nonce advanced on-chain; its pooled entry is now stale.
	pk1, _ := testKey(t, 1)
	state[pk1] = chainmodel.Account{Balance: 1000, Nonce: 1}

	dropped := pool.RevalidateAgainstTip(state, fakeChain{})
	if len(dropped) != 1 || dropped[0] != a.Hash() {
		t.Errorf("expected exactly the stale entry dropped, got %v", dropped)
	}
	if pool.Contains(a.Hash()) || !pool.Contains(b.Hash()) {
		t.Errorf("wrong survivor set after revalidation")
	}
}

func TestSelectOrdersByFeeAndAuthorNonce(t *testing.T) {
	pool := New(chainparams.Simnet, 10)
	state := fundedState(t, 1, 2)

	// Author 1's low-nonce transaction pays less than its successor; the
	// successor must not jump the queue.
	first := transfer(t, 1, 1, 10, 2)
	second := transfer(t, 1, 2, 10, 9)
	other := transfer(t, 2, 1, 10, 5)
	for _, tx := range []chainmodel.Transaction{first, second, other} {
		if err := pool.Admit(tx, state, fakeChain{}); err != nil {
			t.Fatalf("Admit: %v", err)
		}
	}

	selected := pool.Select(1<<20, state, fakeChain{})
	if len(selected) != 3 {
		t.Fatalf("selected %d transactions, want 3", len(selected))
	}
	pos := make(map[chainmodel.Hash]int, len(selected))
	for i, tx := range selected {
		pos[tx.Hash()] = i
	}
	if pos[first.Hash()] > pos[second.Hash()] {
		t.Errorf("author's nonce 1 selected after its nonce 2")
	}
	if pos[other.Hash()] > pos[first.Hash()] {
		t.Errorf("fee 5 from another author should come before fee 2")
	}
}

func TestSelectRespectsSizeBudget(t *testing.T) {
	pool := New(chainparams.Simnet, 10)
	state := fundedState(t, 1, 2)
	a := transfer(t, 1, 1, 10, 5)
	b := transfer(t, 2, 1, 10, 2)
	for _, tx := range []chainmodel.Transaction{a, b} {
		if err := pool.Admit(tx, state, fakeChain{}); err != nil {
			t.Fatalf("Admit: %v", err)
		}
	}

	oneTxSize := len(a.CanonicalFullBytes())
	selected := pool.Select(oneTxSize, state, fakeChain{})
	if len(selected) != 1 {
		t.Fatalf("selected %d transactions within a one-tx budget, want 1", len(selected))
	}
	if selected[0].Hash() != a.Hash() {
		t.Errorf("the higher-fee transaction should win the budget")
	}
}

// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package statestore

import (
	"crypto/ed25519"
	"testing"

	"github.com/scribechain/scribed/chainmodel"
)

type fakePosts map[chainmodel.Hash]chainmodel.PubKey

func (f fakePosts) PostAuthor(h chainmodel.Hash) (chainmodel.PubKey, bool) {
	a, ok := f[h]
	return a, ok
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

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), 100, chainmodel.Hash{0xee})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func coinbaseBlock(miner chainmodel.PubKey, height uint64, amount uint64, prev chainmodel.Hash, extra ...chainmodel.Transaction) chainmodel.Block {
	txs := []chainmodel.Transaction{{
		Kind:     chainmodel.KindCoinbase,
		Coinbase: &chainmodel.CoinbaseTx{Recipient: miner, Amount: amount, Height: height},
	}}
	txs = append(txs, extra...)
	return chainmodel.Block{
		Header: chainmodel.Header{
			Version:   1,
			Height:    height,
			PrevHash:  prev,
			Timestamp: height * 10,
			Miner:     miner,
			TxCount:   uint16(len(txs)),
		},
		Transactions: txs,
	}
}

func TestApplyCreditsCoinbaseAndFees(t *testing.T) {
	s := openTestStore(t)
	miner, _ := testKey(t, 1)
	sender, senderPriv := testKey(t, 2)
	recipient, _ := testKey(t, 3)

	b1 := coinbaseBlock(miner, 1, 50, chainmodel.Hash{0xee})
	if _, err := s.Apply(b1, fakePosts{}); err != nil {
		t.Fatalf("Apply block 1: %v", err)
	}
	if got := s.Get(miner); got.Balance != 50 {
		t.Fatalf("miner balance = %d, want 50", got.Balance)
	}

	// Fund the sender, then spend from it with a fee back to the miner.
	// Apply trusts already-validated blocks, so the funding transfer needs
	// no signature here.
	transfer := chainmodel.Transaction{
		Kind:     chainmodel.KindTransfer,
		Transfer: &chainmodel.TransferTx{Sender: miner, Recipient: sender, Amount: 20, Nonce: 1, GasFee: 0},
	}
	b2 := coinbaseBlock(miner, 2, 50, b1.Hash(), transfer)
	if _, err := s.Apply(b2, fakePosts{}); err != nil {
		t.Fatalf("Apply block 2: %v", err)
	}

	spend := chainmodel.Transaction{
		Kind:     chainmodel.KindTransfer,
		Transfer: &chainmodel.TransferTx{Sender: sender, Recipient: recipient, Amount: 5, Nonce: 1, GasFee: 2},
	}
	spend.Sign(senderPriv)
	b3 := coinbaseBlock(miner, 3, 50, b2.Hash(), spend)
	if _, err := s.Apply(b3, fakePosts{}); err != nil {
		t.Fatalf("Apply block 3: %v", err)
	}

	if got := s.Get(sender); got.Balance != 13 || got.Nonce != 1 {
		t.Errorf("sender = %+v, want balance 13 nonce 1", got)
	}
	if got := s.Get(recipient); got.Balance != 5 {
		t.Errorf("recipient balance = %d, want 5", got.Balance)
	}
	// 50*3 mined, 20 sent away, 2 fee recovered, 0 fee on own transfer.
	if got := s.Get(miner); got.Balance != 132 {
		t.Errorf("miner balance = %d, want 132", got.Balance)
	}
}

func TestEndorseCreditsPostAuthor(t *testing.T) {
	s := openTestStore(t)
	miner, _ := testKey(t, 1)
	endorser, endorserPriv := testKey(t, 2)
	postAuthor, _ := testKey(t, 3)
	postHash := chainmodel.Hash{0xcc}

	b1 := coinbaseBlock(miner, 1, 50, chainmodel.Hash{0xee},
		chainmodel.Transaction{
			Kind:     chainmodel.KindTransfer,
			Transfer: &chainmodel.TransferTx{Sender: miner, Recipient: endorser, Amount: 10, Nonce: 1, GasFee: 0},
		})
	if _, err := s.Apply(b1, fakePosts{}); err != nil {
		t.Fatalf("Apply block 1: %v", err)
	}

	endorse := chainmodel.Transaction{
		Kind:    chainmodel.KindEndorse,
		Endorse: &chainmodel.EndorseTx{Author: endorser, Nonce: 1, Target: postHash, Amount: 5, GasFee: 1},
	}
	endorse.Sign(endorserPriv)
	b2 := coinbaseBlock(miner, 2, 50, b1.Hash(), endorse)
	if _, err := s.Apply(b2, fakePosts{postHash: postAuthor}); err != nil {
		t.Fatalf("Apply block 2: %v", err)
	}

	if got := s.Get(endorser); got.Balance != 4 || got.Nonce != 1 {
		t.Errorf("endorser = %+v, want balance 4 nonce 1", got)
	}
	if got := s.Get(postAuthor); got.Balance != 5 {
		t.Errorf("post author balance = %d, want 5", got.Balance)
	}
}

func TestRewindRestoresExactState(t *testing.T) {
	s := openTestStore(t)
	miner, _ := testKey(t, 1)
	other, _ := testKey(t, 2)

	b1 := coinbaseBlock(miner, 1, 50, chainmodel.Hash{0xee})
	root1, err := s.Apply(b1, fakePosts{})
	if err != nil {
		t.Fatalf("Apply block 1: %v", err)
	}

	b2 := coinbaseBlock(miner, 2, 50, b1.Hash(),
		chainmodel.Transaction{
			Kind:     chainmodel.KindTransfer,
			Transfer: &chainmodel.TransferTx{Sender: miner, Recipient: other, Amount: 30, Nonce: 1, GasFee: 0},
		})
	if _, err := s.Apply(b2, fakePosts{}); err != nil {
		t.Fatalf("Apply block 2: %v", err)
	}

	if err := s.RewindTo(b1.Hash()); err != nil {
		t.Fatalf("RewindTo: %v", err)
	}
	if got := s.StateRoot(); got != root1 {
		t.Errorf("state root after rewind = %s, want %s", got, root1)
	}
	if got := s.Get(other); got.Balance != 0 || got.Nonce != 0 {
		t.Errorf("account created in undone block should be gone, got %+v", got)
	}
}

func TestRewindReapplyIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	miner, _ := testKey(t, 1)

	b1 := coinbaseBlock(miner, 1, 50, chainmodel.Hash{0xee})
	b2 := coinbaseBlock(miner, 2, 50, b1.Hash())

	if _, err := s.Apply(b1, fakePosts{}); err != nil {
		t.Fatalf("Apply block 1: %v", err)
	}
	root2First, err := s.Apply(b2, fakePosts{})
	if err != nil {
		t.Fatalf("Apply block 2: %v", err)
	}

	if err := s.RewindTo(b1.Hash()); err != nil {
		t.Fatalf("RewindTo: %v", err)
	}
	root2Again, err := s.Apply(b2, fakePosts{})
	if err != nil {
		t.Fatalf("re-Apply block 2: %v", err)
	}
	if root2First != root2Again {
		t.Errorf("re-applying the same block after rewind changed the root: %s vs %s", root2First, root2Again)
	}
}

func TestRewindToGenesisUndoesEverything(t *testing.T) {
	genesisHash := chainmodel.Hash{0xee}
	s, err := Open(t.TempDir(), 100, genesisHash)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	miner, _ := testKey(t, 1)
	emptyRoot := s.StateRoot()

	b1 := coinbaseBlock(miner, 1, 50, genesisHash)
	if _, err := s.Apply(b1, fakePosts{}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := s.RewindTo(genesisHash); err != nil {
		t.Fatalf("RewindTo genesis: %v", err)
	}
	if got := s.StateRoot(); got != emptyRoot {
		t.Errorf("root after full rewind = %s, want the empty root %s", got, emptyRoot)
	}
}

func TestRewindToUnknownBlockFails(t *testing.T) {
	s := openTestStore(t)
	miner, _ := testKey(t, 1)
	b1 := coinbaseBlock(miner, 1, 50, chainmodel.Hash{0xee})
	if _, err := s.Apply(b1, fakePosts{}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := s.RewindTo(chainmodel.Hash{0x12}); err == nil {
		t.Errorf("rewinding to an unknown block must fail")
	}
}

func TestRewindSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	genesisHash := chainmodel.Hash{0xee}
	miner, _ := testKey(t, 1)
	other, _ := testKey(t, 2)

	s, err := Open(dir, 100, genesisHash)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b1 := coinbaseBlock(miner, 1, 50, genesisHash)
	root1, err := s.Apply(b1, fakePosts{})
	if err != nil {
		t.Fatalf("Apply block 1: %v", err)
	}
	b2 := coinbaseBlock(miner, 2, 50, b1.Hash(),
		chainmodel.Transaction{
			Kind:     chainmodel.KindTransfer,
			Transfer: &chainmodel.TransferTx{Sender: miner, Recipient: other, Amount: 30, Nonce: 1, GasFee: 0},
		})
	if _, err := s.Apply(b2, fakePosts{}); err != nil {
		t.Fatalf("Apply block 2: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A reorg whose common ancestor predates the restart must still be
	// able to rewind: the diff stack is rebuilt from disk, not lost.
	reopened, err := Open(dir, 100, genesisHash)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if err := reopened.RewindTo(b1.Hash()); err != nil {
		t.Fatalf("RewindTo after reopen: %v", err)
	}
	if got := reopened.StateRoot(); got != root1 {
		t.Errorf("state root after post-restart rewind = %s, want %s", got, root1)
	}
	if got := reopened.Get(other); got.Balance != 0 || got.Nonce != 0 {
		t.Errorf("account created in undone block should be gone, got %+v", got)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	genesisHash := chainmodel.Hash{0xee}
	miner, _ := testKey(t, 1)

	s, err := Open(dir, 100, genesisHash)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	b1 := coinbaseBlock(miner, 1, 50, genesisHash)
	root, err := s.Apply(b1, fakePosts{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir, 100, genesisHash)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	if got := reopened.StateRoot(); got != root {
		t.Errorf("state root after reopen = %s, want %s", got, root)
	}
	if got := reopened.Get(miner); got.Balance != 50 {
		t.Errorf("miner balance after reopen = %d, want 50", got.Balance)
	}
}

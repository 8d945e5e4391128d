// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainmodel

import (
	"testing"
)

func TestHashBelowTarget(t *testing.T) {
	var zero Hash
	if !HashBelowTarget(zero, 255) {
		t.Errorf("the zero hash should satisfy any achievable difficulty")
	}

	// A hash with its top bit set fails difficulty 1 but passes 0.
	var topBit Hash
	topBit[0] = 0x80
	if HashBelowTarget(topBit, 1) {
		t.Errorf("hash with top bit set must fail difficulty 1")
	}
	if !HashBelowTarget(topBit, 0) {
		t.Errorf("difficulty 0 accepts every hash")
	}

	// Exactly 8 leading zero bits: passes difficulty 8, fails 9.
	var h Hash
	h[1] = 0x80
	if !HashBelowTarget(h, 8) {
		t.Errorf("8 leading zero bits should satisfy difficulty 8")
	}
	if HashBelowTarget(h, 9) {
		t.Errorf("8 leading zero bits should not satisfy difficulty 9")
	}

	if HashBelowTarget(zero, 256) {
		t.Errorf("difficulty >= 256 is unsatisfiable")
	}
}

func TestBlockHashCommitsToNonce(t *testing.T) {
	h := Header{Version: 1, Height: 5, Difficulty: 3, Nonce: 41}
	a := h.Hash()
	h.Nonce = 42
	if h.Hash() == a {
		t.Errorf("nonce must be part of the header hash preimage")
	}
}

func TestComputeTxMerkleRoot(t *testing.T) {
	recipient, _ := testKey(t, 9)
	cb := Transaction{Kind: KindCoinbase, Coinbase: &CoinbaseTx{Recipient: recipient, Amount: 50, Height: 1}}
	block := Block{Transactions: []Transaction{cb}}

	root := block.ComputeTxMerkleRoot()
	if root != Hash(cb.Hash()) {
		t.Errorf("single-tx merkle root should equal the tx hash")
	}

	post := signedPost(t, 1, "hello")
	block.Transactions = append(block.Transactions, post)
	if block.ComputeTxMerkleRoot() == root {
		t.Errorf("adding a transaction must change the merkle root")
	}
}

func TestBlockWireRoundTrip(t *testing.T) {
	recipient, _ := testKey(t, 9)
	cb := Transaction{Kind: KindCoinbase, Coinbase: &CoinbaseTx{Recipient: recipient, Amount: 50, Height: 1}}
	post := signedPost(t, 1, "hello")
	block := Block{
		Header: Header{
			Version:    1,
			Height:     1,
			Timestamp:  123,
			Difficulty: 1,
			Nonce:      99,
			TxCount:    2,
		},
		Transactions: []Transaction{cb, post},
	}
	block.Header.TxMerkleRoot = block.ComputeTxMerkleRoot()

	decoded, err := DecodeBlock(block.CanonicalBytes())
	if err != nil {
		t.Fatalf("DecodeBlock: %v", err)
	}
	if decoded.Hash() != block.Hash() {
		t.Errorf("block hash mismatch after round trip")
	}
	if len(decoded.Transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(decoded.Transactions))
	}
	if decoded.ComputeTxMerkleRoot() != block.Header.TxMerkleRoot {
		t.Errorf("merkle root mismatch after round trip")
	}
}

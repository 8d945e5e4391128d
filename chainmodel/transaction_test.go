// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainmodel

import (
	"crypto/ed25519"
	"testing"
)

func testKey(t *testing.T, seed byte) (PubKey, ed25519.PrivateKey) {
	t.Helper()
	var seedBytes [ed25519.SeedSize]byte
	seedBytes[0] = seed
	priv := ed25519.NewKeyFromSeed(seedBytes[:])
	var pub PubKey
	copy(pub[:], priv.Public().(ed25519.PublicKey))
	return pub, priv
}

func signedPost(t *testing.T, seed byte, body string) Transaction {
	t.Helper()
	author, priv := testKey(t, seed)
	tx := Transaction{
		Kind: KindPost,
		Post: &PostTx{
			Author:    author,
			Nonce:     1,
			Timestamp: 1700000000,
			Body:      body,
			GasFee:    1,
		},
	}
	tx.Sign(priv)
	return tx
}

func TestTxHashIsStableAcrossReserialization(t *testing.T) {
	tx := signedPost(t, 1, "hello")
	h1 := tx.Hash()

	decoded, err := DecodeTransaction(tx.CanonicalFullBytes())
	if err != nil {
		t.Fatalf("DecodeTransaction: %v", err)
	}
	if decoded.Hash() != h1 {
		t.Errorf("hash changed across encode/decode: %s vs %s", decoded.Hash(), h1)
	}
}

func TestTxHashOmitsSignature(t *testing.T) {
	tx := signedPost(t, 1, "hello")
	before := tx.Hash()
	tx.Post.Signature[0] ^= 0xff
	if tx.Hash() != before {
		t.Errorf("content hash must not depend on the signature")
	}
}

func TestTxHashCoversEveryField(t *testing.T) {
	base := signedPost(t, 1, "hello")
	mutated := signedPost(t, 1, "hello")
	mutated.Post.Body = "hello!"
	if base.Hash() == mutated.Hash() {
		t.Errorf("body change should change the content hash")
	}
	mutated = signedPost(t, 1, "hello")
	mutated.Post.Nonce = 2
	if base.Hash() == mutated.Hash() {
		t.Errorf("nonce change should change the content hash")
	}
	mutated = signedPost(t, 1, "hello")
	reply := Hash{0xaa}
	mutated.Post.ReplyTo = &reply
	if base.Hash() == mutated.Hash() {
		t.Errorf("reply_to change should change the content hash")
	}
}

func TestSignAndVerify(t *testing.T) {
	tx := signedPost(t, 1, "hello")
	if !tx.VerifySignature() {
		t.Fatalf("freshly signed transaction should verify")
	}

	tampered := signedPost(t, 1, "hello")
	tampered.Post.Body = "hellp"
	if tampered.VerifySignature() {
		t.Errorf("signature must not verify after mutating the signed message")
	}

	wrongSig := signedPost(t, 1, "hello")
	wrongSig.Post.Signature[3] ^= 0x01
	if wrongSig.VerifySignature() {
		t.Errorf("signature must not verify after corrupting a signature byte")
	}
}

func TestCoinbaseNeedsNoSignature(t *testing.T) {
	recipient, _ := testKey(t, 2)
	tx := Transaction{
		Kind:     KindCoinbase,
		Coinbase: &CoinbaseTx{Recipient: recipient, Amount: 50, Height: 7},
	}
	if !tx.VerifySignature() {
		t.Errorf("coinbase carries no signature and must pass verification")
	}
	if _, hasNonce := tx.Nonce(); hasNonce {
		t.Errorf("coinbase has no account nonce")
	}
	if tx.GasFee() != 0 {
		t.Errorf("coinbase pays no gas fee")
	}
}

func TestCoinbaseHashesDifferByHeight(t *testing.T) {
	recipient, _ := testKey(t, 2)
	a := Transaction{Kind: KindCoinbase, Coinbase: &CoinbaseTx{Recipient: recipient, Amount: 50, Height: 1}}
	b := Transaction{Kind: KindCoinbase, Coinbase: &CoinbaseTx{Recipient: recipient, Amount: 50, Height: 2}}
	if a.Hash() == b.Hash() {
		t.Errorf("height must disambiguate otherwise-identical coinbases")
	}
}

func TestBodyScalarLenCountsScalarsNotBytes(t *testing.T) {
	p := PostTx{Body: "héllo"} // 6 bytes, 5 scalar values
	if got := p.BodyScalarLen(); got != 5 {
		t.Errorf("BodyScalarLen = %d, want 5", got)
	}
}

func TestWireRoundTripAllKinds(t *testing.T) {
	author, priv := testKey(t, 3)
	recipient, _ := testKey(t, 4)
	reply := Hash{0x01, 0x02}
	target := Hash{0x03, 0x04}

	txs := []Transaction{
		{Kind: KindPost, Post: &PostTx{Author: author, Nonce: 1, Timestamp: 99, Body: "hi", ReplyTo: &reply, GasFee: 2}},
		{Kind: KindEndorse, Endorse: &EndorseTx{Author: author, Nonce: 2, Target: target, Amount: 5, Message: "nice", GasFee: 1}},
		{Kind: KindTransfer, Transfer: &TransferTx{Sender: author, Recipient: recipient, Amount: 10, Nonce: 3, GasFee: 1}},
		{Kind: KindCoinbase, Coinbase: &CoinbaseTx{Recipient: recipient, Amount: 50, Height: 12}},
	}
	for i := range txs {
		if txs[i].Kind != KindCoinbase {
			txs[i].Sign(priv)
		}
	}

	for _, tx := range txs {
		raw := tx.CanonicalFullBytes()
		decoded, err := DecodeTransaction(raw)
		if err != nil {
			t.Fatalf("%s: DecodeTransaction: %v", tx.Kind, err)
		}
		if decoded.Hash() != tx.Hash() {
			t.Errorf("%s: hash mismatch after round trip", tx.Kind)
		}
		if !decoded.VerifySignature() {
			t.Errorf("%s: signature lost in round trip", tx.Kind)
		}
		// The wire bytes ARE the hashed form: reject any non-canonical
		// variant of the same transaction.
		if _, err := DecodeTransaction(append(raw, ' ')); err == nil {
			t.Errorf("%s: trailing bytes should be rejected", tx.Kind)
		}
	}
}

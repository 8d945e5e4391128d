// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainmodel

import (
	"crypto/ed25519"
	"unicode/utf8"

	"github.com/scribechain/scribed/canon"
	"github.com/scribechain/scribed/chaincrypto"
)

// Kind tags which of the four transaction variants a Transaction carries.
type Kind uint8

const (
	KindPost Kind = iota
	KindEndorse
	KindTransfer
	KindCoinbase
)

func (k Kind) String() string {
	switch k {
	case KindPost:
		return "post"
	case KindEndorse:
		return "endorse"
	case KindTransfer:
		return "transfer"
	case KindCoinbase:
		return "coinbase"
	default:
		return "unknown"
	}
}

// PostTx publishes a short signed message, optionally replying to a
// previously confirmed post.
type PostTx struct {
	Author    PubKey
	Nonce     uint64
	Timestamp uint64
	Body      string
	ReplyTo   *Hash
	GasFee    uint64
	Signature Signature
}

// EndorseTx references a confirmed post, optionally tipping its author.
type EndorseTx struct {
	Author    PubKey
	Nonce     uint64
	Target    Hash
	Amount    uint64
	Message   string
	GasFee    uint64
	Signature Signature
}

// TransferTx moves value between two distinct accounts.
type TransferTx struct {
	Sender    PubKey
	Recipient PubKey
	Amount    uint64
	Nonce     uint64
	GasFee    uint64
	Signature Signature
}

// CoinbaseTx is the unsigned block-reward transaction; exactly one must
// appear, first, in every block's body.
type CoinbaseTx struct {
	Recipient PubKey
	Amount    uint64
	Height    uint64
}

// Transaction is a tagged union over the four kinds. Exactly one of the
// pointer fields matching Kind is non-nil.
type Transaction struct {
	Kind     Kind
	Post     *PostTx
	Endorse  *EndorseTx
	Transfer *TransferTx
	Coinbase *CoinbaseTx
}

// Author returns the account that authored/sent the transaction, or the
// zero PubKey for a coinbase (which has no author).
func (tx Transaction) Author() PubKey {
	switch tx.Kind {
	case KindPost:
		return tx.Post.Author
	case KindEndorse:
		return tx.Endorse.Author
	case KindTransfer:
		return tx.Transfer.Sender
	default:
		return PubKey{}
	}
}

// Nonce returns the account nonce this transaction consumes, and false for
// a coinbase (which has none).
func (tx Transaction) Nonce() (uint64, bool) {
	switch tx.Kind {
	case KindPost:
		return tx.Post.Nonce, true
	case KindEndorse:
		return tx.Endorse.Nonce, true
	case KindTransfer:
		return tx.Transfer.Nonce, true
	default:
		return 0, false
	}
}

// GasFee returns the fee paid to the including block's miner, 0 for a
// coinbase.
func (tx Transaction) GasFee() uint64 {
	switch tx.Kind {
	case KindPost:
		return tx.Post.GasFee
	case KindEndorse:
		return tx.Endorse.GasFee
	case KindTransfer:
		return tx.Transfer.GasFee
	default:
		return 0
	}
}

// BodyScalarLen returns the Unicode scalar-value length of a post's body.
// The length limit counts scalar values, not bytes.
func (tx PostTx) BodyScalarLen() int {
	return utf8.RuneCountInString(tx.Body)
}

// canonicalFields returns the canonical object fields for this transaction,
// omitting the signature. This is both the signing message and the basis
// of the content hash for every kind.
func (tx Transaction) canonicalFields() canon.Fields {
	var f canon.Fields
	f = f.F("kind", canon.Str(tx.Kind.String()))
	switch tx.Kind {
	case KindPost:
		p := tx.Post
		f = f.F("author", canon.Hex(p.Author[:])).
			F("nonce", canon.UInt(p.Nonce)).
			F("timestamp", canon.UInt(p.Timestamp)).
			F("body", canon.Str(p.Body)).
			F("reply_to", canon.OptHash((*[32]byte)(p.ReplyTo))).
			F("gas_fee", canon.UInt(p.GasFee))
	case KindEndorse:
		e := tx.Endorse
		f = f.F("author", canon.Hex(e.Author[:])).
			F("nonce", canon.UInt(e.Nonce)).
			F("target", canon.Hex(e.Target[:])).
			F("amount", canon.UInt(e.Amount)).
			F("message", canon.Str(e.Message)).
			F("gas_fee", canon.UInt(e.GasFee))
	case KindTransfer:
		t := tx.Transfer
		f = f.F("sender", canon.Hex(t.Sender[:])).
			F("recipient", canon.Hex(t.Recipient[:])).
			F("amount", canon.UInt(t.Amount)).
			F("nonce", canon.UInt(t.Nonce)).
			F("gas_fee", canon.UInt(t.GasFee))
	case KindCoinbase:
		c := tx.Coinbase
		f = f.F("recipient", canon.Hex(c.Recipient[:])).
			F("amount", canon.UInt(c.Amount)).
			F("height", canon.UInt(c.Height))
	}
	return f
}

// SigningMessage returns the exact bytes that are hashed for the content
// address, and (for non-coinbase kinds) signed.
func (tx Transaction) SigningMessage() []byte {
	return canon.Obj(tx.canonicalFields())
}

// CanonicalFullBytes returns the wire/disk encoding of the transaction,
// including its signature (absent for coinbase). Unlike SigningMessage,
// this form round-trips the whole transaction and is what TX_RESPONSE and
// BLOCK_RESPONSE payloads carry, and what block-size limits measure.
func (tx Transaction) CanonicalFullBytes() []byte {
	f := tx.canonicalFields()
	if sig, signed := tx.signature(); signed {
		f = f.F("signature", canon.Hex(sig[:]))
	}
	return canon.Obj(f)
}

// Hash returns the content address SHA-256(canonical_serialize(tx without
// signature)).
func (tx Transaction) Hash() Hash {
	return Hash(chaincrypto.Hash(tx.SigningMessage()))
}

// signature returns the carried signature and whether this kind carries one
// at all (coinbase does not).
func (tx Transaction) signature() (Signature, bool) {
	switch tx.Kind {
	case KindPost:
		return tx.Post.Signature, true
	case KindEndorse:
		return tx.Endorse.Signature, true
	case KindTransfer:
		return tx.Transfer.Signature, true
	default:
		return Signature{}, false
	}
}

// VerifySignature checks the carried signature against Author(). Always
// true for a coinbase, which carries none.
func (tx Transaction) VerifySignature() bool {
	sig, signed := tx.signature()
	if !signed {
		return true
	}
	author := tx.Author()
	return chaincrypto.Verify(ed25519.PublicKey(author[:]), tx.SigningMessage(), [64]byte(sig))
}

// Sign computes and fills in the signature field of a non-coinbase
// transaction in place, using the given private key (which must correspond
// to the transaction's author/sender).
func (tx *Transaction) Sign(priv ed25519.PrivateKey) {
	msg := tx.SigningMessage()
	sig := chaincrypto.Sign(priv, msg)
	switch tx.Kind {
	case KindPost:
		tx.Post.Signature = Signature(sig)
	case KindEndorse:
		tx.Endorse.Signature = Signature(sig)
	case KindTransfer:
		tx.Transfer.Signature = Signature(sig)
	}
}

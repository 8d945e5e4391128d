// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainmodel is the consensus-critical data model: accounts,
// transactions, block headers and blocks, each with the canonical encoding
// that both hashes and signatures are computed over, and the wire/disk
// encoding that round-trips the full structures.
package chainmodel

import "encoding/hex"

// Hash is a 32-byte SHA-256 digest, used for both transaction and block
// content addresses.
type Hash [32]byte

// String returns the lowercase-hex form.
func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// IsZero reports whether h is the all-zero hash.
func (h Hash) IsZero() bool { return h == Hash{} }

// PubKey is a 32-byte Ed25519 public key, and doubles as an account
// identifier.
type PubKey [32]byte

// String returns the lowercase-hex form.
func (p PubKey) String() string { return hex.EncodeToString(p[:]) }

// IsZero reports whether p is the all-zero key (used only for genesis).
func (p PubKey) IsZero() bool { return p == PubKey{} }

// Signature is a 64-byte Ed25519 signature.
type Signature [64]byte

// Account is the persisted record for a public key: an implicit
// {balance:0, nonce:0} for any key never credited or authored from.
type Account struct {
	Balance uint64
	Nonce   uint64
}

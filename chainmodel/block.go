// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainmodel

import (
	"github.com/scribechain/scribed/canon"
	"github.com/scribechain/scribed/chaincrypto"
	"github.com/scribechain/scribed/merkle"
)

// Header is the fixed-size, content-addressed part of a block. block_hash
// is SHA-256 over its canonical serialization, including the current
// Nonce.
type Header struct {
	Version      uint8
	Height       uint64
	PrevHash     Hash
	Timestamp    uint64
	Miner        PubKey
	Difficulty   uint64
	Nonce        uint64
	TxMerkleRoot Hash
	StateRoot    Hash
	TxCount      uint16
}

func (h Header) canonicalFields() canon.Fields {
	var f canon.Fields
	return f.F("version", canon.UInt(uint64(h.Version))).
		F("height", canon.UInt(h.Height)).
		F("prev_hash", canon.Hex(h.PrevHash[:])).
		F("timestamp", canon.UInt(h.Timestamp)).
		F("miner", canon.Hex(h.Miner[:])).
		F("difficulty", canon.UInt(h.Difficulty)).
		F("nonce", canon.UInt(h.Nonce)).
		F("tx_merkle_root", canon.Hex(h.TxMerkleRoot[:])).
		F("state_root", canon.Hex(h.StateRoot[:])).
		F("tx_count", canon.UInt(uint64(h.TxCount)))
}

// CanonicalBytes returns the exact bytes block_hash is computed over.
func (h Header) CanonicalBytes() []byte {
	return canon.Obj(h.canonicalFields())
}

// Hash returns block_hash = SHA-256(canonical_serialize(header)).
func (h Header) Hash() Hash {
	return Hash(chaincrypto.Hash(h.CanonicalBytes()))
}

// MeetsTarget reports whether this header's hash, read as a big-endian
// integer, is below 2^(256-difficulty): the proof-of-work check.
func (h Header) MeetsTarget() bool {
	return HashBelowTarget(h.Hash(), h.Difficulty)
}

// HashBelowTarget reports whether hash, as a big-endian 256-bit integer, is
// strictly less than 2^(256-difficulty).
func HashBelowTarget(hash Hash, difficulty uint64) bool {
	if difficulty == 0 {
		return true
	}
	if difficulty >= 256 {
		return false // would require the zero hash; never achievable in practice
	}
	// 2^(256-difficulty) has a 1 bit at position (256-difficulty) and the
	// hash must have every higher bit (bits [256-difficulty, 256)) zero,
	// which is exactly the top `difficulty` bits of the big-endian hash.
	zeroBits := difficulty
	fullZeroBytes := zeroBits / 8
	remBits := zeroBits % 8
	for i := uint64(0); i < fullZeroBytes; i++ {
		if hash[i] != 0 {
			return false
		}
	}
	if remBits > 0 {
		mask := byte(0xFF << (8 - remBits))
		if hash[fullZeroBytes]&mask != 0 {
			return false
		}
	}
	return true
}

// Block is a header plus its ordered transaction list. The first
// transaction must be a coinbase paying Header.Miner.
type Block struct {
	Header       Header
	Transactions []Transaction
}

// TxHashes returns the content hash of every transaction in order.
func (b Block) TxHashes() [][32]byte {
	hashes := make([][32]byte, len(b.Transactions))
	for i, tx := range b.Transactions {
		hashes[i] = [32]byte(tx.Hash())
	}
	return hashes
}

// ComputeTxMerkleRoot recomputes the Merkle root over the body's
// transaction hashes, for comparison against Header.TxMerkleRoot.
func (b Block) ComputeTxMerkleRoot() Hash {
	return Hash(merkle.Root(b.TxHashes()))
}

// EmptyStateRoot is the Merkle root of the empty account set. The genesis
// block, which mints nothing, commits it as its state root.
func EmptyStateRoot() Hash {
	return Hash(merkle.EmptyRoot())
}

// Hash returns the block's header hash.
func (b Block) Hash() Hash { return b.Header.Hash() }

// CanonicalBodyBytes returns the wire/disk encoding of the ordered
// transaction list, the form whose length MaxBlockBodyBytes caps.
func (b Block) CanonicalBodyBytes() []byte {
	items := make([]canon.Value, len(b.Transactions))
	for i, tx := range b.Transactions {
		items[i] = tx.CanonicalFullBytes()
	}
	return canon.Arr(items)
}

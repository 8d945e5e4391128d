// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package worldstate computes the Merkle root committed in each block
// header over the account map. It is the single shared implementation, so
// the state store (which owns the persisted accounts) and the validator
// (which re-derives a candidate block's state root against a local scratch
// overlay) can never disagree about how a root is built from a set of
// tuples.
package worldstate

import (
	"sort"

	"github.com/scribechain/scribed/canon"
	"github.com/scribechain/scribed/chaincrypto"
	"github.com/scribechain/scribed/chainmodel"
	"github.com/scribechain/scribed/merkle"
)

// Root computes the Merkle root over (pubkey, balance, nonce) tuples for
// every materialized account in accounts, sorted by pubkey. An account with
// balance 0 and nonce 0 is indistinguishable from one that was never
// materialized and is excluded, since accounts exist implicitly.
func Root(accounts map[chainmodel.PubKey]chainmodel.Account) chainmodel.Hash {
	_, leaves := sortedLeaves(accounts)
	return chainmodel.Hash(merkle.Root(leaves))
}

// Leaf returns the Merkle leaf hash for a single (pubkey, balance, nonce)
// tuple, the preimage a state proof authenticates against the root.
func Leaf(pubkey chainmodel.PubKey, acct chainmodel.Account) [32]byte {
	enc := canon.Obj(canon.Fields{}.
		F("pubkey", canon.Hex(pubkey[:])).
		F("balance", canon.UInt(acct.Balance)).
		F("nonce", canon.UInt(acct.Nonce)))
	return chaincrypto.Hash(enc)
}

// Proof builds the Merkle authentication path for pubkey's tuple within
// accounts. It fails for an account that is not materialized (zero balance
// and nonce), which has no leaf of its own.
func Proof(accounts map[chainmodel.PubKey]chainmodel.Account, pubkey chainmodel.PubKey) (merkle.Proof, bool) {
	keys, leaves := sortedLeaves(accounts)
	for i, k := range keys {
		if k == pubkey {
			return merkle.BuildProof(leaves, i)
		}
	}
	return merkle.Proof{}, false
}

func sortedLeaves(accounts map[chainmodel.PubKey]chainmodel.Account) ([]chainmodel.PubKey, [][32]byte) {
	keys := make([]chainmodel.PubKey, 0, len(accounts))
	for k, a := range accounts {
		if a.Balance == 0 && a.Nonce == 0 {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return string(keys[i][:]) < string(keys[j][:]) })

	leaves := make([][32]byte, len(keys))
	for i, k := range keys {
		leaves[i] = Leaf(k, accounts[k])
	}
	return keys, leaves
}

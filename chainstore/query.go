// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainstore

import (
	"github.com/scribechain/scribed/chainmodel"
	"github.com/scribechain/scribed/merkle"
	"github.com/scribechain/scribed/worldstate"
)

// ConfirmedTx returns a confirmed transaction by content hash together with
// its confirming block hash and height on the active branch.
func (s *Store) ConfirmedTx(hash chainmodel.Hash) (tx chainmodel.Transaction, blockHash chainmodel.Hash, height uint64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.txIndex[hash]
	if !ok {
		return chainmodel.Transaction{}, chainmodel.Hash{}, 0, false
	}
	n, ok := s.blocksByHash[rec.BlockHash]
	if !ok {
		return chainmodel.Transaction{}, chainmodel.Hash{}, 0, false
	}
	for _, t := range n.txs {
		if t.Hash() == hash {
			return t, rec.BlockHash, rec.Height, true
		}
	}
	return chainmodel.Transaction{}, chainmodel.Hash{}, 0, false
}

// TxMerkleProof builds the authentication path from a confirmed
// transaction's content hash to the tx_merkle_root of its confirming block.
func (s *Store) TxMerkleProof(hash chainmodel.Hash) (merkle.Proof, chainmodel.Hash, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.txIndex[hash]
	if !ok {
		return merkle.Proof{}, chainmodel.Hash{}, false
	}
	n, ok := s.blocksByHash[rec.BlockHash]
	if !ok {
		return merkle.Proof{}, chainmodel.Hash{}, false
	}
	leaves := make([][32]byte, len(n.txs))
	index := -1
	for i, t := range n.txs {
		h := t.Hash()
		leaves[i] = [32]byte(h)
		if h == hash {
			index = i
		}
	}
	if index < 0 {
		return merkle.Proof{}, chainmodel.Hash{}, false
	}
	proof, ok := merkle.BuildProof(leaves, index)
	return proof, rec.BlockHash, ok
}

// StateProof returns pubkey's account at the active tip together with its
// Merkle authentication path and the tip's state root. Fails for an account
// never materialized, which has no leaf in the state tree.
func (s *Store) StateProof(pubkey chainmodel.PubKey) (chainmodel.Account, merkle.Proof, chainmodel.Hash, bool) {
	accounts := s.state.AllAccounts()
	acct := s.state.Get(pubkey)
	proof, ok := worldstate.Proof(accounts, pubkey)
	if !ok {
		return chainmodel.Account{}, merkle.Proof{}, chainmodel.Hash{}, false
	}
	return acct, proof, worldstate.Root(accounts), true
}

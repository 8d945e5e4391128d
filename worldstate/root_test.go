// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package worldstate

import (
	"testing"

	"github.com/scribechain/scribed/chainmodel"
	"github.com/scribechain/scribed/merkle"
)

func pk(b byte) chainmodel.PubKey {
	var out chainmodel.PubKey
	out[0] = b
	return out
}

func TestEmptyStateRoot(t *testing.T) {
	if Root(nil) != chainmodel.Hash(merkle.EmptyRoot()) {
		t.Errorf("empty account map should produce the empty merkle root")
	}
}

func TestZeroAccountsAreExcluded(t *testing.T) {
	withZero := map[chainmodel.PubKey]chainmodel.Account{
		pk(1): {Balance: 10, Nonce: 0},
		pk(2): {Balance: 0, Nonce: 0},
	}
	without := map[chainmodel.PubKey]chainmodel.Account{
		pk(1): {Balance: 10, Nonce: 0},
	}
	if Root(withZero) != Root(without) {
		t.Errorf("an account at {0,0} must not affect the root")
	}
}

func TestRootIsOrderIndependent(t *testing.T) {
	// Maps iterate in random order; equal contents must still hash equally.
	a := map[chainmodel.PubKey]chainmodel.Account{
		pk(3): {Balance: 3, Nonce: 1},
		pk(1): {Balance: 1, Nonce: 2},
		pk(2): {Balance: 2, Nonce: 3},
	}
	r := Root(a)
	for i := 0; i < 10; i++ {
		if Root(a) != r {
			t.Fatalf("root not deterministic across evaluations")
		}
	}
}

func TestRootReflectsBalanceAndNonce(t *testing.T) {
	base := map[chainmodel.PubKey]chainmodel.Account{pk(1): {Balance: 5, Nonce: 1}}
	r := Root(base)
	if Root(map[chainmodel.PubKey]chainmodel.Account{pk(1): {Balance: 6, Nonce: 1}}) == r {
		t.Errorf("balance change must change the root")
	}
	if Root(map[chainmodel.PubKey]chainmodel.Account{pk(1): {Balance: 5, Nonce: 2}}) == r {
		t.Errorf("nonce change must change the root")
	}
}

func TestStateProofVerifies(t *testing.T) {
	accounts := map[chainmodel.PubKey]chainmodel.Account{
		pk(1): {Balance: 5, Nonce: 1},
		pk(2): {Balance: 7, Nonce: 0},
		pk(3): {Balance: 0, Nonce: 9},
	}
	root := Root(accounts)
	for key, acct := range accounts {
		proof, ok := Proof(accounts, key)
		if !ok {
			t.Fatalf("Proof for %s failed", key)
		}
		if proof.Leaf != Leaf(key, acct) {
			t.Errorf("proof leaf does not match the account tuple for %s", key)
		}
		if !merkle.Verify(proof, [32]byte(root)) {
			t.Errorf("state proof for %s does not verify against the root", key)
		}
	}
}

func TestStateProofMissingAccount(t *testing.T) {
	accounts := map[chainmodel.PubKey]chainmodel.Account{pk(1): {Balance: 5, Nonce: 1}}
	if _, ok := Proof(accounts, pk(9)); ok {
		t.Errorf("unmaterialized account must have no proof")
	}
}

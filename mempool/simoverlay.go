// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package mempool

import (
	"github.com/scribechain/scribed/chainmodel"
	"github.com/scribechain/scribed/validator"
)

// simOverlay is a throwaway speculative state used only while selecting
// transactions for a candidate block body: it lets Select walk the pool in
// fee order while respecting balance and nonce preconditions that shift as
// each transaction is tentatively included, without touching the real
// mempool or state store. It mirrors the validator package's own overlay
// but only needs enough of StateView to drive ValidateTx.
type simOverlay struct {
	base    validator.StateView
	changes map[chainmodel.PubKey]chainmodel.Account
}

func newSimOverlay(base validator.StateView) *simOverlay {
	return &simOverlay{base: base, changes: make(map[chainmodel.PubKey]chainmodel.Account)}
}

func (o *simOverlay) Get(pk chainmodel.PubKey) chainmodel.Account {
	if a, ok := o.changes[pk]; ok {
		return a
	}
	return o.base.Get(pk)
}

func (o *simOverlay) AllAccounts() map[chainmodel.PubKey]chainmodel.Account {
	merged := o.base.AllAccounts()
	for k, v := range o.changes {
		merged[k] = v
	}
	return merged
}

// apply mirrors applyOverlay's effect on balances/nonces for the kinds that
// can appear in a mempool (never a coinbase). It does not resolve endorse
// beneficiaries: Select only needs the author's own debit and nonce to
// correctly order the author's subsequent transactions, not the
// beneficiary's resulting balance.
func (o *simOverlay) apply(tx chainmodel.Transaction) {
	switch tx.Kind {
	case chainmodel.KindPost:
		p := tx.Post
		o.debit(p.Author, p.GasFee)
		o.setNonce(p.Author, p.Nonce)
	case chainmodel.KindEndorse:
		e := tx.Endorse
		o.debit(e.Author, e.Amount+e.GasFee)
		o.setNonce(e.Author, e.Nonce)
	case chainmodel.KindTransfer:
		t := tx.Transfer
		o.debit(t.Sender, t.Amount+t.GasFee)
		o.setNonce(t.Sender, t.Nonce)
	}
}

func (o *simOverlay) debit(pk chainmodel.PubKey, amount uint64) {
	a := o.Get(pk)
	if a.Balance < amount {
		a.Balance = 0
	} else {
		a.Balance -= amount
	}
	o.changes[pk] = a
}

func (o *simOverlay) setNonce(pk chainmodel.PubKey, n uint64) {
	a := o.Get(pk)
	a.Nonce = n
	o.changes[pk] = a
}

// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package validator is the pure acceptance function for transactions and
// blocks: given a read-only view of prior state and chain metadata, it
// decides accept/reject with a reason. It holds no handles to the mutable
// stores; block validation runs against a local scratch overlay that is
// discarded on any failure.
package validator

import (
	"github.com/scribechain/scribed/chainmodel"
	"github.com/scribechain/scribed/chainparams"
	"github.com/scribechain/scribed/scriberr"
)

// StateView is the minimal read-only account lookup the validator needs.
// AllAccounts is only used when recomputing a whole candidate block's state
// root (ValidateBlock); mempool admission (ValidateTx alone) never calls it.
type StateView interface {
	Get(pubkey chainmodel.PubKey) chainmodel.Account
	AllAccounts() map[chainmodel.PubKey]chainmodel.Account
}

// ChainView is the minimal read-only chain metadata the validator needs to
// check block-level context: parent resolution, the independently
// recomputed difficulty and median-time-past, and whether a hash
// references a confirmed transaction of a given kind (for reply_to /
// endorse target resolution).
type ChainView interface {
	HeaderByHash(h chainmodel.Hash) (chainmodel.Header, bool)
	ExpectedDifficulty(parent chainmodel.Header) uint64
	MedianTimePast(parent chainmodel.Header) uint64
	ConfirmedKind(h chainmodel.Hash) (chainmodel.Kind, bool)
}

// overlay is a local, in-memory scratch state used to apply a block's
// transactions sequentially during validation without mutating the real
// state store. It is intentionally a stripped-down re-implementation of
// statestore's credit/debit bookkeeping: the validator must be pure and
// must never hold a handle to the mutable store.
type overlay struct {
	base    StateView
	changes map[chainmodel.PubKey]chainmodel.Account
}

func newOverlay(base StateView) *overlay {
	return &overlay{base: base, changes: make(map[chainmodel.PubKey]chainmodel.Account)}
}

func (o *overlay) Get(pk chainmodel.PubKey) chainmodel.Account {
	if a, ok := o.changes[pk]; ok {
		return a
	}
	return o.base.Get(pk)
}

// AllAccounts merges the base view with this overlay's pending changes.
func (o *overlay) AllAccounts() map[chainmodel.PubKey]chainmodel.Account {
	merged := o.base.AllAccounts()
	for k, v := range o.changes {
		merged[k] = v
	}
	return merged
}

func (o *overlay) credit(pk chainmodel.PubKey, amount uint64) {
	a := o.Get(pk)
	a.Balance += amount
	o.changes[pk] = a
}

func (o *overlay) debit(pk chainmodel.PubKey, amount uint64) error {
	a := o.Get(pk)
	if a.Balance < amount {
		return scriberr.New(scriberr.ErrInsufficientBalance,
			"%s has balance %d, needs %d", pk, a.Balance, amount)
	}
	a.Balance -= amount
	o.changes[pk] = a
	return nil
}

func (o *overlay) setNonce(pk chainmodel.PubKey, n uint64) {
	a := o.Get(pk)
	a.Nonce = n
	o.changes[pk] = a
}

// ValidateTx runs every transaction-level acceptance check against state
// (a read-only view, typically an overlay mid-block or the chain tip's
// committed state for mempool admission).
func ValidateTx(tx chainmodel.Transaction, state StateView, chain ChainView, params chainparams.Params) error {
	switch tx.Kind {
	case chainmodel.KindCoinbase:
		return validateCoinbase(tx, params)
	case chainmodel.KindPost:
		return validatePost(tx, state, chain, params)
	case chainmodel.KindEndorse:
		return validateEndorse(tx, state, chain, params)
	case chainmodel.KindTransfer:
		return validateTransfer(tx, state, params)
	default:
		return scriberr.New(scriberr.ErrMalformedEncoding, "unknown transaction kind %d", tx.Kind)
	}
}

func validateCommon(author chainmodel.PubKey, nonce, gasFee uint64, state StateView, params chainparams.Params) error {
	if gasFee < params.MinGasFee {
		return scriberr.New(scriberr.ErrFeeBelowMinimum, "gas_fee %d below minimum %d", gasFee, params.MinGasFee)
	}
	acct := state.Get(author)
	expected := acct.Nonce + 1
	if nonce < expected {
		return scriberr.New(scriberr.ErrNonceStale, "nonce %d is stale, expected %d", nonce, expected)
	}
	if nonce > expected {
		return scriberr.New(scriberr.ErrNonceFutureGap, "nonce %d leaves a gap, expected %d", nonce, expected)
	}
	return nil
}

func validatePost(tx chainmodel.Transaction, state StateView, chain ChainView, params chainparams.Params) error {
	p := tx.Post
	if !tx.VerifySignature() {
		return scriberr.New(scriberr.ErrInvalidSignature, "post signature does not verify for %s", p.Author)
	}
	if p.BodyScalarLen() > params.MaxPostBodyScalars {
		return scriberr.New(scriberr.ErrLimitExceeded,
			"post body is %d scalar values, max %d", p.BodyScalarLen(), params.MaxPostBodyScalars)
	}
	if p.ReplyTo != nil {
		kind, ok := chain.ConfirmedKind(*p.ReplyTo)
		if !ok {
			return scriberr.New(scriberr.ErrReferenceNotFound, "reply_to %s not found", *p.ReplyTo)
		}
		if kind != chainmodel.KindPost {
			return scriberr.New(scriberr.ErrReferenceWrongKind, "reply_to %s is not a post", *p.ReplyTo)
		}
	}
	if err := validateCommon(p.Author, p.Nonce, p.GasFee, state, params); err != nil {
		return err
	}
	acct := state.Get(p.Author)
	if acct.Balance < p.GasFee {
		return scriberr.New(scriberr.ErrInsufficientBalance,
			"%s has balance %d, needs %d for gas_fee", p.Author, acct.Balance, p.GasFee)
	}
	return nil
}

func validateEndorse(tx chainmodel.Transaction, state StateView, chain ChainView, params chainparams.Params) error {
	e := tx.Endorse
	if !tx.VerifySignature() {
		return scriberr.New(scriberr.ErrInvalidSignature, "endorse signature does not verify for %s", e.Author)
	}
	if utf8ScalarLen(e.Message) > params.MaxEndorseMsgScalars {
		return scriberr.New(scriberr.ErrLimitExceeded,
			"endorse message is %d scalar values, max %d", utf8ScalarLen(e.Message), params.MaxEndorseMsgScalars)
	}
	kind, ok := chain.ConfirmedKind(e.Target)
	if !ok {
		return scriberr.New(scriberr.ErrReferenceNotFound, "endorse target %s not found", e.Target)
	}
	if kind != chainmodel.KindPost {
		return scriberr.New(scriberr.ErrReferenceWrongKind, "endorse target %s is not a post", e.Target)
	}
	if err := validateCommon(e.Author, e.Nonce, e.GasFee, state, params); err != nil {
		return err
	}
	acct := state.Get(e.Author)
	need := e.Amount + e.GasFee
	if acct.Balance < need {
		return scriberr.New(scriberr.ErrInsufficientBalance,
			"%s has balance %d, needs %d for amount+gas_fee", e.Author, acct.Balance, need)
	}
	return nil
}

func validateTransfer(tx chainmodel.Transaction, state StateView, params chainparams.Params) error {
	t := tx.Transfer
	if !tx.VerifySignature() {
		return scriberr.New(scriberr.ErrInvalidSignature, "transfer signature does not verify for %s", t.Sender)
	}
	if t.Sender == t.Recipient {
		return scriberr.New(scriberr.ErrMalformedEncoding, "transfer sender and recipient must differ")
	}
	if err := validateCommon(t.Sender, t.Nonce, t.GasFee, state, params); err != nil {
		return err
	}
	acct := state.Get(t.Sender)
	need := t.Amount + t.GasFee
	if acct.Balance < need {
		return scriberr.New(scriberr.ErrInsufficientBalance,
			"%s has balance %d, needs %d for amount+gas_fee", t.Sender, acct.Balance, need)
	}
	return nil
}

func validateCoinbase(tx chainmodel.Transaction, params chainparams.Params) error {
	// Amount/height-matches-block checks are block-level (they need the
	// enclosing block's height and position); this only checks shape.
	if tx.Coinbase == nil {
		return scriberr.New(scriberr.ErrMalformedEncoding, "coinbase transaction missing payload")
	}
	return nil
}

func utf8ScalarLen(s string) int {
	n := 0
	for range s {
		n++
	}
	return n
}

// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package mempool holds the bounded set of unconfirmed, individually-valid
// transactions, indexed by content hash and by (author, nonce). Admission
// supports replace-by-fee at an occupied nonce; eviction drops the lowest
// gas_fee first.
package mempool

import (
	"sort"
	"sync"

	"github.com/scribechain/scribed/chainmodel"
	"github.com/scribechain/scribed/chainparams"
	"github.com/scribechain/scribed/scriberr"
	"github.com/scribechain/scribed/validator"
)

// entry is one pooled transaction plus the bookkeeping needed for
// replace-by-fee and eviction tie-breaks.
type entry struct {
	tx      chainmodel.Transaction
	hash    chainmodel.Hash
	arrival uint64
}

// Pool is the process-singleton mempool. All mutating methods
// (Admit/Remove/RevalidateAgainstTip) are meant to run from the chain
// store's single writer; Hashes/Select are safe for concurrent readers.
type Pool struct {
	mu            sync.RWMutex
	params        chainparams.Params
	maxSize       int
	byHash        map[chainmodel.Hash]*entry
	byAuthorNonce map[chainmodel.PubKey]map[uint64]*entry
	seq           uint64
}

// New creates an empty pool bounded at maxSize transactions.
func New(params chainparams.Params, maxSize int) *Pool {
	return &Pool{
		params:        params,
		maxSize:       maxSize,
		byHash:        make(map[chainmodel.Hash]*entry),
		byAuthorNonce: make(map[chainmodel.PubKey]map[uint64]*entry),
	}
}

// Contains reports whether hash is already pooled, for TX_ANNOUNCE dedup.
func (p *Pool) Contains(hash chainmodel.Hash) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byHash[hash]
	return ok
}

// Get returns the pooled transaction for hash, for TX_REQUEST responses.
func (p *Pool) Get(hash chainmodel.Hash) (chainmodel.Transaction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	e, ok := p.byHash[hash]
	if !ok {
		return chainmodel.Transaction{}, false
	}
	return e.tx, true
}

// Hashes returns every pooled transaction's content hash, for get_mempool.
func (p *Pool) Hashes() []chainmodel.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]chainmodel.Hash, 0, len(p.byHash))
	for h := range p.byHash {
		out = append(out, h)
	}
	return out
}

// Len returns the number of pooled transactions.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byHash)
}

// Admit validates tx against state/chain and, if individually valid, pools
// it. A transaction at the author's existing pooled nonce is replaced only
// if tx offers a strictly higher gas_fee (replace-by-fee); otherwise
// admission of a duplicate nonce is rejected as a stale replacement attempt.
func (p *Pool) Admit(tx chainmodel.Transaction, state validator.StateView, chain validator.ChainView) error {
	if tx.Kind == chainmodel.KindCoinbase {
		return scriberr.New(scriberr.ErrMalformedEncoding, "coinbase transactions are miner-built, never pooled")
	}
	if err := validator.ValidateTx(tx, state, chain, p.params); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	hash := tx.Hash()
	if _, ok := p.byHash[hash]; ok {
		return nil // already pooled, not an error
	}

	author := tx.Author()
	nonce, hasNonce := tx.Nonce()
	if hasNonce {
		if existing, ok := p.byAuthorNonce[author][nonce]; ok {
			if tx.GasFee() <= existing.tx.GasFee() {
				return scriberr.New(scriberr.ErrLimitExceeded,
					"replacement for %s nonce %d needs a higher gas_fee than %d", author, nonce, existing.tx.GasFee())
			}
			p.removeLocked(existing.hash)
		}
	}

	p.seq++
	e := &entry{tx: tx, hash: hash, arrival: p.seq}
	p.byHash[hash] = e
	if hasNonce {
		if p.byAuthorNonce[author] == nil {
			p.byAuthorNonce[author] = make(map[uint64]*entry)
		}
		p.byAuthorNonce[author][nonce] = e
	}

	p.evictIfOverCapacityLocked()
	return nil
}

// Remove drops hash from the pool if present, e.g. once its transaction is
// confirmed in a new block.
func (p *Pool) Remove(hash chainmodel.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.removeLocked(hash)
}

// this function MUST be called with the pool mutex locked for writes
func (p *Pool) removeLocked(hash chainmodel.Hash) {
	e, ok := p.byHash[hash]
	if !ok {
		return
	}
	delete(p.byHash, hash)
	if nonce, ok := e.tx.Nonce(); ok {
		author := e.tx.Author()
		if m := p.byAuthorNonce[author]; m != nil {
			delete(m, nonce)
			if len(m) == 0 {
				delete(p.byAuthorNonce, author)
			}
		}
	}
}

// this function MUST be called with the pool mutex locked for writes
func (p *Pool) evictIfOverCapacityLocked() {
	for len(p.byHash) > p.maxSize {
		var victim *entry
		for _, e := range p.byHash {
			if victim == nil ||
				e.tx.GasFee() < victim.tx.GasFee() ||
				(e.tx.GasFee() == victim.tx.GasFee() && e.arrival < victim.arrival) {
				victim = e
			}
		}
		if victim == nil {
			return
		}
		p.removeLocked(victim.hash)
	}
}

// RevalidateAgainstTip re-checks every pooled transaction against the new
// tip's state and chain view, dropping any that no longer validate (stale
// nonce, insufficient balance, an orphaned reference). It returns the
// dropped content hashes.
func (p *Pool) RevalidateAgainstTip(state validator.StateView, chain validator.ChainView) []chainmodel.Hash {
	p.mu.Lock()
	defer p.mu.Unlock()

	var dropped []chainmodel.Hash
	for hash, e := range p.byHash {
		if err := validator.ValidateTx(e.tx, state, chain, p.params); err != nil {
			dropped = append(dropped, hash)
		}
	}
	for _, h := range dropped {
		p.removeLocked(h)
	}
	return dropped
}

// Select returns transactions for a candidate block body, in the miner's
// selection order: descending gas_fee overall, but never skipping an
// author's lower-nonce transaction in favor of a higher-nonce one from the
// same author within the same block. A candidate whose serialized size
// would push the total past maxBodyBytes, or that fails re-validation
// against the running speculative state (its balance/nonce preconditions
// no longer hold given earlier selections), is skipped together with its
// author's later nonces; selection goes on with the other authors.
func (p *Pool) Select(maxBodyBytes int, state validator.StateView, chain validator.ChainView) []chainmodel.Transaction {
	p.mu.RLock()
	byAuthor := make(map[chainmodel.PubKey][]*entry, len(p.byAuthorNonce))
	for author, byNonce := range p.byAuthorNonce {
		list := make([]*entry, 0, len(byNonce))
		for _, e := range byNonce {
			list = append(list, e)
		}
		sort.Slice(list, func(i, j int) bool {
			ni, _ := list[i].tx.Nonce()
			nj, _ := list[j].tx.Nonce()
			return ni < nj
		})
		byAuthor[author] = list
	}
	p.mu.RUnlock()

	head := make(map[chainmodel.PubKey]int, len(byAuthor)) // next index to consider per author
	candidateHeap := make([]*entry, 0, len(byAuthor))
	for author, list := range byAuthor {
		if len(list) > 0 {
			candidateHeap = append(candidateHeap, list[0])
			head[author] = 0
		}
	}

	sim := newSimOverlay(state)
	var selected []chainmodel.Transaction
	size := 0

	for len(candidateHeap) > 0 {
		bestIdx := 0
		for i := 1; i < len(candidateHeap); i++ {
			if candidateHeap[i].tx.GasFee() > candidateHeap[bestIdx].tx.GasFee() {
				bestIdx = i
			}
		}
		best := candidateHeap[bestIdx]
		author := best.tx.Author()

		candidateHeap[bestIdx] = candidateHeap[len(candidateHeap)-1]
		candidateHeap = candidateHeap[:len(candidateHeap)-1]

		txSize := len(best.tx.CanonicalFullBytes())
		if err := validator.ValidateTx(best.tx, sim, chain, p.params); err == nil && size+txSize <= maxBodyBytes {
			sim.apply(best.tx)
			selected = append(selected, best.tx)
			size += txSize

			nextIdx := head[author] + 1
			list := byAuthor[author]
			if nextIdx < len(list) {
				head[author] = nextIdx
				candidateHeap = append(candidateHeap, list[nextIdx])
			}
		}
		// A candidate that fails re-validation (or would overflow the
		// body) is dropped from consideration for this block only; its
		// author's next nonce is never promoted ahead of it, so later
		// transactions from the same author are correctly skipped too
		// by simply not re-adding any successor once one candidate is
		// abandoned due to size (abandoning due to validation failure
		// for balance reasons has the same effect: no successor can be
		// valid either, since nonces must be contiguous).
	}
	return selected
}

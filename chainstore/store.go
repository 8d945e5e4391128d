// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainstore is the block and header index: it tracks every known
// block (including blocks on inactive branches; none is ever pruned),
// computes cumulative work, selects the active tip, and drives
// reorganization when a heavier branch is found. Mutating operations are
// serialized through a single writer mutex; readers take a read lock, so a
// reader sees either the pre-reorg or post-reorg tip, never an
// intermediate state.
package chainstore

import (
	"math/big"
	"sync"
	"time"

	"github.com/btcsuite/goleveldb/leveldb"
	"github.com/pkg/errors"

	"github.com/scribechain/scribed/chainmodel"
	"github.com/scribechain/scribed/chainparams"
	"github.com/scribechain/scribed/logs"
	"github.com/scribechain/scribed/mempool"
	"github.com/scribechain/scribed/statestore"
	"github.com/scribechain/scribed/validator"
)

var log = logs.Get("CHST")

// node is one block in the in-memory chain tree.
type node struct {
	header  chainmodel.Header
	hash    chainmodel.Hash
	parent  *node
	txs     []chainmodel.Transaction
	work    *big.Int
	touched map[chainmodel.PubKey]chainmodel.Account
}

// txRecord is the active branch's confirmed-transaction index entry, used
// to resolve reply_to and endorse-target references for mempool admission
// and for blocks extending the active tip. A block that extends another
// branch resolves its references through branchView instead.
type txRecord struct {
	Kind      chainmodel.Kind
	Author    chainmodel.PubKey
	BlockHash chainmodel.Hash
	Height    uint64
}

// TipChange is published to subscribers whenever the active tip changes.
type TipChange struct {
	Header   chainmodel.Header
	Hash     chainmodel.Hash
	IsReorg  bool
	Reverted []chainmodel.Hash // abandoned-branch block hashes, set only on reorg
}

// Store is the process-singleton chain store.
type Store struct {
	writeMu sync.Mutex
	mu      sync.RWMutex

	params chainparams.Params
	state  *statestore.Store
	pool   *mempool.Pool
	db     *leveldb.DB

	blocksByHash   map[chainmodel.Hash]*node
	activeByHeight map[uint64]*node
	genesis        *node
	tip            *node
	txIndex        map[chainmodel.Hash]txRecord
	orphans        map[chainmodel.Hash][]chainmodel.Block

	subsMu    sync.Mutex
	subs      map[int]chan TipChange
	nextSubID int
}

// Open loads the chain store from dataDir (creating it with the network's
// genesis block if empty) and wires it to state and pool, the singletons
// it mutates under reorg.
func Open(dataDir string, params chainparams.Params, state *statestore.Store, pool *mempool.Pool) (*Store, error) {
	db, err := leveldb.OpenFile(dataDir, nil)
	if err != nil {
		return nil, errors.Wrap(err, "chainstore: opening leveldb")
	}
	s := &Store{
		params:         params,
		state:          state,
		pool:           pool,
		db:             db,
		blocksByHash:   make(map[chainmodel.Hash]*node),
		activeByHeight: make(map[uint64]*node),
		txIndex:        make(map[chainmodel.Hash]txRecord),
		orphans:        make(map[chainmodel.Hash][]chainmodel.Block),
		subs:           make(map[int]chan TipChange),
	}
	if err := s.loadOrInitGenesis(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) loadOrInitGenesis() error {
	if err := s.loadFromDisk(); err != nil {
		return err
	}
	if s.tip != nil {
		return nil
	}
	genesis := s.params.Genesis
	n := &node{
		header:  genesis.Header,
		hash:    genesis.Hash(),
		txs:     genesis.Transactions,
		work:    workFor(genesis.Header.Difficulty),
		touched: map[chainmodel.PubKey]chainmodel.Account{},
	}
	s.blocksByHash[n.hash] = n
	s.activeByHeight[0] = n
	s.genesis = n
	s.tip = n
	s.indexConfirmedTxs(n)
	return s.persistNode(n, true)
}

// Tip returns the active tip's header.
func (s *Store) Tip() chainmodel.Header {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tip.header
}

// StateView exposes the active tip's committed account state, satisfying
// validator.StateView, for the miner to assemble a candidate's speculative
// state root against the live tip (the only parent a locally assembled
// candidate ever extends).
func (s *Store) StateView() validator.StateView {
	return s.state
}

// TipHash returns the active tip's block hash.
func (s *Store) TipHash() chainmodel.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tip.hash
}

// HeaderByHash satisfies validator.ChainView: any known header, active or
// not, so a block extending an inactive branch can still resolve its
// parent.
func (s *Store) HeaderByHash(h chainmodel.Hash) (chainmodel.Header, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.blocksByHash[h]
	if !ok {
		return chainmodel.Header{}, false
	}
	return n.header, true
}

// BlockByHash returns the full block (header + body) for h, active branch
// or not.
func (s *Store) BlockByHash(h chainmodel.Hash) (chainmodel.Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.blocksByHash[h]
	if !ok {
		return chainmodel.Block{}, false
	}
	return chainmodel.Block{Header: n.header, Transactions: n.txs}, true
}

// BlockByHeight returns the active branch's block at height, for get_block
// by height and for bulk sync responses.
func (s *Store) BlockByHeight(height uint64) (chainmodel.Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.activeByHeight[height]
	if !ok {
		return chainmodel.Block{}, false
	}
	return chainmodel.Block{Header: n.header, Transactions: n.txs}, true
}

// ConfirmedKind satisfies validator.ChainView: does the active branch
// confirm a transaction with this content hash, and if so what kind.
func (s *Store) ConfirmedKind(h chainmodel.Hash) (chainmodel.Kind, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.txIndex[h]
	if !ok {
		return 0, false
	}
	return rec.Kind, true
}

// PostAuthor satisfies validator.PostAuthorView and
// statestore.PostAuthorResolver: the author of a confirmed post, looked up
// against the active branch.
func (s *Store) PostAuthor(postHash chainmodel.Hash) (chainmodel.PubKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.txIndex[postHash]
	if !ok || rec.Kind != chainmodel.KindPost {
		return chainmodel.PubKey{}, false
	}
	return rec.Author, true
}

// TxLocation reports the confirming block hash and height of a
// content-addressed transaction, for get_transaction's inclusion info.
func (s *Store) TxLocation(hash chainmodel.Hash) (blockHash chainmodel.Hash, height uint64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.txIndex[hash]
	if !ok {
		return chainmodel.Hash{}, 0, false
	}
	return rec.BlockHash, rec.Height, true
}

// Subscribe registers a channel that receives every future TipChange. The
// channel is buffered; a subscriber that falls behind misses events rather
// than ever blocking the writer.
func (s *Store) Subscribe() (ch <-chan TipChange, cancel func()) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	c := make(chan TipChange, 16)
	s.subs[id] = c
	return c, func() {
		s.subsMu.Lock()
		defer s.subsMu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
}

func (s *Store) publish(tc TipChange) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for _, c := range s.subs {
		select {
		case c <- tc:
		default: // drop for a slow subscriber rather than block the writer
		}
	}
}

func workFor(difficulty uint64) *big.Int {
	return new(big.Int).Lsh(big.NewInt(1), uint(difficulty))
}

// now is a seam so tests can avoid depending on wall-clock skew near the
// MaxFutureTimeDrift boundary; production always passes time.Now().
var now = func() uint64 { return uint64(time.Now().Unix()) }

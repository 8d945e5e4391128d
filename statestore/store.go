// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package statestore holds the world state, the total pubkey-to-account
// mapping, and the recent per-block reverse-diff log that lets a reorg
// rewind to any block within the configured depth and replay forward.
// Persistence is github.com/btcsuite/goleveldb/leveldb.
package statestore

import (
	"encoding/binary"
	"sync"

	"github.com/btcsuite/goleveldb/leveldb"
	"github.com/btcsuite/goleveldb/leveldb/util"
	"github.com/pkg/errors"

	"github.com/scribechain/scribed/chainmodel"
	"github.com/scribechain/scribed/worldstate"
)

// Keyspaces: acct/<pubkey> holds an account's current (balance, nonce);
// diff/<height> holds the reverse-diff record of the block applied at that
// height, written atomically with the account updates it belongs to, so the
// rewind stack survives a restart at the same depth it had in memory.
var (
	acctPrefix = []byte("acct/")
	diffPrefix = []byte("diff/")
)

func acctKey(pubkey chainmodel.PubKey) []byte {
	return append(append([]byte{}, acctPrefix...), pubkey[:]...)
}

func diffKey(height uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return append(append([]byte{}, diffPrefix...), buf[:]...)
}

// diffEntry records an account's value immediately before a block touched
// it, so undoing the block restores exactly that value (or deletes the key
// if the account didn't exist before).
type diffEntry struct {
	Key     chainmodel.PubKey
	Existed bool
	Prior   chainmodel.Account
}

// appliedEntry is one level of the rewind stack: the block that was applied
// and the diffs needed to undo it.
type appliedEntry struct {
	BlockHash chainmodel.Hash
	Height    uint64
	Diffs     []diffEntry
}

// Store is the process-singleton world-state store. All mutating methods
// must be called by the single chain-store writer; Get is safe for
// concurrent readers via the embedded RWMutex.
type Store struct {
	mu          sync.RWMutex
	db          *leveldb.DB
	accounts    map[chainmodel.PubKey]chainmodel.Account
	stack       []appliedEntry // oldest first; trimmed to maxDepth once past 2*maxDepth
	maxDepth    uint64
	genesisHash chainmodel.Hash
}

// Open loads an existing store from dataDir, or creates one if absent.
// genesisHash identifies the network's genesis block, which is never run
// through Apply (it mints nothing) and so never has a stack entry of its
// own; RewindTo special-cases it as "undo everything applied so far".
func Open(dataDir string, maxReorgDepth uint64, genesisHash chainmodel.Hash) (*Store, error) {
	db, err := leveldb.OpenFile(dataDir, nil)
	if err != nil {
		return nil, errors.Wrap(err, "statestore: opening leveldb")
	}
	s := &Store{
		db:          db,
		accounts:    make(map[chainmodel.PubKey]chainmodel.Account),
		maxDepth:    maxReorgDepth,
		genesisHash: genesisHash,
	}
	if err := s.loadAccounts(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.loadStack(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close flushes and releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) loadAccounts() error {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()
	for iter.Next() {
		key := iter.Key()
		if len(key) < len(acctPrefix) || string(key[:len(acctPrefix)]) != string(acctPrefix) {
			continue
		}
		var pk chainmodel.PubKey
		copy(pk[:], key[len(acctPrefix):])
		bal := binary.BigEndian.Uint64(iter.Value()[0:8])
		nonce := binary.BigEndian.Uint64(iter.Value()[8:16])
		s.accounts[pk] = chainmodel.Account{Balance: bal, Nonce: nonce}
	}
	return iter.Error()
}

// loadStack rebuilds the rewind stack from the persisted diff records.
// Without this a reorg whose common ancestor predates the last restart
// would be refused even when it is well within the configured depth.
func (s *Store) loadStack() error {
	iter := s.db.NewIterator(util.BytesPrefix(diffPrefix), nil)
	defer iter.Release()
	for iter.Next() {
		height := binary.BigEndian.Uint64(iter.Key()[len(diffPrefix):])
		entry, err := decodeAppliedEntry(height, iter.Value())
		if err != nil {
			return errors.Wrapf(err, "statestore: diff record at height %d", height)
		}
		// The 8-byte big-endian height keys iterate in ascending order,
		// which is exactly the stack's oldest-first invariant.
		s.stack = append(s.stack, entry)
	}
	return errors.Wrap(iter.Error(), "statestore: iterating diff records")
}

func encodeAppliedEntry(e appliedEntry) []byte {
	out := make([]byte, 0, 32+4+len(e.Diffs)*(32+1+16))
	out = append(out, e.BlockHash[:]...)
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(e.Diffs)))
	out = append(out, countBuf[:]...)
	for _, d := range e.Diffs {
		out = append(out, d.Key[:]...)
		if d.Existed {
			out = append(out, 1)
		} else {
			out = append(out, 0)
		}
		var buf [16]byte
		binary.BigEndian.PutUint64(buf[0:8], d.Prior.Balance)
		binary.BigEndian.PutUint64(buf[8:16], d.Prior.Nonce)
		out = append(out, buf[:]...)
	}
	return out
}

func decodeAppliedEntry(height uint64, data []byte) (appliedEntry, error) {
	if len(data) < 36 {
		return appliedEntry{}, errors.New("truncated record")
	}
	e := appliedEntry{Height: height}
	copy(e.BlockHash[:], data[:32])
	count := binary.BigEndian.Uint32(data[32:36])
	off := 36
	if len(data) != off+int(count)*(32+1+16) {
		return appliedEntry{}, errors.New("record length does not match diff count")
	}
	e.Diffs = make([]diffEntry, count)
	for i := range e.Diffs {
		d := &e.Diffs[i]
		copy(d.Key[:], data[off:off+32])
		d.Existed = data[off+32] == 1
		d.Prior.Balance = binary.BigEndian.Uint64(data[off+33 : off+41])
		d.Prior.Nonce = binary.BigEndian.Uint64(data[off+41 : off+49])
		off += 49
	}
	return e, nil
}

// Get returns the account record for pubkey, or the implicit zero account.
func (s *Store) Get(pubkey chainmodel.PubKey) chainmodel.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accounts[pubkey]
}

// StateRoot computes the Merkle root over (pubkey, balance, nonce) tuples
// sorted by pubkey, the form committed in every block header.
func (s *Store) StateRoot() chainmodel.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stateRootLocked()
}

func (s *Store) stateRootLocked() chainmodel.Hash {
	return worldstate.Root(s.accounts)
}

// AllAccounts returns a defensive copy of the full materialized account
// map, for callers (the validator's overlay, when recomputing a candidate
// block's state root) that need to enumerate the whole set rather than
// look up a single key.
func (s *Store) AllAccounts() map[chainmodel.PubKey]chainmodel.Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[chainmodel.PubKey]chainmodel.Account, len(s.accounts))
	for k, v := range s.accounts {
		out[k] = v
	}
	return out
}

// credit adds amount to pubkey's balance, recording a diff entry for undo.
func (s *Store) credit(pubkey chainmodel.PubKey, amount uint64, diffs *[]diffEntry) {
	acct, existed := s.accounts[pubkey]
	*diffs = append(*diffs, diffEntry{Key: pubkey, Existed: existed, Prior: acct})
	acct.Balance += amount
	s.accounts[pubkey] = acct
}

// debit subtracts amount from pubkey's balance. Callers must have already
// validated sufficient balance; ErrInsufficientBalance here indicates a
// validator/state-store disagreement, a programmer error.
func (s *Store) debit(pubkey chainmodel.PubKey, amount uint64, diffs *[]diffEntry) error {
	acct, existed := s.accounts[pubkey]
	if acct.Balance < amount {
		return errors.Errorf("statestore: debit of %d exceeds balance %d for %s", amount, acct.Balance, pubkey)
	}
	*diffs = append(*diffs, diffEntry{Key: pubkey, Existed: existed, Prior: acct})
	acct.Balance -= amount
	s.accounts[pubkey] = acct
	return nil
}

// setNonce advances pubkey's nonce to n, recording a diff entry for undo.
func (s *Store) setNonce(pubkey chainmodel.PubKey, n uint64, diffs *[]diffEntry) {
	acct, existed := s.accounts[pubkey]
	*diffs = append(*diffs, diffEntry{Key: pubkey, Existed: existed, Prior: acct})
	acct.Nonce = n
	s.accounts[pubkey] = acct
}

// PostAuthorResolver resolves a confirmed post's content hash to its
// author. The state store only knows balances and nonces; resolving an
// endorsement's beneficiary requires the transaction index the chain store
// owns, so Apply takes a resolver rather than embedding that lookup here.
type PostAuthorResolver interface {
	PostAuthor(postHash chainmodel.Hash) (chainmodel.PubKey, bool)
}

// Apply executes the already-validated state transitions of block and
// commits them atomically, returning the resulting state root. Callers
// (the chain store, under its single-writer discipline) are responsible
// for having validated the block first; Apply itself re-derives balances
// mechanically and returns an error only on an internal invariant breach
// (negative balance, or an unresolvable endorse target), never a fresh
// consensus judgment.
func (s *Store) Apply(block chainmodel.Block, posts PostAuthorResolver) (chainmodel.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	miner := block.Header.Miner
	var diffs []diffEntry
	for _, tx := range block.Transactions {
		if err := s.applyTx(tx, miner, posts, &diffs); err != nil {
			// Undo the partial application so a failed block leaves no
			// trace; nothing has reached disk yet.
			for i := len(diffs) - 1; i >= 0; i-- {
				d := diffs[i]
				if !d.Existed {
					delete(s.accounts, d.Key)
				} else {
					s.accounts[d.Key] = d.Prior
				}
			}
			return chainmodel.Hash{}, err
		}
	}

	entry := appliedEntry{BlockHash: block.Hash(), Height: block.Header.Height, Diffs: diffs}
	if err := s.persist(entry); err != nil {
		return chainmodel.Hash{}, err
	}

	s.stack = append(s.stack, entry)
	if uint64(len(s.stack)) > s.maxDepth*2 {
		dropped := s.stack[:uint64(len(s.stack))-s.maxDepth]
		s.stack = s.stack[uint64(len(s.stack))-s.maxDepth:]
		// Trimming the retained depth is bookkeeping, not consensus: a
		// crash between the entry batch above and this cleanup only
		// leaves extra undo records behind, which loadStack tolerates.
		batch := new(leveldb.Batch)
		for _, e := range dropped {
			batch.Delete(diffKey(e.Height))
		}
		if err := s.db.Write(batch, nil); err != nil {
			return chainmodel.Hash{}, errors.Wrap(err, "statestore: trimming diff records")
		}
	}

	return s.stateRootLocked(), nil
}

func (s *Store) applyTx(tx chainmodel.Transaction, miner chainmodel.PubKey, posts PostAuthorResolver, diffs *[]diffEntry) error {
	switch tx.Kind {
	case chainmodel.KindCoinbase:
		c := tx.Coinbase
		s.credit(c.Recipient, c.Amount, diffs)
		return nil
	case chainmodel.KindPost:
		p := tx.Post
		if err := s.debit(p.Author, p.GasFee, diffs); err != nil {
			return err
		}
		s.credit(miner, p.GasFee, diffs)
		s.setNonce(p.Author, p.Nonce, diffs)
		return nil
	case chainmodel.KindEndorse:
		e := tx.Endorse
		if err := s.debit(e.Author, e.Amount+e.GasFee, diffs); err != nil {
			return err
		}
		s.credit(miner, e.GasFee, diffs)
		if e.Amount > 0 {
			beneficiary, ok := posts.PostAuthor(e.Target)
			if !ok {
				return errors.Errorf("statestore: endorse target %s has no known author", e.Target)
			}
			s.credit(beneficiary, e.Amount, diffs)
		}
		s.setNonce(e.Author, e.Nonce, diffs)
		return nil
	case chainmodel.KindTransfer:
		t := tx.Transfer
		if err := s.debit(t.Sender, t.Amount+t.GasFee, diffs); err != nil {
			return err
		}
		s.credit(t.Recipient, t.Amount, diffs)
		s.credit(miner, t.GasFee, diffs)
		s.setNonce(t.Sender, t.Nonce, diffs)
		return nil
	default:
		return errors.Errorf("statestore: unknown transaction kind %d", tx.Kind)
	}
}

// persist writes the post-block account values and the block's reverse-diff
// record in one atomic batch, so the on-disk state and the rewind capability
// it implies can never diverge across a crash.
func (s *Store) persist(entry appliedEntry) error {
	batch := new(leveldb.Batch)
	touched := make(map[chainmodel.PubKey]struct{}, len(entry.Diffs))
	for _, d := range entry.Diffs {
		touched[d.Key] = struct{}{}
	}
	for pk := range touched {
		acct := s.accounts[pk]
		var buf [16]byte
		binary.BigEndian.PutUint64(buf[0:8], acct.Balance)
		binary.BigEndian.PutUint64(buf[8:16], acct.Nonce)
		batch.Put(acctKey(pk), buf[:])
	}
	batch.Put(diffKey(entry.Height), encodeAppliedEntry(entry))
	if err := s.db.Write(batch, nil); err != nil {
		return errors.Wrap(err, "statestore: persisting diffs")
	}
	return nil
}

// RewindTo restores the state that existed immediately after blockHash,
// undoing blocks most-recent-first. blockHash must be on this store's
// current applied stack (an ancestor within the retained reorg depth);
// otherwise ErrReorgTooDeep-shaped callers should treat this as
// unsupported and fail the reorg.
func (s *Store) RewindTo(blockHash chainmodel.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i := len(s.stack) - 1; i >= 0; i-- {
		if s.stack[i].BlockHash == blockHash {
			idx = i
			break
		}
	}
	if idx == -1 {
		if blockHash != s.genesisHash {
			return errors.Errorf("statestore: block %s not within retained rewind depth", blockHash)
		}
		// Rewinding to genesis undoes every applied block; genesis itself
		// never appears on the stack since it mints nothing and is never
		// run through Apply.
		idx = -1
	}

	var undone []diffEntry
	var undoneHeights []uint64
	// Collect the undone blocks oldest first; walking the list backwards
	// below undoes the newest block first, so each account ends on the
	// prior value recorded by the oldest undone block.
	for i := idx + 1; i < len(s.stack); i++ {
		undone = append(undone, s.stack[i].Diffs...)
		undoneHeights = append(undoneHeights, s.stack[i].Height)
	}
	touched := make(map[chainmodel.PubKey]struct{}, len(undone))
	for i := len(undone) - 1; i >= 0; i-- {
		d := undone[i]
		touched[d.Key] = struct{}{}
		if !d.Existed {
			delete(s.accounts, d.Key)
		} else {
			s.accounts[d.Key] = d.Prior
		}
	}
	s.stack = s.stack[:idx+1]
	return s.persistRewind(touched, undoneHeights)
}

// persistRewind writes every account the rewind touched back to disk in one
// batch, deleting the records of accounts that no longer exist (they were
// created only by the undone blocks) along with the undone blocks' own
// diff records.
func (s *Store) persistRewind(touched map[chainmodel.PubKey]struct{}, undoneHeights []uint64) error {
	batch := new(leveldb.Batch)
	for pk := range touched {
		acct, ok := s.accounts[pk]
		if !ok {
			batch.Delete(acctKey(pk))
			continue
		}
		var buf [16]byte
		binary.BigEndian.PutUint64(buf[0:8], acct.Balance)
		binary.BigEndian.PutUint64(buf[8:16], acct.Nonce)
		batch.Put(acctKey(pk), buf[:])
	}
	for _, height := range undoneHeights {
		batch.Delete(diffKey(height))
	}
	if err := s.db.Write(batch, nil); err != nil {
		return errors.Wrap(err, "statestore: persisting rewind")
	}
	return nil
}

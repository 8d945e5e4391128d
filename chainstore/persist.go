// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainstore

import (
	"bytes"
	"encoding/binary"
	"math/big"

	"github.com/btcsuite/goleveldb/leveldb"
	"github.com/btcsuite/goleveldb/leveldb/util"
	"github.com/pkg/errors"

	"github.com/scribechain/scribed/chainmodel"
)

// On-disk layout: every known block (active branch or not; none is ever
// deleted) is written under blockPrefix keyed by its
// content hash; a parallel heightPrefix index records which hash occupies
// each height on the *active* branch only, and tipKey names the active
// tip, so startup rebuilds the whole in-memory tree without replaying
// state transitions from genesis.
var (
	blockPrefix   = []byte("block/")
	touchedPrefix = []byte("touched/")
	heightPrefix  = []byte("height/")
	tipKey        = []byte("tip")
)

func blockKey(h chainmodel.Hash) []byte {
	return append(append([]byte{}, blockPrefix...), h[:]...)
}

func touchedKey(h chainmodel.Hash) []byte {
	return append(append([]byte{}, touchedPrefix...), h[:]...)
}

func heightKey(height uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], height)
	return append(append([]byte{}, heightPrefix...), buf[:]...)
}

func writeBigInt(buf *bytes.Buffer, v *big.Int) {
	b := v.Bytes()
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(b)))
	buf.Write(lenBuf[:])
	buf.Write(b)
}

func readBigInt(r *bytes.Reader) (*big.Int, error) {
	var lenBuf [4]byte
	if _, err := r.Read(lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return nil, err
		}
	}
	return new(big.Int).SetBytes(b), nil
}

// encodeNodeRecord serializes a node as a length-prefixed canonical block
// (the same bytes the wire carries) followed by its cumulative work, the
// only extra field a node carries that isn't recoverable by re-parsing the
// block itself.
func encodeNodeRecord(n *node) ([]byte, error) {
	blob := chainmodel.Block{Header: n.header, Transactions: n.txs}.CanonicalBytes()
	var buf bytes.Buffer
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(blob)))
	buf.Write(lenBuf[:])
	buf.Write(blob)
	writeBigInt(&buf, n.work)
	return buf.Bytes(), nil
}

func decodeNodeRecord(data []byte) (chainmodel.Block, *big.Int, error) {
	if len(data) < 4 {
		return chainmodel.Block{}, nil, errors.New("chainstore: truncated block record")
	}
	blobLen := binary.BigEndian.Uint32(data[:4])
	if uint64(len(data)) < 4+uint64(blobLen) {
		return chainmodel.Block{}, nil, errors.New("chainstore: truncated block record")
	}
	block, err := chainmodel.DecodeBlock(data[4 : 4+blobLen])
	if err != nil {
		return chainmodel.Block{}, nil, err
	}
	work, err := readBigInt(bytes.NewReader(data[4+blobLen:]))
	if err != nil {
		return chainmodel.Block{}, nil, err
	}
	return block, work, nil
}

func encodeTouched(touched map[chainmodel.PubKey]chainmodel.Account) []byte {
	var buf bytes.Buffer
	var countBuf [4]byte
	binary.BigEndian.PutUint32(countBuf[:], uint32(len(touched)))
	buf.Write(countBuf[:])
	for pk, acct := range touched {
		buf.Write(pk[:])
		var abuf [16]byte
		binary.BigEndian.PutUint64(abuf[0:8], acct.Balance)
		binary.BigEndian.PutUint64(abuf[8:16], acct.Nonce)
		buf.Write(abuf[:])
	}
	return buf.Bytes()
}

func decodeTouched(data []byte) map[chainmodel.PubKey]chainmodel.Account {
	out := map[chainmodel.PubKey]chainmodel.Account{}
	if len(data) < 4 {
		return out
	}
	count := binary.BigEndian.Uint32(data[:4])
	off := 4
	for i := uint32(0); i < count; i++ {
		if off+32+16 > len(data) {
			break
		}
		var pk chainmodel.PubKey
		copy(pk[:], data[off:off+32])
		off += 32
		bal := binary.BigEndian.Uint64(data[off : off+8])
		nonce := binary.BigEndian.Uint64(data[off+8 : off+16])
		off += 16
		out[pk] = chainmodel.Account{Balance: bal, Nonce: nonce}
	}
	return out
}

// persistNode writes n's block record and touched-account diff. isGenesis
// additionally seeds the tip and height-0 index, since loadOrInitGenesis
// bypasses acceptBlock/activateTip for the very first node.
func (s *Store) persistNode(n *node, isGenesis bool) error {
	record, err := encodeNodeRecord(n)
	if err != nil {
		return errors.Wrap(err, "chainstore: encoding block record")
	}
	batch := new(leveldb.Batch)
	batch.Put(blockKey(n.hash), record)
	batch.Put(touchedKey(n.hash), encodeTouched(n.touched))
	if isGenesis {
		batch.Put(heightKey(n.header.Height), n.hash[:])
		batch.Put(tipKey, n.hash[:])
	}
	if err := s.db.Write(batch, nil); err != nil {
		return errors.Wrap(err, "chainstore: persisting block")
	}
	return nil
}

// persistTip records newTip as the active tip and rewrites the
// height-index entries for the full active path from genesis, since a
// reorg may have swapped out an arbitrarily long suffix of it.
func (s *Store) persistTip(newTip *node) error {
	batch := new(leveldb.Batch)
	batch.Put(tipKey, newTip.hash[:])
	for n := newTip; n != nil; n = n.parent {
		batch.Put(heightKey(n.header.Height), n.hash[:])
	}
	if err := s.db.Write(batch, nil); err != nil {
		return errors.Wrap(err, "chainstore: persisting tip")
	}
	return nil
}

// loadFromDisk rebuilds the in-memory chain tree from every persisted
// block record. It is a no-op (leaving s.tip nil) on a fresh database, the
// signal loadOrInitGenesis uses to seed genesis instead.
func (s *Store) loadFromDisk() error {
	records := make(map[chainmodel.Hash]struct {
		block chainmodel.Block
		work  *big.Int
	})
	iter := s.db.NewIterator(util.BytesPrefix(blockPrefix), nil)
	for iter.Next() {
		var hash chainmodel.Hash
		copy(hash[:], iter.Key()[len(blockPrefix):])
		block, work, err := decodeNodeRecord(iter.Value())
		if err != nil {
			iter.Release()
			return errors.Wrapf(err, "chainstore: decoding block %s", hash)
		}
		records[hash] = struct {
			block chainmodel.Block
			work  *big.Int
		}{block, work}
	}
	if err := iter.Error(); err != nil {
		iter.Release()
		return errors.Wrap(err, "chainstore: iterating blocks")
	}
	iter.Release()

	if len(records) == 0 {
		return nil
	}

	nodes := make(map[chainmodel.Hash]*node, len(records))
	for hash, r := range records {
		touchedRaw, err := s.db.Get(touchedKey(hash), nil)
		var touched map[chainmodel.PubKey]chainmodel.Account
		if err == nil {
			touched = decodeTouched(touchedRaw)
		} else {
			touched = map[chainmodel.PubKey]chainmodel.Account{}
		}
		nodes[hash] = &node{
			header:  r.block.Header,
			hash:    hash,
			txs:     r.block.Transactions,
			work:    r.work,
			touched: touched,
		}
	}
	for hash, n := range nodes {
		if n.header.Height == 0 {
			s.genesis = n
			continue
		}
		parent, ok := nodes[n.header.PrevHash]
		if !ok {
			return errors.Errorf("chainstore: block %s's parent %s missing from disk", hash, n.header.PrevHash)
		}
		n.parent = parent
	}
	if s.genesis == nil {
		return errors.New("chainstore: no genesis block found among persisted records")
	}

	tipHashRaw, err := s.db.Get(tipKey, nil)
	if err != nil {
		return errors.Wrap(err, "chainstore: reading persisted tip")
	}
	var tipHash chainmodel.Hash
	copy(tipHash[:], tipHashRaw)
	tip, ok := nodes[tipHash]
	if !ok {
		return errors.Errorf("chainstore: persisted tip %s not among loaded blocks", tipHash)
	}

	s.blocksByHash = nodes
	s.tip = tip
	s.activeByHeight = make(map[uint64]*node, len(nodes))
	for n := tip; n != nil; n = n.parent {
		s.activeByHeight[n.header.Height] = n
		s.indexConfirmedTxs(n)
	}
	return nil
}

// indexConfirmedTxs adds n's transactions to the active-branch reference
// index. Used both at genesis init (no lock needed, nothing else can be
// reading yet) and while rebuilding from disk at startup.
func (s *Store) indexConfirmedTxs(n *node) {
	for _, tx := range n.txs {
		s.txIndex[tx.Hash()] = txRecord{
			Kind:      tx.Kind,
			Author:    tx.Author(),
			BlockHash: n.hash,
			Height:    n.header.Height,
		}
	}
}

// indexConfirmedTxsLocked is indexConfirmedTxs for callers already holding
// s.mu for writing (activateTip, mid-reorg).
func (s *Store) indexConfirmedTxsLocked(n *node) {
	s.indexConfirmedTxs(n)
}

// deindexConfirmedTxsLocked removes n's transactions from the reference
// index when n's block is displaced off the active branch by a reorg.
func (s *Store) deindexConfirmedTxsLocked(n *node) {
	for _, tx := range n.txs {
		delete(s.txIndex, tx.Hash())
	}
}

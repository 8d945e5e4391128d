// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"fmt"

	"github.com/scribechain/scribed/canon"
	"github.com/scribechain/scribed/chainmodel"
)

const (
	maxPeerAddrs  = 256
	maxTxBatch    = 512
	maxSyncBlocks = 500
)

// Every message payload is the protocol's canonical serialization, the
// same encoding that is hashed and signed: transactions and blocks travel
// as the exact bytes their content hashes commit to, and the small control
// messages (handshake, announcements, sync requests) use the same
// object/array forms.

// Handshake is the first message exchanged over a fresh connection: each
// side announces its protocol version, genesis hash (refusing to sync with
// an incompatible network) and current tip height.
type Handshake struct {
	Version     uint32
	GenesisHash chainmodel.Hash
	TipHeight   uint64
	TipHash     chainmodel.Hash
}

func (h Handshake) encode() []byte {
	return canon.Obj(canon.Fields{}.
		F("version", canon.UInt(uint64(h.Version))).
		F("genesis_hash", canon.Hex(h.GenesisHash[:])).
		F("tip_height", canon.UInt(h.TipHeight)).
		F("tip_hash", canon.Hex(h.TipHash[:])))
}

func decodeHandshake(b []byte) (Handshake, error) {
	var h Handshake
	fields, err := parsePayloadObject(b)
	if err != nil {
		return h, err
	}
	version, err := payloadUInt(fields, "version")
	if err != nil {
		return h, err
	}
	if version > 0xffffffff {
		return h, scriberrProtocol("handshake version %d out of range", version)
	}
	h.Version = uint32(version)
	if h.GenesisHash, err = payloadHash(fields, "genesis_hash"); err != nil {
		return h, err
	}
	if h.TipHeight, err = payloadUInt(fields, "tip_height"); err != nil {
		return h, err
	}
	if h.TipHash, err = payloadHash(fields, "tip_hash"); err != nil {
		return h, err
	}
	return h, nil
}

// PeerAddr is one entry of a PEERS_RESPONSE address list.
type PeerAddr struct {
	Addr string
}

func encodePeerAddrs(addrs []PeerAddr) []byte {
	items := make([]canon.Value, len(addrs))
	for i, a := range addrs {
		items[i] = canon.Str(a.Addr)
	}
	return canon.Arr(items)
}

func decodePeerAddrs(b []byte) ([]PeerAddr, error) {
	items, err := parsePayloadArray(b, maxPeerAddrs)
	if err != nil {
		return nil, err
	}
	out := make([]PeerAddr, 0, len(items))
	for _, item := range items {
		addr, err := canon.ParseStr(item)
		if err != nil {
			return nil, err
		}
		if len(addr) > 256 {
			return nil, scriberrProtocol("peer address of %d bytes is implausibly long", len(addr))
		}
		out = append(out, PeerAddr{Addr: addr})
	}
	return out, nil
}

// encodeHashList/decodeHashList are the shared wire shape of TX_ANNOUNCE,
// TX_REQUEST, BLOCK_ANNOUNCE and BLOCK_REQUEST: a batch of content hashes.
func encodeHashList(hashes []chainmodel.Hash) []byte {
	items := make([]canon.Value, len(hashes))
	for i, h := range hashes {
		items[i] = canon.Hex(h[:])
	}
	return canon.Arr(items)
}

func decodeHashList(b []byte, max int) ([]chainmodel.Hash, error) {
	items, err := parsePayloadArray(b, max)
	if err != nil {
		return nil, err
	}
	out := make([]chainmodel.Hash, 0, len(items))
	for _, item := range items {
		raw, err := canon.ParseHex(item, 32)
		if err != nil {
			return nil, err
		}
		var h chainmodel.Hash
		copy(h[:], raw)
		out = append(out, h)
	}
	return out, nil
}

// encodeTxResponse/decodeTxResponse carry the full bodies answering a
// TX_REQUEST: an array of transactions in their exact hashed form.
func encodeTxResponse(txs []chainmodel.Transaction) ([]byte, error) {
	items := make([]canon.Value, len(txs))
	for i, tx := range txs {
		items[i] = tx.CanonicalFullBytes()
	}
	return canon.Arr(items), nil
}

func decodeTxResponse(b []byte, max int) ([]chainmodel.Transaction, error) {
	items, err := parsePayloadArray(b, max)
	if err != nil {
		return nil, err
	}
	out := make([]chainmodel.Transaction, 0, len(items))
	for _, item := range items {
		tx, err := chainmodel.DecodeTransaction(item)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

// encodeBlock/decodeBlock carry a single full block answering a
// BLOCK_REQUEST.
func encodeBlock(block chainmodel.Block) ([]byte, error) {
	return block.CanonicalBytes(), nil
}

func decodeBlock(b []byte) (chainmodel.Block, error) {
	return chainmodel.DecodeBlock(b)
}

// syncRequest asks a peer for up to Limit consecutive blocks starting at
// FromHeight, the bulk catch-up step of initial sync.
type syncRequest struct {
	FromHeight uint64
	Limit      uint32
}

func encodeSyncRequest(req syncRequest) []byte {
	return canon.Obj(canon.Fields{}.
		F("from_height", canon.UInt(req.FromHeight)).
		F("limit", canon.UInt(uint64(req.Limit))))
}

func decodeSyncRequest(b []byte) (syncRequest, error) {
	var req syncRequest
	fields, err := parsePayloadObject(b)
	if err != nil {
		return req, err
	}
	if req.FromHeight, err = payloadUInt(fields, "from_height"); err != nil {
		return req, err
	}
	limit, err := payloadUInt(fields, "limit")
	if err != nil {
		return req, err
	}
	if limit > 0xffffffff {
		return req, scriberrProtocol("sync limit %d out of range", limit)
	}
	req.Limit = uint32(limit)
	return req, nil
}

func encodeSyncResponse(blocks []chainmodel.Block) ([]byte, error) {
	items := make([]canon.Value, len(blocks))
	for i, block := range blocks {
		items[i] = block.CanonicalBytes()
	}
	return canon.Arr(items), nil
}

func decodeSyncResponse(b []byte, max int) ([]chainmodel.Block, error) {
	items, err := parsePayloadArray(b, max)
	if err != nil {
		return nil, err
	}
	out := make([]chainmodel.Block, 0, len(items))
	for _, item := range items {
		block, err := chainmodel.DecodeBlock(item)
		if err != nil {
			return nil, err
		}
		out = append(out, block)
	}
	return out, nil
}

func parsePayloadObject(b []byte) (map[string]canon.RawValue, error) {
	v, err := canon.Parse(b)
	if err != nil {
		return nil, err
	}
	return canon.ParseObject(v)
}

func parsePayloadArray(b []byte, max int) ([]canon.RawValue, error) {
	v, err := canon.Parse(b)
	if err != nil {
		return nil, err
	}
	items, err := canon.ParseArray(v)
	if err != nil {
		return nil, err
	}
	if len(items) > max {
		return nil, errTooManyEntries
	}
	return items, nil
}

func payloadUInt(fields map[string]canon.RawValue, key string) (uint64, error) {
	v, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("p2p: missing field %q", key)
	}
	return canon.ParseUInt(v)
}

func payloadHash(fields map[string]canon.RawValue, key string) (chainmodel.Hash, error) {
	v, ok := fields[key]
	if !ok {
		return chainmodel.Hash{}, fmt.Errorf("p2p: missing field %q", key)
	}
	raw, err := canon.ParseHex(v, 32)
	if err != nil {
		return chainmodel.Hash{}, err
	}
	var h chainmodel.Hash
	copy(h[:], raw)
	return h, nil
}

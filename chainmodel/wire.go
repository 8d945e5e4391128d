// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainmodel

import (
	"bytes"
	"fmt"

	"github.com/scribechain/scribed/canon"
)

// There is exactly one serialization in the protocol: the canonical form of
// the canon package. The same bytes are hashed, signed, gossiped to peers
// and written to disk, so any node can hash exactly what it read off the
// wire. Decoding is strict: every decoded structure is re-encoded and must
// reproduce the input byte for byte, which rejects non-canonical variants
// (unsorted keys, padded integers, uppercase hex) without the parser
// having to know about them.

// maxDecodeBytes bounds any single structure accepted from an untrusted
// peer or disk record, generous headroom over the block body cap.
const maxDecodeBytes = 4 * 1024 * 1024

// DecodeTransaction parses the canonical form of a transaction, as
// produced by CanonicalFullBytes.
func DecodeTransaction(raw []byte) (Transaction, error) {
	if len(raw) > maxDecodeBytes {
		return Transaction{}, fmt.Errorf("chainmodel: transaction of %d bytes exceeds decode limit", len(raw))
	}
	v, err := canon.Parse(raw)
	if err != nil {
		return Transaction{}, err
	}
	fields, err := canon.ParseObject(v)
	if err != nil {
		return Transaction{}, err
	}
	kind, err := fieldStr(fields, "kind")
	if err != nil {
		return Transaction{}, err
	}

	var tx Transaction
	switch kind {
	case "post":
		p := &PostTx{}
		if p.Author, err = fieldPubKey(fields, "author"); err != nil {
			return Transaction{}, err
		}
		if p.Nonce, err = fieldUInt(fields, "nonce"); err != nil {
			return Transaction{}, err
		}
		if p.Timestamp, err = fieldUInt(fields, "timestamp"); err != nil {
			return Transaction{}, err
		}
		if p.Body, err = fieldStr(fields, "body"); err != nil {
			return Transaction{}, err
		}
		reply, ok := fields["reply_to"]
		if !ok {
			return Transaction{}, fmt.Errorf("chainmodel: post is missing reply_to")
		}
		if !canon.IsNull(reply) {
			raw32, err := canon.ParseHex(reply, 32)
			if err != nil {
				return Transaction{}, err
			}
			h := Hash{}
			copy(h[:], raw32)
			p.ReplyTo = &h
		}
		if p.GasFee, err = fieldUInt(fields, "gas_fee"); err != nil {
			return Transaction{}, err
		}
		if p.Signature, err = fieldSignature(fields); err != nil {
			return Transaction{}, err
		}
		tx = Transaction{Kind: KindPost, Post: p}
	case "endorse":
		e := &EndorseTx{}
		if e.Author, err = fieldPubKey(fields, "author"); err != nil {
			return Transaction{}, err
		}
		if e.Nonce, err = fieldUInt(fields, "nonce"); err != nil {
			return Transaction{}, err
		}
		if e.Target, err = fieldHash(fields, "target"); err != nil {
			return Transaction{}, err
		}
		if e.Amount, err = fieldUInt(fields, "amount"); err != nil {
			return Transaction{}, err
		}
		if e.Message, err = fieldStr(fields, "message"); err != nil {
			return Transaction{}, err
		}
		if e.GasFee, err = fieldUInt(fields, "gas_fee"); err != nil {
			return Transaction{}, err
		}
		if e.Signature, err = fieldSignature(fields); err != nil {
			return Transaction{}, err
		}
		tx = Transaction{Kind: KindEndorse, Endorse: e}
	case "transfer":
		t := &TransferTx{}
		if t.Sender, err = fieldPubKey(fields, "sender"); err != nil {
			return Transaction{}, err
		}
		if t.Recipient, err = fieldPubKey(fields, "recipient"); err != nil {
			return Transaction{}, err
		}
		if t.Amount, err = fieldUInt(fields, "amount"); err != nil {
			return Transaction{}, err
		}
		if t.Nonce, err = fieldUInt(fields, "nonce"); err != nil {
			return Transaction{}, err
		}
		if t.GasFee, err = fieldUInt(fields, "gas_fee"); err != nil {
			return Transaction{}, err
		}
		if t.Signature, err = fieldSignature(fields); err != nil {
			return Transaction{}, err
		}
		tx = Transaction{Kind: KindTransfer, Transfer: t}
	case "coinbase":
		c := &CoinbaseTx{}
		if c.Recipient, err = fieldPubKey(fields, "recipient"); err != nil {
			return Transaction{}, err
		}
		if c.Amount, err = fieldUInt(fields, "amount"); err != nil {
			return Transaction{}, err
		}
		if c.Height, err = fieldUInt(fields, "height"); err != nil {
			return Transaction{}, err
		}
		tx = Transaction{Kind: KindCoinbase, Coinbase: c}
	default:
		return Transaction{}, fmt.Errorf("chainmodel: unknown transaction kind %q", kind)
	}

	if !bytes.Equal(tx.CanonicalFullBytes(), raw) {
		return Transaction{}, fmt.Errorf("chainmodel: transaction bytes are not in canonical form")
	}
	return tx, nil
}

// DecodeHeader parses the canonical form of a block header, as produced by
// CanonicalBytes.
func DecodeHeader(raw []byte) (Header, error) {
	v, err := canon.Parse(raw)
	if err != nil {
		return Header{}, err
	}
	fields, err := canon.ParseObject(v)
	if err != nil {
		return Header{}, err
	}
	var h Header
	version, err := fieldUInt(fields, "version")
	if err != nil {
		return Header{}, err
	}
	if version > 0xff {
		return Header{}, fmt.Errorf("chainmodel: header version %d out of range", version)
	}
	h.Version = uint8(version)
	if h.Height, err = fieldUInt(fields, "height"); err != nil {
		return Header{}, err
	}
	if h.PrevHash, err = fieldHash(fields, "prev_hash"); err != nil {
		return Header{}, err
	}
	if h.Timestamp, err = fieldUInt(fields, "timestamp"); err != nil {
		return Header{}, err
	}
	if h.Miner, err = fieldPubKey(fields, "miner"); err != nil {
		return Header{}, err
	}
	if h.Difficulty, err = fieldUInt(fields, "difficulty"); err != nil {
		return Header{}, err
	}
	if h.Nonce, err = fieldUInt(fields, "nonce"); err != nil {
		return Header{}, err
	}
	if h.TxMerkleRoot, err = fieldHash(fields, "tx_merkle_root"); err != nil {
		return Header{}, err
	}
	if h.StateRoot, err = fieldHash(fields, "state_root"); err != nil {
		return Header{}, err
	}
	txCount, err := fieldUInt(fields, "tx_count")
	if err != nil {
		return Header{}, err
	}
	if txCount > 0xffff {
		return Header{}, fmt.Errorf("chainmodel: tx_count %d out of range", txCount)
	}
	h.TxCount = uint16(txCount)

	if !bytes.Equal(h.CanonicalBytes(), raw) {
		return Header{}, fmt.Errorf("chainmodel: header bytes are not in canonical form")
	}
	return h, nil
}

// CanonicalBytes returns the block's full canonical form: the header and
// the ordered transaction list under sorted keys. This is the shape
// BLOCK_RESPONSE and SYNC_RESPONSE payloads carry and the chain store
// persists.
func (b Block) CanonicalBytes() []byte {
	items := make([]canon.Value, len(b.Transactions))
	for i, tx := range b.Transactions {
		items[i] = tx.CanonicalFullBytes()
	}
	return canon.Obj(canon.Fields{}.
		F("header", canon.Value(b.Header.CanonicalBytes())).
		F("transactions", canon.Arr(items)))
}

// DecodeBlock parses the canonical form of a block, as produced by
// CanonicalBytes. The header's tx_count must match the transaction list.
func DecodeBlock(raw []byte) (Block, error) {
	if len(raw) > maxDecodeBytes {
		return Block{}, fmt.Errorf("chainmodel: block of %d bytes exceeds decode limit", len(raw))
	}
	v, err := canon.Parse(raw)
	if err != nil {
		return Block{}, err
	}
	fields, err := canon.ParseObject(v)
	if err != nil {
		return Block{}, err
	}
	headerRaw, ok := fields["header"]
	if !ok {
		return Block{}, fmt.Errorf("chainmodel: block is missing header")
	}
	header, err := DecodeHeader(headerRaw)
	if err != nil {
		return Block{}, err
	}
	txsRaw, ok := fields["transactions"]
	if !ok {
		return Block{}, fmt.Errorf("chainmodel: block is missing transactions")
	}
	items, err := canon.ParseArray(txsRaw)
	if err != nil {
		return Block{}, err
	}
	if len(items) != int(header.TxCount) {
		return Block{}, fmt.Errorf("chainmodel: block carries %d transactions, header says %d", len(items), header.TxCount)
	}
	txs := make([]Transaction, len(items))
	for i, item := range items {
		if txs[i], err = DecodeTransaction(item); err != nil {
			return Block{}, err
		}
	}
	block := Block{Header: header, Transactions: txs}
	if !bytes.Equal(block.CanonicalBytes(), raw) {
		return Block{}, fmt.Errorf("chainmodel: block bytes are not in canonical form")
	}
	return block, nil
}

func fieldUInt(fields map[string]canon.RawValue, key string) (uint64, error) {
	v, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("chainmodel: missing field %q", key)
	}
	return canon.ParseUInt(v)
}

func fieldStr(fields map[string]canon.RawValue, key string) (string, error) {
	v, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("chainmodel: missing field %q", key)
	}
	return canon.ParseStr(v)
}

func fieldHash(fields map[string]canon.RawValue, key string) (Hash, error) {
	v, ok := fields[key]
	if !ok {
		return Hash{}, fmt.Errorf("chainmodel: missing field %q", key)
	}
	raw, err := canon.ParseHex(v, 32)
	if err != nil {
		return Hash{}, err
	}
	var h Hash
	copy(h[:], raw)
	return h, nil
}

func fieldPubKey(fields map[string]canon.RawValue, key string) (PubKey, error) {
	h, err := fieldHash(fields, key)
	if err != nil {
		return PubKey{}, err
	}
	return PubKey(h), nil
}

func fieldSignature(fields map[string]canon.RawValue) (Signature, error) {
	v, ok := fields["signature"]
	if !ok {
		return Signature{}, fmt.Errorf("chainmodel: missing field %q", "signature")
	}
	raw, err := canon.ParseHex(v, 64)
	if err != nil {
		return Signature{}, err
	}
	var s Signature
	copy(s[:], raw)
	return s, nil
}

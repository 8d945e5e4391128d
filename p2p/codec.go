// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package p2p is the gossip/sync transport: a connection-oriented,
// length-prefixed message protocol over plain net.Conn, plus the peer
// manager, gossip dedup, misbehavior scoring and initial-sync driver that
// keep nodes converged. Message payloads are the protocol's canonical
// serialization (see messages.go); this file is only the frame envelope.
package p2p

import (
	"encoding/binary"
	"io"

	"github.com/scribechain/scribed/scriberr"
)

// errTooManyEntries is returned by every bounded-list decoder in
// messages.go when a peer claims more entries than the protocol permits.
var errTooManyEntries = scriberr.New(scriberr.ErrPeerProtocol, "message list exceeds maximum allowed entries")

// MsgType tags the payload that follows a frame's length prefix.
type MsgType uint8

const (
	MsgHandshake MsgType = iota
	MsgPeersRequest
	MsgPeersResponse
	MsgTxAnnounce
	MsgTxRequest
	MsgTxResponse
	MsgBlockAnnounce
	MsgBlockRequest
	MsgBlockResponse
	MsgSyncRequest
	MsgSyncResponse
)

// maxFrameBytes bounds a single frame's payload: the block body cap plus
// generous framing/message overhead. It stops a malicious or buggy peer
// from claiming an unbounded length prefix.
const maxFrameBytes = 4 * 1024 * 1024

// writeFrame writes one frame: a 4-byte big-endian length, a 1-byte
// message-type tag, then payload.
func writeFrame(w io.Writer, msgType MsgType, payload []byte) error {
	var header [5]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(len(payload)))
	header[4] = byte(msgType)
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// readFrame reads one frame written by writeFrame.
func readFrame(r io.Reader) (MsgType, []byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(header[0:4])
	if length > maxFrameBytes {
		return 0, nil, scriberr.New(scriberr.ErrPeerProtocol, "frame length %d exceeds maximum %d", length, maxFrameBytes)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return MsgType(header[4]), payload, nil
}

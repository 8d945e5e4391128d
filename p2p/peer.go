// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"net"
	"sync"
	"time"

	"github.com/scribechain/scribed/chainmodel"
	"github.com/scribechain/scribed/logs"
)

var log = logs.Get("PEER")

// misbehavior penalties: small for a single malformed-but-recoverable
// message, larger for anything that looks like a deliberate protocol
// violation.
const (
	banThreshold        = 100
	penaltyMalformed    = 20
	penaltyInvalidBlock = 50
	penaltyInvalidTx    = 10
)

// Peer wraps one open connection: a read loop dispatching framed messages
// to the owning Manager, and a send method serializing writes.
type Peer struct {
	conn net.Conn
	addr string

	mgr *Manager

	writeMu sync.Mutex

	mu            sync.Mutex
	score         int
	handshaken    bool
	tipHeight     uint64
	tipHash       chainmodel.Hash
	genesisHash   chainmodel.Hash
	lastPeersReq  time.Time
	banned        bool

	closeOnce sync.Once
	done      chan struct{}
}

func newPeer(conn net.Conn, mgr *Manager) *Peer {
	return &Peer{
		conn: conn,
		addr: conn.RemoteAddr().String(),
		mgr:  mgr,
		done: make(chan struct{}),
	}
}

// Addr returns the peer's remote network address, for the peer address book.
func (p *Peer) Addr() string { return p.addr }

// send frames and writes a single message, serialized against concurrent
// writers (request handlers reply from the read loop's goroutine, while
// outbound gossip and sync requests write from other goroutines).
func (p *Peer) send(msgType MsgType, payload []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return writeFrame(p.conn, msgType, payload)
}

// penalize adds to the peer's misbehavior score; crossing banThreshold
// disconnects the peer and bans its address for a cooling-off period.
func (p *Peer) penalize(amount int, reason string) {
	p.mu.Lock()
	p.score += amount
	over := p.score >= banThreshold && !p.banned
	if over {
		p.banned = true
	}
	p.mu.Unlock()
	log.Debugf("peer %s penalized %d (%s), banned: %v", p.addr, amount, reason, over)
	if over {
		p.mgr.ban(p.addr)
		p.close()
	}
}

// allowPeersRequest rate-limits PEERS_REQUEST handling to one reply per
// peersRequestInterval per peer.
func (p *Peer) allowPeersRequest() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if now.Sub(p.lastPeersReq) < peersRequestInterval {
		return false
	}
	p.lastPeersReq = now
	return true
}

const peersRequestInterval = 30 * time.Second

func (p *Peer) close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.conn.Close()
	})
}

const (
	readTimeout  = 2 * time.Minute
	writeTimeout = 30 * time.Second
)

// readLoop reads frames until the connection closes or a fatal protocol
// error occurs, dispatching each to the Manager's handler. It is run on its
// own goroutine per peer by Manager.runPeer.
func (p *Peer) readLoop() {
	for {
		p.conn.SetReadDeadline(time.Now().Add(readTimeout))
		msgType, payload, err := readFrame(p.conn)
		if err != nil {
			log.Debugf("peer %s read loop ending: %v", p.addr, err)
			return
		}
		p.mgr.dispatch(p, msgType, payload)
	}
}

// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"net"
	"sync"
	"time"

	"github.com/scribechain/scribed/chainmodel"
	"github.com/scribechain/scribed/chainparams"
	"github.com/scribechain/scribed/chainstore"
	"github.com/scribechain/scribed/mempool"
	"github.com/scribechain/scribed/scriberr"
)

// protocolVersion is bumped whenever the wire message shapes change
// incompatibly; a HANDSHAKE with a mismatched version is rejected outright.
const protocolVersion = 1

// recentSeenCapacity bounds the gossip dedup cache: large enough to cover
// the working set of in-flight announcements across all peers, small enough
// to bound memory on a long-running node.
const recentSeenCapacity = 8192

// Manager owns the peer set, drives gossip relay and initial sync, and is
// the single point where inbound messages meet the chain store and mempool.
type Manager struct {
	chain  *chainstore.Store
	pool   *mempool.Pool
	params chainparams.Params

	listenAddr string

	mu     sync.Mutex
	peers  map[*Peer]struct{}
	banned map[string]time.Time

	seenMu sync.Mutex
	seen   map[chainmodel.Hash]time.Time
	seenQ  []chainmodel.Hash

	synced bool
}

// New creates a peer manager wired to chain and pool. listenAddr may be
// empty to disable accepting inbound connections (outbound-only node).
func New(chain *chainstore.Store, pool *mempool.Pool, params chainparams.Params, listenAddr string) *Manager {
	return &Manager{
		chain:      chain,
		pool:       pool,
		params:     params,
		listenAddr: listenAddr,
		peers:      make(map[*Peer]struct{}),
		banned:     make(map[string]time.Time),
		seen:       make(map[chainmodel.Hash]time.Time),
	}
}

// Listen accepts inbound connections until stop is closed. Safe to call in
// its own goroutine; it returns once the listener closes.
func (m *Manager) Listen(stop <-chan struct{}) error {
	if m.listenAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", m.listenAddr)
	if err != nil {
		return err
	}
	go func() {
		<-stop
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return nil
			default:
				log.Warnf("accept error: %v", err)
				continue
			}
		}
		go m.runPeer(conn, false)
	}
}

// Dial opens an outbound connection to addr and runs it as a peer.
func (m *Manager) Dial(addr string) error {
	if m.isBanned(addr) {
		return scriberrProtocol("%s is temporarily banned", addr)
	}
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return err
	}
	go m.runPeer(conn, true)
	return nil
}

// banDuration is how long a misbehaving address stays rejected.
const banDuration = 10 * time.Minute

// ban records addr as banned until the cooling-off period elapses.
func (m *Manager) ban(addr string) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	m.mu.Lock()
	m.banned[host] = time.Now().Add(banDuration)
	m.mu.Unlock()
}

// isBanned reports whether addr's host is inside a ban window, clearing
// expired entries as a side effect.
func (m *Manager) isBanned(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.banned[host]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(m.banned, host)
		return false
	}
	return true
}

func (m *Manager) runPeer(conn net.Conn, outbound bool) {
	if m.isBanned(conn.RemoteAddr().String()) {
		conn.Close()
		return
	}
	p := newPeer(conn, m)
	if err := m.handshake(p, outbound); err != nil {
		log.Debugf("handshake with %s failed: %v", p.addr, err)
		conn.Close()
		return
	}

	m.mu.Lock()
	m.peers[p] = struct{}{}
	m.mu.Unlock()
	log.Infof("peer %s connected (outbound=%v)", p.addr, outbound)

	p.readLoop()

	m.mu.Lock()
	delete(m.peers, p)
	m.mu.Unlock()
	p.close()
	log.Infof("peer %s disconnected", p.addr)
}

// handshake exchanges HANDSHAKE messages and rejects an incompatible or
// wrong-network peer before it is added to the peer set.
func (m *Manager) handshake(p *Peer, outbound bool) error {
	tip := m.chain.Tip()
	local := Handshake{
		Version:     protocolVersion,
		GenesisHash: m.params.Genesis.Hash(),
		TipHeight:   tip.Height,
		TipHash:     tip.Hash(),
	}
	if err := p.send(MsgHandshake, local.encode()); err != nil {
		return err
	}

	p.conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	msgType, payload, err := readFrame(p.conn)
	if err != nil {
		return err
	}
	if msgType != MsgHandshake {
		return scriberrProtocol("expected HANDSHAKE, got message type %d", msgType)
	}
	remote, err := decodeHandshake(payload)
	if err != nil {
		return err
	}
	if remote.Version != protocolVersion {
		return scriberrProtocol("peer protocol version %d incompatible with %d", remote.Version, protocolVersion)
	}
	if remote.GenesisHash != local.GenesisHash {
		return scriberrProtocol("peer genesis hash %s does not match local network", remote.GenesisHash)
	}

	p.mu.Lock()
	p.handshaken = true
	p.tipHeight = remote.TipHeight
	p.tipHash = remote.TipHash
	p.genesisHash = remote.GenesisHash
	p.mu.Unlock()

	if remote.TipHeight > tip.Height {
		go m.syncFrom(p)
	}
	return nil
}

// dispatch handles one inbound framed message from p.
func (m *Manager) dispatch(p *Peer, msgType MsgType, payload []byte) {
	switch msgType {
	case MsgPeersRequest:
		m.handlePeersRequest(p)
	case MsgPeersResponse:
		m.handlePeersResponse(p, payload)
	case MsgTxAnnounce:
		m.handleTxAnnounce(p, payload)
	case MsgTxRequest:
		m.handleTxRequest(p, payload)
	case MsgTxResponse:
		m.handleTxResponse(p, payload)
	case MsgBlockAnnounce:
		m.handleBlockAnnounce(p, payload)
	case MsgBlockRequest:
		m.handleBlockRequest(p, payload)
	case MsgBlockResponse:
		m.handleBlockResponse(p, payload)
	case MsgSyncRequest:
		m.handleSyncRequest(p, payload)
	case MsgSyncResponse:
		m.handleSyncResponse(p, payload)
	default:
		p.penalize(penaltyMalformed, "unknown message type")
	}
}

func (m *Manager) handlePeersRequest(p *Peer) {
	if !p.allowPeersRequest() {
		return
	}
	m.mu.Lock()
	addrs := make([]PeerAddr, 0, len(m.peers))
	for peer := range m.peers {
		addrs = append(addrs, PeerAddr{Addr: peer.Addr()})
	}
	m.mu.Unlock()
	if len(addrs) > maxPeerAddrs {
		addrs = addrs[:maxPeerAddrs]
	}
	p.send(MsgPeersResponse, encodePeerAddrs(addrs))
}

func (m *Manager) handlePeersResponse(p *Peer, payload []byte) {
	addrs, err := decodePeerAddrs(payload)
	if err != nil {
		p.penalize(penaltyMalformed, "malformed PEERS_RESPONSE")
		return
	}
	for _, a := range addrs {
		go func(addr string) {
			if m.peerCount() < maxOutboundPeers {
				m.Dial(addr)
			}
		}(a.Addr)
	}
}

const maxOutboundPeers = 16

func (m *Manager) peerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.peers)
}

func (m *Manager) handleTxAnnounce(p *Peer, payload []byte) {
	hashes, err := decodeHashList(payload, maxTxBatch)
	if err != nil {
		p.penalize(penaltyMalformed, "malformed TX_ANNOUNCE")
		return
	}
	var want []chainmodel.Hash
	for _, h := range hashes {
		if m.pool.Contains(h) || m.chainHasTx(h) {
			continue
		}
		if m.markSeen(h) {
			want = append(want, h)
		}
	}
	if len(want) > 0 {
		p.send(MsgTxRequest, encodeHashList(want))
	}
}

func (m *Manager) chainHasTx(h chainmodel.Hash) bool {
	_, _, ok := m.chain.TxLocation(h)
	return ok
}

func (m *Manager) handleTxRequest(p *Peer, payload []byte) {
	hashes, err := decodeHashList(payload, maxTxBatch)
	if err != nil {
		p.penalize(penaltyMalformed, "malformed TX_REQUEST")
		return
	}
	var txs []chainmodel.Transaction
	for _, h := range hashes {
		if tx, ok := m.pool.Get(h); ok {
			txs = append(txs, tx)
		}
	}
	encoded, err := encodeTxResponse(txs)
	if err != nil {
		return
	}
	p.send(MsgTxResponse, encoded)
}

func (m *Manager) handleTxResponse(p *Peer, payload []byte) {
	txs, err := decodeTxResponse(payload, maxTxBatch)
	if err != nil {
		p.penalize(penaltyMalformed, "malformed TX_RESPONSE")
		return
	}
	for _, tx := range txs {
		if err := m.pool.Admit(tx, m.chain.StateView(), m.chain); err != nil {
			p.penalize(penaltyInvalidTx, "rejected announced transaction")
			continue
		}
		m.BroadcastTxExcept(tx.Hash(), p)
	}
}

func (m *Manager) handleBlockAnnounce(p *Peer, payload []byte) {
	hashes, err := decodeHashList(payload, maxTxBatch)
	if err != nil {
		p.penalize(penaltyMalformed, "malformed BLOCK_ANNOUNCE")
		return
	}
	var want []chainmodel.Hash
	for _, h := range hashes {
		if _, ok := m.chain.BlockByHash(h); ok {
			continue
		}
		if m.markSeen(h) {
			want = append(want, h)
		}
	}
	if len(want) > 0 {
		p.send(MsgBlockRequest, encodeHashList(want))
	}
}

func (m *Manager) handleBlockRequest(p *Peer, payload []byte) {
	hashes, err := decodeHashList(payload, maxTxBatch)
	if err != nil {
		p.penalize(penaltyMalformed, "malformed BLOCK_REQUEST")
		return
	}
	for _, h := range hashes {
		block, ok := m.chain.BlockByHash(h)
		if !ok {
			continue
		}
		encoded, err := encodeBlock(block)
		if err != nil {
			continue
		}
		p.send(MsgBlockResponse, encoded)
	}
}

func (m *Manager) handleBlockResponse(p *Peer, payload []byte) {
	block, err := decodeBlock(payload)
	if err != nil {
		p.penalize(penaltyMalformed, "malformed BLOCK_RESPONSE")
		return
	}
	if err := m.chain.InsertBlock(block); err != nil {
		if scriberr.Is(err, scriberr.ErrUnknownParent) {
			// The block is parked in the orphan pool; pull its ancestry
			// from the same peer rather than penalizing it.
			p.send(MsgBlockRequest, encodeHashList([]chainmodel.Hash{block.Header.PrevHash}))
			return
		}
		p.penalize(penaltyInvalidBlock, "rejected announced block")
		return
	}
	m.BroadcastBlockExcept(block.Hash(), p)
}

func (m *Manager) handleSyncRequest(p *Peer, payload []byte) {
	req, err := decodeSyncRequest(payload)
	if err != nil {
		p.penalize(penaltyMalformed, "malformed SYNC_REQUEST")
		return
	}
	limit := req.Limit
	if limit > maxSyncBlocks {
		limit = maxSyncBlocks
	}
	var blocks []chainmodel.Block
	for h := req.FromHeight; h < req.FromHeight+uint64(limit); h++ {
		block, ok := m.chain.BlockByHeight(h)
		if !ok {
			break
		}
		blocks = append(blocks, block)
	}
	encoded, err := encodeSyncResponse(blocks)
	if err != nil {
		return
	}
	p.send(MsgSyncResponse, encoded)
}

func (m *Manager) handleSyncResponse(p *Peer, payload []byte) {
	blocks, err := decodeSyncResponse(payload, maxSyncBlocks)
	if err != nil {
		p.penalize(penaltyMalformed, "malformed SYNC_RESPONSE")
		return
	}
	for _, block := range blocks {
		if err := m.chain.InsertBlock(block); err != nil {
			log.Debugf("sync block %d from %s rejected: %v", block.Header.Height, p.addr, err)
			return
		}
	}
	if uint64(len(blocks)) == maxSyncBlocks {
		go m.requestMoreSync(p, blocks[len(blocks)-1].Header.Height+1)
	} else {
		m.MarkSynced()
	}
}

func (m *Manager) requestMoreSync(p *Peer, fromHeight uint64) {
	p.send(MsgSyncRequest, encodeSyncRequest(syncRequest{FromHeight: fromHeight, Limit: maxSyncBlocks}))
}

// MarkSynced records that initial sync has completed (or was never needed,
// for a node with no one to sync from).
func (m *Manager) MarkSynced() {
	m.mu.Lock()
	already := m.synced
	m.synced = true
	m.mu.Unlock()
	if !already {
		log.Infof("initial sync complete at tip height %d", m.chain.Tip().Height)
	}
}

// Synced reports whether initial sync has completed, the gate on enabling
// mining and on relaying accepted blocks to peers. Transaction relay does
// not check it.
func (m *Manager) Synced() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.synced
}

// syncFrom requests blocks from p starting at the local tip height + 1,
// the body-pull step of initial sync once a peer with a higher tip is found.
func (m *Manager) syncFrom(p *Peer) {
	from := m.chain.Tip().Height + 1
	m.requestMoreSync(p, from)
}

// markSeen records h in the recent-seen dedup cache and reports whether it
// was not already present (i.e. whether the caller should act on it).
func (m *Manager) markSeen(h chainmodel.Hash) bool {
	m.seenMu.Lock()
	defer m.seenMu.Unlock()
	if _, ok := m.seen[h]; ok {
		return false
	}
	m.seen[h] = time.Now()
	m.seenQ = append(m.seenQ, h)
	if len(m.seenQ) > recentSeenCapacity {
		drop := m.seenQ[0]
		m.seenQ = m.seenQ[1:]
		delete(m.seen, drop)
	}
	return true
}

// BroadcastTx announces a transaction hash to every connected peer, the
// outbound half of gossip relay for a locally submitted transaction.
func (m *Manager) BroadcastTx(hash chainmodel.Hash) {
	m.markSeen(hash)
	m.BroadcastTxExcept(hash, nil)
}

// BroadcastTxExcept announces hash to every peer other than except (the
// peer it was just received from, to avoid immediately echoing it back).
func (m *Manager) BroadcastTxExcept(hash chainmodel.Hash, except *Peer) {
	payload := encodeHashList([]chainmodel.Hash{hash})
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := range m.peers {
		if p == except {
			continue
		}
		p.send(MsgTxAnnounce, payload)
	}
}

// BroadcastBlock announces a newly mined or accepted block hash to every peer.
func (m *Manager) BroadcastBlock(hash chainmodel.Hash) {
	m.markSeen(hash)
	m.BroadcastBlockExcept(hash, nil)
}

// BroadcastBlockExcept announces hash to every peer other than except.
func (m *Manager) BroadcastBlockExcept(hash chainmodel.Hash, except *Peer) {
	payload := encodeHashList([]chainmodel.Hash{hash})
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := range m.peers {
		if p == except {
			continue
		}
		p.send(MsgBlockAnnounce, payload)
	}
}

func scriberrProtocol(format string, args ...interface{}) error {
	return scriberr.New(scriberr.ErrPeerProtocol, format, args...)
}

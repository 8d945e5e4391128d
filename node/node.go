// Package node assembles a full scribechain node: it opens the three
// singleton stores, wires the peer manager, miner and RPC server to them,
// and owns startup/shutdown ordering. Handles are threaded explicitly into
// every subsystem; nothing here is reachable through package globals.
package node

import (
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/scribechain/scribed/chainmodel"
	"github.com/scribechain/scribed/chainparams"
	"github.com/scribechain/scribed/chainstore"
	"github.com/scribechain/scribed/logs"
	"github.com/scribechain/scribed/mempool"
	"github.com/scribechain/scribed/miner"
	"github.com/scribechain/scribed/p2p"
	"github.com/scribechain/scribed/rpc"
	"github.com/scribechain/scribed/statestore"
)

var log = logs.Get("NODE")

// Config carries everything a node needs at startup. The zero value is not
// usable; cmd/scribed builds one from flags.
type Config struct {
	DataDir        string
	Params         chainparams.Params
	ListenAddr     string   // p2p listen address; empty disables inbound
	RPCListenAddr  string   // HTTP API address; empty disables the API
	BootstrapPeers []string // addresses dialed at startup
	MaxMempool     int
	Mine           bool
	MinerPubKey    chainmodel.PubKey
}

// Node is a running scribechain instance.
type Node struct {
	cfg Config

	State *statestore.Store
	Pool  *mempool.Pool
	Chain *chainstore.Store
	Peers *p2p.Manager
	RPC   *rpc.Server

	stop chan struct{}
}

// Open loads or creates the node's on-disk state under cfg.DataDir and wires
// every subsystem. Nothing runs until Start.
func Open(cfg Config) (*Node, error) {
	if cfg.MaxMempool <= 0 {
		cfg.MaxMempool = 10000
	}

	state, err := statestore.Open(filepath.Join(cfg.DataDir, "state"), cfg.Params.MaxReorgDepth, cfg.Params.Genesis.Hash())
	if err != nil {
		return nil, errors.Wrap(err, "opening state store")
	}
	pool := mempool.New(cfg.Params, cfg.MaxMempool)
	chain, err := chainstore.Open(filepath.Join(cfg.DataDir, "chain"), cfg.Params, state, pool)
	if err != nil {
		state.Close()
		return nil, errors.Wrap(err, "opening chain store")
	}

	peers := p2p.New(chain, pool, cfg.Params, cfg.ListenAddr)
	server := rpc.New(chain, state, pool, peers)

	return &Node{
		cfg:   cfg,
		State: state,
		Pool:  pool,
		Chain: chain,
		Peers: peers,
		RPC:   server,
		stop:  make(chan struct{}),
	}, nil
}

// Start launches the P2P fabric, the RPC front-end, and (once initial sync
// completes) the miner. It returns immediately; Stop shuts everything down.
func (n *Node) Start() {
	go func() {
		if err := n.Peers.Listen(n.stop); err != nil {
			log.Errorf("p2p listener failed: %v", err)
		}
	}()

	for _, addr := range n.cfg.BootstrapPeers {
		if err := n.Peers.Dial(addr); err != nil {
			log.Warnf("could not dial bootstrap peer %s: %v", addr, err)
		}
	}
	if len(n.cfg.BootstrapPeers) == 0 {
		// Nothing to sync from; this node is its own network until peers
		// connect inbound.
		n.Peers.MarkSynced()
	}

	// Relay every accepted tip to peers. The chain store publishes tip
	// changes for blocks from any source (mined locally, gossiped, synced);
	// announcing here keeps gossip in one place instead of inside the miner.
	go func() {
		events, cancel := n.Chain.Subscribe()
		defer cancel()
		for {
			select {
			case <-n.stop:
				return
			case tc, ok := <-events:
				if !ok {
					return
				}
				if n.Peers.Synced() {
					n.Peers.BroadcastBlock(tc.Hash)
				}
			}
		}
	}()

	if n.cfg.RPCListenAddr != "" {
		go func() {
			if err := n.RPC.Serve(n.cfg.RPCListenAddr, n.stop); err != nil {
				log.Errorf("rpc server failed: %v", err)
			}
		}()
	}

	if n.cfg.Mine {
		go n.runMinerWhenSynced()
	}

	log.Infof("node started, tip height %d", n.Chain.Tip().Height)
}

// runMinerWhenSynced blocks until initial sync completes, then runs the
// mining loop until shutdown. Mining before reaching the network tip would
// only produce blocks destined to be orphaned.
func (n *Node) runMinerWhenSynced() {
	for !n.Peers.Synced() {
		select {
		case <-n.stop:
			return
		case <-time.After(time.Second):
		}
	}
	m := miner.New(n.Chain, n.Pool, n.cfg.Params, n.cfg.MinerPubKey)
	log.Infof("mining enabled, paying %s", n.cfg.MinerPubKey)
	m.Run(n.stop)
}

// Stop shuts down every subsystem and closes the stores. Safe to call once.
func (n *Node) Stop() {
	close(n.stop)
	if err := n.Chain.Close(); err != nil {
		log.Errorf("closing chain store: %v", err)
	}
	if err := n.State.Close(); err != nil {
		log.Errorf("closing state store: %v", err)
	}
	log.Infof("node stopped")
}

package main

import (
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/jessevdk/go-flags"
	"github.com/pkg/errors"

	"github.com/scribechain/scribed/chainmodel"
	"github.com/scribechain/scribed/chainparams"
	"github.com/scribechain/scribed/node"
)

const (
	defaultLogFilename = "scribed.log"
	defaultMaxMempool  = 10000
)

type config struct {
	DataDir    string   `long:"datadir" short:"b" description:"Directory to store chain and state data"`
	Listen     string   `long:"listen" description:"P2P listen address (host:port); empty disables inbound connections"`
	RPCListen  string   `long:"rpclisten" description:"HTTP API listen address (host:port); empty disables the API" default:"127.0.0.1:8645"`
	Connect    []string `long:"connect" description:"Bootstrap peer address to connect to at startup (may be repeated)"`
	Mine       bool     `long:"mine" description:"Enable mining"`
	MinerKey   string   `long:"minerkey" description:"Hex-encoded public key block rewards are paid to (required with --mine)"`
	MaxMempool int      `long:"maxmempool" description:"Maximum number of unconfirmed transactions kept in the mempool"`
	Simnet     bool     `long:"simnet" description:"Use the low-difficulty simulation network"`
	LogLevel   string   `long:"loglevel" short:"d" description:"Logging verbosity: trace, debug, info, warn, error" default:"info"`
}

func defaultDataDir(network string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".scribed", network)
	}
	return filepath.Join(home, ".scribed", network)
}

// loadConfig parses flags and resolves them into the node's Config.
func loadConfig() (*config, node.Config, error) {
	cfg := &config{MaxMempool: defaultMaxMempool}
	parser := flags.NewParser(cfg, flags.PrintErrors|flags.HelpFlag)
	if _, err := parser.Parse(); err != nil {
		return nil, node.Config{}, err
	}

	params := chainparams.Mainnet
	if cfg.Simnet {
		params = chainparams.Simnet
	}

	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir(params.Name)
	}

	var minerKey chainmodel.PubKey
	if cfg.Mine {
		if cfg.MinerKey == "" {
			return nil, node.Config{}, errors.New("--mine requires --minerkey")
		}
		raw, err := hex.DecodeString(cfg.MinerKey)
		if err != nil || len(raw) != 32 {
			return nil, node.Config{}, errors.New("--minerkey must be 64 hex characters")
		}
		copy(minerKey[:], raw)
	}

	nodeCfg := node.Config{
		DataDir:        cfg.DataDir,
		Params:         params,
		ListenAddr:     cfg.Listen,
		RPCListenAddr:  cfg.RPCListen,
		BootstrapPeers: cfg.Connect,
		MaxMempool:     cfg.MaxMempool,
		Mine:           cfg.Mine,
		MinerPubKey:    minerKey,
	}
	return cfg, nodeCfg, nil
}

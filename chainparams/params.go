// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainparams holds the protocol parameters that must be identical
// across every conforming node: one Params value per network, selected once
// at startup and threaded explicitly into every subsystem rather than read
// from a global.
package chainparams

import "github.com/scribechain/scribed/chainmodel"

// Params bundles every protocol constant the consensus rules reference.
// Two nodes with different Params cannot agree on a chain; HANDSHAKE
// exchanges the genesis block hash so a network mismatch is caught
// immediately at connect time.
type Params struct {
	Name string

	// InitialReward is the coinbase amount paid at height 0 of the
	// halving schedule.
	InitialReward uint64

	// HalvingInterval is the number of blocks between reward halvings.
	HalvingInterval uint64

	// MinGasFee is the minimum gas_fee accepted for any non-coinbase
	// transaction.
	MinGasFee uint64

	// InitialDifficulty is the difficulty assigned to the genesis block
	// and inherited until the first retarget boundary.
	InitialDifficulty uint64

	// BlockTimeTarget is the target seconds-per-block used in retargeting
	// (15s/block, i.e. 1500 seconds over a 100-block window).
	BlockTimeTarget uint64

	// MaxBlockBodyBytes bounds the serialized size of a block body.
	MaxBlockBodyBytes int

	// RetargetWindow is the number of blocks between difficulty
	// recalculations.
	RetargetWindow uint64

	// RetargetClampMin and RetargetClampMax bound the retarget ratio.
	RetargetClampMin float64
	RetargetClampMax float64

	// MedianTimeWindow is the number of preceding blocks used to compute
	// the median-time-past timestamp bound.
	MedianTimeWindow int

	// MaxFutureTimeDrift is how far into the future (seconds) a block
	// timestamp may be relative to wall-clock.
	MaxFutureTimeDrift int64

	// MaxPostBodyScalars and MaxEndorseMsgScalars bound the Unicode
	// scalar-value length of post bodies and endorse messages.
	MaxPostBodyScalars    int
	MaxEndorseMsgScalars  int
	MaxReorgDepth         uint64
	Genesis               chainmodel.Block
}

// Mainnet is the production network's parameters.
var Mainnet = Params{
	Name:                 "mainnet",
	InitialReward:        50,
	HalvingInterval:      210000,
	MinGasFee:            1,
	InitialDifficulty:    1,
	BlockTimeTarget:      15,
	MaxBlockBodyBytes:    262144,
	RetargetWindow:       100,
	RetargetClampMin:     0.25,
	RetargetClampMax:     4.0,
	MedianTimeWindow:     11,
	MaxFutureTimeDrift:   120,
	MaxPostBodyScalars:   300,
	MaxEndorseMsgScalars: 150,
	MaxReorgDepth:        1000,
	Genesis:              genesisBlock(),
}

// Simnet is a low-difficulty network for local testing and simulation.
var Simnet = Params{
	Name:                 "simnet",
	InitialReward:        50,
	HalvingInterval:      150,
	MinGasFee:            1,
	InitialDifficulty:    1,
	BlockTimeTarget:      15,
	MaxBlockBodyBytes:    262144,
	RetargetWindow:       100,
	RetargetClampMin:     0.25,
	RetargetClampMax:     4.0,
	MedianTimeWindow:     11,
	MaxFutureTimeDrift:   120,
	MaxPostBodyScalars:   300,
	MaxEndorseMsgScalars: 150,
	MaxReorgDepth:        1000,
	Genesis:              genesisBlock(),
}

// Reward computes the coinbase amount at height h under this network's
// halving schedule: INITIAL_REWARD >> (h / HALVING_INTERVAL), zero after 64
// halvings.
func (p Params) Reward(height uint64) uint64 {
	halvings := height / p.HalvingInterval
	if halvings >= 64 {
		return 0
	}
	return p.InitialReward >> halvings
}

// genesisBlock builds the canonical all-zero genesis block: height 0, a
// single coinbase paying the zero public key an amount of 0, so genesis
// mints nothing, no party controls genesis coins, and the reward schedule
// is uniform from block 1 onward.
func genesisBlock() chainmodel.Block {
	var zeroPubKey chainmodel.PubKey
	coinbase := chainmodel.Transaction{
		Kind: chainmodel.KindCoinbase,
		Coinbase: &chainmodel.CoinbaseTx{
			Recipient: zeroPubKey,
			Amount:    0,
			Height:    0,
		},
	}
	header := chainmodel.Header{
		Version:    1,
		Height:     0,
		PrevHash:   chainmodel.Hash{},
		Timestamp:  0,
		Miner:      zeroPubKey,
		Difficulty: 1,
		Nonce:      0,
		TxCount:    1,
	}
	block := chainmodel.Block{Header: header, Transactions: []chainmodel.Transaction{coinbase}}
	block.Header.TxMerkleRoot = block.ComputeTxMerkleRoot()
	block.Header.StateRoot = chainmodel.EmptyStateRoot()
	return block
}

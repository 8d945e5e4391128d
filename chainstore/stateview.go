// Copyright (c) 2024 The scribechain developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package chainstore

import (
	"github.com/scribechain/scribed/chainmodel"
	"github.com/scribechain/scribed/validator"
)

// composedStateView answers Get/AllAccounts from an ordered stack of
// touched-account layers (oldest first), falling back to the implicit
// zero account. It lets the chain store derive the account state after
// any known block — active tip or a competing fork — without ever
// mutating the real statestore.Store, which only ever holds the active
// tip's materialized state.
type composedStateView struct {
	layers []map[chainmodel.PubKey]chainmodel.Account
}

func (c composedStateView) Get(pk chainmodel.PubKey) chainmodel.Account {
	for i := len(c.layers) - 1; i >= 0; i-- {
		if a, ok := c.layers[i][pk]; ok {
			return a
		}
	}
	return chainmodel.Account{}
}

func (c composedStateView) AllAccounts() map[chainmodel.PubKey]chainmodel.Account {
	merged := make(map[chainmodel.PubKey]chainmodel.Account)
	for _, layer := range c.layers {
		for k, v := range layer {
			merged[k] = v
		}
	}
	return merged
}

// stateViewForParent returns the StateView a candidate block extending n
// should validate against. Extending the live active tip is the fast,
// common path (the real statestore.Store, kept current by Apply); any
// other parent replays touched-account layers from genesis forward, a
// slow path exercised only by competing forks and reorgs, which are
// bounded to a configured depth.
func (s *Store) stateViewForParent(n *node) validator.StateView {
	s.mu.RLock()
	isTip := n == s.tip
	s.mu.RUnlock()
	if isTip {
		return s.state
	}
	var layers []map[chainmodel.PubKey]chainmodel.Account
	chain := []*node{}
	for cur := n; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		layers = append(layers, chain[i].touched)
	}
	return composedStateView{layers: layers}
}

// Copyright 2025 The lantern Authors
// This file is part of the lantern library.
//
// The lantern library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The lantern library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the lantern library. If not, see <http://www.gnu.org/licenses/>.

package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lantern-btc/lantern/common"
	"github.com/lantern-btc/lantern/core/types"
	"github.com/lantern-btc/lantern/db/memorydb"
	"github.com/lantern-btc/lantern/log"
	"github.com/lantern-btc/lantern/params"
)

// mineHeader grinds a regtest header on top of prev. The regtest power
// limit passes roughly every other nonce, so this is cheap.
func mineHeader(prev common.Hash, merkleSeed byte, timestamp uint32) *types.Header {
	for nonce := uint32(0); ; nonce++ {
		hdr := &types.Header{
			Version:    0x20000000,
			PrevBlock:  prev,
			MerkleRoot: common.BytesToHash([]byte{merkleSeed}),
			Timestamp:  timestamp,
			Bits:       0x207fffff,
			Nonce:      nonce,
		}
		if hdr.MeetsTarget() {
			return hdr
		}
	}
}

// makeHeaderChain mines n linked regtest headers on top of prev. The seed
// differentiates competing branches mined from the same parent.
func makeHeaderChain(prev common.Hash, n int, seed byte) []*types.Header {
	out := make([]*types.Header, 0, n)
	for i := 0; i < n; i++ {
		hdr := mineHeader(prev, seed+byte(i), 1700000000+uint32(i))
		out = append(out, hdr)
		prev = hdr.Hash()
	}
	return out
}

// newTestChain builds a header chain over an in-memory store anchored at
// the regtest genesis.
func newTestChain(t *testing.T) (*HeaderChain, *memorydb.HeaderStore) {
	t.Helper()
	cfg := params.RegtestParams()
	store := memorydb.NewHeaderStore()
	hc, err := NewHeaderChain(context.Background(), store, cfg,
		NewHeaderVerifier(cfg), cfg.GenesisCheckpoint(), log.Root())
	require.NoError(t, err)
	return hc, store
}

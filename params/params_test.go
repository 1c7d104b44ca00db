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

package params

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestByNetwork(t *testing.T) {
	for _, n := range []Network{Mainnet, Testnet3, Testnet4, Signet, Regtest} {
		cfg := ByNetwork(n)
		require.NotNil(t, cfg, n.String())
		require.Equal(t, n, cfg.Network)
		require.False(t, cfg.GenesisHash.IsZero())
		require.NotZero(t, cfg.Magic)
		require.NotZero(t, cfg.DefaultPort)
	}
	require.Nil(t, ByNetwork(Network(42)))
}

func TestMagicsAreDistinct(t *testing.T) {
	seen := map[uint32]string{}
	for _, n := range []Network{Mainnet, Testnet3, Testnet4, Signet, Regtest} {
		cfg := ByNetwork(n)
		if prior, ok := seen[cfg.Magic]; ok {
			t.Fatalf("%s shares magic with %s", cfg.Name, prior)
		}
		seen[cfg.Magic] = cfg.Name
	}
}

func TestClosestCheckpointBelow(t *testing.T) {
	cfg := MainnetParams()
	cp := cfg.ClosestCheckpointBelow(200_000)
	require.Equal(t, uint32(193_000), cp.Height)

	// Below the first checkpoint the genesis anchors the chain.
	cp = cfg.ClosestCheckpointBelow(100)
	require.Equal(t, uint32(0), cp.Height)
	require.Equal(t, cfg.GenesisHash, cp.Hash)

	// Checkpoints ascend.
	last := uint32(0)
	for _, cp := range cfg.Checkpoints {
		require.Greater(t, cp.Height, last)
		last = cp.Height
	}
}

func TestLastCheckpoint(t *testing.T) {
	require.Equal(t, uint32(295_000), MainnetParams().LastCheckpoint().Height)
	// Networks without embedded checkpoints fall back to genesis.
	regtest := RegtestParams()
	require.Equal(t, regtest.GenesisCheckpoint(), regtest.LastCheckpoint())
}

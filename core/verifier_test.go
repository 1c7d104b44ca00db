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
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lantern-btc/lantern/common"
	"github.com/lantern-btc/lantern/core/types"
	"github.com/lantern-btc/lantern/params"
)

// grindHeader mines a header at an arbitrary compact target. Tests only use
// targets within a few bits of the regtest limit, so grinding stays cheap.
func grindHeader(prev common.Hash, bits uint32, timestamp uint32) *types.Header {
	for nonce := uint32(0); ; nonce++ {
		hdr := &types.Header{
			Version:    0x20000000,
			PrevBlock:  prev,
			MerkleRoot: common.BytesToHash([]byte{0xab}),
			Timestamp:  timestamp,
			Bits:       bits,
			Nonce:      nonce,
		}
		if hdr.MeetsTarget() {
			return hdr
		}
	}
}

// retargetParams returns a network that adjusts difficulty every 4 blocks,
// short enough to cross a boundary in a test.
func retargetParams() *params.Params {
	cfg := params.RegtestParams()
	cfg.NoRetargeting = false
	cfg.RetargetInterval = 4
	cfg.TargetSpacing = 10 * time.Minute
	cfg.TargetTimespan = 40 * time.Minute
	return cfg
}

// chainView adapts a height-keyed map to the verifier's lookup callback.
func chainView(headers map[uint32]*types.Header) func(uint32) *types.Header {
	return func(h uint32) *types.Header { return headers[h] }
}

func TestVerifyAcceptsMinedHeader(t *testing.T) {
	cfg := params.RegtestParams()
	ver := NewHeaderVerifier(cfg)
	prev := mineHeader(cfg.GenesisHash, 1, 1700000000)
	hdr := mineHeader(prev.Hash(), 2, 1700000600)
	require.NoError(t, ver.Verify(hdr, 2, prev, chainView(nil)))
}

func TestVerifySkipsScheduleBelowAnchor(t *testing.T) {
	// The predecessor sits below the trusted anchor: only the
	// self-consistent target check applies.
	cfg := params.RegtestParams()
	ver := NewHeaderVerifier(cfg)
	hdr := mineHeader(cfg.GenesisHash, 1, 1700000000)
	require.NoError(t, ver.Verify(hdr, 170_001, nil, chainView(nil)))
}

func TestVerifyRejectsTargetAboveLimit(t *testing.T) {
	cfg := params.RegtestParams()
	ver := NewHeaderVerifier(cfg)
	// 0x2100ffff decodes to a target above the regtest limit; rejected
	// before any hashing.
	hdr := &types.Header{Bits: 0x2100ffff}
	require.ErrorIs(t, ver.Verify(hdr, 1, nil, chainView(nil)), ErrBadDifficulty)
	// The sign bit never decodes.
	hdr = &types.Header{Bits: 0x1d800000}
	require.ErrorIs(t, ver.Verify(hdr, 1, nil, chainView(nil)), ErrBadDifficulty)
}

func TestVerifyRejectsUnminedHeader(t *testing.T) {
	cfg := params.RegtestParams()
	ver := NewHeaderVerifier(cfg)
	mined := mineHeader(cfg.GenesisHash, 1, 1700000000)
	unmined := mined.Copy()
	for unmined.MeetsTarget() {
		unmined.Nonce++
	}
	require.ErrorIs(t, ver.Verify(&unmined, 1, nil, chainView(nil)), ErrInvalidPoW)
}

func TestVerifyRejectsWrongScheduleBits(t *testing.T) {
	// Regtest pins the schedule at the power limit; a mined header
	// declaring anything tighter is off-schedule.
	cfg := params.RegtestParams()
	ver := NewHeaderVerifier(cfg)
	prev := mineHeader(cfg.GenesisHash, 1, 1700000000)
	hdr := grindHeader(prev.Hash(), 0x207ffffe, 1700000600)
	require.ErrorIs(t, ver.Verify(hdr, 2, prev, chainView(nil)), ErrBadDifficulty)
}

// windowHeaders constructs a retarget window at the given bits without
// mining: the verifier checks proof of work only on the header under test,
// never on the history it is handed.
func windowHeaders(bits uint32, timestamps []uint32) map[uint32]*types.Header {
	out := make(map[uint32]*types.Header, len(timestamps))
	prev := common.Hash{}
	for i, ts := range timestamps {
		hdr := &types.Header{
			Version:   0x20000000,
			PrevBlock: prev,
			Timestamp: ts,
			Bits:      bits,
		}
		out[uint32(i)] = hdr
		prev = hdr.Hash()
	}
	return out
}

func TestVerifyRetargetBoundary(t *testing.T) {
	cfg := retargetParams()
	ver := NewHeaderVerifier(cfg)
	span := uint32(cfg.TargetTimespan.Seconds())
	// A mid-range difficulty keeps both the retarget arithmetic in bounds
	// and the test's grinding cheap.
	const windowBits = 0x1f07ffff

	// A window closing exactly on schedule keeps the old target.
	headers := windowHeaders(windowBits, []uint32{1_000_000, 1_000_600, 1_001_200, 1_000_000 + span})
	onTime := grindHeader(headers[3].Hash(), windowBits, 1_000_000+span+600)
	require.NoError(t, ver.Verify(onTime, 4, headers[3], chainView(headers)))

	// A window mined four times too fast quarters the target: 0x1f07ffff
	// becomes 0x1f01ffff, and still claiming the old bits fails.
	fast := windowHeaders(windowBits, []uint32{1_000_000, 1_000_100, 1_000_200, 1_000_300})
	tightened := grindHeader(fast[3].Hash(), 0x1f01ffff, 1_000_000+1000)
	require.NoError(t, ver.Verify(tightened, 4, fast[3], chainView(fast)))
	lazy := grindHeader(fast[3].Hash(), windowBits, 1_000_000+1000)
	require.ErrorIs(t, ver.Verify(lazy, 4, fast[3], chainView(fast)), ErrBadDifficulty)
}

func TestVerifyTestnetMinDifficultyRule(t *testing.T) {
	cfg := retargetParams()
	cfg.ReduceMinDifficulty = true
	ver := NewHeaderVerifier(cfg)

	// Off-boundary, the schedule wants the predecessor's tightened bits.
	prev := &types.Header{Version: 0x20000000, Timestamp: 1_000_000, Bits: 0x201fffff}
	headers := map[uint32]*types.Header{1: prev}

	// Twenty minutes of silence permit a minimum-difficulty block.
	slow := grindHeader(prev.Hash(), cfg.PowLimitBits, prev.Timestamp+1201)
	require.NoError(t, ver.Verify(slow, 2, prev, chainView(headers)))

	// On schedule, the limit is not acceptable.
	quick := grindHeader(prev.Hash(), cfg.PowLimitBits, prev.Timestamp+600)
	require.ErrorIs(t, ver.Verify(quick, 2, prev, chainView(headers)), ErrBadDifficulty)
}

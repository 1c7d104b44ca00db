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
	"fmt"

	"github.com/holiman/uint256"

	"github.com/lantern-btc/lantern/core/types"
	"github.com/lantern-btc/lantern/params"
)

// HeaderVerifier checks a single header against the consensus rules the
// light client enforces: proof of work and the difficulty schedule.
//
// prev is the predecessor header, or nil when the predecessor lies at or
// below the trusted anchor. headerAt resolves earlier headers in the chain
// being evaluated (the active chain, or a candidate fork grafted onto it)
// and returns nil below the anchor.
type HeaderVerifier interface {
	Verify(header *types.Header, height uint32, prev *types.Header, headerAt func(uint32) *types.Header) error
}

// powVerifier enforces the target and retarget rules of a network.
type powVerifier struct {
	cfg      *params.Params
	powLimit *uint256.Int
}

// NewHeaderVerifier returns the production verifier for the network.
func NewHeaderVerifier(cfg *params.Params) HeaderVerifier {
	limit, err := types.CompactToTarget(cfg.PowLimitBits)
	if err != nil {
		panic(fmt.Sprintf("invalid pow limit for %s: %v", cfg.Name, err))
	}
	return &powVerifier{cfg: cfg, powLimit: limit}
}

func (v *powVerifier) Verify(header *types.Header, height uint32, prev *types.Header, headerAt func(uint32) *types.Header) error {
	target, err := types.CompactToTarget(header.Bits)
	if err != nil || target.Gt(v.powLimit) {
		return fmt.Errorf("%w: bits %08x", ErrBadDifficulty, header.Bits)
	}
	if !header.MeetsTarget() {
		return fmt.Errorf("%w: %s", ErrInvalidPoW, header.Hash())
	}
	if prev == nil {
		// The predecessor is below the trusted anchor; the schedule
		// cannot be evaluated, so only the self-consistent target check
		// above applies.
		return nil
	}
	want := v.nextRequiredBits(height, prev, headerAt)
	if want == 0 {
		return nil
	}
	if v.cfg.ReduceMinDifficulty && header.Bits == v.cfg.PowLimitBits &&
		header.Timestamp > prev.Timestamp+uint32(2*v.cfg.TargetSpacing.Seconds()) {
		// Testnet 20-minute rule: a min-difficulty block is acceptable
		// when the previous block is sufficiently old.
		return nil
	}
	if header.Bits != want {
		return fmt.Errorf("%w: have %08x want %08x at height %d", ErrBadDifficulty, header.Bits, want, height)
	}
	return nil
}

// nextRequiredBits computes the compact target required at the given height,
// or zero when the history needed to evaluate it is below the anchor.
func (v *powVerifier) nextRequiredBits(height uint32, prev *types.Header, headerAt func(uint32) *types.Header) uint32 {
	if v.cfg.NoRetargeting {
		return v.cfg.PowLimitBits
	}
	if height%v.cfg.RetargetInterval != 0 {
		if v.cfg.ReduceMinDifficulty && prev.Bits == v.cfg.PowLimitBits {
			// Walk back to the last non-minimum target in the window.
			h := height - 1
			for h%v.cfg.RetargetInterval != 0 {
				hdr := headerAt(h)
				if hdr == nil {
					return 0
				}
				if hdr.Bits != v.cfg.PowLimitBits {
					return hdr.Bits
				}
				h--
			}
			if hdr := headerAt(h); hdr != nil {
				return hdr.Bits
			}
			return 0
		}
		return prev.Bits
	}
	// Retarget boundary: scale the previous target by the observed
	// timespan of the closing window, clamped to a factor of four.
	first := headerAt(height - v.cfg.RetargetInterval)
	if first == nil {
		return 0
	}
	targetSpan := int64(v.cfg.TargetTimespan.Seconds())
	actual := int64(prev.Timestamp) - int64(first.Timestamp)
	if actual < targetSpan/4 {
		actual = targetSpan / 4
	}
	if actual > targetSpan*4 {
		actual = targetSpan * 4
	}
	oldTarget, err := types.CompactToTarget(prev.Bits)
	if err != nil {
		return 0
	}
	next, overflow := new(uint256.Int).MulOverflow(oldTarget, uint256.NewInt(uint64(actual)))
	next.Div(next, uint256.NewInt(uint64(targetSpan)))
	if overflow || next.Gt(v.powLimit) {
		next.Set(v.powLimit)
	}
	return types.TargetToCompact(next)
}

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

// Package types holds the Bitcoin wire data structures the client consumes:
// block headers, blocks and transactions, with their serialization.
package types

import (
	"bytes"
	"errors"
	"io"

	"github.com/holiman/uint256"

	"github.com/lantern-btc/lantern/common"
)

// HeaderSize is the canonical serialized size of a block header.
const HeaderSize = 80

var errBadCompact = errors.New("negative or overflowing compact target")

// Header is an 80-byte Bitcoin block header. It is a plain value type;
// hashing is cheap enough to recompute on demand.
type Header struct {
	Version    int32
	PrevBlock  common.Hash
	MerkleRoot common.Hash
	Timestamp  uint32
	Bits       uint32
	Nonce      uint32
}

// Copy returns a value copy of the header.
func (h *Header) Copy() Header { return *h }

// Hash returns the double-SHA256 of the serialized header.
func (h *Header) Hash() common.Hash {
	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	_ = h.Encode(&buf)
	return common.DoubleHash(buf.Bytes())
}

// Encode writes the 80-byte wire serialization.
func (h *Header) Encode(w io.Writer) error {
	if err := writeUint32(w, uint32(h.Version)); err != nil {
		return err
	}
	if _, err := w.Write(h.PrevBlock[:]); err != nil {
		return err
	}
	if _, err := w.Write(h.MerkleRoot[:]); err != nil {
		return err
	}
	if err := writeUint32(w, h.Timestamp); err != nil {
		return err
	}
	if err := writeUint32(w, h.Bits); err != nil {
		return err
	}
	return writeUint32(w, h.Nonce)
}

// Decode reads the 80-byte wire serialization.
func (h *Header) Decode(r io.Reader) error {
	v, err := readUint32(r)
	if err != nil {
		return err
	}
	h.Version = int32(v)
	if _, err := io.ReadFull(r, h.PrevBlock[:]); err != nil {
		return err
	}
	if _, err := io.ReadFull(r, h.MerkleRoot[:]); err != nil {
		return err
	}
	if h.Timestamp, err = readUint32(r); err != nil {
		return err
	}
	if h.Bits, err = readUint32(r); err != nil {
		return err
	}
	if h.Nonce, err = readUint32(r); err != nil {
		return err
	}
	return nil
}

// Bytes returns the wire serialization as a fresh slice.
func (h *Header) Bytes() []byte {
	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	_ = h.Encode(&buf)
	return buf.Bytes()
}

// HeaderFromBytes decodes an 80-byte serialized header.
func HeaderFromBytes(b []byte) (*Header, error) {
	if len(b) != HeaderSize {
		return nil, errors.New("header must be exactly 80 bytes")
	}
	h := new(Header)
	if err := h.Decode(bytes.NewReader(b)); err != nil {
		return nil, err
	}
	return h, nil
}

// CompactToTarget expands the compact difficulty encoding into the full
// 256-bit target. The sign bit and overflow both fail.
func CompactToTarget(bits uint32) (*uint256.Int, error) {
	mantissa := bits & 0x007fffff
	exponent := uint(bits >> 24)
	if bits&0x00800000 != 0 {
		return nil, errBadCompact
	}
	target := uint256.NewInt(uint64(mantissa))
	if exponent <= 3 {
		target.Rsh(target, 8*(3-exponent))
	} else {
		shift := 8 * (exponent - 3)
		if shift > 255 {
			return nil, errBadCompact
		}
		probe := new(uint256.Int).Set(target)
		target.Lsh(target, shift)
		// Overflow check: shifting back must reproduce the mantissa.
		if new(uint256.Int).Rsh(target, shift).Cmp(probe) != 0 {
			return nil, errBadCompact
		}
	}
	return target, nil
}

// TargetToCompact compresses a 256-bit target into the compact encoding.
func TargetToCompact(target *uint256.Int) uint32 {
	if target.IsZero() {
		return 0
	}
	size := uint32((target.BitLen() + 7) / 8)
	var mantissa uint32
	if size <= 3 {
		mantissa = uint32(target.Uint64() << (8 * (3 - size)))
	} else {
		mantissa = uint32(new(uint256.Int).Rsh(target, uint(8*(size-3))).Uint64())
	}
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		size++
	}
	return size<<24 | mantissa
}

// Work returns the expected number of hashes needed to meet this header's
// target: 2^256 / (target + 1).
func (h *Header) Work() *uint256.Int {
	target, err := CompactToTarget(h.Bits)
	if err != nil || target.IsZero() {
		return uint256.NewInt(0)
	}
	// (2^256 - target - 1) / (target + 1) + 1 avoids 257-bit arithmetic.
	one := uint256.NewInt(1)
	denom := new(uint256.Int).Add(target, one)
	numer := new(uint256.Int).Neg(denom) // 2^256 - target - 1 mod 2^256
	return numer.Div(numer, denom).Add(numer, one)
}

// MeetsTarget reports whether the header hash satisfies its own declared
// difficulty target.
func (h *Header) MeetsTarget() bool {
	target, err := CompactToTarget(h.Bits)
	if err != nil {
		return false
	}
	hash := h.Hash()
	// The hash is compared as a little-endian 256-bit integer.
	var be [32]byte
	for i := 0; i < 32; i++ {
		be[i] = hash[31-i]
	}
	hashVal := new(uint256.Int).SetBytes(be[:])
	return hashVal.Cmp(target) <= 0
}

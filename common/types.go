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

// Package common contains the hash type and small helpers shared across the
// library.
package common

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// HashLength is the expected length of a block, transaction or filter hash.
const HashLength = 32

// Hash represents a 32-byte double-SHA256 digest in wire order. Bitcoin
// convention displays hashes byte-reversed, which String and HexString honor.
type Hash [HashLength]byte

// BytesToHash copies b into a Hash. Inputs longer than 32 bytes keep their
// trailing bytes, mirroring fixed-width big-endian assignment.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// HashFromHex parses the canonical display encoding, i.e. the byte-reversed
// hex string used by block explorers and RPC interfaces.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(b) != HashLength {
		return h, fmt.Errorf("invalid hash length %d", len(b))
	}
	for i := 0; i < HashLength; i++ {
		h[i] = b[HashLength-1-i]
	}
	return h, nil
}

// MustHashFromHex is HashFromHex for compile-time constants such as embedded
// checkpoints. It panics on malformed input.
func MustHashFromHex(s string) Hash {
	h, err := HashFromHex(s)
	if err != nil {
		panic(err)
	}
	return h
}

// Bytes returns the hash in wire order.
func (h Hash) Bytes() []byte { return h[:] }

// IsZero reports whether the hash is all zeroes.
func (h Hash) IsZero() bool { return h == Hash{} }

// String implements fmt.Stringer using the reversed display convention.
func (h Hash) String() string {
	var rev [HashLength]byte
	for i := 0; i < HashLength; i++ {
		rev[i] = h[HashLength-1-i]
	}
	return hex.EncodeToString(rev[:])
}

// TerminalString formats the hash for console output during logging.
func (h Hash) TerminalString() string {
	s := h.String()
	return s[:8] + "…" + s[56:]
}

// DoubleHash computes sha256(sha256(b)), the digest used for block hashes,
// txids and filter header chaining.
func DoubleHash(b []byte) Hash {
	first := sha256.Sum256(b)
	return Hash(sha256.Sum256(first[:]))
}

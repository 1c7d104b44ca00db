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

// Package gcs implements the Golomb-coded set used by basic compact block
// filters: siphash-mapped set members, Rice-coded deltas, parameters P=19
// and M=784931.
package gcs

import (
	"bytes"
	"errors"
	"io"
	"math/bits"
	"sort"

	"github.com/aead/siphash"
	"github.com/kkdai/bstream"

	"github.com/lantern-btc/lantern/common"
	"github.com/lantern-btc/lantern/core/types"
)

const (
	// DefaultP is the Rice parameter for basic block filters.
	DefaultP = 19
	// DefaultM is the false-positive inverse modulus for basic filters.
	DefaultM = 784931

	// maxElements guards decode against absurd element counts.
	maxElements = 10_000_000
)

var (
	// ErrTooManyElements is returned when a serialized filter declares more
	// members than any valid block could commit.
	ErrTooManyElements = errors.New("gcs: element count out of range")
	// ErrMisserialized is returned when the compressed bit stream ends
	// prematurely.
	ErrMisserialized = errors.New("gcs: malformed filter data")
)

// KeyFromBlockHash derives the siphash key for a block's filter: the first
// 16 bytes of the block hash in wire order.
func KeyFromBlockHash(hash common.Hash) [16]byte {
	var key [16]byte
	copy(key[:], hash[:16])
	return key
}

// Filter is a parsed Golomb-coded set.
type Filter struct {
	n    uint32
	p    uint8
	m    uint64
	data []byte // Rice-coded deltas, without the leading N varint
}

// FromBytes parses the serialized filter as carried in a cfilter message:
// a varint member count followed by the compressed deltas.
func FromBytes(serialized []byte) (*Filter, error) {
	r := bytes.NewReader(serialized)
	n, err := types.ReadVarInt(r)
	if err != nil {
		return nil, err
	}
	if n > maxElements {
		return nil, ErrTooManyElements
	}
	data := make([]byte, r.Len())
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return &Filter{n: uint32(n), p: DefaultP, m: DefaultM, data: data}, nil
}

// Build constructs a filter over the given raw items with the basic filter
// parameters. Duplicate and empty items are skipped, matching BIP-158.
func Build(key [16]byte, items [][]byte) (*Filter, error) {
	dedup := make([][]byte, 0, len(items))
	unique := make(map[string]struct{}, len(items))
	for _, item := range items {
		if len(item) == 0 {
			continue
		}
		if _, ok := unique[string(item)]; ok {
			continue
		}
		unique[string(item)] = struct{}{}
		dedup = append(dedup, item)
	}
	n := uint64(len(dedup))
	if n > maxElements {
		return nil, ErrTooManyElements
	}
	values := make([]uint64, 0, n)
	for _, item := range dedup {
		values = append(values, hashToRange(item, n*DefaultM, key))
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })

	w := bstream.NewBStreamWriter(uint8(n))
	var prev uint64
	for _, v := range values {
		delta := v - prev
		prev = v
		// Unary quotient, then P remainder bits.
		for q := delta >> DefaultP; q > 0; q-- {
			w.WriteBit(true)
		}
		w.WriteBit(false)
		w.WriteBits(delta, DefaultP)
	}
	return &Filter{n: uint32(n), p: DefaultP, m: DefaultM, data: w.Bytes()}, nil
}

// N returns the number of members in the set.
func (f *Filter) N() uint32 { return f.n }

// Bytes returns the wire serialization: varint N then the compressed data.
func (f *Filter) Bytes() []byte {
	var buf bytes.Buffer
	_ = types.WriteVarInt(&buf, uint64(f.n))
	buf.Write(f.data)
	return buf.Bytes()
}

// Hash returns the double-SHA256 of the serialized filter, the value folded
// into the filter header chain.
func (f *Filter) Hash() common.Hash {
	return common.DoubleHash(f.Bytes())
}

// Match reports whether data may be a member of the set.
func (f *Filter) Match(key [16]byte, data []byte) (bool, error) {
	return f.MatchAny(key, [][]byte{data})
}

// MatchAny reports whether any of the queries may be members of the set.
// The compressed stream is walked once against the sorted query hashes.
func (f *Filter) MatchAny(key [16]byte, queries [][]byte) (bool, error) {
	if f.n == 0 || len(queries) == 0 {
		return false, nil
	}
	targets := make([]uint64, 0, len(queries))
	for _, q := range queries {
		if len(q) == 0 {
			continue
		}
		targets = append(targets, hashToRange(q, uint64(f.n)*f.m, key))
	}
	if len(targets) == 0 {
		return false, nil
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })

	r := bstream.NewBStreamReader(f.data)
	var value uint64
	i := 0
	for member := uint32(0); member < f.n; member++ {
		delta, err := f.readDelta(r)
		if err != nil {
			return false, err
		}
		value += delta
		for i < len(targets) && targets[i] < value {
			i++
		}
		if i == len(targets) {
			return false, nil
		}
		if targets[i] == value {
			return true, nil
		}
	}
	return false, nil
}

// readDelta decodes one Rice-coded value: unary quotient then P bits of
// remainder.
func (f *Filter) readDelta(r *bstream.BStream) (uint64, error) {
	var quotient uint64
	for {
		bit, err := r.ReadBit()
		if err != nil {
			return 0, ErrMisserialized
		}
		if !bit {
			break
		}
		quotient++
	}
	rem, err := r.ReadBits(int(f.p))
	if err != nil {
		return 0, ErrMisserialized
	}
	return quotient<<f.p | rem, nil
}

// hashToRange maps an item uniformly into [0, modulus) by taking the high
// 64 bits of siphash(item) * modulus.
func hashToRange(item []byte, modulus uint64, key [16]byte) uint64 {
	hash := siphash.Sum64(item, &key)
	hi, _ := bits.Mul64(hash, modulus)
	return hi
}

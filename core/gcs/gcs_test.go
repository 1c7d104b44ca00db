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

package gcs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lantern-btc/lantern/common"
)

func testKey() [16]byte {
	var key [16]byte
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func testItems(n int) [][]byte {
	items := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, []byte(fmt.Sprintf("script-%04d", i)))
	}
	return items
}

func TestBuildAndMatch(t *testing.T) {
	key := testKey()
	items := testItems(100)
	filter, err := Build(key, items)
	require.NoError(t, err)
	require.Equal(t, uint32(100), filter.N())

	for _, item := range items {
		ok, err := filter.Match(key, item)
		require.NoError(t, err)
		require.True(t, ok, "member %q not found", item)
	}
}

func TestMatchAbsent(t *testing.T) {
	key := testKey()
	filter, err := Build(key, testItems(100))
	require.NoError(t, err)

	misses := 0
	for i := 0; i < 1000; i++ {
		ok, err := filter.Match(key, []byte(fmt.Sprintf("absent-%04d", i)))
		require.NoError(t, err)
		if ok {
			misses++
		}
	}
	// With M = 784931 the false positive rate over 1000 probes should be
	// essentially zero; a handful would already indicate a broken
	// decoder.
	require.LessOrEqual(t, misses, 2)
}

func TestMatchAny(t *testing.T) {
	key := testKey()
	items := testItems(50)
	filter, err := Build(key, items)
	require.NoError(t, err)

	queries := [][]byte{[]byte("nope-1"), []byte("nope-2"), items[37]}
	ok, err := filter.MatchAny(key, queries)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = filter.MatchAny(key, [][]byte{[]byte("nope-1"), []byte("nope-2")})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSerializationRoundTrip(t *testing.T) {
	key := testKey()
	items := testItems(25)
	filter, err := Build(key, items)
	require.NoError(t, err)

	decoded, err := FromBytes(filter.Bytes())
	require.NoError(t, err)
	require.Equal(t, filter.N(), decoded.N())
	require.Equal(t, filter.Hash(), decoded.Hash())
	ok, err := decoded.Match(key, items[3])
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBuildDeduplicates(t *testing.T) {
	key := testKey()
	filter, err := Build(key, [][]byte{[]byte("a"), []byte("a"), nil, []byte("b")})
	require.NoError(t, err)
	require.Equal(t, uint32(2), filter.N())
}

func TestEmptyFilter(t *testing.T) {
	key := testKey()
	filter, err := Build(key, nil)
	require.NoError(t, err)
	ok, err := filter.Match(key, []byte("anything"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestTruncatedDataErrors(t *testing.T) {
	key := testKey()
	filter, err := Build(key, testItems(50))
	require.NoError(t, err)
	raw := filter.Bytes()
	// Two bytes of compressed data cannot hold even one 19-bit
	// remainder; decoding must fail, not misreport.
	truncated, err := FromBytes(raw[:3])
	require.NoError(t, err)
	_, err = truncated.MatchAny(key, [][]byte{[]byte("zzz-not-there")})
	require.ErrorIs(t, err, ErrMisserialized)
}

func TestKeyFromBlockHash(t *testing.T) {
	hash := common.MustHashFromHex("000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f")
	key := KeyFromBlockHash(hash)
	require.Equal(t, hash[:16], key[:])
}

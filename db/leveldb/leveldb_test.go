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

package leveldb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lantern-btc/lantern/common"
	"github.com/lantern-btc/lantern/core/types"
	"github.com/lantern-btc/lantern/db"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testHeaders(n int, base byte) []*types.Header {
	prev := common.Hash{}
	out := make([]*types.Header, 0, n)
	for i := 0; i < n; i++ {
		hdr := &types.Header{
			Version:    1,
			PrevBlock:  prev,
			MerkleRoot: common.BytesToHash([]byte{base + byte(i)}),
			Timestamp:  uint32(1700000000 + i),
			Bits:       0x207fffff,
		}
		out = append(out, hdr)
		prev = hdr.Hash()
	}
	return out
}

func TestHeadersPersistAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := Open(dir)
	require.NoError(t, err)
	headers := testHeaders(6, 0)
	require.NoError(t, store.Headers().WriteBatch(ctx, 1, headers))
	require.NoError(t, store.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()
	loaded, err := reopened.Headers().LoadAfter(ctx, 0)
	require.NoError(t, err)
	require.Len(t, loaded, 6)
	require.Equal(t, headers[5].Hash(), loaded[5].Hash())

	height, ok, err := reopened.Headers().HeightOf(ctx, headers[3].Hash())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(4), height)
}

func TestLoadAfterStopsAtGap(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	headers := testHeaders(6, 0)
	require.NoError(t, store.Headers().WriteBatch(ctx, 1, headers[:3]))
	require.NoError(t, store.Headers().WriteBatch(ctx, 5, headers[4:]))

	loaded, err := store.Headers().LoadAfter(ctx, 0)
	require.NoError(t, err)
	require.Len(t, loaded, 3, "load must stop at the first gap")
}

func TestLoadAfterElevatedBase(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	headers := testHeaders(3, 0)
	// Stored from a checkpoint far above zero.
	require.NoError(t, store.Headers().WriteBatch(ctx, 170_001, headers))

	loaded, err := store.Headers().LoadAfter(ctx, 0)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
}

func TestTruncateAboveRemovesIndex(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	headers := testHeaders(6, 0)
	require.NoError(t, store.Headers().WriteBatch(ctx, 1, headers))
	require.NoError(t, store.Headers().TruncateAbove(ctx, 3))

	loaded, err := store.Headers().LoadAfter(ctx, 0)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	_, ok, err := store.Headers().HeightOf(ctx, headers[5].Hash())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPeerRecordsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	peers := store.Peers(0)

	banned := time.Now().Add(2 * time.Hour).Truncate(time.Second)
	require.NoError(t, peers.Upsert(ctx, db.PeerRecord{
		Addr: "2001:db8::1", Port: 8333, Services: 1 << 6, Score: 42,
	}))
	require.NoError(t, peers.MarkBanned(ctx, "10.1.1.1", 8333, banned))

	n, err := peers.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	sample, err := peers.Sample(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sample, 1, "banned peer must not be sampled")
	require.Equal(t, "2001:db8::1", sample[0].Addr)
	require.Equal(t, uint64(1<<6), sample[0].Services)
	require.Equal(t, int32(42), sample[0].Score)
}

func TestPeerCapRespected(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)
	peers := store.Peers(3)
	for i := 0; i < 6; i++ {
		require.NoError(t, peers.Upsert(ctx, db.PeerRecord{
			Addr: "10.0.0.1", Port: uint16(8000 + i), Score: int32(i),
		}))
	}
	n, err := peers.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

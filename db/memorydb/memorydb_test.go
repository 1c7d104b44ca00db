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

package memorydb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lantern-btc/lantern/common"
	"github.com/lantern-btc/lantern/core/types"
	"github.com/lantern-btc/lantern/db"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testHeaders(n int) []*types.Header {
	prev := common.Hash{}
	out := make([]*types.Header, 0, n)
	for i := 0; i < n; i++ {
		hdr := &types.Header{
			Version:    1,
			PrevBlock:  prev,
			MerkleRoot: common.BytesToHash([]byte{byte(i)}),
			Timestamp:  uint32(1700000000 + i),
			Bits:       0x207fffff,
		}
		out = append(out, hdr)
		prev = hdr.Hash()
	}
	return out
}

func TestHeaderStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewHeaderStore()
	headers := testHeaders(5)
	require.NoError(t, store.WriteBatch(ctx, 1, headers))

	loaded, err := store.LoadAfter(ctx, 0)
	require.NoError(t, err)
	require.Len(t, loaded, 5)
	require.Equal(t, headers[0].Hash(), loaded[0].Hash())

	loaded, err = store.LoadAfter(ctx, 3)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	height, ok, err := store.HeightOf(ctx, headers[2].Hash())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint32(3), height)
}

func TestHeaderStoreTruncate(t *testing.T) {
	ctx := context.Background()
	store := NewHeaderStore()
	headers := testHeaders(5)
	require.NoError(t, store.WriteBatch(ctx, 1, headers))
	require.NoError(t, store.TruncateAbove(ctx, 2))

	loaded, err := store.LoadAfter(ctx, 0)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	_, ok, err := store.HeightOf(ctx, headers[4].Hash())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestHeaderStoreOverwriteDropsOldIndex(t *testing.T) {
	ctx := context.Background()
	store := NewHeaderStore()
	headers := testHeaders(3)
	require.NoError(t, store.WriteBatch(ctx, 1, headers))

	replacement := testHeaders(4)[3:]
	require.NoError(t, store.WriteBatch(ctx, 3, replacement))
	_, ok, err := store.HeightOf(ctx, headers[2].Hash())
	require.NoError(t, err)
	require.False(t, ok, "stale hash index entry survived overwrite")
}

func TestHeaderStoreClosed(t *testing.T) {
	store := NewHeaderStore()
	require.NoError(t, store.Close())
	_, err := store.LoadAfter(context.Background(), 0)
	require.ErrorIs(t, err, db.ErrClosed)
}

func TestPeerStoreSampleExcludesBanned(t *testing.T) {
	ctx := context.Background()
	store := NewPeerStore(0)
	require.NoError(t, store.Upsert(ctx, db.PeerRecord{Addr: "10.0.0.1", Port: 8333, Score: 5}))
	require.NoError(t, store.Upsert(ctx, db.PeerRecord{Addr: "10.0.0.2", Port: 8333, Score: 9}))
	require.NoError(t, store.MarkBanned(ctx, "10.0.0.2", 8333, time.Now().Add(time.Hour)))

	sample, err := store.Sample(ctx, 10)
	require.NoError(t, err)
	require.Len(t, sample, 1)
	require.Equal(t, "10.0.0.1", sample[0].Addr)
}

func TestPeerStoreSampleOrdersByScore(t *testing.T) {
	ctx := context.Background()
	store := NewPeerStore(0)
	for i, score := range []int32{3, 9, 1, 7} {
		require.NoError(t, store.Upsert(ctx, db.PeerRecord{
			Addr: "10.0.0." + string(rune('1'+i)), Port: 8333, Score: score,
		}))
	}
	sample, err := store.Sample(ctx, 2)
	require.NoError(t, err)
	require.Len(t, sample, 2)
	require.Equal(t, int32(9), sample[0].Score)
	require.Equal(t, int32(7), sample[1].Score)
}

func TestPeerStoreCapEvictsWorst(t *testing.T) {
	ctx := context.Background()
	store := NewPeerStore(2)
	require.NoError(t, store.Upsert(ctx, db.PeerRecord{Addr: "10.0.0.1", Port: 8333, Score: 1}))
	require.NoError(t, store.Upsert(ctx, db.PeerRecord{Addr: "10.0.0.2", Port: 8333, Score: 5}))
	// Better than the worst: evicts it.
	require.NoError(t, store.Upsert(ctx, db.PeerRecord{Addr: "10.0.0.3", Port: 8333, Score: 3}))
	n, err := store.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	sample, err := store.Sample(ctx, 10)
	require.NoError(t, err)
	for _, rec := range sample {
		require.NotEqual(t, "10.0.0.1", rec.Addr)
	}
	// Worse than everything: dropped on the floor.
	require.NoError(t, store.Upsert(ctx, db.PeerRecord{Addr: "10.0.0.4", Port: 8333, Score: 0}))
	n, err = store.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

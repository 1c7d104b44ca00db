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

package p2p

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lantern-btc/lantern/db"
	"github.com/lantern-btc/lantern/db/memorydb"
	"github.com/lantern-btc/lantern/log"
	"github.com/lantern-btc/lantern/params"
)

type failDialer struct{ calls int }

func (d *failDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	d.calls++
	return nil, errors.New("connection refused")
}

func newTestManager(t *testing.T, trusted []TrustedPeer, dialer Dialer) (*Manager, *memorydb.PeerStore) {
	t.Helper()
	store := memorydb.NewPeerStore(0)
	// Regtest has no DNS seeds, keeping selection deterministic.
	return NewManager(params.RegtestParams(), store, trusted, dialer, log.Root()), store
}

func TestNextTargetPrefersTrusted(t *testing.T) {
	ctx := context.Background()
	mgr, store := newTestManager(t, []TrustedPeer{{Addr: "192.0.2.1"}}, nil)
	require.NoError(t, store.Upsert(ctx, db.PeerRecord{Addr: "198.51.100.1", Port: 18444, Score: 50}))

	first, err := mgr.NextTarget(ctx)
	require.NoError(t, err)
	require.Equal(t, "192.0.2.1", first.Addr)
	require.Equal(t, uint16(18444), first.Port, "default port fills in")

	second, err := mgr.NextTarget(ctx)
	require.NoError(t, err)
	require.Equal(t, "198.51.100.1", second.Addr)
}

func TestNextTargetExhaustion(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, nil, nil)
	_, err := mgr.NextTarget(ctx)
	require.ErrorIs(t, err, ErrEmptyPeerDatabase)
}

func TestNextTargetCyclesAfterExhaustion(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t, []TrustedPeer{{Addr: "192.0.2.1"}}, nil)

	first, err := mgr.NextTarget(ctx)
	require.NoError(t, err)
	_, err = mgr.NextTarget(ctx)
	require.ErrorIs(t, err, ErrEmptyPeerDatabase)
	// The attempted set resets; the trusted peer comes around again.
	again, err := mgr.NextTarget(ctx)
	require.NoError(t, err)
	require.Equal(t, first.Addr, again.Addr)
}

func TestConnectFailureBacksOff(t *testing.T) {
	ctx := context.Background()
	dialer := &failDialer{}
	mgr, _ := newTestManager(t, []TrustedPeer{{Addr: "192.0.2.1"}}, dialer)

	target, err := mgr.NextTarget(ctx)
	require.NoError(t, err)
	_, err = mgr.Connect(ctx, target)
	require.Error(t, err)

	// The failed address is inside its backoff window now, so a fresh
	// selection cycle skips it and reports exhaustion.
	_, err = mgr.NextTarget(ctx)
	require.ErrorIs(t, err, ErrEmptyPeerDatabase)
	_, err = mgr.NextTarget(ctx)
	require.ErrorIs(t, err, ErrEmptyPeerDatabase)
	require.Equal(t, 1, dialer.calls)
}

func TestGossipFiltersByService(t *testing.T) {
	ctx := context.Background()
	mgr, store := newTestManager(t, nil, nil)
	mgr.AddGossip(ctx, []AddrV2{
		{Addr: net.ParseIP("192.0.2.10"), Port: 18444, Services: ServiceCompactFilters},
		{Addr: net.ParseIP("192.0.2.11"), Port: 18444, Services: ServiceNetwork},
		{Port: 18444, Services: ServiceCompactFilters}, // unroutable network
	})
	n, err := store.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n, "only filter-serving addresses are kept")
}

func TestBanExcludesFromSampling(t *testing.T) {
	ctx := context.Background()
	mgr, store := newTestManager(t, nil, nil)
	rec := db.PeerRecord{Addr: "192.0.2.20", Port: 18444, Score: 10}
	require.NoError(t, store.Upsert(ctx, rec))

	mgr.Ban(ctx, rec)
	sample, err := store.Sample(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, sample)
}

func TestRecordSuccessBumpsScore(t *testing.T) {
	ctx := context.Background()
	mgr, store := newTestManager(t, nil, nil)
	rec := db.PeerRecord{Addr: "192.0.2.30", Port: 18444, Score: 3}
	require.NoError(t, store.Upsert(ctx, rec))

	mgr.RecordSuccess(ctx, rec, ServiceCompactFilters)
	sample, err := store.Sample(ctx, 1)
	require.NoError(t, err)
	require.Len(t, sample, 1)
	require.Equal(t, int32(4), sample[0].Score)
	require.Equal(t, uint64(ServiceCompactFilters), sample[0].Services)
	require.True(t, time.Now().After(sample[0].BannedUntil))
}

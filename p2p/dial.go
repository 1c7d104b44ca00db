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
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/lantern-btc/lantern/db"
	"github.com/lantern-btc/lantern/log"
	"github.com/lantern-btc/lantern/params"
)

// ErrEmptyPeerDatabase means every address source is exhausted: no trusted
// peers left to try, no usable records in the store, no DNS seeds.
var ErrEmptyPeerDatabase = errors.New("p2p: no peer addresses available")

const (
	dialTimeout = 10 * time.Second

	// Dial backoff schedule per address.
	backoffBase = 30 * time.Second
	backoffCap  = time.Hour

	// banDuration is the cool-down applied to banned peers.
	banDuration = 4 * time.Hour

	// seedSampleSize is how many store records one selection round
	// considers.
	seedSampleSize = 32
)

// TrustedPeer is an operator-declared peer tried before any discovered
// address.
type TrustedPeer struct {
	Addr     string
	Port     uint16 // zero means the network default
	Services uint64
}

// Dialer abstracts the stream transport so an anonymizing transport can be
// substituted for the clear-net default.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Manager selects dial targets and establishes connections. Selection
// priority: trusted peers, best-scored store records, DNS seeds, then
// addrv2 gossip (which lands in the store). Each address backs off
// exponentially between failed attempts.
type Manager struct {
	cfg    *params.Params
	store  db.PeerStore
	dialer Dialer
	lg     log.Logger

	mu        sync.Mutex
	trusted   []TrustedPeer
	attempted mapset.Set[string]
	backoffs  map[string]*addrBackoff
	seeded    bool
}

type addrBackoff struct {
	policy *backoff.ExponentialBackOff
	next   time.Time
}

// NewManager builds a dial scheduler over a peer store.
func NewManager(cfg *params.Params, store db.PeerStore, trusted []TrustedPeer, dialer Dialer, lg log.Logger) *Manager {
	if dialer == nil {
		dialer = &net.Dialer{Timeout: dialTimeout}
	}
	return &Manager{
		cfg:       cfg,
		store:     store,
		dialer:    dialer,
		lg:        lg.New("module", "dialer"),
		trusted:   trusted,
		attempted: mapset.NewThreadUnsafeSet[string](),
		backoffs:  make(map[string]*addrBackoff),
	}
}

func addrKey(addr string, port uint16) string {
	return net.JoinHostPort(addr, strconv.Itoa(int(port)))
}

// NextTarget picks the best address to dial, honoring per-address backoff.
// ErrEmptyPeerDatabase is returned when all sources are exhausted.
func (m *Manager) NextTarget(ctx context.Context) (db.PeerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextTargetLocked(ctx)
}

func (m *Manager) nextTargetLocked(ctx context.Context) (db.PeerRecord, error) {
	// Trusted peers first, each tried once per exhaustion cycle.
	for _, t := range m.trusted {
		port := t.Port
		if port == 0 {
			port = m.cfg.DefaultPort
		}
		key := addrKey(t.Addr, port)
		if m.attempted.Contains(key) || !m.dialable(key) {
			continue
		}
		m.attempted.Add(key)
		return db.PeerRecord{Addr: t.Addr, Port: port, Services: t.Services}, nil
	}
	// Stored peers by descending score.
	records, err := m.store.Sample(ctx, seedSampleSize)
	if err != nil {
		return db.PeerRecord{}, err
	}
	for _, rec := range records {
		key := addrKey(rec.Addr, rec.Port)
		if m.attempted.Contains(key) || !m.dialable(key) {
			continue
		}
		m.attempted.Add(key)
		return rec, nil
	}
	// DNS seeds, resolved once per exhaustion cycle and persisted so the
	// store becomes the source of record.
	if !m.seeded && len(m.cfg.DNSSeeds) > 0 {
		m.seeded = true
		if added := m.resolveSeeds(ctx); added > 0 {
			return m.nextTargetLocked(ctx)
		}
	}
	// One full round through every source: reset the attempted set so a
	// later cycle can retry, and report exhaustion.
	m.attempted.Clear()
	m.seeded = false
	return db.PeerRecord{}, ErrEmptyPeerDatabase
}

// resolveSeeds queries the network's DNS seeds and upserts the results.
func (m *Manager) resolveSeeds(ctx context.Context) int {
	added := 0
	for _, seed := range m.cfg.DNSSeeds {
		ips, err := net.DefaultResolver.LookupIP(ctx, "ip", seed)
		if err != nil {
			m.lg.Debug("DNS seed lookup failed", "seed", seed, "err", err)
			continue
		}
		for _, ip := range ips {
			rec := db.PeerRecord{Addr: ip.String(), Port: m.cfg.DefaultPort}
			if err := m.store.Upsert(ctx, rec); err == nil {
				added++
			}
		}
	}
	m.lg.Info("Resolved DNS seeds", "addresses", added)
	return added
}

// AddGossip persists addresses learned from addrv2 messages. Only peers
// advertising compact filter service are worth dialing.
func (m *Manager) AddGossip(ctx context.Context, addrs []AddrV2) {
	for _, a := range addrs {
		if a.Addr == nil || a.Services&ServiceCompactFilters == 0 {
			continue
		}
		rec := db.PeerRecord{Addr: a.Addr.String(), Port: a.Port, Services: a.Services}
		if err := m.store.Upsert(ctx, rec); err != nil {
			m.lg.Debug("Dropping gossiped address", "err", err)
			return
		}
	}
}

// dialable reports whether the address is past its backoff deadline.
func (m *Manager) dialable(key string) bool {
	bo, ok := m.backoffs[key]
	if !ok {
		return true
	}
	return time.Now().After(bo.next)
}

// Connect dials the record. On failure the address's backoff advances.
func (m *Manager) Connect(ctx context.Context, rec db.PeerRecord) (net.Conn, error) {
	key := addrKey(rec.Addr, rec.Port)
	conn, err := m.dialer.DialContext(ctx, "tcp", key)
	if err != nil {
		m.failed(key)
		return nil, fmt.Errorf("dial %s: %w", key, err)
	}
	m.mu.Lock()
	delete(m.backoffs, key)
	m.mu.Unlock()
	return conn, nil
}

func (m *Manager) failed(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bo, ok := m.backoffs[key]
	if !ok {
		policy := backoff.NewExponentialBackOff()
		policy.InitialInterval = backoffBase
		policy.MaxInterval = backoffCap
		policy.MaxElapsedTime = 0
		policy.Reset()
		bo = &addrBackoff{policy: policy}
		m.backoffs[key] = bo
	}
	bo.next = time.Now().Add(bo.policy.NextBackOff())
}

// RecordSuccess rewards a well-behaved session in the store.
func (m *Manager) RecordSuccess(ctx context.Context, rec db.PeerRecord, services uint64) {
	rec.Services = services
	if rec.Score < 1<<20 {
		rec.Score++
	}
	if err := m.store.Upsert(ctx, rec); err != nil {
		m.lg.Debug("Peer store update failed", "err", err)
	}
}

// Ban marks the peer banned for the standard cool-down.
func (m *Manager) Ban(ctx context.Context, rec db.PeerRecord) {
	until := time.Now().Add(banDuration)
	if err := m.store.MarkBanned(ctx, rec.Addr, rec.Port, until); err != nil {
		m.lg.Debug("Peer ban not persisted", "err", err)
	}
	m.lg.Warn("Peer banned", "addr", rec.Addr, "until", until)
}

// Downscore decrements the stored score after a transient failure.
func (m *Manager) Downscore(ctx context.Context, rec db.PeerRecord) {
	rec.Score--
	if err := m.store.Upsert(ctx, rec); err != nil {
		m.lg.Debug("Peer store update failed", "err", err)
	}
}

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

// Package memorydb provides in-memory store implementations used by tests
// and by nodes that opt out of persistence.
package memorydb

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/lantern-btc/lantern/common"
	"github.com/lantern-btc/lantern/core/types"
	"github.com/lantern-btc/lantern/db"
)

// HeaderStore is an ephemeral db.HeaderStore.
type HeaderStore struct {
	mu      sync.RWMutex
	headers map[uint32]*types.Header
	byHash  map[common.Hash]uint32
	closed  bool
}

// NewHeaderStore returns an empty in-memory header store.
func NewHeaderStore() *HeaderStore {
	return &HeaderStore{
		headers: make(map[uint32]*types.Header),
		byHash:  make(map[common.Hash]uint32),
	}
}

// LoadAfter implements db.HeaderStore.
func (s *HeaderStore) LoadAfter(_ context.Context, height uint32) ([]*types.Header, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, db.ErrClosed
	}
	heights := make([]uint32, 0, len(s.headers))
	for h := range s.headers {
		if h > height {
			heights = append(heights, h)
		}
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	out := make([]*types.Header, 0, len(heights))
	for i, h := range heights {
		// Stop at the first gap; anything above it is unreachable.
		if i > 0 && h != heights[i-1]+1 {
			break
		}
		out = append(out, s.headers[h])
	}
	return out, nil
}

// WriteBatch implements db.HeaderStore.
func (s *HeaderStore) WriteBatch(_ context.Context, startHeight uint32, headers []*types.Header) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return db.ErrClosed
	}
	for i, h := range headers {
		height := startHeight + uint32(i)
		if old, ok := s.headers[height]; ok {
			delete(s.byHash, old.Hash())
		}
		s.headers[height] = h
		s.byHash[h.Hash()] = height
	}
	return nil
}

// TruncateAbove implements db.HeaderStore.
func (s *HeaderStore) TruncateAbove(_ context.Context, height uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return db.ErrClosed
	}
	for h, hdr := range s.headers {
		if h > height {
			delete(s.byHash, hdr.Hash())
			delete(s.headers, h)
		}
	}
	return nil
}

// HeightOf implements db.HeaderStore.
func (s *HeaderStore) HeightOf(_ context.Context, hash common.Hash) (uint32, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, false, db.ErrClosed
	}
	h, ok := s.byHash[hash]
	return h, ok, nil
}

// Close implements db.HeaderStore.
func (s *HeaderStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type peerKey struct {
	addr string
	port uint16
}

// PeerStore is an ephemeral db.PeerStore with an optional capacity bound.
type PeerStore struct {
	mu     sync.RWMutex
	peers  map[peerKey]db.PeerRecord
	limit  int
	closed bool
}

// NewPeerStore returns an in-memory peer store. A limit of zero means
// unlimited.
func NewPeerStore(limit int) *PeerStore {
	return &PeerStore{peers: make(map[peerKey]db.PeerRecord), limit: limit}
}

// Upsert implements db.PeerStore.
func (s *PeerStore) Upsert(_ context.Context, rec db.PeerRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return db.ErrClosed
	}
	key := peerKey{rec.Addr, rec.Port}
	if _, exists := s.peers[key]; !exists && s.limit > 0 && len(s.peers) >= s.limit {
		// Evict the lowest scored entry to stay within the cap.
		var worst peerKey
		worstScore := int32(1<<31 - 1)
		for k, r := range s.peers {
			if r.Score < worstScore {
				worst, worstScore = k, r.Score
			}
		}
		if worstScore >= rec.Score {
			return nil
		}
		delete(s.peers, worst)
	}
	s.peers[key] = rec
	return nil
}

// Sample implements db.PeerStore.
func (s *PeerStore) Sample(_ context.Context, n int) ([]db.PeerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, db.ErrClosed
	}
	now := time.Now()
	out := make([]db.PeerRecord, 0, n)
	for _, r := range s.peers {
		if !r.Banned(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// MarkBanned implements db.PeerStore.
func (s *PeerStore) MarkBanned(_ context.Context, addr string, port uint16, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return db.ErrClosed
	}
	key := peerKey{addr, port}
	rec, ok := s.peers[key]
	if !ok {
		rec = db.PeerRecord{Addr: addr, Port: port}
	}
	rec.BannedUntil = until
	s.peers[key] = rec
	return nil
}

// Len implements db.PeerStore.
func (s *PeerStore) Len(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, db.ErrClosed
	}
	return len(s.peers), nil
}

// Close implements db.PeerStore.
func (s *PeerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

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

// Package pebbledb implements the persistence contracts on pebble, as an
// alternative to the goleveldb default.
package pebbledb

import (
	"context"
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/lantern-btc/lantern/common"
	"github.com/lantern-btc/lantern/core/types"
	"github.com/lantern-btc/lantern/db"
)

var (
	headerPrefix     = byte('h')
	headerHashPrefix = byte('H')
	peerPrefix       = byte('p')
)

// Store bundles both persistence contracts over one pebble handle.
type Store struct {
	mu sync.Mutex
	dB *pebble.DB
}

// Open opens or creates the database under path.
func Open(path string) (*Store, error) {
	pdb, err := pebble.Open(path, &pebble.Options{
		Cache:        pebble.NewCache(8 << 20),
		MaxOpenFiles: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Store{dB: pdb}, nil
}

// Headers returns the header store view.
func (s *Store) Headers() *HeaderStore { return &HeaderStore{s} }

// Peers returns the peer store view with the given capacity bound (zero
// means unlimited).
func (s *Store) Peers(limit int) *PeerStore { return &PeerStore{s: s, limit: limit} }

// Close closes the underlying database.
func (s *Store) Close() error { return s.dB.Close() }

func headerKey(height uint32) []byte {
	key := make([]byte, 5)
	key[0] = headerPrefix
	binary.BigEndian.PutUint32(key[1:], height)
	return key
}

func hashKey(hash common.Hash) []byte {
	return append([]byte{headerHashPrefix}, hash[:]...)
}

// HeaderStore implements db.HeaderStore.
type HeaderStore struct {
	s *Store
}

// LoadAfter implements db.HeaderStore.
func (h *HeaderStore) LoadAfter(_ context.Context, height uint32) ([]*types.Header, error) {
	it, err := h.s.dB.NewIter(&pebble.IterOptions{
		LowerBound: headerKey(height + 1),
		UpperBound: headerKey(^uint32(0)),
	})
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var (
		out  []*types.Header
		next uint32
	)
	for it.First(); it.Valid(); it.Next() {
		at := binary.BigEndian.Uint32(it.Key()[1:])
		if next == 0 {
			next = at
		}
		if at != next {
			break
		}
		hdr, err := types.HeaderFromBytes(it.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, hdr)
		next++
	}
	return out, it.Error()
}

// WriteBatch implements db.HeaderStore.
func (h *HeaderStore) WriteBatch(_ context.Context, startHeight uint32, headers []*types.Header) error {
	batch := h.s.dB.NewBatch()
	defer batch.Close()
	for i, hdr := range headers {
		height := startHeight + uint32(i)
		if old, closer, err := h.s.dB.Get(headerKey(height)); err == nil {
			if prior, err := types.HeaderFromBytes(old); err == nil {
				_ = batch.Delete(hashKey(prior.Hash()), nil)
			}
			closer.Close()
		}
		if err := batch.Set(headerKey(height), hdr.Bytes(), nil); err != nil {
			return err
		}
		var hv [4]byte
		binary.BigEndian.PutUint32(hv[:], height)
		if err := batch.Set(hashKey(hdr.Hash()), hv[:], nil); err != nil {
			return err
		}
	}
	return batch.Commit(pebble.Sync)
}

// TruncateAbove implements db.HeaderStore.
func (h *HeaderStore) TruncateAbove(_ context.Context, height uint32) error {
	it, err := h.s.dB.NewIter(&pebble.IterOptions{
		LowerBound: headerKey(height + 1),
		UpperBound: headerKey(^uint32(0)),
	})
	if err != nil {
		return err
	}
	defer it.Close()
	batch := h.s.dB.NewBatch()
	defer batch.Close()
	for it.First(); it.Valid(); it.Next() {
		if hdr, err := types.HeaderFromBytes(it.Value()); err == nil {
			_ = batch.Delete(hashKey(hdr.Hash()), nil)
		}
		_ = batch.Delete(append([]byte{}, it.Key()...), nil)
	}
	if err := it.Error(); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// HeightOf implements db.HeaderStore.
func (h *HeaderStore) HeightOf(_ context.Context, hash common.Hash) (uint32, bool, error) {
	raw, closer, err := h.s.dB.Get(hashKey(hash))
	if err == pebble.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	defer closer.Close()
	return binary.BigEndian.Uint32(raw), true, nil
}

// Close is a no-op; the shared Store owns the handle.
func (h *HeaderStore) Close() error { return nil }

// PeerStore implements db.PeerStore.
type PeerStore struct {
	s     *Store
	limit int
}

func peerKey(addr string, port uint16) []byte {
	key := make([]byte, 0, 1+len(addr)+3)
	key = append(key, peerPrefix)
	key = append(key, addr...)
	key = append(key, 0x00)
	var p [2]byte
	binary.BigEndian.PutUint16(p[:], port)
	return append(key, p[:]...)
}

func encodePeer(rec db.PeerRecord) []byte {
	v := make([]byte, 20)
	binary.BigEndian.PutUint64(v[0:8], rec.Services)
	binary.BigEndian.PutUint32(v[8:12], uint32(rec.Score))
	var banned int64
	if !rec.BannedUntil.IsZero() {
		banned = rec.BannedUntil.Unix()
	}
	binary.BigEndian.PutUint64(v[12:20], uint64(banned))
	return v
}

func decodePeer(key, val []byte) (db.PeerRecord, bool) {
	body := key[1:]
	sep := len(body) - 3
	if sep < 0 || body[sep] != 0x00 || len(val) < 20 {
		return db.PeerRecord{}, false
	}
	rec := db.PeerRecord{
		Addr:     string(body[:sep]),
		Port:     binary.BigEndian.Uint16(body[sep+1:]),
		Services: binary.BigEndian.Uint64(val[0:8]),
		Score:    int32(binary.BigEndian.Uint32(val[8:12])),
	}
	if banned := int64(binary.BigEndian.Uint64(val[12:20])); banned > 0 {
		rec.BannedUntil = time.Unix(banned, 0)
	}
	return rec, true
}

func (p *PeerStore) iterate(fn func(key, val []byte)) error {
	it, err := p.s.dB.NewIter(&pebble.IterOptions{
		LowerBound: []byte{peerPrefix},
		UpperBound: []byte{peerPrefix + 1},
	})
	if err != nil {
		return err
	}
	defer it.Close()
	for it.First(); it.Valid(); it.Next() {
		fn(it.Key(), it.Value())
	}
	return it.Error()
}

// Upsert implements db.PeerStore.
func (p *PeerStore) Upsert(_ context.Context, rec db.PeerRecord) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	key := peerKey(rec.Addr, rec.Port)
	if p.limit > 0 {
		if _, closer, err := p.s.dB.Get(key); err == pebble.ErrNotFound {
			var (
				n          int
				worstKey   []byte
				worstScore = int32(1<<31 - 1)
			)
			err := p.iterate(func(k, v []byte) {
				n++
				if r, ok := decodePeer(k, v); ok && r.Score < worstScore {
					worstScore = r.Score
					worstKey = append(worstKey[:0], k...)
				}
			})
			if err != nil {
				return err
			}
			if n >= p.limit {
				if worstKey == nil || worstScore >= rec.Score {
					return nil
				}
				if err := p.s.dB.Delete(worstKey, pebble.Sync); err != nil {
					return err
				}
			}
		} else if err == nil {
			closer.Close()
		}
	}
	return p.s.dB.Set(key, encodePeer(rec), pebble.Sync)
}

// Sample implements db.PeerStore.
func (p *PeerStore) Sample(_ context.Context, n int) ([]db.PeerRecord, error) {
	now := time.Now()
	var out []db.PeerRecord
	err := p.iterate(func(k, v []byte) {
		if rec, ok := decodePeer(k, v); ok && !rec.Banned(now) {
			out = append(out, rec)
		}
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// MarkBanned implements db.PeerStore.
func (p *PeerStore) MarkBanned(_ context.Context, addr string, port uint16, until time.Time) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	rec := db.PeerRecord{Addr: addr, Port: port}
	if raw, closer, err := p.s.dB.Get(peerKey(addr, port)); err == nil {
		if decoded, ok := decodePeer(peerKey(addr, port), raw); ok {
			rec = decoded
		}
		closer.Close()
	}
	rec.BannedUntil = until
	return p.s.dB.Set(peerKey(addr, port), encodePeer(rec), pebble.Sync)
}

// Len implements db.PeerStore.
func (p *PeerStore) Len(_ context.Context) (int, error) {
	n := 0
	err := p.iterate(func(k, v []byte) { n++ })
	return n, err
}

// Close is a no-op; the shared Store owns the handle.
func (p *PeerStore) Close() error { return nil }

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

// Package leveldb implements the persistence contracts on goleveldb. It is
// the default backend when a node is built with a data directory.
package leveldb

import (
	"context"
	"encoding/binary"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/lantern-btc/lantern/common"
	"github.com/lantern-btc/lantern/core/types"
	"github.com/lantern-btc/lantern/db"
)

// Key schema. Forward-only: readers tolerate unknown keys, the version is
// only ever incremented.
var (
	headerPrefix     = []byte("h") // h + be32(height) -> 80-byte header
	headerHashPrefix = []byte("H") // H + hash -> be32(height)
	peerPrefix       = []byte("p") // p + addr + 0x00 + be16(port) -> record
	schemaKey        = []byte("schema")
)

const schemaVersion = 1

// Store bundles a HeaderStore and PeerStore over one leveldb handle. The
// database is opened once per node lifetime.
type Store struct {
	mu sync.Mutex
	dB *leveldb.DB
}

// Open opens or creates the database under path.
func Open(path string) (*Store, error) {
	ldb, err := leveldb.OpenFile(path, &opt.Options{
		OpenFilesCacheCapacity: 64,
		BlockCacheCapacity:     8 * opt.MiB,
		WriteBuffer:            4 * opt.MiB,
		Filter:                 filter.NewBloomFilter(10),
	})
	if errors.IsCorrupted(err) {
		ldb, err = leveldb.RecoverFile(path, nil)
	}
	if err != nil {
		return nil, err
	}
	s := &Store{dB: ldb}
	if err := s.migrate(); err != nil {
		ldb.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	raw, err := s.dB.Get(schemaKey, nil)
	switch {
	case err == leveldb.ErrNotFound:
		var v [4]byte
		binary.BigEndian.PutUint32(v[:], schemaVersion)
		return s.dB.Put(schemaKey, v[:], nil)
	case err != nil:
		return err
	}
	if binary.BigEndian.Uint32(raw) > schemaVersion {
		return errors.New("leveldb: database schema is newer than this build")
	}
	return nil
}

// Headers returns the header store view.
func (s *Store) Headers() *HeaderStore { return &HeaderStore{s} }

// Peers returns the peer store view with the given capacity bound (zero
// means unlimited).
func (s *Store) Peers(limit int) *PeerStore { return &PeerStore{s: s, limit: limit} }

// Close closes the underlying database.
func (s *Store) Close() error { return s.dB.Close() }

func headerKey(height uint32) []byte {
	key := make([]byte, 1+4)
	key[0] = headerPrefix[0]
	binary.BigEndian.PutUint32(key[1:], height)
	return key
}

func hashKey(hash common.Hash) []byte {
	return append(append([]byte{}, headerHashPrefix...), hash[:]...)
}

// HeaderStore implements db.HeaderStore on the shared handle.
type HeaderStore struct {
	s *Store
}

// LoadAfter implements db.HeaderStore.
func (h *HeaderStore) LoadAfter(_ context.Context, height uint32) ([]*types.Header, error) {
	it := h.s.dB.NewIterator(&util.Range{Start: headerKey(height + 1), Limit: headerKey(^uint32(0))}, nil)
	defer it.Release()
	var (
		out  []*types.Header
		next uint32
	)
	for it.Next() {
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
	batch := new(leveldb.Batch)
	for i, hdr := range headers {
		height := startHeight + uint32(i)
		if old, err := h.s.dB.Get(headerKey(height), nil); err == nil {
			if prior, err := types.HeaderFromBytes(old); err == nil {
				batch.Delete(hashKey(prior.Hash()))
			}
		}
		batch.Put(headerKey(height), hdr.Bytes())
		var hv [4]byte
		binary.BigEndian.PutUint32(hv[:], height)
		batch.Put(hashKey(hdr.Hash()), hv[:])
	}
	return h.s.dB.Write(batch, &opt.WriteOptions{Sync: true})
}

// TruncateAbove implements db.HeaderStore.
func (h *HeaderStore) TruncateAbove(_ context.Context, height uint32) error {
	it := h.s.dB.NewIterator(&util.Range{Start: headerKey(height + 1), Limit: headerKey(^uint32(0))}, nil)
	defer it.Release()
	batch := new(leveldb.Batch)
	for it.Next() {
		if hdr, err := types.HeaderFromBytes(it.Value()); err == nil {
			batch.Delete(hashKey(hdr.Hash()))
		}
		batch.Delete(append([]byte{}, it.Key()...))
	}
	if err := it.Error(); err != nil {
		return err
	}
	return h.s.dB.Write(batch, &opt.WriteOptions{Sync: true})
}

// HeightOf implements db.HeaderStore.
func (h *HeaderStore) HeightOf(_ context.Context, hash common.Hash) (uint32, bool, error) {
	raw, err := h.s.dB.Get(hashKey(hash), nil)
	if err == leveldb.ErrNotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return binary.BigEndian.Uint32(raw), true, nil
}

// Close is a no-op; the shared Store owns the handle.
func (h *HeaderStore) Close() error { return nil }

// PeerStore implements db.PeerStore on the shared handle.
type PeerStore struct {
	s     *Store
	limit int
}

func peerKey(addr string, port uint16) []byte {
	key := make([]byte, 0, 1+len(addr)+3)
	key = append(key, peerPrefix...)
	key = append(key, addr...)
	key = append(key, 0x00)
	var p [2]byte
	binary.BigEndian.PutUint16(p[:], port)
	return append(key, p[:]...)
}

func encodePeer(rec db.PeerRecord) []byte {
	v := make([]byte, 8+4+8)
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

// Upsert implements db.PeerStore.
func (p *PeerStore) Upsert(ctx context.Context, rec db.PeerRecord) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	if p.limit > 0 {
		if _, err := p.s.dB.Get(peerKey(rec.Addr, rec.Port), nil); err == leveldb.ErrNotFound {
			n, err := p.lenLocked()
			if err != nil {
				return err
			}
			if n >= p.limit {
				if ok, err := p.evictWorst(rec.Score); err != nil || !ok {
					return err
				}
			}
		}
	}
	return p.s.dB.Put(peerKey(rec.Addr, rec.Port), encodePeer(rec), nil)
}

// evictWorst removes the lowest scored record if it scores below the
// incoming record, making room within the cap.
func (p *PeerStore) evictWorst(incoming int32) (bool, error) {
	it := p.s.dB.NewIterator(util.BytesPrefix(peerPrefix), nil)
	defer it.Release()
	var (
		worstKey   []byte
		worstScore = int32(1<<31 - 1)
	)
	for it.Next() {
		if rec, ok := decodePeer(it.Key(), it.Value()); ok && rec.Score < worstScore {
			worstScore = rec.Score
			worstKey = append(worstKey[:0], it.Key()...)
		}
	}
	if err := it.Error(); err != nil {
		return false, err
	}
	if worstKey == nil || worstScore >= incoming {
		return false, nil
	}
	return true, p.s.dB.Delete(worstKey, nil)
}

// Sample implements db.PeerStore.
func (p *PeerStore) Sample(_ context.Context, n int) ([]db.PeerRecord, error) {
	it := p.s.dB.NewIterator(util.BytesPrefix(peerPrefix), nil)
	defer it.Release()
	now := time.Now()
	var out []db.PeerRecord
	for it.Next() {
		if rec, ok := decodePeer(it.Key(), it.Value()); ok && !rec.Banned(now) {
			out = append(out, rec)
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// MarkBanned implements db.PeerStore.
func (p *PeerStore) MarkBanned(ctx context.Context, addr string, port uint16, until time.Time) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	rec := db.PeerRecord{Addr: addr, Port: port}
	if raw, err := p.s.dB.Get(peerKey(addr, port), nil); err == nil {
		if decoded, ok := decodePeer(peerKey(addr, port), raw); ok {
			rec = decoded
		}
	}
	rec.BannedUntil = until
	return p.s.dB.Put(peerKey(addr, port), encodePeer(rec), nil)
}

// Len implements db.PeerStore.
func (p *PeerStore) Len(_ context.Context) (int, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()
	return p.lenLocked()
}

func (p *PeerStore) lenLocked() (int, error) {
	it := p.s.dB.NewIterator(util.BytesPrefix(peerPrefix), nil)
	defer it.Release()
	n := 0
	for it.Next() {
		n++
	}
	return n, it.Error()
}

// Close is a no-op; the shared Store owns the handle.
func (p *PeerStore) Close() error { return nil }

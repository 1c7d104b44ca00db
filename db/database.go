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

// Package db defines the persistence contracts the node is parameterized
// over. Implementations live in the memorydb, leveldb and pebbledb
// subpackages.
package db

import (
	"context"
	"errors"
	"time"

	"github.com/lantern-btc/lantern/common"
	"github.com/lantern-btc/lantern/core/types"
)

// ErrClosed is returned by any operation on a closed store.
var ErrClosed = errors.New("db: store closed")

// HeaderStore persists the header chain above the configured anchor. Writes
// are transactional at batch granularity; a batch is either fully visible
// after WriteBatch returns or not at all.
type HeaderStore interface {
	// LoadAfter returns all persisted headers with height strictly above
	// the given height, ascending and contiguous.
	LoadAfter(ctx context.Context, height uint32) ([]*types.Header, error)

	// WriteBatch appends headers such that headers[i] is stored at
	// startHeight+i, replacing any prior entries at those heights.
	WriteBatch(ctx context.Context, startHeight uint32, headers []*types.Header) error

	// TruncateAbove removes every header with height strictly above the
	// given height. Used when a reorganization shortens the chain.
	TruncateAbove(ctx context.Context, height uint32) error

	// HeightOf resolves a block hash to its stored height.
	HeightOf(ctx context.Context, hash common.Hash) (uint32, bool, error)

	Close() error
}

// PeerRecord is one address book entry.
type PeerRecord struct {
	Addr        string // IP address or onion host
	Port        uint16
	Services    uint64
	Score       int32
	BannedUntil time.Time
}

// Banned reports whether the record is currently banned.
func (r PeerRecord) Banned(now time.Time) bool {
	return r.BannedUntil.After(now)
}

// PeerStore persists the peer address book across runs.
type PeerStore interface {
	// Upsert inserts or replaces the record keyed by (Addr, Port).
	Upsert(ctx context.Context, rec PeerRecord) error

	// Sample returns up to n records, preferring higher scores and
	// excluding currently banned entries.
	Sample(ctx context.Context, n int) ([]PeerRecord, error)

	// MarkBanned sets the ban deadline on the record, creating it if
	// missing.
	MarkBanned(ctx context.Context, addr string, port uint16, until time.Time) error

	// Len reports the number of records, banned included.
	Len(ctx context.Context) (int, error)

	Close() error
}

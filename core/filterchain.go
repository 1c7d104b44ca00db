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

package core

import (
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gammazero/deque"
	lru "github.com/hashicorp/golang-lru"

	"github.com/lantern-btc/lantern/common"
	"github.com/lantern-btc/lantern/core/gcs"
	"github.com/lantern-btc/lantern/log"
)

const (
	// MaxFilterHeadersPerBatch is the protocol limit on a cfheaders
	// message.
	MaxFilterHeadersPerBatch = 2000

	// FilterWindow is how many filters are requested per getcfilters
	// dispatch.
	FilterWindow = 1000

	// filterCacheSize bounds the cache of decoded filters kept for
	// rescans without refetching.
	filterCacheSize = 2048
)

// FilterChain walks the filter header chain and the filters above the
// anchor, verifies their linkage against the committed filter headers, and
// queues block downloads for filters matching the watched script set.
type FilterChain struct {
	mu sync.Mutex
	hc *HeaderChain
	lg log.Logger

	scripts mapset.Set[string]

	anchor        uint32
	filterHeaders map[uint32]common.Hash
	headerCursor  uint32 // highest height with a committed filter header
	filterCursor  uint32 // highest height whose filter has been evaluated

	filters *lru.Cache // height -> *gcs.Filter, for rescans
	matched *deque.Deque[uint32]
}

// NewFilterChain builds the filter engine over a header chain. The scan
// anchor is the header chain's anchor.
func NewFilterChain(hc *HeaderChain, scripts [][]byte, lg log.Logger) *FilterChain {
	cache, _ := lru.New(filterCacheSize)
	fc := &FilterChain{
		hc:            hc,
		lg:            lg.New("engine", "filters"),
		scripts:       mapset.NewThreadUnsafeSet[string](),
		anchor:        hc.Anchor().Height,
		filterHeaders: make(map[uint32]common.Hash),
		headerCursor:  hc.Anchor().Height,
		filterCursor:  hc.Anchor().Height,
		filters:       cache,
		matched:       deque.New[uint32](),
	}
	for _, s := range scripts {
		fc.scripts.Add(string(s))
	}
	return fc
}

// AddScripts extends the watched script set and rewinds the filter cursor
// to the anchor so every prior filter is re-evaluated against the new
// scripts exactly once.
func (fc *FilterChain) AddScripts(scripts [][]byte) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	added := false
	for _, s := range scripts {
		if fc.scripts.Add(string(s)) {
			added = true
		}
	}
	if added {
		fc.rescanLocked()
	}
}

// Rescan rewinds the filter cursor to the anchor unconditionally.
func (fc *FilterChain) Rescan() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.rescanLocked()
}

// rescanLocked drops queued matches and rewinds the filter cursor to the
// anchor; NextFilterRange then re-evaluates cached filters and refetches
// uncached heights.
func (fc *FilterChain) rescanLocked() {
	fc.matched.Clear()
	fc.filterCursor = fc.anchor
	fc.lg.Info("Rescanning filters", "from", fc.anchor)
}

// ScriptCount returns the number of watched scripts.
func (fc *FilterChain) ScriptCount() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.scripts.Cardinality()
}

// HeaderCursor returns the highest height with a committed filter header.
func (fc *FilterChain) HeaderCursor() uint32 {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.headerCursor
}

// FilterCursor returns the highest height whose filter has been evaluated.
func (fc *FilterChain) FilterCursor() uint32 {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.filterCursor
}

// HeadersSynced reports whether the filter header chain has reached the
// header tip.
func (fc *FilterChain) HeadersSynced() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.headerCursor >= fc.hc.Height()
}

// FiltersSynced reports whether every filter up to the header tip has been
// evaluated.
func (fc *FilterChain) FiltersSynced() bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.filterCursor >= fc.hc.Height()
}

// NextFilterHeaderRange returns the parameters of the next getcfheaders
// dispatch: the start height and the stop hash at most
// MaxFilterHeadersPerBatch above it. ok is false when the filter header
// chain has reached the tip.
func (fc *FilterChain) NextFilterHeaderRange() (start uint32, stopHash common.Hash, ok bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	tip := fc.hc.Height()
	if fc.headerCursor >= tip {
		return 0, common.Hash{}, false
	}
	start = fc.headerCursor + 1
	stop := start + MaxFilterHeadersPerBatch - 1
	if stop > tip {
		stop = tip
	}
	stopHash, _ = fc.hc.HashAt(stop)
	return start, stopHash, true
}

// NextFilterRange returns the parameters of the next getcfilters dispatch,
// bounded by the committed filter headers. ok is false when the filter
// cursor has caught up.
func (fc *FilterChain) NextFilterRange() (start uint32, stopHash common.Hash, ok bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	for fc.filterCursor < fc.headerCursor {
		next := fc.filterCursor + 1
		if cached, okc := fc.filters.Get(next); okc {
			// A rescan walks cache hits without another round trip.
			if err := fc.evaluateLocked(next, cached.(*gcs.Filter)); err == nil {
				fc.filterCursor = next
				continue
			}
		}
		break
	}
	if fc.filterCursor >= fc.headerCursor {
		return 0, common.Hash{}, false
	}
	start = fc.filterCursor + 1
	stop := start + FilterWindow - 1
	if stop > fc.headerCursor {
		stop = fc.headerCursor
	}
	stopHash, _ = fc.hc.HashAt(stop)
	return start, stopHash, true
}

// IngestFilterHeaders verifies and commits a cfheaders response covering
// heights [startHeight, startHeight+len(filterHashes)-1]. previous is the
// filter header preceding the range as claimed by the peer; it must match
// the committed chain except on the very first batch above the anchor,
// where it is adopted.
func (fc *FilterChain) IngestFilterHeaders(startHeight uint32, previous common.Hash, filterHashes []common.Hash) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if startHeight != fc.headerCursor+1 {
		return fmt.Errorf("%w: batch starts at %d, cursor at %d", ErrFilterLinkage, startHeight, fc.headerCursor)
	}
	if len(filterHashes) == 0 {
		return fmt.Errorf("%w: empty batch", ErrFilterLinkage)
	}
	if stop := startHeight + uint32(len(filterHashes)) - 1; stop > fc.hc.Height() {
		return fmt.Errorf("%w: batch ends at %d beyond tip %d", ErrFilterLinkage, stop, fc.hc.Height())
	}
	if fc.headerCursor == fc.anchor {
		// First batch above the anchor: the preceding filter header
		// cannot be derived locally and is adopted from the peer.
		fc.filterHeaders[fc.anchor] = previous
	} else if committed := fc.filterHeaders[fc.headerCursor]; committed != previous {
		return fmt.Errorf("%w: previous filter header mismatch at %d", ErrFilterLinkage, fc.headerCursor)
	}
	prev := fc.filterHeaders[fc.headerCursor]
	for i, fh := range filterHashes {
		prev = foldFilterHeader(fh, prev)
		fc.filterHeaders[startHeight+uint32(i)] = prev
	}
	fc.headerCursor = startHeight + uint32(len(filterHashes)) - 1
	return nil
}

// IngestFilter verifies a cfilter payload against the committed filter
// header at its height, evaluates it against the script set, and advances
// the filter cursor.
func (fc *FilterChain) IngestFilter(height uint32, blockHash common.Hash, filterBytes []byte) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if height > fc.headerCursor {
		return fmt.Errorf("%w: filter at %d beyond committed headers", ErrFilterLinkage, height)
	}
	want, okc := fc.filterHeaders[height]
	prev, okp := fc.filterHeaders[height-1]
	if !okc || !okp {
		return fmt.Errorf("%w: no committed filter header at %d", ErrFilterLinkage, height)
	}
	if chainHash, ok := fc.hc.HashAt(height); !ok || chainHash != blockHash {
		return fmt.Errorf("%w: filter block hash off-chain at %d", ErrFilterLinkage, height)
	}
	filterHash := common.DoubleHash(filterBytes)
	if foldFilterHeader(filterHash, prev) != want {
		return fmt.Errorf("%w: filter hash mismatch at %d", ErrFilterLinkage, height)
	}
	filter, err := gcs.FromBytes(filterBytes)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrFilterLinkage, err)
	}
	fc.filters.Add(height, filter)
	if err := fc.evaluateLocked(height, filter); err != nil {
		return err
	}
	if height > fc.filterCursor {
		fc.filterCursor = height
	}
	return nil
}

// evaluateLocked tests a verified filter against the script set and queues
// a block download on a match.
func (fc *FilterChain) evaluateLocked(height uint32, filter *gcs.Filter) error {
	if fc.scripts.Cardinality() == 0 {
		return nil
	}
	blockHash, ok := fc.hc.HashAt(height)
	if !ok {
		return fmt.Errorf("%w: no block hash at %d", ErrFilterLinkage, height)
	}
	queries := make([][]byte, 0, fc.scripts.Cardinality())
	fc.scripts.Each(func(s string) bool {
		queries = append(queries, []byte(s))
		return false
	})
	match, err := filter.MatchAny(gcs.KeyFromBlockHash(blockHash), queries)
	if err != nil {
		return err
	}
	if match {
		fc.lg.Debug("Filter matched", "height", height, "block", blockHash)
		fc.matched.PushBack(height)
	}
	return nil
}

// MatchesScripts tests a downloaded block's output scripts against the
// watched set, used to annotate relevant transactions.
func (fc *FilterChain) MatchesScripts(script []byte) bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.scripts.Contains(string(script))
}

// PopMatched dequeues the next height whose block should be downloaded.
// Heights come out in ascending order.
func (fc *FilterChain) PopMatched() (uint32, bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.matched.Len() == 0 {
		return 0, false
	}
	return fc.matched.PopFront(), true
}

// RequeueMatch puts a height back at the front of the download queue,
// preserving ascending emission order after a failed dispatch.
func (fc *FilterChain) RequeueMatch(height uint32) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.matched.PushFront(height)
}

// PendingMatches returns the number of queued block downloads.
func (fc *FilterChain) PendingMatches() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.matched.Len()
}

// Rollback discards filter state above the given height after a chain
// reorganization.
func (fc *FilterChain) Rollback(height uint32) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if height < fc.anchor {
		// The header chain re-rooted below the configured anchor.
		fc.anchor = height
	}
	for h := range fc.filterHeaders {
		if h > height {
			delete(fc.filterHeaders, h)
			fc.filters.Remove(h)
		}
	}
	if fc.headerCursor > height {
		fc.headerCursor = height
	}
	if fc.filterCursor > height {
		fc.filterCursor = height
	}
	// Queued matches above the rollback point reference orphaned blocks.
	kept := deque.New[uint32]()
	for fc.matched.Len() > 0 {
		if h := fc.matched.PopFront(); h <= height {
			kept.PushBack(h)
		}
	}
	fc.matched = kept
}

// RestartHeaders rewinds the filter header cursor so the filter header
// phase is re-run from the anchor. Used when headers arrive mid filter
// sync; refetching is the conservative behavior.
func (fc *FilterChain) RestartHeaders() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.filterHeaders = make(map[uint32]common.Hash)
	fc.headerCursor = fc.anchor
	fc.filterCursor = fc.anchor
	fc.matched.Clear()
}

// foldFilterHeader chains a filter hash onto the previous filter header:
// double-SHA256(filter_hash || prev_header).
func foldFilterHeader(filterHash, prev common.Hash) common.Hash {
	var concat [2 * common.HashLength]byte
	copy(concat[:common.HashLength], filterHash[:])
	copy(concat[common.HashLength:], prev[:])
	return common.DoubleHash(concat[:])
}

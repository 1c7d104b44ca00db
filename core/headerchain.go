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

// Package core implements the two chain engines of the light client: the
// best-work header chain and the compact filter chain layered on top of it.
package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/lantern-btc/lantern/common"
	"github.com/lantern-btc/lantern/core/types"
	"github.com/lantern-btc/lantern/db"
	"github.com/lantern-btc/lantern/log"
	"github.com/lantern-btc/lantern/params"
)

const (
	// ReorgDepth is how far below the tip a fork may root and still be
	// evaluated. Deeper forks are discarded and the sender downscored.
	ReorgDepth = 10

	// MaxHeadersPerBatch is the protocol limit on a headers message.
	MaxHeadersPerBatch = 2000

	// recentHistoryLen is how many trailing headers a SyncUpdate carries.
	recentHistoryLen = 10
)

// IngestStatus classifies the outcome of a header batch ingestion.
type IngestStatus byte

const (
	// StatusExtended means the batch appended to the active tip. The
	// count may be zero when every header was already known.
	StatusExtended IngestStatus = iota
	// StatusFork means a candidate fork was created or extended but has
	// not overtaken the active chain.
	StatusFork
	// StatusReorged means a candidate fork overtook the active chain and
	// is now the active suffix.
	StatusReorged
	// StatusRejected means the batch was refused; Reason carries why.
	StatusRejected
)

// IngestResult reports what a header batch did to the chain.
type IngestResult struct {
	Status       IngestStatus
	Extended     int                  // headers newly on the active chain
	ForkRoot     uint32               // common ancestor height for fork or reorg
	Disconnected []DisconnectedHeader // former active suffix, ascending, old tip last
	Reason       error                // populated when Status == StatusRejected
}

// candidateFork tracks the single competing suffix under evaluation.
type candidateFork struct {
	root    uint32 // height of the common ancestor on the active chain
	headers []*types.Header
	work    *uint256.Int // cumulative work of the fork headers
	touched bool         // extended since the last commit
}

func (f *candidateFork) tipHash() common.Hash {
	return f.headers[len(f.headers)-1].Hash()
}

// HeaderChain holds the active header chain rooted at an anchor checkpoint,
// evaluates forks within ReorgDepth of the tip, and persists committed
// headers through a db.HeaderStore. All mutation happens on the node task;
// the lock exists for snapshot reads served to requesters.
type HeaderChain struct {
	mu  sync.RWMutex
	cfg *params.Params
	ver HeaderVerifier
	dB  db.HeaderStore
	lg  log.Logger

	anchor  params.Checkpoint
	headers []*types.Header // heights anchor.Height+1 .. anchor.Height+len
	index   map[common.Hash]uint32
	work    *uint256.Int // cumulative work above the anchor

	candidate *candidateFork

	persistedTo     uint32
	truncatePending bool
	truncateTo      uint32
}

// NewHeaderChain loads any persisted headers above the anchor and verifies
// their linkage. A store whose headers do not link returns
// ErrCorruptedHeaders; a store whose first header does not meet the anchor
// returns ErrUnlinkableAnchor.
func NewHeaderChain(ctx context.Context, store db.HeaderStore, cfg *params.Params, ver HeaderVerifier, anchor params.Checkpoint, lg log.Logger) (*HeaderChain, error) {
	hc := &HeaderChain{
		cfg:         cfg,
		ver:         ver,
		dB:          store,
		lg:          lg.New("engine", "headers"),
		anchor:      anchor,
		index:       make(map[common.Hash]uint32),
		work:        uint256.NewInt(0),
		persistedTo: anchor.Height,
	}
	loaded, err := store.LoadAfter(ctx, anchor.Height)
	if err != nil {
		return nil, err
	}
	for i, hdr := range loaded {
		if i == 0 {
			if hdr.PrevBlock != anchor.Hash {
				return nil, ErrUnlinkableAnchor
			}
		} else if hdr.PrevBlock != loaded[i-1].Hash() {
			return nil, ErrCorruptedHeaders
		}
		hc.headers = append(hc.headers, hdr)
		hc.index[hdr.Hash()] = anchor.Height + uint32(i) + 1
		hc.work.Add(hc.work, hdr.Work())
	}
	hc.persistedTo = anchor.Height + uint32(len(loaded))
	if len(loaded) > 0 {
		hc.lg.Info("Loaded header chain", "anchor", anchor.Height, "tip", hc.heightLocked())
	}
	return hc, nil
}

// Anchor returns the anchor checkpoint the chain is rooted at.
func (hc *HeaderChain) Anchor() params.Checkpoint {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.anchor
}

func (hc *HeaderChain) heightLocked() uint32 {
	return hc.anchor.Height + uint32(len(hc.headers))
}

func (hc *HeaderChain) tipHashLocked() common.Hash {
	if len(hc.headers) == 0 {
		return hc.anchor.Hash
	}
	return hc.headers[len(hc.headers)-1].Hash()
}

// Height returns the height of the active tip.
func (hc *HeaderChain) Height() uint32 {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return hc.heightLocked()
}

// Tip returns the active tip as a checkpoint.
func (hc *HeaderChain) Tip() params.Checkpoint {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return params.Checkpoint{Height: hc.heightLocked(), Hash: hc.tipHashLocked()}
}

// headerAtLocked returns the active header at the height, nil at or below
// the anchor or above the tip.
func (hc *HeaderChain) headerAtLocked(height uint32) *types.Header {
	if height <= hc.anchor.Height || height > hc.heightLocked() {
		return nil
	}
	return hc.headers[height-hc.anchor.Height-1]
}

// HeaderAt returns a copy of the active header at the height.
func (hc *HeaderChain) HeaderAt(height uint32) (types.Header, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	hdr := hc.headerAtLocked(height)
	if hdr == nil {
		return types.Header{}, false
	}
	return hdr.Copy(), true
}

// HashAt returns the block hash at the height. The anchor height resolves
// to the anchor hash.
func (hc *HeaderChain) HashAt(height uint32) (common.Hash, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	if height == hc.anchor.Height {
		return hc.anchor.Hash, true
	}
	hdr := hc.headerAtLocked(height)
	if hdr == nil {
		return common.Hash{}, false
	}
	return hdr.Hash(), true
}

// HeightOf resolves a hash on the active chain to its height.
func (hc *HeaderChain) HeightOf(hash common.Hash) (uint32, bool) {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	if hash == hc.anchor.Hash {
		return hc.anchor.Height, true
	}
	h, ok := hc.index[hash]
	return h, ok
}

// Range returns copies of the active headers with heights in [start, stop).
// An empty slice is returned when start is at or above the tip height.
func (hc *HeaderChain) Range(start, stop uint32) []types.Header {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	tip := hc.heightLocked()
	if start >= tip || start >= stop {
		return nil
	}
	if stop > tip+1 {
		stop = tip + 1
	}
	out := make([]types.Header, 0, stop-start)
	for h := start; h < stop; h++ {
		hdr := hc.headerAtLocked(h)
		if hdr == nil {
			continue
		}
		out = append(out, hdr.Copy())
	}
	return out
}

// CumulativeWork returns the total work of the active chain above the
// anchor.
func (hc *HeaderChain) CumulativeWork() *uint256.Int {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return new(uint256.Int).Set(hc.work)
}

// RecentHistory returns the last up to ten active headers keyed by height.
func (hc *HeaderChain) RecentHistory() map[uint32]types.Header {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	out := make(map[uint32]types.Header, recentHistoryLen)
	tip := hc.heightLocked()
	for i := 0; i < recentHistoryLen; i++ {
		h := tip - uint32(i)
		hdr := hc.headerAtLocked(h)
		if hdr == nil {
			break
		}
		out[h] = hdr.Copy()
	}
	return out
}

// Locator builds a block locator for getheaders: the last ten hashes
// densely, then exponentially sparser back to the anchor.
func (hc *HeaderChain) Locator() []common.Hash {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	var locator []common.Hash
	tip := hc.heightLocked()
	step := uint32(1)
	for h := tip; h > hc.anchor.Height; {
		hdr := hc.headerAtLocked(h)
		if hdr == nil {
			break
		}
		locator = append(locator, hdr.Hash())
		if len(locator) >= recentHistoryLen {
			step *= 2
		}
		if h <= hc.anchor.Height+step {
			break
		}
		h -= step
	}
	return append(locator, hc.anchor.Hash)
}

// Ingest applies a contiguous header batch to the chain. The batch may
// extend the tip, create or extend the candidate fork, trigger a
// reorganization, or be rejected. Rejection is reported in the result
// rather than as an error; errors are reserved for internal failures.
func (hc *HeaderChain) Ingest(ctx context.Context, batch []*types.Header) IngestResult {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if len(batch) == 0 {
		return IngestResult{Status: StatusRejected, Reason: ErrEmptyBatch}
	}
	for i := 1; i < len(batch); i++ {
		if batch[i].PrevBlock != batch[i-1].Hash() {
			return IngestResult{Status: StatusRejected, Reason: ErrDiscontinuousBatch}
		}
	}
	// Drop the prefix of headers already on the active chain, making
	// duplicate deliveries a no-op.
	for len(batch) > 0 {
		if _, known := hc.index[batch[0].Hash()]; !known {
			break
		}
		batch = batch[1:]
	}
	if len(batch) == 0 {
		return IngestResult{Status: StatusExtended, Extended: 0}
	}

	first := batch[0]
	tip := hc.heightLocked()
	switch {
	case first.PrevBlock == hc.tipHashLocked():
		return hc.extendActive(batch)
	case hc.candidate != nil && first.PrevBlock == hc.candidate.tipHash():
		return hc.growCandidate(hc.candidate.root, append(append([]*types.Header{}, hc.candidate.headers...), batch...), len(batch))
	default:
		root, ok := hc.lookupLocked(first.PrevBlock)
		if !ok {
			// A configured anchor may itself have been orphaned while
			// the node was offline. When the chain above the anchor is
			// empty and the batch connects to persisted history just
			// below it, re-root rather than reject.
			if len(hc.headers) == 0 {
				if res, handled := hc.rerootLocked(ctx, batch); handled {
					return res
				}
			}
			return IngestResult{Status: StatusRejected, Reason: ErrUnknownPrevious}
		}
		if tip-root > ReorgDepth {
			return IngestResult{Status: StatusRejected, Reason: fmt.Errorf("%w: root %d tip %d", ErrForkTooDeep, root, tip)}
		}
		return hc.growCandidate(root, batch, len(batch))
	}
}

func (hc *HeaderChain) lookupLocked(hash common.Hash) (uint32, bool) {
	if hash == hc.anchor.Hash {
		return hc.anchor.Height, true
	}
	h, ok := hc.index[hash]
	return h, ok
}

// extendActive verifies and appends headers on top of the current tip.
func (hc *HeaderChain) extendActive(batch []*types.Header) IngestResult {
	appended := 0
	for _, hdr := range batch {
		height := hc.heightLocked() + 1
		prev := hc.headerAtLocked(height - 1)
		if err := hc.ver.Verify(hdr, height, prev, hc.headerAtLocked); err != nil {
			if appended > 0 {
				// Keep the valid prefix; reject the remainder.
				return IngestResult{Status: StatusRejected, Extended: appended, Reason: err}
			}
			return IngestResult{Status: StatusRejected, Reason: err}
		}
		hc.headers = append(hc.headers, hdr)
		hc.index[hdr.Hash()] = height
		hc.work.Add(hc.work, hdr.Work())
		appended++
	}
	return IngestResult{Status: StatusExtended, Extended: appended}
}

// growCandidate installs forkHeaders (the complete fork from root) as the
// candidate, replacing a lower-work existing candidate, and switches the
// active chain when the fork's work exceeds the active suffix's.
func (hc *HeaderChain) growCandidate(root uint32, forkHeaders []*types.Header, fresh int) IngestResult {
	// Verify only the newly delivered suffix; the retained prefix was
	// verified when it was first installed.
	forkView := func(h uint32) *types.Header {
		if h > root {
			idx := int(h - root - 1)
			if idx < len(forkHeaders) {
				return forkHeaders[idx]
			}
			return nil
		}
		return hc.headerAtLocked(h)
	}
	for i := len(forkHeaders) - fresh; i < len(forkHeaders); i++ {
		height := root + uint32(i) + 1
		prev := forkView(height - 1)
		if err := hc.ver.Verify(forkHeaders[i], height, prev, forkView); err != nil {
			return IngestResult{Status: StatusRejected, Reason: err}
		}
	}
	work := uint256.NewInt(0)
	for _, hdr := range forkHeaders {
		work.Add(work, hdr.Work())
	}
	incoming := &candidateFork{root: root, headers: forkHeaders, work: work, touched: true}

	if hc.candidate != nil && hc.candidate.tipHash() != incoming.tipHash() {
		// Only one candidate is tracked; the lower-work one is dropped.
		if hc.candidate.work.Gt(incoming.work) {
			hc.candidate.touched = true
			return IngestResult{Status: StatusFork, ForkRoot: hc.candidate.root}
		}
	}
	hc.candidate = incoming

	if incoming.work.Gt(hc.workAboveLocked(root)) {
		return hc.switchToCandidate()
	}
	hc.lg.Info("Evaluating fork", "root", root, "length", len(forkHeaders))
	return IngestResult{Status: StatusFork, ForkRoot: root}
}

// rerootLocked moves the anchor down to persisted history when the
// configured anchor was orphaned: the stored headers between the new root
// and the old anchor become disconnected, and the batch extends the fresh
// root. Only roots within ReorgDepth of the stale anchor qualify.
func (hc *HeaderChain) rerootLocked(ctx context.Context, batch []*types.Header) (IngestResult, bool) {
	// The peer answers a locator it cannot match with headers from far
	// back; the tail of the shared prefix is the fork point.
	root, fresh, ok := hc.forkPointInStore(ctx, batch)
	if !ok || root >= hc.anchor.Height || hc.anchor.Height-root > ReorgDepth || len(fresh) == 0 {
		return IngestResult{}, false
	}
	batch = fresh
	orphaned, err := hc.dB.LoadAfter(ctx, root)
	if err != nil {
		return IngestResult{}, false
	}
	var disconnected []DisconnectedHeader
	for i, hdr := range orphaned {
		disconnected = append(disconnected, DisconnectedHeader{
			Height: root + uint32(i) + 1,
			Header: hdr.Copy(),
		})
	}
	hc.lg.Warn("Anchor orphaned, re-rooting", "anchor", hc.anchor.Height, "root", root)
	hc.anchor = params.Checkpoint{Height: root, Hash: batch[0].PrevBlock}
	hc.headers = nil
	hc.index = make(map[common.Hash]uint32)
	hc.work = uint256.NewInt(0)
	hc.candidate = nil
	hc.persistedTo = root
	hc.truncatePending = true
	hc.truncateTo = root

	res := hc.extendActive(batch)
	if res.Status == StatusRejected && res.Extended == 0 {
		return res, true
	}
	return IngestResult{
		Status:       StatusReorged,
		Extended:     res.Extended,
		ForkRoot:     root,
		Disconnected: disconnected,
	}, true
}

// forkPointInStore locates where a batch meets the persisted history:
// either the highest batch header already stored, or the stored header the
// batch's first header builds on. Returns the fork height and the batch
// suffix beyond it.
func (hc *HeaderChain) forkPointInStore(ctx context.Context, batch []*types.Header) (uint32, []*types.Header, bool) {
	var root uint32
	if h, ok, err := hc.dB.HeightOf(ctx, batch[0].PrevBlock); err == nil && ok {
		root = h
	} else if batch[0].PrevBlock == hc.cfg.GenesisHash {
		// The shared prefix starts at genesis, which is never stored.
		root = 0
	} else {
		return 0, nil, false
	}
	fresh := batch
	for len(fresh) > 0 {
		at, known, err := hc.dB.HeightOf(ctx, fresh[0].Hash())
		if err != nil || !known || at != root+1 {
			break
		}
		root, fresh = at, fresh[1:]
	}
	return root, fresh, true
}

// workAboveLocked sums the work of active headers with height > root.
func (hc *HeaderChain) workAboveLocked(root uint32) *uint256.Int {
	work := uint256.NewInt(0)
	for h := root + 1; h <= hc.heightLocked(); h++ {
		work.Add(work, hc.headerAtLocked(h).Work())
	}
	return work
}

// switchToCandidate atomically replaces the active suffix above the
// candidate's root with the candidate headers. The disconnected suffix is
// reported ascending, the old tip last.
func (hc *HeaderChain) switchToCandidate() IngestResult {
	fork := hc.candidate
	hc.candidate = nil

	var disconnected []DisconnectedHeader
	for h := fork.root + 1; h <= hc.heightLocked(); h++ {
		hdr := hc.headerAtLocked(h)
		disconnected = append(disconnected, DisconnectedHeader{Height: h, Header: hdr.Copy()})
	}
	for _, d := range disconnected {
		delete(hc.index, d.Header.Hash())
		hc.work.Sub(hc.work, d.Header.Work())
	}
	hc.headers = hc.headers[:fork.root-hc.anchor.Height]

	for i, hdr := range fork.headers {
		height := fork.root + uint32(i) + 1
		hc.headers = append(hc.headers, hdr)
		hc.index[hdr.Hash()] = height
		hc.work.Add(hc.work, hdr.Work())
	}
	if hc.persistedTo > fork.root {
		hc.truncatePending = true
		hc.truncateTo = fork.root
		hc.persistedTo = fork.root
	}
	hc.lg.Warn("Chain reorganized", "root", fork.root, "disconnected", len(disconnected), "tip", hc.heightLocked())
	return IngestResult{
		Status:       StatusReorged,
		Extended:     len(fork.headers),
		ForkRoot:     fork.root,
		Disconnected: disconnected,
	}
}

// Commit persists appended headers and applies any pending truncation in a
// single serialized pass. A candidate fork that was not extended since the
// previous commit is evicted.
func (hc *HeaderChain) Commit(ctx context.Context) error {
	hc.mu.Lock()
	defer hc.mu.Unlock()

	if hc.candidate != nil {
		if !hc.candidate.touched {
			hc.lg.Debug("Evicting stale fork", "root", hc.candidate.root)
			hc.candidate = nil
		} else {
			hc.candidate.touched = false
		}
	}
	if hc.truncatePending {
		if err := hc.dB.TruncateAbove(ctx, hc.truncateTo); err != nil {
			return err
		}
		hc.truncatePending = false
	}
	tip := hc.heightLocked()
	if tip <= hc.persistedTo {
		return nil
	}
	start := hc.persistedTo + 1
	pending := hc.headers[start-hc.anchor.Height-1:]
	if err := hc.dB.WriteBatch(ctx, start, pending); err != nil {
		return err
	}
	hc.persistedTo = tip
	return nil
}

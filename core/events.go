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
	"github.com/lantern-btc/lantern/core/types"
	"github.com/lantern-btc/lantern/params"
)

// DisconnectedHeader is a header removed from the active chain by a
// reorganization, paired with the height it used to occupy.
type DisconnectedHeader struct {
	Height uint32
	Header types.Header
}

// IndexedBlock is a downloaded block paired with its chain height. Blocks
// are only fetched when their filter matched the watched script set, though
// a match may be a filter false positive.
type IndexedBlock struct {
	Height uint32
	Block  *types.Block
}

// SyncUpdate reports a completed sync epoch: the chain tip and up to ten
// recent headers, keyed by height. Callers that do not persist headers can
// use the deepest entry as the anchor of their next run.
type SyncUpdate struct {
	Tip           params.Checkpoint
	RecentHistory map[uint32]types.Header
}

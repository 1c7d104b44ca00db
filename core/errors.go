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

import "errors"

var (
	// ErrCorruptedHeaders means persisted headers failed to link on load.
	// The store must be deleted or repaired by the caller.
	ErrCorruptedHeaders = errors.New("persisted headers do not link")

	// ErrUnlinkableAnchor means the configured anchor does not meet the
	// persisted history and the history cannot be trimmed to satisfy it.
	ErrUnlinkableAnchor = errors.New("anchor does not link to persisted history")

	// ErrEmptyBatch rejects header batches with no headers.
	ErrEmptyBatch = errors.New("empty header batch")

	// ErrDiscontinuousBatch rejects batches whose headers do not link to
	// one another.
	ErrDiscontinuousBatch = errors.New("header batch is not contiguous")

	// ErrUnknownPrevious rejects batches that connect to neither the tip
	// nor any recent header.
	ErrUnknownPrevious = errors.New("batch does not connect to the chain")

	// ErrForkTooDeep rejects forks rooted deeper than the reorganization
	// window.
	ErrForkTooDeep = errors.New("fork root below the reorganization window")

	// ErrInvalidPoW rejects headers whose hash does not satisfy their
	// declared target.
	ErrInvalidPoW = errors.New("header does not meet its target")

	// ErrBadDifficulty rejects headers whose declared target violates the
	// difficulty schedule.
	ErrBadDifficulty = errors.New("header declares the wrong difficulty")

	// ErrFilterLinkage rejects filter headers or filters that do not
	// reproduce the committed filter header chain.
	ErrFilterLinkage = errors.New("filter header linkage failure")
)

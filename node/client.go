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

package node

import (
	"errors"

	"github.com/lantern-btc/lantern/core/types"
)

var (
	// ErrNodeStopped completes any command issued to a node that is
	// shutting down or stopped.
	ErrNodeStopped = errors.New("node: stopping or stopped")

	// ErrQueryUnavailable is returned when a query cannot be answered
	// from current state, e.g. no connected peer advertised a feerate.
	ErrQueryUnavailable = errors.New("node: query unavailable")
)

// Commands travel the requester channel with a single-use reply envelope
// each; no correlation identifiers exist anywhere.
type (
	cmdShutdown struct{ done chan error }
	cmdBroadcast struct {
		tx   TxBroadcast
		done chan error
	}
	cmdAddScripts struct {
		scripts [][]byte
		done    chan error
	}
	cmdRescan    struct{ done chan error }
	cmdGetHeader struct {
		height uint32
		reply  chan headerReply
	}
	cmdGetHeaderRange struct {
		start, stop uint32
		reply       chan rangeReply
	}
	cmdMinFeerate struct{ reply chan feeReply }
)

type headerReply struct {
	header types.Header
	err    error
}

type rangeReply struct {
	headers []types.Header
	err     error
}

type feeReply struct {
	rate int64
	err  error
}

// Requester is the caller's command surface. All methods are safe for
// concurrent use; once the node stops, every method except Shutdown and
// IsRunning completes with ErrNodeStopped.
type Requester struct{ n *Node }

// send routes a command to the node task.
func (r *Requester) send(cmd any) error {
	select {
	case <-r.n.quit:
		return ErrNodeStopped
	default:
	}
	select {
	case r.n.commands <- cmd:
		return nil
	case <-r.n.quit:
		return ErrNodeStopped
	}
}

// await blocks until the reply envelope completes or the node stops.
func await[T any](r *Requester, reply chan T, zero T) (T, error) {
	select {
	case res := <-reply:
		return res, nil
	case <-r.n.quit:
		// Drain a reply that raced the stop signal.
		select {
		case res := <-reply:
			return res, nil
		default:
		}
		return zero, ErrNodeStopped
	}
}

// Shutdown stops the node: peers drain, persistence finalizes, the event
// stream drains, and every later command completes with ErrNodeStopped.
// Shutdown itself is idempotent.
func (r *Requester) Shutdown() error {
	done := make(chan error, 1)
	if err := r.send(cmdShutdown{done: done}); err != nil {
		return nil // already stopping
	}
	res, err := await(r, done, nil)
	if err != nil {
		return nil
	}
	return res
}

// Broadcast hands a transaction to the node for relay under the given
// policy. Completion means the broadcast was scheduled, not accepted;
// watch the info stream for InfoTxSent and the warning stream for
// rejections.
func (r *Requester) Broadcast(tx TxBroadcast) error {
	if tx.Tx == nil {
		return errors.New("node: nil transaction")
	}
	done := make(chan error, 1)
	if err := r.send(cmdBroadcast{tx: tx, done: done}); err != nil {
		return err
	}
	res, err := await(r, done, nil)
	if err != nil {
		return err
	}
	return res
}

// AddScript watches one additional output script.
func (r *Requester) AddScript(script []byte) error {
	return r.AddScripts([][]byte{script})
}

// AddScripts watches additional output scripts. Every block between the
// anchor and the tip is re-evaluated against the new scripts exactly once.
func (r *Requester) AddScripts(scripts [][]byte) error {
	done := make(chan error, 1)
	if err := r.send(cmdAddScripts{scripts: scripts, done: done}); err != nil {
		return err
	}
	res, err := await(r, done, nil)
	if err != nil {
		return err
	}
	return res
}

// Rescan restarts the filter scan at the configured anchor.
func (r *Requester) Rescan() error {
	done := make(chan error, 1)
	if err := r.send(cmdRescan{done: done}); err != nil {
		return err
	}
	res, err := await(r, done, nil)
	if err != nil {
		return err
	}
	return res
}

// GetHeader returns the active chain header at the height.
func (r *Requester) GetHeader(height uint32) (types.Header, error) {
	reply := make(chan headerReply, 1)
	if err := r.send(cmdGetHeader{height: height, reply: reply}); err != nil {
		return types.Header{}, err
	}
	res, err := await(r, reply, headerReply{err: ErrNodeStopped})
	if err != nil {
		return types.Header{}, err
	}
	return res.header, res.err
}

// GetHeaderRange returns the active headers with heights in [start, stop).
// A range beyond the tip returns an empty slice and no error.
func (r *Requester) GetHeaderRange(start, stop uint32) ([]types.Header, error) {
	reply := make(chan rangeReply, 1)
	if err := r.send(cmdGetHeaderRange{start: start, stop: stop, reply: reply}); err != nil {
		return nil, err
	}
	res, err := await(r, reply, rangeReply{err: ErrNodeStopped})
	if err != nil {
		return nil, err
	}
	return res.headers, res.err
}

// BroadcastMinFeerate returns the feerate, in sat/kvB, a transaction must
// pay to be relayed by every connected peer.
func (r *Requester) BroadcastMinFeerate() (int64, error) {
	reply := make(chan feeReply, 1)
	if err := r.send(cmdMinFeerate{reply: reply}); err != nil {
		return 0, err
	}
	res, err := await(r, reply, feeReply{err: ErrNodeStopped})
	if err != nil {
		return 0, err
	}
	return res.rate, res.err
}

// IsRunning reports whether the node task is still serving commands.
func (r *Requester) IsRunning() bool {
	return r.n.running.Load()
}
